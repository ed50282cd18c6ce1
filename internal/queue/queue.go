package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// TaskInspector is the part of asynq.Inspector the enqueuer needs to clear
// finished tasks that still hold an entry's task id.
type TaskInspector interface {
	GetTaskInfo(queue, id string) (*asynq.TaskInfo, error)
	DeleteTask(queue, id string) error
}

// Enqueuer hands entry ids to asynq. The entry id doubles as the task id, so
// enqueueing an entry that already has a live task is a no-op. An archived or
// completed task under the same id is deleted and the entry enqueued again.
type Enqueuer struct {
	client    *asynq.Client
	inspector TaskInspector
	maxRetry  int
	now       func() time.Time
}

func NewEnqueuer(client *asynq.Client, inspector TaskInspector, maxRetry int) *Enqueuer {
	return &Enqueuer{client: client, inspector: inspector, maxRetry: maxRetry, now: time.Now}
}

func (e *Enqueuer) Enqueue(ctx context.Context, entryID string, processAt *time.Time) error {
	taskPayload, err := json.Marshal(DispatchEntryPayload{EntryID: entryID})
	if err != nil {
		return err
	}

	opts := []asynq.Option{
		asynq.TaskID(entryID),
		asynq.Queue(QueueName),
		asynq.MaxRetry(e.maxRetry),
	}
	if processAt != nil && processAt.After(e.now()) {
		opts = append(opts, asynq.ProcessAt(*processAt))
	}

	task := asynq.NewTask(TaskTypeDispatchEntry, taskPayload)
	info, err := e.client.EnqueueContext(ctx, task, opts...)
	if isConflict(err) {
		cleared, cerr := e.clearFinished(entryID)
		if cerr != nil {
			return cerr
		}
		if !cleared {
			slog.Debug("entry already queued", slog.String("entry_id", entryID))
			return nil
		}
		info, err = e.client.EnqueueContext(ctx, task, opts...)
		if isConflict(err) {
			return nil
		}
	}
	if err != nil {
		return err
	}

	slog.Info("entry queued",
		slog.String("entry_id", entryID),
		slog.String("task_id", info.ID),
		slog.Time("process_at", info.NextProcessAt))
	return nil
}

func isConflict(err error) bool {
	return errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask)
}

// clearFinished deletes the task holding entryID if it will never run again.
// It reports whether the id is free for a new task.
func (e *Enqueuer) clearFinished(entryID string) (bool, error) {
	if e.inspector == nil {
		return false, nil
	}
	info, err := e.inspector.GetTaskInfo(QueueName, entryID)
	if errors.Is(err, asynq.ErrTaskNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("inspect task %s: %w", entryID, err)
	}
	if info.State != asynq.TaskStateArchived && info.State != asynq.TaskStateCompleted {
		return false, nil
	}

	if err := e.inspector.DeleteTask(QueueName, entryID); err != nil && !errors.Is(err, asynq.ErrTaskNotFound) {
		return false, fmt.Errorf("delete %s task %s: %w", info.State, entryID, err)
	}
	slog.Info("cleared finished task for re-enqueue",
		slog.String("entry_id", entryID),
		slog.String("state", info.State.String()))
	return true, nil
}
