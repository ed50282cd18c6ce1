package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisEnqueuer(t *testing.T) (*Enqueuer, *asynq.Inspector) {
	t.Helper()
	mr := miniredis.RunT(t)
	opt := asynq.RedisClientOpt{Addr: mr.Addr()}

	client := asynq.NewClient(opt)
	t.Cleanup(func() { client.Close() })
	inspector := asynq.NewInspector(opt)
	t.Cleanup(func() { inspector.Close() })

	return NewEnqueuer(client, inspector, 3), inspector
}

func TestEnqueueLiveTaskIsNoop(t *testing.T) {
	e, inspector := newRedisEnqueuer(t)
	ctx := context.Background()

	require.NoError(t, e.Enqueue(ctx, "e1", nil))
	require.NoError(t, e.Enqueue(ctx, "e1", nil))

	pending, err := inspector.ListPendingTasks(QueueName)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "e1", pending[0].ID)
	assert.Equal(t, 3, pending[0].MaxRetry)
}

func TestEnqueueReplacesArchivedTask(t *testing.T) {
	e, inspector := newRedisEnqueuer(t)
	ctx := context.Background()

	require.NoError(t, e.Enqueue(ctx, "e1", nil))
	require.NoError(t, inspector.ArchiveTask(QueueName, "e1"))

	require.NoError(t, e.Enqueue(ctx, "e1", nil))

	info, err := inspector.GetTaskInfo(QueueName, "e1")
	require.NoError(t, err)
	assert.Equal(t, asynq.TaskStatePending, info.State)

	archived, err := inspector.ListArchivedTasks(QueueName)
	require.NoError(t, err)
	assert.Empty(t, archived)
}

func TestEnqueueScheduledEntry(t *testing.T) {
	e, inspector := newRedisEnqueuer(t)

	at := time.Now().Add(time.Hour)
	require.NoError(t, e.Enqueue(context.Background(), "e1", &at))

	info, err := inspector.GetTaskInfo(QueueName, "e1")
	require.NoError(t, err)
	assert.Equal(t, asynq.TaskStateScheduled, info.State)
	assert.WithinDuration(t, at, info.NextProcessAt, time.Second)
}
