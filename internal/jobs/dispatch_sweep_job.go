package job

import (
	"context"
	"log/slog"
	"time"

	"github.com/maheshrc27/marketing-dispatch/internal/repository"
	"github.com/maheshrc27/marketing-dispatch/internal/service"
)

const dueBatchSize = 500

// DispatchSweepJob is the safety net around the work queue: it re-enqueues due
// entries whose task was lost and hands stale processing entries back.
type DispatchSweepJob struct {
	entries    repository.MarketingQueueRepository
	queue      service.EntryEnqueuer
	staleAfter time.Duration
	now        func() time.Time
}

func NewDispatchSweepJob(
	entries repository.MarketingQueueRepository,
	queue service.EntryEnqueuer,
	staleAfter time.Duration) *DispatchSweepJob {
	return &DispatchSweepJob{
		entries:    entries,
		queue:      queue,
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

func (j *DispatchSweepJob) EnqueueDueEntries() {
	ctx := context.Background()

	ids, err := j.entries.ListDue(ctx, j.now(), dueBatchSize)
	if err != nil {
		slog.Info(err.Error())
		return
	}
	j.enqueue(ctx, ids)
}

func (j *DispatchSweepJob) ReclaimStaleEntries() {
	ctx := context.Background()
	now := j.now()

	ids, err := j.entries.ReclaimStale(ctx, now.Add(-j.staleAfter), now)
	if err != nil {
		slog.Info(err.Error())
		return
	}
	if len(ids) > 0 {
		slog.Warn("reclaimed stale processing entries", slog.Int("count", len(ids)))
	}
	j.enqueue(ctx, ids)
}

func (j *DispatchSweepJob) enqueue(ctx context.Context, ids []string) {
	for _, id := range ids {
		if err := j.queue.Enqueue(ctx, id, nil); err != nil {
			slog.Error("failed to enqueue entry",
				slog.String("entry_id", id),
				slog.Any("error", err))
		}
	}
}
