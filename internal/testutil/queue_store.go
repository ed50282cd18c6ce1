package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/maheshrc27/marketing-dispatch/internal/models"
	"github.com/maheshrc27/marketing-dispatch/internal/repository"
)

// MemoryQueueStore is an in-memory repository.MarketingQueueRepository with the
// same conditional-update semantics as the SQL implementation.
type MemoryQueueStore struct {
	mu      sync.Mutex
	entries map[string]*models.MarketingQueueEntry
	calls   map[string]int

	// Err, when set, is returned by every method.
	Err error
}

var _ repository.MarketingQueueRepository = (*MemoryQueueStore)(nil)

func NewMemoryQueueStore(entries ...*models.MarketingQueueEntry) *MemoryQueueStore {
	s := &MemoryQueueStore{
		entries: make(map[string]*models.MarketingQueueEntry),
		calls:   make(map[string]int),
	}
	for _, e := range entries {
		cp := *e
		s.entries[e.ID] = &cp
	}
	return s
}

// Calls reports how many times a method ran.
func (s *MemoryQueueStore) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

// Entry returns a copy of the stored entry, or nil.
func (s *MemoryQueueStore) Entry(id string) *models.MarketingQueueEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil
	}
	cp := *e
	return &cp
}

func (s *MemoryQueueStore) begin(method string) error {
	s.calls[method]++
	return s.Err
}

func (s *MemoryQueueStore) Create(_ context.Context, e *models.MarketingQueueEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("Create"); err != nil {
		return err
	}
	now := time.Now()
	e.CreatedAt, e.UpdatedAt = now, now
	cp := *e
	s.entries[e.ID] = &cp
	return nil
}

func (s *MemoryQueueStore) GetByID(_ context.Context, id string) (*models.MarketingQueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("GetByID"); err != nil {
		return nil, err
	}
	e, ok := s.entries[id]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (s *MemoryQueueStore) GetByStoreID(_ context.Context, storeID, id string) (*models.MarketingQueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("GetByStoreID"); err != nil {
		return nil, err
	}
	e, ok := s.entries[id]
	if !ok || e.StoreID != storeID {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (s *MemoryQueueStore) ListByStatus(_ context.Context, storeID, status string) ([]*models.MarketingQueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("ListByStatus"); err != nil {
		return nil, err
	}
	var out []*models.MarketingQueueEntry
	for _, e := range s.entries {
		if e.StoreID != storeID || (status != "" && e.Status != status) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// update applies fn to the entry when match accepts it, mirroring a conditional UPDATE.
func (s *MemoryQueueStore) update(method, id string, match func(*models.MarketingQueueEntry) bool, fn func(*models.MarketingQueueEntry)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(method); err != nil {
		return false, err
	}
	e, ok := s.entries[id]
	if !ok || !match(e) {
		return false, nil
	}
	fn(e)
	return true, nil
}

func (s *MemoryQueueStore) Approve(_ context.Context, storeID, id, approvedBy string, at time.Time) (bool, error) {
	return s.update("Approve", id, func(e *models.MarketingQueueEntry) bool {
		return e.StoreID == storeID && e.Status == models.EntryStatusPendingApproval
	}, func(e *models.MarketingQueueEntry) {
		e.Status = models.EntryStatusPending
		e.ApprovedBy = &approvedBy
		e.ApprovedAt = &at
		e.UpdatedAt = at
	})
}

func (s *MemoryQueueStore) RevertApproval(_ context.Context, storeID, id string) error {
	_, err := s.update("RevertApproval", id, func(e *models.MarketingQueueEntry) bool {
		return e.StoreID == storeID && e.Status == models.EntryStatusPending
	}, func(e *models.MarketingQueueEntry) {
		e.Status = models.EntryStatusPendingApproval
		e.ApprovedBy = nil
		e.ApprovedAt = nil
	})
	return err
}

func (s *MemoryQueueStore) Reject(_ context.Context, storeID, id, rejectedBy, reason string, at time.Time) (bool, error) {
	return s.update("Reject", id, func(e *models.MarketingQueueEntry) bool {
		return e.StoreID == storeID && e.Status == models.EntryStatusPendingApproval
	}, func(e *models.MarketingQueueEntry) {
		e.Status = models.EntryStatusRejected
		e.RejectedBy = &rejectedBy
		e.RejectedAt = &at
		if reason != "" {
			e.RejectionReason = &reason
		}
		e.UpdatedAt = at
	})
}

func (s *MemoryQueueStore) Retry(_ context.Context, storeID, id string, at time.Time) (bool, error) {
	return s.update("Retry", id, func(e *models.MarketingQueueEntry) bool {
		return e.StoreID == storeID && e.Status == models.EntryStatusFailed
	}, func(e *models.MarketingQueueEntry) {
		e.Status = models.EntryStatusPending
		e.UpdatedAt = at
	})
}

func (s *MemoryQueueStore) Claim(_ context.Context, id string, now time.Time) (bool, error) {
	return s.update("Claim", id, func(e *models.MarketingQueueEntry) bool {
		return (e.Status == models.EntryStatusPending || e.Status == models.EntryStatusApproved) && e.DueAt(now)
	}, func(e *models.MarketingQueueEntry) {
		e.Status = models.EntryStatusProcessing
		e.ClaimedAt = &now
		e.UpdatedAt = now
	})
}

func (s *MemoryQueueStore) processing(e *models.MarketingQueueEntry) bool {
	return e.Status == models.EntryStatusProcessing
}

func (s *MemoryQueueStore) MarkSent(_ context.Context, id string, at time.Time) error {
	ok, err := s.update("MarkSent", id, s.processing, func(e *models.MarketingQueueEntry) {
		e.Status = models.EntryStatusSent
		e.Error = nil
		e.ClaimedAt = nil
		e.UpdatedAt = at
	})
	if err == nil && !ok {
		return repository.ErrNotProcessing
	}
	return err
}

func (s *MemoryQueueStore) MarkFailed(_ context.Context, id, errMsg string, at time.Time) error {
	ok, err := s.update("MarkFailed", id, s.processing, func(e *models.MarketingQueueEntry) {
		e.Status = models.EntryStatusFailed
		e.Error = &errMsg
		e.Retries++
		e.ClaimedAt = nil
		e.UpdatedAt = at
	})
	if err == nil && !ok {
		return repository.ErrNotProcessing
	}
	return err
}

func (s *MemoryQueueStore) Release(_ context.Context, id, status string, at time.Time) error {
	ok, err := s.update("Release", id, s.processing, func(e *models.MarketingQueueEntry) {
		e.Status = status
		e.ClaimedAt = nil
		e.UpdatedAt = at
	})
	if err == nil && !ok {
		return repository.ErrNotProcessing
	}
	return err
}

func (s *MemoryQueueStore) Delete(_ context.Context, storeID, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("Delete"); err != nil {
		return false, err
	}
	e, ok := s.entries[id]
	if !ok || e.StoreID != storeID || e.Status == models.EntryStatusProcessing {
		return false, nil
	}
	delete(s.entries, id)
	return true, nil
}

func (s *MemoryQueueStore) ListDue(_ context.Context, now time.Time, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("ListDue"); err != nil {
		return nil, err
	}
	var ids []string
	for id, e := range s.entries {
		if (e.Status == models.EntryStatusPending || e.Status == models.EntryStatusApproved) && e.DueAt(now) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (s *MemoryQueueStore) ReclaimStale(_ context.Context, claimedBefore, at time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("ReclaimStale"); err != nil {
		return nil, err
	}
	var ids []string
	for id, e := range s.entries {
		if e.Status == models.EntryStatusProcessing && e.ClaimedAt != nil && e.ClaimedAt.Before(claimedBefore) {
			e.Status = models.EntryStatusPending
			e.ClaimedAt = nil
			e.UpdatedAt = at
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
