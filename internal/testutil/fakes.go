package testutil

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/maheshrc27/marketing-dispatch/internal/models"
	"github.com/maheshrc27/marketing-dispatch/internal/repository"
)

// FakeEnqueuer records enqueued entry ids. Err, when set, fails every call.
type FakeEnqueuer struct {
	mu  sync.Mutex
	IDs []string
	At  map[string]*time.Time
	Err error
}

func (q *FakeEnqueuer) Enqueue(_ context.Context, entryID string, processAt *time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.Err != nil {
		return q.Err
	}
	if q.At == nil {
		q.At = make(map[string]*time.Time)
	}
	q.IDs = append(q.IDs, entryID)
	q.At[entryID] = processAt
	return nil
}

func (q *FakeEnqueuer) Enqueued() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.IDs...)
}

type FakeCustomerRepository struct {
	Customers []*models.Customer
	Err       error
}

func (r *FakeCustomerRepository) ListOptedIn(_ context.Context, storeID string) ([]*models.Customer, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	var out []*models.Customer
	for _, c := range r.Customers {
		if c.StoreID == storeID && c.WhatsAppOptIn && c.MobileNumber != "" {
			out = append(out, c)
		}
	}
	return out, nil
}

type FakeProductRepository struct {
	Products map[string]*models.Product
	Err      error
}

func (r *FakeProductRepository) GetByID(_ context.Context, storeID, id string) (*models.Product, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	p, ok := r.Products[id]
	if !ok || p.StoreID != storeID {
		return nil, nil
	}
	return p, nil
}

type FakeDeliveryLogRepository struct {
	mu   sync.Mutex
	Logs []*models.DeliveryLog
}

func (r *FakeDeliveryLogRepository) CreateBatch(_ context.Context, logs []*models.DeliveryLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Logs = append(r.Logs, logs...)
	return nil
}

func (r *FakeDeliveryLogRepository) ListByEntryID(_ context.Context, storeID, entryID string) ([]*models.DeliveryLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.DeliveryLog
	for _, l := range r.Logs {
		if l.StoreID == storeID && l.EntryID == entryID {
			out = append(out, l)
		}
	}
	return out, nil
}

// MemoryTokenStore is an in-memory repository.ChannelTokenRepository.
type MemoryTokenStore struct {
	mu     sync.Mutex
	nextID int64
	tokens map[int64]*models.ChannelToken
	// Statuses records every refresh_status written, in order.
	Statuses []string
	// SetTokenErr, when set, fails every SetToken call.
	SetTokenErr error
}

var _ repository.ChannelTokenRepository = (*MemoryTokenStore)(nil)

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{tokens: make(map[int64]*models.ChannelToken)}
}

func (s *MemoryTokenStore) find(storeID, platform string) *models.ChannelToken {
	for _, t := range s.tokens {
		if t.StoreID == storeID && t.Platform == platform && t.IsActive {
			return t
		}
	}
	return nil
}

func (s *MemoryTokenStore) Upsert(_ context.Context, _ *sql.Tx, t *models.ChannelToken) (int64, error) {
	return s.upsert(t), nil
}

func (s *MemoryTokenStore) upsert(t *models.ChannelToken) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing := s.find(t.StoreID, t.Platform); existing != nil {
		t.ID = existing.ID
	} else {
		s.nextID++
		t.ID = s.nextID
	}
	t.IsActive = true
	if t.RefreshStatus == "" {
		t.RefreshStatus = models.RefreshStatusValid
	}
	cp := *t
	s.tokens[t.ID] = &cp
	return t.ID
}

// Put stores a token record as-is and returns its id.
func (s *MemoryTokenStore) Put(t *models.ChannelToken) int64 {
	return s.upsert(t)
}

func (s *MemoryTokenStore) Get(id int64) *models.ChannelToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[id]
	if !ok {
		return nil
	}
	cp := *t
	return &cp
}

func (s *MemoryTokenStore) GetByStorePlatform(_ context.Context, storeID, platform string) (*models.ChannelToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.find(storeID, platform)
	if t == nil {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryTokenStore) ListExpiring(_ context.Context, before time.Time) ([]*models.ChannelToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.ChannelToken
	for _, t := range s.tokens {
		if t.IsActive && t.TokenExpiry != nil && t.TokenExpiry.Before(before) {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryTokenStore) SetRefreshStatus(_ context.Context, id int64, status string, refreshErr *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[id]
	if !ok {
		return errors.New("token not found")
	}
	t.RefreshStatus = status
	t.RefreshError = refreshErr
	s.Statuses = append(s.Statuses, status)
	return nil
}

func (s *MemoryTokenStore) SetToken(_ context.Context, id int64, oldLongToken string, next *models.ChannelToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SetTokenErr != nil {
		return s.SetTokenErr
	}
	t, ok := s.tokens[id]
	if !ok || t.LongToken != oldLongToken {
		return repository.ErrTokenChanged
	}
	if next.LongToken != "" {
		t.LongToken = next.LongToken
	}
	if next.TokenExpiry != nil {
		t.TokenExpiry = next.TokenExpiry
	}
	t.RefreshStatus = models.RefreshStatusValid
	t.RefreshError = nil
	t.LastRefreshAt = next.LastRefreshAt
	s.Statuses = append(s.Statuses, models.RefreshStatusValid)
	return nil
}

func (s *MemoryTokenStore) Remove(_ context.Context, storeID, platform string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t := s.find(storeID, platform); t != nil {
		t.IsActive = false
	}
	return nil
}
