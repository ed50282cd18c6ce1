package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/maheshrc27/marketing-dispatch/internal/apperrors"
	"github.com/maheshrc27/marketing-dispatch/internal/models"
	"github.com/maheshrc27/marketing-dispatch/internal/repository"
	"github.com/maheshrc27/marketing-dispatch/internal/transfer"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// EntryEnqueuer hands entry ids to the dispatch worker's intake.
type EntryEnqueuer interface {
	Enqueue(ctx context.Context, entryID string, processAt *time.Time) error
}

// MarketingService is the approval gate in front of the marketing queue.
type MarketingService interface {
	Create(ctx context.Context, storeID string, req *transfer.CreateEntryRequest) (*models.MarketingQueueEntry, error)
	ListPending(ctx context.Context, storeID string) ([]*models.MarketingQueueEntry, error)
	List(ctx context.Context, storeID, status string) ([]*models.MarketingQueueEntry, error)
	Get(ctx context.Context, storeID, entryID string) (*models.MarketingQueueEntry, error)
	Approve(ctx context.Context, storeID, entryID, userID string) (*models.MarketingQueueEntry, error)
	Reject(ctx context.Context, storeID, entryID, userID, reason string) (*models.MarketingQueueEntry, error)
	Retry(ctx context.Context, storeID, entryID string) (*models.MarketingQueueEntry, error)
	Delete(ctx context.Context, storeID, entryID string) error
	Deliveries(ctx context.Context, storeID, entryID string) ([]*models.DeliveryLog, error)
}

type marketingService struct {
	entries repository.MarketingQueueRepository
	logs    repository.DeliveryLogRepository
	queue   EntryEnqueuer
	now     func() time.Time
}

func NewMarketingService(entries repository.MarketingQueueRepository, logs repository.DeliveryLogRepository, queue EntryEnqueuer) MarketingService {
	return &marketingService{
		entries: entries,
		logs:    logs,
		queue:   queue,
		now:     time.Now,
	}
}

func (s *marketingService) Create(ctx context.Context, storeID string, req *transfer.CreateEntryRequest) (*models.MarketingQueueEntry, error) {
	entryType := strings.TrimSpace(req.Type)
	if entryType == "" {
		return nil, apperrors.NewValidation("type", "type is required")
	}

	payload, err := models.ParsePayload(entryType, req.Payload)
	if err != nil {
		return nil, apperrors.NewValidation("payload", err.Error())
	}
	if err := payload.Validate(); err != nil {
		return nil, apperrors.NewValidation("payload", err.Error())
	}

	id, err := gonanoid.New()
	if err != nil {
		return nil, err
	}

	requiresApproval := true
	if req.RequiresApproval != nil {
		requiresApproval = *req.RequiresApproval
	}
	status := models.EntryStatusPending
	if requiresApproval {
		status = models.EntryStatusPendingApproval
	}

	entry := &models.MarketingQueueEntry{
		ID:               id,
		StoreID:          storeID,
		Type:             entryType,
		Payload:          req.Payload,
		ScheduledAt:      req.ScheduledAt,
		RequiresApproval: requiresApproval,
		SendWhatsApp:     req.SendWhatsApp,
		SendInstagram:    req.SendInstagram,
		Status:           status,
	}
	if err := s.entries.Create(ctx, entry); err != nil {
		return nil, apperrors.NewPersistence("create entry", err)
	}

	if status == models.EntryStatusPending {
		// A failed enqueue leaves the entry pending; the due-entry sweep picks it up.
		if err := s.queue.Enqueue(ctx, entry.ID, entry.ScheduledAt); err != nil {
			slog.Warn("enqueue new entry failed",
				slog.String("entry_id", entry.ID),
				slog.String("store_id", storeID),
				slog.Any("error", err))
		}
	}

	return entry, nil
}

func (s *marketingService) ListPending(ctx context.Context, storeID string) ([]*models.MarketingQueueEntry, error) {
	return s.List(ctx, storeID, models.EntryStatusPendingApproval)
}

func (s *marketingService) List(ctx context.Context, storeID, status string) ([]*models.MarketingQueueEntry, error) {
	if status != "" && !models.ValidEntryStatus(status) {
		return nil, apperrors.NewValidation("status", "unknown status "+status)
	}
	entries, err := s.entries.ListByStatus(ctx, storeID, status)
	if err != nil {
		return nil, apperrors.NewPersistence("list entries", err)
	}
	if entries == nil {
		entries = []*models.MarketingQueueEntry{}
	}
	return entries, nil
}

func (s *marketingService) Get(ctx context.Context, storeID, entryID string) (*models.MarketingQueueEntry, error) {
	entry, err := s.entries.GetByStoreID(ctx, storeID, entryID)
	if err != nil {
		return nil, apperrors.NewPersistence("get entry", err)
	}
	if entry == nil {
		return nil, apperrors.NewNotFound("entry", entryID)
	}
	return entry, nil
}

// approvalSettled lists statuses for which another approve is a no-op.
func approvalSettled(status string) bool {
	switch status {
	case models.EntryStatusPending, models.EntryStatusApproved, models.EntryStatusProcessing, models.EntryStatusSent:
		return true
	}
	return false
}

func (s *marketingService) Approve(ctx context.Context, storeID, entryID, userID string) (*models.MarketingQueueEntry, error) {
	entry, err := s.Get(ctx, storeID, entryID)
	if err != nil {
		return nil, err
	}
	if approvalSettled(entry.Status) {
		return entry, nil
	}
	if entry.Status != models.EntryStatusPendingApproval {
		return nil, apperrors.NewInvalidState(entryID, entry.Status, "approve")
	}

	now := s.now()
	ok, err := s.entries.Approve(ctx, storeID, entryID, userID, now)
	if err != nil {
		return nil, apperrors.NewPersistence("approve entry", err)
	}
	if !ok {
		// Lost a race with another approve, reject or delete.
		current, err := s.Get(ctx, storeID, entryID)
		if err != nil {
			return nil, err
		}
		if approvalSettled(current.Status) {
			return current, nil
		}
		return nil, apperrors.NewInvalidState(entryID, current.Status, "approve")
	}

	if err := s.queue.Enqueue(ctx, entryID, entry.ScheduledAt); err != nil {
		slog.Error("enqueue approved entry failed, reverting approval",
			slog.String("entry_id", entryID),
			slog.String("store_id", storeID),
			slog.Any("error", err))
		if rerr := s.entries.RevertApproval(ctx, storeID, entryID); rerr != nil {
			slog.Error("revert approval failed",
				slog.String("entry_id", entryID),
				slog.Any("error", rerr))
		}
		return nil, apperrors.NewPersistence("enqueue entry", err)
	}

	entry.Status = models.EntryStatusPending
	entry.ApprovedBy = &userID
	entry.ApprovedAt = &now
	entry.UpdatedAt = now
	return entry, nil
}

func (s *marketingService) Reject(ctx context.Context, storeID, entryID, userID, reason string) (*models.MarketingQueueEntry, error) {
	entry, err := s.Get(ctx, storeID, entryID)
	if err != nil {
		return nil, err
	}
	if entry.Status != models.EntryStatusPendingApproval {
		return nil, apperrors.NewInvalidState(entryID, entry.Status, "reject")
	}

	now := s.now()
	reason = strings.TrimSpace(reason)
	ok, err := s.entries.Reject(ctx, storeID, entryID, userID, reason, now)
	if err != nil {
		return nil, apperrors.NewPersistence("reject entry", err)
	}
	if !ok {
		current, err := s.Get(ctx, storeID, entryID)
		if err != nil {
			return nil, err
		}
		return nil, apperrors.NewInvalidState(entryID, current.Status, "reject")
	}

	entry.Status = models.EntryStatusRejected
	entry.RejectedBy = &userID
	entry.RejectedAt = &now
	if reason != "" {
		entry.RejectionReason = &reason
	}
	entry.UpdatedAt = now
	return entry, nil
}

// Retry sends a failed entry back through the worker.
func (s *marketingService) Retry(ctx context.Context, storeID, entryID string) (*models.MarketingQueueEntry, error) {
	entry, err := s.Get(ctx, storeID, entryID)
	if err != nil {
		return nil, err
	}
	if entry.Status != models.EntryStatusFailed {
		return nil, apperrors.NewInvalidState(entryID, entry.Status, "retry")
	}

	now := s.now()
	ok, err := s.entries.Retry(ctx, storeID, entryID, now)
	if err != nil {
		return nil, apperrors.NewPersistence("retry entry", err)
	}
	if !ok {
		current, err := s.Get(ctx, storeID, entryID)
		if err != nil {
			return nil, err
		}
		return nil, apperrors.NewInvalidState(entryID, current.Status, "retry")
	}

	if err := s.queue.Enqueue(ctx, entryID, nil); err != nil {
		slog.Warn("enqueue retried entry failed",
			slog.String("entry_id", entryID),
			slog.Any("error", err))
	}

	entry.Status = models.EntryStatusPending
	entry.UpdatedAt = now
	return entry, nil
}

func (s *marketingService) Delete(ctx context.Context, storeID, entryID string) error {
	entry, err := s.Get(ctx, storeID, entryID)
	if err != nil {
		return err
	}
	if entry.Status == models.EntryStatusProcessing {
		return apperrors.NewInvalidState(entryID, entry.Status, "delete")
	}

	ok, err := s.entries.Delete(ctx, storeID, entryID)
	if err != nil {
		return apperrors.NewPersistence("delete entry", err)
	}
	if !ok {
		current, err := s.Get(ctx, storeID, entryID)
		if err != nil {
			return err
		}
		return apperrors.NewInvalidState(entryID, current.Status, "delete")
	}
	return nil
}

// Deliveries lists the per-recipient attempts recorded for an entry.
func (s *marketingService) Deliveries(ctx context.Context, storeID, entryID string) ([]*models.DeliveryLog, error) {
	if _, err := s.Get(ctx, storeID, entryID); err != nil {
		return nil, err
	}
	logs, err := s.logs.ListByEntryID(ctx, storeID, entryID)
	if err != nil {
		return nil, apperrors.NewPersistence("list delivery logs", err)
	}
	if logs == nil {
		logs = []*models.DeliveryLog{}
	}
	return logs, nil
}
