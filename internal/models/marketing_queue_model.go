package models

import (
	"encoding/json"
	"time"
)

type MarketingQueueEntry struct {
	ID               string          `db:"id" json:"id"`
	StoreID          string          `db:"store_id" json:"store_id"`
	Type             string          `db:"type" json:"type"`
	Payload          json.RawMessage `db:"payload" json:"payload"`
	ScheduledAt      *time.Time      `db:"scheduled_at" json:"scheduled_at,omitempty"`
	RequiresApproval bool            `db:"requires_approval" json:"requires_approval"`
	SendWhatsApp     bool            `db:"send_whatsapp" json:"send_whatsapp"`
	SendInstagram    bool            `db:"send_instagram" json:"send_instagram"`
	Status           string          `db:"status" json:"status"`
	ApprovedBy       *string         `db:"approved_by" json:"approved_by,omitempty"`
	ApprovedAt       *time.Time      `db:"approved_at" json:"approved_at,omitempty"`
	RejectedBy       *string         `db:"rejected_by" json:"rejected_by,omitempty"`
	RejectedAt       *time.Time      `db:"rejected_at" json:"rejected_at,omitempty"`
	RejectionReason  *string         `db:"rejection_reason" json:"rejection_reason,omitempty"`
	Retries          int             `db:"retries" json:"retries"`
	Error            *string         `db:"error" json:"error,omitempty"`
	ClaimedAt        *time.Time      `db:"claimed_at" json:"claimed_at,omitempty"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

const (
	EntryStatusPendingApproval = "pending_approval"
	EntryStatusPending         = "pending"
	EntryStatusProcessing      = "processing"
	EntryStatusApproved        = "approved"
	EntryStatusSent            = "sent"
	EntryStatusRejected        = "rejected"
	EntryStatusFailed          = "failed"
)

func ValidEntryStatus(status string) bool {
	switch status {
	case EntryStatusPendingApproval, EntryStatusPending, EntryStatusProcessing, EntryStatusApproved,
		EntryStatusSent, EntryStatusRejected, EntryStatusFailed:
		return true
	}
	return false
}

// IsApproved reports whether a human signed off on the entry.
func (e *MarketingQueueEntry) IsApproved() bool {
	return e.ApprovedAt != nil
}

// DueAt reports whether the entry may be dispatched at now.
func (e *MarketingQueueEntry) DueAt(now time.Time) bool {
	return e.ScheduledAt == nil || !e.ScheduledAt.After(now)
}

// InstagramAllowed is the approval gate for publishing.
func (e *MarketingQueueEntry) InstagramAllowed() bool {
	return !e.RequiresApproval || e.IsApproved()
}
