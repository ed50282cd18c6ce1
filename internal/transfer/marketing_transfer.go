package transfer

import (
	"encoding/json"
	"time"
)

type CreateEntryRequest struct {
	Type             string          `json:"type"`
	Payload          json.RawMessage `json:"payload"`
	ScheduledAt      *time.Time      `json:"scheduled_at"`
	RequiresApproval *bool           `json:"requires_approval"`
	SendWhatsApp     bool            `json:"send_whatsapp"`
	SendInstagram    bool            `json:"send_instagram"`
}

type RejectEntryRequest struct {
	Reason string `json:"reason"`
}

type SaveTokenRequest struct {
	Platform    string     `json:"platform"`
	AccountID   string     `json:"account_id"`
	LongToken   string     `json:"long_token"`
	ShortToken  string     `json:"short_token"`
	TokenExpiry *time.Time `json:"token_expiry"`
}

type TokenInfoResponse struct {
	Platform      string     `json:"platform"`
	AccountID     string     `json:"account_id,omitempty"`
	TokenExpiry   *time.Time `json:"token_expiry,omitempty"`
	RefreshStatus string     `json:"refresh_status"`
	LastRefreshAt *time.Time `json:"last_refresh_at,omitempty"`
	RefreshError  *string    `json:"refresh_error,omitempty"`
	IsActive      bool       `json:"is_active"`
}
