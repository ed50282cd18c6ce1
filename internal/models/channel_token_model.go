package models

import (
	"time"
)

type ChannelToken struct {
	ID            int64      `db:"id" json:"id"`
	StoreID       string     `db:"store_id" json:"store_id"`
	Platform      string     `db:"platform" json:"platform"`
	AccountID     string     `db:"account_id" json:"account_id,omitempty"`
	LongToken     string     `db:"long_token" json:"-"`
	ShortToken    string     `db:"short_token" json:"-"`
	TokenExpiry   *time.Time `db:"token_expiry" json:"token_expiry,omitempty"`
	RefreshStatus string     `db:"refresh_status" json:"refresh_status"`
	LastRefreshAt *time.Time `db:"last_refresh_at" json:"last_refresh_at,omitempty"`
	RefreshError  *string    `db:"refresh_error" json:"refresh_error,omitempty"`
	IsActive      bool       `db:"is_active" json:"is_active"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

const (
	PlatformWhatsApp  = "whatsapp"
	PlatformInstagram = "instagram"
	PlatformFacebook  = "facebook"
)

const (
	RefreshStatusValid      = "valid"
	RefreshStatusExpired    = "expired"
	RefreshStatusRefreshing = "refreshing"
	RefreshStatusFailed     = "failed"
)

func ValidPlatform(platform string) bool {
	switch platform {
	case PlatformWhatsApp, PlatformInstagram, PlatformFacebook:
		return true
	}
	return false
}

// ExpiresWithin reports whether the token expires before now+margin.
// Tokens without an expiry never do.
func (t *ChannelToken) ExpiresWithin(now time.Time, margin time.Duration) bool {
	if t.TokenExpiry == nil {
		return false
	}
	return t.TokenExpiry.Sub(now) < margin
}

func (t *ChannelToken) ExpiredAt(now time.Time) bool {
	return t.TokenExpiry != nil && !t.TokenExpiry.After(now)
}
