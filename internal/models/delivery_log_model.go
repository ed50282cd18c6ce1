package models

import "time"

type DeliveryLog struct {
	ID           string    `db:"id" json:"id"`
	EntryID      string    `db:"entry_id" json:"entry_id"`
	StoreID      string    `db:"store_id" json:"store_id"`
	Channel      string    `db:"channel" json:"channel"`
	Recipient    string    `db:"recipient" json:"recipient"`
	ProviderID   string    `db:"provider_id" json:"provider_id"`
	ErrorMessage string    `db:"error_message" json:"error_message"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}
