package models

// Customer carries only what the dispatch pipeline reads.
type Customer struct {
	ID            string `db:"id" json:"id"`
	StoreID       string `db:"store_id" json:"store_id"`
	Name          string `db:"name" json:"name"`
	MobileNumber  string `db:"mobile_number" json:"mobile_number"`
	WhatsAppOptIn bool   `db:"whatsapp_opt_in" json:"whatsapp_opt_in"`
}

type Product struct {
	ID        string   `db:"id" json:"id"`
	StoreID   string   `db:"store_id" json:"store_id"`
	Name      string   `db:"name" json:"name"`
	ImageURLs []string `db:"image_urls" json:"image_urls"`
}
