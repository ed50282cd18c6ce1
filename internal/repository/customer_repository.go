package repository

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/lib/pq"
	"github.com/maheshrc27/marketing-dispatch/internal/models"
)

type CustomerRepository interface {
	ListOptedIn(ctx context.Context, storeID string) ([]*models.Customer, error)
}

type customerRepository struct {
	db *sql.DB
}

func NewCustomerRepository(db *sql.DB) CustomerRepository {
	return &customerRepository{db: db}
}

// ListOptedIn returns customers who accepted WhatsApp marketing and have a number on file.
func (r *customerRepository) ListOptedIn(ctx context.Context, storeID string) ([]*models.Customer, error) {
	query := `
		SELECT id, store_id, name, mobile_number, whatsapp_opt_in
		FROM customers
		WHERE store_id = $1
			AND whatsapp_opt_in = true
			AND mobile_number IS NOT NULL
			AND mobile_number <> ''
		ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, query, storeID)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var customers []*models.Customer
	for rows.Next() {
		var c models.Customer
		var name sql.NullString
		if err := rows.Scan(&c.ID, &c.StoreID, &name, &c.MobileNumber, &c.WhatsAppOptIn); err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		c.Name = name.String
		customers = append(customers, &c)
	}
	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return customers, nil
}

type ProductRepository interface {
	GetByID(ctx context.Context, storeID, id string) (*models.Product, error)
}

type productRepository struct {
	db *sql.DB
}

func NewProductRepository(db *sql.DB) ProductRepository {
	return &productRepository{db: db}
}

func (r *productRepository) GetByID(ctx context.Context, storeID, id string) (*models.Product, error) {
	query := `
		SELECT id, store_id, name, image_urls
		FROM products
		WHERE id = $1 AND store_id = $2
	`

	var p models.Product
	err := r.db.QueryRowContext(ctx, query, id, storeID).Scan(
		&p.ID,
		&p.StoreID,
		&p.Name,
		pq.Array(&p.ImageURLs),
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}

	return &p, nil
}
