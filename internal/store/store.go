package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"storefront/internal/apperr"
	"storefront/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// ListInventory retrieves all inventory rows, used to seed the redis
// stock mirror at startup.
func (s *Store) ListInventory(ctx context.Context) ([]models.Inventory, error) {
	var entries []models.Inventory
	err := s.db.SelectContext(ctx, &entries, "SELECT * FROM inventory ORDER BY product_id")
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStore, "list inventory", err)
	}
	return entries, nil
}

// GetInventory retrieves inventory for a product
func (s *Store) GetInventory(ctx context.Context, productID int64) (*models.Inventory, error) {
	var inv models.Inventory
	err := s.db.GetContext(ctx, &inv, "SELECT * FROM inventory WHERE product_id = $1", productID)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound(fmt.Sprintf("inventory not found for product %d", productID))
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStore, "get inventory", err)
	}
	return &inv, nil
}
