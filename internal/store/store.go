package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"pickup-service/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

//go:embed schema.sql
var schemaSQL string

// ErrNotFound is returned when a looked-up row does not exist
var ErrNotFound = errors.New("not found")

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

// NewWithDB wraps an existing connection
func NewWithDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// GetStoreBySlug retrieves a store by its public slug
func (s *Store) GetStoreBySlug(ctx context.Context, slug string) (*models.Store, error) {
	var st models.Store
	err := s.db.GetContext(ctx, &st, "SELECT * FROM stores WHERE slug = $1", slug)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("store %s: %w", slug, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// GetStoreByID retrieves a store by ID
func (s *Store) GetStoreByID(ctx context.Context, id string) (*models.Store, error) {
	var st models.Store
	err := s.db.GetContext(ctx, &st, "SELECT * FROM stores WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("store %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// GetMenuItems retrieves all menu items of a store
func (s *Store) GetMenuItems(ctx context.Context, storeID string) ([]models.MenuItem, error) {
	var items []models.MenuItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM menu_items WHERE store_id = $1 ORDER BY sort_order, name", storeID)
	return items, err
}

// GetAvailableMenuItemsByIDs retrieves the available items of a store among ids
func (s *Store) GetAvailableMenuItemsByIDs(ctx context.Context, storeID string, ids []string) ([]models.MenuItem, error) {
	if len(ids) == 0 {
		return []models.MenuItem{}, nil
	}

	query, args, err := sqlx.In(
		"SELECT * FROM menu_items WHERE store_id = ? AND is_available = TRUE AND id IN (?)", storeID, ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var items []models.MenuItem
	err = s.db.SelectContext(ctx, &items, query, args...)
	return items, err
}

// GetStaffUserByUsername retrieves a staff credential
func (s *Store) GetStaffUserByUsername(ctx context.Context, username string) (*models.StaffUser, error) {
	var u models.StaffUser
	err := s.db.GetContext(ctx, &u, "SELECT * FROM staff_users WHERE username = $1", username)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("staff user %s: %w", username, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
