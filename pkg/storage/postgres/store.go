// Package postgres provides PostgreSQL storage for the client key/value store.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/txn2/academy-client/pkg/storage"
)

const (
	storeTable       = "client_store"
	defaultNamespace = "default"
)

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Config configures the PostgreSQL store.
type Config struct {
	// Namespace isolates one client's keys from others sharing the table.
	Namespace string
}

// Store implements storage.Store using PostgreSQL.
type Store struct {
	db        *sql.DB
	namespace string
}

// New creates a new PostgreSQL store. The schema is expected to exist;
// see pkg/database/migrate.
func New(db *sql.DB, cfg Config) *Store {
	if cfg.Namespace == "" {
		cfg.Namespace = defaultNamespace
	}
	return &Store{
		db:        db,
		namespace: cfg.Namespace,
	}
}

// Get retrieves the value stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	query, args, err := psq.Select("store_value").
		From(storeTable).
		Where("namespace = ?", s.namespace).
		Where("store_key = ?", key).
		ToSql()
	if err != nil {
		return nil, false, fmt.Errorf("building get query: %w", err)
	}

	var value []byte
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("querying store value: %w", err)
	}
	return value, true, nil
}

// Set upserts value under key.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	query := `
		INSERT INTO client_store (namespace, store_key, store_value, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (namespace, store_key)
		DO UPDATE SET store_value = EXCLUDED.store_value, updated_at = NOW()
	`
	if _, err := s.db.ExecContext(ctx, query, s.namespace, key, value); err != nil {
		return fmt.Errorf("upserting store value: %w", err)
	}
	return nil
}

// Remove deletes key.
func (s *Store) Remove(ctx context.Context, key string) error {
	query, args, err := psq.Delete(storeTable).
		Where("namespace = ?", s.namespace).
		Where("store_key = ?", key).
		ToSql()
	if err != nil {
		return fmt.Errorf("building delete query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("deleting store value: %w", err)
	}
	return nil
}

// Keys returns all keys in the namespace in ascending order.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	query, args, err := psq.Select("store_key").
		From(storeTable).
		Where("namespace = ?", s.namespace).
		OrderBy("store_key").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building keys query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying store keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scanning store key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating store keys: %w", err)
	}
	return keys, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Verify interface compliance.
var _ storage.Store = (*Store)(nil)
