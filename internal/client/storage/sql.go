package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SQLBackend stores one tier in the kv_store table. The queries use
// numbered placeholders and ON CONFLICT upserts, which both PostgreSQL and
// SQLite accept.
type SQLBackend struct {
	// DB is the database handle; the schema is created by db.Open.
	DB *sql.DB
	// Tier partitions rows so both tiers can share one table.
	Tier string
}

// NewSQLBackend creates a SQLBackend for tier.
func NewSQLBackend(db *sql.DB, tier string) *SQLBackend {
	return &SQLBackend{DB: db, Tier: tier}
}

func (s *SQLBackend) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.DB.QueryRowContext(ctx,
		`SELECT item_value FROM kv_store WHERE tier = $1 AND item_key = $2`,
		s.Tier, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("select %q: %w", key, err)
	}
	return value, nil
}

func (s *SQLBackend) Set(ctx context.Context, key, value string) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO kv_store (tier, item_key, item_value) VALUES ($1, $2, $3)
		ON CONFLICT (tier, item_key) DO UPDATE SET item_value = EXCLUDED.item_value
	`, s.Tier, key, value)
	if err != nil {
		return fmt.Errorf("upsert %q: %w", key, err)
	}
	return nil
}

func (s *SQLBackend) Remove(ctx context.Context, key string) error {
	_, err := s.DB.ExecContext(ctx,
		`DELETE FROM kv_store WHERE tier = $1 AND item_key = $2`,
		s.Tier, key,
	)
	if err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

func (s *SQLBackend) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT item_key FROM kv_store WHERE tier = $1 ORDER BY item_key`,
		s.Tier,
	)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *SQLBackend) Clear(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, `DELETE FROM kv_store WHERE tier = $1`, s.Tier); err != nil {
		return fmt.Errorf("clear tier %s: %w", s.Tier, err)
	}
	return nil
}
