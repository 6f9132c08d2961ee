package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// RecordStore is a key-value view over one named store of the records table.
type RecordStore struct {
	db    *sql.DB
	store string
}

// NewRecordStore returns the records kept under store.
func NewRecordStore(db *sql.DB, store string) *RecordStore {
	return &RecordStore{db: db, store: store}
}

// Get returns the value under key. ok is false when no row exists.
func (r *RecordStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT value FROM records WHERE store = ? AND key = ?`, r.store, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s/%s: %w", r.store, key, err)
	}
	return value, true, nil
}

// Put inserts or overwrites the value under key.
func (r *RecordStore) Put(ctx context.Context, key string, value []byte) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO records (store, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (store, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		r.store, key, value, time.Now().UTC().Truncate(time.Second),
	)
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", r.store, key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (r *RecordStore) Delete(ctx context.Context, key string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM records WHERE store = ? AND key = ?`, r.store, key); err != nil {
		return fmt.Errorf("delete %s/%s: %w", r.store, key, err)
	}
	return nil
}
