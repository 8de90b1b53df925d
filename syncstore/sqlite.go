package syncstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"github.com/user/ventana-link/store"
)

// SQLite is the local mirror. Every put is marked pending until replicated.
type SQLite struct {
	db *store.DB
}

// NewSQLite wraps a migrated database
func NewSQLite(db *store.DB) *SQLite {
	return &SQLite{db: db}
}

func (s *SQLite) Put(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO mirror (key, value, updated_at, synced) VALUES (?, ?, ?, 0)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at, synced = 0`,
		key, value, time.Now().UnixMilli())
	return errors.Wrapf(err, "mirror put %s", key)
}

// Get returns the mirrored entry for key
func (s *SQLite) Get(ctx context.Context, key string) (Entry, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT key, value, updated_at, synced FROM mirror WHERE key = ?`, key)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, errors.Wrapf(err, "mirror get %s", key)
	}
	return e, true, nil
}

// All returns every mirrored entry ordered by key
func (s *SQLite) All(ctx context.Context) ([]Entry, error) {
	return s.query(ctx, `SELECT key, value, updated_at, synced FROM mirror ORDER BY key`)
}

// Pending returns entries not yet replicated, oldest first
func (s *SQLite) Pending(ctx context.Context) ([]Entry, error) {
	return s.query(ctx, `SELECT key, value, updated_at, synced FROM mirror WHERE synced = 0 ORDER BY updated_at`)
}

// MarkSynced flags e as replicated unless it was overwritten since it was read
func (s *SQLite) MarkSynced(ctx context.Context, e Entry) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE mirror SET synced = 1 WHERE key = ? AND value = ? AND updated_at = ?`,
		e.Key, e.Value, e.UpdatedAt.UnixMilli())
	if err != nil {
		return false, errors.Wrapf(err, "mirror mark %s", e.Key)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "rows affected")
	}
	return n == 1, nil
}

func (s *SQLite) query(ctx context.Context, q string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, errors.Wrap(err, "mirror query")
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, errors.Wrap(err, "mirror scan")
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(r scanner) (Entry, error) {
	var (
		e       Entry
		updated int64
		synced  int
	)
	if err := r.Scan(&e.Key, &e.Value, &updated, &synced); err != nil {
		return Entry{}, err
	}
	e.UpdatedAt = time.UnixMilli(updated)
	e.Synced = synced == 1
	return e, nil
}
