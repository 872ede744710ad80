package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/intel-cache/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// Pragmas below are per connection; a single connection keeps them
	// applied and serializes writers.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS intel_cache (
	id            TEXT PRIMARY KEY,
	cache_key     TEXT NOT NULL,
	canonical_url TEXT NOT NULL,
	payload       TEXT NOT NULL,
	confidence    REAL NOT NULL,
	created_at    DATETIME NOT NULL,
	hit_count     INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_intel_cache_key ON intel_cache(cache_key);
CREATE INDEX IF NOT EXISTS idx_intel_cache_created_at ON intel_cache(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ListEntries(ctx context.Context, key string) ([]model.CacheEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, cache_key, canonical_url, payload, confidence, created_at, hit_count
		 FROM intel_cache WHERE cache_key = ?`,
		key,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list entries %s", key)
	}
	defer rows.Close()

	var entries []model.CacheEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list entries iterate")
}

func (s *SQLiteStore) PutEntry(ctx context.Context, e model.CacheEntry) error {
	payloadJSON, err := json.Marshal(e.Payload)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal payload")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO intel_cache (id, cache_key, canonical_url, payload, confidence, created_at, hit_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Key, e.CanonicalURL, string(payloadJSON), e.Confidence, e.CreatedAt.UTC(), e.HitCount,
	)
	return eris.Wrapf(err, "sqlite: put entry %s", e.Key)
}

func (s *SQLiteStore) DeleteIfUnserved(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM intel_cache WHERE id = ? AND hit_count = 0`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete entry %s", id)
	}
	return checkRowsAffected(res, id)
}

func (s *SQLiteStore) IncrementHits(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE intel_cache SET hit_count = hit_count + 1 WHERE id = ?`, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: increment hits %s", id)
	}
	return checkRowsAffected(res, id)
}

// ScanEntries buffers rows before invoking fn so callbacks may write to the
// same database without holding a read cursor open.
func (s *SQLiteStore) ScanEntries(ctx context.Context, fn func(model.CacheEntry) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, cache_key, canonical_url, payload, confidence, created_at, hit_count
		 FROM intel_cache ORDER BY created_at`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: scan entries")
	}

	var entries []model.CacheEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			rows.Close()
			return err
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return eris.Wrap(err, "sqlite: scan entries iterate")
	}
	rows.Close()

	for _, e := range entries {
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

// helpers

func checkRowsAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "id %s", id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanEntry(row scannable) (*model.CacheEntry, error) {
	var e model.CacheEntry
	var payloadJSON string
	if err := row.Scan(&e.ID, &e.Key, &e.CanonicalURL, &payloadJSON, &e.Confidence, &e.CreatedAt, &e.HitCount); err != nil {
		return nil, eris.Wrap(err, "sqlite: scan entry")
	}
	if err := json.Unmarshal([]byte(payloadJSON), &e.Payload); err != nil {
		return nil, eris.Wrapf(err, "sqlite: unmarshal payload %s", e.ID)
	}
	return &e, nil
}
