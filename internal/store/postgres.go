package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/intel-cache/internal/db"
	"github.com/sells-group/intel-cache/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists the hot-path queries prepared on each new connection.
var preparedStatements = map[string]string{
	"list_entries":   `SELECT id, cache_key, canonical_url, payload, confidence, created_at, hit_count FROM intel_cache WHERE cache_key = $1`,
	"put_entry":      `INSERT INTO intel_cache (id, cache_key, canonical_url, payload, confidence, created_at, hit_count) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
	"increment_hits": `UPDATE intel_cache SET hit_count = hit_count + 1 WHERE id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS intel_cache (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	cache_key     TEXT NOT NULL,
	canonical_url TEXT NOT NULL,
	payload       JSONB NOT NULL,
	confidence    DOUBLE PRECISION NOT NULL CHECK (confidence >= 0 AND confidence <= 1),
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	hit_count     BIGINT NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_intel_cache_key ON intel_cache(cache_key);
CREATE INDEX IF NOT EXISTS idx_intel_cache_key_conf ON intel_cache(cache_key, confidence DESC, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_intel_cache_created_at ON intel_cache(created_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) ListEntries(ctx context.Context, key string) ([]model.CacheEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, cache_key, canonical_url, payload, confidence, created_at, hit_count FROM intel_cache WHERE cache_key = $1`,
		key,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list entries %s", key)
	}
	defer rows.Close()

	var entries []model.CacheEntry
	for rows.Next() {
		e, err := scanPgEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list entries iterate")
}

func (s *PostgresStore) PutEntry(ctx context.Context, e model.CacheEntry) error {
	payloadJSON, err := json.Marshal(e.Payload)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal payload")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO intel_cache (id, cache_key, canonical_url, payload, confidence, created_at, hit_count) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.Key, e.CanonicalURL, payloadJSON, e.Confidence, e.CreatedAt.UTC(), e.HitCount,
	)
	return eris.Wrapf(err, "postgres: put entry %s", e.Key)
}

func (s *PostgresStore) DeleteIfUnserved(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM intel_cache WHERE id = $1 AND hit_count = 0`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete entry %s", id)
	}
	return checkTag(tag, id)
}

func (s *PostgresStore) IncrementHits(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE intel_cache SET hit_count = hit_count + 1 WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: increment hits %s", id)
	}
	return checkTag(tag, id)
}

func (s *PostgresStore) ScanEntries(ctx context.Context, fn func(model.CacheEntry) error) error {
	rows, err := s.pool.Query(ctx,
		`SELECT id, cache_key, canonical_url, payload, confidence, created_at, hit_count FROM intel_cache ORDER BY created_at`,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: scan entries")
	}

	var entries []model.CacheEntry
	for rows.Next() {
		e, err := scanPgEntry(rows)
		if err != nil {
			rows.Close()
			return err
		}
		entries = append(entries, *e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return eris.Wrap(err, "postgres: scan entries iterate")
	}

	for _, e := range entries {
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

func checkTag(tag pgconn.CommandTag, id string) error {
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "id %s", id)
	}
	return nil
}

func scanPgEntry(row pgx.Row) (*model.CacheEntry, error) {
	var e model.CacheEntry
	var payloadJSON []byte
	if err := row.Scan(&e.ID, &e.Key, &e.CanonicalURL, &payloadJSON, &e.Confidence, &e.CreatedAt, &e.HitCount); err != nil {
		return nil, eris.Wrap(err, "postgres: scan entry")
	}
	if err := json.Unmarshal(payloadJSON, &e.Payload); err != nil {
		return nil, eris.Wrapf(err, "postgres: unmarshal payload %s", e.ID)
	}
	return &e, nil
}
