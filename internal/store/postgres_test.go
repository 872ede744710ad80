package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/intel-cache/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

var entryColumns = []string{"id", "cache_key", "canonical_url", "payload", "confidence", "created_at", "hit_count"}

func TestPostgresStore_ListEntries(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	payload, err := json.Marshal(model.Payload{Kind: model.PayloadText, Text: "hello"})
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT id, cache_key, canonical_url, payload, confidence, created_at, hit_count FROM intel_cache WHERE cache_key = \$1`).
		WithArgs("k1").
		WillReturnRows(pgxmock.NewRows(entryColumns).
			AddRow("e1", "k1", "https://acme.com", payload, 0.8, created, int64(3)))

	entries, err := s.ListEntries(context.Background(), "k1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "hello", entries[0].Payload.Text)
	assert.Equal(t, int64(3), entries[0].HitCount)
	assert.True(t, entries[0].CreatedAt.Equal(created))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListEntries_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM intel_cache WHERE cache_key`).
		WithArgs("k1").
		WillReturnError(fmt.Errorf("connection refused"))

	_, err := s.ListEntries(context.Background(), "k1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: list entries")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PutEntry(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	created := time.Now().UTC()

	mock.ExpectExec(`INSERT INTO intel_cache`).
		WithArgs("e1", "k1", "https://acme.com", pgxmock.AnyArg(), 0.9, pgxmock.AnyArg(), int64(0)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.PutEntry(context.Background(), model.CacheEntry{
		ID:           "e1",
		Key:          "k1",
		CanonicalURL: "https://acme.com",
		Payload:      model.Payload{Kind: model.PayloadText, Text: "x"},
		Confidence:   0.9,
		CreatedAt:    created,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_IncrementHits_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE intel_cache SET hit_count = hit_count \+ 1`).
		WithArgs("gone").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.IncrementHits(context.Background(), "gone")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteIfUnserved(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM intel_cache WHERE id = \$1 AND hit_count = 0`).
		WithArgs("e1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, s.DeleteIfUnserved(context.Background(), "e1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteIfUnserved_Served(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM intel_cache WHERE id = \$1 AND hit_count = 0`).
		WithArgs("e1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	err := s.DeleteIfUnserved(context.Background(), "e1")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ScanEntries(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	created := time.Now().UTC()
	payload, err := json.Marshal(model.Payload{Kind: model.PayloadText, Text: "x"})
	require.NoError(t, err)

	mock.ExpectQuery(`FROM intel_cache ORDER BY created_at`).
		WillReturnRows(pgxmock.NewRows(entryColumns).
			AddRow("e1", "k1", "https://a.com", payload, 0.2, created, int64(0)).
			AddRow("e2", "k2", "https://b.com", payload, 0.9, created, int64(1)))

	var ids []string
	err = s.ScanEntries(context.Background(), func(e model.CacheEntry) error {
		ids = append(ids, e.ID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"e1", "e2"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS intel_cache`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
