// Package store persists intelligence cache entries. Several rows may exist
// for one cache key; readers choose among them.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/intel-cache/internal/model"
)

// ErrNotFound is returned when a row addressed by id does not exist.
var ErrNotFound = eris.New("store: entry not found")

// Store defines the persistence interface for the intelligence cache.
type Store interface {
	// ListEntries returns every row stored under key, in no particular order.
	// An empty result is not an error.
	ListEntries(ctx context.Context, key string) ([]model.CacheEntry, error)
	// PutEntry inserts a new row in a single statement.
	PutEntry(ctx context.Context, entry model.CacheEntry) error
	// DeleteIfUnserved removes the row only while its hit_count is zero.
	// It returns ErrNotFound when the row is gone or has been served.
	DeleteIfUnserved(ctx context.Context, id string) error
	IncrementHits(ctx context.Context, id string) error
	// ScanEntries calls fn for every row until fn returns an error.
	ScanEntries(ctx context.Context, fn func(model.CacheEntry) error) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
