// Package cache implements the confidence-gated intelligence cache on top of
// a store.Store: lookups, conflict-aware writes and the cleanup sweep.
package cache

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intel-cache/internal/canon"
	"github.com/sells-group/intel-cache/internal/model"
	"github.com/sells-group/intel-cache/internal/store"
)

// StoreUnavailableError reports an infrastructure failure in the backing
// store. It is never folded into a cache miss.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return "cache: store unavailable during " + e.Op + ": " + e.Err.Error()
}

func (e *StoreUnavailableError) Unwrap() error {
	return e.Err
}

// unavailable classifies a store error. Cancellation and deadline errors
// belong to the caller and are returned wrapped, not as an outage.
func unavailable(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return eris.Wrapf(err, "cache: %s", op)
	}
	return &StoreUnavailableError{Op: op, Err: err}
}

// Config tunes the cache.
type Config struct {
	// HitQueueSize bounds pending hit-count bumps. Default: 256.
	HitQueueSize int
	// HitTimeout bounds each background hit-count update. Default: 5s.
	HitTimeout time.Duration
}

// Stats contains cache performance counters.
type Stats struct {
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	Writes        int64   `json:"writes"`
	WritesSkipped int64   `json:"writes_skipped"`
	BumpsDropped  int64   `json:"bumps_dropped"`
	BumpsFailed   int64   `json:"bumps_failed"`
	HitRate       float64 `json:"hit_rate"`
}

// Cache serves and records intelligence entries.
type Cache struct {
	store store.Store
	cfg   Config
	now   func() time.Time

	bumps     chan string
	closeMu   sync.RWMutex
	closed    bool
	done      chan struct{}
	closeOnce sync.Once

	hits          atomic.Int64
	misses        atomic.Int64
	writes        atomic.Int64
	writesSkipped atomic.Int64
	bumpsDropped  atomic.Int64
	bumpsFailed   atomic.Int64
}

// New creates a Cache and starts its background hit-count worker.
// Call Close to drain pending bumps.
func New(st store.Store, cfg Config) *Cache {
	if cfg.HitQueueSize <= 0 {
		cfg.HitQueueSize = 256
	}
	if cfg.HitTimeout <= 0 {
		cfg.HitTimeout = 5 * time.Second
	}
	c := &Cache{
		store: st,
		cfg:   cfg,
		now:   time.Now,
		bumps: make(chan string, cfg.HitQueueSize),
		done:  make(chan struct{}),
	}
	go c.bumpLoop()
	return c
}

// WithNow sets a fixed clock for testing.
func (c *Cache) WithNow(now func() time.Time) *Cache {
	c.now = now
	return c
}

// Lookup returns the best entry for key of the given payload kind with
// confidence >= minConfidence and age <= maxAge (maxAge <= 0 disables the age
// check, an empty kind matches any). A nil entry with a nil error is a normal
// miss. Ties prefer higher confidence, then the newer row.
func (c *Cache) Lookup(ctx context.Context, key string, kind model.PayloadKind, minConfidence float64, maxAge time.Duration) (*model.CacheEntry, error) {
	entries, err := c.store.ListEntries(ctx, key)
	if err != nil {
		return nil, unavailable("lookup", err)
	}

	best := bestQualifying(entries, kind, minConfidence, maxAge, c.now())
	if best == nil {
		c.misses.Add(1)
		return nil, nil
	}

	c.hits.Add(1)
	c.scheduleBump(best.ID)
	return best, nil
}

// Write stores payload for canonicalURL unless a qualifying entry of the same
// payload kind already has equal or higher confidence. Qualifying means no
// older than maxAge (maxAge <= 0 disables the age check), so an expired row
// never blocks a fresh one. It reports whether a row was inserted.
func (c *Cache) Write(ctx context.Context, canonicalURL string, payload model.Payload, confidence float64, maxAge time.Duration) (bool, error) {
	if canonicalURL == "" {
		return false, eris.New("cache: write: empty canonical url")
	}
	if math.IsNaN(confidence) || confidence < 0 || confidence > 1 {
		return false, eris.Errorf("cache: write: confidence %v outside [0,1]", confidence)
	}
	if err := payload.Validate(); err != nil {
		return false, eris.Wrap(err, "cache: write")
	}

	key := canon.DeriveKey(canonicalURL)
	existing, err := c.store.ListEntries(ctx, key)
	if err != nil {
		return false, unavailable("write", err)
	}
	now := c.now()
	if e := bestQualifying(existing, payload.Kind, confidence, maxAge, now); e != nil {
		c.writesSkipped.Add(1)
		zap.L().Debug("cache: write skipped, better entry exists",
			zap.String("key", shortKey(key)),
			zap.String("kind", string(payload.Kind)),
			zap.Float64("existing_confidence", e.Confidence),
			zap.Float64("confidence", confidence),
		)
		return false, nil
	}

	entry := model.CacheEntry{
		ID:           uuid.New().String(),
		Key:          key,
		CanonicalURL: canonicalURL,
		Payload:      payload,
		Confidence:   confidence,
		CreatedAt:    now.UTC(),
	}
	if err := c.store.PutEntry(ctx, entry); err != nil {
		return false, unavailable("write", err)
	}
	c.writes.Add(1)
	return true, nil
}

func bestQualifying(entries []model.CacheEntry, kind model.PayloadKind, minConfidence float64, maxAge time.Duration, now time.Time) *model.CacheEntry {
	var best *model.CacheEntry
	for i := range entries {
		e := &entries[i]
		if kind != "" && e.Payload.Kind != kind {
			continue
		}
		if e.Confidence < minConfidence {
			continue
		}
		if maxAge > 0 && e.Age(now) > maxAge {
			continue
		}
		if best == nil || e.Better(*best) {
			best = e
		}
	}
	return best
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	s := Stats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Writes:        c.writes.Load(),
		WritesSkipped: c.writesSkipped.Load(),
		BumpsDropped:  c.bumpsDropped.Load(),
		BumpsFailed:   c.bumpsFailed.Load(),
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

// Close stops accepting hit bumps and waits for queued ones to finish.
func (c *Cache) Close() {
	c.closeOnce.Do(func() {
		c.closeMu.Lock()
		c.closed = true
		close(c.bumps)
		c.closeMu.Unlock()
		<-c.done
	})
}

// scheduleBump queues a hit-count increment without blocking the caller.
func (c *Cache) scheduleBump(id string) {
	c.closeMu.RLock()
	defer c.closeMu.RUnlock()
	if c.closed {
		c.bumpsDropped.Add(1)
		return
	}
	select {
	case c.bumps <- id:
	default:
		c.bumpsDropped.Add(1)
		zap.L().Warn("cache: hit queue full, dropping bump", zap.String("entry_id", id))
	}
}

func (c *Cache) bumpLoop() {
	defer close(c.done)
	for id := range c.bumps {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.HitTimeout)
		err := c.store.IncrementHits(ctx, id)
		cancel()
		if err != nil {
			c.bumpsFailed.Add(1)
			zap.L().Warn("cache: hit count update failed",
				zap.String("entry_id", id),
				zap.Error(err),
			)
		}
	}
}

func shortKey(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return key
}
