package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intel-cache/internal/model"
	"github.com/sells-group/intel-cache/internal/store"
)

// SweepConfig controls which entries the cleanup sweep may delete.
type SweepConfig struct {
	// Retention is the nominal retention window. Entries become eligible
	// only after twice this age. Default: 30 days.
	Retention time.Duration
	// AcceptThreshold is the confidence bar; entries at or above it are kept.
	AcceptThreshold float64
	// Schedule is a cron expression or descriptor for Start. Default: @daily.
	Schedule string
}

// Sweeper deletes stale, low-confidence entries that were never served.
//
// Eligibility is judged on a scan snapshot, and each delete is conditional on
// hit_count still being zero, so an entry bumped after the scan survives.
// Hit counts are bumped asynchronously by the Cache and a bump dropped on a
// full queue never reaches the store; such an entry can still be swept.
type Sweeper struct {
	store store.Store
	cfg   SweepConfig
	now   func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
	stop chan struct{}
}

// NewSweeper creates a Sweeper over st.
func NewSweeper(st store.Store, cfg SweepConfig) *Sweeper {
	if cfg.Retention <= 0 {
		cfg.Retention = 30 * 24 * time.Hour
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "@daily"
	}
	return &Sweeper{store: st, cfg: cfg, now: time.Now}
}

// WithNow sets a fixed clock for testing.
func (s *Sweeper) WithNow(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

// Eligible reports whether e may be deleted at now. All three conditions
// must hold: older than twice the retention, below the accept threshold,
// and never served from cache.
func (s *Sweeper) Eligible(e model.CacheEntry, now time.Time) bool {
	return e.Age(now) > 2*s.cfg.Retention &&
		e.Confidence < s.cfg.AcceptThreshold &&
		e.HitCount == 0
}

// Sweep runs one cleanup pass and returns how many entries were deleted.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	now := s.now()

	var victims []string
	err := s.store.ScanEntries(ctx, func(e model.CacheEntry) error {
		if s.Eligible(e, now) {
			victims = append(victims, e.ID)
		}
		return nil
	})
	if err != nil {
		return 0, unavailable("sweep", err)
	}

	deleted := 0
	for _, id := range victims {
		if err := ctx.Err(); err != nil {
			return deleted, eris.Wrap(err, "cache: sweep cancelled")
		}
		if err := s.store.DeleteIfUnserved(ctx, id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return deleted, unavailable("sweep", err)
		}
		deleted++
	}

	zap.L().Info("cache: sweep complete",
		zap.Int("scanned_candidates", len(victims)),
		zap.Int("deleted", deleted),
		zap.Duration("retention", s.cfg.Retention),
		zap.Float64("accept_threshold", s.cfg.AcceptThreshold),
	)
	return deleted, nil
}

// Start schedules Sweep on the configured cron schedule until ctx is done
// or Stop is called.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return eris.New("cache: sweeper already started")
	}

	c := cron.New()
	_, err := c.AddFunc(s.cfg.Schedule, func() {
		if _, err := s.Sweep(ctx); err != nil {
			zap.L().Error("cache: scheduled sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		return eris.Wrapf(err, "cache: parse sweep schedule %q", s.cfg.Schedule)
	}
	c.Start()
	s.cron = c
	stop := make(chan struct{})
	s.stop = stop

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-stop:
		}
	}()
	return nil
}

// Stop halts scheduled sweeps and waits for a running one to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c, stop := s.cron, s.stop
	s.cron, s.stop = nil, nil
	s.mu.Unlock()
	if stop != nil {
		close(stop)
	}
	if c != nil {
		<-c.Stop().Done()
	}
}
