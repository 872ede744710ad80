// Package monitoring watches acquisition spend, cache effectiveness and
// provider circuits, and posts alerts to a webhook when thresholds are
// crossed.
package monitoring

import (
	"slices"
	"sync"
	"time"

	"github.com/sells-group/intel-cache/internal/cache"
	"github.com/sells-group/intel-cache/internal/cost"
	"github.com/sells-group/intel-cache/internal/resilience"
)

// MetricsSnapshot holds the activity of one check window plus the current
// circuit states.
type MetricsSnapshot struct {
	// Acquisition metrics (within the window).
	Requests     int      `json:"requests"`
	CacheHits    int      `json:"cache_hits"`
	HitRate      float64  `json:"hit_rate"`
	CostUSD      float64  `json:"cost_usd"`
	ReferenceUSD float64  `json:"reference_usd"`
	SavingsUSD   float64  `json:"savings_usd"`
	BumpsFailed  int64    `json:"bumps_failed"`
	BumpsDropped int64    `json:"bumps_dropped"`
	OpenCircuits []string `json:"open_circuits,omitempty"`

	// Metadata.
	Window      time.Duration `json:"window"`
	CollectedAt time.Time     `json:"collected_at"`
}

// CostSource reports cumulative spend.
type CostSource interface {
	Snapshot() cost.Summary
}

// CacheSource reports cumulative cache counters.
type CacheSource interface {
	Stats() cache.Stats
}

// CircuitSource reports per-provider breaker states.
type CircuitSource interface {
	States() map[string]resilience.CircuitState
}

// Collector turns cumulative counters into per-window deltas.
type Collector struct {
	costs    CostSource
	cache    CacheSource
	circuits CircuitSource
	now      func() time.Time

	mu        sync.Mutex
	lastCost  cost.Summary
	lastCache cache.Stats
	lastAt    time.Time
}

// NewCollector creates a collector. Any source may be nil.
func NewCollector(costs CostSource, c CacheSource, circuits CircuitSource) *Collector {
	col := &Collector{costs: costs, cache: c, circuits: circuits, now: time.Now}
	col.lastAt = col.now().UTC()
	return col
}

// Collect returns activity since the previous call (or since the collector
// was created) and the circuits that are currently open.
func (c *Collector) Collect() *MetricsSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now().UTC()
	snap := &MetricsSnapshot{
		Window:      now.Sub(c.lastAt),
		CollectedAt: now,
	}

	if c.costs != nil {
		cur := c.costs.Snapshot()
		snap.Requests = cur.Requests - c.lastCost.Requests
		snap.CacheHits = cur.CacheHits - c.lastCost.CacheHits
		snap.CostUSD = cur.TotalCost - c.lastCost.TotalCost
		snap.ReferenceUSD = cur.TotalReferenceCost - c.lastCost.TotalReferenceCost
		snap.SavingsUSD = cur.TotalSavings - c.lastCost.TotalSavings
		c.lastCost = cur
	}
	if snap.Requests > 0 {
		snap.HitRate = float64(snap.CacheHits) / float64(snap.Requests)
	}

	if c.cache != nil {
		cur := c.cache.Stats()
		snap.BumpsFailed = cur.BumpsFailed - c.lastCache.BumpsFailed
		snap.BumpsDropped = cur.BumpsDropped - c.lastCache.BumpsDropped
		c.lastCache = cur
	}

	if c.circuits != nil {
		for name, state := range c.circuits.States() {
			if state == resilience.CircuitOpen {
				snap.OpenCircuits = append(snap.OpenCircuits, name)
			}
		}
		slices.Sort(snap.OpenCircuits)
	}

	c.lastAt = now
	return snap
}
