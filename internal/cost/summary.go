// Package cost aggregates generation spend and savings against the
// reference provider.
package cost

import (
	"sync"

	"github.com/sells-group/intel-cache/internal/model"
)

// Summary totals spend across requests. SavingsPercentage is the ratio
// TotalSavings / TotalReferenceCost, 0 when the reference total is 0.
type Summary struct {
	Requests           int     `json:"requests"`
	CacheHits          int     `json:"cache_hits"`
	TotalCost          float64 `json:"total_cost"`
	TotalReferenceCost float64 `json:"total_reference_cost"`
	TotalSavings       float64 `json:"total_savings"`
	SavingsPercentage  float64 `json:"savings_percentage"`
}

// Add folds one request into the summary. A cache hit passes cost 0 and
// fromCache true.
func (s *Summary) Add(cost, referenceCost float64, fromCache bool) {
	s.Requests++
	if fromCache {
		s.CacheHits++
	}
	s.TotalCost += cost
	s.TotalReferenceCost += referenceCost
	s.TotalSavings += referenceCost - cost
	s.SavingsPercentage = 0
	if s.TotalReferenceCost != 0 {
		s.SavingsPercentage = s.TotalSavings / s.TotalReferenceCost
	}
}

// Accumulate totals a list of generation results.
func Accumulate(results []model.GenerationResult) Summary {
	var s Summary
	for _, r := range results {
		s.Add(r.Cost, r.ReferenceCost, false)
	}
	return s
}

// Tracker is a running Summary safe for concurrent use.
type Tracker struct {
	mu sync.Mutex
	s  Summary
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Add records one request.
func (t *Tracker) Add(cost, referenceCost float64, fromCache bool) {
	t.mu.Lock()
	t.s.Add(cost, referenceCost, fromCache)
	t.mu.Unlock()
}

// AddResult records a routed generation.
func (t *Tracker) AddResult(r model.GenerationResult) {
	t.Add(r.Cost, r.ReferenceCost, false)
}

// Snapshot returns the current totals.
func (t *Tracker) Snapshot() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.s
}

// Reset clears the totals and returns what they were.
func (t *Tracker) Reset() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev := t.s
	t.s = Summary{}
	return prev
}
