package model

import "time"

// CacheEntry is one stored analysis for a canonical URL. Payload and
// Confidence never change after insert; only HitCount is bumped.
type CacheEntry struct {
	ID           string    `json:"id"`
	Key          string    `json:"key"`
	CanonicalURL string    `json:"canonical_url"`
	Payload      Payload   `json:"payload"`
	Confidence   float64   `json:"confidence"`
	CreatedAt    time.Time `json:"created_at"`
	HitCount     int64     `json:"hit_count"`
}

// Age returns how old the entry is relative to now.
func (e CacheEntry) Age(now time.Time) time.Duration {
	return now.Sub(e.CreatedAt)
}

// Better reports whether e should be served in preference to other:
// higher confidence first, then the more recent entry.
func (e CacheEntry) Better(other CacheEntry) bool {
	if e.Confidence != other.Confidence {
		return e.Confidence > other.Confidence
	}
	return e.CreatedAt.After(other.CreatedAt)
}
