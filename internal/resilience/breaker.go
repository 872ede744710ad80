// Package resilience provides per-provider circuit breakers and error
// classification for paid back-end calls.
package resilience

import (
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed is the normal operating state: calls flow through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means too many consecutive failures: calls are skipped.
	CircuitOpen
	// CircuitHalfOpen allows a single trial call to test recovery.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned by Allow while a provider is being skipped.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// BreakerConfig controls breaker behavior.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before the
	// breaker opens. Default: 5.
	FailureThreshold int
	// Cooldown is how long an open breaker skips calls before allowing a
	// trial call. Default: 30s.
	Cooldown time.Duration
	// OnStateChange is called with the provider name on every transition.
	OnStateChange func(provider string, from, to CircuitState)
}

// DefaultBreakerConfig returns sensible defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
	}
}

// FromSettings builds a BreakerConfig from plain config values, keeping
// defaults for non-positive inputs.
func FromSettings(failureThreshold, cooldownSecs int) BreakerConfig {
	cfg := DefaultBreakerConfig()
	if failureThreshold > 0 {
		cfg.FailureThreshold = failureThreshold
	}
	if cooldownSecs > 0 {
		cfg.Cooldown = time.Duration(cooldownSecs) * time.Second
	}
	return cfg
}

// Breaker tracks consecutive failures for one provider. The router asks
// Allow before a call and reports the outcome with Record.
type Breaker struct {
	name string
	cfg  BreakerConfig

	mu          sync.Mutex
	state       CircuitState
	failures    int
	lastFailure time.Time
	probing     bool

	nowFunc func() time.Time
}

func newBreaker(name string, cfg BreakerConfig, now func() time.Time) *Breaker {
	return &Breaker{name: name, cfg: cfg, state: CircuitClosed, nowFunc: now}
}

// Allow returns ErrCircuitOpen if the provider should be skipped. An open
// breaker past its cooldown lets exactly one trial call through.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitOpen:
		if b.nowFunc().Sub(b.lastFailure) < b.cfg.Cooldown {
			return ErrCircuitOpen
		}
		b.transition(CircuitHalfOpen)
		b.probing = true
		return nil
	case CircuitHalfOpen:
		if b.probing {
			return ErrCircuitOpen
		}
		b.probing = true
		return nil
	default:
		return nil
	}
}

// Record reports the outcome of a call admitted by Allow.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	if err == nil {
		b.failures = 0
		if b.state != CircuitClosed {
			b.transition(CircuitClosed)
		}
		return
	}

	b.failures++
	b.lastFailure = b.nowFunc()
	switch b.state {
	case CircuitHalfOpen:
		b.transition(CircuitOpen)
	case CircuitClosed:
		if b.failures >= b.cfg.FailureThreshold {
			b.transition(CircuitOpen)
		}
	}
}

// State returns the current state.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) transition(to CircuitState) {
	from := b.state
	b.state = to
	if b.cfg.OnStateChange != nil && from != to {
		b.cfg.OnStateChange(b.name, from, to)
	}
}

// Breakers holds one Breaker per provider name.
type Breakers struct {
	cfg     BreakerConfig
	mu      sync.RWMutex
	byName  map[string]*Breaker
	nowFunc func() time.Time
}

// NewBreakers creates an empty set using cfg for every provider.
func NewBreakers(cfg BreakerConfig) *Breakers {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &Breakers{cfg: cfg, byName: make(map[string]*Breaker), nowFunc: time.Now}
}

// Get returns the breaker for provider, creating it on first use.
func (bs *Breakers) Get(provider string) *Breaker {
	bs.mu.RLock()
	b, ok := bs.byName[provider]
	bs.mu.RUnlock()
	if ok {
		return b
	}

	bs.mu.Lock()
	defer bs.mu.Unlock()
	if b, ok = bs.byName[provider]; ok {
		return b
	}
	b = newBreaker(provider, bs.cfg, bs.nowFunc)
	bs.byName[provider] = b
	return b
}

// States returns a snapshot of every breaker's state.
func (bs *Breakers) States() map[string]CircuitState {
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	states := make(map[string]CircuitState, len(bs.byName))
	for name, b := range bs.byName {
		states[name] = b.State()
	}
	return states
}
