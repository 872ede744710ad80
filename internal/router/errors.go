package router

import (
	"fmt"
	"strings"
	"time"

	"github.com/sells-group/intel-cache/internal/model"
)

// NoProviderConfiguredError means no configured provider supports the
// requested capability. No attempt was made.
type NoProviderConfiguredError struct {
	Capability model.Capability
}

func (e *NoProviderConfiguredError) Error() string {
	return fmt.Sprintf("router: no provider configured for capability %q", e.Capability)
}

// ExhaustedError means every attempted provider failed, or the overall
// deadline ran out first. Attempts are in the order they were made.
type ExhaustedError struct {
	Capability model.Capability
	Attempts   []model.GenerationAttempt
	// Cause is set when the loop ended because the context was done.
	Cause error
}

func (e *ExhaustedError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "router: %d provider attempt(s) failed for %s", len(e.Attempts), e.Capability)
	if e.Cause != nil {
		fmt.Fprintf(&b, " (%v)", e.Cause)
	}
	if n := len(e.Attempts); n > 0 {
		last := e.Attempts[n-1]
		fmt.Fprintf(&b, ": last %s: %s", last.Provider, last.Err)
	}
	return b.String()
}

func (e *ExhaustedError) Unwrap() error {
	return e.Cause
}

// ProviderTimeoutError is an attempt that ran past its deadline.
type ProviderTimeoutError struct {
	Provider string
	Timeout  time.Duration
	Err      error
}

func (e *ProviderTimeoutError) Error() string {
	return fmt.Sprintf("provider %s timed out after %s", e.Provider, e.Timeout)
}

func (e *ProviderTimeoutError) Unwrap() error {
	return e.Err
}

// ProviderTransportError is any other attempt failure: transport, API
// status, empty output or an open circuit breaker.
type ProviderTransportError struct {
	Provider  string
	Transient bool
	Err       error
}

func (e *ProviderTransportError) Error() string {
	return fmt.Sprintf("provider %s failed: %v", e.Provider, e.Err)
}

func (e *ProviderTransportError) Unwrap() error {
	return e.Err
}
