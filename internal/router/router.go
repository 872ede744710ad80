// Package router sends generation requests to paid providers in strict
// ascending-cost order and fails over to the next provider on error.
package router

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/sells-group/intel-cache/internal/model"
	"github.com/sells-group/intel-cache/internal/provider"
	"github.com/sells-group/intel-cache/internal/resilience"
)

var tracer = otel.Tracer("github.com/sells-group/intel-cache/internal/router")

// Catalog is the part of the provider registry the router needs.
type Catalog interface {
	Available(capability model.Capability) []provider.Entry
	ReferenceCost(capability model.Capability) float64
}

// Config bounds how long routing may take.
type Config struct {
	// AttemptTimeout bounds each provider call. Default: 30s.
	AttemptTimeout time.Duration
	// TotalTimeout bounds the whole Route call. Zero leaves only the
	// caller's deadline.
	TotalTimeout time.Duration
}

// Router picks providers for generation requests.
type Router struct {
	catalog  Catalog
	cfg      Config
	breakers *resilience.Breakers
	now      func() time.Time
}

// New creates a Router over catalog.
func New(catalog Catalog, cfg Config) *Router {
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 30 * time.Second
	}
	return &Router{catalog: catalog, cfg: cfg, now: time.Now}
}

// WithBreakers enables per-provider circuit breakers. A provider whose
// breaker is open is recorded as a failed attempt without being called.
func (r *Router) WithBreakers(b *resilience.Breakers) *Router {
	r.breakers = b
	return r
}

// Route tries each configured provider for capability, cheapest first, and
// returns the first success. It returns *NoProviderConfiguredError when no
// provider qualifies and *ExhaustedError when all attempts fail or the
// deadline passes.
func (r *Router) Route(ctx context.Context, req model.GenerationRequest, capability model.Capability) (*model.GenerationResult, error) {
	ctx, span := tracer.Start(ctx, "router.Route",
		trace.WithAttributes(attribute.String("capability", string(capability))),
	)
	defer span.End()

	candidates := r.catalog.Available(capability)
	if len(candidates) == 0 {
		err := &NoProviderConfiguredError{Capability: capability}
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if r.cfg.TotalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.TotalTimeout)
		defer cancel()
	}

	units := req.UnitsOrDefault()
	attempts := make([]model.GenerationAttempt, 0, len(candidates))
	for _, p := range candidates {
		if ctx.Err() != nil {
			break
		}

		out, attempt, err := r.attempt(ctx, p, capability, req)
		if err != nil {
			attempts = append(attempts, attempt)
			zap.L().Debug("router: provider failed, trying next",
				zap.String("provider", p.Name),
				zap.String("capability", string(capability)),
				zap.Duration("duration", attempt.Duration),
				zap.Error(err),
			)
			continue
		}

		cost := p.UnitCost * float64(units)
		reference := r.catalog.ReferenceCost(capability) * float64(units)
		attempt.Cost = cost
		attempts = append(attempts, attempt)

		span.SetAttributes(
			attribute.String("provider", p.Name),
			attribute.Int("attempts", len(attempts)),
			attribute.Float64("cost", cost),
		)
		zap.L().Info("router: generation succeeded",
			zap.String("provider", p.Name),
			zap.String("capability", string(capability)),
			zap.Int("attempts", len(attempts)),
			zap.Float64("cost", cost),
			zap.Float64("reference_cost", reference),
		)
		return &model.GenerationResult{
			Content:       *out,
			ProviderUsed:  p.Name,
			Cost:          cost,
			ReferenceCost: reference,
			Savings:       reference - cost,
			Attempts:      attempts,
		}, nil
	}

	err := &ExhaustedError{Capability: capability, Attempts: attempts, Cause: ctx.Err()}
	span.SetStatus(codes.Error, err.Error())
	zap.L().Warn("router: providers exhausted",
		zap.String("capability", string(capability)),
		zap.Int("attempts", len(attempts)),
		zap.Int("candidates", len(candidates)),
		zap.Error(ctx.Err()),
	)
	return nil, err
}

// attempt calls one provider under its own timeout. A failed attempt always
// has Cost 0.
func (r *Router) attempt(ctx context.Context, p provider.Entry, capability model.Capability, req model.GenerationRequest) (*model.GenerationOutput, model.GenerationAttempt, error) {
	rec := model.GenerationAttempt{Provider: p.Name}

	var breaker *resilience.Breaker
	if r.breakers != nil {
		breaker = r.breakers.Get(p.Name)
		if err := breaker.Allow(); err != nil {
			err = &ProviderTransportError{Provider: p.Name, Transient: true, Err: err}
			rec.Err = err.Error()
			return nil, rec, err
		}
	}

	ctx, span := tracer.Start(ctx, "router.attempt",
		trace.WithAttributes(
			attribute.String("provider", p.Name),
			attribute.Float64("unit_cost", p.UnitCost),
		),
	)
	defer span.End()

	attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.AttemptTimeout)
	defer cancel()

	start := r.now()
	out, err := p.Backend.Generate(attemptCtx, capability, req)
	rec.Duration = r.now().Sub(start)

	if err == nil && (out == nil || out.Empty()) {
		err = eris.Errorf("provider %s returned no content", p.Name)
	}
	if err != nil {
		err = classify(attemptCtx, p.Name, r.cfg.AttemptTimeout, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		rec.Err = err.Error()
		// Caller cancellation is not counted against the provider.
		if breaker != nil && !errors.Is(ctx.Err(), context.Canceled) {
			breaker.Record(err)
		}
		return nil, rec, err
	}

	if breaker != nil {
		breaker.Record(nil)
	}
	rec.Succeeded = true
	return out, rec, nil
}

func classify(attemptCtx context.Context, name string, timeout time.Duration, err error) error {
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) || resilience.IsTimeout(err) {
		return &ProviderTimeoutError{Provider: name, Timeout: timeout, Err: err}
	}
	return &ProviderTransportError{Provider: name, Transient: resilience.IsTransient(err), Err: err}
}
