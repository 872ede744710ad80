// Package pipeline ties canonicalization, the cache and the router together
// into cache-first content acquisition.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/intel-cache/internal/canon"
	"github.com/sells-group/intel-cache/internal/cost"
	"github.com/sells-group/intel-cache/internal/model"
)

var tracer = otel.Tracer("github.com/sells-group/intel-cache/internal/pipeline")

// ErrInvalidRequest marks requests rejected before any lookup, such as an
// unknown capability or a payload kind the capability cannot produce.
var ErrInvalidRequest = eris.New("pipeline: invalid request")

// Cache is the cache surface the coordinator reads and writes.
type Cache interface {
	Lookup(ctx context.Context, key string, kind model.PayloadKind, minConfidence float64, maxAge time.Duration) (*model.CacheEntry, error)
	Write(ctx context.Context, canonicalURL string, payload model.Payload, confidence float64, maxAge time.Duration) (bool, error)
}

// Router generates content when the cache misses.
type Router interface {
	Route(ctx context.Context, req model.GenerationRequest, capability model.Capability) (*model.GenerationResult, error)
}

// Pricer reports the reference unit cost for a capability. Cache hits are
// credited with the full reference price as savings.
type Pricer interface {
	ReferenceCost(capability model.Capability) float64
}

// Analyzer turns generated text into a structured analysis and a
// confidence score. Implementations live outside this module.
type Analyzer interface {
	Analyze(ctx context.Context, canonicalURL string, out model.GenerationOutput) (*model.Analysis, float64, error)
}

// Config holds coordinator defaults.
type Config struct {
	// MinConfidence applies when a request leaves it zero.
	MinConfidence float64
	// MaxAge applies when a request leaves it zero. Zero disables the age
	// check.
	MaxAge time.Duration
	// DefaultConfidence is stored with fresh results when neither the
	// request nor the Analyzer supplies one. Default: 0.8, raised to
	// MinConfidence when below it.
	DefaultConfidence float64
	// MaxConcurrent bounds BatchAcquire. Default: 5.
	MaxConcurrent int
	// SingleFlight shares one generation among concurrent misses for the
	// same key and capability.
	SingleFlight bool
}

// AcquireRequest asks for content for one URL.
type AcquireRequest struct {
	URL        string            `json:"url"`
	Prompt     string            `json:"prompt"`
	Capability model.Capability  `json:"capability,omitempty"`
	Kind       model.PayloadKind `json:"kind,omitempty"`
	Units      int               `json:"units,omitempty"`
	Params     map[string]string `json:"params,omitempty"`
	// MinConfidence and MaxAge gate cache hits; zero uses Config defaults.
	MinConfidence float64       `json:"min_confidence,omitempty"`
	MaxAge        time.Duration `json:"max_age,omitempty"`
	// Confidence is stored with a freshly generated result.
	Confidence float64 `json:"confidence,omitempty"`
}

// Result is the outcome of one acquisition.
type Result struct {
	Key           string                    `json:"key"`
	CanonicalURL  string                    `json:"canonical_url"`
	FromCache     bool                      `json:"from_cache"`
	Shared        bool                      `json:"shared,omitempty"`
	Content       model.GenerationOutput    `json:"content"`
	Analysis      *model.Analysis           `json:"analysis,omitempty"`
	Provider      string                    `json:"provider,omitempty"`
	Confidence    float64                   `json:"confidence"`
	Written       bool                      `json:"written"`
	Cost          float64                   `json:"cost"`
	ReferenceCost float64                   `json:"reference_cost"`
	Savings       float64                   `json:"savings"`
	Attempts      []model.GenerationAttempt `json:"attempts,omitempty"`
	// Err is set on batch items that failed.
	Err   error  `json:"-"`
	Error string `json:"error,omitempty"`
}

// Coordinator runs acquisitions.
type Coordinator struct {
	cache    Cache
	router   Router
	pricer   Pricer
	cfg      Config
	analyzer Analyzer
	tracker  *cost.Tracker
	flight   singleflight.Group
}

// New creates a Coordinator.
func New(c Cache, r Router, p Pricer, cfg Config) *Coordinator {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 5
	}
	if cfg.DefaultConfidence <= 0 {
		cfg.DefaultConfidence = 0.8
	}
	if cfg.DefaultConfidence < cfg.MinConfidence {
		zap.L().Warn("pipeline: default confidence below min confidence, raising it",
			zap.Float64("default_confidence", cfg.DefaultConfidence),
			zap.Float64("min_confidence", cfg.MinConfidence),
		)
		cfg.DefaultConfidence = cfg.MinConfidence
	}
	return &Coordinator{cache: c, router: r, pricer: p, cfg: cfg}
}

// WithAnalyzer sets the analyzer used for analysis payloads.
func (c *Coordinator) WithAnalyzer(a Analyzer) *Coordinator {
	c.analyzer = a
	return c
}

// WithTracker records every successful acquisition in t.
func (c *Coordinator) WithTracker(t *cost.Tracker) *Coordinator {
	c.tracker = t
	return c
}

// Acquire returns cached content for req.URL when a qualifying entry exists,
// otherwise routes a generation, stores it and returns it with its cost.
// Errors are *canon.InvalidURLError, *cache.StoreUnavailableError,
// *router.NoProviderConfiguredError or *router.ExhaustedError.
func (c *Coordinator) Acquire(ctx context.Context, req AcquireRequest) (*Result, error) {
	ctx, span := tracer.Start(ctx, "pipeline.Acquire")
	defer span.End()

	res, err := c.acquire(ctx, req, span)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if c.tracker != nil {
		c.tracker.Add(res.Cost, res.ReferenceCost, res.FromCache || res.Shared)
	}
	return res, nil
}

func (c *Coordinator) acquire(ctx context.Context, req AcquireRequest, span trace.Span) (*Result, error) {
	capability, kind, err := c.resolveKinds(req)
	if err != nil {
		return nil, err
	}

	canonical, key, err := canon.KeyFor(req.URL)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("key", key),
		attribute.String("capability", string(capability)),
	)

	minConf := req.MinConfidence
	if minConf <= 0 {
		minConf = c.cfg.MinConfidence
	}
	maxAge := req.MaxAge
	if maxAge <= 0 {
		maxAge = c.cfg.MaxAge
	}

	log := zap.L().With(zap.String("url", canonical), zap.String("key", key[:12]))

	entry, err := c.cache.Lookup(ctx, key, kind, minConf, maxAge)
	if err != nil {
		return nil, err
	}
	units := model.GenerationRequest{Units: req.Units}.UnitsOrDefault()
	if entry != nil && entry.Payload.Kind == kind {
		reference := c.referenceCost(capability, units)
		log.Debug("pipeline: cache hit", zap.Float64("confidence", entry.Confidence))
		span.SetAttributes(attribute.Bool("from_cache", true))
		return &Result{
			Key:           key,
			CanonicalURL:  canonical,
			FromCache:     true,
			Content:       entry.Payload.Content(),
			Analysis:      entry.Payload.Analysis,
			Provider:      entry.Payload.Provider,
			Confidence:    entry.Confidence,
			ReferenceCost: reference,
			Savings:       reference,
		}, nil
	}
	span.SetAttributes(attribute.Bool("from_cache", false))

	if !c.cfg.SingleFlight {
		return c.generate(ctx, req, canonical, key, capability, kind, maxAge, log)
	}

	// The shared generation outlives any one caller; the router's attempt
	// and total timeouts bound it. Each caller waits on its own context.
	shared := context.WithoutCancel(ctx)
	leader := false
	ch := c.flight.DoChan(key+"|"+string(kind), func() (any, error) {
		leader = true
		return c.generate(shared, req, canonical, key, capability, kind, maxAge, log)
	})
	var out singleflight.Result
	select {
	case <-ctx.Done():
		return nil, eris.Wrap(ctx.Err(), "pipeline: acquire")
	case out = <-ch:
	}
	if out.Err != nil {
		return nil, out.Err
	}
	res := *out.Val.(*Result)
	if !leader {
		// Followers did not pay for the generation.
		res.Shared = true
		res.Written = false
		res.Cost = 0
		res.Savings = res.ReferenceCost
		res.Attempts = nil
	}
	return &res, nil
}

func (c *Coordinator) generate(ctx context.Context, req AcquireRequest, canonical, key string, capability model.Capability, kind model.PayloadKind, maxAge time.Duration, log *zap.Logger) (*Result, error) {
	gen, err := c.router.Route(ctx, model.GenerationRequest{
		Prompt: req.Prompt,
		Units:  req.Units,
		Params: req.Params,
	}, capability)
	if err != nil {
		return nil, err
	}

	payload, confidence, err := c.buildPayload(ctx, canonical, kind, gen)
	if err != nil {
		return nil, err
	}
	if req.Confidence > 0 {
		confidence = req.Confidence
	}

	written, err := c.cache.Write(ctx, canonical, payload, confidence, maxAge)
	if err != nil {
		log.Error("pipeline: generated content could not be cached",
			zap.String("provider", gen.ProviderUsed),
			zap.Float64("cost", gen.Cost),
			zap.Error(err),
		)
		return nil, err
	}
	log.Info("pipeline: generated",
		zap.String("provider", gen.ProviderUsed),
		zap.Float64("cost", gen.Cost),
		zap.Float64("savings", gen.Savings),
		zap.Bool("written", written),
	)

	return &Result{
		Key:           key,
		CanonicalURL:  canonical,
		Content:       gen.Content,
		Analysis:      payload.Analysis,
		Provider:      gen.ProviderUsed,
		Confidence:    confidence,
		Written:       written,
		Cost:          gen.Cost,
		ReferenceCost: gen.ReferenceCost,
		Savings:       gen.Savings,
		Attempts:      gen.Attempts,
	}, nil
}

// buildPayload wraps generated output in the payload kind requested and
// returns the confidence to store it with.
func (c *Coordinator) buildPayload(ctx context.Context, canonical string, kind model.PayloadKind, gen *model.GenerationResult) (model.Payload, float64, error) {
	p := model.Payload{Kind: kind, Provider: gen.ProviderUsed}
	confidence := c.cfg.DefaultConfidence

	switch kind {
	case model.PayloadImage:
		p.Image = gen.Content.Image
	case model.PayloadText:
		p.Text = gen.Content.Text
	case model.PayloadAnalysis:
		if c.analyzer == nil {
			p.Analysis = &model.Analysis{Raw: gen.Content.Text}
			break
		}
		analysis, conf, err := c.analyzer.Analyze(ctx, canonical, gen.Content)
		if err != nil {
			return p, 0, eris.Wrap(err, "pipeline: analyze")
		}
		if analysis == nil {
			analysis = &model.Analysis{}
		}
		if analysis.Raw == "" {
			analysis.Raw = gen.Content.Text
		}
		p.Analysis = analysis
		if conf > 0 {
			confidence = conf
		}
	}
	return p, confidence, nil
}

func (c *Coordinator) resolveKinds(req AcquireRequest) (model.Capability, model.PayloadKind, error) {
	capability := req.Capability
	if capability == "" {
		capability = model.CapabilityText
	}
	if _, ok := model.ParseCapability(string(capability)); !ok {
		return "", "", eris.Wrapf(ErrInvalidRequest, "unknown capability %q", capability)
	}

	kind := req.Kind
	if kind == "" {
		kind = model.PayloadText
		if capability == model.CapabilityImage {
			kind = model.PayloadImage
		}
	}
	switch {
	case capability == model.CapabilityImage && kind != model.PayloadImage,
		capability == model.CapabilityText && kind == model.PayloadImage:
		return "", "", eris.Wrapf(ErrInvalidRequest, "payload kind %q does not match capability %q", kind, capability)
	case kind != model.PayloadText && kind != model.PayloadImage && kind != model.PayloadAnalysis:
		return "", "", eris.Wrapf(ErrInvalidRequest, "unknown payload kind %q", kind)
	}
	return capability, kind, nil
}

func (c *Coordinator) referenceCost(capability model.Capability, units int) float64 {
	if c.pricer == nil {
		return 0
	}
	return c.pricer.ReferenceCost(capability) * float64(units)
}
