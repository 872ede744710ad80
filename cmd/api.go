package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/intel-cache/internal/cache"
	"github.com/sells-group/intel-cache/internal/canon"
	"github.com/sells-group/intel-cache/internal/cost"
	"github.com/sells-group/intel-cache/internal/model"
	"github.com/sells-group/intel-cache/internal/pipeline"
	"github.com/sells-group/intel-cache/internal/provider"
	"github.com/sells-group/intel-cache/internal/resilience"
	"github.com/sells-group/intel-cache/internal/router"
)

const (
	maxBodyBytes = 1 << 20
	maxBatchSize = 100
)

// acquireBody is the JSON form of an acquisition request.
type acquireBody struct {
	URL           string            `json:"url"`
	Prompt        string            `json:"prompt"`
	Capability    string            `json:"capability,omitempty"`
	Kind          string            `json:"kind,omitempty"`
	Units         int               `json:"units,omitempty"`
	Params        map[string]string `json:"params,omitempty"`
	MinConfidence float64           `json:"min_confidence,omitempty"`
	MaxAgeSecs    int               `json:"max_age_secs,omitempty"`
	Confidence    float64           `json:"confidence,omitempty"`
}

func (b acquireBody) request() pipeline.AcquireRequest {
	return pipeline.AcquireRequest{
		URL:           b.URL,
		Prompt:        b.Prompt,
		Capability:    model.Capability(b.Capability),
		Kind:          model.PayloadKind(b.Kind),
		Units:         b.Units,
		Params:        b.Params,
		MinConfidence: b.MinConfidence,
		MaxAge:        time.Duration(b.MaxAgeSecs) * time.Second,
		Confidence:    b.Confidence,
	}
}

type batchBody struct {
	Requests []acquireBody `json:"requests"`
}

type batchResponse struct {
	Results []pipeline.Result `json:"results"`
	Summary cost.Summary      `json:"summary"`
}

type providerView struct {
	provider.Entry
	Circuit string `json:"circuit"`
}

// api serves the HTTP surface over an appEnv.
type api struct {
	env *appEnv
}

// buildRouter returns the chi handler for every API route.
func buildRouter(env *appEnv, allowedOrigins []string) http.Handler {
	a := &api{env: env}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", a.health)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/providers", a.providers)
		r.Post("/acquire", a.acquire)
		r.Post("/acquire/batch", a.acquireBatch)
		r.Get("/costs", a.costs)
		r.Get("/cache/stats", a.cacheStats)
	})
	return r
}

func (a *api) health(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *api) providers(w http.ResponseWriter, _ *http.Request) {
	var states map[string]resilience.CircuitState
	if a.env.Breakers != nil {
		states = a.env.Breakers.States()
	}
	entries := a.env.Registry.Entries()
	out := make([]providerView, 0, len(entries))
	for _, e := range entries {
		state := resilience.CircuitClosed
		if s, ok := states[e.Name]; ok {
			state = s
		}
		out = append(out, providerView{Entry: e, Circuit: state.String()})
	}
	respondJSON(w, http.StatusOK, map[string]any{"providers": out})
}

func (a *api) acquire(w http.ResponseWriter, r *http.Request) {
	var body acquireBody
	if err := decodeBody(w, r, &body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.URL == "" {
		respondError(w, http.StatusBadRequest, "url is required")
		return
	}

	res, err := a.env.Coordinator.Acquire(r.Context(), body.request())
	if err != nil {
		respondAcquireError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (a *api) acquireBatch(w http.ResponseWriter, r *http.Request) {
	var body batchBody
	if err := decodeBody(w, r, &body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(body.Requests) == 0 {
		respondError(w, http.StatusBadRequest, "requests is required")
		return
	}
	if len(body.Requests) > maxBatchSize {
		respondError(w, http.StatusBadRequest, "too many requests in batch")
		return
	}

	reqs := make([]pipeline.AcquireRequest, len(body.Requests))
	for i, b := range body.Requests {
		reqs[i] = b.request()
	}
	results, summary, err := a.env.Coordinator.BatchAcquire(r.Context(), reqs)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, batchResponse{Results: results, Summary: summary})
}

func (a *api) costs(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, a.env.Tracker.Snapshot())
}

func (a *api) cacheStats(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, a.env.Cache.Stats())
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

// statusFor maps an acquisition error to an HTTP status.
// statusClientClosed is the de facto status for a request the client
// abandoned before a response was ready.
const statusClientClosed = 499

func statusFor(err error) int {
	var (
		invalidURL  *canon.InvalidURLError
		noProvider  *router.NoProviderConfiguredError
		exhausted   *router.ExhaustedError
		unavailable *cache.StoreUnavailableError
	)
	switch {
	case errors.As(err, &invalidURL), errors.Is(err, pipeline.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.As(err, &noProvider), errors.As(err, &unavailable):
		return http.StatusServiceUnavailable
	case errors.As(err, &exhausted):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled):
		return statusClientClosed
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func respondAcquireError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	body := map[string]any{"error": err.Error()}

	var exhausted *router.ExhaustedError
	if errors.As(err, &exhausted) {
		body["attempts"] = exhausted.Attempts
	}
	if status >= http.StatusInternalServerError {
		zap.L().Error("acquire failed", zap.Int("status", status), zap.Error(err))
	}
	respondJSON(w, status, body)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Warn("encode response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// requestLogger logs one line per request with zap.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", chimw.GetReqID(r.Context())),
		}
		switch {
		case ww.Status() >= 500:
			zap.L().Error("request", fields...)
		case ww.Status() >= 400:
			zap.L().Warn("request", fields...)
		default:
			zap.L().Debug("request", fields...)
		}
	})
}
