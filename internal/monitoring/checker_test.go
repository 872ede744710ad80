package monitoring

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/sells-group/intel-cache/internal/config"
	"github.com/sells-group/intel-cache/internal/cost"
	"github.com/sells-group/intel-cache/internal/resilience"
)

func TestChecker_RunStopsOnCancel(t *testing.T) {
	cfg := config.MonitoringConfig{CheckIntervalSecs: 1}
	checker := NewChecker(NewCollector(cost.NewTracker(), nil, nil), NewAlerter(cfg), cfg)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Checker.Run did not stop after context cancellation")
	}
}

func TestChecker_DefaultInterval(t *testing.T) {
	checker := NewChecker(NewCollector(nil, nil, nil), NewAlerter(config.MonitoringConfig{}), config.MonitoringConfig{})
	assert.NotNil(t, checker)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	checker.Run(ctx)
}

func TestChecker_CheckSendsAlerts(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	tracker := cost.NewTracker()
	tracker.Add(5.0, 8.0, false)
	cfg := config.MonitoringConfig{WebhookURL: ts.URL, CostThresholdUSD: 1.0}
	circuits := fakeCircuits{"sonar": resilience.CircuitOpen}
	checker := NewChecker(NewCollector(tracker, nil, circuits), NewAlerter(cfg), cfg)

	sent := checker.check(context.Background(), zap.NewNop())
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())

	// Spend was already reported; the open circuit is still current.
	sent = checker.check(context.Background(), zap.NewNop())
	assert.Equal(t, 1, sent)
}
