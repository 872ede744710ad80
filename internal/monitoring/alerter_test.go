package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/intel-cache/internal/config"
)

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		CostThresholdUSD: 50.0,
		MinHitRate:       0.3,
		MinRequests:      10,
	})

	snap := &MetricsSnapshot{
		Requests:  100,
		CacheHits: 60,
		HitRate:   0.6,
		CostUSD:   12.0,
		Window:    time.Hour,
	}

	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_CostOverrun(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{CostThresholdUSD: 10.0})

	snap := &MetricsSnapshot{
		Requests: 400,
		CostUSD:  25.0,
		Window:   5 * time.Minute,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertCostOverrun, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "$25.00")
	assert.Contains(t, alerts[0].Message, "5m0s")
}

func TestAlerter_Evaluate_ZeroCostThreshold(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{CostThresholdUSD: 0})

	assert.Empty(t, a.Evaluate(&MetricsSnapshot{CostUSD: 999.0}))
}

func TestAlerter_Evaluate_CircuitOpen(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})

	alerts := a.Evaluate(&MetricsSnapshot{OpenCircuits: []string{"claude-haiku", "sonar"}})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertCircuitOpen, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "2 provider circuit(s) open: claude-haiku, sonar")
}

func TestAlerter_Evaluate_LowHitRate(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{MinHitRate: 0.5, MinRequests: 20})

	alerts := a.Evaluate(&MetricsSnapshot{Requests: 40, CacheHits: 4, HitRate: 0.1})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertLowHitRate, alerts[0].Type)
	assert.Equal(t, "medium", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "10.0%")
}

func TestAlerter_Evaluate_LowHitRateNeedsTraffic(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{MinHitRate: 0.5, MinRequests: 20})

	// Only 5 requests: below the minimum for a hit-rate judgement.
	assert.Empty(t, a.Evaluate(&MetricsSnapshot{Requests: 5, HitRate: 0}))
}

func TestAlerter_Evaluate_MultipleAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		CostThresholdUSD: 1.0,
		MinHitRate:       0.5,
		MinRequests:      1,
	})

	snap := &MetricsSnapshot{
		Requests:     10,
		HitRate:      0.0,
		CostUSD:      3.0,
		BumpsFailed:  2,
		OpenCircuits: []string{"sonar"},
	}

	alerts := a.Evaluate(snap)
	assert.Len(t, alerts, 4)

	types := make(map[AlertType]bool)
	for _, a := range alerts {
		types[a.Type] = true
	}
	assert.True(t, types[AlertCostOverrun])
	assert.True(t, types[AlertCircuitOpen])
	assert.True(t, types[AlertLowHitRate])
	assert.True(t, types[AlertHitTracking])
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var alert Alert
		err := json.NewDecoder(r.Body).Decode(&alert)
		assert.NoError(t, err)
		assert.NotEmpty(t, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})

	alerts := []Alert{
		{Type: AlertCostOverrun, Severity: "high", Message: "test alert 1"},
		{Type: AlertCircuitOpen, Severity: "high", Message: "test alert 2"},
	}

	sent := a.SendAlerts(context.Background(), alerts)
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_EmptyURL(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{WebhookURL: ""})

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertCostOverrun, Message: "test"}})
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_EmptyAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{WebhookURL: "http://example.com"})

	assert.Equal(t, 0, a.SendAlerts(context.Background(), nil))
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertCostOverrun, Message: "test"}})
	assert.Equal(t, 0, sent)
}
