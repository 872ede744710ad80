package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intel-cache/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertCostOverrun AlertType = "cost_overrun"
	AlertCircuitOpen AlertType = "circuit_open"
	AlertLowHitRate  AlertType = "low_hit_rate"
	AlertHitTracking AlertType = "hit_tracking_failures"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	// Spend within the window.
	if a.cfg.CostThresholdUSD > 0 && snap.CostUSD > a.cfg.CostThresholdUSD {
		alerts = append(alerts, Alert{
			Type:     AlertCostOverrun,
			Severity: "high",
			Message: fmt.Sprintf(
				"Provider spend $%.2f exceeds threshold $%.2f in last %s",
				snap.CostUSD, a.cfg.CostThresholdUSD, snap.Window.Round(time.Second),
			),
			Details: map[string]any{
				"cost_usd":      snap.CostUSD,
				"threshold_usd": a.cfg.CostThresholdUSD,
				"requests":      snap.Requests,
			},
			Timestamp: now,
		})
	}

	// Providers being skipped.
	if len(snap.OpenCircuits) > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertCircuitOpen,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d provider circuit(s) open: %s",
				len(snap.OpenCircuits), strings.Join(snap.OpenCircuits, ", "),
			),
			Details: map[string]any{
				"providers": snap.OpenCircuits,
			},
			Timestamp: now,
		})
	}

	// Cache effectiveness, once there is enough traffic to judge.
	if a.cfg.MinHitRate > 0 && snap.Requests >= a.minRequests() && snap.HitRate < a.cfg.MinHitRate {
		alerts = append(alerts, Alert{
			Type:     AlertLowHitRate,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Cache hit rate %.1f%% below %.1f%% (%d hits / %d requests)",
				snap.HitRate*100, a.cfg.MinHitRate*100, snap.CacheHits, snap.Requests,
			),
			Details: map[string]any{
				"hit_rate":  snap.HitRate,
				"threshold": a.cfg.MinHitRate,
				"requests":  snap.Requests,
			},
			Timestamp: now,
		})
	}

	if snap.BumpsFailed > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertHitTracking,
			Severity: "low",
			Message:  fmt.Sprintf("%d hit-count update(s) failed; sweep may delete served entries", snap.BumpsFailed),
			Details: map[string]any{
				"bumps_failed":  snap.BumpsFailed,
				"bumps_dropped": snap.BumpsDropped,
			},
			Timestamp: now,
		})
	}

	return alerts
}

func (a *Alerter) minRequests() int {
	if a.cfg.MinRequests <= 0 {
		return 1
	}
	return a.cfg.MinRequests
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
