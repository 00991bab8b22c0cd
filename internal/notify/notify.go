// Package notify fires PagerDuty Events API v2 alerts for the handful
// of conditions an operator must act on immediately: a connector going
// unreachable, a critical invariant failure surfacing on a snapshot,
// and a CFO lock-gate override being recorded.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Config controls whether and where alerts are sent.
type Config struct {
	RoutingKey  string
	Enabled     bool
	SourceName  string
	HTTPTimeout time.Duration
}

// DefaultConfig returns an alerting-disabled default; a routing key
// must be set explicitly to turn alerts on.
func DefaultConfig() Config {
	return Config{Enabled: false, SourceName: "cashopsd", HTTPTimeout: 10 * time.Second}
}

// Severity maps to a PagerDuty alert severity.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityError    Severity = "error"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

const eventsURL = "https://events.pagerduty.com/v2/enqueue"

// Client sends incidents to PagerDuty Events API v2.
type Client struct {
	cfg    Config
	client *http.Client
	logger zerolog.Logger
}

func New(cfg Config, logger zerolog.Logger) *Client {
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.HTTPTimeout},
		logger: logger.With().Str("component", "notify").Logger(),
	}
}

// Trigger fires an alert, deduplicated by dedupKey. It is a no-op when
// alerting is disabled or no routing key is configured.
func (c *Client) Trigger(severity Severity, summary, dedupKey string, details map[string]interface{}) error {
	if !c.cfg.Enabled || c.cfg.RoutingKey == "" {
		c.logger.Debug().Str("summary", summary).Msg("alerting disabled, suppressing")
		return nil
	}

	payload := map[string]interface{}{
		"routing_key":  c.cfg.RoutingKey,
		"event_action": "trigger",
		"dedup_key":    dedupKey,
		"payload": map[string]interface{}{
			"summary":         summary,
			"severity":        string(severity),
			"source":          c.cfg.SourceName,
			"component":       "cashopsd",
			"group":           "cash-operations",
			"class":           "data-quality",
			"timestamp":       time.Now().UTC().Format(time.RFC3339),
			"custom_details":  details,
		},
	}
	return c.post(payload, dedupKey, "trigger")
}

// Resolve resolves a previously triggered alert.
func (c *Client) Resolve(dedupKey string) error {
	if !c.cfg.Enabled || c.cfg.RoutingKey == "" {
		return nil
	}
	payload := map[string]interface{}{
		"routing_key":  c.cfg.RoutingKey,
		"event_action": "resolve",
		"dedup_key":    dedupKey,
	}
	return c.post(payload, dedupKey, "resolve")
}

func (c *Client) post(payload map[string]interface{}, dedupKey, action string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify: marshal failed: %w", err)
	}
	resp, err := c.client.Post(eventsURL, "application/json", bytes.NewReader(body))
	if err != nil {
		c.logger.Error().Err(err).Str("dedup_key", dedupKey).Msg("PagerDuty API call failed")
		return fmt.Errorf("notify: %s call failed: %w", action, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 400 {
		return fmt.Errorf("notify: %s HTTP %d", action, resp.StatusCode)
	}
	c.logger.Info().Str("dedup_key", dedupKey).Str("action", action).Msg("alert sent")
	return nil
}

// AlertConnectorDown fires when a connector's Test call fails.
func (c *Client) AlertConnectorDown(connectionID, errMsg string) error {
	return c.Trigger(SeverityCritical,
		fmt.Sprintf("cashopsd: connector %s is unreachable", connectionID),
		fmt.Sprintf("cashops-connector-down-%s", connectionID),
		map[string]interface{}{"connection_id": connectionID, "error": errMsg})
}

// AlertConnectorRecovered resolves a connector-down alert.
func (c *Client) AlertConnectorRecovered(connectionID string) error {
	return c.Resolve(fmt.Sprintf("cashops-connector-down-%s", connectionID))
}

// AlertCriticalInvariantFailure fires when an invariant run produces a
// CRITICAL-severity FAIL.
func (c *Client) AlertCriticalInvariantFailure(snapshotID, checkName, proof string) error {
	return c.Trigger(SeverityCritical,
		fmt.Sprintf("cashopsd: critical invariant failure on snapshot %s (%s)", snapshotID, checkName),
		fmt.Sprintf("cashops-invariant-%s-%s", snapshotID, checkName),
		map[string]interface{}{"snapshot_id": snapshotID, "check": checkName, "proof": proof})
}

// AlertLockGateOverride fires when a CFO override is recorded, so the
// decision is visible to on-call even though it was policy-permitted.
func (c *Client) AlertLockGateOverride(snapshotID, user string, failedGates []string) error {
	return c.Trigger(SeverityWarning,
		fmt.Sprintf("cashopsd: lock gates overridden on snapshot %s by %s", snapshotID, user),
		fmt.Sprintf("cashops-override-%s-%d", snapshotID, time.Now().Unix()/300),
		map[string]interface{}{"snapshot_id": snapshotID, "user": user, "failed_gates": failedGates})
}
