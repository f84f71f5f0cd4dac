package events

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/athena-provd/athena-provd/internal/metrics"
)

// WebhookConfig describes a single webhook binding.
type WebhookConfig struct {
	Name         string
	Events       []string
	URL          string
	Method       string
	Headers      map[string]string
	Timeout      time.Duration
	Retries      int
	RetryBackoff time.Duration
	Secret       string // HMAC secret for signing
	Template     string // "slack", "teams", or empty for raw JSON
}

// WebhookSender delivers events to HTTP endpoints with retry and
// HMAC-SHA256 signing. One pooled client serves every hook.
type WebhookSender struct {
	client *http.Client
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewWebhookSender creates a new webhook sender.
func NewWebhookSender(timeout time.Duration, logger *slog.Logger) *WebhookSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookSender{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger,
	}
}

// Send delivers an event to a webhook endpoint without blocking the caller.
func (w *WebhookSender) Send(cfg WebhookConfig, evt Event) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.deliver(cfg, evt)
	}()
}

// Wait blocks until all pending webhooks complete.
func (w *WebhookSender) Wait() {
	w.wg.Wait()
}

// deliver attempts the webhook with doubling backoff between attempts.
func (w *WebhookSender) deliver(cfg WebhookConfig, evt Event) {
	body, err := buildPayload(cfg.Template, evt)
	if err != nil {
		w.logger.Error("failed to marshal webhook payload",
			"hook_name", cfg.Name,
			"error", err)
		return
	}

	retries := cfg.Retries
	if retries <= 0 {
		retries = 1
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = time.Second
	}

	start := time.Now()
	defer func() {
		metrics.HookDuration.WithLabelValues("webhook").Observe(time.Since(start).Seconds())
	}()

	for attempt := 1; attempt <= retries; attempt++ {
		if attempt > 1 {
			time.Sleep(backoff * time.Duration(1<<uint(attempt-2)))
		}

		err = w.post(cfg, string(evt.Type), body)
		if err == nil {
			metrics.HookExecutions.WithLabelValues("webhook", "success").Inc()
			w.logger.Debug("webhook delivered",
				"hook_name", cfg.Name,
				"url", cfg.URL,
				"event", string(evt.Type),
				"attempt", attempt)
			return
		}

		w.logger.Warn("webhook delivery failed, retrying",
			"hook_name", cfg.Name,
			"url", cfg.URL,
			"attempt", attempt,
			"max_retries", retries,
			"error", err)
	}

	metrics.HookExecutions.WithLabelValues("webhook", "error").Inc()
	w.logger.Error("webhook delivery failed after all retries",
		"hook_name", cfg.Name,
		"url", cfg.URL,
		"retries", retries,
		"error", err)
}

// post performs a single HTTP request.
func (w *WebhookSender) post(cfg WebhookConfig, eventType string, body []byte) error {
	method := cfg.Method
	if method == "" {
		method = http.MethodPost
	}

	req, err := http.NewRequest(method, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Athena-Event", eventType)
	req.Header.Set("User-Agent", "athena-provd/1.0")
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
	if cfg.Secret != "" {
		req.Header.Set("X-Athena-Signature", "sha256="+computeHMAC(body, cfg.Secret))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request to %s: %w", cfg.URL, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func buildPayload(template string, evt Event) ([]byte, error) {
	switch template {
	case "slack":
		return buildSlackPayload(evt)
	case "teams":
		return buildTeamsPayload(evt)
	default:
		return json.Marshal(evt)
	}
}

// computeHMAC computes HMAC-SHA256 of the payload.
func computeHMAC(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// buildSlackPayload creates a Slack-formatted webhook payload.
func buildSlackPayload(evt Event) ([]byte, error) {
	text := fmt.Sprintf("*%s*", evt.Type)
	if evt.Lease != nil {
		if evt.Lease.Interface != "" {
			text += fmt.Sprintf("\nInterface: `%s`", evt.Lease.Interface)
		}
		if evt.Lease.IP != nil {
			text += fmt.Sprintf("\nIP: `%s`", evt.Lease.IP)
		}
		if evt.Lease.Server != nil {
			text += fmt.Sprintf("\nServer: `%s`", evt.Lease.Server)
		}
		if evt.Lease.Hostname != "" {
			text += fmt.Sprintf("\nHostname: `%s`", evt.Lease.Hostname)
		}
	}
	if evt.State != nil {
		text += fmt.Sprintf("\nState: `%s` to `%s`", evt.State.Old, evt.State.New)
	}
	if evt.Conflict != nil {
		if evt.Conflict.IP != "" {
			text += fmt.Sprintf("\nConflict IP: `%s`", evt.Conflict.IP)
		}
		text += fmt.Sprintf("\nMethod: `%s`", evt.Conflict.DetectionMethod)
		if evt.Conflict.ResponderMAC != "" {
			text += fmt.Sprintf("\nResponder: `%s`", evt.Conflict.ResponderMAC)
		}
	}
	if evt.Rogue != nil {
		text += fmt.Sprintf("\nRogue server: `%s`", evt.Rogue.ServerIP)
	}
	if evt.Reason != "" {
		text += fmt.Sprintf("\nReason: %s", evt.Reason)
	}

	return json.Marshal(map[string]string{"text": text})
}

// buildTeamsPayload creates a Microsoft Teams-formatted webhook payload.
func buildTeamsPayload(evt Event) ([]byte, error) {
	title := string(evt.Type)
	text := fmt.Sprintf("Event: **%s** at %s", evt.Type, evt.Timestamp.Format(time.RFC3339))

	if evt.Lease != nil {
		if evt.Lease.Interface != "" {
			text += fmt.Sprintf("<br>Interface: %s", evt.Lease.Interface)
		}
		if evt.Lease.IP != nil {
			text += fmt.Sprintf("<br>IP: %s", evt.Lease.IP)
		}
		if evt.Lease.Hostname != "" {
			text += fmt.Sprintf("<br>Hostname: %s", evt.Lease.Hostname)
		}
	}
	if evt.State != nil {
		text += fmt.Sprintf("<br>State: %s to %s", evt.State.Old, evt.State.New)
	}
	if evt.Conflict != nil {
		if evt.Conflict.IP != "" {
			text += fmt.Sprintf("<br>Conflict IP: %s", evt.Conflict.IP)
		}
		text += fmt.Sprintf("<br>Detection: %s", evt.Conflict.DetectionMethod)
	}

	payload := map[string]interface{}{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"summary":    title,
		"themeColor": "0076D7",
		"title":      "athena-provd: " + title,
		"text":       text,
	}
	return json.Marshal(payload)
}
