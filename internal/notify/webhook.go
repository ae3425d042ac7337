// Package notify posts evaluation decisions to an external webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/soyeahso/daogate/internal/config"
	"github.com/soyeahso/daogate/internal/domain"
	"github.com/soyeahso/daogate/internal/hooks"
	"github.com/soyeahso/daogate/internal/logging"
)

// Notification is the JSON body sent for each decision.
type Notification struct {
	Event     string        `json:"event"`
	SessionID string        `json:"sessionId"`
	Status    domain.Status `json:"status"`
	DAOName   string        `json:"daoName,omitempty"`
	Message   string        `json:"message,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Webhook delivers notifications with a single POST per decision.
type Webhook struct {
	url    string
	client *http.Client
	log    *logging.Logger
	now    func() time.Time
}

// NewWebhook returns nil when no URL is configured.
func NewWebhook(cfg config.WebhookConfig, log *logging.Logger) *Webhook {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: timeout},
		log:    log.Sub("notify"),
		now:    time.Now,
	}
}

// Send posts n. Any non-2xx response is an error.
func (w *Webhook) Send(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshaling notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "daogate-webhook")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting to webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	w.log.Debug().Str("event", n.Event).Str("sessionId", n.SessionID).Int("status", resp.StatusCode).Msg("webhook delivered")
	return nil
}

// Name identifies the webhook's hook handlers.
func (w *Webhook) Name() string { return "webhook" }

// Register sends a notification for every accepted or rejected session.
// A nil *Webhook registers nothing.
func (w *Webhook) Register(hm *hooks.Manager) {
	if w == nil || hm == nil {
		return
	}
	h := func(ctx context.Context, p hooks.Payload) error {
		n := Notification{
			Event:     p.Event,
			SessionID: p.SessionID,
			Status:    p.Status,
			Timestamp: w.now().UTC(),
		}
		if p.Session != nil {
			n.DAOName = p.Session.DAOName
		}
		if msg, ok := p.Data["message"].(string); ok {
			n.Message = msg
		}
		return w.Send(ctx, n)
	}
	hm.On(hooks.EventSessionAccepted, w.Name(), h)
	hm.On(hooks.EventSessionRejected, w.Name(), h)
}
