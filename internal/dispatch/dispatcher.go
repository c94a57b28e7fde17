package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"eventRelay/internal/filter"
	"eventRelay/internal/metrics"
	"eventRelay/internal/model"
	"eventRelay/internal/registry"
)

// DefaultTimeout bounds one webhook delivery.
const DefaultTimeout = time.Second

// Dispatcher fans a freshly decoded batch out to every subscriber whose filter
// matches. Webhook deliveries are detached; one broken consumer never delays
// another or the ingestion loop.
type Dispatcher struct {
	registry *registry.Registry
	client   *http.Client
	timeout  time.Duration
	logger   *zap.Logger
}

func New(reg *registry.Registry, timeout time.Duration, logger *zap.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		registry: reg,
		client:   &http.Client{},
		timeout:  timeout,
		logger:   logger,
	}
}

// Dispatch evaluates every subscription against the batch and delivers the
// matching subset per subscriber. It returns once webhook deliveries are
// launched and push deliveries are written; it never waits on webhook
// responses.
func (d *Dispatcher) Dispatch(rows []model.Row) {
	if len(rows) == 0 {
		return
	}

	byKind := map[model.Kind][]model.Row{}
	for _, row := range rows {
		byKind[row.Kind] = append(byKind[row.Kind], row)
	}

	for _, sub := range d.registry.WebhookSnapshot() {
		matched := filter.Rows(byKind[sub.Kind], sub.Filter)
		if len(matched) == 0 {
			continue
		}
		d.registry.RecordAttempt(sub.Secret)
		go d.deliver(sub, matched)
	}

	for _, sub := range d.registry.ConnSnapshot() {
		matched := filter.Rows(byKind[sub.Kind], sub.Filter)
		if len(matched) == 0 {
			continue
		}
		payload := map[string]any{
			"secret":         sub.Secret,
			string(sub.Kind): matched,
		}
		if err := sub.Conn.PushJSON(payload); err != nil {
			// The transport's own close event removes the subscription;
			// a failed push does not.
			metrics.Deliveries.WithLabelValues("push", "error").Inc()
			d.logger.Warn("push failed",
				zap.String("conn", sub.ID),
				zap.String("origin", sub.Origin),
				zap.Error(err),
			)
			continue
		}
		metrics.Deliveries.WithLabelValues("push", "ok").Inc()
	}
}

func (d *Dispatcher) deliver(sub registry.WebhookSub, rows []model.Row) {
	body, err := json.Marshal(map[string]any{
		"secret":         sub.Secret,
		string(sub.Kind): rows,
	})
	if err != nil {
		d.logger.Error("marshal webhook payload", zap.String("url", sub.URL), zap.Error(err))
		d.finish(sub.Secret, false)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		d.logger.Warn("build webhook request", zap.String("url", sub.URL), zap.Error(err))
		d.finish(sub.Secret, false)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.Debug("webhook delivery failed", zap.String("url", sub.URL), zap.Error(err))
		d.finish(sub.Secret, false)
		return
	}
	defer resp.Body.Close()

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	if !ok {
		d.logger.Debug("webhook delivery rejected",
			zap.String("url", sub.URL),
			zap.Int("status", resp.StatusCode),
		)
	}
	d.finish(sub.Secret, ok)
}

func (d *Dispatcher) finish(secret string, ok bool) {
	status := "ok"
	if !ok {
		status = "error"
	}
	metrics.Deliveries.WithLabelValues("webhook", status).Inc()
	d.registry.RecordOutcome(secret, ok)
}
