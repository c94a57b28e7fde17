package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"eventRelay/internal/model"
	"eventRelay/internal/store"
)

var (
	// ErrDuplicateSecret is returned when a webhook secret is already taken.
	ErrDuplicateSecret = errors.New("secret is already present")
	// ErrNotFound is returned when no subscription exists for a secret.
	ErrNotFound = errors.New("no subscription found for secret")
)

// Counters tracks delivery outcomes for one subscription. Total counts
// attempted deliveries; Success and Failure count completed ones.
type Counters struct {
	Total   uint64 `json:"total"`
	Success uint64 `json:"success"`
	Failure uint64 `json:"failure"`
}

// WebhookSub is a durable filter + callback URL subscription, keyed by its
// caller-supplied secret.
type WebhookSub struct {
	Secret   string     `json:"secret"`
	Filter   any        `json:"filter"`
	URL      string     `json:"url"`
	Kind     model.Kind `json:"kind"`
	Counters Counters   `json:"counters"`
}

// PushConn is the live delivery handle of a connection subscription.
type PushConn interface {
	// PushJSON writes one JSON message to the connection.
	PushJSON(v any) error
}

// ConnSub is an ephemeral subscription bound to an open push connection. The
// handle itself is never persisted; Meta is what survives for diagnostics.
type ConnSub struct {
	ID     string
	Secret string
	Filter any
	Kind   model.Kind
	Origin string
	Conn   PushConn
}

// ConnMeta is the persisted shape of a connection subscription.
type ConnMeta struct {
	Secret string `json:"secret"`
	Filter any    `json:"filter"`
	Origin string `json:"originAddress"`
}

// Registry owns both subscription sets. All mutation goes through its lock;
// the dispatcher reads copied snapshots, never the live maps.
type Registry struct {
	mu       sync.Mutex
	webhooks map[string]*WebhookSub
	conns    map[string]*ConnSub
	dirty    bool

	store  store.Store
	logger *zap.Logger
}

func New(st store.Store, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		webhooks: make(map[string]*WebhookSub),
		conns:    make(map[string]*ConnSub),
		store:    st,
		logger:   logger,
	}
}

// Load restores the webhook subscription set from the store. Connection
// subscriptions are never restored; their handles died with the process.
func (r *Registry) Load() error {
	if r.store == nil {
		return nil
	}
	var subs []WebhookSub
	found, err := r.store.Get(store.KeyWebhookSubs, &subs)
	if err != nil {
		return fmt.Errorf("load subscriptions: %w", err)
	}
	if !found {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range subs {
		sub := subs[i]
		if !sub.Kind.Valid() {
			sub.Kind = model.KindEvents
		}
		r.webhooks[sub.Secret] = &sub
	}
	return nil
}

// CreateWebhook registers a webhook subscription. The secret must be unused.
func (r *Registry) CreateWebhook(secret string, spec any, url string, kind model.Kind) error {
	if !kind.Valid() {
		kind = model.KindEvents
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.webhooks[secret]; exists {
		return fmt.Errorf("%q: %w", secret, ErrDuplicateSecret)
	}
	r.webhooks[secret] = &WebhookSub{Secret: secret, Filter: spec, URL: url, Kind: kind}
	r.dirty = true
	return nil
}

// DeleteWebhook removes the subscription for secret.
func (r *Registry) DeleteWebhook(secret string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.webhooks[secret]; !exists {
		return fmt.Errorf("%q: %w", secret, ErrNotFound)
	}
	delete(r.webhooks, secret)
	r.dirty = true
	return nil
}

// RecordAttempt increments the total counter for secret. A no-op when the
// subscription has since been deleted.
func (r *Registry) RecordAttempt(secret string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sub, ok := r.webhooks[secret]; ok {
		sub.Counters.Total++
		r.dirty = true
	}
}

// RecordOutcome increments the success or failure counter for secret. A no-op
// when the subscription has since been deleted.
func (r *Registry) RecordOutcome(secret string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, exists := r.webhooks[secret]
	if !exists {
		return
	}
	if ok {
		sub.Counters.Success++
	} else {
		sub.Counters.Failure++
	}
	r.dirty = true
}

// WebhookSnapshot returns a copy of the current webhook subscriptions.
func (r *Registry) WebhookSnapshot() []WebhookSub {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]WebhookSub, 0, len(r.webhooks))
	for _, sub := range r.webhooks {
		out = append(out, *sub)
	}
	return out
}

// ConnSubscribe installs or replaces the subscription for a connection and
// persists the metadata snapshot synchronously.
func (r *Registry) ConnSubscribe(id string, conn PushConn, secret string, spec any, kind model.Kind, origin string) {
	if !kind.Valid() {
		kind = model.KindEvents
	}

	r.mu.Lock()
	r.conns[id] = &ConnSub{ID: id, Secret: secret, Filter: spec, Kind: kind, Origin: origin, Conn: conn}
	meta := r.connMetaLocked()
	r.mu.Unlock()

	r.saveConnMeta(meta)
}

// ConnClose drops the subscription for a closed connection, if any.
func (r *Registry) ConnClose(id string) {
	r.mu.Lock()
	_, existed := r.conns[id]
	delete(r.conns, id)
	meta := r.connMetaLocked()
	r.mu.Unlock()

	if existed {
		r.saveConnMeta(meta)
	}
}

// ConnSnapshot returns a copy of the live connection subscriptions.
func (r *Registry) ConnSnapshot() []ConnSub {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ConnSub, 0, len(r.conns))
	for _, sub := range r.conns {
		out = append(out, *sub)
	}
	return out
}

func (r *Registry) connMetaLocked() []ConnMeta {
	meta := make([]ConnMeta, 0, len(r.conns))
	for _, sub := range r.conns {
		meta = append(meta, ConnMeta{Secret: sub.Secret, Filter: sub.Filter, Origin: sub.Origin})
	}
	return meta
}

func (r *Registry) saveConnMeta(meta []ConnMeta) {
	if r.store == nil {
		return
	}
	if err := r.store.Put(store.KeyConnectionSubs, meta); err != nil {
		r.logger.Error("save connection subscriptions", zap.Error(err))
	}
}

// Flush writes the webhook set to the store when it changed since the last
// flush.
func (r *Registry) Flush() error {
	if r.store == nil {
		return nil
	}

	r.mu.Lock()
	if !r.dirty {
		r.mu.Unlock()
		return nil
	}
	subs := make([]WebhookSub, 0, len(r.webhooks))
	for _, sub := range r.webhooks {
		subs = append(subs, *sub)
	}
	r.dirty = false
	r.mu.Unlock()

	if err := r.store.Put(store.KeyWebhookSubs, subs); err != nil {
		r.mu.Lock()
		r.dirty = true
		r.mu.Unlock()
		return fmt.Errorf("save subscriptions: %w", err)
	}
	return nil
}

// RunFlusher flushes dirty webhook state at the given interval until ctx is
// cancelled, with a final flush on the way out. Webhook mutations are rare
// enough that coalescing them is safe; connection metadata is written
// synchronously in the mutation paths instead.
func (r *Registry) RunFlusher(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := r.Flush(); err != nil {
				r.logger.Error("final flush", zap.Error(err))
			}
			return
		case <-ticker.C:
			if err := r.Flush(); err != nil {
				r.logger.Error("periodic flush", zap.Error(err))
			}
		}
	}
}
