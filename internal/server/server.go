package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"eventRelay/internal/history"
	"eventRelay/internal/model"
	"eventRelay/internal/registry"
)

// Config bounds history queries.
type Config struct {
	// DefaultLimit applies when a query omits its limit.
	DefaultLimit int
	// MaxLimit caps any requested limit.
	MaxLimit int
}

// Server exposes the request surface: history queries, webhook subscription
// management, and the websocket push endpoint.
type Server struct {
	cfg      Config
	events   *history.Buffer
	actions  *history.Buffer
	registry *registry.Registry
	logger   *zap.Logger
}

func New(cfg Config, events, actions *history.Buffer, reg *registry.Registry, logger *zap.Logger) *Server {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 100
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = 10000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:      cfg,
		events:   events,
		actions:  actions,
		registry: reg,
		logger:   logger,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", s.handleQuery(model.KindEvents, s.events))
	mux.HandleFunc("/actions", s.handleQuery(model.KindActions, s.actions))
	mux.HandleFunc("/subscribe", s.handleSubscribe)
	mux.HandleFunc("/unsubscribe", s.handleUnsubscribe)
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", handleHealthz)
	mux.Handle("/metrics", promhttp.Handler())
	return s.logRequests(mux)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.logger.Debug("request", zap.String("method", r.Method), zap.String("path", r.URL.Path))
		next.ServeHTTP(w, r)
	})
}

// queryRequest distinguishes an absent filter from an explicit null one.
type queryRequest struct {
	Filter json.RawMessage `json:"filter"`
	Limit  *int            `json:"limit"`
}

func (s *Server) handleQuery(kind model.Kind, buffer *history.Buffer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req queryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("err: invalid body: %v", err), http.StatusBadRequest)
			return
		}
		if req.Filter == nil {
			http.Error(w, `err: required field is "filter"`, http.StatusBadRequest)
			return
		}
		var spec any
		if err := json.Unmarshal(req.Filter, &spec); err != nil {
			http.Error(w, fmt.Sprintf("err: invalid filter: %v", err), http.StatusBadRequest)
			return
		}

		rows := buffer.Query(spec, s.resolveLimit(req.Limit))
		if rows == nil {
			rows = []model.Row{}
		}
		writeJSON(w, map[string]any{string(kind): rows})
	}
}

// resolveLimit clamps a requested limit to [0, MaxLimit], defaulting when the
// request omits it.
func (s *Server) resolveLimit(requested *int) int {
	limit := s.cfg.DefaultLimit
	if requested != nil {
		limit = *requested
	}
	if limit < 0 {
		limit = 0
	}
	if limit > s.cfg.MaxLimit {
		limit = s.cfg.MaxLimit
	}
	return limit
}

type subscribeRequest struct {
	Filter json.RawMessage `json:"filter"`
	URL    string          `json:"url"`
	Secret string          `json:"secret"`
	Kind   model.Kind      `json:"kind"`
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("err: invalid body: %v", err), http.StatusBadRequest)
		return
	}
	if req.Filter == nil || req.URL == "" || req.Secret == "" {
		http.Error(w, `err: required fields are "filter", "url", "secret"`, http.StatusBadRequest)
		return
	}
	var spec any
	if err := json.Unmarshal(req.Filter, &spec); err != nil {
		http.Error(w, fmt.Sprintf("err: invalid filter: %v", err), http.StatusBadRequest)
		return
	}

	if err := s.registry.CreateWebhook(req.Secret, spec, req.URL, req.Kind); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, registry.ErrDuplicateSecret) {
			status = http.StatusConflict
		}
		http.Error(w, fmt.Sprintf("err: %v", err), status)
		return
	}
	s.logger.Info("webhook subscribed", zap.String("url", req.URL))
	writeJSON(w, map[string]any{"ok": true})
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Secret string `json:"secret"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("err: invalid body: %v", err), http.StatusBadRequest)
		return
	}
	if req.Secret == "" {
		http.Error(w, `err: required field is "secret"`, http.StatusBadRequest)
		return
	}

	if err := s.registry.DeleteWebhook(req.Secret); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, registry.ErrNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, fmt.Sprintf("err: %v", err), status)
		return
	}
	s.logger.Info("webhook unsubscribed")
	writeJSON(w, map[string]any{"ok": true})
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Headers are already out; nothing useful left to do.
		return
	}
}
