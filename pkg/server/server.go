// Package server exposes the ingestion boundary: one webhook endpoint
// per CI provider, a health probe, and Prometheus metrics. Webhook
// responses never wait for pipeline completion.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"remedy-copilot/pkg/store"
	"remedy-copilot/pkg/types"
	"remedy-copilot/pkg/webhook"
)

const maxWebhookBodyBytes = 5 << 20

// Dispatcher hands accepted events to the worker pool. It must not
// block the request path.
type Dispatcher interface {
	Dispatch(event *types.PipelineEvent) error
}

// Server is the HTTP ingestion boundary.
type Server struct {
	router     chi.Router
	events     store.EventStore
	hooks      *webhook.Registry
	dispatcher Dispatcher
	metrics    *Metrics
	logger     zerolog.Logger
}

// New assembles the server and its routes.
func New(events store.EventStore, hooks *webhook.Registry, dispatcher Dispatcher, reg *prometheus.Registry, logger zerolog.Logger) *Server {
	s := &Server{
		events:     events,
		hooks:      hooks,
		dispatcher: dispatcher,
		metrics:    NewMetrics(reg),
		logger:     logger.With().Str("component", "http_server").Logger(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Post("/webhooks/{provider}", s.handleWebhook)
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	s.router = r
	return s
}

// Handler returns the assembled router.
func (s *Server) Handler() http.Handler { return s.router }

type webhookResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	EventID string `json:"event_id,omitempty"`
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	handler := s.hooks.Get(provider)
	if handler == nil {
		s.count(provider, "unknown_provider")
		s.respond(w, http.StatusNotFound, webhookResponse{Status: "error", Message: "unknown provider"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
	if err != nil {
		s.count(provider, "read_error")
		s.respond(w, http.StatusBadRequest, webhookResponse{Status: "error", Message: "unreadable body"})
		return
	}

	if err := handler.Verify(r.Header, body); err != nil {
		s.count(provider, "bad_signature")
		s.logger.Warn().Str("provider", provider).Msg("webhook signature rejected")
		s.respond(w, http.StatusUnauthorized, webhookResponse{Status: "error", Message: "signature verification failed"})
		return
	}

	event, err := handler.Parse(r.Header, body)
	switch {
	case errors.Is(err, webhook.ErrIgnored):
		s.count(provider, "ignored")
		s.respond(w, http.StatusOK, webhookResponse{Status: "ignored"})
		return
	case err != nil:
		s.count(provider, "malformed")
		s.respond(w, http.StatusBadRequest, webhookResponse{Status: "error", Message: err.Error()})
		return
	}

	stored, created, err := s.events.Insert(r.Context(), event)
	if err != nil {
		s.count(provider, "storage_error")
		s.logger.Error().Err(err).Str("provider", provider).Msg("event insert failed")
		w.Header().Set("Retry-After", "60")
		s.respond(w, http.StatusServiceUnavailable, webhookResponse{Status: "error", Message: "storage unavailable"})
		return
	}
	if !created {
		s.count(provider, "duplicate")
		s.respond(w, http.StatusOK, webhookResponse{Status: "ignored", Message: "Duplicate event", EventID: stored.ID})
		return
	}

	if err := s.dispatcher.Dispatch(stored); err != nil {
		s.count(provider, "queue_full")
		s.logger.Error().Err(err).Str("event_id", stored.ID).Msg("dispatch failed")
		w.Header().Set("Retry-After", "60")
		s.respond(w, http.StatusServiceUnavailable, webhookResponse{Status: "error", Message: "worker queue unavailable"})
		return
	}

	s.count(provider, "accepted")
	s.logger.Info().
		Str("provider", provider).
		Str("event_id", stored.ID).
		Str("repo", stored.Repo).
		Str("idempotency_key", stored.IdempotencyKey).
		Msg("webhook accepted")
	s.respond(w, http.StatusAccepted, webhookResponse{Status: "accepted", EventID: stored.ID})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) respond(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error().Err(err).Msg("failed to write response")
	}
}

func (s *Server) count(provider, outcome string) {
	s.metrics.WebhooksReceived.WithLabelValues(provider, outcome).Inc()
}
