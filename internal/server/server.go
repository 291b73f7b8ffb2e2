package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"pulseboard/internal/indicator"
	"pulseboard/internal/models"
	"pulseboard/internal/notify"
	"pulseboard/internal/query"
	"pulseboard/internal/realtime"
	"pulseboard/internal/stats"
	"pulseboard/internal/storage"
	"pulseboard/internal/webhooks"
)

// LinkSource is the slice of the realtime link the server consumes.
type LinkSource interface {
	Snapshot() realtime.Snapshot
	StateNow() realtime.State
	Reconnect()
}

// Options carries the collaborators wired in by main.
type Options struct {
	Addr         string
	Link         LinkSource
	Provider     *realtime.Provider
	Cache        *query.Cache
	Center       *notify.Center
	Hooks        *webhooks.Service
	Journal      *storage.Journal
	Gate         *Gate
	Gatherer     prometheus.Gatherer
	HistoryLimit int
	Log          *zap.Logger
}

// Server wraps HTTP serving of the dashboard API and its realtime push.
type Server struct {
	httpServer   *http.Server
	link         LinkSource
	provider     *realtime.Provider
	cache        *query.Cache
	center       *notify.Center
	hooks        *webhooks.Service
	journal      *storage.Journal
	gate         *Gate
	log          *zap.Logger
	historyLimit int
	startedAt    time.Time

	live *liveHub
}

// New creates a configured HTTP server for the dashboard.
func New(opts Options) *Server {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 200
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}

	mux := http.NewServeMux()
	s := &Server{
		httpServer:   &http.Server{Addr: opts.Addr, Handler: mux},
		link:         opts.Link,
		provider:     opts.Provider,
		cache:        opts.Cache,
		center:       opts.Center,
		hooks:        opts.Hooks,
		journal:      opts.Journal,
		gate:         opts.Gate,
		log:          opts.Log,
		historyLimit: opts.HistoryLimit,
		startedAt:    time.Now().UTC(),
		live:         newLiveHub(),
	}
	s.registerRoutes(mux, opts.Gatherer)
	return s
}

// Handler exposes the routing tree, used by tests and embedding servers.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run blocks and serves HTTP traffic.
func (s *Server) Run() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts the server down.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// StateChanged is registered as a link watcher: it journals the transition,
// invalidates the affected query keys, and pushes the fresh status to live
// dashboard clients.
func (s *Server) StateChanged(change models.StateChange, snap realtime.Snapshot) {
	if err := s.journal.AppendTransition(change); err != nil {
		s.log.Warn("journal transition", zap.Error(err))
	}
	s.cache.Invalidate("history", "uptime")
	s.live.broadcast(snap)
}

// protect nests the fixed provider chain around a page handler: query
// context, then the auth gate, then the realtime scope, then the content.
// Rejected requests never acquire the realtime scope. The notification
// surface is mounted once, on the live socket.
func (s *Server) protect(next http.Handler) http.Handler {
	return withQueryCache(s.cache, s.gate.Middleware(s.provider.Middleware(next)))
}

func (s *Server) registerRoutes(mux *http.ServeMux, gatherer prometheus.Gatherer) {
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	if gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	api := http.NewServeMux()
	api.HandleFunc("GET /api/status", s.handleStatus)
	api.HandleFunc("POST /api/reconnect", s.handleReconnect)
	api.HandleFunc("GET /api/events", s.handleEvents)
	api.HandleFunc("GET /api/history", s.handleHistory)
	api.HandleFunc("GET /api/uptime", s.handleUptime)
	api.HandleFunc("GET /api/webhooks", s.handleWebhookList)
	api.HandleFunc("POST /api/webhooks", s.handleWebhookCreate)
	api.HandleFunc("GET /api/webhooks/{id}", s.handleWebhookGet)
	api.HandleFunc("GET /api/webhooks/{id}/delivery", s.handleWebhookDelivery)
	api.HandleFunc("PUT /api/webhooks/{id}", s.handleWebhookUpdate)
	api.HandleFunc("DELETE /api/webhooks/{id}", s.handleWebhookDelete)
	api.HandleFunc("GET /ws/live", s.handleLive)

	protected := s.protect(api)
	mux.Handle("/api/", protected)
	mux.Handle("/ws/", protected)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"uptime":  time.Since(s.startedAt).Round(time.Second).String(),
		"started": s.startedAt,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.statusPayload())
}

func (s *Server) handleReconnect(w http.ResponseWriter, _ *http.Request) {
	s.link.Reconnect()
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted"})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, s.historyLimit)
	cached, err := CacheFrom(r.Context()).Get("events", func() (any, error) {
		return s.journal.EventsN(s.historyLimit), nil
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	events, _ := cached.([]models.Event)
	if len(events) > limit {
		events = events[len(events)-limit:]
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, s.historyLimit)
	cached, err := CacheFrom(r.Context()).Get("history", func() (any, error) {
		return s.journal.TransitionsN(s.historyLimit), nil
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	history, _ := cached.([]models.StateChange)
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleUptime(w http.ResponseWriter, r *http.Request) {
	cached, err := CacheFrom(r.Context()).Get("uptime", func() (any, error) {
		return stats.ComputeLinkUptime(s.journal.TransitionsN(0), time.Now().UTC()), nil
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cached)
}

func (s *Server) handleWebhookList(w http.ResponseWriter, r *http.Request) {
	cached, err := CacheFrom(r.Context()).Get(webhooks.QueryKey, func() (any, error) {
		return s.hooks.List(), nil
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cached)
}

func (s *Server) handleWebhookCreate(w http.ResponseWriter, r *http.Request) {
	var hook models.Webhook
	if err := json.NewDecoder(r.Body).Decode(&hook); err != nil {
		writeError(w, http.StatusBadRequest, "invalid webhook payload")
		return
	}
	created, err := s.hooks.Create(hook)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleWebhookGet(w http.ResponseWriter, r *http.Request) {
	hook, err := s.hooks.Get(r.PathValue("id"))
	if err != nil {
		writeWebhookError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hook)
}

func (s *Server) handleWebhookDelivery(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.hooks.Get(id); err != nil {
		writeWebhookError(w, err)
		return
	}
	result, ok := s.hooks.LastDelivery(id)
	if !ok {
		writeError(w, http.StatusNotFound, "no deliveries yet")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleWebhookUpdate(w http.ResponseWriter, r *http.Request) {
	var hook models.Webhook
	if err := json.NewDecoder(r.Body).Decode(&hook); err != nil {
		writeError(w, http.StatusBadRequest, "invalid webhook payload")
		return
	}
	updated, err := s.hooks.Update(r.PathValue("id"), hook)
	if err != nil {
		writeWebhookError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleWebhookDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.hooks.Delete(r.PathValue("id")); err != nil {
		writeWebhookError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) statusPayload() statusPayload {
	snap := s.link.Snapshot()
	return statusPayload{
		GeneratedAt: time.Now().UTC(),
		State:       s.link.StateNow().String(),
		Snapshot:    snap,
		Indicator:   indicator.Render(snap),
		Compact:     indicator.RenderCompact(snap),
	}
}

type statusPayload struct {
	GeneratedAt time.Time         `json:"generated_at"`
	State       string            `json:"state"`
	Snapshot    realtime.Snapshot `json:"connection"`
	Indicator   indicator.Full    `json:"indicator"`
	Compact     indicator.Compact `json:"compact"`
}

func writeWebhookError(w http.ResponseWriter, err error) {
	if errors.Is(err, webhooks.ErrNotFound) {
		writeError(w, http.StatusNotFound, "webhook not found")
		return
	}
	writeError(w, http.StatusUnprocessableEntity, err.Error())
}

func parseLimit(r *http.Request, fallback int) int {
	if fallback <= 0 {
		return fallback
	}
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	if value > fallback {
		return fallback
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	if message == "" {
		message = "internal error"
	}
	writeJSON(w, status, map[string]string{"error": message})
}
