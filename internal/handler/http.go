package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/session-tracker/internal/config"
	"github.com/session-tracker/internal/domain"
	"github.com/session-tracker/internal/metrics"
	"github.com/session-tracker/internal/service"
	"github.com/session-tracker/internal/websocket"
)

// SessionService is the business logic behind the HTTP API
type SessionService interface {
	SubmitSession(ctx context.Context, body []byte, source string) (domain.MergeResult, error)
	ListSessions(ctx context.Context, q service.ListQuery) (*domain.SessionPage, error)
	GetSession(ctx context.Context, id string) (*domain.SessionDetail, error)
	Leaderboard(ctx context.Context, mode domain.Mode, limit int) ([]domain.LeaderboardEntry, error)
	Players(ctx context.Context, search string, limit int) ([]domain.PlayerSummary, error)
	Modes(ctx context.Context) ([]domain.ModeSummary, error)
	Stats(ctx context.Context) (*domain.Stats, error)
}

// Handler provides HTTP handlers for the session API
type Handler struct {
	service SessionService
	hub     *websocket.Hub
	metrics *metrics.Recorder
	config  *config.Config
	logger  *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(svc SessionService, cfg *config.Config, logger *slog.Logger) *Handler {
	return &Handler{
		service: svc,
		config:  cfg,
		logger:  logger,
	}
}

// SetHub enables the live feed endpoint
func (h *Handler) SetHub(hub *websocket.Hub) {
	h.hub = hub
}

// SetMetrics enables request metrics and the /metrics endpoint
func (h *Handler) SetMetrics(m *metrics.Recorder) {
	h.metrics = m
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(h.instrument)

	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics.Handler())
	}

	if prefix := h.config.Server.PathPrefix; prefix == "" || prefix == "/" {
		h.apiRoutes(r)
	} else {
		r.Route(prefix, h.apiRoutes)
	}

	return r
}

// apiRoutes registers the session API; everything but health and version sits behind the gate
func (h *Handler) apiRoutes(r chi.Router) {
	r.Get("/health", h.HealthCheck)
	r.Get("/version", h.Version)

	r.Group(func(r chi.Router) {
		r.Use(RequireAPIKey(h.config.Auth.APIKey))

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", h.UpsertSession)
			r.Get("/", h.ListSessions)
			r.Get("/{id}", h.GetSession)
		})
		r.Get("/leaderboard", h.Leaderboard)
		r.Get("/players", h.Players)
		r.Get("/modes", h.Modes)
		r.Get("/stats", h.Stats)

		if h.hub != nil {
			r.Get("/ws", h.HandleWebSocket)
		}
	})
}

// errorResponse is the body of every failed data-plane request except 404
type errorResponse struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Details any    `json:"details,omitempty"`
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

// writeError maps a service error onto its HTTP status and body
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation_error", Details: ve})
	case domain.IsNotFoundError(err):
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
	case domain.IsPersistenceError(err):
		h.logger.Error("session merge failed", "error", err, "request_id", middleware.GetReqID(r.Context()))
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "persistence_error", Message: err.Error()})
	default:
		h.logger.Error("request failed", "error", err, "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()))
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal_error", Message: "internal server error"})
	}
}

// HealthCheck reports liveness
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Version reports the service name and build version
func (h *Handler) Version(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{
		"name":    h.config.App.Name,
		"version": h.config.App.Version,
	})
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}
