package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/session-tracker/internal/domain"
	"github.com/session-tracker/internal/service"
)

type upsertResponse struct {
	OK bool `json:"ok"`
	domain.MergeResult
}

// UpsertSession handles session submission
func (h *Handler) UpsertSession(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.config.Server.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{
				Error:   "payload_too_large",
				Message: "request body exceeds " + strconv.FormatInt(tooLarge.Limit, 10) + " bytes",
			})
			return
		}
		ve := domain.NewValidationError()
		ve.AddForm("unable to read request body")
		h.writeError(w, r, ve)
		return
	}

	result, err := h.service.SubmitSession(r.Context(), body, service.SourceHTTP)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, upsertResponse{OK: true, MergeResult: result})
}

// ListSessions returns one page of sessions
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := h.service.ListSessions(r.Context(), service.ListQuery{
		Player: q.Get("player"),
		Mode:   domain.Mode(q.Get("mode")),
		From:   queryInt64(r, "from"),
		To:     queryInt64(r, "to"),
		Page:   queryInt(r, "page"),
		Limit:  queryInt(r, "limit"),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, page)
}

// GetSession returns a session with its splits
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	detail, err := h.service.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, detail)
}

// Leaderboard returns best scores, optionally within one mode
func (h *Handler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	mode := domain.Mode(r.URL.Query().Get("mode"))
	entries, err := h.service.Leaderboard(r.Context(), mode, queryInt(r, "limit"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, entries)
}

// Players returns per-player aggregates
func (h *Handler) Players(w http.ResponseWriter, r *http.Request) {
	players, err := h.service.Players(r.Context(), r.URL.Query().Get("search"), queryInt(r, "limit"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, players)
}

// Modes returns per-mode aggregates
func (h *Handler) Modes(w http.ResponseWriter, r *http.Request) {
	modes, err := h.service.Modes(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, modes)
}

// Stats returns global totals
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, stats)
}

// queryInt returns a positive integer query parameter, or 0 when it is
// missing or malformed so the service falls back to its default
func queryInt(r *http.Request, name string) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || v <= 0 {
		return 0
	}
	return v
}

// queryInt64 returns an epoch millisecond query parameter, or nil when it is
// missing or malformed
func queryInt64(r *http.Request, name string) *int64 {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil
	}
	return &v
}
