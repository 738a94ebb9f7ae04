package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"shooter/internal/store"
)

// SessionHistory lists finished sessions, newest first.
type SessionHistory interface {
	Recent(ctx context.Context, limit int) ([]store.Session, error)
}

// AdminOptions wires the optional parts of the admin API.
type AdminOptions struct {
	History SessionHistory
	// WebSocket, when set, is mounted at /ws as the game transport.
	WebSocket http.Handler
}

// NewAdminRouter exposes health, live status, history and the WebSocket
// game endpoint.
func NewAdminRouter(o *Orchestrator, opts AdminOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", Healthz)
	r.Get("/status", StatusHandler(o))
	r.Get("/sessions", SessionsHandler(opts.History))
	if opts.WebSocket != nil {
		r.Get("/ws", opts.WebSocket.ServeHTTP)
	}
	return r
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func StatusHandler(o *Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, o.Status())
	}
}

func SessionsHandler(h SessionHistory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h == nil {
			http.Error(w, "session history disabled", http.StatusNotFound)
			return
		}
		limit := 20
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = n
		}
		sessions, err := h.Recent(r.Context(), limit)
		if err != nil {
			log.Error().Str("component", "admin").Err(err).Msg("failed to list sessions")
			http.Error(w, "failed to list sessions", http.StatusInternalServerError)
			return
		}
		if sessions == nil {
			sessions = []store.Session{}
		}
		writeJSON(w, http.StatusOK, sessions)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
