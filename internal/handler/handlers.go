package handler

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"
)

type Handler struct {
	logger  *logrus.Logger
	hub     *Hub
	metrics http.Handler
}

func NewHandler(logger *logrus.Logger, hub *Hub, metrics http.Handler) *Handler {
	return &Handler{
		logger:  logger,
		hub:     hub,
		metrics: metrics,
	}
}

func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", h.HealthHandler)
	mux.HandleFunc("/api/view", h.ViewHandler)
	mux.HandleFunc("/ws", h.hub.ServeWS)
	if h.metrics != nil {
		mux.Handle("/metrics", h.metrics)
	}
	return mux
}

func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": h.hub.Clients(),
	})
}

// ViewHandler returns the latest map view for clients that cannot hold a websocket.
func (h *Handler) ViewHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		h.writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"message": "method not allowed"})
		return
	}
	view, ok := h.hub.Last()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.WithError(err).Warn("failed to write response")
	}
}
