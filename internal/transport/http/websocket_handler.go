package http

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"promoflow/internal/config"
	apierrors "promoflow/internal/errors"
	ws "promoflow/internal/websocket"
)

// WebSocketHandler upgrades /ws?session= requests onto the session hub
type WebSocketHandler struct {
	hub          *ws.Hub
	upgrader     *websocket.Upgrader
	cfg          config.WebSocketConfig
	service      WorkflowServiceInterface
	errorHandler *apierrors.ErrorHandler
	logger       *slog.Logger
}

// NewWebSocketHandler creates a WebSocket handler
func NewWebSocketHandler(hub *ws.Hub, cfg config.WebSocketConfig, allowedOrigins []string,
	service WorkflowServiceInterface, logger *slog.Logger, errorHandler *apierrors.ErrorHandler) *WebSocketHandler {
	return &WebSocketHandler{
		hub:          hub,
		upgrader:     ws.NewUpgrader(cfg, allowedOrigins),
		cfg:          cfg,
		service:      service,
		errorHandler: errorHandler,
		logger:       logger.With(slog.String("component", "websocket_handler")),
	}
}

// ServeHTTP subscribes the connection to the session named by ?session=
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("session")
	if id == "" {
		h.errorHandler.HandleError(w, r, apierrors.ErrMissingParameter)
		return
	}
	if _, err := h.service.Summary(r.Context(), id); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	// The upgrader writes its own error response
	if err := ws.ServeSession(r.Context(), h.hub, h.upgrader, h.cfg, w, r, id, h.logger); err != nil {
		h.logger.WarnContext(r.Context(), "websocket upgrade failed",
			slog.String("session_id", id),
			slog.String("error", err.Error()))
		return
	}
	h.logger.InfoContext(r.Context(), "websocket subscribed", slog.String("session_id", id))
}
