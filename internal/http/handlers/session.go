package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"

	"github.com/anonzap/anonzap-backend/internal/channel"
	"github.com/anonzap/anonzap-backend/pkg/logging"
)

// SessionHandler exposes the admin view of the channel session: status,
// recent logs, the pending QR, and the manual lifecycle actions.
type SessionHandler struct {
	controller *channel.Controller
	logger     *logging.Logger
}

func NewSessionHandler(controller *channel.Controller, logger *logging.Logger) *SessionHandler {
	if controller == nil {
		panic("handlers: controller cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SessionHandler{controller: controller, logger: logger}
}

// HandleStatus returns the full session snapshot.
func (h *SessionHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.controller.Status())
}

// HandleLogs returns the recent session log lines, oldest first.
func (h *SessionHandler) HandleLogs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"logs": h.controller.Status().Logs})
}

// HandleQR returns the pending QR payload, or 404 when none is pending.
func (h *SessionHandler) HandleQR(w http.ResponseWriter, r *http.Request) {
	status := h.controller.Status()
	if status.QR == "" {
		writeError(w, http.StatusNotFound, "no qr pending")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"qr": status.QR})
}

// HandleReconnect manually kicks session initialization.
func (h *SessionHandler) HandleReconnect(w http.ResponseWriter, r *http.Request) {
	if err := h.controller.Initialize(r.Context()); err != nil {
		h.logger.Error("session: manual reconnect failed", "error", err)
		writeError(w, http.StatusBadGateway, "reconnect failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "initializing"})
}

// HandleLogout tears the session down and discards credentials. No automatic
// reconnect follows; the next connect needs a fresh QR scan.
func (h *SessionHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.controller.Logout(r.Context()); err != nil {
		h.logger.Error("session: logout failed", "error", err)
		writeError(w, http.StatusBadGateway, "logout failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

// HandleStream upgrades to WebSocket and relays session broadcasts (state
// changes, QR issuance, log lines) until the client disconnects.
func (h *SessionHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	websocket.Handler(func(conn *websocket.Conn) {
		h.serveStream(conn)
	}).ServeHTTP(w, r)
}

func (h *SessionHandler) serveStream(conn *websocket.Conn) {
	observerID := uuid.NewString()
	updates := h.controller.Hub().Subscribe(observerID)
	defer h.controller.Hub().Unsubscribe(observerID)

	// Snapshot first so the client never renders from a blank state.
	if err := websocket.JSON.Send(conn, map[string]any{"type": "status", "status": h.controller.Status()}); err != nil {
		return
	}

	h.logger.Debug("session: admin stream opened", "observer", observerID)
	for update := range updates {
		if err := websocket.JSON.Send(conn, update); err != nil {
			h.logger.Debug("session: admin stream closed", "observer", observerID, "error", err)
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
