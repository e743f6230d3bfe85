package notify

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"

	"github.com/anonzap/anonzap-backend/internal/correlation"
	"github.com/anonzap/anonzap-backend/pkg/logging"
)

// ReplyEvent is what a connected user receives when one of their messages
// gets a reply.
type ReplyEvent struct {
	Type       string `json:"type"` // "reply" or "pong"
	MessageID  string `json:"message_id,omitempty"`
	ReplyID    string `json:"reply_id,omitempty"`
	Body       string `json:"body,omitempty"`
	Channel    string `json:"channel,omitempty"`
	ReceivedAt string `json:"received_at,omitempty"`
}

type userConn struct {
	conn *websocket.Conn
}

// ReplyHub manages per-user WebSocket connections and pushes correlated
// replies to them. One active connection per user; a new connection replaces
// the previous one.
type ReplyHub struct {
	logger *logging.Logger

	mu       sync.RWMutex
	sessions map[uuid.UUID]*userConn
}

func NewReplyHub(logger *logging.Logger) *ReplyHub {
	if logger == nil {
		logger = logging.Default()
	}
	return &ReplyHub{
		logger:   logger,
		sessions: make(map[uuid.UUID]*userConn),
	}
}

// HandleWebSocket upgrades to WebSocket and keeps the connection registered
// until the client goes away. The user id comes from the authenticated
// request; routing wires the auth middleware in front of this handler.
func (h *ReplyHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.Handler(func(conn *websocket.Conn) {
		h.serveWS(conn, r)
	}).ServeHTTP(w, r)
}

func (h *ReplyHub) serveWS(conn *websocket.Conn, r *http.Request) {
	userID, err := uuid.Parse(r.URL.Query().Get("user"))
	if err != nil {
		_ = websocket.JSON.Send(conn, map[string]string{"type": "error", "error": "missing or invalid user parameter"})
		return
	}

	uc := &userConn{conn: conn}
	h.mu.Lock()
	h.sessions[userID] = uc
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		if h.sessions[userID] == uc {
			delete(h.sessions, userID)
		}
		h.mu.Unlock()
	}()

	h.logger.Info("notify: reply stream opened", "user_id", userID)

	for {
		var msg struct {
			Type string `json:"type"`
		}
		if err := websocket.JSON.Receive(conn, &msg); err != nil {
			h.logger.Debug("notify: reply stream closed", "user_id", userID, "error", err)
			return
		}
		if strings.EqualFold(msg.Type, "ping") {
			_ = websocket.JSON.Send(conn, ReplyEvent{Type: "pong"})
		}
	}
}

// NotifyReply pushes a correlated reply to the owning user, if connected.
// Fire and forget: an absent or broken connection drops the push; the reply
// itself is already persisted.
func (h *ReplyHub) NotifyReply(match *correlation.Match) {
	if match == nil || match.Message == nil || match.Reply == nil {
		return
	}
	h.mu.RLock()
	uc, ok := h.sessions[match.Message.UserID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	event := ReplyEvent{
		Type:       "reply",
		MessageID:  match.Message.ID.String(),
		ReplyID:    match.Reply.ID.String(),
		Body:       match.Reply.Body,
		Channel:    match.Reply.Channel,
		ReceivedAt: match.Reply.ReceivedAt.Format(time.RFC3339),
	}
	if err := websocket.JSON.Send(uc.conn, event); err != nil {
		h.logger.Debug("notify: reply push failed", "user_id", match.Message.UserID, "error", err)
	}
}

// Connected reports how many users currently hold a live reply stream.
func (h *ReplyHub) Connected() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}
