package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/anonzap/anonzap-backend/internal/dispatch"
	"github.com/anonzap/anonzap-backend/pkg/logging"
)

// MessageSender is the slice of the dispatcher this handler needs.
type MessageSender interface {
	Send(ctx context.Context, req dispatch.Request) (*dispatch.Result, error)
}

// MessagesHandler exposes the anonymous-send API.
type MessagesHandler struct {
	dispatcher MessageSender
	logger     *logging.Logger
}

func NewMessagesHandler(dispatcher MessageSender, logger *logging.Logger) *MessagesHandler {
	if dispatcher == nil {
		panic("handlers: dispatcher cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &MessagesHandler{dispatcher: dispatcher, logger: logger}
}

type sendRequest struct {
	UserID      string `json:"user_id"`
	Destination string `json:"destination"`
	Body        string `json:"body"`
}

type sendResponse struct {
	MessageID    string `json:"message_id"`
	TrackingCode string `json:"tracking_code"`
}

// HandleSend dispatches one anonymous message.
func (h *MessagesHandler) HandleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user_id")
		return
	}

	result, err := h.dispatcher.Send(r.Context(), dispatch.Request{
		UserID:      userID,
		Destination: req.Destination,
		Body:        req.Body,
	})
	switch {
	case err == nil:
	case errors.Is(err, dispatch.ErrInvalidDestination), errors.Is(err, dispatch.ErrEmptyBody):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, dispatch.ErrTransportUnavailable):
		writeError(w, http.StatusServiceUnavailable, "channel session unavailable")
		return
	default:
		h.logger.Error("messages: send failed", "error", err)
		writeError(w, http.StatusInternalServerError, "send failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(sendResponse{
		MessageID:    result.MessageID.String(),
		TrackingCode: result.TrackingCode,
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
