// Package handlers holds the HTTP surface: the inbound webhook, the send
// API, and the admin session endpoints.
package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/anonzap/anonzap-backend/internal/queue"
	"github.com/anonzap/anonzap-backend/internal/worker"
	"github.com/anonzap/anonzap-backend/pkg/logging"
)

var webhookTracer = otel.Tracer("anonzap.internal.http.webhook")

// WebhookHandler accepts inbound message events from the bridge sidecar and
// enqueues them for correlation. It always acknowledges: the provider side
// retries aggressively and an unresolvable event is not worth a retry storm.
type WebhookHandler struct {
	queue       queue.Client
	channelName string
	logger      *logging.Logger
}

func NewWebhookHandler(q queue.Client, channelName string, logger *logging.Logger) *WebhookHandler {
	if q == nil {
		panic("handlers: queue cannot be nil")
	}
	if channelName == "" {
		channelName = "whatsapp"
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookHandler{queue: q, channelName: channelName, logger: logger}
}

type inboundPayload struct {
	From string `json:"from"`
	Body string `json:"body"`
}

// HandleInbound ingests one inbound message event.
func (h *WebhookHandler) HandleInbound(w http.ResponseWriter, r *http.Request) {
	ctx, span := webhookTracer.Start(r.Context(), "webhook.inbound")
	defer span.End()

	ack := func() {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}

	var payload inboundPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		span.RecordError(err)
		h.logger.Warn("webhook: undecodable payload", "error", err)
		ack()
		return
	}
	if payload.From == "" || strings.TrimSpace(payload.Body) == "" {
		h.logger.Debug("webhook: ignoring empty event", "from", payload.From)
		ack()
		return
	}

	opaque := IsOpaqueIdentifier(payload.From)
	span.SetAttributes(
		attribute.String("anonzap.channel", h.channelName),
		attribute.Bool("anonzap.opaque_id", opaque),
	)

	job := worker.Job{
		FromIdentifier: payload.From,
		Body:           payload.Body,
		Channel:        h.channelName,
		OpaqueID:       opaque,
		ReceivedAt:     time.Now().UTC(),
	}
	body, err := job.Encode()
	if err != nil {
		span.RecordError(err)
		h.logger.Error("webhook: encode job", "error", err)
		ack()
		return
	}
	if err := h.queue.Send(ctx, body); err != nil {
		span.RecordError(err)
		h.logger.Error("webhook: enqueue failed", "error", err)
		ack()
		return
	}

	h.logger.Debug("webhook: event enqueued", "opaque", opaque)
	ack()
}

// IsOpaqueIdentifier reports whether the sender identifier carries no usable
// phone number: an anonymized domain, a non-numeric local part, or too few
// digits to be a phone.
func IsOpaqueIdentifier(identifier string) bool {
	local := identifier
	domain := ""
	if at := strings.IndexByte(identifier, '@'); at >= 0 {
		local = identifier[:at]
		domain = identifier[at+1:]
	}
	if domain == "lid" {
		return true
	}
	digits := 0
	for _, r := range local {
		if r < '0' || r > '9' {
			return true
		}
		digits++
	}
	return digits < 8
}
