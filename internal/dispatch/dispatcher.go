// Package dispatch sends anonymous messages over a channel session and
// records them so that later replies can be correlated back.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/anonzap/anonzap-backend/internal/channel"
	"github.com/anonzap/anonzap-backend/internal/correlation"
	"github.com/anonzap/anonzap-backend/internal/observability/metrics"
	phonenum "github.com/anonzap/anonzap-backend/internal/phone"
	"github.com/anonzap/anonzap-backend/internal/tracking"
	"github.com/anonzap/anonzap-backend/pkg/logging"
)

// Destination numbers are validated after normalization. Local numbers get
// the configured country code prepended before the check.
const (
	minDigits      = 10
	maxDigits      = 15
	localMaxDigits = 11
)

var (
	ErrInvalidDestination   = errors.New("dispatch: invalid destination number")
	ErrEmptyBody            = errors.New("dispatch: empty message body")
	ErrTransportUnavailable = errors.New("dispatch: channel transport unavailable")
)

// Session is the slice of the channel controller the dispatcher depends on.
type Session interface {
	EnsureConnected(ctx context.Context) error
}

// Sender resolves and delivers over the live transport.
type Sender interface {
	ResolveRecipient(ctx context.Context, digits string) (string, error)
	Send(ctx context.Context, destinationID, body string) (string, error)
}

// MessageStore persists dispatched messages and per-channel send stats.
type MessageStore interface {
	InsertMessage(ctx context.Context, msg *correlation.OutboundMessage) error
	RecordSendResult(ctx context.Context, channel string, success bool) error
}

// Request is one send order from the API surface.
type Request struct {
	UserID      uuid.UUID
	Destination string // raw user input, any format
	Body        string
}

// Result reports what was sent and under which tracking code.
type Result struct {
	MessageID    uuid.UUID
	TrackingCode string
	DeliveryID   string
}

// Dispatcher normalizes, validates, sends and records outbound messages.
// There are no delivery retries: a failed send surfaces to the caller and
// only the stats row records the failure.
type Dispatcher struct {
	session     Session
	sender      Sender
	store       MessageStore
	channelName string
	countryCode string
	logger      *logging.Logger
	metrics     *metrics.DispatchMetrics
}

type Options struct {
	ChannelName        string
	DefaultCountryCode string
	Logger             *logging.Logger
	Metrics            *metrics.DispatchMetrics
}

func NewDispatcher(session Session, sender Sender, store MessageStore, opts Options) *Dispatcher {
	if session == nil || sender == nil || store == nil {
		panic("dispatch: session, sender and store are required")
	}
	channelName := opts.ChannelName
	if channelName == "" {
		channelName = "whatsapp"
	}
	countryCode := opts.DefaultCountryCode
	if countryCode == "" {
		countryCode = "55"
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{
		session:     session,
		sender:      sender,
		store:       store,
		channelName: channelName,
		countryCode: countryCode,
		logger:      logger,
		metrics:     opts.Metrics,
	}
}

// Send validates and delivers one anonymous message. The tracking code is
// embedded as a trailing line of the delivered body and persisted with the
// message so replies quoting it resolve exactly.
func (d *Dispatcher) Send(ctx context.Context, req Request) (*Result, error) {
	body := strings.TrimSpace(req.Body)
	if body == "" {
		return nil, ErrEmptyBody
	}
	digits, err := d.normalizeDestination(req.Destination)
	if err != nil {
		return nil, err
	}

	if err := d.session.EnsureConnected(ctx); err != nil {
		if errors.Is(err, channel.ErrNotConnected) {
			return nil, fmt.Errorf("%w: %s", ErrTransportUnavailable, err)
		}
		return nil, fmt.Errorf("dispatch: ensure connected: %w", err)
	}

	destinationID, err := d.sender.ResolveRecipient(ctx, digits)
	if err != nil {
		d.recordResult(ctx, false)
		return nil, fmt.Errorf("dispatch: resolve recipient: %w", err)
	}

	code := tracking.Generate()
	deliveryID, err := d.sender.Send(ctx, destinationID, tracking.Embed(body, code))
	if err != nil {
		d.recordResult(ctx, false)
		return nil, fmt.Errorf("dispatch: send: %w", err)
	}

	msg := &correlation.OutboundMessage{
		UserID:       req.UserID,
		Phone:        digits,
		Body:         body,
		Channel:      d.channelName,
		TrackingCode: code,
	}
	if err := d.store.InsertMessage(ctx, msg); err != nil {
		// Delivered but not recorded. Replies to this message can still
		// land through the fuzzy and recency stages.
		d.logger.Error("dispatch: message sent but not persisted",
			"error", err, "tracking_code", code)
		d.recordResult(ctx, true)
		return nil, fmt.Errorf("dispatch: persist message: %w", err)
	}
	d.recordResult(ctx, true)

	d.logger.Info("dispatch: message sent",
		"message_id", msg.ID, "channel", d.channelName, "tracking_code", code)
	return &Result{MessageID: msg.ID, TrackingCode: code, DeliveryID: deliveryID}, nil
}

// normalizeDestination reduces the input to digits and applies the local
// number heuristic: anything at or under 11 digits that does not already
// start with the country code is treated as a national number.
func (d *Dispatcher) normalizeDestination(raw string) (string, error) {
	digits := phonenum.Digits(raw)
	if digits == "" {
		return "", ErrInvalidDestination
	}
	if len(digits) <= localMaxDigits && !strings.HasPrefix(digits, d.countryCode) {
		digits = d.countryCode + digits
	}
	if len(digits) < minDigits || len(digits) > maxDigits {
		return "", ErrInvalidDestination
	}
	return digits, nil
}

func (d *Dispatcher) recordResult(ctx context.Context, success bool) {
	status := "failure"
	if success {
		status = "success"
	}
	d.metrics.ObserveSend(d.channelName, status)
	if err := d.store.RecordSendResult(ctx, d.channelName, success); err != nil {
		d.logger.Warn("dispatch: record send result", "error", err)
	}
}
