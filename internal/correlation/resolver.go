// Package correlation maps inbound replies back to the outbound message and
// owning user they answer, despite the transport exposing unstable identifiers
// for the same correspondent.
package correlation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/anonzap/anonzap-backend/internal/observability/metrics"
	phonenum "github.com/anonzap/anonzap-backend/internal/phone"
	"github.com/anonzap/anonzap-backend/internal/tracking"
	"github.com/anonzap/anonzap-backend/pkg/logging"
)

const (
	// fuzzyWindow bounds stage 3: suffix matches never reach past it.
	fuzzyWindow = 7 * 24 * time.Hour
	// recencyWindow bounds stage 4: the speculative opaque-id binding.
	recencyWindow = 60 * time.Minute
)

// InboundReply is the normalized inbound event handed to the resolver. The
// raw wire payload is parsed upstream.
type InboundReply struct {
	FromIdentifier string
	Body           string
	Channel        string
	OpaqueID       bool
}

// Match is a successful correlation: the originating message, the stage that
// found it, and the persisted reply.
type Match struct {
	Message *OutboundMessage
	Reply   *Reply
	Stage   string
}

// MessageStore is the lookup surface the resolver needs.
type MessageStore interface {
	LatestByTrackingCode(ctx context.Context, code, channel string) (*OutboundMessage, error)
	LatestByPhoneClasses(ctx context.Context, digits string, since time.Time) (*OutboundMessage, error)
	LatestUnanswered(ctx context.Context, channel string, since time.Time) (*OutboundMessage, error)
	InsertReply(ctx context.Context, reply *Reply) error
	MarkAnswered(ctx context.Context, messageID uuid.UUID) error
}

// IdentityCache is the advisory opaque-id mapping consulted by stage 2 and
// written opportunistically by stages 1 and 4.
type IdentityCache interface {
	Get(ctx context.Context, opaqueID string) (string, bool)
	Put(ctx context.Context, opaqueID, phone string)
}

// Resolver runs the staged fallback chain. Stage 4's speculative binding is a
// known accuracy tradeoff: when one user messages several recipients inside
// the window, the opaque id can bind to the wrong message. The binding is
// advisory, so the next reply carrying a code or phone corrects it.
type Resolver struct {
	store   MessageStore
	cache   IdentityCache
	metrics *metrics.CorrelationMetrics
	logger  *logging.Logger
}

func NewResolver(store MessageStore, cache IdentityCache, m *metrics.CorrelationMetrics, logger *logging.Logger) *Resolver {
	if store == nil {
		panic("correlation: message store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Resolver{store: store, cache: cache, metrics: m, logger: logger}
}

// Resolve runs the stages in strict priority order; the first hit wins. A miss
// at all four stages returns (nil, nil): the reply is silently dropped and the
// caller still acknowledges the inbound event. A non-nil error means a store
// failure, not a correlation miss.
func (r *Resolver) Resolve(ctx context.Context, in InboundReply) (*Match, error) {
	msg, stage, err := r.locate(ctx, in)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		r.metrics.ObserveMiss(in.Channel)
		r.logger.Debug("correlation: no stage matched",
			"from", in.FromIdentifier, "channel", in.Channel, "opaque", in.OpaqueID)
		return nil, nil
	}

	reply := &Reply{
		ID:             uuid.New(),
		MessageID:      msg.ID,
		UserID:         msg.UserID,
		FromIdentifier: in.FromIdentifier,
		Body:           in.Body,
		Channel:        in.Channel,
		ReceivedAt:     time.Now().UTC(),
	}
	if err := r.store.InsertReply(ctx, reply); err != nil {
		return nil, err
	}
	if err := r.store.MarkAnswered(ctx, msg.ID); err != nil {
		return nil, err
	}
	msg.HasReply = true

	r.metrics.ObserveResolved(stage, in.Channel)
	r.logger.Info("correlation: reply linked",
		"stage", stage, "message_id", msg.ID, "user_id", msg.UserID, "channel", in.Channel)
	return &Match{Message: msg, Reply: reply, Stage: stage}, nil
}

func (r *Resolver) locate(ctx context.Context, in InboundReply) (*OutboundMessage, string, error) {
	// Stage 1: exact tracking-code match.
	if code, ok := tracking.Extract(in.Body); ok {
		msg, err := r.store.LatestByTrackingCode(ctx, code, in.Channel)
		if err != nil {
			return nil, "", err
		}
		if msg != nil {
			if in.OpaqueID && r.cache != nil {
				r.cache.Put(ctx, in.FromIdentifier, msg.Phone)
			}
			return msg, "tracking_code", nil
		}
	}

	// Stage 2 feeds stage 3: a phone to fuzzy-match against, either taken
	// straight from the identifier or resolved through the opaque-id cache.
	digits := ""
	stage := "phone_fuzzy"
	if in.OpaqueID {
		if r.cache != nil {
			if phone, ok := r.cache.Get(ctx, in.FromIdentifier); ok {
				digits = phonenum.Digits(phone)
				stage = "identity_cache"
			}
		}
	} else {
		digits = phonenum.Digits(in.FromIdentifier)
	}

	// Stage 3: phone fuzzy match inside the trailing window.
	if digits != "" {
		msg, err := r.store.LatestByPhoneClasses(ctx, digits, time.Now().Add(-fuzzyWindow))
		if err != nil {
			return nil, "", err
		}
		if msg != nil {
			return msg, stage, nil
		}
	}

	// Stage 4: recency heuristic, opaque ids only.
	if in.OpaqueID {
		msg, err := r.store.LatestUnanswered(ctx, in.Channel, time.Now().Add(-recencyWindow))
		if err != nil {
			return nil, "", err
		}
		if msg != nil {
			if r.cache != nil {
				r.cache.Put(ctx, in.FromIdentifier, msg.Phone)
			}
			return msg, "recency", nil
		}
	}

	return nil, "", nil
}
