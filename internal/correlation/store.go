package correlation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	phonenum "github.com/anonzap/anonzap-backend/internal/phone"
)

// PgxPool is the subset of pgxpool.Pool the store needs.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists outbound messages and replies in Postgres.
type Store struct {
	pool PgxPool
}

func NewStore(pool PgxPool) *Store {
	if pool == nil {
		return nil
	}
	return &Store{pool: pool}
}

const messageColumns = "id, user_id, phone, body, channel, tracking_code, sent_at, has_reply"

// InsertMessage records a freshly dispatched message.
func (s *Store) InsertMessage(ctx context.Context, msg *OutboundMessage) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}
	query := `
		INSERT INTO outbound_messages (id, user_id, phone, body, channel, tracking_code, sent_at, has_reply)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := s.pool.Exec(ctx, query, msg.ID, msg.UserID, msg.Phone, msg.Body, msg.Channel, msg.TrackingCode, msg.SentAt, msg.HasReply)
	if err != nil {
		return fmt.Errorf("correlation: insert message: %w", err)
	}
	return nil
}

// LatestByTrackingCode returns the most recent message carrying the code on
// the channel, or nil when none exists.
func (s *Store) LatestByTrackingCode(ctx context.Context, code, channel string) (*OutboundMessage, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM outbound_messages
		WHERE tracking_code = $1 AND channel = $2
		ORDER BY sent_at DESC
		LIMIT 1
	`
	msg, err := s.scanMessage(s.pool.QueryRow(ctx, query, code, channel))
	if err != nil {
		return nil, fmt.Errorf("correlation: lookup by tracking code: %w", err)
	}
	return msg, nil
}

// LatestByPhoneClasses matches stored phones against the three suffix
// equivalence classes inside the window and returns the most recent hit.
func (s *Store) LatestByPhoneClasses(ctx context.Context, digits string, since time.Time) (*OutboundMessage, error) {
	last9 := phonenum.LastN(digits, 9)
	last8 := phonenum.LastN(digits, 8)
	query := `
		SELECT ` + messageColumns + `
		FROM outbound_messages
		WHERE (phone = $1 OR right(phone, 9) = $2 OR right(phone, 8) = $3)
			AND sent_at >= $4
		ORDER BY sent_at DESC
		LIMIT 1
	`
	msg, err := s.scanMessage(s.pool.QueryRow(ctx, query, digits, last9, last8, since))
	if err != nil {
		return nil, fmt.Errorf("correlation: lookup by phone classes: %w", err)
	}
	return msg, nil
}

// LatestUnanswered returns the most recent message on the channel still
// waiting for its first reply inside the window.
func (s *Store) LatestUnanswered(ctx context.Context, channel string, since time.Time) (*OutboundMessage, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM outbound_messages
		WHERE channel = $1 AND has_reply = FALSE AND sent_at >= $2
		ORDER BY sent_at DESC
		LIMIT 1
	`
	msg, err := s.scanMessage(s.pool.QueryRow(ctx, query, channel, since))
	if err != nil {
		return nil, fmt.Errorf("correlation: lookup unanswered: %w", err)
	}
	return msg, nil
}

// InsertReply writes the reply row. The insert is idempotent on id so a
// webhook redelivery racing the resolver cannot duplicate it.
func (s *Store) InsertReply(ctx context.Context, reply *Reply) error {
	if reply.ID == uuid.Nil {
		reply.ID = uuid.New()
	}
	if reply.ReceivedAt.IsZero() {
		reply.ReceivedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO replies (id, message_id, user_id, from_identifier, body, channel, received_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := s.pool.Exec(ctx, query, reply.ID, reply.MessageID, reply.UserID, reply.FromIdentifier, reply.Body, reply.Channel, reply.ReceivedAt)
	if err != nil {
		return fmt.Errorf("correlation: insert reply: %w", err)
	}
	return nil
}

// MarkAnswered flips has_reply once; later replies link without re-flipping.
func (s *Store) MarkAnswered(ctx context.Context, messageID uuid.UUID) error {
	query := `
		UPDATE outbound_messages
		SET has_reply = TRUE
		WHERE id = $1 AND has_reply = FALSE
	`
	if _, err := s.pool.Exec(ctx, query, messageID); err != nil {
		return fmt.Errorf("correlation: mark answered: %w", err)
	}
	return nil
}

// RecordSendResult bumps the per-channel send counters with the last-used
// timestamp. Upsert keyed by channel, so it is safe under concurrent sends.
func (s *Store) RecordSendResult(ctx context.Context, channel string, success bool) error {
	query := `
		INSERT INTO channel_stats (channel, success_count, failure_count, last_used_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (channel) DO UPDATE
		SET success_count = channel_stats.success_count + EXCLUDED.success_count,
			failure_count = channel_stats.failure_count + EXCLUDED.failure_count,
			last_used_at = now()
	`
	successInc, failureInc := 0, 1
	if success {
		successInc, failureInc = 1, 0
	}
	if _, err := s.pool.Exec(ctx, query, channel, successInc, failureInc); err != nil {
		return fmt.Errorf("correlation: record send result: %w", err)
	}
	return nil
}

func (s *Store) scanMessage(row pgx.Row) (*OutboundMessage, error) {
	var msg OutboundMessage
	err := row.Scan(&msg.ID, &msg.UserID, &msg.Phone, &msg.Body, &msg.Channel, &msg.TrackingCode, &msg.SentAt, &msg.HasReply)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}
