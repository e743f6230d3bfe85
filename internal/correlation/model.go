package correlation

import (
	"time"

	"github.com/google/uuid"
)

// OutboundMessage is a dispatched anonymous message awaiting replies. Only
// HasReply is ever mutated, and only from false to true.
type OutboundMessage struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	Phone        string // normalized digits
	Body         string
	Channel      string
	TrackingCode string
	SentAt       time.Time
	HasReply     bool
}

// Reply is one successfully correlated inbound event. Immutable once written.
type Reply struct {
	ID             uuid.UUID
	MessageID      uuid.UUID
	UserID         uuid.UUID
	FromIdentifier string // raw, possibly opaque
	Body           string
	Channel        string
	ReceivedAt     time.Time
}
