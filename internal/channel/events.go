// Package channel supervises the single live connection to the messaging
// transport: a small state machine with reconnection policy, health checks,
// and observer broadcasts.
package channel

import "context"

// State of the channel session.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// Disconnect reasons the controller distinguishes. Manual logout is the only
// reason that suppresses automatic reconnection.
const (
	ReasonManualLogout    = "manual_logout"
	ReasonInitTimeout     = "init_timeout"
	ReasonAuthFailure     = "auth_failure"
	ReasonHealthCheck     = "health_check"
	ReasonTransportClosed = "transport_closed"
)

// Event is the typed union of transport callbacks.
type Event interface{ isEvent() }

// QRIssued carries a pending auth artifact the operator must scan.
type QRIssued struct{ Payload string }

// Authenticated fires when credentials are accepted, before the session is usable.
type Authenticated struct{}

// Ready fires when the transport can send and receive.
type Ready struct{}

// Disconnected fires when the transport drops, with the provider's reason.
type Disconnected struct{ Reason string }

// AuthFailed fires when the transport rejects the stored credentials.
type AuthFailed struct{ Message string }

func (QRIssued) isEvent()      {}
func (Authenticated) isEvent() {}
func (Ready) isEvent()         {}
func (Disconnected) isEvent()  {}
func (AuthFailed) isEvent()    {}

// Transport is the underlying connection. One instance backs one session;
// Connect may be called again after the previous event stream closed.
type Transport interface {
	// Connect starts a connection attempt. Events arrive on the returned
	// channel; the channel closes when the attempt or session ends.
	Connect(ctx context.Context) (<-chan Event, error)
	// Probe checks liveness of a connected session.
	Probe(ctx context.Context) error
	// LiveState reports the transport's own view of the session, used for
	// just-in-time reconciliation when the cached status disagrees.
	LiveState(ctx context.Context) (State, error)
	// ResolveRecipient maps a canonical digit string to the transport's
	// destination identifier.
	ResolveRecipient(ctx context.Context, digits string) (string, error)
	// Send delivers a message body to a resolved destination identifier.
	Send(ctx context.Context, destinationID, body string) (string, error)
	// Close tears the connection down without discarding credentials.
	Close() error
	// Logout tears the connection down and discards credentials.
	Logout(ctx context.Context) error
}
