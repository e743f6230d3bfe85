package channel

import (
	"sync"
	"time"
)

// Broadcast is what observers receive: a state change, a QR artifact, or a
// log line.
type Broadcast struct {
	Type  string    `json:"type"` // "state", "qr", "log"
	State State     `json:"state,omitempty"`
	QR    string    `json:"qr,omitempty"`
	Line  string    `json:"line,omitempty"`
	At    time.Time `json:"at"`
}

const observerBuffer = 32

// Hub fans broadcasts out to a dynamic observer set. Sends are fire-and-forget:
// a slow observer loses broadcasts rather than back-pressuring the session.
// State broadcasts are debounced so rapid flapping coalesces into the latest
// state, with a trailing flush guaranteeing the final state is delivered.
type Hub struct {
	debounce time.Duration

	mu           sync.Mutex
	observers    map[string]chan Broadcast
	pendingState *Broadcast
	stateTimer   *time.Timer
	closed       bool
}

func NewHub(debounce time.Duration) *Hub {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Hub{
		debounce:  debounce,
		observers: make(map[string]chan Broadcast),
	}
}

// Subscribe registers an observer and returns its receive channel. An existing
// observer with the same id is replaced and its channel closed.
func (h *Hub) Subscribe(observerID string) <-chan Broadcast {
	ch := make(chan Broadcast, observerBuffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	if old, ok := h.observers[observerID]; ok {
		close(old)
	}
	h.observers[observerID] = ch
	return ch
}

// Unsubscribe removes an observer and closes its channel.
func (h *Hub) Unsubscribe(observerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.observers[observerID]; ok {
		close(ch)
		delete(h.observers, observerID)
	}
}

// BroadcastState coalesces bursts: each call replaces the pending state and
// restarts the window, so only the latest state inside a burst is delivered.
func (h *Hub) BroadcastState(state State) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.pendingState = &Broadcast{Type: "state", State: state, At: time.Now().UTC()}
	if h.stateTimer != nil {
		h.stateTimer.Stop()
	}
	h.stateTimer = time.AfterFunc(h.debounce, h.flushState)
}

func (h *Hub) flushState() {
	h.mu.Lock()
	pending := h.pendingState
	h.pendingState = nil
	h.mu.Unlock()
	if pending != nil {
		h.send(*pending)
	}
}

// BroadcastQR delivers a pending auth artifact immediately.
func (h *Hub) BroadcastQR(payload string) {
	h.send(Broadcast{Type: "qr", QR: payload, At: time.Now().UTC()})
}

// BroadcastLog delivers a log line immediately.
func (h *Hub) BroadcastLog(line string) {
	h.send(Broadcast{Type: "log", Line: line, At: time.Now().UTC()})
}

func (h *Hub) send(b Broadcast) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for _, ch := range h.observers {
		select {
		case ch <- b:
		default:
			// observer buffer full; drop rather than block
		}
	}
}

// Close flushes any pending state broadcast and closes all observer channels.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	pending := h.pendingState
	h.pendingState = nil
	if h.stateTimer != nil {
		h.stateTimer.Stop()
	}
	if pending != nil {
		for _, ch := range h.observers {
			select {
			case ch <- *pending:
			default:
			}
		}
	}
	h.closed = true
	for id, ch := range h.observers {
		close(ch)
		delete(h.observers, id)
	}
	h.mu.Unlock()
}
