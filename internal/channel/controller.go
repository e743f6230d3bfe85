package channel

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anonzap/anonzap-backend/internal/observability/metrics"
	"github.com/anonzap/anonzap-backend/pkg/logging"
)

// ErrNotConnected is returned when a send is attempted without a usable session.
var ErrNotConnected = errors.New("channel: session not connected")

// Options tunes the controller. Zero values fall back to production defaults.
type Options struct {
	ChannelName            string
	InitTimeout            time.Duration
	ReconnectBaseDelay     time.Duration
	ReconnectMaxDelay      time.Duration
	ReconnectMaxAttempts   int
	HealthCheckInterval    time.Duration
	HealthCheckTimeout     time.Duration
	HealthCheckMaxFailures int
	LogLines               int
	BroadcastDebounce      time.Duration
}

func (o *Options) applyDefaults() {
	if o.ChannelName == "" {
		o.ChannelName = "whatsapp"
	}
	if o.InitTimeout <= 0 {
		o.InitTimeout = 3 * time.Minute
	}
	if o.ReconnectBaseDelay <= 0 {
		o.ReconnectBaseDelay = 5 * time.Second
	}
	if o.ReconnectMaxDelay <= 0 {
		o.ReconnectMaxDelay = 5 * time.Minute
	}
	if o.ReconnectMaxAttempts <= 0 {
		o.ReconnectMaxAttempts = 10
	}
	if o.HealthCheckInterval <= 0 {
		o.HealthCheckInterval = 2 * time.Minute
	}
	if o.HealthCheckTimeout <= 0 {
		o.HealthCheckTimeout = 15 * time.Second
	}
	if o.HealthCheckMaxFailures <= 0 {
		o.HealthCheckMaxFailures = 3
	}
	if o.LogLines <= 0 {
		o.LogLines = 200
	}
}

// OperatorNotifier is told when automatic reconnection gives up.
type OperatorNotifier interface {
	NotifyReconnectExhausted(ctx context.Context, channel string, attempts int)
}

// Status is a point-in-time snapshot for operator endpoints.
type Status struct {
	State             State     `json:"state"`
	QR                string    `json:"qr,omitempty"`
	ReconnectAttempts int       `json:"reconnect_attempts"`
	LastHealthCheck   time.Time `json:"last_health_check,omitempty"`
	Logs              []string  `json:"logs"`
}

// Controller owns the one channel session of the process. It is constructed
// once at startup and passed by reference; there is no package-level instance.
type Controller struct {
	transport Transport
	opts      Options
	logger    *logging.Logger
	metrics   *metrics.SessionMetrics
	notifier  OperatorNotifier
	ring      *LogRing
	hub       *Hub

	// initializing is checked-and-set before any asynchronous work starts so
	// concurrent Initialize calls are no-ops.
	initializing atomic.Bool

	mu              sync.Mutex
	state           State
	qr              string
	attempts        int
	lastHealthCheck time.Time
	reconnectTimer  *time.Timer
	manualLogout    bool
	sessionCancel   context.CancelFunc
	finishOnce      *sync.Once
}

func NewController(transport Transport, opts Options, m *metrics.SessionMetrics, notifier OperatorNotifier, logger *logging.Logger) *Controller {
	if transport == nil {
		panic("channel: transport cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	opts.applyDefaults()
	return &Controller{
		transport: transport,
		opts:      opts,
		logger:    logger,
		metrics:   m,
		notifier:  notifier,
		ring:      NewLogRing(opts.LogLines),
		hub:       NewHub(opts.BroadcastDebounce),
		state:     StateDisconnected,
	}
}

// Hub exposes the observer hub for admin subscriptions.
func (c *Controller) Hub() *Hub { return c.hub }

// State returns the cached session state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status snapshots the session for operator endpoints.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		State:             c.state,
		QR:                c.qr,
		ReconnectAttempts: c.attempts,
		LastHealthCheck:   c.lastHealthCheck,
		Logs:              c.ring.Lines(),
	}
}

// Initialize starts a connection attempt. Calls while one is already underway
// are no-ops, as are calls while connected.
func (c *Controller) Initialize(ctx context.Context) error {
	if !c.initializing.CompareAndSwap(false, true) {
		c.logf("initialize ignored: attempt already in progress")
		return nil
	}
	c.mu.Lock()
	if c.state == StateConnected {
		c.mu.Unlock()
		c.initializing.Store(false)
		c.logf("initialize ignored: already connected")
		return nil
	}
	c.manualLogout = false
	c.mu.Unlock()

	c.setState(StateConnecting)

	sessionCtx, cancel := context.WithCancel(context.Background())
	events, err := c.transport.Connect(sessionCtx)
	if err != nil {
		cancel()
		c.initializing.Store(false)
		c.logf("connect failed: %v", err)
		c.setState(StateDisconnected)
		c.scheduleReconnect()
		return fmt.Errorf("channel: connect: %w", err)
	}

	once := &sync.Once{}
	c.mu.Lock()
	c.sessionCancel = cancel
	c.finishOnce = once
	c.mu.Unlock()

	go c.runSession(sessionCtx, events, once)
	return nil
}

func (c *Controller) runSession(ctx context.Context, events <-chan Event, once *sync.Once) {
	initTimer := time.NewTimer(c.opts.InitTimeout)
	defer initTimer.Stop()
	ready := false

	for {
		select {
		case <-initTimer.C:
			if !ready {
				c.logf("init timed out after %s", c.opts.InitTimeout)
				_ = c.transport.Close()
				c.finish(once, ReasonInitTimeout)
				return
			}
		case ev, ok := <-events:
			if !ok {
				c.finish(once, ReasonTransportClosed)
				return
			}
			switch ev := ev.(type) {
			case QRIssued:
				c.mu.Lock()
				c.qr = ev.Payload
				c.mu.Unlock()
				c.logf("qr issued, waiting for scan")
				c.hub.BroadcastQR(ev.Payload)
			case Authenticated:
				c.logf("transport authenticated")
			case Ready:
				ready = true
				initTimer.Stop()
				c.mu.Lock()
				c.qr = ""
				c.attempts = 0
				c.mu.Unlock()
				c.setState(StateConnected)
				c.initializing.Store(false)
				go c.healthLoop(ctx, once)
			case AuthFailed:
				c.logf("auth failed: %s", ev.Message)
				_ = c.transport.Close()
				c.finish(once, ReasonAuthFailure)
				return
			case Disconnected:
				reason := ev.Reason
				if reason == "" {
					reason = ReasonTransportClosed
				}
				c.finish(once, reason)
				return
			}
		}
	}
}

// finish ends the session exactly once regardless of which goroutine noticed
// the failure first, then decides whether to schedule a reconnect.
func (c *Controller) finish(once *sync.Once, reason string) {
	once.Do(func() {
		c.initializing.Store(false)
		c.mu.Lock()
		c.qr = ""
		manual := c.manualLogout || reason == ReasonManualLogout
		if c.sessionCancel != nil {
			c.sessionCancel()
			c.sessionCancel = nil
		}
		c.mu.Unlock()

		c.logf("session ended: %s", reason)
		c.setState(StateDisconnected)
		if !manual {
			c.scheduleReconnect()
		}
	})
}

// healthLoop probes liveness while connected. A single failed probe is treated
// as a blip; only the consecutive-failure threshold forces a disconnect.
func (c *Controller) healthLoop(ctx context.Context, once *sync.Once) {
	ticker := time.NewTicker(c.opts.HealthCheckInterval)
	defer ticker.Stop()
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, c.opts.HealthCheckTimeout)
			err := c.transport.Probe(probeCtx)
			cancel()

			c.mu.Lock()
			c.lastHealthCheck = time.Now().UTC()
			c.mu.Unlock()

			if err == nil {
				failures = 0
				continue
			}
			failures++
			c.metrics.ObserveHealthFailure()
			c.logf("health probe failed (%d/%d): %v", failures, c.opts.HealthCheckMaxFailures, err)
			if failures >= c.opts.HealthCheckMaxFailures {
				_ = c.transport.Close()
				c.finish(once, ReasonHealthCheck)
				return
			}
		}
	}
}

// setState applies the transition table. connected -> connecting is forbidden:
// the request is logged and ignored, state remains connected.
func (c *Controller) setState(to State) {
	c.mu.Lock()
	from := c.state
	if from == to {
		c.mu.Unlock()
		return
	}
	if from == StateConnected && to == StateConnecting {
		c.mu.Unlock()
		c.logf("transition %s -> %s rejected", from, to)
		return
	}
	c.state = to
	c.mu.Unlock()

	c.metrics.ObserveTransition(string(from), string(to))
	c.logf("state %s -> %s", from, to)
	c.hub.BroadcastState(to)
}

// scheduleReconnect arms the single pending reconnect timer, replacing any
// prior schedule so overlapping attempts cannot occur.
func (c *Controller) scheduleReconnect() {
	c.mu.Lock()
	if c.manualLogout {
		c.mu.Unlock()
		return
	}
	if c.attempts >= c.opts.ReconnectMaxAttempts {
		attempts := c.attempts
		c.mu.Unlock()
		c.logf("reconnect attempts exhausted after %d tries; manual intervention required", attempts)
		if c.notifier != nil {
			go c.notifier.NotifyReconnectExhausted(context.Background(), c.opts.ChannelName, attempts)
		}
		return
	}
	delay := c.reconnectDelay(c.attempts)
	c.attempts++
	attempt := c.attempts
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
	}
	c.reconnectTimer = time.AfterFunc(delay, func() {
		_ = c.Initialize(context.Background())
	})
	c.mu.Unlock()

	c.metrics.ObserveReconnectScheduled()
	c.logf("reconnect %d scheduled in %s", attempt, delay)
}

// reconnectDelay is min(base * 2^attempts, cap) plus up to 1s of jitter, with
// the cap binding the final value.
func (c *Controller) reconnectDelay(attempts int) time.Duration {
	backoff := c.opts.ReconnectMaxDelay
	if attempts < 30 {
		shifted := c.opts.ReconnectBaseDelay << uint(attempts)
		if shifted > 0 && shifted < backoff {
			backoff = shifted
		}
	}
	delay := backoff + time.Duration(rand.Int63n(int64(time.Second)))
	if delay > c.opts.ReconnectMaxDelay {
		delay = c.opts.ReconnectMaxDelay
	}
	return delay
}

// Logout tears the session down on operator request: pending reconnects are
// cancelled, the attempt counter resets, and no new schedule is armed.
func (c *Controller) Logout(ctx context.Context) error {
	c.mu.Lock()
	c.manualLogout = true
	c.attempts = 0
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	once := c.finishOnce
	c.mu.Unlock()

	err := c.transport.Logout(ctx)
	if once != nil {
		c.finish(once, ReasonManualLogout)
	} else {
		c.setState(StateDisconnected)
	}
	c.initializing.Store(false)
	if err != nil {
		return fmt.Errorf("channel: logout: %w", err)
	}
	return nil
}

// EnsureConnected verifies the session can carry a send. When the cached state
// disagrees with the live transport, it reconciles just in time.
func (c *Controller) EnsureConnected(ctx context.Context) error {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	if state == StateConnected {
		return nil
	}

	live, err := c.transport.LiveState(ctx)
	if err != nil || live != StateConnected {
		return ErrNotConnected
	}
	// The transport recovered without telling us; walk the legal transitions.
	c.logf("cached state %s but transport is live; reconciling", state)
	c.setState(StateConnecting)
	c.setState(StateConnected)
	return nil
}

// Close shuts the controller down without logging the transport out.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.manualLogout = true // suppress any further scheduling
	if c.sessionCancel != nil {
		c.sessionCancel()
		c.sessionCancel = nil
	}
	c.mu.Unlock()
	_ = c.transport.Close()
	c.hub.Close()
}

func (c *Controller) logf(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	stamped := c.ring.Append(line)
	c.logger.Info("channel: " + line)
	c.hub.BroadcastLog(stamped)
}
