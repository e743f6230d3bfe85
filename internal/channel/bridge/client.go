// Package bridge adapts the local WhatsApp bridge sidecar to the channel
// Transport interface. The sidecar owns the wire protocol; this client only
// speaks its small HTTP surface.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/anonzap/anonzap-backend/internal/channel"
	"github.com/anonzap/anonzap-backend/pkg/logging"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultPollWait  = 20 * time.Second
	defaultUserAgent = "anonzap-channel/0.1"
)

// Config controls how the bridge client behaves.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	PollWait   time.Duration
	HTTPClient *http.Client
	Logger     *logging.Logger
}

// Client implements channel.Transport over the bridge HTTP API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	pollClient *http.Client
	pollWait   time.Duration
	logger     *logging.Logger
}

var _ channel.Transport = (*Client)(nil)

// New creates a configured Client with sane defaults.
func New(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("bridge: base URL is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	pollWait := cfg.PollWait
	if pollWait <= 0 {
		pollWait = defaultPollWait
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		// Long-polls need headroom beyond the poll wait itself.
		pollClient: &http.Client{Timeout: pollWait + timeout},
		pollWait:   pollWait,
		logger:     logger,
	}, nil
}

type wireEvent struct {
	Type    string `json:"type"`
	Payload string `json:"payload,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
	Cursor  int64  `json:"cursor"`
}

// Connect asks the sidecar to open the session and starts translating its
// event feed. The returned channel closes when the session ends or ctx is
// cancelled.
func (c *Client) Connect(ctx context.Context) (<-chan channel.Event, error) {
	if err := c.post(ctx, "/session/connect", nil, nil); err != nil {
		return nil, err
	}
	events := make(chan channel.Event, 16)
	go c.pollEvents(ctx, events)
	return events, nil
}

func (c *Client) pollEvents(ctx context.Context, events chan<- channel.Event) {
	defer close(events)
	var cursor int64
	for {
		if ctx.Err() != nil {
			return
		}
		batch, err := c.fetchEvents(ctx, cursor)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("bridge: event poll failed", "error", err)
			select {
			case events <- channel.Disconnected{Reason: "event_stream_error"}:
			case <-ctx.Done():
			}
			return
		}
		for _, we := range batch {
			cursor = we.Cursor + 1
			ev, terminal := translate(we)
			if ev == nil {
				continue
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
			if terminal {
				return
			}
		}
	}
}

func translate(we wireEvent) (channel.Event, bool) {
	switch we.Type {
	case "qr":
		return channel.QRIssued{Payload: we.Payload}, false
	case "authenticated":
		return channel.Authenticated{}, false
	case "ready":
		return channel.Ready{}, false
	case "auth_failure":
		return channel.AuthFailed{Message: we.Message}, true
	case "disconnected":
		return channel.Disconnected{Reason: we.Reason}, true
	default:
		return nil, false
	}
}

func (c *Client) fetchEvents(ctx context.Context, cursor int64) ([]wireEvent, error) {
	path := fmt.Sprintf("/session/events?cursor=%d&wait=%d", cursor, int(c.pollWait.Seconds()))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("bridge: build events request: %w", err)
	}
	c.decorate(req)
	resp, err := c.pollClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bridge: poll events: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bridge: poll events: unexpected status %d", resp.StatusCode)
	}
	var out []wireEvent
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("bridge: decode events: %w", err)
	}
	return out, nil
}

// Probe checks sidecar liveness.
func (c *Client) Probe(ctx context.Context) error {
	var body struct {
		Status string `json:"status"`
	}
	if err := c.get(ctx, "/health", &body); err != nil {
		return err
	}
	if body.Status != "ok" {
		return fmt.Errorf("bridge: probe status %q", body.Status)
	}
	return nil
}

// LiveState reports the sidecar's own view of the session.
func (c *Client) LiveState(ctx context.Context) (channel.State, error) {
	var body struct {
		State string `json:"state"`
	}
	if err := c.get(ctx, "/session/state", &body); err != nil {
		return channel.StateDisconnected, err
	}
	switch body.State {
	case "connected":
		return channel.StateConnected, nil
	case "connecting":
		return channel.StateConnecting, nil
	default:
		return channel.StateDisconnected, nil
	}
}

// ResolveRecipient maps digits to the provider destination identifier.
func (c *Client) ResolveRecipient(ctx context.Context, digits string) (string, error) {
	var body struct {
		DestinationID string `json:"destination_id"`
	}
	payload := map[string]string{"digits": digits}
	if err := c.post(ctx, "/session/resolve", payload, &body); err != nil {
		return "", err
	}
	if body.DestinationID == "" {
		return "", fmt.Errorf("bridge: no destination for %s", digits)
	}
	return body.DestinationID, nil
}

// Send delivers a message body to a resolved destination identifier.
func (c *Client) Send(ctx context.Context, destinationID, body string) (string, error) {
	var out struct {
		DeliveryID string `json:"delivery_id"`
	}
	payload := map[string]string{"to": destinationID, "body": body}
	if err := c.post(ctx, "/session/send", payload, &out); err != nil {
		return "", err
	}
	return out.DeliveryID, nil
}

// Close tears the connection down without discarding credentials.
func (c *Client) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()
	return c.post(ctx, "/session/close", nil, nil)
}

// Logout tears the connection down and discards credentials.
func (c *Client) Logout(ctx context.Context) error {
	return c.post(ctx, "/session/logout", nil, nil)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("bridge: build request: %w", err)
	}
	c.decorate(req)
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("bridge: encode payload: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("bridge: build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.decorate(req)
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("bridge: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("bridge: %s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("bridge: decode response: %w", err)
	}
	return nil
}

func (c *Client) decorate(req *http.Request) {
	req.Header.Set("User-Agent", defaultUserAgent)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
