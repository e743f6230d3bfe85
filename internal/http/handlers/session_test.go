package handlers

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/anonzap/anonzap-backend/internal/channel"
)

type stubTransport struct {
	events chan channel.Event
}

func (s *stubTransport) Connect(ctx context.Context) (<-chan channel.Event, error) {
	s.events = make(chan channel.Event, 8)
	return s.events, nil
}

func (s *stubTransport) Probe(ctx context.Context) error { return nil }

func (s *stubTransport) LiveState(ctx context.Context) (channel.State, error) {
	return channel.StateDisconnected, nil
}

func (s *stubTransport) ResolveRecipient(ctx context.Context, digits string) (string, error) {
	return digits + "@c.us", nil
}

func (s *stubTransport) Send(ctx context.Context, destinationID, body string) (string, error) {
	return "d-1", nil
}

func (s *stubTransport) Close() error { return nil }

func (s *stubTransport) Logout(ctx context.Context) error {
	if s.events != nil {
		close(s.events)
		s.events = nil
	}
	return nil
}

func newSessionHandler(t *testing.T) (*SessionHandler, *stubTransport, *channel.Controller) {
	t.Helper()
	transport := &stubTransport{}
	ctrl := channel.NewController(transport, channel.Options{
		ChannelName:        "whatsapp",
		ReconnectBaseDelay: time.Hour,
		ReconnectMaxDelay:  time.Hour,
	}, nil, nil, nil)
	t.Cleanup(ctrl.Close)
	return NewSessionHandler(ctrl, nil), transport, ctrl
}

func TestHandleStatus(t *testing.T) {
	h, _, _ := newSessionHandler(t)

	rec := httptest.NewRecorder()
	h.HandleStatus(rec, httptest.NewRequest("GET", "/admin/session/status", nil))
	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var status channel.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.State != channel.StateDisconnected {
		t.Fatalf("fresh controller should report disconnected, got %s", status.State)
	}
}

func TestHandleQR(t *testing.T) {
	h, transport, ctrl := newSessionHandler(t)

	rec := httptest.NewRecorder()
	h.HandleQR(rec, httptest.NewRequest("GET", "/admin/session/qr", nil))
	if rec.Code != 404 {
		t.Fatalf("expected 404 without a pending qr, got %d", rec.Code)
	}

	if err := ctrl.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	transport.events <- channel.QRIssued{Payload: "qr-blob"}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rec = httptest.NewRecorder()
		h.HandleQR(rec, httptest.NewRequest("GET", "/admin/session/qr", nil))
		if rec.Code == 200 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if rec.Code != 200 {
		t.Fatalf("qr never surfaced, last status %d", rec.Code)
	}
	var body map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body["qr"] != "qr-blob" {
		t.Fatalf("unexpected qr payload: %v", body)
	}
}

func TestHandleReconnectAndLogout(t *testing.T) {
	h, transport, ctrl := newSessionHandler(t)

	rec := httptest.NewRecorder()
	h.HandleReconnect(rec, httptest.NewRequest("POST", "/admin/session/reconnect", nil))
	if rec.Code != 202 {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	transport.events <- channel.Ready{}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && ctrl.State() != channel.StateConnected {
		time.Sleep(5 * time.Millisecond)
	}
	if ctrl.State() != channel.StateConnected {
		t.Fatal("never reached connected")
	}

	rec = httptest.NewRecorder()
	h.HandleLogout(rec, httptest.NewRequest("POST", "/admin/session/logout", nil))
	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ctrl.State() != channel.StateDisconnected {
		t.Fatalf("logout should disconnect, got %s", ctrl.State())
	}
}

func TestHandleLogsShape(t *testing.T) {
	h, _, _ := newSessionHandler(t)

	rec := httptest.NewRecorder()
	h.HandleLogs(rec, httptest.NewRequest("GET", "/admin/session/logs", nil))
	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Logs []string `json:"logs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
}
