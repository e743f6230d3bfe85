package handlers

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/anonzap/anonzap-backend/internal/dispatch"
)

type fakeDispatcher struct {
	req    dispatch.Request
	result *dispatch.Result
	err    error
}

func (f *fakeDispatcher) Send(ctx context.Context, req dispatch.Request) (*dispatch.Result, error) {
	f.req = req
	return f.result, f.err
}

func TestHandleSendCreated(t *testing.T) {
	msgID := uuid.New()
	d := &fakeDispatcher{result: &dispatch.Result{MessageID: msgID, TrackingCode: "by7K2m"}}
	h := NewMessagesHandler(d, nil)

	userID := uuid.New()
	body := `{"user_id":"` + userID.String() + `","destination":"+55 11 99999-8888","body":"hello"}`
	req := httptest.NewRequest("POST", "/api/messages", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.HandleSend(rec, req)

	if rec.Code != 201 {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp sendResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.MessageID != msgID.String() || resp.TrackingCode != "by7K2m" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if d.req.UserID != userID || d.req.Destination != "+55 11 99999-8888" {
		t.Fatalf("unexpected dispatch request: %+v", d.req)
	}
}

func TestHandleSendErrors(t *testing.T) {
	validBody := `{"user_id":"` + uuid.NewString() + `","destination":"5511999998888","body":"hi"}`
	cases := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{"bad json", "{", nil, 400},
		{"bad user id", `{"user_id":"nope","destination":"5511999998888","body":"hi"}`, nil, 400},
		{"invalid destination", validBody, dispatch.ErrInvalidDestination, 400},
		{"empty message", validBody, dispatch.ErrEmptyBody, 400},
		{"session down", validBody, dispatch.ErrTransportUnavailable, 503},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewMessagesHandler(&fakeDispatcher{err: tc.err}, nil)
			req := httptest.NewRequest("POST", "/api/messages", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			h.HandleSend(rec, req)
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rec.Code, rec.Body.String())
			}
		})
	}
}
