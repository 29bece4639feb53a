package messaging

import (
	"context"
	"errors"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/LexForge/ClauseFlow/internal/twiliosms"
)

func TestTwilioService_ValidateAndCanonicalizeRecipient(t *testing.T) {
	svc := NewTwilioService(twiliosms.NewMockClient())

	tests := []struct {
		name      string
		recipient string
		want      string
		wantErr   bool
	}{
		{name: "formatted number", recipient: "+1 (555) 123-4567", want: "15551234567"},
		{name: "already canonical", recipient: "15551234567", want: "15551234567"},
		{name: "empty", recipient: "", wantErr: true},
		{name: "no digits", recipient: "not-a-number", wantErr: true},
		{name: "too short", recipient: "12345", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := svc.ValidateAndCanonicalizeRecipient(tc.recipient)
			if tc.wantErr {
				if err == nil {
					t.Errorf("expected error for %q, got %q", tc.recipient, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestTwilioService_SendMessage(t *testing.T) {
	mock := twiliosms.NewMockClient()
	svc := NewTwilioService(mock)

	err := svc.SendMessage(context.Background(), "+1 (555) 123-4567", "Your document is ready")
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	if len(mock.SentMessages) != 1 {
		t.Fatalf("expected 1 sent message, got %d", len(mock.SentMessages))
	}
	if mock.SentMessages[0].To != "+15551234567" {
		t.Errorf("expected E.164 recipient, got %q", mock.SentMessages[0].To)
	}
	if mock.SentMessages[0].Body != "Your document is ready" {
		t.Errorf("unexpected body %q", mock.SentMessages[0].Body)
	}
}

func TestTwilioService_SendMessageAfterStop(t *testing.T) {
	svc := NewTwilioService(twiliosms.NewMockClient())

	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	err := svc.SendMessage(context.Background(), "+15551234567", "late")
	if !errors.Is(err, ErrServiceStopped) {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}

	// Stop is idempotent.
	if err := svc.Stop(); err != nil {
		t.Errorf("second Stop failed: %v", err)
	}
}

func TestTwilioService_StopClosesResponses(t *testing.T) {
	svc := NewTwilioService(twiliosms.NewMockClient())
	svc.Stop()

	select {
	case _, ok := <-svc.Responses():
		if ok {
			t.Error("expected closed responses channel")
		}
	case <-time.After(time.Second):
		t.Error("responses channel not closed after Stop")
	}
}

func TestTwilioService_WebhookEmitsInbound(t *testing.T) {
	svc := NewTwilioService(twiliosms.NewMockClient())

	form := url.Values{}
	form.Set("From", "+15551234567")
	form.Set("Body", "start an NDA")
	req := httptest.NewRequest("POST", "/webhook/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()

	svc.TwilioWebhookHandler(rr, req)

	if rr.Code != 204 {
		t.Errorf("expected status 204, got %d", rr.Code)
	}

	select {
	case msg := <-svc.Responses():
		if msg.From != "+15551234567" || msg.Body != "start an NDA" {
			t.Errorf("unexpected inbound message: %+v", msg)
		}
		if msg.Time == 0 {
			t.Error("expected timestamp on inbound message")
		}
	case <-time.After(time.Second):
		t.Error("inbound message not emitted")
	}
}

func TestTwilioService_WebhookMissingFields(t *testing.T) {
	svc := NewTwilioService(twiliosms.NewMockClient())

	form := url.Values{}
	form.Set("From", "+15551234567")
	req := httptest.NewRequest("POST", "/webhook/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()

	svc.TwilioWebhookHandler(rr, req)

	if rr.Code != 400 {
		t.Errorf("expected status 400, got %d", rr.Code)
	}
}
