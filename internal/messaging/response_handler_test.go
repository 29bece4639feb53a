package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/LexForge/ClauseFlow/internal/models"
	"github.com/LexForge/ClauseFlow/internal/twiliosms"
)

func TestResponseHandler_ProcessResponse(t *testing.T) {
	mock := twiliosms.NewMockClient()
	svc := NewTwilioService(mock)

	var gotFrom, gotBody string
	action := func(ctx context.Context, from, body string, timestamp int64) (string, error) {
		gotFrom = from
		gotBody = body
		return "Got it. Starting your NDA now.", nil
	}
	rh := NewResponseHandler(svc, action)

	rh.ProcessResponse(context.Background(), models.InboundMessage{
		From: "+1 (555) 123-4567",
		Body: "start an NDA",
		Time: time.Now().Unix(),
	})

	if gotFrom != "15551234567" {
		t.Errorf("expected canonical sender, got %q", gotFrom)
	}
	if gotBody != "start an NDA" {
		t.Errorf("unexpected body %q", gotBody)
	}
	if len(mock.SentMessages) != 1 {
		t.Fatalf("expected 1 reply, got %d", len(mock.SentMessages))
	}
	if mock.SentMessages[0].To != "+15551234567" {
		t.Errorf("reply sent to %q", mock.SentMessages[0].To)
	}
	if mock.SentMessages[0].Body != "Got it. Starting your NDA now." {
		t.Errorf("unexpected reply body %q", mock.SentMessages[0].Body)
	}
}

func TestResponseHandler_EmptyReplySendsNothing(t *testing.T) {
	mock := twiliosms.NewMockClient()
	svc := NewTwilioService(mock)
	rh := NewResponseHandler(svc, func(ctx context.Context, from, body string, timestamp int64) (string, error) {
		return "", nil
	})

	rh.ProcessResponse(context.Background(), models.InboundMessage{From: "+15551234567", Body: "hi", Time: 1})

	if len(mock.SentMessages) != 0 {
		t.Errorf("expected no reply, got %d messages", len(mock.SentMessages))
	}
}

func TestResponseHandler_ActionErrorSendsNothing(t *testing.T) {
	mock := twiliosms.NewMockClient()
	svc := NewTwilioService(mock)
	rh := NewResponseHandler(svc, func(ctx context.Context, from, body string, timestamp int64) (string, error) {
		return "should not send", errors.New("bot unavailable")
	})

	rh.ProcessResponse(context.Background(), models.InboundMessage{From: "+15551234567", Body: "hi", Time: 1})

	if len(mock.SentMessages) != 0 {
		t.Errorf("expected no reply on action error, got %d messages", len(mock.SentMessages))
	}
}

func TestResponseHandler_InvalidSenderIgnored(t *testing.T) {
	mock := twiliosms.NewMockClient()
	svc := NewTwilioService(mock)

	called := false
	rh := NewResponseHandler(svc, func(ctx context.Context, from, body string, timestamp int64) (string, error) {
		called = true
		return "", nil
	})

	rh.ProcessResponse(context.Background(), models.InboundMessage{From: "not-a-number", Body: "hi", Time: 1})

	if called {
		t.Error("action must not run for an invalid sender")
	}
}

func TestResponseHandler_RunConsumesInbound(t *testing.T) {
	svc := NewTwilioService(twiliosms.NewMockClient())

	got := make(chan string, 1)
	rh := NewResponseHandler(svc, func(ctx context.Context, from, body string, timestamp int64) (string, error) {
		got <- body
		return "", nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rh.Run(ctx)

	svc.safeEmitResponse(models.InboundMessage{From: "+15551234567", Body: "ping", Time: 1})

	select {
	case body := <-got:
		if body != "ping" {
			t.Errorf("unexpected body %q", body)
		}
	case <-time.After(time.Second):
		t.Error("inbound message not consumed")
	}
}
