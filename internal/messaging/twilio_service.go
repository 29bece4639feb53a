package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/LexForge/ClauseFlow/internal/models"
	"github.com/LexForge/ClauseFlow/internal/twiliosms"
)

// TwilioService implements the Service interface over SMS using the Twilio API.
type TwilioService struct {
	client    twiliosms.SMSSender
	responses chan models.InboundMessage
	done      chan struct{}
	mu        sync.RWMutex
	stopped   bool
}

// NewTwilioService creates a TwilioService around an SMS sender. The sender is
// usually a twiliosms.Client; tests pass a twiliosms.MockClient.
func NewTwilioService(client twiliosms.SMSSender) *TwilioService {
	return &TwilioService{
		client:    client,
		responses: make(chan models.InboundMessage, DefaultChannelBufferSize),
		done:      make(chan struct{}),
	}
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a phone number.
// It removes all non-numeric characters and validates the result has at least
// 6 digits.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}

	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	wasModified := recipient != canonical

	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < 6 {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum 6 digits required)", canonical)
	}

	if wasModified {
		slog.Debug("TwilioService canonicalized recipient", "original", recipient, "canonical", canonical)
	}

	return canonical, nil
}

// Start is a no-op; inbound messages arrive via the webhook handler.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes channels and stops the service.
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.done)

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(s.responses)
	}()

	return nil
}

// SendMessage sends an SMS to the recipient in E.164 form.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return ErrServiceStopped
	}
	s.mu.RUnlock()

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService SendMessage validation error", "error", err, "to", to)
		return err
	}

	return s.client.SendMessage(ctx, "+"+canonicalTo, body)
}

// Responses returns the channel of inbound SMS messages.
func (s *TwilioService) Responses() <-chan models.InboundMessage {
	return s.responses
}

// TwilioWebhookHandler handles inbound Twilio webhook requests. It parses
// incoming messages and emits them into the Responses() channel.
func (s *TwilioService) TwilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	slog.Info("Twilio webhook received")

	if err := r.ParseForm(); err != nil {
		slog.Error("Failed to parse Twilio webhook form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	from := r.FormValue("From")
	body := r.FormValue("Body")

	if from == "" || body == "" {
		slog.Warn("Twilio webhook missing fields", "from", from, "body", body)
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	slog.Info("Inbound SMS from Twilio", "from", from)

	s.safeEmitResponse(models.InboundMessage{
		From: from,
		Body: body,
		Time: time.Now().Unix(),
	})

	w.WriteHeader(http.StatusNoContent)
}

// safeEmitResponse pushes an inbound message into the responses channel,
// dropping it if the service is stopped or the channel stays full.
func (s *TwilioService) safeEmitResponse(msg models.InboundMessage) {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		slog.Warn("TwilioService dropping inbound message (service stopped)", "from", msg.From)
		return
	}

	select {
	case s.responses <- msg:
		slog.Debug("TwilioService emitted inbound message", "from", msg.From)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TwilioService responses channel blocked, dropping message", "from", msg.From)
	}
}
