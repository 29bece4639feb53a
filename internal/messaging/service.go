// Package messaging provides message delivery and inbound response handling
// for ClauseFlow completion notices and SMS-driven drafting chat.
package messaging

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/LexForge/ClauseFlow/internal/models"
)

// Constants for messaging service configuration.
const (
	// DefaultChannelBufferSize defines the default buffer size for inbound message channels.
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the default timeout for non-blocking channel operations.
	DefaultChannelTimeout = 1 * time.Second
)

// ErrServiceStopped is returned when sending through a stopped service.
var ErrServiceStopped = errors.New("messaging service stopped")

// phoneNumberRegex strips everything but digits during canonicalization.
var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// Service defines a pluggable message delivery abstraction. It supports
// sending messages and provides a channel of inbound user messages.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient
	// identifier. Returns the canonicalized recipient and an error if
	// validation fails.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// Start begins any background processing.
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Responses returns a channel of incoming user messages.
	Responses() <-chan models.InboundMessage
}
