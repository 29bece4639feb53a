package messaging

import (
	"context"
	"log/slog"

	"github.com/LexForge/ClauseFlow/internal/models"
)

// ResponseAction processes one inbound user message. It receives the sender's
// canonical phone number, the message text, and the unix timestamp, and
// returns the reply to send back. An empty reply sends nothing.
type ResponseAction func(ctx context.Context, from, body string, timestamp int64) (reply string, err error)

// ResponseHandler consumes inbound messages from a Service and routes every
// message to a single action, sending the action's reply back to the sender.
type ResponseHandler struct {
	msgService Service
	action     ResponseAction
}

// NewResponseHandler creates a ResponseHandler around the messaging service.
func NewResponseHandler(msgService Service, action ResponseAction) *ResponseHandler {
	return &ResponseHandler{
		msgService: msgService,
		action:     action,
	}
}

// Run consumes inbound messages until the context is canceled or the
// service's response channel closes.
func (rh *ResponseHandler) Run(ctx context.Context) {
	slog.Info("ResponseHandler.Run: consuming inbound messages")
	for {
		select {
		case <-ctx.Done():
			slog.Info("ResponseHandler.Run: context canceled, stopping")
			return
		case msg, ok := <-rh.msgService.Responses():
			if !ok {
				slog.Info("ResponseHandler.Run: response channel closed, stopping")
				return
			}
			rh.ProcessResponse(ctx, msg)
		}
	}
}

// ProcessResponse handles a single inbound message: canonicalize the sender,
// run the action, and send the reply.
func (rh *ResponseHandler) ProcessResponse(ctx context.Context, msg models.InboundMessage) {
	canonicalFrom, err := rh.msgService.ValidateAndCanonicalizeRecipient(msg.From)
	if err != nil {
		slog.Error("ResponseHandler.ProcessResponse: sender validation failed", "error", err, "from", msg.From)
		return
	}

	reply, err := rh.action(ctx, canonicalFrom, msg.Body, msg.Time)
	if err != nil {
		slog.Error("ResponseHandler.ProcessResponse: action failed", "error", err, "from", canonicalFrom)
		return
	}
	if reply == "" {
		return
	}

	if err := rh.msgService.SendMessage(ctx, canonicalFrom, reply); err != nil {
		slog.Error("ResponseHandler.ProcessResponse: failed to send reply", "error", err, "from", canonicalFrom)
	}
}
