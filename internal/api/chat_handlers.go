package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/LexForge/ClauseFlow/internal/models"
)

// chatHandler handles POST /chat: one drafting-assistant turn. The reply may
// reflect tool calls the assistant made against the caller's documents.
func (s *Server) chatHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.chatHandler: processing chat request", "method", r.Method, "path", r.URL.Path)
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	if s.bot == nil {
		slog.Warn("Server.chatHandler: drafting assistant not configured")
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Drafting assistant is not configured"))
		return
	}

	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.chatHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.chatHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	reply, err := s.bot.ProcessMessage(r.Context(), req.UserID, req.Message)
	if err != nil {
		slog.Error("Server.chatHandler: drafting assistant failed", "error", err, "userID", req.UserID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to generate a reply"))
		return
	}

	slog.Info("Server.chatHandler: chat turn completed", "userID", req.UserID)
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"reply": reply}))
}

// twilioWebhookHandler handles POST /webhook/twilio. Form parsing and the
// inbound hand-off live on the messaging service; replies go out
// asynchronously through the response handler, so the webhook answers 204.
func (s *Server) twilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.twilioWebhookHandler: processing inbound message", "method", r.Method)
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	if s.msg == nil {
		slog.Warn("Server.twilioWebhookHandler: messaging not configured")
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Messaging is not configured"))
		return
	}
	s.msg.TwilioWebhookHandler(w, r)
}
