// Package api provides the HTTP server and process wiring for ClauseFlow.
//
// It exposes RESTful endpoints for the document workflow, the template
// catalog, the drafting-assistant chat, the Twilio inbound webhook, and
// health checks, and it owns the background loops: the outbox notification
// sender, the inbound SMS consumer, and the stale-document janitor.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/LexForge/ClauseFlow/internal/catalog"
	"github.com/LexForge/ClauseFlow/internal/flow"
	"github.com/LexForge/ClauseFlow/internal/genai"
	"github.com/LexForge/ClauseFlow/internal/messaging"
	"github.com/LexForge/ClauseFlow/internal/scheduler"
	"github.com/LexForge/ClauseFlow/internal/store"
	"github.com/LexForge/ClauseFlow/internal/twiliosms"
)

// Default configuration values.
const (
	// DefaultAddr is the API listen address when none is configured.
	DefaultAddr = ":8080"
	// DefaultJanitorSchedule runs the stale-document janitor hourly.
	DefaultJanitorSchedule = "0 * * * *"
	// DefaultStaleAfter is how long an in-progress document may sit untouched
	// before the janitor pauses it.
	DefaultStaleAfter = 48 * time.Hour
	// DefaultShutdownTimeout bounds the graceful HTTP shutdown.
	DefaultShutdownTimeout = 5 * time.Second
)

// Opts holds API server configuration.
type Opts struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string
	// TemplatesDir is the template catalog directory seeded at startup.
	// Empty means no seeding.
	TemplatesDir string
	// JanitorSchedule is the cron expression for the stale-document janitor.
	JanitorSchedule string
	// StaleAfter is the inactivity threshold after which the janitor pauses a
	// document.
	StaleAfter time.Duration
	// JanitorEnabled toggles the stale-document janitor. Defaults to true.
	JanitorEnabled bool
}

// Option defines a functional option for configuring the API server.
type Option func(*Opts)

// WithAddr overrides the API listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithTemplatesDir sets the template catalog directory seeded at startup.
func WithTemplatesDir(dir string) Option {
	return func(o *Opts) {
		o.TemplatesDir = dir
	}
}

// WithJanitorSchedule overrides the janitor cron expression.
func WithJanitorSchedule(expr string) Option {
	return func(o *Opts) {
		o.JanitorSchedule = expr
	}
}

// WithStaleAfter overrides the janitor's inactivity threshold.
func WithStaleAfter(d time.Duration) Option {
	return func(o *Opts) {
		o.StaleAfter = d
	}
}

// WithJanitorEnabled toggles the stale-document janitor.
func WithJanitorEnabled(enabled bool) Option {
	return func(o *Opts) {
		o.JanitorEnabled = enabled
	}
}

// Server routes HTTP requests to the traversal engine, the store, and the
// drafting bot.
type Server struct {
	st      store.Store
	engine  *flow.Engine
	bot     *flow.DraftingBot
	msg     *messaging.TwilioService
	backend string
}

// NewServer wires the HTTP surface. bot and msg may be nil when GenAI or
// Twilio is not configured; the chat and webhook endpoints then answer 503.
func NewServer(st store.Store, engine *flow.Engine, bot *flow.DraftingBot, msg *messaging.TwilioService, backend string) *Server {
	if backend == "" {
		backend = "memory"
	}
	return &Server{st: st, engine: engine, bot: bot, msg: msg, backend: backend}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/documents/start", s.startDocumentHandler)
	mux.HandleFunc("/documents/", s.documentsRouter)
	mux.HandleFunc("/templates", s.listTemplatesHandler)
	mux.HandleFunc("/templates/", s.getTemplateHandler)
	mux.HandleFunc("/users/", s.userDocumentsHandler)
	mux.HandleFunc("/chat", s.chatHandler)
	mux.HandleFunc("/webhook/twilio", s.twilioWebhookHandler)
	mux.HandleFunc("/health", s.healthHandler)
	return mux
}

// Run assembles the service from module options and blocks until the process
// receives an interrupt or the listener fails.
func Run(storeOpts []store.Option, genaiOpts []genai.Option, smsOpts []twiliosms.Option, apiOpts []Option) error {
	cfg := Opts{
		Addr:            DefaultAddr,
		JanitorSchedule: DefaultJanitorSchedule,
		StaleAfter:      DefaultStaleAfter,
		JanitorEnabled:  true,
	}
	for _, opt := range apiOpts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.JanitorSchedule == "" {
		cfg.JanitorSchedule = DefaultJanitorSchedule
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}

	var storeCfg store.Opts
	for _, opt := range storeOpts {
		opt(&storeCfg)
	}
	backend := "memory"
	if storeCfg.DSN != "" {
		backend = store.DetectDSNType(storeCfg.DSN)
	}

	st, err := store.NewStore(storeOpts...)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()
	slog.Info("Run: store opened", "backend", backend)

	if cfg.TemplatesDir != "" {
		templates, err := catalog.LoadDir(cfg.TemplatesDir)
		if err != nil {
			return fmt.Errorf("failed to load template catalog: %w", err)
		}
		seeded, err := catalog.Seed(st, templates)
		if err != nil {
			return fmt.Errorf("failed to seed template catalog: %w", err)
		}
		slog.Info("Run: template catalog seeded", "dir", cfg.TemplatesDir, "loaded", len(templates), "seeded", seeded)
	}

	engine := flow.NewEngine(st)
	tools := flow.NewDocumentTools(engine, st)

	var bot *flow.DraftingBot
	if gaClient, err := genai.NewClient(genaiOpts...); err != nil {
		slog.Warn("Run: GenAI client not configured, drafting assistant disabled", "error", err)
	} else {
		bot = flow.NewDraftingBot(st, gaClient, tools, "")
	}

	var msgService *messaging.TwilioService
	if smsClient, err := twiliosms.NewClient(smsOpts...); err != nil {
		slog.Warn("Run: Twilio client not configured, SMS delivery disabled", "error", err)
	} else {
		msgService = messaging.NewTwilioService(smsClient)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if msgService != nil {
		sender := store.NewOutboxSender(st, outboxSendFunc(msgService), 0)
		if err := sender.RecoverStaleMessages(); err != nil {
			slog.Warn("Run: failed to requeue stale outbox messages", "error", err)
		}
		go sender.Run(ctx)

		if bot != nil {
			respHandler := messaging.NewResponseHandler(msgService,
				func(ctx context.Context, from, body string, _ int64) (string, error) {
					return bot.ProcessMessage(ctx, from, body)
				})
			go respHandler.Run(ctx)
		} else {
			slog.Warn("Run: inbound SMS chat disabled, drafting assistant unavailable")
		}
	} else {
		slog.Info("Run: outbox delivery idle, no messaging service configured")
	}

	if cfg.JanitorEnabled {
		sched := scheduler.NewScheduler()
		defer sched.Stop()
		if err := sched.AddJob(cfg.JanitorSchedule, func() { runJanitor(st, cfg.StaleAfter) }); err != nil {
			return fmt.Errorf("failed to schedule stale-document janitor: %w", err)
		}
		slog.Info("Run: stale-document janitor scheduled", "schedule", cfg.JanitorSchedule, "staleAfter", cfg.StaleAfter)
	} else {
		slog.Info("Run: stale-document janitor disabled")
	}

	server := NewServer(st, engine, bot, msgService, backend)
	srv := &http.Server{Addr: cfg.Addr, Handler: server.Handler()}

	serverErrors := make(chan error, 1)
	go func() {
		slog.Info("Run: API server listening", "addr", cfg.Addr)
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		slog.Info("Run: shutdown signal received", "signal", sig.String())
		cancel()
		if msgService != nil {
			msgService.Stop()
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Run: graceful shutdown did not complete, closing server", "error", err)
			if cerr := srv.Close(); cerr != nil {
				return fmt.Errorf("failed to close server: %w", cerr)
			}
		}
		slog.Info("Run: server stopped")
		return nil
	}
}

// outboxSendFunc delivers outbox notifications over SMS. User ids that do not
// canonicalize to a phone number are treated as delivered, so documents
// created through the HTTP API never clog the queue with retries.
func outboxSendFunc(msgService *messaging.TwilioService) store.OutboxSendFunc {
	return func(ctx context.Context, msg store.OutboxMessage) error {
		to, err := msgService.ValidateAndCanonicalizeRecipient(msg.UserID)
		if err != nil {
			slog.Debug("outboxSendFunc: recipient is not a phone number, skipping delivery",
				"id", msg.ID, "userID", msg.UserID)
			return nil
		}
		return msgService.SendMessage(ctx, to, notificationBody(msg))
	}
}

// notificationBody renders the SMS text for an outbox message.
func notificationBody(msg store.OutboxMessage) string {
	var payload struct {
		TemplateName string `json:"template_name"`
	}
	if err := json.Unmarshal([]byte(msg.PayloadJSON), &payload); err != nil {
		slog.Debug("notificationBody: failed to decode payload", "id", msg.ID, "error", err)
	}

	switch msg.Kind {
	case store.OutboxKindDocumentCompleted:
		if payload.TemplateName != "" {
			return fmt.Sprintf("Your document '%s' is complete. Text 'preview my document' to see the final version.", payload.TemplateName)
		}
		return "Your document is complete. Text 'preview my document' to see the final version."
	case store.OutboxKindDocumentPaused:
		return "Your document draft was paused after a period of inactivity. Text me when you want to pick it up again."
	default:
		return "You have a new update on your document."
	}
}

// runJanitor pauses in-progress documents untouched past the threshold and
// queues a paused reminder for each owner.
func runJanitor(st store.Store, staleAfter time.Duration) {
	cutoff := time.Now().Add(-staleAfter)
	paused, err := st.PauseStaleDocuments(cutoff)
	if err != nil {
		slog.Error("runJanitor: failed to pause stale documents", "error", err)
		return
	}
	if len(paused) == 0 {
		slog.Debug("runJanitor: no stale documents")
		return
	}

	slog.Info("runJanitor: paused stale documents", "count", len(paused))
	for _, doc := range paused {
		payload, err := json.Marshal(map[string]string{"document_id": doc.ID})
		if err != nil {
			slog.Warn("runJanitor: failed to encode reminder payload", "error", err, "docID", doc.ID)
			continue
		}
		dedupeKey := store.OutboxKindDocumentPaused + ":" + doc.ID
		if _, err := st.EnqueueOutboxMessage(doc.UserID, store.OutboxKindDocumentPaused, string(payload), dedupeKey); err != nil {
			slog.Warn("runJanitor: failed to enqueue paused reminder", "error", err, "docID", doc.ID)
		}
	}
}
