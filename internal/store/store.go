// Package store provides storage backends for ClauseFlow.
//
// Three implementations share the same interfaces: SQLite for single-node
// deployments, PostgreSQL for shared deployments, and an in-memory store for
// tests. Callers select a backend through DSN options; an empty DSN yields
// the in-memory store.
package store

import (
	"log/slog"
	"strings"
	"time"

	"github.com/LexForge/ClauseFlow/internal/models"
)

// Opts holds configuration options for store implementations.
type Opts struct {
	// DSN is the data source name. For SQLite this is a file path; for
	// PostgreSQL a connection string.
	DSN string
}

// Option defines a functional option for configuring a store.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType inspects a DSN and reports "postgres" or "sqlite". URL-style
// and key=value connection strings select PostgreSQL; anything else is
// treated as a SQLite file path.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// TemplateStore persists document templates and their ordered clauses.
type TemplateStore interface {
	// SaveTemplate upserts a template and replaces its clause set atomically.
	SaveTemplate(tmpl models.Template, clauses []models.Clause) error

	// GetTemplate retrieves a template by ID. Returns (nil, nil) if not found.
	GetTemplate(id string) (*models.Template, error)

	// GetTemplateClauses retrieves a template's clauses ordered by order_num.
	GetTemplateClauses(templateID string) ([]models.Clause, error)

	// ListTemplates retrieves templates, optionally restricted to active ones.
	ListTemplates(activeOnly bool) ([]models.Template, error)
}

// DocumentStore persists documents and their traversal state.
type DocumentStore interface {
	// CreateDocument inserts a new document. Returns
	// models.ErrActiveDocumentExists if the user already has a document in
	// progress.
	CreateDocument(doc models.Document) error

	// GetDocument retrieves a document by ID. Returns (nil, nil) if not found.
	GetDocument(id string) (*models.Document, error)

	// GetActiveDocumentForUser retrieves the user's in-progress document.
	// Returns (nil, nil) if the user has none.
	GetActiveDocumentForUser(userID string) (*models.Document, error)

	// UpdateDocumentProgress persists new content and the traversal cursor.
	UpdateDocumentProgress(id string, content map[string]string, currentClauseOrder int) error

	// UpdateDocumentStatus transitions a document's lifecycle status.
	UpdateDocumentStatus(id string, status models.DocumentStatus) error

	// ListUserDocuments retrieves all documents for a user, newest first.
	ListUserDocuments(userID string) ([]models.Document, error)

	// PauseStaleDocuments pauses in-progress documents untouched since
	// olderThan and returns the documents it paused.
	PauseStaleDocuments(olderThan time.Time) ([]models.Document, error)

	// HasActiveDocumentsForTemplate reports whether any in-progress document
	// references the template. Used to guard template re-seeding.
	HasActiveDocumentsForTemplate(templateID string) (bool, error)
}

// ConversationStore persists drafting-assistant chat history.
type ConversationStore interface {
	// GetConversation retrieves a user's chat history. Returns (nil, nil) if
	// the user has no history yet.
	GetConversation(userID string) (*models.Conversation, error)

	// SaveConversation stores or replaces a user's chat history.
	SaveConversation(conv models.Conversation) error
}

// Store is the union of all persistence interfaces plus lifecycle management.
type Store interface {
	TemplateStore
	DocumentStore
	ConversationStore
	OutboxRepo
	Close() error
}

// Compile-time checks that all backends implement Store.
var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
	_ Store = (*InMemoryStore)(nil)
)

// NewStore creates the store selected by the configured DSN. An empty DSN
// yields the in-memory store.
func NewStore(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Debug("NewStore: no DSN configured, using in-memory store")
		return NewInMemoryStore(), nil
	}
	if DetectDSNType(cfg.DSN) == "postgres" {
		return NewPostgresStore(opts...)
	}
	return NewSQLiteStore(opts...)
}
