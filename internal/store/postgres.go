// Package store provides storage backends for ClauseFlow.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/LexForge/ClauseFlow/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	slog.Debug("Opening Postgres database connection")
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}
	slog.Debug("Postgres database opened")

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}
	slog.Debug("Postgres ping successful")

	// Run migrations to ensure tables exist
	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing PostgreSQL database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close PostgreSQL database", "error", err)
	} else {
		slog.Debug("PostgreSQL database connection closed successfully")
	}
	return err
}

// SaveTemplate upserts a template and replaces its clause set atomically.
func (s *PostgresStore) SaveTemplate(tmpl models.Template, clauses []models.Clause) error {
	tx, err := s.db.Begin()
	if err != nil {
		slog.Error("PostgresStore SaveTemplate begin failed", "error", err, "templateID", tmpl.ID)
		return fmt.Errorf("failed to begin template save: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO doc_templates (id, name, description, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at`,
		tmpl.ID, tmpl.Name, nilIfEmpty(tmpl.Description), tmpl.Active, tmpl.CreatedAt, tmpl.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveTemplate upsert failed", "error", err, "templateID", tmpl.ID)
		return fmt.Errorf("failed to upsert template %s: %w", tmpl.ID, err)
	}

	if _, err := tx.Exec(`DELETE FROM template_clauses WHERE template_id = $1`, tmpl.ID); err != nil {
		slog.Error("PostgresStore SaveTemplate clause delete failed", "error", err, "templateID", tmpl.ID)
		return fmt.Errorf("failed to clear clauses for template %s: %w", tmpl.ID, err)
	}

	for _, c := range clauses {
		suggestionsJSON, err := encodeLabeledTexts(c.Suggestions)
		if err != nil {
			return err
		}
		alternativesJSON, err := encodeLabeledTexts(c.TypeAlternatives)
		if err != nil {
			return err
		}
		rulesJSON, err := models.EncodeValidationRules(c.Rules)
		if err != nil {
			return err
		}
		placeholdersJSON, err := encodePlaceholders(c.Placeholders)
		if err != nil {
			return err
		}

		_, err = tx.Exec(`
			INSERT INTO template_clauses (id, template_id, order_num, section_name, kind, system_prompt, content_template, suggestions_json, type_alternatives_json, rules_json, placeholders_json, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			c.ID, tmpl.ID, c.OrderNum, c.SectionName, string(c.Kind), c.SystemPrompt,
			nilIfEmpty(c.ContentTemplate), nilIfEmpty(suggestionsJSON), nilIfEmpty(alternativesJSON),
			nilIfEmpty(rulesJSON), nilIfEmpty(placeholdersJSON), c.CreatedAt, c.UpdatedAt)
		if err != nil {
			slog.Error("PostgresStore SaveTemplate clause insert failed", "error", err, "templateID", tmpl.ID, "section", c.SectionName)
			return fmt.Errorf("failed to insert clause %s: %w", c.SectionName, err)
		}
	}

	if err := tx.Commit(); err != nil {
		slog.Error("PostgresStore SaveTemplate commit failed", "error", err, "templateID", tmpl.ID)
		return fmt.Errorf("failed to commit template save: %w", err)
	}
	slog.Debug("PostgresStore SaveTemplate succeeded", "templateID", tmpl.ID, "clauses", len(clauses))
	return nil
}

// GetTemplate retrieves a template by ID.
func (s *PostgresStore) GetTemplate(id string) (*models.Template, error) {
	var t models.Template
	var description sql.NullString

	err := s.db.QueryRow(
		`SELECT id, name, description, active, created_at, updated_at FROM doc_templates WHERE id = $1`,
		id,
	).Scan(&t.ID, &t.Name, &description, &t.Active, &t.CreatedAt, &t.UpdatedAt)

	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetTemplate not found", "id", id)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetTemplate failed", "error", err, "id", id)
		return nil, err
	}

	t.Description = description.String
	slog.Debug("PostgresStore GetTemplate found", "id", id)
	return &t, nil
}

// GetTemplateClauses retrieves a template's clauses ordered by order_num.
func (s *PostgresStore) GetTemplateClauses(templateID string) ([]models.Clause, error) {
	rows, err := s.db.Query(
		`SELECT id, template_id, order_num, section_name, kind, system_prompt, content_template, suggestions_json, type_alternatives_json, rules_json, placeholders_json, created_at, updated_at
		 FROM template_clauses WHERE template_id = $1 ORDER BY order_num ASC`,
		templateID,
	)
	if err != nil {
		slog.Error("PostgresStore GetTemplateClauses query failed", "error", err, "templateID", templateID)
		return nil, fmt.Errorf("failed to query clauses for template %s: %w", templateID, err)
	}
	defer rows.Close()

	var clauses []models.Clause
	for rows.Next() {
		c, err := scanClause(rows)
		if err != nil {
			slog.Error("PostgresStore GetTemplateClauses scan failed", "error", err, "templateID", templateID)
			return nil, err
		}
		clauses = append(clauses, c)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore GetTemplateClauses rows iteration failed", "error", err, "templateID", templateID)
		return nil, fmt.Errorf("failed to iterate clause rows: %w", err)
	}
	slog.Debug("PostgresStore GetTemplateClauses succeeded", "templateID", templateID, "count", len(clauses))
	return clauses, nil
}

// ListTemplates retrieves templates, optionally restricted to active ones.
func (s *PostgresStore) ListTemplates(activeOnly bool) ([]models.Template, error) {
	query := `SELECT id, name, description, active, created_at, updated_at FROM doc_templates ORDER BY name ASC`
	if activeOnly {
		query = `SELECT id, name, description, active, created_at, updated_at FROM doc_templates WHERE active = TRUE ORDER BY name ASC`
	}

	rows, err := s.db.Query(query)
	if err != nil {
		slog.Error("PostgresStore ListTemplates query failed", "error", err)
		return nil, fmt.Errorf("failed to query templates: %w", err)
	}
	defer rows.Close()

	var templates []models.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			slog.Error("PostgresStore ListTemplates scan failed", "error", err)
			return nil, err
		}
		templates = append(templates, t)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore ListTemplates rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate template rows: %w", err)
	}
	slog.Debug("PostgresStore ListTemplates succeeded", "count", len(templates), "activeOnly", activeOnly)
	return templates, nil
}

// CreateDocument inserts a new document.
func (s *PostgresStore) CreateDocument(doc models.Document) error {
	contentJSON, err := encodeContent(doc.Content)
	if err != nil {
		slog.Error("PostgresStore CreateDocument content encode failed", "error", err, "id", doc.ID)
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO documents (id, user_id, template_id, content_json, status, current_clause_order, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		doc.ID, doc.UserID, doc.TemplateID, nilIfEmpty(contentJSON), string(doc.Status),
		doc.CurrentClauseOrder, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			slog.Debug("PostgresStore CreateDocument active document exists", "userID", doc.UserID)
			return models.ErrActiveDocumentExists
		}
		slog.Error("PostgresStore CreateDocument failed", "error", err, "id", doc.ID)
		return fmt.Errorf("failed to insert document %s: %w", doc.ID, err)
	}
	slog.Debug("PostgresStore CreateDocument succeeded", "id", doc.ID, "userID", doc.UserID, "templateID", doc.TemplateID)
	return nil
}

// GetDocument retrieves a document by ID.
func (s *PostgresStore) GetDocument(id string) (*models.Document, error) {
	row := s.db.QueryRow(
		`SELECT id, user_id, template_id, content_json, status, current_clause_order, created_at, updated_at
		 FROM documents WHERE id = $1`,
		id,
	)
	d, err := scanDocumentRow(row)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetDocument not found", "id", id)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetDocument failed", "error", err, "id", id)
		return nil, err
	}
	slog.Debug("PostgresStore GetDocument found", "id", id, "status", d.Status)
	return &d, nil
}

// GetActiveDocumentForUser retrieves the user's in-progress document.
func (s *PostgresStore) GetActiveDocumentForUser(userID string) (*models.Document, error) {
	row := s.db.QueryRow(
		`SELECT id, user_id, template_id, content_json, status, current_clause_order, created_at, updated_at
		 FROM documents WHERE user_id = $1 AND status = 'in_progress'`,
		userID,
	)
	d, err := scanDocumentRow(row)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetActiveDocumentForUser not found", "userID", userID)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetActiveDocumentForUser failed", "error", err, "userID", userID)
		return nil, err
	}
	slog.Debug("PostgresStore GetActiveDocumentForUser found", "userID", userID, "documentID", d.ID)
	return &d, nil
}

// UpdateDocumentProgress persists new content and the traversal cursor.
func (s *PostgresStore) UpdateDocumentProgress(id string, content map[string]string, currentClauseOrder int) error {
	contentJSON, err := json.Marshal(content)
	if err != nil {
		slog.Error("PostgresStore UpdateDocumentProgress content encode failed", "error", err, "id", id)
		return fmt.Errorf("failed to encode document content: %w", err)
	}

	now := time.Now()
	_, err = s.db.Exec(
		`UPDATE documents SET content_json = $1, current_clause_order = $2, updated_at = $3 WHERE id = $4`,
		string(contentJSON), currentClauseOrder, now, id,
	)
	if err != nil {
		slog.Error("PostgresStore UpdateDocumentProgress failed", "error", err, "id", id)
		return fmt.Errorf("failed to update document %s progress: %w", id, err)
	}
	slog.Debug("PostgresStore UpdateDocumentProgress succeeded", "id", id, "currentClauseOrder", currentClauseOrder)
	return nil
}

// UpdateDocumentStatus transitions a document's lifecycle status.
func (s *PostgresStore) UpdateDocumentStatus(id string, status models.DocumentStatus) error {
	now := time.Now()
	_, err := s.db.Exec(
		`UPDATE documents SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), now, id,
	)
	if err != nil {
		slog.Error("PostgresStore UpdateDocumentStatus failed", "error", err, "id", id, "status", status)
		return fmt.Errorf("failed to update document %s status: %w", id, err)
	}
	slog.Debug("PostgresStore UpdateDocumentStatus succeeded", "id", id, "status", status)
	return nil
}

// ListUserDocuments retrieves all documents for a user, newest first.
func (s *PostgresStore) ListUserDocuments(userID string) ([]models.Document, error) {
	rows, err := s.db.Query(
		`SELECT id, user_id, template_id, content_json, status, current_clause_order, created_at, updated_at
		 FROM documents WHERE user_id = $1 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		slog.Error("PostgresStore ListUserDocuments query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query documents for user %s: %w", userID, err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			slog.Error("PostgresStore ListUserDocuments scan failed", "error", err, "userID", userID)
			return nil, err
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore ListUserDocuments rows iteration failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to iterate document rows: %w", err)
	}
	slog.Debug("PostgresStore ListUserDocuments succeeded", "userID", userID, "count", len(docs))
	return docs, nil
}

// PauseStaleDocuments pauses in-progress documents untouched since olderThan.
func (s *PostgresStore) PauseStaleDocuments(olderThan time.Time) ([]models.Document, error) {
	now := time.Now()
	rows, err := s.db.Query(
		`UPDATE documents SET status = 'paused', updated_at = $1
		 WHERE id IN (
		   SELECT id FROM documents WHERE status = 'in_progress' AND updated_at < $2
		   ORDER BY updated_at ASC
		   FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id, user_id, template_id, content_json, status, current_clause_order, created_at, updated_at`,
		now, olderThan,
	)
	if err != nil {
		slog.Error("PostgresStore PauseStaleDocuments failed", "error", err)
		return nil, fmt.Errorf("failed to pause stale documents: %w", err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate paused document rows: %w", err)
	}

	if len(docs) > 0 {
		slog.Info("PostgresStore PauseStaleDocuments", "paused", len(docs))
	}
	return docs, nil
}

// HasActiveDocumentsForTemplate reports whether any in-progress document
// references the template.
func (s *PostgresStore) HasActiveDocumentsForTemplate(templateID string) (bool, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(1) FROM documents WHERE template_id = $1 AND status = 'in_progress'`,
		templateID,
	).Scan(&count)
	if err != nil {
		slog.Error("PostgresStore HasActiveDocumentsForTemplate failed", "error", err, "templateID", templateID)
		return false, fmt.Errorf("failed to count active documents for template %s: %w", templateID, err)
	}
	return count > 0, nil
}

// GetConversation retrieves a user's chat history.
func (s *PostgresStore) GetConversation(userID string) (*models.Conversation, error) {
	var conv models.Conversation
	var messagesJSON sql.NullString

	err := s.db.QueryRow(
		`SELECT user_id, messages_json, updated_at FROM conversations WHERE user_id = $1`,
		userID,
	).Scan(&conv.UserID, &messagesJSON, &conv.UpdatedAt)

	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetConversation not found", "userID", userID)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetConversation failed", "error", err, "userID", userID)
		return nil, err
	}

	if messagesJSON.String != "" {
		if err := json.Unmarshal([]byte(messagesJSON.String), &conv.Messages); err != nil {
			slog.Error("PostgresStore GetConversation JSON unmarshal failed", "error", err, "userID", userID)
			// Continue with empty history rather than failing
			conv.Messages = nil
		}
	}

	slog.Debug("PostgresStore GetConversation found", "userID", userID, "messages", len(conv.Messages))
	return &conv, nil
}

// SaveConversation stores or replaces a user's chat history.
func (s *PostgresStore) SaveConversation(conv models.Conversation) error {
	var messagesJSON string
	if len(conv.Messages) > 0 {
		jsonBytes, err := json.Marshal(conv.Messages)
		if err != nil {
			slog.Error("PostgresStore SaveConversation JSON marshal failed", "error", err, "userID", conv.UserID)
			return err
		}
		messagesJSON = string(jsonBytes)
	}

	_, err := s.db.Exec(`
		INSERT INTO conversations (user_id, messages_json, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET
			messages_json = EXCLUDED.messages_json,
			updated_at = EXCLUDED.updated_at`,
		conv.UserID, nilIfEmpty(messagesJSON), conv.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveConversation failed", "error", err, "userID", conv.UserID)
		return err
	}
	slog.Debug("PostgresStore SaveConversation succeeded", "userID", conv.UserID, "messages", len(conv.Messages))
	return nil
}
