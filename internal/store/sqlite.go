// Package store provides storage backends for ClauseFlow.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/LexForge/ClauseFlow/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	slog.Debug("SQLite database directory verified/created", "dir", dir)

	slog.Debug("Opening SQLite database connection")
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	slog.Debug("SQLite database opened")

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}
	slog.Debug("SQLite ping successful")

	// Run migrations to ensure tables exist
	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	} else {
		slog.Debug("SQLite database connection closed successfully")
	}
	return err
}

// SaveTemplate upserts a template and replaces its clause set atomically.
func (s *SQLiteStore) SaveTemplate(tmpl models.Template, clauses []models.Clause) error {
	tx, err := s.db.Begin()
	if err != nil {
		slog.Error("SQLiteStore SaveTemplate begin failed", "error", err, "templateID", tmpl.ID)
		return fmt.Errorf("failed to begin template save: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO doc_templates (id, name, description, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			active = excluded.active,
			updated_at = excluded.updated_at`,
		tmpl.ID, tmpl.Name, nilIfEmpty(tmpl.Description), tmpl.Active, tmpl.CreatedAt, tmpl.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveTemplate upsert failed", "error", err, "templateID", tmpl.ID)
		return fmt.Errorf("failed to upsert template %s: %w", tmpl.ID, err)
	}

	if _, err := tx.Exec(`DELETE FROM template_clauses WHERE template_id = ?`, tmpl.ID); err != nil {
		slog.Error("SQLiteStore SaveTemplate clause delete failed", "error", err, "templateID", tmpl.ID)
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
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, tmpl.ID, c.OrderNum, c.SectionName, string(c.Kind), c.SystemPrompt,
			nilIfEmpty(c.ContentTemplate), nilIfEmpty(suggestionsJSON), nilIfEmpty(alternativesJSON),
			nilIfEmpty(rulesJSON), nilIfEmpty(placeholdersJSON), c.CreatedAt, c.UpdatedAt)
		if err != nil {
			slog.Error("SQLiteStore SaveTemplate clause insert failed", "error", err, "templateID", tmpl.ID, "section", c.SectionName)
			return fmt.Errorf("failed to insert clause %s: %w", c.SectionName, err)
		}
	}

	if err := tx.Commit(); err != nil {
		slog.Error("SQLiteStore SaveTemplate commit failed", "error", err, "templateID", tmpl.ID)
		return fmt.Errorf("failed to commit template save: %w", err)
	}
	slog.Debug("SQLiteStore SaveTemplate succeeded", "templateID", tmpl.ID, "clauses", len(clauses))
	return nil
}

// GetTemplate retrieves a template by ID.
func (s *SQLiteStore) GetTemplate(id string) (*models.Template, error) {
	var t models.Template
	var description sql.NullString

	err := s.db.QueryRow(
		`SELECT id, name, description, active, created_at, updated_at FROM doc_templates WHERE id = ?`,
		id,
	).Scan(&t.ID, &t.Name, &description, &t.Active, &t.CreatedAt, &t.UpdatedAt)

	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetTemplate not found", "id", id)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetTemplate failed", "error", err, "id", id)
		return nil, err
	}

	t.Description = description.String
	slog.Debug("SQLiteStore GetTemplate found", "id", id)
	return &t, nil
}

// GetTemplateClauses retrieves a template's clauses ordered by order_num.
func (s *SQLiteStore) GetTemplateClauses(templateID string) ([]models.Clause, error) {
	rows, err := s.db.Query(
		`SELECT id, template_id, order_num, section_name, kind, system_prompt, content_template, suggestions_json, type_alternatives_json, rules_json, placeholders_json, created_at, updated_at
		 FROM template_clauses WHERE template_id = ? ORDER BY order_num ASC`,
		templateID,
	)
	if err != nil {
		slog.Error("SQLiteStore GetTemplateClauses query failed", "error", err, "templateID", templateID)
		return nil, fmt.Errorf("failed to query clauses for template %s: %w", templateID, err)
	}
	defer rows.Close()

	var clauses []models.Clause
	for rows.Next() {
		c, err := scanClause(rows)
		if err != nil {
			slog.Error("SQLiteStore GetTemplateClauses scan failed", "error", err, "templateID", templateID)
			return nil, err
		}
		clauses = append(clauses, c)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore GetTemplateClauses rows iteration failed", "error", err, "templateID", templateID)
		return nil, fmt.Errorf("failed to iterate clause rows: %w", err)
	}
	slog.Debug("SQLiteStore GetTemplateClauses succeeded", "templateID", templateID, "count", len(clauses))
	return clauses, nil
}

// ListTemplates retrieves templates, optionally restricted to active ones.
func (s *SQLiteStore) ListTemplates(activeOnly bool) ([]models.Template, error) {
	query := `SELECT id, name, description, active, created_at, updated_at FROM doc_templates ORDER BY name ASC`
	if activeOnly {
		query = `SELECT id, name, description, active, created_at, updated_at FROM doc_templates WHERE active = 1 ORDER BY name ASC`
	}

	rows, err := s.db.Query(query)
	if err != nil {
		slog.Error("SQLiteStore ListTemplates query failed", "error", err)
		return nil, fmt.Errorf("failed to query templates: %w", err)
	}
	defer rows.Close()

	var templates []models.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			slog.Error("SQLiteStore ListTemplates scan failed", "error", err)
			return nil, err
		}
		templates = append(templates, t)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore ListTemplates rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate template rows: %w", err)
	}
	slog.Debug("SQLiteStore ListTemplates succeeded", "count", len(templates), "activeOnly", activeOnly)
	return templates, nil
}

// CreateDocument inserts a new document.
func (s *SQLiteStore) CreateDocument(doc models.Document) error {
	contentJSON, err := encodeContent(doc.Content)
	if err != nil {
		slog.Error("SQLiteStore CreateDocument content encode failed", "error", err, "id", doc.ID)
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO documents (id, user_id, template_id, content_json, status, current_clause_order, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.UserID, doc.TemplateID, nilIfEmpty(contentJSON), string(doc.Status),
		doc.CurrentClauseOrder, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			slog.Debug("SQLiteStore CreateDocument active document exists", "userID", doc.UserID)
			return models.ErrActiveDocumentExists
		}
		slog.Error("SQLiteStore CreateDocument failed", "error", err, "id", doc.ID)
		return fmt.Errorf("failed to insert document %s: %w", doc.ID, err)
	}
	slog.Debug("SQLiteStore CreateDocument succeeded", "id", doc.ID, "userID", doc.UserID, "templateID", doc.TemplateID)
	return nil
}

// GetDocument retrieves a document by ID.
func (s *SQLiteStore) GetDocument(id string) (*models.Document, error) {
	row := s.db.QueryRow(
		`SELECT id, user_id, template_id, content_json, status, current_clause_order, created_at, updated_at
		 FROM documents WHERE id = ?`,
		id,
	)
	d, err := scanDocumentRow(row)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetDocument not found", "id", id)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetDocument failed", "error", err, "id", id)
		return nil, err
	}
	slog.Debug("SQLiteStore GetDocument found", "id", id, "status", d.Status)
	return &d, nil
}

// GetActiveDocumentForUser retrieves the user's in-progress document.
func (s *SQLiteStore) GetActiveDocumentForUser(userID string) (*models.Document, error) {
	row := s.db.QueryRow(
		`SELECT id, user_id, template_id, content_json, status, current_clause_order, created_at, updated_at
		 FROM documents WHERE user_id = ? AND status = 'in_progress'`,
		userID,
	)
	d, err := scanDocumentRow(row)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetActiveDocumentForUser not found", "userID", userID)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetActiveDocumentForUser failed", "error", err, "userID", userID)
		return nil, err
	}
	slog.Debug("SQLiteStore GetActiveDocumentForUser found", "userID", userID, "documentID", d.ID)
	return &d, nil
}

// UpdateDocumentProgress persists new content and the traversal cursor.
func (s *SQLiteStore) UpdateDocumentProgress(id string, content map[string]string, currentClauseOrder int) error {
	contentJSON, err := json.Marshal(content)
	if err != nil {
		slog.Error("SQLiteStore UpdateDocumentProgress content encode failed", "error", err, "id", id)
		return fmt.Errorf("failed to encode document content: %w", err)
	}

	now := time.Now()
	_, err = s.db.Exec(
		`UPDATE documents SET content_json = ?, current_clause_order = ?, updated_at = ? WHERE id = ?`,
		string(contentJSON), currentClauseOrder, now, id,
	)
	if err != nil {
		slog.Error("SQLiteStore UpdateDocumentProgress failed", "error", err, "id", id)
		return fmt.Errorf("failed to update document %s progress: %w", id, err)
	}
	slog.Debug("SQLiteStore UpdateDocumentProgress succeeded", "id", id, "currentClauseOrder", currentClauseOrder)
	return nil
}

// UpdateDocumentStatus transitions a document's lifecycle status.
func (s *SQLiteStore) UpdateDocumentStatus(id string, status models.DocumentStatus) error {
	now := time.Now()
	_, err := s.db.Exec(
		`UPDATE documents SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), now, id,
	)
	if err != nil {
		slog.Error("SQLiteStore UpdateDocumentStatus failed", "error", err, "id", id, "status", status)
		return fmt.Errorf("failed to update document %s status: %w", id, err)
	}
	slog.Debug("SQLiteStore UpdateDocumentStatus succeeded", "id", id, "status", status)
	return nil
}

// ListUserDocuments retrieves all documents for a user, newest first.
func (s *SQLiteStore) ListUserDocuments(userID string) ([]models.Document, error) {
	rows, err := s.db.Query(
		`SELECT id, user_id, template_id, content_json, status, current_clause_order, created_at, updated_at
		 FROM documents WHERE user_id = ? ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		slog.Error("SQLiteStore ListUserDocuments query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query documents for user %s: %w", userID, err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			slog.Error("SQLiteStore ListUserDocuments scan failed", "error", err, "userID", userID)
			return nil, err
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore ListUserDocuments rows iteration failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to iterate document rows: %w", err)
	}
	slog.Debug("SQLiteStore ListUserDocuments succeeded", "userID", userID, "count", len(docs))
	return docs, nil
}

// PauseStaleDocuments pauses in-progress documents untouched since olderThan.
func (s *SQLiteStore) PauseStaleDocuments(olderThan time.Time) ([]models.Document, error) {
	rows, err := s.db.Query(
		`SELECT id, user_id, template_id, content_json, status, current_clause_order, created_at, updated_at
		 FROM documents WHERE status = 'in_progress' AND updated_at < ? ORDER BY updated_at ASC`,
		olderThan,
	)
	if err != nil {
		slog.Error("SQLiteStore PauseStaleDocuments query failed", "error", err)
		return nil, fmt.Errorf("failed to query stale documents: %w", err)
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
		return nil, fmt.Errorf("failed to iterate stale document rows: %w", err)
	}

	now := time.Now()
	for i := range docs {
		_, err := s.db.Exec(
			`UPDATE documents SET status = 'paused', updated_at = ? WHERE id = ? AND status = 'in_progress'`,
			now, docs[i].ID,
		)
		if err != nil {
			slog.Error("SQLiteStore PauseStaleDocuments update failed", "error", err, "id", docs[i].ID)
			return nil, fmt.Errorf("failed to pause document %s: %w", docs[i].ID, err)
		}
		docs[i].Status = models.DocumentStatusPaused
		docs[i].UpdatedAt = now
	}

	if len(docs) > 0 {
		slog.Info("SQLiteStore PauseStaleDocuments", "paused", len(docs))
	}
	return docs, nil
}

// HasActiveDocumentsForTemplate reports whether any in-progress document
// references the template.
func (s *SQLiteStore) HasActiveDocumentsForTemplate(templateID string) (bool, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(1) FROM documents WHERE template_id = ? AND status = 'in_progress'`,
		templateID,
	).Scan(&count)
	if err != nil {
		slog.Error("SQLiteStore HasActiveDocumentsForTemplate failed", "error", err, "templateID", templateID)
		return false, fmt.Errorf("failed to count active documents for template %s: %w", templateID, err)
	}
	return count > 0, nil
}

// GetConversation retrieves a user's chat history.
func (s *SQLiteStore) GetConversation(userID string) (*models.Conversation, error) {
	var conv models.Conversation
	var messagesJSON sql.NullString

	err := s.db.QueryRow(
		`SELECT user_id, messages_json, updated_at FROM conversations WHERE user_id = ?`,
		userID,
	).Scan(&conv.UserID, &messagesJSON, &conv.UpdatedAt)

	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetConversation not found", "userID", userID)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetConversation failed", "error", err, "userID", userID)
		return nil, err
	}

	if messagesJSON.String != "" {
		if err := json.Unmarshal([]byte(messagesJSON.String), &conv.Messages); err != nil {
			slog.Error("SQLiteStore GetConversation JSON unmarshal failed", "error", err, "userID", userID)
			// Continue with empty history rather than failing
			conv.Messages = nil
		}
	}

	slog.Debug("SQLiteStore GetConversation found", "userID", userID, "messages", len(conv.Messages))
	return &conv, nil
}

// SaveConversation stores or replaces a user's chat history.
func (s *SQLiteStore) SaveConversation(conv models.Conversation) error {
	var messagesJSON string
	if len(conv.Messages) > 0 {
		jsonBytes, err := json.Marshal(conv.Messages)
		if err != nil {
			slog.Error("SQLiteStore SaveConversation JSON marshal failed", "error", err, "userID", conv.UserID)
			return err
		}
		messagesJSON = string(jsonBytes)
	}

	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO conversations (user_id, messages_json, updated_at) VALUES (?, ?, ?)`,
		conv.UserID, nilIfEmpty(messagesJSON), conv.UpdatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore SaveConversation failed", "error", err, "userID", conv.UserID)
		return err
	}
	slog.Debug("SQLiteStore SaveConversation succeeded", "userID", conv.UserID, "messages", len(conv.Messages))
	return nil
}
