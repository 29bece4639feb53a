package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/LexForge/ClauseFlow/internal/models"
	"github.com/lib/pq"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// isUniqueViolation reports whether err is a unique constraint violation from
// either backend.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return isSQLiteUniqueViolation(err)
}

// encodeContent marshals a document content map for storage. Empty content
// encodes as an empty string so the column stays null.
func encodeContent(content map[string]string) (string, error) {
	if len(content) == 0 {
		return "", nil
	}
	data, err := json.Marshal(content)
	if err != nil {
		return "", fmt.Errorf("failed to encode document content: %w", err)
	}
	return string(data), nil
}

// encodeLabeledTexts marshals an ordered label/text list for storage.
func encodeLabeledTexts(items []models.LabeledText) (string, error) {
	if len(items) == 0 {
		return "", nil
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("failed to encode labeled texts: %w", err)
	}
	return string(data), nil
}

// encodePlaceholders marshals a clause placeholder map for storage.
func encodePlaceholders(placeholders map[string]models.PlaceholderSpec) (string, error) {
	if len(placeholders) == 0 {
		return "", nil
	}
	data, err := json.Marshal(placeholders)
	if err != nil {
		return "", fmt.Errorf("failed to encode placeholders: %w", err)
	}
	return string(data), nil
}

// scanTemplate scans a Template from sql.Rows.
func scanTemplate(rows *sql.Rows) (models.Template, error) {
	var t models.Template
	var description sql.NullString
	err := rows.Scan(&t.ID, &t.Name, &description, &t.Active, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return t, fmt.Errorf("scan template failed: %w", err)
	}
	t.Description = description.String
	return t, nil
}

// scanClause scans a Clause from sql.Rows, decoding its JSON columns.
func scanClause(rows *sql.Rows) (models.Clause, error) {
	var c models.Clause
	var kind string
	var contentTemplate, suggestionsJSON, alternativesJSON, rulesJSON, placeholdersJSON sql.NullString
	err := rows.Scan(
		&c.ID, &c.TemplateID, &c.OrderNum, &c.SectionName, &kind, &c.SystemPrompt,
		&contentTemplate, &suggestionsJSON, &alternativesJSON, &rulesJSON, &placeholdersJSON,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return c, fmt.Errorf("scan clause failed: %w", err)
	}
	c.Kind = models.ClauseKind(kind)
	c.ContentTemplate = contentTemplate.String
	if suggestionsJSON.String != "" {
		if err := json.Unmarshal([]byte(suggestionsJSON.String), &c.Suggestions); err != nil {
			return c, fmt.Errorf("failed to decode clause %s suggestions: %w", c.ID, err)
		}
	}
	if alternativesJSON.String != "" {
		if err := json.Unmarshal([]byte(alternativesJSON.String), &c.TypeAlternatives); err != nil {
			return c, fmt.Errorf("failed to decode clause %s type alternatives: %w", c.ID, err)
		}
	}
	if placeholdersJSON.String != "" {
		if err := json.Unmarshal([]byte(placeholdersJSON.String), &c.Placeholders); err != nil {
			return c, fmt.Errorf("failed to decode clause %s placeholders: %w", c.ID, err)
		}
	}
	rules, err := models.ParseValidationRules(rulesJSON.String)
	if err != nil {
		return c, fmt.Errorf("clause %s: %w", c.ID, err)
	}
	c.Rules = rules
	return c, nil
}

// scanDocument scans a Document from sql.Rows.
func scanDocument(rows *sql.Rows) (models.Document, error) {
	var d models.Document
	var status string
	var contentJSON sql.NullString
	err := rows.Scan(
		&d.ID, &d.UserID, &d.TemplateID, &contentJSON, &status,
		&d.CurrentClauseOrder, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return d, fmt.Errorf("scan document failed: %w", err)
	}
	d.Status = models.DocumentStatus(status)
	if err := decodeDocumentContent(&d, contentJSON.String); err != nil {
		return d, err
	}
	return d, nil
}

// scanDocumentRow scans a Document from a single sql.Row.
func scanDocumentRow(row *sql.Row) (models.Document, error) {
	var d models.Document
	var status string
	var contentJSON sql.NullString
	err := row.Scan(
		&d.ID, &d.UserID, &d.TemplateID, &contentJSON, &status,
		&d.CurrentClauseOrder, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return d, err
	}
	d.Status = models.DocumentStatus(status)
	if err := decodeDocumentContent(&d, contentJSON.String); err != nil {
		return d, err
	}
	return d, nil
}

// decodeDocumentContent restores the section content map. Content is the
// document itself, so decode failures are errors rather than tolerated.
func decodeDocumentContent(d *models.Document, raw string) error {
	d.Content = make(map[string]string)
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), &d.Content); err != nil {
		return fmt.Errorf("failed to decode content for document %s: %w", d.ID, err)
	}
	return nil
}

// scanOutboxMessage scans an OutboxMessage from sql.Rows.
func scanOutboxMessage(rows *sql.Rows) (OutboxMessage, error) {
	var m OutboxMessage
	var payloadJSON, dedupeKey, lastError sql.NullString
	var nextAttemptAt, lockedAt sql.NullTime
	err := rows.Scan(
		&m.ID, &m.UserID, &m.Kind, &payloadJSON, &m.Status, &m.Attempts,
		&nextAttemptAt, &dedupeKey, &lockedAt, &lastError, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return m, fmt.Errorf("scan outbox message failed: %w", err)
	}
	m.PayloadJSON = payloadJSON.String
	m.DedupeKey = dedupeKey.String
	m.LastError = lastError.String
	if nextAttemptAt.Valid {
		m.NextAttemptAt = &nextAttemptAt.Time
	}
	if lockedAt.Valid {
		m.LockedAt = &lockedAt.Time
	}
	return m, nil
}
