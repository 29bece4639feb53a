// Package store provides storage backends for ClauseFlow.
//
// This file implements an in-memory store used by tests and DSN-less runs.
// It mirrors the semantics of the SQL backends, including the one in-progress
// document per user constraint.
package store

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/LexForge/ClauseFlow/internal/models"
	"github.com/LexForge/ClauseFlow/internal/util"
)

type InMemoryStore struct {
	mu            sync.RWMutex
	templates     map[string]models.Template
	clauses       map[string][]models.Clause // keyed by template ID, kept sorted by order_num
	documents     map[string]models.Document
	conversations map[string]models.Conversation
	outbox        map[string]OutboxMessage
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		templates:     make(map[string]models.Template),
		clauses:       make(map[string][]models.Clause),
		documents:     make(map[string]models.Document),
		conversations: make(map[string]models.Conversation),
		outbox:        make(map[string]OutboxMessage),
	}
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}

func cloneDocument(d models.Document) models.Document {
	out := d
	out.Content = make(map[string]string, len(d.Content))
	for k, v := range d.Content {
		out.Content[k] = v
	}
	return out
}

func cloneClauses(cs []models.Clause) []models.Clause {
	return append([]models.Clause(nil), cs...)
}

// SaveTemplate upserts a template and replaces its clause set.
func (s *InMemoryStore) SaveTemplate(tmpl models.Template, clauses []models.Clause) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.templates[tmpl.ID]; ok {
		tmpl.CreatedAt = existing.CreatedAt
	}
	s.templates[tmpl.ID] = tmpl

	sorted := cloneClauses(clauses)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].OrderNum < sorted[j].OrderNum })
	s.clauses[tmpl.ID] = sorted
	return nil
}

// GetTemplate retrieves a template by ID.
func (s *InMemoryStore) GetTemplate(id string) (*models.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.templates[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

// GetTemplateClauses retrieves a template's clauses ordered by order_num.
func (s *InMemoryStore) GetTemplateClauses(templateID string) ([]models.Clause, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return cloneClauses(s.clauses[templateID]), nil
}

// ListTemplates retrieves templates sorted by name.
func (s *InMemoryStore) ListTemplates(activeOnly bool) ([]models.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var templates []models.Template
	for _, t := range s.templates {
		if activeOnly && !t.Active {
			continue
		}
		templates = append(templates, t)
	}
	sort.Slice(templates, func(i, j int) bool { return templates[i].Name < templates[j].Name })
	return templates, nil
}

// CreateDocument inserts a new document, enforcing one in-progress document
// per user.
func (s *InMemoryStore) CreateDocument(doc models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if doc.Status == models.DocumentStatusInProgress {
		for _, d := range s.documents {
			if d.UserID == doc.UserID && d.Status == models.DocumentStatusInProgress {
				return models.ErrActiveDocumentExists
			}
		}
	}
	s.documents[doc.ID] = cloneDocument(doc)
	return nil
}

// GetDocument retrieves a document by ID.
func (s *InMemoryStore) GetDocument(id string) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.documents[id]
	if !ok {
		return nil, nil
	}
	out := cloneDocument(d)
	return &out, nil
}

// GetActiveDocumentForUser retrieves the user's in-progress document.
func (s *InMemoryStore) GetActiveDocumentForUser(userID string) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, d := range s.documents {
		if d.UserID == userID && d.Status == models.DocumentStatusInProgress {
			out := cloneDocument(d)
			return &out, nil
		}
	}
	return nil, nil
}

// UpdateDocumentProgress persists new content and the traversal cursor.
func (s *InMemoryStore) UpdateDocumentProgress(id string, content map[string]string, currentClauseOrder int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.documents[id]
	if !ok {
		return nil
	}
	d.Content = make(map[string]string, len(content))
	for k, v := range content {
		d.Content[k] = v
	}
	d.CurrentClauseOrder = currentClauseOrder
	d.UpdatedAt = time.Now()
	s.documents[id] = d
	return nil
}

// UpdateDocumentStatus transitions a document's lifecycle status.
func (s *InMemoryStore) UpdateDocumentStatus(id string, status models.DocumentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.documents[id]
	if !ok {
		return nil
	}
	d.Status = status
	d.UpdatedAt = time.Now()
	s.documents[id] = d
	return nil
}

// ListUserDocuments retrieves all documents for a user, newest first.
func (s *InMemoryStore) ListUserDocuments(userID string) ([]models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var docs []models.Document
	for _, d := range s.documents {
		if d.UserID == userID {
			docs = append(docs, cloneDocument(d))
		}
	}
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].ID < docs[j].ID
		}
		return docs[i].CreatedAt.After(docs[j].CreatedAt)
	})
	return docs, nil
}

// PauseStaleDocuments pauses in-progress documents untouched since olderThan.
func (s *InMemoryStore) PauseStaleDocuments(olderThan time.Time) ([]models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var paused []models.Document
	for id, d := range s.documents {
		if d.Status == models.DocumentStatusInProgress && d.UpdatedAt.Before(olderThan) {
			d.Status = models.DocumentStatusPaused
			d.UpdatedAt = now
			s.documents[id] = d
			paused = append(paused, cloneDocument(d))
		}
	}
	sort.Slice(paused, func(i, j int) bool { return paused[i].ID < paused[j].ID })
	if len(paused) > 0 {
		slog.Info("InMemoryStore PauseStaleDocuments", "paused", len(paused))
	}
	return paused, nil
}

// HasActiveDocumentsForTemplate reports whether any in-progress document
// references the template.
func (s *InMemoryStore) HasActiveDocumentsForTemplate(templateID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, d := range s.documents {
		if d.TemplateID == templateID && d.Status == models.DocumentStatusInProgress {
			return true, nil
		}
	}
	return false, nil
}

// GetConversation retrieves a user's chat history.
func (s *InMemoryStore) GetConversation(userID string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[userID]
	if !ok {
		return nil, nil
	}
	out := conv
	out.Messages = append([]models.ConversationMessage(nil), conv.Messages...)
	return &out, nil
}

// SaveConversation stores or replaces a user's chat history.
func (s *InMemoryStore) SaveConversation(conv models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := conv
	stored.Messages = append([]models.ConversationMessage(nil), conv.Messages...)
	s.conversations[conv.UserID] = stored
	return nil
}

// EnqueueOutboxMessage inserts a new outbox message with dedupe semantics
// matching the SQL backends.
func (s *InMemoryStore) EnqueueOutboxMessage(userID, kind, payloadJSON, dedupeKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dedupeKey != "" {
		for _, m := range s.outbox {
			if m.DedupeKey == dedupeKey && m.Status != OutboxStatusSent && m.Status != OutboxStatusCanceled {
				return m.ID, nil
			}
		}
	}

	id := util.GenerateNotificationID()
	now := time.Now()
	s.outbox[id] = OutboxMessage{
		ID:          id,
		UserID:      userID,
		Kind:        kind,
		PayloadJSON: payloadJSON,
		Status:      OutboxStatusQueued,
		DedupeKey:   dedupeKey,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return id, nil
}

// ClaimDueOutboxMessages marks up to limit due queued messages as sending.
func (s *InMemoryStore) ClaimDueOutboxMessages(now time.Time, limit int) ([]OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []OutboxMessage
	for _, m := range s.outbox {
		if m.Status != OutboxStatusQueued {
			continue
		}
		if m.NextAttemptAt != nil && m.NextAttemptAt.After(now) {
			continue
		}
		due = append(due, m)
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].CreatedAt.Equal(due[j].CreatedAt) {
			return due[i].ID < due[j].ID
		}
		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}

	lockedAt := now
	for i := range due {
		m := s.outbox[due[i].ID]
		m.Status = OutboxStatusSending
		m.LockedAt = &lockedAt
		m.UpdatedAt = now
		s.outbox[due[i].ID] = m
		due[i] = m
	}
	return due, nil
}

// MarkOutboxMessageSent marks a message as successfully sent.
func (s *InMemoryStore) MarkOutboxMessageSent(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.outbox[id]
	if !ok {
		return nil
	}
	m.Status = OutboxStatusSent
	m.UpdatedAt = time.Now()
	s.outbox[id] = m
	return nil
}

// FailOutboxMessage records a send failure and schedules a retry.
func (s *InMemoryStore) FailOutboxMessage(id string, errMsg string, nextAttemptAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.outbox[id]
	if !ok {
		return nil
	}
	m.Status = OutboxStatusQueued
	m.Attempts++
	m.LastError = errMsg
	m.NextAttemptAt = &nextAttemptAt
	m.LockedAt = nil
	m.UpdatedAt = time.Now()
	s.outbox[id] = m
	return nil
}

// RequeueStaleSendingMessages resets messages stuck in sending back to queued.
func (s *InMemoryStore) RequeueStaleSendingMessages(staleBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	now := time.Now()
	for id, m := range s.outbox {
		if m.Status == OutboxStatusSending && m.LockedAt != nil && m.LockedAt.Before(staleBefore) {
			m.Status = OutboxStatusQueued
			m.LockedAt = nil
			m.UpdatedAt = now
			s.outbox[id] = m
			n++
		}
	}
	return n, nil
}
