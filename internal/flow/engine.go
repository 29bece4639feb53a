// Package flow implements the clause traversal state machine over persisted
// documents. Every operation loads explicit document state by id; no session
// object survives between calls. Domain failures are returned as outcome
// values, never as Go errors, so the contract is total; the error return is
// reserved for store I/O failures.
package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/LexForge/ClauseFlow/internal/models"
	"github.com/LexForge/ClauseFlow/internal/store"
	"github.com/LexForge/ClauseFlow/internal/util"
)

// msgAllClausesVisited tells the caller the traversal is exhausted and the
// document is ready for preview or finalize.
const msgAllClausesVisited = "All clauses have been visited. Preview or finalize the document."

// Engine orchestrates clause traversal: current-clause resolution, answer
// validation and storage, optional-clause skipping, previewing, and
// finalization.
type Engine struct {
	store store.Store
}

// NewEngine creates a traversal engine backed by the given store.
func NewEngine(st store.Store) *Engine {
	return &Engine{store: st}
}

// wrapStoreErr tags a store failure with models.ErrStoreUnavailable so the
// caller can map it to a generic retry message without inspecting
// backend-specific errors.
func wrapStoreErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, models.ErrStoreUnavailable, err)
}

// Start creates a document from the template for the user, or resumes the
// user's existing in-progress document. The store enforces at most one
// in-progress document per user, so a second start resumes rather than forks.
func (e *Engine) Start(ctx context.Context, userID, templateID string) (*models.StartResult, error) {
	slog.Debug("Engine.Start: starting document", "userID", userID, "templateID", templateID)

	existing, err := e.store.GetActiveDocumentForUser(userID)
	if err != nil {
		slog.Error("Engine.Start: failed to look up active document", "error", err, "userID", userID)
		return nil, wrapStoreErr("failed to look up active document", err)
	}
	if existing != nil {
		return e.resumeExisting(existing)
	}

	tmpl, err := e.store.GetTemplate(templateID)
	if err != nil {
		slog.Error("Engine.Start: failed to load template", "error", err, "templateID", templateID)
		return nil, wrapStoreErr("failed to load template", err)
	}
	if tmpl == nil || !tmpl.Active {
		slog.Debug("Engine.Start: template not found or inactive", "templateID", templateID)
		return &models.StartResult{Outcome: models.OutcomeNotFound, Message: "Template not found"}, nil
	}

	clauses, err := e.store.GetTemplateClauses(templateID)
	if err != nil {
		slog.Error("Engine.Start: failed to load clauses", "error", err, "templateID", templateID)
		return nil, wrapStoreErr("failed to load template clauses", err)
	}
	if len(clauses) == 0 {
		slog.Warn("Engine.Start: template has no clauses", "templateID", templateID)
		return &models.StartResult{Outcome: models.OutcomeNotFound, Message: "Template has no clauses"}, nil
	}

	now := time.Now()
	doc := models.Document{
		ID:                 util.GenerateDocumentID(),
		UserID:             userID,
		TemplateID:         templateID,
		Content:            map[string]string{},
		Status:             models.DocumentStatusInProgress,
		CurrentClauseOrder: clauses[0].OrderNum,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := e.store.CreateDocument(doc); err != nil {
		if errors.Is(err, models.ErrActiveDocumentExists) {
			// Lost a race with a concurrent start for the same user.
			existing, gerr := e.store.GetActiveDocumentForUser(userID)
			if gerr == nil && existing != nil {
				return e.resumeExisting(existing)
			}
		}
		slog.Error("Engine.Start: failed to create document", "error", err, "userID", userID)
		return nil, wrapStoreErr("failed to create document", err)
	}

	slog.Info("Engine.Start: document created", "docID", doc.ID, "userID", userID, "templateID", templateID)
	return &models.StartResult{
		Outcome:  models.OutcomeOK,
		Document: &doc,
		Prompt:   clausePromptFor(doc.ID, clauses, clauses[0]),
	}, nil
}

// resumeExisting returns the user's in-progress document with the prompt for
// the clause under its cursor.
func (e *Engine) resumeExisting(doc *models.Document) (*models.StartResult, error) {
	clauses, err := e.store.GetTemplateClauses(doc.TemplateID)
	if err != nil {
		slog.Error("Engine.Start: failed to load clauses for resume", "error", err, "docID", doc.ID)
		return nil, wrapStoreErr("failed to load template clauses", err)
	}

	result := &models.StartResult{
		Outcome:  models.OutcomeOK,
		Resumed:  true,
		Document: doc,
	}
	if current := clauseAtOrder(clauses, doc.CurrentClauseOrder); current != nil {
		result.Prompt = clausePromptFor(doc.ID, clauses, *current)
	} else {
		result.Message = msgAllClausesVisited
	}
	slog.Info("Engine.Start: resumed existing document", "docID", doc.ID, "userID", doc.UserID)
	return result, nil
}

// SubmitAnswer validates the answer against the current clause's rules and,
// on acceptance, stores it verbatim and advances the cursor. Rejected answers
// leave the document untouched; the caller re-prompts with the same clause.
func (e *Engine) SubmitAnswer(ctx context.Context, docID, rawAnswer string) (*models.AnswerResult, error) {
	slog.Debug("Engine.SubmitAnswer: processing answer", "docID", docID, "answerLength", len(rawAnswer))

	doc, clauses, guard, err := e.loadForMutation(docID)
	if err != nil {
		return nil, err
	}
	if guard != nil {
		return &models.AnswerResult{Outcome: guard.outcome, Message: guard.message}, nil
	}

	clause := clauseAtOrder(clauses, doc.CurrentClauseOrder)
	if clause == nil {
		slog.Debug("Engine.SubmitAnswer: traversal exhausted", "docID", docID, "cursor", doc.CurrentClauseOrder)
		return &models.AnswerResult{Outcome: models.OutcomeIllegalTransition, Message: msgAllClausesVisited}, nil
	}

	if ok, msg := Validate(rawAnswer, clause.Rules); !ok {
		slog.Debug("Engine.SubmitAnswer: answer rejected", "docID", docID, "section", clause.SectionName, "reason", msg)
		return &models.AnswerResult{Outcome: models.OutcomeInvalidAnswer, Message: msg, Document: doc}, nil
	}

	// Content and cursor are persisted in one store call so a failure never
	// leaves the document half-updated.
	doc.Content[clause.SectionName] = rawAnswer
	next := nextOrderAfter(clauses, clause.OrderNum)
	if err := e.store.UpdateDocumentProgress(doc.ID, doc.Content, next); err != nil {
		slog.Error("Engine.SubmitAnswer: failed to persist progress", "error", err, "docID", docID)
		return nil, wrapStoreErr("failed to persist document progress", err)
	}
	doc.CurrentClauseOrder = next
	doc.UpdatedAt = time.Now()

	slog.Info("Engine.SubmitAnswer: answer accepted", "docID", docID, "section", clause.SectionName, "nextOrder", next)

	result := &models.AnswerResult{Outcome: models.OutcomeOK, Document: doc}
	if nextClause := clauseAtOrder(clauses, next); nextClause != nil {
		result.Prompt = clausePromptFor(doc.ID, clauses, *nextClause)
	} else {
		result.AllClausesVisited = true
		result.Message = msgAllClausesVisited
	}
	return result, nil
}

// Skip advances past the current clause without storing content. Only
// optional clauses may be skipped, and the caller must name the section it
// believes is current, which defends against stale client state.
func (e *Engine) Skip(ctx context.Context, docID, expectedSectionName string) (*models.SkipResult, error) {
	slog.Debug("Engine.Skip: processing skip", "docID", docID, "section", expectedSectionName)

	doc, clauses, guard, err := e.loadForMutation(docID)
	if err != nil {
		return nil, err
	}
	if guard != nil {
		return &models.SkipResult{Outcome: guard.outcome, Message: guard.message}, nil
	}

	clause := clauseAtOrder(clauses, doc.CurrentClauseOrder)
	if clause == nil {
		return &models.SkipResult{Outcome: models.OutcomeIllegalTransition, Message: msgAllClausesVisited}, nil
	}
	if clause.Kind == models.ClauseKindMandatory {
		slog.Debug("Engine.Skip: mandatory clause not skippable", "docID", docID, "section", clause.SectionName)
		return &models.SkipResult{
			Outcome: models.OutcomeIllegalTransition,
			Message: fmt.Sprintf("Clause '%s' is mandatory and cannot be skipped", clause.SectionName),
		}, nil
	}
	if expectedSectionName != clause.SectionName {
		slog.Debug("Engine.Skip: section name mismatch", "docID", docID, "expected", expectedSectionName, "current", clause.SectionName)
		return &models.SkipResult{
			Outcome: models.OutcomeIllegalTransition,
			Message: fmt.Sprintf("The current clause is '%s', not '%s'", clause.SectionName, expectedSectionName),
		}, nil
	}

	next := nextOrderAfter(clauses, clause.OrderNum)
	if err := e.store.UpdateDocumentProgress(doc.ID, doc.Content, next); err != nil {
		slog.Error("Engine.Skip: failed to persist progress", "error", err, "docID", docID)
		return nil, wrapStoreErr("failed to persist document progress", err)
	}
	doc.CurrentClauseOrder = next
	doc.UpdatedAt = time.Now()

	slog.Info("Engine.Skip: clause skipped", "docID", docID, "section", clause.SectionName, "nextOrder", next)

	result := &models.SkipResult{Outcome: models.OutcomeOK, Document: doc}
	if nextClause := clauseAtOrder(clauses, next); nextClause != nil {
		result.Prompt = clausePromptFor(doc.ID, clauses, *nextClause)
	} else {
		result.AllClausesVisited = true
		result.Message = msgAllClausesVisited
	}
	return result, nil
}

// Preview renders the live document preview. It never mutates state and is
// allowed in any document status.
func (e *Engine) Preview(ctx context.Context, docID string) (*models.PreviewResult, error) {
	doc, err := e.store.GetDocument(docID)
	if err != nil {
		slog.Error("Engine.Preview: failed to load document", "error", err, "docID", docID)
		return nil, wrapStoreErr("failed to load document", err)
	}
	if doc == nil {
		return &models.PreviewResult{Outcome: models.OutcomeNotFound, Message: "Document not found"}, nil
	}

	tmpl, err := e.store.GetTemplate(doc.TemplateID)
	if err != nil {
		slog.Error("Engine.Preview: failed to load template", "error", err, "docID", docID)
		return nil, wrapStoreErr("failed to load template", err)
	}
	if tmpl == nil {
		return &models.PreviewResult{Outcome: models.OutcomeNotFound, Message: "Template not found"}, nil
	}
	clauses, err := e.store.GetTemplateClauses(doc.TemplateID)
	if err != nil {
		slog.Error("Engine.Preview: failed to load clauses", "error", err, "docID", docID)
		return nil, wrapStoreErr("failed to load template clauses", err)
	}

	return &models.PreviewResult{
		Outcome: models.OutcomeOK,
		Preview: RenderPreview(*tmpl, clauses, *doc),
	}, nil
}

// Finalize checks mandatory completeness, marks the document completed, and
// returns the rendered document. A completion notification is enqueued on the
// outbox; enqueue failures are logged but never fail the operation.
func (e *Engine) Finalize(ctx context.Context, docID string) (*models.FinalizeResult, error) {
	slog.Debug("Engine.Finalize: finalizing document", "docID", docID)

	doc, clauses, guard, err := e.loadForMutation(docID)
	if err != nil {
		return nil, err
	}
	if guard != nil {
		return &models.FinalizeResult{Outcome: guard.outcome, Message: guard.message}, nil
	}

	// Clauses arrive sorted by order_num, so the missing list is too.
	var missing []string
	for _, c := range clauses {
		if c.Kind != models.ClauseKindMandatory {
			continue
		}
		if _, ok := doc.Content[c.SectionName]; !ok {
			missing = append(missing, c.SectionName)
		}
	}
	if len(missing) > 0 {
		slog.Debug("Engine.Finalize: mandatory sections missing", "docID", docID, "missing", missing)
		return &models.FinalizeResult{
			Outcome:         models.OutcomeIncompleteDocument,
			Message:         fmt.Sprintf("Cannot finalize: missing mandatory sections: %s", strings.Join(missing, ", ")),
			MissingSections: missing,
		}, nil
	}

	tmpl, err := e.store.GetTemplate(doc.TemplateID)
	if err != nil {
		slog.Error("Engine.Finalize: failed to load template", "error", err, "docID", docID)
		return nil, wrapStoreErr("failed to load template", err)
	}
	if tmpl == nil {
		return &models.FinalizeResult{Outcome: models.OutcomeNotFound, Message: "Template not found"}, nil
	}

	if err := e.store.UpdateDocumentStatus(doc.ID, models.DocumentStatusCompleted); err != nil {
		slog.Error("Engine.Finalize: failed to mark document completed", "error", err, "docID", docID)
		return nil, wrapStoreErr("failed to mark document completed", err)
	}
	doc.Status = models.DocumentStatusCompleted
	doc.UpdatedAt = time.Now()

	e.enqueueCompletionNotice(doc, tmpl)

	slog.Info("Engine.Finalize: document completed", "docID", docID, "userID", doc.UserID)
	return &models.FinalizeResult{
		Outcome:  models.OutcomeOK,
		Message:  "Document completed",
		Document: doc,
		Rendered: RenderFinal(*tmpl, clauses, doc.Content),
	}, nil
}

// Progress summarizes completion for a document in any status.
func (e *Engine) Progress(ctx context.Context, docID string) (*models.ProgressResult, error) {
	doc, err := e.store.GetDocument(docID)
	if err != nil {
		slog.Error("Engine.Progress: failed to load document", "error", err, "docID", docID)
		return nil, wrapStoreErr("failed to load document", err)
	}
	if doc == nil {
		return &models.ProgressResult{Outcome: models.OutcomeNotFound, Message: "Document not found"}, nil
	}
	clauses, err := e.store.GetTemplateClauses(doc.TemplateID)
	if err != nil {
		slog.Error("Engine.Progress: failed to load clauses", "error", err, "docID", docID)
		return nil, wrapStoreErr("failed to load template clauses", err)
	}

	total := len(clauses)
	mandatory := 0
	completed := 0
	for _, c := range clauses {
		if c.Kind == models.ClauseKindMandatory {
			mandatory++
		}
		if _, ok := doc.Content[c.SectionName]; ok {
			completed++
		}
	}
	percentage := 0
	if total > 0 {
		percentage = int(math.Round(float64(completed) / float64(total) * 100))
	}

	return &models.ProgressResult{
		Outcome: models.OutcomeOK,
		Progress: &models.Progress{
			DocumentID:         doc.ID,
			Status:             doc.Status,
			CurrentClauseOrder: doc.CurrentClauseOrder,
			TotalClauses:       total,
			MandatoryClauses:   mandatory,
			CompletedClauses:   completed,
			Percentage:         percentage,
		},
	}, nil
}

// Pause sets an in-progress document aside. Only the collaborator surfaces
// (API handlers, the stale-document janitor) call this; answer processing
// never pauses a document.
func (e *Engine) Pause(ctx context.Context, docID string) (*models.StatusChangeResult, error) {
	doc, err := e.store.GetDocument(docID)
	if err != nil {
		slog.Error("Engine.Pause: failed to load document", "error", err, "docID", docID)
		return nil, wrapStoreErr("failed to load document", err)
	}
	if doc == nil {
		return &models.StatusChangeResult{Outcome: models.OutcomeNotFound, Message: "Document not found"}, nil
	}
	if doc.Status != models.DocumentStatusInProgress {
		return &models.StatusChangeResult{
			Outcome: models.OutcomeIllegalTransition,
			Message: fmt.Sprintf("Only in-progress documents can be paused; document is %s", doc.Status),
		}, nil
	}

	if err := e.store.UpdateDocumentStatus(doc.ID, models.DocumentStatusPaused); err != nil {
		slog.Error("Engine.Pause: failed to update status", "error", err, "docID", docID)
		return nil, wrapStoreErr("failed to pause document", err)
	}
	doc.Status = models.DocumentStatusPaused
	doc.UpdatedAt = time.Now()

	slog.Info("Engine.Pause: document paused", "docID", docID, "userID", doc.UserID)
	return &models.StatusChangeResult{Outcome: models.OutcomeOK, Message: "Document paused", Document: doc}, nil
}

// Resume returns a paused document to in-progress and re-renders the prompt
// for the clause under the cursor. Fails if the user already has another
// document in progress.
func (e *Engine) Resume(ctx context.Context, docID string) (*models.StatusChangeResult, error) {
	doc, err := e.store.GetDocument(docID)
	if err != nil {
		slog.Error("Engine.Resume: failed to load document", "error", err, "docID", docID)
		return nil, wrapStoreErr("failed to load document", err)
	}
	if doc == nil {
		return &models.StatusChangeResult{Outcome: models.OutcomeNotFound, Message: "Document not found"}, nil
	}
	if doc.Status != models.DocumentStatusPaused {
		return &models.StatusChangeResult{
			Outcome: models.OutcomeIllegalTransition,
			Message: fmt.Sprintf("Only paused documents can be resumed; document is %s", doc.Status),
		}, nil
	}

	active, err := e.store.GetActiveDocumentForUser(doc.UserID)
	if err != nil {
		slog.Error("Engine.Resume: failed to look up active document", "error", err, "docID", docID)
		return nil, wrapStoreErr("failed to look up active document", err)
	}
	if active != nil && active.ID != doc.ID {
		return &models.StatusChangeResult{
			Outcome: models.OutcomeIllegalTransition,
			Message: "You already have a document in progress",
		}, nil
	}

	if err := e.store.UpdateDocumentStatus(doc.ID, models.DocumentStatusInProgress); err != nil {
		slog.Error("Engine.Resume: failed to update status", "error", err, "docID", docID)
		return nil, wrapStoreErr("failed to resume document", err)
	}
	doc.Status = models.DocumentStatusInProgress
	doc.UpdatedAt = time.Now()

	clauses, err := e.store.GetTemplateClauses(doc.TemplateID)
	if err != nil {
		slog.Error("Engine.Resume: failed to load clauses", "error", err, "docID", docID)
		return nil, wrapStoreErr("failed to load template clauses", err)
	}

	result := &models.StatusChangeResult{Outcome: models.OutcomeOK, Message: "Document resumed", Document: doc}
	if current := clauseAtOrder(clauses, doc.CurrentClauseOrder); current != nil {
		result.Prompt = clausePromptFor(doc.ID, clauses, *current)
	}
	slog.Info("Engine.Resume: document resumed", "docID", docID, "userID", doc.UserID)
	return result, nil
}

// statusGuard is a domain rejection produced while loading a document for
// mutation.
type statusGuard struct {
	outcome models.OutcomeKind
	message string
}

// loadForMutation loads the document and its template's clauses, rejecting
// documents that are missing, completed, or paused.
func (e *Engine) loadForMutation(docID string) (*models.Document, []models.Clause, *statusGuard, error) {
	doc, err := e.store.GetDocument(docID)
	if err != nil {
		slog.Error("Engine: failed to load document", "error", err, "docID", docID)
		return nil, nil, nil, wrapStoreErr("failed to load document", err)
	}
	if doc == nil {
		return nil, nil, &statusGuard{models.OutcomeNotFound, "Document not found"}, nil
	}
	switch doc.Status {
	case models.DocumentStatusCompleted:
		return nil, nil, &statusGuard{models.OutcomeIllegalTransition, "Document is already completed"}, nil
	case models.DocumentStatusPaused:
		return nil, nil, &statusGuard{models.OutcomeIllegalTransition, "Document is paused. Resume it before continuing."}, nil
	}

	clauses, err := e.store.GetTemplateClauses(doc.TemplateID)
	if err != nil {
		slog.Error("Engine: failed to load clauses", "error", err, "docID", docID)
		return nil, nil, nil, wrapStoreErr("failed to load template clauses", err)
	}
	return doc, clauses, nil, nil
}

// enqueueCompletionNotice queues a completion notification for delivery. The
// dedupe key keeps a retried finalize from notifying twice.
func (e *Engine) enqueueCompletionNotice(doc *models.Document, tmpl *models.Template) {
	payload, err := json.Marshal(map[string]string{
		"document_id":   doc.ID,
		"template_name": tmpl.Name,
	})
	if err != nil {
		slog.Warn("Engine.Finalize: failed to encode notification payload", "error", err, "docID", doc.ID)
		return
	}
	dedupeKey := store.OutboxKindDocumentCompleted + ":" + doc.ID
	if _, err := e.store.EnqueueOutboxMessage(doc.UserID, store.OutboxKindDocumentCompleted, string(payload), dedupeKey); err != nil {
		slog.Warn("Engine.Finalize: failed to enqueue completion notification", "error", err, "docID", doc.ID)
	}
}

// clauseAtOrder returns the clause whose order_num equals order, or nil.
func clauseAtOrder(clauses []models.Clause, order int) *models.Clause {
	for i := range clauses {
		if clauses[i].OrderNum == order {
			return &clauses[i]
		}
	}
	return nil
}

// nextOrderAfter returns the smallest order_num strictly greater than order,
// or highest+1 when none exists. Tolerates sparse numbering.
func nextOrderAfter(clauses []models.Clause, order int) int {
	next := 0
	highest := 0
	for _, c := range clauses {
		if c.OrderNum > highest {
			highest = c.OrderNum
		}
		if c.OrderNum > order && (next == 0 || c.OrderNum < next) {
			next = c.OrderNum
		}
	}
	if next == 0 {
		return highest + 1
	}
	return next
}

// clausePromptFor builds the ClausePrompt for target, locating its 1-based
// position within the ordered clause list.
func clausePromptFor(docID string, clauses []models.Clause, target models.Clause) *models.ClausePrompt {
	position := 0
	for i, c := range clauses {
		if c.OrderNum == target.OrderNum {
			position = i + 1
			break
		}
	}
	return &models.ClausePrompt{
		DocumentID:  docID,
		ClauseID:    target.ID,
		SectionName: target.SectionName,
		OrderNum:    target.OrderNum,
		Position:    position,
		Total:       len(clauses),
		Kind:        target.Kind,
		Text:        RenderClausePrompt(target, position, len(clauses)),
	}
}
