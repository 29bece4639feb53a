package models

// OutcomeKind classifies the result of a traversal operation. Domain failures
// such as an unknown document or a rejected answer are outcomes, not Go
// errors; errors are reserved for infrastructure faults like a lost store.
type OutcomeKind string

const (
	// OutcomeOK indicates the operation succeeded.
	OutcomeOK OutcomeKind = "ok"
	// OutcomeNotFound indicates the document, template, or clause does not exist.
	OutcomeNotFound OutcomeKind = "not_found"
	// OutcomeInvalidAnswer indicates the answer failed a clause validation rule.
	OutcomeInvalidAnswer OutcomeKind = "invalid_answer"
	// OutcomeIllegalTransition indicates the operation is not allowed in the
	// document's current status, such as skipping a mandatory clause.
	OutcomeIllegalTransition OutcomeKind = "illegal_transition"
	// OutcomeIncompleteDocument indicates finalize was attempted with
	// mandatory sections still unfilled.
	OutcomeIncompleteDocument OutcomeKind = "incomplete_document"
)

// ClausePrompt is the rendered prompt for the clause awaiting an answer.
type ClausePrompt struct {
	DocumentID  string     `json:"document_id"`
	ClauseID    string     `json:"clause_id"`
	SectionName string     `json:"section_name"`
	OrderNum    int        `json:"order_num"`
	Position    int        `json:"position"` // 1-based position in traversal order
	Total       int        `json:"total"`
	Kind        ClauseKind `json:"kind"`
	Text        string     `json:"text"` // fully rendered prompt body
}

// Progress summarizes how far a document has advanced.
type Progress struct {
	DocumentID         string         `json:"document_id"`
	Status             DocumentStatus `json:"status"`
	CurrentClauseOrder int            `json:"current_clause_order"`
	TotalClauses       int            `json:"total_clauses"`
	MandatoryClauses   int            `json:"mandatory_clauses"`
	CompletedClauses   int            `json:"completed_clauses"`
	Percentage         int            `json:"percentage"` // completed/total rounded to nearest int
}

// StartResult is the outcome of starting or resuming a document.
type StartResult struct {
	Outcome  OutcomeKind   `json:"outcome"`
	Message  string        `json:"message,omitempty"`
	Resumed  bool          `json:"resumed,omitempty"`
	Document *Document     `json:"document,omitempty"`
	Prompt   *ClausePrompt `json:"prompt,omitempty"`
}

// AnswerResult is the outcome of submitting an answer for the current clause.
// When the final clause is answered, Prompt is nil and AllClausesVisited is set.
type AnswerResult struct {
	Outcome           OutcomeKind   `json:"outcome"`
	Message           string        `json:"message,omitempty"`
	Document          *Document     `json:"document,omitempty"`
	Prompt            *ClausePrompt `json:"prompt,omitempty"`
	AllClausesVisited bool          `json:"all_clauses_visited,omitempty"`
}

// SkipResult is the outcome of skipping the current optional clause.
type SkipResult struct {
	Outcome           OutcomeKind   `json:"outcome"`
	Message           string        `json:"message,omitempty"`
	Document          *Document     `json:"document,omitempty"`
	Prompt            *ClausePrompt `json:"prompt,omitempty"`
	AllClausesVisited bool          `json:"all_clauses_visited,omitempty"`
}

// PreviewResult carries the markdown preview of a document in any status.
type PreviewResult struct {
	Outcome OutcomeKind `json:"outcome"`
	Message string      `json:"message,omitempty"`
	Preview string      `json:"preview,omitempty"`
}

// FinalizeResult is the outcome of finalizing a document. On
// OutcomeIncompleteDocument, MissingSections lists unfilled mandatory
// sections in clause order.
type FinalizeResult struct {
	Outcome         OutcomeKind `json:"outcome"`
	Message         string      `json:"message,omitempty"`
	MissingSections []string    `json:"missing_sections,omitempty"`
	Document        *Document   `json:"document,omitempty"`
	Rendered        string      `json:"rendered,omitempty"`
}

// ProgressResult carries the progress summary for a document.
type ProgressResult struct {
	Outcome  OutcomeKind `json:"outcome"`
	Message  string      `json:"message,omitempty"`
	Progress *Progress   `json:"progress,omitempty"`
}

// StatusChangeResult is the outcome of a pause or resume toggle. Resume
// includes the prompt for the clause under the cursor so the caller can
// re-present it.
type StatusChangeResult struct {
	Outcome  OutcomeKind   `json:"outcome"`
	Message  string        `json:"message,omitempty"`
	Document *Document     `json:"document,omitempty"`
	Prompt   *ClausePrompt `json:"prompt,omitempty"`
}
