// Package models defines the core data structures for ClauseFlow.
//
// It includes document templates, their ordered clauses, in-progress document
// state, and the request/response types shared across modules.
package models

import (
	"errors"
	"time"
)

// ClauseKind defines whether a clause must be answered or may be skipped.
type ClauseKind string

const (
	// ClauseKindMandatory marks a clause that must be filled before finalizing.
	ClauseKindMandatory ClauseKind = "mandatory"
	// ClauseKindOptional marks a clause the user may skip.
	ClauseKindOptional ClauseKind = "optional"
)

// IsValidClauseKind checks if the given clause kind is supported.
func IsValidClauseKind(k ClauseKind) bool {
	switch k {
	case ClauseKindMandatory, ClauseKindOptional:
		return true
	default:
		return false
	}
}

// DocumentStatus represents the lifecycle state of a document.
type DocumentStatus string

const (
	// DocumentStatusInProgress indicates the document is being filled in.
	DocumentStatusInProgress DocumentStatus = "in_progress"
	// DocumentStatusCompleted indicates the document was finalized.
	DocumentStatusCompleted DocumentStatus = "completed"
	// DocumentStatusPaused indicates the document was set aside and can be resumed.
	DocumentStatusPaused DocumentStatus = "paused"
)

// IsValidDocumentStatus checks if the given document status is valid.
func IsValidDocumentStatus(status DocumentStatus) bool {
	switch status {
	case DocumentStatusInProgress, DocumentStatusCompleted, DocumentStatusPaused:
		return true
	default:
		return false
	}
}

// Validation constants for input validation
const (
	// MaxAnswerLength defines the maximum allowed length for a clause answer,
	// applied before any clause-specific rules.
	MaxAnswerLength = 8192
	// MaxChatMessageLength defines the maximum allowed length for a chat message.
	MaxChatMessageLength = 4096
)

// Error variables for better error handling and testability
var (
	ErrEmptyUserID          = errors.New("user_id cannot be empty")
	ErrEmptyTemplateID      = errors.New("template_id cannot be empty")
	ErrEmptyDocumentID      = errors.New("document_id cannot be empty")
	ErrEmptyAnswer          = errors.New("answer cannot be empty")
	ErrAnswerTooLong        = errors.New("answer exceeds maximum length")
	ErrEmptySectionName     = errors.New("section_name cannot be empty")
	ErrEmptyChatMessage     = errors.New("message cannot be empty")
	ErrChatMessageTooLong   = errors.New("message exceeds maximum length")
	ErrActiveDocumentExists = errors.New("user already has a document in progress")
	ErrTemplateInUse        = errors.New("template is referenced by an in-progress document")
	ErrStoreUnavailable     = errors.New("store unavailable")
)

// LabeledText is one ordered label/value entry used for clause suggestions and
// type alternatives. Order is author-defined and preserved through storage.
type LabeledText struct {
	Label string `json:"label" yaml:"label"`
	Text  string `json:"text" yaml:"text"`
}

// PlaceholderSpec describes one "{name}" slot in a clause content template.
type PlaceholderSpec struct {
	Required    bool   `json:"required" yaml:"required"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Template is one document type: a named, ordered collection of clauses.
type Template struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Clause is one section of a template, with its own prompt, kind, and rules.
// OrderNum defines the traversal order and is unique within a template; the
// sequence may be sparse.
type Clause struct {
	ID               string                     `json:"id"`
	TemplateID       string                     `json:"template_id"`
	OrderNum         int                        `json:"order_num"`
	SectionName      string                     `json:"section_name"`
	Kind             ClauseKind                 `json:"kind"`
	SystemPrompt     string                     `json:"system_prompt"`
	ContentTemplate  string                     `json:"content_template,omitempty"`
	Suggestions      []LabeledText              `json:"suggestions,omitempty"`
	TypeAlternatives []LabeledText              `json:"type_alternatives,omitempty"`
	Rules            []ValidationRule           `json:"rules,omitempty"`
	Placeholders     map[string]PlaceholderSpec `json:"placeholders,omitempty"`
	CreatedAt        time.Time                  `json:"created_at"`
	UpdatedAt        time.Time                  `json:"updated_at"`
}

// Document is the persisted instantiation of a template for one user. Content
// maps section names to the accepted answer text; CurrentClauseOrder points at
// the clause awaiting an answer (or one past the highest order when all
// clauses are visited).
type Document struct {
	ID                 string            `json:"id"`
	UserID             string            `json:"user_id"`
	TemplateID         string            `json:"template_id"`
	Content            map[string]string `json:"content"`
	Status             DocumentStatus    `json:"status"`
	CurrentClauseOrder int               `json:"current_clause_order"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// StartDocumentRequest is the payload for starting (or resuming) a document.
type StartDocumentRequest struct {
	UserID     string `json:"user_id"`
	TemplateID string `json:"template_id"`
}

// Validate performs validation on a StartDocumentRequest.
func (r *StartDocumentRequest) Validate() error {
	if r.UserID == "" {
		return ErrEmptyUserID
	}
	if r.TemplateID == "" {
		return ErrEmptyTemplateID
	}
	return nil
}

// AnswerRequest is the payload for submitting a clause answer.
type AnswerRequest struct {
	Answer string `json:"answer"`
}

// Validate performs validation on an AnswerRequest.
func (r *AnswerRequest) Validate() error {
	if r.Answer == "" {
		return ErrEmptyAnswer
	}
	if len(r.Answer) > MaxAnswerLength {
		return ErrAnswerTooLong
	}
	return nil
}

// SkipRequest is the payload for skipping the current optional clause.
// SectionName must match the current clause and defends against stale clients.
type SkipRequest struct {
	SectionName string `json:"section_name"`
}

// Validate performs validation on a SkipRequest.
func (r *SkipRequest) Validate() error {
	if r.SectionName == "" {
		return ErrEmptySectionName
	}
	return nil
}

// ChatRequest is the payload for a drafting-assistant chat turn.
type ChatRequest struct {
	UserID  string `json:"user_id"`
	Message string `json:"message"`
}

// Validate performs validation on a ChatRequest.
func (r *ChatRequest) Validate() error {
	if r.UserID == "" {
		return ErrEmptyUserID
	}
	if r.Message == "" {
		return ErrEmptyChatMessage
	}
	if len(r.Message) > MaxChatMessageLength {
		return ErrChatMessageTooLong
	}
	return nil
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// API Response types for consistent JSON responses

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{
		response: APIResponse{},
	}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Convenience functions for common response patterns

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithMessage(message).
		WithResult(result).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}

// ErrorWithResult creates an error API response carrying structured outcome data,
// such as the list of missing mandatory sections.
func ErrorWithResult(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		WithResult(result).
		Build()
}
