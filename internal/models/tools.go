// Package models defines tool structures for LLM function calling.
package models

import (
	"encoding/json"
	"fmt"
)

// Tool names exposed to the drafting assistant.
const (
	ToolListTemplates    = "list_templates"
	ToolStartDocument    = "start_document"
	ToolSubmitAnswer     = "submit_answer"
	ToolSkipClause       = "skip_clause"
	ToolPreviewDocument  = "preview_document"
	ToolFinalizeDocument = "finalize_document"
	ToolDocumentProgress = "document_progress"
)

// StartDocumentParams defines the parameters for the start_document tool call.
type StartDocumentParams struct {
	TemplateID string `json:"template_id"` // Template to instantiate for the user
}

// Validate ensures the start_document parameters are valid.
func (p *StartDocumentParams) Validate() error {
	if p.TemplateID == "" {
		return fmt.Errorf("template_id is required")
	}
	return nil
}

// SubmitAnswerParams defines the parameters for the submit_answer tool call.
type SubmitAnswerParams struct {
	Answer string `json:"answer"` // Answer text for the current clause
}

// Validate ensures the submit_answer parameters are valid.
func (p *SubmitAnswerParams) Validate() error {
	if p.Answer == "" {
		return fmt.Errorf("answer is required")
	}
	if len(p.Answer) > MaxAnswerLength {
		return fmt.Errorf("answer exceeds maximum length of %d characters", MaxAnswerLength)
	}
	return nil
}

// SkipClauseParams defines the parameters for the skip_clause tool call.
type SkipClauseParams struct {
	SectionName string `json:"section_name"` // Section name of the clause being skipped
}

// Validate ensures the skip_clause parameters are valid.
func (p *SkipClauseParams) Validate() error {
	if p.SectionName == "" {
		return fmt.Errorf("section_name is required")
	}
	return nil
}

// ToolCall represents an LLM tool function call.
type ToolCall struct {
	ID       string       `json:"id"`       // Tool call ID from OpenAI
	Type     string       `json:"type"`     // Always "function" for OpenAI
	Function FunctionCall `json:"function"` // Function details
}

// FunctionCall represents the function details within a tool call.
type FunctionCall struct {
	Name      string          `json:"name"`      // Function name (e.g., "submit_answer")
	Arguments json.RawMessage `json:"arguments"` // JSON arguments as raw message
}

// ParseStartDocumentParams parses the arguments as StartDocumentParams.
func (fc *FunctionCall) ParseStartDocumentParams() (*StartDocumentParams, error) {
	var params StartDocumentParams
	if err := json.Unmarshal(fc.Arguments, &params); err != nil {
		return nil, fmt.Errorf("failed to parse start_document parameters: %w", err)
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid start_document parameters: %w", err)
	}
	return &params, nil
}

// ParseSubmitAnswerParams parses the arguments as SubmitAnswerParams.
func (fc *FunctionCall) ParseSubmitAnswerParams() (*SubmitAnswerParams, error) {
	var params SubmitAnswerParams
	if err := json.Unmarshal(fc.Arguments, &params); err != nil {
		return nil, fmt.Errorf("failed to parse submit_answer parameters: %w", err)
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid submit_answer parameters: %w", err)
	}
	return &params, nil
}

// ParseSkipClauseParams parses the arguments as SkipClauseParams.
func (fc *FunctionCall) ParseSkipClauseParams() (*SkipClauseParams, error) {
	var params SkipClauseParams
	if err := json.Unmarshal(fc.Arguments, &params); err != nil {
		return nil, fmt.Errorf("failed to parse skip_clause parameters: %w", err)
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid skip_clause parameters: %w", err)
	}
	return &params, nil
}

// ToolResult represents the result of executing a tool.
type ToolResult struct {
	ToolCallID string      `json:"tool_call_id"`    // ID of the tool call this responds to
	Success    bool        `json:"success"`         // Whether the tool execution succeeded
	Message    string      `json:"message"`         // Human-readable result message
	Error      string      `json:"error,omitempty"` // Error message if success is false
	Data       interface{} `json:"data,omitempty"`  // Additional data (e.g., template list)
}
