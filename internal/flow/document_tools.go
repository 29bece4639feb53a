package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/shared"

	"github.com/LexForge/ClauseFlow/internal/models"
	"github.com/LexForge/ClauseFlow/internal/store"
)

// msgNoActiveDocument is returned by document-scoped tools when the user has
// no in-progress document to operate on.
const msgNoActiveDocument = "You don't have a document in progress. Start one first."

// DocumentTools exposes the clause traversal engine as LLM tool functions.
// Document-scoped tools resolve the caller's single in-progress document, so
// the model never has to track document ids.
type DocumentTools struct {
	engine *Engine
	store  store.Store
}

// NewDocumentTools creates the tool executor backing the drafting assistant.
func NewDocumentTools(engine *Engine, st store.Store) *DocumentTools {
	return &DocumentTools{engine: engine, store: st}
}

// GetToolDefinitions returns the OpenAI tool definitions for document drafting.
func (dt *DocumentTools) GetToolDefinitions() []openai.ChatCompletionToolParam {
	return []openai.ChatCompletionToolParam{
		{
			Type: "function",
			Function: shared.FunctionDefinitionParam{
				Name:        models.ToolListTemplates,
				Description: openai.String("List the document templates available to start. Use this when the user asks what documents they can create."),
				Parameters: shared.FunctionParameters{
					"type":       "object",
					"properties": map[string]interface{}{},
				},
			},
		},
		{
			Type: "function",
			Function: shared.FunctionDefinitionParam{
				Name:        models.ToolStartDocument,
				Description: openai.String("Start a new document from a template, or resume the user's in-progress document. Returns the first clause to fill in."),
				Parameters: shared.FunctionParameters{
					"type": "object",
					"properties": map[string]interface{}{
						"template_id": map[string]interface{}{
							"type":        "string",
							"description": "ID of the template to instantiate, as returned by list_templates",
						},
					},
					"required": []string{"template_id"},
				},
			},
		},
		{
			Type: "function",
			Function: shared.FunctionDefinitionParam{
				Name:        models.ToolSubmitAnswer,
				Description: openai.String("Submit the user's answer for the current clause of their in-progress document. The answer is validated; on success the next clause is returned."),
				Parameters: shared.FunctionParameters{
					"type": "object",
					"properties": map[string]interface{}{
						"answer": map[string]interface{}{
							"type":        "string",
							"description": "The user's answer text for the current clause, verbatim",
						},
					},
					"required": []string{"answer"},
				},
			},
		},
		{
			Type: "function",
			Function: shared.FunctionDefinitionParam{
				Name:        models.ToolSkipClause,
				Description: openai.String("Skip the current clause of the user's in-progress document. Only optional clauses can be skipped. Pass the section name of the clause being skipped to confirm it is the one the user means."),
				Parameters: shared.FunctionParameters{
					"type": "object",
					"properties": map[string]interface{}{
						"section_name": map[string]interface{}{
							"type":        "string",
							"description": "Section name of the clause to skip, exactly as shown in the clause prompt",
						},
					},
					"required": []string{"section_name"},
				},
			},
		},
		{
			Type: "function",
			Function: shared.FunctionDefinitionParam{
				Name:        models.ToolPreviewDocument,
				Description: openai.String("Render a preview of the user's in-progress document with placeholders for unfinished sections."),
				Parameters: shared.FunctionParameters{
					"type":       "object",
					"properties": map[string]interface{}{},
				},
			},
		},
		{
			Type: "function",
			Function: shared.FunctionDefinitionParam{
				Name:        models.ToolFinalizeDocument,
				Description: openai.String("Finalize the user's in-progress document. Fails with the list of missing sections if any mandatory clause is unanswered. On success returns the completed document text."),
				Parameters: shared.FunctionParameters{
					"type":       "object",
					"properties": map[string]interface{}{},
				},
			},
		},
		{
			Type: "function",
			Function: shared.FunctionDefinitionParam{
				Name:        models.ToolDocumentProgress,
				Description: openai.String("Report completion progress for the user's in-progress document: clauses answered, clauses remaining, and percentage complete."),
				Parameters: shared.FunctionParameters{
					"type":       "object",
					"properties": map[string]interface{}{},
				},
			},
		},
	}
}

// Execute runs a single tool call on behalf of userID and returns the result
// content for the tool message. Domain rejections come back as result text so
// the model can relay or correct them; the error return is reserved for
// infrastructure failures.
func (dt *DocumentTools) Execute(ctx context.Context, userID string, call models.ToolCall) (string, error) {
	slog.Debug("DocumentTools.Execute: executing tool", "userID", userID, "tool", call.Function.Name)

	switch call.Function.Name {
	case models.ToolListTemplates:
		return dt.executeListTemplates(ctx)
	case models.ToolStartDocument:
		return dt.executeStartDocument(ctx, userID, call.Function)
	case models.ToolSubmitAnswer:
		return dt.executeSubmitAnswer(ctx, userID, call.Function)
	case models.ToolSkipClause:
		return dt.executeSkipClause(ctx, userID, call.Function)
	case models.ToolPreviewDocument:
		return dt.executePreviewDocument(ctx, userID)
	case models.ToolFinalizeDocument:
		return dt.executeFinalizeDocument(ctx, userID)
	case models.ToolDocumentProgress:
		return dt.executeDocumentProgress(ctx, userID)
	default:
		slog.Warn("DocumentTools.Execute: unknown tool requested", "tool", call.Function.Name)
		return fmt.Sprintf("Unknown tool: %s", call.Function.Name), nil
	}
}

func (dt *DocumentTools) executeListTemplates(ctx context.Context) (string, error) {
	templates, err := dt.store.ListTemplates(true)
	if err != nil {
		return "", fmt.Errorf("failed to list templates: %w", err)
	}
	if len(templates) == 0 {
		return "No templates are currently available.", nil
	}
	var b strings.Builder
	b.WriteString("Available templates:\n")
	for _, tmpl := range templates {
		if tmpl.Description != "" {
			fmt.Fprintf(&b, "- %s: %s (%s)\n", tmpl.ID, tmpl.Name, tmpl.Description)
		} else {
			fmt.Fprintf(&b, "- %s: %s\n", tmpl.ID, tmpl.Name)
		}
	}
	return b.String(), nil
}

func (dt *DocumentTools) executeStartDocument(ctx context.Context, userID string, fc models.FunctionCall) (string, error) {
	params, err := fc.ParseStartDocumentParams()
	if err != nil {
		return fmt.Sprintf("❌ Invalid start_document parameters: %s", err.Error()), nil
	}

	res, err := dt.engine.Start(ctx, userID, params.TemplateID)
	if err != nil {
		return "", err
	}
	if res.Outcome != models.OutcomeOK {
		return res.Message, nil
	}
	if res.Resumed {
		if res.Prompt == nil {
			return "You already have a document in progress. " + res.Message, nil
		}
		return "You already have a document in progress; resuming it.\n\n" + res.Prompt.Text, nil
	}
	return fmt.Sprintf("Started document %s.\n\n%s", res.Document.ID, res.Prompt.Text), nil
}

func (dt *DocumentTools) executeSubmitAnswer(ctx context.Context, userID string, fc models.FunctionCall) (string, error) {
	params, err := fc.ParseSubmitAnswerParams()
	if err != nil {
		return fmt.Sprintf("❌ Invalid submit_answer parameters: %s", err.Error()), nil
	}

	doc, err := dt.activeDocument(userID)
	if err != nil {
		return "", err
	}
	if doc == nil {
		return msgNoActiveDocument, nil
	}

	res, err := dt.engine.SubmitAnswer(ctx, doc.ID, params.Answer)
	if err != nil {
		return "", err
	}
	switch res.Outcome {
	case models.OutcomeOK:
		if res.AllClausesVisited {
			return "Answer recorded. " + res.Message, nil
		}
		return "Answer recorded.\n\n" + res.Prompt.Text, nil
	case models.OutcomeInvalidAnswer:
		return "Answer rejected: " + res.Message, nil
	default:
		return res.Message, nil
	}
}

func (dt *DocumentTools) executeSkipClause(ctx context.Context, userID string, fc models.FunctionCall) (string, error) {
	params, err := fc.ParseSkipClauseParams()
	if err != nil {
		return fmt.Sprintf("❌ Invalid skip_clause parameters: %s", err.Error()), nil
	}

	doc, err := dt.activeDocument(userID)
	if err != nil {
		return "", err
	}
	if doc == nil {
		return msgNoActiveDocument, nil
	}

	res, err := dt.engine.Skip(ctx, doc.ID, params.SectionName)
	if err != nil {
		return "", err
	}
	if res.Outcome != models.OutcomeOK {
		return res.Message, nil
	}
	if res.AllClausesVisited {
		return "Clause skipped. " + res.Message, nil
	}
	return "Clause skipped.\n\n" + res.Prompt.Text, nil
}

func (dt *DocumentTools) executePreviewDocument(ctx context.Context, userID string) (string, error) {
	doc, err := dt.activeDocument(userID)
	if err != nil {
		return "", err
	}
	if doc == nil {
		return msgNoActiveDocument, nil
	}

	res, err := dt.engine.Preview(ctx, doc.ID)
	if err != nil {
		return "", err
	}
	if res.Outcome != models.OutcomeOK {
		return res.Message, nil
	}
	return res.Preview, nil
}

func (dt *DocumentTools) executeFinalizeDocument(ctx context.Context, userID string) (string, error) {
	doc, err := dt.activeDocument(userID)
	if err != nil {
		return "", err
	}
	if doc == nil {
		return msgNoActiveDocument, nil
	}

	res, err := dt.engine.Finalize(ctx, doc.ID)
	if err != nil {
		return "", err
	}
	if res.Outcome != models.OutcomeOK {
		return res.Message, nil
	}
	return "Document completed. Final text:\n\n" + res.Rendered, nil
}

func (dt *DocumentTools) executeDocumentProgress(ctx context.Context, userID string) (string, error) {
	doc, err := dt.activeDocument(userID)
	if err != nil {
		return "", err
	}
	if doc == nil {
		return msgNoActiveDocument, nil
	}

	res, err := dt.engine.Progress(ctx, doc.ID)
	if err != nil {
		return "", err
	}
	if res.Outcome != models.OutcomeOK {
		return res.Message, nil
	}
	p := res.Progress
	return fmt.Sprintf("Progress: %d of %d clauses completed (%d%%). %d of them are mandatory. The document is %s.",
		p.CompletedClauses, p.TotalClauses, p.Percentage, p.MandatoryClauses, p.Status), nil
}

func (dt *DocumentTools) activeDocument(userID string) (*models.Document, error) {
	doc, err := dt.store.GetActiveDocumentForUser(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve active document: %w", err)
	}
	return doc, nil
}
