package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/param"

	"github.com/LexForge/ClauseFlow/internal/genai"
	"github.com/LexForge/ClauseFlow/internal/models"
	"github.com/LexForge/ClauseFlow/internal/store"
)

// defaultDraftingSystemPrompt is used when no system prompt override is configured.
const defaultDraftingSystemPrompt = `You are ClauseFlow's drafting assistant. You guide users through completing legal documents clause by clause using the available tools.

Rules:
- Use list_templates when the user asks what documents they can create.
- Use start_document to begin a document, then present the returned clause prompt to the user.
- When the user answers a clause, call submit_answer with their answer verbatim. If the answer is rejected, relay the reason and help the user correct it.
- Only call skip_clause when the user declines an optional clause. Pass the section name exactly as shown in the clause prompt.
- Use preview_document, document_progress, and finalize_document when the user asks for them.
- Never invent answer text on the user's behalf. Never claim a document is complete unless finalize_document succeeded.
- Keep replies short and conversational.`

// DraftingBot handles the chat conversation around document drafting. Each
// user turn runs a tool loop: the model may call document tools any number of
// times before producing the reply that goes back to the user.
type DraftingBot struct {
	store        store.Store
	genaiClient  genai.ClientInterface
	tools        *DocumentTools
	systemPrompt string
}

// NewDraftingBot creates a drafting bot. An empty systemPrompt selects the
// built-in default.
func NewDraftingBot(st store.Store, genaiClient genai.ClientInterface, tools *DocumentTools, systemPrompt string) *DraftingBot {
	if systemPrompt == "" {
		systemPrompt = defaultDraftingSystemPrompt
	}
	return &DraftingBot{
		store:        st,
		genaiClient:  genaiClient,
		tools:        tools,
		systemPrompt: systemPrompt,
	}
}

// ProcessMessage handles one user chat turn and returns the assistant reply.
func (db *DraftingBot) ProcessMessage(ctx context.Context, userID, message string) (string, error) {
	message = strings.TrimSpace(message)
	if userID == "" {
		return "", models.ErrEmptyUserID
	}
	if message == "" {
		return "", fmt.Errorf("message is empty")
	}
	if len(message) > models.MaxChatMessageLength {
		return "", fmt.Errorf("message exceeds maximum length of %d characters", models.MaxChatMessageLength)
	}

	slog.Debug("DraftingBot.ProcessMessage: processing message", "userID", userID, "messageLength", len(message))

	conv, err := db.store.GetConversation(userID)
	if err != nil {
		slog.Warn("DraftingBot.ProcessMessage: failed to load conversation, starting fresh", "error", err, "userID", userID)
		conv = nil
	}
	if conv == nil {
		conv = &models.Conversation{UserID: userID}
	}

	messages := db.buildMessages(conv, message)

	// The user message goes into history before the tool loop so tool
	// summaries appended during the loop land after it.
	conv.Append(models.RoleUser, message)

	reply, err := db.handleToolLoop(ctx, userID, messages, conv)
	if err != nil {
		return "", err
	}

	conv.Append(models.RoleAssistant, reply)
	if err := db.store.SaveConversation(*conv); err != nil {
		slog.Warn("DraftingBot.ProcessMessage: failed to save conversation", "error", err, "userID", userID)
	}

	slog.Info("DraftingBot.ProcessMessage: turn completed", "userID", userID, "replyLength", len(reply))
	return reply, nil
}

// buildMessages assembles the LLM context: system prompt, a window of prior
// history, and the current user message.
func (db *DraftingBot) buildMessages(conv *models.Conversation, userMessage string) []openai.ChatCompletionMessageParamUnion {
	messages := []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(db.systemPrompt)}

	const maxHistoryMessages = 30
	history := conv.Messages
	if len(history) > maxHistoryMessages {
		history = history[len(history)-maxHistoryMessages:]
	}
	for _, msg := range history {
		switch msg.Role {
		case models.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		default:
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}

	messages = append(messages, openai.UserMessage(userMessage))
	return messages
}

// handleToolLoop calls the LLM until it produces a user-facing message.
func (db *DraftingBot) handleToolLoop(ctx context.Context, userID string, messages []openai.ChatCompletionMessageParamUnion, conv *models.Conversation) (string, error) {
	const maxToolRounds = 10 // Prevent infinite loops
	tools := db.tools.GetToolDefinitions()
	currentMessages := messages

	for round := 1; round <= maxToolRounds; round++ {
		slog.Debug("DraftingBot.handleToolLoop: round start", "userID", userID, "round", round, "messageCount", len(currentMessages))

		toolResponse, err := db.genaiClient.GenerateWithTools(ctx, currentMessages, tools)
		if err != nil {
			slog.Error("DraftingBot.handleToolLoop: tool generation failed", "error", err, "userID", userID, "round", round)
			return "", fmt.Errorf("failed to generate response with tools: %w", err)
		}

		if len(toolResponse.ToolCalls) > 0 {
			currentMessages = db.executeToolCalls(ctx, userID, toolResponse, currentMessages, conv)

			// If the model paired its tool calls with text, that text is the reply.
			if toolResponse.Content != "" {
				return toolResponse.Content, nil
			}
			continue
		}

		if toolResponse.Content != "" {
			return toolResponse.Content, nil
		}

		slog.Warn("DraftingBot.handleToolLoop: received empty content and no tool calls", "userID", userID, "round", round)
		return "I can help you draft a legal document. Ask me to list the available templates to get started.", nil
	}

	slog.Warn("DraftingBot.handleToolLoop: hit maximum tool rounds", "userID", userID, "maxRounds", maxToolRounds)
	return "I've completed the requested actions.", nil
}

// executeToolCalls runs every tool call in the response and appends the
// assistant tool-call message, the tool results, and a history summary to the
// conversation context.
func (db *DraftingBot) executeToolCalls(ctx context.Context, userID string, toolResponse *genai.ToolCallResponse, messages []openai.ChatCompletionMessageParamUnion, conv *models.Conversation) []openai.ChatCompletionMessageParamUnion {
	var executingToolNames []string
	for _, toolCall := range toolResponse.ToolCalls {
		executingToolNames = append(executingToolNames, toolCall.Function.Name)
	}
	slog.Info("DraftingBot.executeToolCalls: executing tools", "userID", userID, "toolCallCount", len(toolResponse.ToolCalls), "executingTools", executingToolNames)

	var toolCalls []openai.ChatCompletionMessageToolCallParam
	for _, toolCall := range toolResponse.ToolCalls {
		toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
			ID:   toolCall.ID,
			Type: "function",
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      toolCall.Function.Name,
				Arguments: string(toolCall.Function.Arguments),
			},
		})
	}

	assistantMessageWithToolCalls := openai.ChatCompletionAssistantMessageParam{
		Content: openai.ChatCompletionAssistantMessageParamContentUnion{
			OfString: param.NewOpt(toolResponse.Content),
		},
		ToolCalls: toolCalls,
	}
	messages = append(messages, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistantMessageWithToolCalls})

	results := make([]string, 0, len(toolResponse.ToolCalls))
	for _, toolCall := range toolResponse.ToolCalls {
		slog.Debug("DraftingBot.executeToolCalls: tool call arguments", "userID", userID, "tool", toolCall.Function.Name, "toolCallID", toolCall.ID, "arguments", formatToolArgumentsForLog(toolCall.Function.Arguments))
		result, err := db.tools.Execute(ctx, userID, toolCall)
		if err != nil {
			slog.Error("DraftingBot.executeToolCalls: tool execution failed", "error", err, "userID", userID, "tool", toolCall.Function.Name)
			result = fmt.Sprintf("❌ Tool execution failed: %s", err.Error())
		}
		results = append(results, result)
	}

	for i, toolCall := range toolResponse.ToolCalls {
		resultContent := results[i]
		if resultContent == "" {
			resultContent = "Tool executed successfully"
		}
		messages = append(messages, openai.ToolMessage(resultContent, toolCall.ID))
	}

	// Summarize the executions as an assistant message in the persisted
	// history so future turns can see the tools already ran.
	if len(results) > 0 {
		var toolSummary strings.Builder
		toolSummary.WriteString("I've executed the following tools: ")
		for i, toolCall := range toolResponse.ToolCalls {
			if i > 0 {
				toolSummary.WriteString(", ")
			}
			toolSummary.WriteString(toolCall.Function.Name)
			if results[i] != "" {
				result := results[i]
				if len(result) > 100 {
					result = result[:97] + "..."
				}
				toolSummary.WriteString(fmt.Sprintf(" (%s)", result))
			}
		}
		messages = append(messages, openai.AssistantMessage(toolSummary.String()))
		conv.Append(models.RoleAssistant, toolSummary.String())
	}

	return messages
}
