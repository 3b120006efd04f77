package chat

import (
	"context"
	"fmt"
	log "log/slog"
	"strings"

	openai "github.com/openai/openai-go/v3"

	"chatrelay/internal/history"
)

const DefaultModel = openai.ChatModelGPT5Nano

// OpenAI answers with the chat completions API directly, turning the
// operator's prompt and agent name into the system message.
type OpenAI struct {
	client openai.Client
	model  openai.ChatModel
}

func NewOpenAI(client openai.Client, model string) *OpenAI {
	m := openai.ChatModel(model)
	if model == "" {
		m = DefaultModel
	}
	return &OpenAI{client: client, model: m}
}

func (o *OpenAI) Respond(ctx context.Context, req Request) (string, error) {
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: messages(req),
		Model:    o.model,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response: %w", ErrEmptyResponse)
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", ErrEmptyResponse
	}

	log.Debug("Completion ready", "model", o.model, "chars", len(content))
	return content, nil
}

// Pause and Resume have nobody to tell when talking to OpenAI.
func (o *OpenAI) Pause(context.Context, string) error  { return nil }
func (o *OpenAI) Resume(context.Context, string) error { return nil }

func systemPrompt(req Request) string {
	var b strings.Builder
	if req.AgentName != "" {
		fmt.Fprintf(&b, "Your name is %s.\n", req.AgentName)
	}
	b.WriteString(req.Prompt)
	return strings.TrimSpace(b.String())
}

// messages maps the conversation onto chat messages. The conversation
// already ends with the incoming message; it is only added when missing.
func messages(req Request) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Conversation)+2)
	if sys := systemPrompt(req); sys != "" {
		out = append(out, openai.SystemMessage(sys))
	}

	for _, t := range req.Conversation {
		switch t.Role {
		case history.Assistant:
			out = append(out, openai.AssistantMessage(t.Content))
		default:
			out = append(out, openai.UserMessage(t.Content))
		}
	}

	n := len(req.Conversation)
	if n == 0 || req.Conversation[n-1].Role != history.User || req.Conversation[n-1].Content != req.Message {
		out = append(out, openai.UserMessage(req.Message))
	}
	return out
}
