package infrastructure

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"retailcrm/internal/entities"
	"retailcrm/internal/interfaces"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type transcriber interface {
	CreateTranscription(ctx context.Context, req openai.AudioRequest) (openai.AudioResponse, error)
}

// NewOpenAIClient builds the shared API client. baseURL may point at any
// OpenAI compatible endpoint.
func NewOpenAIClient(apiKey, baseURL string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return openai.NewClientWithConfig(cfg)
}

const replySystemPrompt = `You are the customer service assistant of a retail store talking to a client over WhatsApp.
Answer in the client's language, briefly and politely. Never invent prices, stock or policies you were not told.
Respond with a JSON object:
{"text": "<reply to send, may be empty>",
 "serviceDescription": "<one line describing what the client wants>",
 "escalation": {"applicable": <true when a human must take over>, "reason": "<why>"}}
Escalate when the client asks for a human, complains, or needs something you cannot resolve.`

// OpenAIResponder generates replies with a chat completion in JSON mode.
type OpenAIResponder struct {
	client chatCompleter
	model  string
	logger zerolog.Logger
}

func NewOpenAIResponder(client chatCompleter, model string, logger zerolog.Logger) *OpenAIResponder {
	return &OpenAIResponder{
		client: client,
		model:  model,
		logger: logger.With().Str("component", "openai_responder").Logger(),
	}
}

// GenerateReply implements interfaces.AIClient.
func (r *OpenAIResponder) GenerateReply(ctx context.Context, in interfaces.ReplyInput) (interfaces.Reply, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(in.History)+3)
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: replySystemPrompt})
	if in.BusinessName != "" || in.Instructions != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: businessContext(in.BusinessName, in.Instructions),
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: fmt.Sprintf("Client name: %s\nClient phone: %s", fallback(in.ClientName, "unknown"), in.ClientPhone),
	})
	for _, m := range in.History {
		content := historyContent(m)
		if content == "" {
			continue
		}
		role := openai.ChatMessageRoleAssistant
		if m.Author == entities.AuthorClient {
			role = openai.ChatMessageRoleUser
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: content})
	}

	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:          r.model,
		Messages:       messages,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil {
		return interfaces.Reply{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return interfaces.Reply{}, fmt.Errorf("chat completion returned no choices")
	}
	return parseReply(resp.Choices[0].Message.Content, r.logger), nil
}

func businessContext(name, instructions string) string {
	var b strings.Builder
	if name != "" {
		fmt.Fprintf(&b, "You answer on behalf of %s.", name)
	}
	if instructions != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("Business instructions:\n")
		b.WriteString(instructions)
	}
	return b.String()
}

// parseReply decodes the JSON reply. Models occasionally ignore JSON mode;
// plain text is then sent as is.
func parseReply(content string, logger zerolog.Logger) interfaces.Reply {
	content = strings.TrimSpace(content)
	var reply interfaces.Reply
	if err := json.Unmarshal([]byte(content), &reply); err != nil {
		logger.Warn().Err(err).Msg("reply was not JSON, using raw text")
		return interfaces.Reply{Text: content}
	}
	reply.Text = strings.TrimSpace(reply.Text)
	if reply.Escalation != nil && !reply.Escalation.Applicable {
		reply.Escalation = nil
	}
	return reply
}

// historyContent renders a ledger message, using enrichment for media.
func historyContent(m entities.Message) string {
	if !m.Type.IsMedia() {
		return m.Text
	}
	parts := []string{"[" + strings.ToLower(string(m.Type)) + "]"}
	if m.Text != "" {
		parts = append(parts, m.Text)
	}
	switch {
	case m.MediaText != "":
		parts = append(parts, "content: "+truncate(m.MediaText, 2000))
	case m.MediaSummary != "":
		parts = append(parts, "summary: "+m.MediaSummary)
	}
	return strings.Join(parts, " ")
}

func fallback(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
