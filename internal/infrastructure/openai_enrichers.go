package infrastructure

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"retailcrm/internal/entities"
	"retailcrm/internal/interfaces"

	"github.com/gabriel-vasile/mimetype"
	openai "github.com/sashabaranov/go-openai"
)

const summaryPrompt = "Summarize the following content in one short sentence, in the same language as the content."

// summarizer produces the one-line summary every enricher returns.
type summarizer struct {
	client chatCompleter
	model  string
}

func (s summarizer) summarize(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: summaryPrompt},
			{Role: openai.ChatMessageRoleUser, Content: truncate(text, 8000)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("summarize: no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// TranscriptionEnricher turns audio (and the sound track of video) into text.
type TranscriptionEnricher struct {
	audio    transcriber
	model    string
	fileName string
	summary  summarizer
}

func NewAudioEnricher(audio transcriber, chat chatCompleter, transcriptionModel, chatModel string) *TranscriptionEnricher {
	return &TranscriptionEnricher{audio: audio, model: transcriptionModel, fileName: "audio", summary: summarizer{chat, chatModel}}
}

func NewVideoEnricher(audio transcriber, chat chatCompleter, transcriptionModel, chatModel string) *TranscriptionEnricher {
	return &TranscriptionEnricher{audio: audio, model: transcriptionModel, fileName: "video", summary: summarizer{chat, chatModel}}
}

func (e *TranscriptionEnricher) Enrich(ctx context.Context, data []byte, mimeType string) (entities.Enrichment, error) {
	name := e.fileName + transcriptionExt(data, mimeType)
	resp, err := e.audio.CreateTranscription(ctx, openai.AudioRequest{
		Model:    e.model,
		FilePath: name,
		Reader:   bytes.NewReader(data),
	})
	if err != nil {
		return entities.Enrichment{}, fmt.Errorf("transcribe: %w", err)
	}
	text := strings.TrimSpace(resp.Text)
	summary, err := e.summary.summarize(ctx, text)
	if err != nil {
		return entities.Enrichment{}, err
	}
	return entities.Enrichment{Text: text, Summary: summary}, nil
}

// transcription infers the container from the file extension and only
// accepts a few of them
var transcriptionExts = map[string]string{
	"audio/ogg":   ".ogg",
	"audio/opus":  ".ogg",
	"audio/mpeg":  ".mp3",
	"audio/mp4":   ".m4a",
	"audio/x-m4a": ".m4a",
	"audio/aac":   ".m4a",
	"audio/wav":   ".wav",
	"audio/x-wav": ".wav",
	"audio/webm":  ".webm",
	"video/webm":  ".webm",
	"video/mp4":   ".mp4",
	"audio/flac":  ".flac",
}

func transcriptionExt(data []byte, mimeType string) string {
	if ext, ok := transcriptionExts[mimeType]; ok {
		return ext
	}
	detected := mimetype.Detect(data)
	if ext, ok := transcriptionExts[detected.String()]; ok {
		return ext
	}
	return detected.Extension()
}

const imagePrompt = `Describe this image for a store attendant who cannot see it. Read any visible text.
Respond with a JSON object: {"description": "<detailed description>", "summary": "<one short sentence>"}`

// ImageEnricher describes pictures with a vision model.
type ImageEnricher struct {
	client chatCompleter
	model  string
}

func NewImageEnricher(client chatCompleter, visionModel string) *ImageEnricher {
	return &ImageEnricher{client: client, model: visionModel}
}

func (e *ImageEnricher) Enrich(ctx context.Context, data []byte, mimeType string) (entities.Enrichment, error) {
	dataURL := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: imagePrompt},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
					URL:    dataURL,
					Detail: openai.ImageURLDetailLow,
				}},
			},
		}},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil {
		return entities.Enrichment{}, fmt.Errorf("describe image: %w", err)
	}
	if len(resp.Choices) == 0 {
		return entities.Enrichment{}, fmt.Errorf("describe image: no choices")
	}

	var out struct {
		Description string `json:"description"`
		Summary     string `json:"summary"`
	}
	content := resp.Choices[0].Message.Content
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return entities.Enrichment{Text: strings.TrimSpace(content)}, nil
	}
	return entities.Enrichment{Text: out.Description, Summary: out.Summary}, nil
}

// DocumentEnricher extracts text documents and summarizes them. Binary formats
// are rejected as unsupported.
type DocumentEnricher struct {
	summary summarizer
}

func NewDocumentEnricher(chat chatCompleter, chatModel string) *DocumentEnricher {
	return &DocumentEnricher{summary: summarizer{chat, chatModel}}
}

func (e *DocumentEnricher) Enrich(ctx context.Context, data []byte, mimeType string) (entities.Enrichment, error) {
	if !isTextual(data, mimeType) {
		return entities.Enrichment{}, fmt.Errorf("%w: cannot extract text from %s", entities.ErrUnsupportedMedia, mimeType)
	}
	text := strings.TrimSpace(string(data))
	summary, err := e.summary.summarize(ctx, text)
	if err != nil {
		return entities.Enrichment{}, err
	}
	return entities.Enrichment{Text: truncate(text, 20000), Summary: summary}, nil
}

func isTextual(data []byte, mimeType string) bool {
	for mt := mimetype.Lookup(mimeType); mt != nil; mt = mt.Parent() {
		if mt.Is("text/plain") {
			return utf8.Valid(data)
		}
	}
	return strings.HasPrefix(mimeType, "text/") && utf8.Valid(data)
}

// NewOpenAIEnrichers wires one enricher per media kind.
func NewOpenAIEnrichers(client *openai.Client, chatModel, visionModel, transcriptionModel string) map[entities.MessageType]interfaces.Enricher {
	return map[entities.MessageType]interfaces.Enricher{
		entities.MessageAudio:    NewAudioEnricher(client, client, transcriptionModel, chatModel),
		entities.MessageVideo:    NewVideoEnricher(client, client, transcriptionModel, chatModel),
		entities.MessageImage:    NewImageEnricher(client, visionModel),
		entities.MessageDocument: NewDocumentEnricher(client, chatModel),
	}
}
