package interfaces

import (
	"context"
	"io"
	"retailcrm/internal/entities"
	"time"
)

// ReplyInput is the conversation window handed to the reply generator.
type ReplyInput struct {
	OrganizationID string
	ClientName     string
	ClientPhone    string
	ServiceID      string
	BusinessName   string
	Instructions   string
	History        []entities.Message // oldest first
}

// Escalation asks for a human to take over the service.
type Escalation struct {
	Applicable bool   `json:"applicable"`
	Reason     string `json:"reason"`
}

// Reply is the generator's output.
type Reply struct {
	Text               string      `json:"text"`
	ServiceDescription string      `json:"serviceDescription,omitempty"`
	Escalation         *Escalation `json:"escalation,omitempty"`
}

type AIClient interface {
	GenerateReply(ctx context.Context, in ReplyInput) (Reply, error)
}

// Enricher augments one kind of media: enrich(bytes, mime) -> {text, summary}.
type Enricher interface {
	Enrich(ctx context.Context, data []byte, mimeType string) (entities.Enrichment, error)
}

// Messenger sends outbound text through the chat gateway and returns the
// gateway's message id.
type Messenger interface {
	SendText(ctx context.Context, sessionID, phone, text string) (string, error)
}

// MediaFetcher downloads a transient attachment from the gateway.
type MediaFetcher interface {
	FetchMedia(ctx context.Context, url string) ([]byte, string, error)
}

// BlobStore is durable storage for attachments.
type BlobStore interface {
	Put(ctx context.Context, key, mimeType string, r io.Reader) (string, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// Task is a unit of detached work handed off after the webhook response.
type Task struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Payload    []byte    `json:"payload"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

type TaskHandler func(ctx context.Context, task Task) error

type TaskQueue interface {
	Enqueue(ctx context.Context, task Task) error
}

// Runner starts detached work that outlives the request that triggered it.
type Runner interface {
	Go(name string, fn func(ctx context.Context))
}

// EscalationNotice is sent to staff when the AI hands a chat over.
type EscalationNotice struct {
	OrganizationID string
	ChatID         string
	ClientName     string
	ClientPhone    string
	Reason         string
}

type Notifier interface {
	NotifyEscalation(ctx context.Context, notice EscalationNotice) error
}

type Publisher interface {
	Publish(evt entities.RealtimeEvent)
}

// Throttle paces outbound sends per connection.
type Throttle interface {
	Wait(ctx context.Context, key string) error
}
