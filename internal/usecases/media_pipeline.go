package usecases

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"retailcrm/internal/entities"
	"retailcrm/internal/interfaces"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type MediaPipelineOptions struct {
	MaxBytes int64
	Attempts int
	Backoff  time.Duration
}

// MediaPipeline copies gateway attachments into durable storage and runs the
// best effort enrichment behind the ledger's back.
type MediaPipeline struct {
	fetcher   interfaces.MediaFetcher
	blobs     interfaces.BlobStore
	enrichers map[entities.MessageType]interfaces.Enricher
	ledger    *Ledger
	runner    interfaces.Runner
	opts      MediaPipelineOptions
	logger    zerolog.Logger
}

func NewMediaPipeline(
	fetcher interfaces.MediaFetcher,
	blobs interfaces.BlobStore,
	enrichers map[entities.MessageType]interfaces.Enricher,
	ledger *Ledger,
	runner interfaces.Runner,
	opts MediaPipelineOptions,
	logger zerolog.Logger,
) *MediaPipeline {
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}
	return &MediaPipeline{
		fetcher:   fetcher,
		blobs:     blobs,
		enrichers: enrichers,
		ledger:    ledger,
		runner:    runner,
		opts:      opts,
		logger:    logger.With().Str("component", "media").Logger(),
	}
}

// Persist downloads ref and stores it under org/chat. The returned bytes are
// reused for enrichment so the attachment is fetched once.
func (p *MediaPipeline) Persist(ctx context.Context, orgID, chatID string, ref *entities.MediaRef) (*entities.MediaAttachment, []byte, error) {
	if err := eventValidator.Var(ref.URL, "required,url"); err != nil {
		return nil, nil, fmt.Errorf("media url %q: %w", ref.URL, entities.ErrUnsupportedMedia)
	}
	data, mimeType, err := p.fetcher.FetchMedia(ctx, ref.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch media: %w", err)
	}
	if len(data) == 0 {
		return nil, nil, errors.New("fetch media: empty body")
	}
	if p.opts.MaxBytes > 0 && int64(len(data)) > p.opts.MaxBytes {
		return nil, nil, fmt.Errorf("media is %s, limit %s: %w",
			humanize.Bytes(uint64(len(data))), humanize.Bytes(uint64(p.opts.MaxBytes)), entities.ErrUnsupportedMedia)
	}

	detected := mimetype.Detect(data)
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = ref.MimeType
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = detected.String()
	}
	mimeType, _, _ = strings.Cut(mimeType, ";")
	mimeType = strings.TrimSpace(mimeType)

	ext := detected.Extension()
	if known := mimetype.Lookup(mimeType); known != nil && known.Extension() != "" {
		ext = known.Extension()
	}
	key := fmt.Sprintf("%s/%s/%s%s", orgID, chatID, uuid.NewString(), ext)

	url, err := p.blobs.Put(ctx, key, mimeType, bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("store media: %w", err)
	}

	p.logger.Debug().
		Str("key", key).
		Str("mime", mimeType).
		Str("size", humanize.Bytes(uint64(len(data)))).
		Msg("media stored")

	return &entities.MediaAttachment{
		StorageID: key,
		URL:       url,
		MimeType:  mimeType,
		Size:      int64(len(data)),
		FileName:  ref.FileName,
	}, data, nil
}

// Classify picks the enrichment kind from the message type, falling back to
// the MIME family when the gateway type is generic.
func Classify(msgType entities.MessageType, mimeType string) (entities.MessageType, bool) {
	switch msgType {
	case entities.MessageAudio, entities.MessageImage, entities.MessageVideo, entities.MessageDocument:
		return msgType, true
	}
	switch {
	case strings.HasPrefix(mimeType, "audio/"):
		return entities.MessageAudio, true
	case strings.HasPrefix(mimeType, "image/"):
		return entities.MessageImage, true
	case strings.HasPrefix(mimeType, "video/"):
		return entities.MessageVideo, true
	case strings.HasPrefix(mimeType, "application/"), strings.HasPrefix(mimeType, "text/"):
		return entities.MessageDocument, true
	}
	return "", false
}

// EnrichAsync runs Enrich on a detached task. Failures are only logged.
func (p *MediaPipeline) EnrichAsync(msg *entities.Message, data []byte) {
	if msg.Media == nil || len(data) == 0 {
		return
	}
	p.runner.Go("enrich", func(ctx context.Context) {
		if err := p.Enrich(ctx, msg, data); err != nil {
			p.logger.Error().Err(err).Str("message_id", msg.ID).Msg("enrichment failed")
		}
	})
}

// Enrich runs the processor for the message's media kind and stores the
// result. An error leaves the message untouched.
func (p *MediaPipeline) Enrich(ctx context.Context, msg *entities.Message, data []byte) error {
	mimeType := ""
	if msg.Media != nil {
		mimeType = msg.Media.MimeType
	}
	kind, ok := Classify(msg.Type, mimeType)
	if !ok {
		return &entities.EnrichmentError{Kind: msg.Type, Err: entities.ErrUnsupportedMedia}
	}
	enricher, ok := p.enrichers[kind]
	if !ok || enricher == nil {
		p.logger.Debug().Str("kind", string(kind)).Msg("no enricher configured")
		return nil
	}

	var (
		result  entities.Enrichment
		lastErr error
	)
	for attempt := 0; attempt < p.opts.Attempts; attempt++ {
		if attempt > 0 {
			backoff := p.opts.Backoff * time.Duration(1<<(attempt-1))
			p.logger.Warn().Err(lastErr).Int("attempt", attempt+1).Dur("backoff", backoff).Msg("retrying enrichment")
			select {
			case <-ctx.Done():
				return &entities.EnrichmentError{Kind: kind, Err: ctx.Err()}
			case <-time.After(backoff):
			}
		}
		result, lastErr = enricher.Enrich(ctx, data, mimeType)
		if lastErr == nil {
			break
		}
	}
	if lastErr != nil {
		return &entities.EnrichmentError{Kind: kind, Err: lastErr}
	}

	if err := p.ledger.SetEnrichment(ctx, msg, result); err != nil {
		return &entities.EnrichmentError{Kind: kind, Err: err}
	}
	return nil
}
