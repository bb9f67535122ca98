package usecases

import (
	"context"
	"errors"
	"strings"
	"testing"

	"retailcrm/internal/entities"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

func TestClassify(t *testing.T) {
	tests := []struct {
		msgType entities.MessageType
		mime    string
		want    entities.MessageType
		ok      bool
	}{
		{entities.MessageAudio, "", entities.MessageAudio, true},
		{entities.MessageVideo, "application/octet-stream", entities.MessageVideo, true},
		{entities.MessageText, "audio/ogg", entities.MessageAudio, true},
		{"", "image/jpeg", entities.MessageImage, true},
		{"", "video/mp4", entities.MessageVideo, true},
		{"", "application/pdf", entities.MessageDocument, true},
		{"", "text/csv", entities.MessageDocument, true},
		{"", "", "", false},
		{entities.MessageText, "font/woff2", "", false},
	}
	for _, tt := range tests {
		got, ok := Classify(tt.msgType, tt.mime)
		assert.Equal(t, tt.ok, ok, "%s %s", tt.msgType, tt.mime)
		assert.Equal(t, tt.want, got, "%s %s", tt.msgType, tt.mime)
	}
}

func TestPersistStoresUnderOrganizationAndChat(t *testing.T) {
	h := newHarness(t, 0)
	h.fetcher.data = pngHeader

	att, data, err := h.media.Persist(context.Background(), testOrg, "chat-1", &entities.MediaRef{URL: "http://gw/media/1", FileName: "foto.png"})
	require.NoError(t, err)
	assert.Equal(t, pngHeader, data)
	assert.True(t, strings.HasPrefix(att.StorageID, testOrg+"/chat-1/"), att.StorageID)
	assert.True(t, strings.HasSuffix(att.StorageID, ".png"), att.StorageID)
	assert.Equal(t, "image/png", att.MimeType, "sniffed when the gateway omits it")
	assert.Equal(t, int64(len(pngHeader)), att.Size)
	assert.Equal(t, "/media/"+att.StorageID, att.URL)
	assert.Equal(t, "foto.png", att.FileName)
}

func TestPersistPrefersDeclaredMime(t *testing.T) {
	h := newHarness(t, 0)
	h.fetcher.data = []byte("OggS fake voice note")
	h.fetcher.mime = "audio/ogg; codecs=opus"

	att, _, err := h.media.Persist(context.Background(), testOrg, "chat-1", &entities.MediaRef{URL: "http://gw/media/2"})
	require.NoError(t, err)
	assert.Equal(t, "audio/ogg", att.MimeType)
}

func TestPersistRejectsOversizedMedia(t *testing.T) {
	h := newHarness(t, 0)
	h.fetcher.data = make([]byte, 2<<20)

	_, _, err := h.media.Persist(context.Background(), testOrg, "chat-1", &entities.MediaRef{URL: "http://gw/media/3"})
	assert.ErrorIs(t, err, entities.ErrUnsupportedMedia)
}

func TestPersistPropagatesFetchFailure(t *testing.T) {
	h := newHarness(t, 0)
	h.fetcher.err = errors.New("410 gone")

	_, _, err := h.media.Persist(context.Background(), testOrg, "chat-1", &entities.MediaRef{URL: "http://gw/media/4"})
	require.Error(t, err)
	assert.Empty(t, h.blobs.items)
}

func TestEnrichRetriesThenStores(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	client, chat, _ := h.conversation(t, "5511987654321")

	audio := h.enrichers[entities.MessageAudio]
	audio.failures = 2
	audio.err = errors.New("rate limited")

	msg, err := h.ledger.AppendInbound(ctx, chat, client, Inbound{
		Type:  entities.MessageAudio,
		Media: &entities.MediaAttachment{StorageID: "k", MimeType: "audio/ogg"},
	})
	require.NoError(t, err)

	require.NoError(t, h.media.Enrich(ctx, msg, []byte("voice")))
	assert.Equal(t, 3, audio.Calls())

	stored, err := h.messages.GetByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "transcript", stored.MediaText)
	assert.Equal(t, "audio summary", stored.MediaSummary)
	assert.Contains(t, h.publisher.Types(), entities.RealtimeMessageEnriched)
}

func TestEnrichFailureLeavesMessageIntact(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	client, chat, _ := h.conversation(t, "5511987654321")

	doc := h.enrichers[entities.MessageDocument]
	doc.failures = 10
	doc.err = errors.New("cannot parse pdf")

	msg, err := h.ledger.AppendInbound(ctx, chat, client, Inbound{
		Type:  entities.MessageDocument,
		Text:  "segue o comprovante",
		Media: &entities.MediaAttachment{StorageID: "k", MimeType: "application/pdf"},
	})
	require.NoError(t, err)

	err = h.media.Enrich(ctx, msg, []byte("%PDF"))
	var enrichErr *entities.EnrichmentError
	require.True(t, errors.As(err, &enrichErr))
	assert.Equal(t, entities.MessageDocument, enrichErr.Kind)
	assert.Equal(t, 3, doc.Calls())

	stored, err := h.messages.GetByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "segue o comprovante", stored.Text)
	assert.Empty(t, stored.MediaSummary)
	assert.Empty(t, stored.MediaText)
}

func TestEnrichDispatchesByKind(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	client, chat, _ := h.conversation(t, "5511987654321")

	kinds := map[entities.MessageType]string{
		entities.MessageAudio:    "audio/mpeg",
		entities.MessageImage:    "image/jpeg",
		entities.MessageVideo:    "video/mp4",
		entities.MessageDocument: "application/pdf",
	}
	for kind, mime := range kinds {
		msg, err := h.ledger.AppendInbound(ctx, chat, client, Inbound{
			Type:  kind,
			Media: &entities.MediaAttachment{StorageID: "k", MimeType: mime},
		})
		require.NoError(t, err)
		require.NoError(t, h.media.Enrich(ctx, msg, []byte("x")))
	}
	for kind, enricher := range h.enrichers {
		assert.Equal(t, 1, enricher.Calls(), kind)
	}
}
