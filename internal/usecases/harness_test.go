package usecases

import (
	"context"
	"testing"
	"time"

	"retailcrm/internal/entities"
	"retailcrm/internal/interfaces"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const (
	testOrg     = "org-1"
	testSession = "sess-1"
)

type harness struct {
	conn *entities.Connection

	connections *fakeConnections
	clients     *fakeClients
	chats       *fakeChats
	services    *fakeServices
	messages    *fakeMessages
	publisher   *fakePublisher
	notifier    *fakeNotifier
	ai          *fakeAI
	messenger   *fakeMessenger
	fetcher     *fakeFetcher
	blobs       *fakeBlobs
	enrichers   map[entities.MessageType]*fakeEnricher
	runner      *goRunner

	directory  *Directory
	ledger     *Ledger
	dispatcher *Dispatcher
	media      *MediaPipeline
	scheduler  *Scheduler
	ownership  *Ownership
	inbox      *Inbox
	pagination *Pagination
	processor  *WebhookProcessor
}

func newHarness(t *testing.T, delay time.Duration) *harness {
	t.Helper()
	h := &harness{
		conn: &entities.Connection{
			ID:             uuid.NewString(),
			OrganizationID: testOrg,
			SessionID:      testSession,
			Name:           "Main store",
			Status:         entities.ConnectionConnected,
			AIEnabled:      true,
		},
		publisher: &fakePublisher{},
		notifier:  &fakeNotifier{},
		ai:        &fakeAI{reply: interfaces.Reply{Text: "Olá! Como posso ajudar?"}},
		messenger: &fakeMessenger{},
		fetcher:   &fakeFetcher{},
		blobs:     newFakeBlobs(),
		runner:    &goRunner{},
		enrichers: map[entities.MessageType]*fakeEnricher{
			entities.MessageAudio:    {result: entities.Enrichment{Text: "transcript", Summary: "audio summary"}},
			entities.MessageImage:    {result: entities.Enrichment{Text: "a red shoe", Summary: "image summary"}},
			entities.MessageVideo:    {result: entities.Enrichment{Text: "video transcript", Summary: "video summary"}},
			entities.MessageDocument: {result: entities.Enrichment{Text: "invoice", Summary: "document summary"}},
		},
	}
	h.connections = newFakeConnections(h.conn)
	h.clients = newFakeClients()
	h.chats = newFakeChats(h.clients)
	h.services = newFakeServices()
	h.messages = newFakeMessages()

	enrichers := map[entities.MessageType]interfaces.Enricher{}
	for k, v := range h.enrichers {
		enrichers[k] = v
	}

	h.directory = NewDirectory(h.clients, h.chats, h.services, testLogger)
	h.ledger = NewLedger(h.chats, h.messages, h.publisher, testLogger)
	h.dispatcher = NewDispatcher(h.ledger, h.messenger, nil, testLogger)
	h.media = NewMediaPipeline(h.fetcher, h.blobs, enrichers, h.ledger, h.runner,
		MediaPipelineOptions{MaxBytes: 1 << 20, Attempts: 3, Backoff: time.Millisecond}, testLogger)
	h.scheduler = NewScheduler(h.chats, h.services, h.connections, h.messages, h.ai, h.dispatcher,
		h.notifier, h.publisher, h.runner, SchedulerOptions{Delay: delay, HistoryWindow: 100}, testLogger)
	h.ownership = NewOwnership(h.chats, h.services, h.connections, h.publisher, testLogger)
	h.inbox = NewInbox(h.chats, h.connections, h.ledger, h.dispatcher)
	h.pagination = NewPagination(h.connections, h.chats, h.messages)
	h.processor = NewWebhookProcessor(h.connections, h.messages, h.directory, h.ledger, h.media, h.scheduler, testLogger)
	return h
}

// conversation resolves a client, chat and open service for phone.
func (h *harness) conversation(t *testing.T, phone string) (*entities.Client, *entities.Chat, *entities.Service) {
	t.Helper()
	ctx := context.Background()
	client, err := h.directory.ResolveOrCreateClient(ctx, testOrg, phone, "Maria")
	require.NoError(t, err)
	chat, err := h.directory.ResolveOrCreateChat(ctx, client, h.conn)
	require.NoError(t, err)
	svc, err := h.directory.ResolveOrCreateService(ctx, chat, h.conn)
	require.NoError(t, err)
	return client, chat, svc
}

// inbound appends a client text and schedules the reply like the webhook path.
func (h *harness) inbound(t *testing.T, client *entities.Client, chat *entities.Chat, svc *entities.Service, text string) *entities.Message {
	t.Helper()
	ctx := context.Background()
	msg, err := h.ledger.AppendInbound(ctx, chat, client, Inbound{
		ExternalID: uuid.NewString(),
		Type:       entities.MessageText,
		Text:       text,
	})
	require.NoError(t, err)
	require.NoError(t, h.scheduler.Schedule(ctx, chat, svc))
	return msg
}
