package usecases

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"retailcrm/internal/entities"
	"retailcrm/internal/interfaces"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func webhookBody(t *testing.T, event string, data any) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"event": event, "sessionId": testSession, "data": data})
	require.NoError(t, err)
	return raw
}

func TestDecodeGatewayEvent(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    entities.GatewayEvent
		wantErr error
	}{
		{
			name: "message received",
			body: `{"event":"message.received","sessionId":"s1","data":{"id":"m1","from":"5511987654321@s.whatsapp.net","pushName":"Ana","timestamp":1700000000,"type":"chat","body":"Oi"}}`,
			want: entities.MessageReceived{SessionID: "s1", ExternalID: "m1", From: "5511987654321@s.whatsapp.net", PushName: "Ana", Timestamp: 1700000000, Type: "chat", Body: "Oi"},
		},
		{
			name: "connection update",
			body: `{"event":"connection.update","sessionId":"s1","data":{"status":"qrcode","qrcode":"2@abc"}}`,
			want: entities.ConnectionUpdate{SessionID: "s1", Status: "qrcode", QRCode: "2@abc"},
		},
		{
			name: "message updated",
			body: `{"event":"message.updated","sessionId":"s1","data":{"id":"m1","status":"read"}}`,
			want: entities.MessageUpdated{SessionID: "s1", ExternalID: "m1", Status: "read"},
		},
		{
			name:    "unknown event",
			body:    `{"event":"presence.update","sessionId":"s1","data":{}}`,
			wantErr: entities.ErrUnknownEvent,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeGatewayEvent([]byte(tt.body))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeGatewayEventRejectsMalformed(t *testing.T) {
	bodies := []string{
		`not json`,
		`{"event":"message.received","data":{"id":"m1","from":"55"}}`,
		`{"event":"message.received","sessionId":"s1","data":{"from":"55"}}`,
		`{"event":"message.updated","sessionId":"s1","data":{"id":"m1"}}`,
	}
	for _, body := range bodies {
		_, err := DecodeGatewayEvent([]byte(body))
		assert.Error(t, err, body)
	}
}

func TestMessageReceivedCreatesConversationAndReplies(t *testing.T) {
	h := newHarness(t, 10*time.Millisecond)
	ctx := context.Background()

	body := webhookBody(t, entities.EventMessageReceived, map[string]any{
		"id": "wamid-in-1", "from": "551187654321@s.whatsapp.net", "pushName": "Ana",
		"timestamp": time.Now().Unix(), "type": "chat", "body": "Oi",
	})
	require.NoError(t, h.processor.HandleTask(ctx, interfaces.Task{Kind: TaskGatewayEvent, Payload: body}))
	h.runner.Wait()

	client, err := h.clients.GetByPhone(ctx, testOrg, "5511987654321")
	require.NoError(t, err)
	require.NotNil(t, client)
	assert.Equal(t, "Ana", client.Name)

	inbound := h.messages.byAuthor(entities.AuthorClient)
	require.Len(t, inbound, 1)
	assert.Equal(t, entities.StatusReceived, inbound[0].Status)
	assert.Equal(t, "wamid-in-1", inbound[0].ExternalID)

	require.Len(t, h.ai.Calls(), 1)
	require.Len(t, h.messenger.Sent(), 1)
	assert.Equal(t, "5511987654321", h.messenger.Sent()[0].Phone)
}

func TestDuplicateDeliveryIsIgnored(t *testing.T) {
	h := newHarness(t, 10*time.Millisecond)
	ctx := context.Background()
	body := webhookBody(t, entities.EventMessageReceived, map[string]any{
		"id": "wamid-dup", "from": "5511987654321", "body": "Oi",
	})

	require.NoError(t, h.processor.HandleTask(ctx, interfaces.Task{Payload: body}))
	require.NoError(t, h.processor.HandleTask(ctx, interfaces.Task{Payload: body}))
	h.runner.Wait()

	assert.Len(t, h.messages.byAuthor(entities.AuthorClient), 1)
	assert.Len(t, h.ai.Calls(), 1)
}

func TestFromMeIsRecordedWithoutReply(t *testing.T) {
	h := newHarness(t, 10*time.Millisecond)
	ctx := context.Background()
	body := webhookBody(t, entities.EventMessageReceived, map[string]any{
		"id": "wamid-me", "from": "5511987654321", "fromMe": true, "pushName": "Loja", "body": "Pedido enviado",
	})

	require.NoError(t, h.processor.HandleTask(ctx, interfaces.Task{Payload: body}))
	h.runner.Wait()

	out := h.messages.byAuthor(entities.AuthorBusinessApp)
	require.Len(t, out, 1)
	assert.Equal(t, entities.StatusSent, out[0].Status)
	assert.Empty(t, h.ai.Calls())

	client, err := h.clients.GetByPhone(ctx, testOrg, "5511987654321")
	require.NoError(t, err)
	assert.NotEqual(t, "Loja", client.Name, "our own push name never names the client")
}

func TestGroupMessagesAreIgnored(t *testing.T) {
	h := newHarness(t, 0)
	body := webhookBody(t, entities.EventMessageReceived, map[string]any{
		"id": "g1", "from": "120363@g.us", "isGroup": true, "body": "promo?",
	})
	require.NoError(t, h.processor.HandleTask(context.Background(), interfaces.Task{Payload: body}))
	assert.Zero(t, h.clients.count())
}

func TestUnknownSessionAborts(t *testing.T) {
	h := newHarness(t, 0)
	raw, err := json.Marshal(map[string]any{
		"event": entities.EventMessageReceived, "sessionId": "nobody",
		"data": map[string]any{"id": "m", "from": "5511987654321", "body": "Oi"},
	})
	require.NoError(t, err)

	err = h.processor.HandleTask(context.Background(), interfaces.Task{Payload: raw})
	assert.ErrorIs(t, err, entities.ErrNotFound)
	assert.Zero(t, h.clients.count())
}

func TestMediaDownloadFailureKeepsMessage(t *testing.T) {
	h := newHarness(t, 10*time.Millisecond)
	ctx := context.Background()
	h.fetcher.err = errors.New("transient url expired")

	body := webhookBody(t, entities.EventMessageReceived, map[string]any{
		"id": "wamid-img", "from": "5511987654321", "type": "image", "caption": "esse modelo tem?",
		"media": map[string]any{"url": "http://gateway.local/media/abc", "mimetype": "image/jpeg"},
	})
	require.NoError(t, h.processor.HandleTask(ctx, interfaces.Task{Payload: body}))
	h.runner.Wait()

	inbound := h.messages.byAuthor(entities.AuthorClient)
	require.Len(t, inbound, 1)
	assert.Equal(t, entities.MessageImage, inbound[0].Type)
	assert.Equal(t, "esse modelo tem?", inbound[0].Text)
	assert.Nil(t, inbound[0].Media)
	assert.Empty(t, inbound[0].MediaSummary)
	assert.Zero(t, h.enrichers[entities.MessageImage].Calls())
}

func TestUnusableMediaURLKeepsMessage(t *testing.T) {
	for _, url := range []string{"", "not a url"} {
		t.Run(url, func(t *testing.T) {
			h := newHarness(t, 0)
			ctx := context.Background()

			body := webhookBody(t, entities.EventMessageReceived, map[string]any{
				"id": "ext-1", "from": "5511987654321", "type": "image", "caption": "this shoe in 38?",
				"media": map[string]any{"url": url},
			})
			evt, err := DecodeGatewayEvent(body)
			require.NoError(t, err)
			require.NotNil(t, evt.(entities.MessageReceived).Media)

			require.NoError(t, h.processor.HandleTask(ctx, interfaces.Task{Payload: body}))
			h.runner.Wait()

			inbound := h.messages.byAuthor(entities.AuthorClient)
			require.Len(t, inbound, 1)
			assert.Equal(t, entities.MessageImage, inbound[0].Type)
			assert.Equal(t, "this shoe in 38?", inbound[0].Text)
			assert.Nil(t, inbound[0].Media)
			assert.Zero(t, h.fetcher.Calls())
		})
	}
}

func TestMediaMessageIsStoredAndEnriched(t *testing.T) {
	h := newHarness(t, 10*time.Millisecond)
	ctx := context.Background()
	h.fetcher.data = pngHeader
	h.fetcher.mime = "image/png"

	body := webhookBody(t, entities.EventMessageReceived, map[string]any{
		"id": "wamid-img2", "from": "5511987654321", "type": "image",
		"media": map[string]any{"url": "http://gateway.local/media/def"},
	})
	require.NoError(t, h.processor.HandleTask(ctx, interfaces.Task{Payload: body}))
	h.runner.Wait()

	inbound := h.messages.byAuthor(entities.AuthorClient)
	require.Len(t, inbound, 1)
	require.NotNil(t, inbound[0].Media)
	assert.Equal(t, "image/png", inbound[0].Media.MimeType)
	assert.Equal(t, "image summary", inbound[0].MediaSummary)
	assert.Contains(t, h.blobs.items, inbound[0].Media.StorageID)
}

func TestMessageUpdatedForUnknownIDIsNoop(t *testing.T) {
	h := newHarness(t, 0)
	body := webhookBody(t, entities.EventMessageUpdated, map[string]any{"id": "never-sent", "status": "read"})
	assert.NoError(t, h.processor.HandleTask(context.Background(), interfaces.Task{Payload: body}))
}

func TestConnectionUpdate(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	body := webhookBody(t, entities.EventConnectionUpdate, map[string]any{"status": "qrcode", "qrcode": "2@pairing"})
	require.NoError(t, h.processor.HandleTask(ctx, interfaces.Task{Payload: body}))
	conn, err := h.connections.GetBySession(ctx, testSession)
	require.NoError(t, err)
	assert.Equal(t, entities.ConnectionQRCode, conn.Status)
	assert.Equal(t, "2@pairing", conn.QRCode)

	png, err := h.inbox.PairingQR(ctx, testOrg, conn.ID)
	require.NoError(t, err)
	assert.Equal(t, pngHeader[:8], png[:8])

	body = webhookBody(t, entities.EventConnectionUpdate, map[string]any{"status": "open", "phone": "5511900000000"})
	require.NoError(t, h.processor.HandleTask(ctx, interfaces.Task{Payload: body}))
	conn, err = h.connections.GetBySession(ctx, testSession)
	require.NoError(t, err)
	assert.Equal(t, entities.ConnectionConnected, conn.Status)
	assert.Empty(t, conn.QRCode)
	assert.Equal(t, "5511900000000", conn.Phone)

	_, err = h.inbox.PairingQR(ctx, testOrg, conn.ID)
	assert.ErrorIs(t, err, entities.ErrNotFound)
}
