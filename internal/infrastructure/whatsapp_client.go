package infrastructure

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"retailcrm/internal/entities"

	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// mediaScheme marks attachment URLs that must be downloaded through a
// whatsmeow session instead of plain HTTP.
const mediaScheme = "whatsmeow"

// EventSink receives gateway events translated from whatsmeow.
type EventSink func(evt entities.GatewayEvent)

// WhatsAppSession is one paired WhatsApp device, identified by the
// Connection's session id.
type WhatsAppSession struct {
	Client    *whatsmeow.Client
	SessionID string

	sink   EventSink
	media  *mediaCache
	logger zerolog.Logger

	qrCode string
	qrLock sync.RWMutex
}

func NewWhatsAppSession(ctx context.Context, dbPath, sessionID string, sink EventSink, media *mediaCache, logger zerolog.Logger) (*WhatsAppSession, error) {
	logger = logger.With().Str("component", "whatsmeow").Str("session_id", sessionID).Logger()

	container, err := sqlstore.New(ctx, "sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)", waLog.Zerolog(logger.With().Str("module", "db").Logger()))
	if err != nil {
		return nil, fmt.Errorf("failed to open device store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}

	client := whatsmeow.NewClient(deviceStore, waLog.Zerolog(logger.With().Str("module", "client").Logger()))
	s := &WhatsAppSession{
		Client:    client,
		SessionID: sessionID,
		sink:      sink,
		media:     media,
		logger:    logger,
	}
	client.AddEventHandler(s.handle)
	return s, nil
}

// Connect starts the websocket. Unpaired devices publish QR codes as
// connection updates until the phone scans one.
func (s *WhatsAppSession) Connect(ctx context.Context) error {
	if s.Client.Store.ID != nil {
		if err := s.Client.Connect(); err != nil {
			return err
		}
		s.logger.Info().Msg("connected with stored device")
		return nil
	}

	qrChan, err := s.Client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("qr channel: %w", err)
	}
	if err := s.Client.Connect(); err != nil {
		return err
	}

	go func() {
		for evt := range qrChan {
			switch evt.Event {
			case "code":
				s.qrLock.Lock()
				s.qrCode = evt.Code
				s.qrLock.Unlock()
				s.emit(entities.ConnectionUpdate{
					SessionID: s.SessionID,
					Status:    string(entities.ConnectionQRCode),
					QRCode:    evt.Code,
				})
			case "success":
				s.logger.Info().Msg("pairing succeeded")
			default:
				s.logger.Warn().Str("event", evt.Event).Msg("pairing ended")
				s.emit(entities.ConnectionUpdate{SessionID: s.SessionID, Status: string(entities.ConnectionDisconnected)})
			}
		}
	}()
	return nil
}

func (s *WhatsAppSession) GetQR() string {
	s.qrLock.RLock()
	defer s.qrLock.RUnlock()
	return s.qrCode
}

// IsConnected returns true if client is connected and logged in
func (s *WhatsAppSession) IsConnected() bool {
	return s.Client.IsConnected() && s.Client.Store.ID != nil
}

// GetPhoneNumber returns the connected phone number
func (s *WhatsAppSession) GetPhoneNumber() string {
	if s.Client.Store.ID == nil {
		return ""
	}
	return s.Client.Store.ID.User
}

func (s *WhatsAppSession) Logout(ctx context.Context) error {
	s.qrLock.Lock()
	s.qrCode = ""
	s.qrLock.Unlock()
	return s.Client.Logout(ctx)
}

func (s *WhatsAppSession) Disconnect() {
	s.Client.Disconnect()
}

// SendText sends a plain conversation message and returns its id.
func (s *WhatsAppSession) SendText(ctx context.Context, phone, text string) (string, error) {
	jid := types.NewJID(phone, types.DefaultUserServer)
	resp, err := s.Client.SendMessage(ctx, jid, &waProto.Message{
		Conversation: &text,
	})
	if err != nil {
		return "", err
	}
	return string(resp.ID), nil
}

func (s *WhatsAppSession) emit(evt entities.GatewayEvent) {
	if s.sink != nil {
		s.sink(evt)
	}
}

func (s *WhatsAppSession) handle(raw interface{}) {
	switch evt := raw.(type) {
	case *events.Message:
		if msg, ok := s.translateMessage(evt); ok {
			s.emit(msg)
		}
	case *events.Receipt:
		status := receiptStatus(evt.Type)
		if status == "" {
			return
		}
		for _, id := range evt.MessageIDs {
			s.emit(entities.MessageUpdated{SessionID: s.SessionID, ExternalID: string(id), Status: status})
		}
	case *events.Connected:
		s.qrLock.Lock()
		s.qrCode = ""
		s.qrLock.Unlock()
		s.emit(entities.ConnectionUpdate{
			SessionID: s.SessionID,
			Status:    string(entities.ConnectionConnected),
			Phone:     s.GetPhoneNumber(),
		})
	case *events.Disconnected:
		s.emit(entities.ConnectionUpdate{SessionID: s.SessionID, Status: string(entities.ConnectionConnecting)})
	case *events.LoggedOut:
		s.logger.Warn().Msg("device logged out")
		s.emit(entities.ConnectionUpdate{SessionID: s.SessionID, Status: string(entities.ConnectionDisconnected)})
	}
}

func receiptStatus(t types.ReceiptType) string {
	switch t {
	case types.ReceiptTypeDelivered:
		return "delivered"
	case types.ReceiptTypeRead, types.ReceiptTypeReadSelf:
		return "read"
	case types.ReceiptTypePlayed:
		return "played"
	}
	return ""
}

// translateMessage converts a whatsmeow message into the gateway shape. Media
// is parked in the cache and referenced by a whatsmeow:// URL.
func (s *WhatsAppSession) translateMessage(evt *events.Message) (entities.MessageReceived, bool) {
	m := evt.Message
	if m == nil {
		return entities.MessageReceived{}, false
	}

	out := entities.MessageReceived{
		SessionID:  s.SessionID,
		ExternalID: string(evt.Info.ID),
		From:       evt.Info.Chat.User,
		PushName:   evt.Info.PushName,
		FromMe:     evt.Info.IsFromMe,
		IsGroup:    evt.Info.IsGroup,
		Timestamp:  evt.Info.Timestamp.Unix(),
	}
	if !out.FromMe {
		out.From = evt.Info.Sender.User
	}

	var media whatsmeow.DownloadableMessage
	switch {
	case m.GetConversation() != "":
		out.Type, out.Body = "text", m.GetConversation()
	case m.GetExtendedTextMessage() != nil:
		out.Type, out.Body = "text", m.GetExtendedTextMessage().GetText()
	case m.GetImageMessage() != nil:
		img := m.GetImageMessage()
		out.Type, out.Caption = "image", img.GetCaption()
		out.Media = &entities.MediaRef{MimeType: img.GetMimetype()}
		media = img
	case m.GetStickerMessage() != nil:
		st := m.GetStickerMessage()
		out.Type = "sticker"
		out.Media = &entities.MediaRef{MimeType: st.GetMimetype()}
		media = st
	case m.GetAudioMessage() != nil:
		audio := m.GetAudioMessage()
		out.Type = "audio"
		if audio.GetPTT() {
			out.Type = "ptt"
		}
		out.Media = &entities.MediaRef{MimeType: audio.GetMimetype()}
		media = audio
	case m.GetVideoMessage() != nil:
		video := m.GetVideoMessage()
		out.Type, out.Caption = "video", video.GetCaption()
		out.Media = &entities.MediaRef{MimeType: video.GetMimetype()}
		media = video
	case m.GetDocumentMessage() != nil:
		doc := m.GetDocumentMessage()
		out.Type, out.Caption = "document", doc.GetCaption()
		out.Media = &entities.MediaRef{MimeType: doc.GetMimetype(), FileName: doc.GetFileName()}
		media = doc
	default:
		s.logger.Debug().Str("external_id", out.ExternalID).Msg("unsupported message kind")
		return entities.MessageReceived{}, false
	}

	if media != nil {
		out.Media.URL = mediaURL(s.SessionID, out.ExternalID)
		s.media.put(out.Media.URL, media)
	}
	return out, true
}

func mediaURL(sessionID, messageID string) string {
	return fmt.Sprintf("%s://%s/%s", mediaScheme, sessionID, messageID)
}

// parseMediaURL splits a whatsmeow:// URL into session and message ids.
func parseMediaURL(raw string) (string, string, bool) {
	rest, ok := strings.CutPrefix(raw, mediaScheme+"://")
	if !ok {
		return "", "", false
	}
	sessionID, messageID, ok := strings.Cut(rest, "/")
	if !ok || sessionID == "" || messageID == "" {
		return "", "", false
	}
	return sessionID, messageID, true
}
