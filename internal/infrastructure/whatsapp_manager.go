package infrastructure

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"retailcrm/internal/entities"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
)

// mediaCache holds downloadable attachments until the media pipeline fetches
// them. Entries expire so undelivered media does not pile up.
type mediaCache struct {
	mu      sync.Mutex
	entries map[string]mediaEntry
	ttl     time.Duration
	now     func() time.Time
}

type mediaEntry struct {
	msg     whatsmeow.DownloadableMessage
	addedAt time.Time
}

func newMediaCache(ttl time.Duration) *mediaCache {
	return &mediaCache{entries: make(map[string]mediaEntry), ttl: ttl, now: time.Now}
}

func (c *mediaCache) put(key string, msg whatsmeow.DownloadableMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for k, e := range c.entries {
		if now.Sub(e.addedAt) > c.ttl {
			delete(c.entries, k)
		}
	}
	c.entries[key] = mediaEntry{msg: msg, addedAt: now}
}

func (c *mediaCache) take(key string) (whatsmeow.DownloadableMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	delete(c.entries, key)
	if c.now().Sub(e.addedAt) > c.ttl {
		return nil, false
	}
	return e.msg, true
}

// WhatsAppManager runs one whatsmeow session per Connection and acts as the
// gateway when gateway.driver is "whatsmeow".
type WhatsAppManager struct {
	sessions map[string]*WhatsAppSession
	mu       sync.RWMutex
	baseDir  string
	media    *mediaCache
	sink     EventSink
	logger   zerolog.Logger
}

// NewWhatsAppManager creates the devices directory and a manager whose
// sessions report events to sink.
func NewWhatsAppManager(baseDir string, sink EventSink, logger zerolog.Logger) (*WhatsAppManager, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create devices directory: %w", err)
	}
	return &WhatsAppManager{
		sessions: make(map[string]*WhatsAppSession),
		baseDir:  baseDir,
		media:    newMediaCache(30 * time.Minute),
		sink:     sink,
		logger:   logger.With().Str("component", "whatsapp_manager").Logger(),
	}, nil
}

// GetSession returns the running session or nil.
func (m *WhatsAppManager) GetSession(sessionID string) *WhatsAppSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[sessionID]
}

// Start opens (or reuses) the device for sessionID and connects it.
func (m *WhatsAppManager) Start(ctx context.Context, sessionID string) (*WhatsAppSession, error) {
	m.mu.Lock()
	session, exists := m.sessions[sessionID]
	if !exists {
		dbPath := filepath.Join(m.baseDir, "session_"+sessionID+".db")
		var err error
		session, err = NewWhatsAppSession(ctx, dbPath, sessionID, m.sink, m.media, m.logger)
		if err != nil {
			m.mu.Unlock()
			return nil, fmt.Errorf("failed to create WhatsApp session %s: %w", sessionID, err)
		}
		m.sessions[sessionID] = session
	}
	m.mu.Unlock()

	if session.Client.IsConnected() {
		return session, nil
	}
	if err := session.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect WhatsApp session %s: %w", sessionID, err)
	}
	return session, nil
}

// Restore starts every known session, logging the ones that fail.
func (m *WhatsAppManager) Restore(ctx context.Context, conns []entities.Connection) {
	for _, conn := range conns {
		if _, err := m.Start(ctx, conn.SessionID); err != nil {
			m.logger.Error().Err(err).Str("session_id", conn.SessionID).Msg("restore session failed")
		}
	}
}

// Logout unpairs the device. Missing sessions are already logged out.
func (m *WhatsAppManager) Logout(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	session, exists := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	if !exists {
		return nil
	}
	defer session.Disconnect()
	if session.Client.Store.ID == nil {
		return nil
	}
	return session.Logout(ctx)
}

// SendText implements interfaces.Messenger.
func (m *WhatsAppManager) SendText(ctx context.Context, sessionID, phone, text string) (string, error) {
	session := m.GetSession(sessionID)
	if session == nil || !session.IsConnected() {
		return "", fmt.Errorf("session %s: %w", sessionID, entities.ErrConnectionOffline)
	}
	return session.SendText(ctx, phone, text)
}

// FetchMedia implements interfaces.MediaFetcher for whatsmeow:// URLs.
func (m *WhatsAppManager) FetchMedia(ctx context.Context, url string) ([]byte, string, error) {
	sessionID, _, ok := parseMediaURL(url)
	if !ok {
		return nil, "", fmt.Errorf("not a whatsmeow media url: %s", url)
	}
	session := m.GetSession(sessionID)
	if session == nil {
		return nil, "", fmt.Errorf("session %s: %w", sessionID, entities.ErrNotFound)
	}
	msg, ok := m.media.take(url)
	if !ok {
		return nil, "", fmt.Errorf("media %s expired: %w", url, entities.ErrNotFound)
	}

	data, err := session.Client.Download(ctx, msg)
	if err != nil {
		return nil, "", fmt.Errorf("download media: %w", err)
	}
	return data, mimetype.Detect(data).String(), nil
}

// DisconnectAll disconnects all sessions (for graceful shutdown)
func (m *WhatsAppManager) DisconnectAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, session := range m.sessions {
		session.Disconnect()
	}
	m.sessions = make(map[string]*WhatsAppSession)
}

// Pair starts the session; an unpaired device then reports QR codes.
func (m *WhatsAppManager) Pair(ctx context.Context, sessionID string) error {
	_, err := m.Start(context.WithoutCancel(ctx), sessionID)
	return err
}
