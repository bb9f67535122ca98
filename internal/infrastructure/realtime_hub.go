package infrastructure

import (
	"net/http"
	"sync"
	"time"

	"retailcrm/internal/entities"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsSendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// subscriber is one operator websocket scoped to an organization.
type subscriber struct {
	id    string
	orgID string
	ws    *websocket.Conn
	send  chan entities.RealtimeEvent
}

// RealtimeHub fans ledger events out to operator websockets of the same
// organization. Publish never blocks: slow subscribers lose events.
type RealtimeHub struct {
	mu     sync.RWMutex
	subs   map[string]map[string]*subscriber // orgID -> subID -> sub
	logger zerolog.Logger
}

func NewRealtimeHub(logger zerolog.Logger) *RealtimeHub {
	return &RealtimeHub{
		subs:   make(map[string]map[string]*subscriber),
		logger: logger.With().Str("component", "realtime").Logger(),
	}
}

// Publish implements interfaces.Publisher.
func (h *RealtimeHub) Publish(evt entities.RealtimeEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs[evt.OrganizationID] {
		select {
		case sub.send <- evt:
		default:
			h.logger.Warn().Str("subscriber", sub.id).Str("type", evt.Type).Msg("subscriber buffer full, dropping event")
		}
	}
}

// Subscribers returns the number of open sockets for orgID.
func (h *RealtimeHub) Subscribers(orgID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[orgID])
}

func (h *RealtimeHub) add(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[sub.orgID] == nil {
		h.subs[sub.orgID] = make(map[string]*subscriber)
	}
	h.subs[sub.orgID][sub.id] = sub
}

func (h *RealtimeHub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if m := h.subs[sub.orgID]; m != nil {
		delete(m, sub.id)
		if len(m) == 0 {
			delete(h.subs, sub.orgID)
		}
	}
}

// Serve upgrades the request and streams orgID's events until the client
// goes away. The caller must have authenticated the request.
func (h *RealtimeHub) Serve(w http.ResponseWriter, r *http.Request, orgID string) error {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	sub := &subscriber{
		id:    uuid.NewString(),
		orgID: orgID,
		ws:    ws,
		send:  make(chan entities.RealtimeEvent, wsSendBuffer),
	}
	h.add(sub)
	h.logger.Debug().Str("subscriber", sub.id).Str("org_id", orgID).Msg("subscriber connected")

	done := make(chan struct{})
	go h.writePump(sub, done)
	h.readPump(sub)

	close(done)
	h.remove(sub)
	h.logger.Debug().Str("subscriber", sub.id).Msg("subscriber disconnected")
	return nil
}

// readPump discards client frames and keeps the pong deadline fresh.
func (h *RealtimeHub) readPump(sub *subscriber) {
	defer sub.ws.Close()
	sub.ws.SetReadLimit(4096)
	_ = sub.ws.SetReadDeadline(time.Now().Add(wsPongWait))
	sub.ws.SetPongHandler(func(string) error {
		return sub.ws.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := sub.ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *RealtimeHub) writePump(sub *subscriber, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case evt := <-sub.send:
			_ = sub.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := sub.ws.WriteJSON(evt); err != nil {
				sub.ws.Close()
				return
			}
		case <-ticker.C:
			_ = sub.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := sub.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				sub.ws.Close()
				return
			}
		}
	}
}
