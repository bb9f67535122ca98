package usecases

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"retailcrm/internal/entities"
	"retailcrm/internal/interfaces"

	"github.com/rs/zerolog"
)

var testLogger = zerolog.Nop()

type fakeConnections struct {
	mu   sync.Mutex
	rows map[string]*entities.Connection
}

func newFakeConnections(conns ...*entities.Connection) *fakeConnections {
	f := &fakeConnections{rows: map[string]*entities.Connection{}}
	for _, c := range conns {
		f.rows[c.ID] = c
	}
	return f
}

func (f *fakeConnections) Create(_ context.Context, conn *entities.Connection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *conn
	f.rows[conn.ID] = &cp
	return nil
}

func (f *fakeConnections) GetByID(_ context.Context, id string) (*entities.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.rows[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeConnections) GetBySession(_ context.Context, sessionID string) (*entities.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.rows {
		if c.SessionID == sessionID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeConnections) List(_ context.Context) ([]entities.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []entities.Connection
	for _, c := range f.rows {
		out = append(out, *c)
	}
	return out, nil
}

func (f *fakeConnections) UpdateStatus(_ context.Context, sessionID string, status entities.ConnectionStatus, phone, qr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.rows {
		if c.SessionID == sessionID {
			c.Status = status
			if phone != "" {
				c.Phone = phone
			}
			c.QRCode = qr
		}
	}
	return nil
}

func (f *fakeConnections) SetAIEnabled(_ context.Context, id string, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.rows[id]
	if !ok {
		return entities.ErrNotFound
	}
	c.AIEnabled = enabled
	return nil
}

type fakeClients struct {
	mu      sync.Mutex
	rows    map[string]*entities.Client
	inserts int
}

func newFakeClients() *fakeClients {
	return &fakeClients{rows: map[string]*entities.Client{}}
}

func (f *fakeClients) GetByID(_ context.Context, id string) (*entities.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.rows[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeClients) GetByPhone(_ context.Context, orgID, phone string) (*entities.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.rows {
		if c.OrganizationID == orgID && c.Phone == phone {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

// CreateIfAbsent mirrors UNIQUE (organization_id, phone) ON CONFLICT DO NOTHING.
func (f *fakeClients) CreateIfAbsent(_ context.Context, client *entities.Client) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.rows {
		if c.OrganizationID == client.OrganizationID && c.Phone == client.Phone {
			return false, nil
		}
	}
	client.CreatedAt = time.Now()
	cp := *client
	f.rows[client.ID] = &cp
	f.inserts++
	return true, nil
}

func (f *fakeClients) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

type fakeChats struct {
	mu      sync.Mutex
	rows    map[string]*entities.Chat
	clients *fakeClients
}

func newFakeChats(clients *fakeClients) *fakeChats {
	return &fakeChats{rows: map[string]*entities.Chat{}, clients: clients}
}

func (f *fakeChats) view(c *entities.Chat) entities.Chat {
	cp := *c
	if f.clients != nil {
		f.clients.mu.Lock()
		if cl, ok := f.clients.rows[c.ClientID]; ok {
			cp.ClientName = cl.Name
			cp.ClientPhone = cl.Phone
		}
		f.clients.mu.Unlock()
	}
	if c.DebounceToken != nil {
		t := *c.DebounceToken
		cp.DebounceToken = &t
	}
	if c.DebounceFiredToken != nil {
		t := *c.DebounceFiredToken
		cp.DebounceFiredToken = &t
	}
	return cp
}

func (f *fakeChats) put(chat *entities.Chat) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *chat
	f.rows[chat.ID] = &cp
}

func (f *fakeChats) GetByID(_ context.Context, id string) (*entities.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.rows[id]; ok {
		v := f.view(c)
		return &v, nil
	}
	return nil, nil
}

func (f *fakeChats) GetByClientConnection(_ context.Context, clientID, connectionID string) (*entities.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.rows {
		if c.ClientID == clientID && c.ConnectionID == connectionID {
			v := f.view(c)
			return &v, nil
		}
	}
	return nil, nil
}

func (f *fakeChats) CreateIfAbsent(_ context.Context, chat *entities.Chat) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.rows {
		if c.ClientID == chat.ClientID && c.ConnectionID == chat.ConnectionID {
			return false, nil
		}
	}
	cp := *chat
	f.rows[chat.ID] = &cp
	return true, nil
}

func (f *fakeChats) ApplySummary(_ context.Context, chatID string, s entities.ChatSummary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.rows[chatID]
	if !ok {
		return nil
	}
	if c.LastMessageAt == nil || !c.LastMessageAt.After(s.At) {
		at := s.At
		c.LastMessageID = s.MessageID
		c.LastMessageText = s.Text
		c.LastMessageType = s.Type
		c.LastMessageAt = &at
	}
	if s.At.After(c.LastActivityAt) {
		c.LastActivityAt = s.At
	}
	if s.IncUnread {
		c.UnreadCount++
	}
	return nil
}

func (f *fakeChats) ResetUnread(_ context.Context, chatID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.rows[chatID]
	if !ok {
		return entities.ErrNotFound
	}
	c.UnreadCount = 0
	return nil
}

func (f *fakeChats) AdvanceDebounceToken(_ context.Context, chatID string, token time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.rows[chatID]
	if !ok {
		return nil
	}
	if c.DebounceToken == nil || c.DebounceToken.Before(token) {
		t := token
		c.DebounceToken = &t
	}
	return nil
}

func (f *fakeChats) ClaimDebounceToken(_ context.Context, chatID string, token time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.rows[chatID]
	if !ok || c.DebounceToken == nil || !c.DebounceToken.Equal(token) {
		return false, nil
	}
	if c.DebounceFiredToken != nil && c.DebounceFiredToken.Equal(token) {
		return false, nil
	}
	t := token
	c.DebounceFiredToken = &t
	return true, nil
}

func (f *fakeChats) ListDueTokens(_ context.Context, dueBefore, notBefore time.Time, limit int) ([]entities.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []entities.Chat
	for _, c := range f.rows {
		if c.DebounceToken == nil {
			continue
		}
		tok := *c.DebounceToken
		if tok.After(dueBefore) || tok.Before(notBefore) {
			continue
		}
		if c.DebounceFiredToken != nil && c.DebounceFiredToken.Equal(tok) {
			continue
		}
		out = append(out, f.view(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DebounceToken.Before(*out[j].DebounceToken) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortChatsDesc(out []entities.Chat) {
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastActivityAt.Equal(out[j].LastActivityAt) {
			return out[i].LastActivityAt.After(out[j].LastActivityAt)
		}
		return out[i].ID > out[j].ID
	})
}

func (f *fakeChats) filter(connectionID string, keep func(entities.Chat) bool, limit int) []entities.Chat {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []entities.Chat
	for _, c := range f.rows {
		if c.ConnectionID != connectionID {
			continue
		}
		v := f.view(c)
		if keep(v) {
			out = append(out, v)
		}
	}
	sortChatsDesc(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (f *fakeChats) ListByConnection(_ context.Context, connectionID string, from *entities.Cursor, limit int) ([]entities.Chat, error) {
	return f.filter(connectionID, func(c entities.Chat) bool {
		return from.Admits(c.LastActivityAt, c.ID)
	}, limit), nil
}

func (f *fakeChats) SearchByClientName(_ context.Context, connectionID, query string, limit int) ([]entities.Chat, error) {
	q := strings.ToLower(query)
	return f.filter(connectionID, func(c entities.Chat) bool {
		return strings.Contains(strings.ToLower(c.ClientName), q)
	}, limit), nil
}

func (f *fakeChats) SearchByLastMessage(_ context.Context, connectionID, query string, limit int) ([]entities.Chat, error) {
	q := strings.ToLower(query)
	return f.filter(connectionID, func(c entities.Chat) bool {
		return strings.Contains(strings.ToLower(c.LastMessageText), q)
	}, limit), nil
}

type fakeServices struct {
	mu   sync.Mutex
	rows map[string]*entities.Service
}

func newFakeServices() *fakeServices {
	return &fakeServices{rows: map[string]*entities.Service{}}
}

func (f *fakeServices) GetByID(_ context.Context, id string) (*entities.Service, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.rows[id]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeServices) GetOpenByChat(_ context.Context, chatID string) (*entities.Service, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.rows {
		if s.ChatID == chatID && s.Status.IsOpen() {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

// CreateIfAbsent mirrors the partial unique index over open services.
func (f *fakeServices) CreateIfAbsent(_ context.Context, svc *entities.Service) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.rows {
		if s.ChatID == svc.ChatID && s.Status.IsOpen() {
			return false, nil
		}
	}
	cp := *svc
	f.rows[svc.ID] = &cp
	return true, nil
}

func (f *fakeServices) Update(_ context.Context, svc *entities.Service) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.rows[svc.ID]
	if !ok || !cur.Status.IsOpen() {
		return entities.ErrNotFound
	}
	cp := *svc
	f.rows[svc.ID] = &cp
	return nil
}

func (f *fakeServices) ApplyReply(_ context.Context, svc *entities.Service) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.rows[svc.ID]
	if !ok || !cur.AIOwned() {
		return false, nil
	}
	cur.Description = svc.Description
	cur.ResponsibleType = svc.ResponsibleType
	cur.EscalationReason = svc.EscalationReason
	return true, nil
}

func (f *fakeServices) openCount(chatID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.rows {
		if s.ChatID == chatID && s.Status.IsOpen() {
			n++
		}
	}
	return n
}

type fakeMessages struct {
	mu   sync.Mutex
	rows []*entities.Message
}

func newFakeMessages() *fakeMessages { return &fakeMessages{} }

func (f *fakeMessages) Insert(_ context.Context, m *entities.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m.CreatedAt = time.Now()
	cp := *m
	f.rows = append(f.rows, &cp)
	return nil
}

func (f *fakeMessages) find(pred func(*entities.Message) bool) *entities.Message {
	for i := len(f.rows) - 1; i >= 0; i-- {
		if pred(f.rows[i]) {
			return f.rows[i]
		}
	}
	return nil
}

func (f *fakeMessages) GetByID(_ context.Context, id string) (*entities.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m := f.find(func(m *entities.Message) bool { return m.ID == id }); m != nil {
		cp := *m
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeMessages) GetByExternalID(_ context.Context, externalID string) (*entities.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m := f.find(func(m *entities.Message) bool { return m.ExternalID != "" && m.ExternalID == externalID }); m != nil {
		cp := *m
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeMessages) MarkDispatched(_ context.Context, id, externalID string, status entities.MessageStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m := f.find(func(m *entities.Message) bool { return m.ID == id }); m != nil {
		if externalID != "" {
			m.ExternalID = externalID
		}
		m.Status = status
	}
	return nil
}

func (f *fakeMessages) UpdateStatusByExternalID(_ context.Context, externalID string, status entities.MessageStatus) (*entities.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := f.find(func(m *entities.Message) bool { return m.ExternalID != "" && m.ExternalID == externalID })
	if m == nil {
		return nil, nil
	}
	m.Status = status
	cp := *m
	return &cp, nil
}

func (f *fakeMessages) SetEnrichment(_ context.Context, id string, e entities.Enrichment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m := f.find(func(m *entities.Message) bool { return m.ID == id }); m != nil {
		m.MediaText = e.Text
		m.MediaSummary = e.Summary
	}
	return nil
}

func (f *fakeMessages) byChatDesc(chatID string) []entities.Message {
	var out []entities.Message
	for _, m := range f.rows {
		if m.ChatID == chatID {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SendTimestamp.Equal(out[j].SendTimestamp) {
			return out[i].SendTimestamp.After(out[j].SendTimestamp)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (f *fakeMessages) ListByChat(_ context.Context, chatID string, from *entities.Cursor, limit int) ([]entities.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []entities.Message
	for _, m := range f.byChatDesc(chatID) {
		if from.Admits(m.SendTimestamp, m.ID) {
			out = append(out, m)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeMessages) Recent(_ context.Context, chatID string, limit int) ([]entities.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	desc := f.byChatDesc(chatID)
	if len(desc) > limit {
		desc = desc[:limit]
	}
	out := make([]entities.Message, len(desc))
	for i, m := range desc {
		out[len(desc)-1-i] = m
	}
	return out, nil
}

func (f *fakeMessages) all() []entities.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]entities.Message, len(f.rows))
	for i, m := range f.rows {
		out[i] = *m
	}
	return out
}

func (f *fakeMessages) byAuthor(author entities.AuthorKind) []entities.Message {
	var out []entities.Message
	for _, m := range f.all() {
		if m.Author == author {
			out = append(out, m)
		}
	}
	return out
}

type fakeUsers struct {
	mu   sync.Mutex
	rows map[string]*entities.User
}

func newFakeUsers() *fakeUsers { return &fakeUsers{rows: map[string]*entities.User{}} }

func (f *fakeUsers) Create(_ context.Context, u *entities.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *u
	f.rows[u.ID] = &cp
	return nil
}

func (f *fakeUsers) GetByID(_ context.Context, id string) (*entities.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.rows[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeUsers) GetByUsername(_ context.Context, username string) (*entities.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.rows {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

type fakeOrgs struct {
	mu   sync.Mutex
	rows map[string]*entities.Organization
}

func newFakeOrgs(ids ...string) *fakeOrgs {
	f := &fakeOrgs{rows: map[string]*entities.Organization{}}
	for _, id := range ids {
		f.rows[id] = &entities.Organization{ID: id, Name: "org " + id}
	}
	return f
}

func (f *fakeOrgs) Create(_ context.Context, org *entities.Organization) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *org
	f.rows[org.ID] = &cp
	return nil
}

func (f *fakeOrgs) GetByID(_ context.Context, id string) (*entities.Organization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o, ok := f.rows[id]; ok {
		cp := *o
		return &cp, nil
	}
	return nil, nil
}

// goRunner runs detached work on goroutines the test can wait for.
type goRunner struct {
	wg sync.WaitGroup
}

func (r *goRunner) Go(_ string, fn func(ctx context.Context)) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		fn(context.Background())
	}()
}

func (r *goRunner) Wait() { r.wg.Wait() }

type fakeAI struct {
	mu     sync.Mutex
	calls  []interfaces.ReplyInput
	reply  interfaces.Reply
	err    error
	before func()
}

func (f *fakeAI) GenerateReply(_ context.Context, in interfaces.ReplyInput) (interfaces.Reply, error) {
	if f.before != nil {
		f.before()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, in)
	return f.reply, f.err
}

func (f *fakeAI) Calls() []interfaces.ReplyInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]interfaces.ReplyInput(nil), f.calls...)
}

type sentText struct {
	SessionID, Phone, Text string
}

type fakeMessenger struct {
	mu   sync.Mutex
	sent []sentText
	err  error
	next int
}

func (f *fakeMessenger) SendText(_ context.Context, sessionID, phone, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.next++
	f.sent = append(f.sent, sentText{sessionID, phone, text})
	return "wamid-" + string(rune('A'+f.next-1)), nil
}

func (f *fakeMessenger) Sent() []sentText {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentText(nil), f.sent...)
}

type fakeFetcher struct {
	data  []byte
	mime  string
	err   error
	calls atomic.Int32
}

func (f *fakeFetcher) FetchMedia(_ context.Context, _ string) ([]byte, string, error) {
	f.calls.Add(1)
	return f.data, f.mime, f.err
}

func (f *fakeFetcher) Calls() int { return int(f.calls.Load()) }

type fakeBlobs struct {
	mu    sync.Mutex
	items map[string][]byte
	err   error
}

func newFakeBlobs() *fakeBlobs { return &fakeBlobs{items: map[string][]byte{}} }

func (f *fakeBlobs) Put(_ context.Context, key, _ string, r io.Reader) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[key] = b
	return "/media/" + key, nil
}

func (f *fakeBlobs) Open(_ context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.items[key]
	if !ok {
		return nil, entities.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

type fakeEnricher struct {
	mu       sync.Mutex
	calls    int
	failures int
	result   entities.Enrichment
	err      error
}

func (f *fakeEnricher) Enrich(_ context.Context, _ []byte, _ string) (entities.Enrichment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return entities.Enrichment{}, f.err
	}
	return f.result, nil
}

func (f *fakeEnricher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakePublisher struct {
	mu     sync.Mutex
	events []entities.RealtimeEvent
}

func (f *fakePublisher) Publish(evt entities.RealtimeEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, evt)
}

func (f *fakePublisher) Types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.events {
		out = append(out, e.Type)
	}
	return out
}

type fakeNotifier struct {
	mu      sync.Mutex
	notices []interfaces.EscalationNotice
}

func (f *fakeNotifier) NotifyEscalation(_ context.Context, n interfaces.EscalationNotice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices = append(f.notices, n)
	return nil
}

func (f *fakeNotifier) Notices() []interfaces.EscalationNotice {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]interfaces.EscalationNotice(nil), f.notices...)
}
