package usecases

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"retailcrm/internal/entities"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
	// SearchCandidateLimit bounds each search lookup. Matches beyond it are
	// not reachable through search pagination.
	SearchCandidateLimit = 100
)

// PageQuery is the read contract shared by chats and messages.
type PageQuery struct {
	ScopeID  string
	Cursor   string
	PageSize int
	Search   string
}

// Pagination serves reverse chronological pages keyed by (timestamp, id).
// Each fetch asks for one extra row to learn whether another page exists.
type Pagination struct {
	connections ConnectionStore
	chats       ChatStore
	messages    MessageStore
}

func NewPagination(connections ConnectionStore, chats ChatStore, messages MessageStore) *Pagination {
	return &Pagination{connections: connections, chats: chats, messages: messages}
}

func clampPageSize(n int) int {
	switch {
	case n <= 0:
		return DefaultPageSize
	case n > MaxPageSize:
		return MaxPageSize
	}
	return n
}

func parseCursor(s string) (*entities.Cursor, error) {
	c, err := entities.ParseCursor(s)
	if err != nil {
		return nil, err
	}
	if c != nil {
		if _, err := uuid.Parse(c.ID); err != nil {
			return nil, entities.ErrInvalidCursor
		}
	}
	return c, nil
}

// slicePage trims rows fetched with limit pageSize+1. The extra row becomes
// the next cursor.
func slicePage[T any](rows []T, pageSize int, key func(T) entities.Cursor) entities.Page[T] {
	page := entities.Page[T]{Items: rows}
	if len(rows) > pageSize {
		next := key(rows[pageSize]).Encode()
		page.Items = rows[:pageSize]
		page.HasMore = true
		page.NextCursor = &next
	}
	if page.Items == nil {
		page.Items = []T{}
	}
	return page
}

func chatKey(c entities.Chat) entities.Cursor {
	return entities.Cursor{At: c.LastActivityAt, ID: c.ID}
}

func messageKey(m entities.Message) entities.Cursor {
	return entities.Cursor{At: m.SendTimestamp, ID: m.ID}
}

// ListChats pages the chats of a connection owned by orgID.
func (p *Pagination) ListChats(ctx context.Context, orgID string, q PageQuery) (entities.Page[entities.Chat], error) {
	var empty entities.Page[entities.Chat]

	conn, err := p.connections.GetByID(ctx, q.ScopeID)
	if err != nil {
		return empty, fmt.Errorf("load connection: %w", err)
	}
	if conn == nil || conn.OrganizationID != orgID {
		return empty, entities.ErrNotFound
	}

	cursor, err := parseCursor(q.Cursor)
	if err != nil {
		return empty, err
	}
	size := clampPageSize(q.PageSize)

	if search := strings.TrimSpace(q.Search); search != "" {
		return p.searchChats(ctx, conn.ID, search, cursor, size)
	}

	rows, err := p.chats.ListByConnection(ctx, conn.ID, cursor, size+1)
	if err != nil {
		return empty, fmt.Errorf("list chats: %w", err)
	}
	return slicePage(rows, size, chatKey), nil
}

// searchChats unions the name and last message matches, each bounded by
// SearchCandidateLimit, then applies the cursor in memory.
func (p *Pagination) searchChats(ctx context.Context, connectionID, query string, cursor *entities.Cursor, size int) (entities.Page[entities.Chat], error) {
	var byName, byMessage []entities.Chat

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		byName, err = p.chats.SearchByClientName(gctx, connectionID, query, SearchCandidateLimit)
		return err
	})
	g.Go(func() error {
		var err error
		byMessage, err = p.chats.SearchByLastMessage(gctx, connectionID, query, SearchCandidateLimit)
		return err
	})
	if err := g.Wait(); err != nil {
		return entities.Page[entities.Chat]{}, fmt.Errorf("search chats: %w", err)
	}

	seen := make(map[string]struct{}, len(byName)+len(byMessage))
	merged := make([]entities.Chat, 0, len(byName)+len(byMessage))
	for _, set := range [][]entities.Chat{byName, byMessage} {
		for _, c := range set {
			if _, dup := seen[c.ID]; dup {
				continue
			}
			seen[c.ID] = struct{}{}
			merged = append(merged, c)
		}
	}
	sort.Slice(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		if !a.LastActivityAt.Equal(b.LastActivityAt) {
			return a.LastActivityAt.After(b.LastActivityAt)
		}
		return a.ID > b.ID
	})

	start := 0
	for start < len(merged) && !cursor.Admits(merged[start].LastActivityAt, merged[start].ID) {
		start++
	}
	rows := merged[start:]
	if len(rows) > size+1 {
		rows = rows[:size+1]
	}
	return slicePage(rows, size, chatKey), nil
}

// ListMessages pages the ledger of a chat owned by orgID.
func (p *Pagination) ListMessages(ctx context.Context, orgID string, q PageQuery) (entities.Page[entities.Message], error) {
	var empty entities.Page[entities.Message]

	chat, err := p.chats.GetByID(ctx, q.ScopeID)
	if err != nil {
		return empty, fmt.Errorf("load chat: %w", err)
	}
	if chat == nil || chat.OrganizationID != orgID {
		return empty, entities.ErrNotFound
	}

	cursor, err := parseCursor(q.Cursor)
	if err != nil {
		return empty, err
	}
	size := clampPageSize(q.PageSize)

	rows, err := p.messages.ListByChat(ctx, chat.ID, cursor, size+1)
	if err != nil {
		return empty, fmt.Errorf("list messages: %w", err)
	}
	return slicePage(rows, size, messageKey), nil
}
