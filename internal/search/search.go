// Package search implements keyword search and message navigation over
// one session store: recent windows, paginated keyword search, id-based
// context neighborhoods, two-party conversation extraction, and
// bidirectional cursor pagination.
package search

import (
	"database/sql"
	"fmt"
	"sort"

	"github.com/gdy-git/ChatLab/internal/query"
	"github.com/gdy-git/ChatLab/internal/store"
)

const defaultLimit = 50

type Engine struct {
	db           *sql.DB
	systemSender string
}

func NewEngine(db *sql.DB, systemSender string) *Engine {
	return &Engine{db: db, systemSender: systemSender}
}

// Page is a window of messages plus the unpaginated match count.
type Page struct {
	Messages []store.Message `json:"messages"`
	Total    int             `json:"total"`
}

// IDPage is one page of id-axis pagination. HasMore reports whether
// messages remain beyond the returned page on that side.
type IDPage struct {
	Messages []store.Message `json:"messages"`
	HasMore  bool            `json:"has_more"`
}

// Conversation is the exchange between two members, with their current
// display names resolved.
type Conversation struct {
	Messages []store.Message `json:"messages"`
	Total    int             `json:"total"`
	NameA    string          `json:"name_a"`
	NameB    string          `json:"name_b"`
}

const selectMessage = `
	SELECT msg.id, msg.sender_id, mb.name, msg.ts, msg.type, msg.content
	FROM message msg
	JOIN member mb ON msg.sender_id = mb.id
`

// displayFilter is the shared message-list view filter: plain text,
// non-empty content, non-system sender.
func (e *Engine) displayFilter(f query.TimeFilter) *query.Builder {
	b := &query.Builder{}
	return b.Where("msg.type = ?", store.MessageTypeText).
		Where("msg.content IS NOT NULL AND msg.content != ''").
		Where("mb.name != ?", e.systemSender).
		TimeRange("msg.ts", f)
}

func scanMessages(rows *sql.Rows) ([]store.Message, error) {
	msgs := make([]store.Message, 0)
	for rows.Next() {
		var m store.Message
		var content sql.NullString
		if err := rows.Scan(&m.ID, &m.SenderID, &m.SenderName, &m.TS, &m.Type, &content); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Content = content.String
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func reverseMessages(msgs []store.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}

func (e *Engine) countWhere(where string, args []any) (int, error) {
	var total int
	err := e.db.QueryRow(`
		SELECT COUNT(*)
		FROM message msg
		JOIN member mb ON msg.sender_id = mb.id
	`+where, args...).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return total, nil
}

// RecentMessages returns the most recent window of displayable messages
// within the filter, in chronological order. Total counts every match
// regardless of limit.
func (e *Engine) RecentMessages(f query.TimeFilter, limit int) (Page, error) {
	if limit <= 0 {
		limit = defaultLimit
	}

	where, args := e.displayFilter(f).Clause()
	total, err := e.countWhere(where, args)
	if err != nil {
		return Page{}, err
	}

	where, args = e.displayFilter(f).Clause()
	rows, err := e.db.Query(selectMessage+where+`
		ORDER BY msg.ts DESC, msg.id DESC
		LIMIT ?
	`, append(args, limit)...)
	if err != nil {
		return Page{}, fmt.Errorf("failed to query recent messages: %w", err)
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return Page{}, err
	}
	// Selected newest-first, displayed oldest-first.
	reverseMessages(msgs)
	return Page{Messages: msgs, Total: total}, nil
}

// SearchMessages runs an OR-combined substring search over content,
// newest first, paginated by limit/offset. An empty keyword list
// matches everything. senderID, when non-nil, restricts to one member.
func (e *Engine) SearchMessages(keywords []string, f query.TimeFilter, limit, offset int, senderID *int64) (Page, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if offset < 0 {
		offset = 0
	}

	build := func() *query.Builder {
		b := e.displayFilter(f).AnyLike("msg.content", keywords)
		if senderID != nil {
			b.Where("msg.sender_id = ?", *senderID)
		}
		return b
	}

	where, args := build().Clause()
	total, err := e.countWhere(where, args)
	if err != nil {
		return Page{}, err
	}

	where, args = build().Clause()
	rows, err := e.db.Query(selectMessage+where+`
		ORDER BY msg.ts DESC, msg.id DESC
		LIMIT ? OFFSET ?
	`, append(args, limit, offset)...)
	if err != nil {
		return Page{}, fmt.Errorf("failed to search messages: %w", err)
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return Page{}, err
	}
	return Page{Messages: msgs, Total: total}, nil
}

// MessageContext returns the structural neighborhood of one or more
// target ids: each target plus the contextSize messages on either side
// of it by id, deduplicated across targets and sorted ascending by id.
// No content, type, or sender filtering applies here; ids adjacent in
// insertion order stay adjacent even when timestamps collide.
func (e *Engine) MessageContext(messageIDs []int64, contextSize int) ([]store.Message, error) {
	if contextSize < 0 {
		contextSize = 0
	}

	found := make(map[int64]store.Message)
	collect := func(q string, args ...any) error {
		rows, err := e.db.Query(q, args...)
		if err != nil {
			return fmt.Errorf("failed to query context: %w", err)
		}
		defer rows.Close()
		msgs, err := scanMessages(rows)
		if err != nil {
			return err
		}
		for _, m := range msgs {
			found[m.ID] = m
		}
		return nil
	}

	for _, id := range messageIDs {
		if err := collect(selectMessage+` WHERE msg.id = ?`, id); err != nil {
			return nil, err
		}
		if contextSize == 0 {
			continue
		}
		if err := collect(selectMessage+` WHERE msg.id < ? ORDER BY msg.id DESC LIMIT ?`, id, contextSize); err != nil {
			return nil, err
		}
		if err := collect(selectMessage+` WHERE msg.id > ? ORDER BY msg.id ASC LIMIT ?`, id, contextSize); err != nil {
			return nil, err
		}
	}

	result := make([]store.Message, 0, len(found))
	for _, m := range found {
		result = append(result, m)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// ConversationBetween extracts all non-empty messages either of the two
// members sent within the filter, in chronological order, and resolves
// both current names. A missing member yields an empty result, not an
// error.
func (e *Engine) ConversationBetween(memberA, memberB int64, f query.TimeFilter, limit int) (Conversation, error) {
	if limit <= 0 {
		limit = defaultLimit
	}

	var nameA, nameB string
	if err := e.db.QueryRow(`SELECT name FROM member WHERE id = ?`, memberA).Scan(&nameA); err != nil {
		if err == sql.ErrNoRows {
			return Conversation{Messages: []store.Message{}}, nil
		}
		return Conversation{}, fmt.Errorf("failed to look up member %d: %w", memberA, err)
	}
	if err := e.db.QueryRow(`SELECT name FROM member WHERE id = ?`, memberB).Scan(&nameB); err != nil {
		if err == sql.ErrNoRows {
			return Conversation{Messages: []store.Message{}}, nil
		}
		return Conversation{}, fmt.Errorf("failed to look up member %d: %w", memberB, err)
	}

	build := func() *query.Builder {
		b := &query.Builder{}
		return b.Where("msg.sender_id IN (?, ?)", memberA, memberB).
			Where("msg.content IS NOT NULL AND msg.content != ''").
			TimeRange("msg.ts", f)
	}

	where, args := build().Clause()
	total, err := e.countWhere(where, args)
	if err != nil {
		return Conversation{}, err
	}

	where, args = build().Clause()
	rows, err := e.db.Query(selectMessage+where+`
		ORDER BY msg.ts DESC, msg.id DESC
		LIMIT ?
	`, append(args, limit)...)
	if err != nil {
		return Conversation{}, fmt.Errorf("failed to query conversation: %w", err)
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return Conversation{}, err
	}
	reverseMessages(msgs)
	return Conversation{Messages: msgs, Total: total, NameA: nameA, NameB: nameB}, nil
}

// MessagesBefore pages backwards from messageID: the limit displayable
// messages with the largest ids below it, in ascending id order.
func (e *Engine) MessagesBefore(messageID int64, limit int) (IDPage, error) {
	if limit <= 0 {
		limit = defaultLimit
	}

	where, args := e.displayFilter(query.TimeFilter{}).Where("msg.id < ?", messageID).Clause()
	// Fetch one extra row to learn whether more remain.
	rows, err := e.db.Query(selectMessage+where+`
		ORDER BY msg.id DESC
		LIMIT ?
	`, append(args, limit+1)...)
	if err != nil {
		return IDPage{}, fmt.Errorf("failed to query messages before %d: %w", messageID, err)
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return IDPage{}, err
	}
	hasMore := len(msgs) > limit
	if hasMore {
		msgs = msgs[:limit]
	}
	reverseMessages(msgs)
	return IDPage{Messages: msgs, HasMore: hasMore}, nil
}

// MessagesAfter pages forwards from messageID: the limit displayable
// messages with the smallest ids above it, in ascending id order.
func (e *Engine) MessagesAfter(messageID int64, limit int) (IDPage, error) {
	if limit <= 0 {
		limit = defaultLimit
	}

	where, args := e.displayFilter(query.TimeFilter{}).Where("msg.id > ?", messageID).Clause()
	rows, err := e.db.Query(selectMessage+where+`
		ORDER BY msg.id ASC
		LIMIT ?
	`, append(args, limit+1)...)
	if err != nil {
		return IDPage{}, fmt.Errorf("failed to query messages after %d: %w", messageID, err)
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return IDPage{}, err
	}
	hasMore := len(msgs) > limit
	if hasMore {
		msgs = msgs[:limit]
	}
	return IDPage{Messages: msgs, HasMore: hasMore}, nil
}
