package importer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/gdy-git/ChatLab/internal/store"
)

// ErrStoreCreation wraps a failure to allocate the session database.
// No partial file is left behind when it is returned.
var ErrStoreCreation = errors.New("failed to create session store")

// ParseResult is the normalized transcript handed over by the
// platform-specific parsers. SenderName rides on each message because
// nickname-history reconstruction needs the display name in effect at
// send time, not just the stable platform id.
type ParseResult struct {
	Meta     ParseMeta      `json:"meta"`
	Members  []ParseMember  `json:"members"`
	Messages []ParseMessage `json:"messages"`
}

type ParseMeta struct {
	Name     string `json:"name"`
	Platform string `json:"platform"`
	Type     string `json:"type"`
}

type ParseMember struct {
	PlatformID string `json:"platform_id"`
	Name       string `json:"name"`
}

type ParseMessage struct {
	SenderPlatformID string `json:"sender_platform_id"`
	SenderName       string `json:"sender_name"`
	Timestamp        int64  `json:"timestamp"`
	Type             int    `json:"type"`
	Content          string `json:"content"`
}

// Result reports what a completed import wrote.
type Result struct {
	SessionID        string        `json:"session_id"`
	MembersCreated   int           `json:"members_created"`
	MessagesImported int           `json:"messages_imported"`
	MessagesSkipped  int           `json:"messages_skipped"`
	Duration         time.Duration `json:"duration"`
}

// Import creates a brand-new session and populates it from pr as one
// atomic unit: either every member, history interval, and message is
// durably present, or the session file does not exist at all. A message
// whose sender platform id is not in the member list is skipped, not an
// error.
func Import(ctx context.Context, mgr *store.Manager, pr ParseResult) (Result, error) {
	start := time.Now()
	var out Result

	sessionID := store.GenerateSessionID()
	s, err := mgr.Create(sessionID)
	if err != nil {
		return out, fmt.Errorf("%w: %w", ErrStoreCreation, err)
	}

	if err := runImport(ctx, s.DB, pr, &out); err != nil {
		s.Close()
		// The session id is discarded; remove the empty file and any
		// WAL side files so no readable inconsistent state remains.
		mgr.Delete(sessionID)
		return Result{}, err
	}

	if err := s.Close(); err != nil {
		mgr.Delete(sessionID)
		return Result{}, fmt.Errorf("failed to close session after import: %w", err)
	}

	out.SessionID = sessionID
	out.Duration = time.Since(start)
	return out, nil
}

func runImport(ctx context.Context, db *sql.DB, pr ParseResult, out *Result) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin import tx: %w", err)
	}
	if err := importTx(ctx, tx, pr, out); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit import: %w", err)
	}
	return nil
}

// nameTracker follows one sender's nickname through the message walk.
// intervalID is the currently-open member_name_history row.
type nameTracker struct {
	currentName string
	lastSeenTS  int64
	intervalID  int64
}

func importTx(ctx context.Context, tx *sql.Tx, pr ParseResult, out *Result) error {
	now := time.Now().Unix()
	_, err := tx.ExecContext(ctx, `
		INSERT INTO meta (name, platform, type, imported_at)
		VALUES (?, ?, ?, ?)
	`, pr.Meta.Name, pr.Meta.Platform, pr.Meta.Type, now)
	if err != nil {
		return fmt.Errorf("failed to insert meta: %w", err)
	}

	insMember, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO member (platform_id, name) VALUES (?, ?)
	`)
	if err != nil {
		return err
	}
	selMember, err := tx.PrepareContext(ctx, `
		SELECT id FROM member WHERE platform_id = ?
	`)
	if err != nil {
		return err
	}
	insInterval, err := tx.PrepareContext(ctx, `
		INSERT INTO member_name_history (member_id, name, start_ts, end_ts)
		VALUES (?, ?, ?, NULL)
	`)
	if err != nil {
		return err
	}
	closeInterval, err := tx.PrepareContext(ctx, `
		UPDATE member_name_history SET end_ts = ? WHERE id = ?
	`)
	if err != nil {
		return err
	}
	insMessage, err := tx.PrepareContext(ctx, `
		INSERT INTO message (sender_id, ts, type, content) VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	updName, err := tx.PrepareContext(ctx, `
		UPDATE member SET name = ? WHERE id = ?
	`)
	if err != nil {
		return err
	}

	// Members are allocated once, then referenced only through this map.
	memberIDs := make(map[string]int64, len(pr.Members))
	for _, m := range pr.Members {
		if _, ok := memberIDs[m.PlatformID]; ok {
			continue
		}
		res, err := insMember.ExecContext(ctx, m.PlatformID, m.Name)
		if err != nil {
			return fmt.Errorf("failed to insert member %s: %w", m.PlatformID, err)
		}
		var id int64
		if n, _ := res.RowsAffected(); n == 1 {
			if id, err = res.LastInsertId(); err != nil {
				return fmt.Errorf("failed to resolve member id: %w", err)
			}
			out.MembersCreated++
		} else {
			if err := selMember.QueryRowContext(ctx, m.PlatformID).Scan(&id); err != nil {
				return fmt.Errorf("failed to look up member %s: %w", m.PlatformID, err)
			}
		}
		memberIDs[m.PlatformID] = id
	}

	// Nickname history is causal in message time, not source-file order.
	// The sort is stable: messages with equal timestamps keep their
	// original relative order, and that order decides the tie-break.
	msgs := make([]ParseMessage, len(pr.Messages))
	copy(msgs, pr.Messages)
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp < msgs[j].Timestamp
	})

	trackers := make(map[string]*nameTracker, len(memberIDs))
	for _, msg := range msgs {
		memberID, ok := memberIDs[msg.SenderPlatformID]
		if !ok {
			out.MessagesSkipped++
			continue
		}

		tr := trackers[msg.SenderPlatformID]
		switch {
		case tr == nil:
			// First sighting: open this sender's initial interval.
			res, err := insInterval.ExecContext(ctx, memberID, msg.SenderName, msg.Timestamp)
			if err != nil {
				return fmt.Errorf("failed to open name interval: %w", err)
			}
			intervalID, err := res.LastInsertId()
			if err != nil {
				return fmt.Errorf("failed to resolve interval id: %w", err)
			}
			trackers[msg.SenderPlatformID] = &nameTracker{
				currentName: msg.SenderName,
				lastSeenTS:  msg.Timestamp,
				intervalID:  intervalID,
			}
		case msg.SenderName != tr.currentName:
			// Nickname changed: close the open interval at this
			// message's timestamp and open the next one there.
			if _, err := closeInterval.ExecContext(ctx, msg.Timestamp, tr.intervalID); err != nil {
				return fmt.Errorf("failed to close name interval: %w", err)
			}
			res, err := insInterval.ExecContext(ctx, memberID, msg.SenderName, msg.Timestamp)
			if err != nil {
				return fmt.Errorf("failed to open name interval: %w", err)
			}
			intervalID, err := res.LastInsertId()
			if err != nil {
				return fmt.Errorf("failed to resolve interval id: %w", err)
			}
			tr.currentName = msg.SenderName
			tr.lastSeenTS = msg.Timestamp
			tr.intervalID = intervalID
		default:
			tr.lastSeenTS = msg.Timestamp
		}

		// Empty content is stored as-is; emptiness is a query-time
		// filter, not an import-time rejection.
		if _, err := insMessage.ExecContext(ctx, memberID, msg.Timestamp, msg.Type, msg.Content); err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
		out.MessagesImported++
	}

	// A member's durable name is its most recently observed nickname.
	// Members that never sent a message keep their initial name.
	for platformID, tr := range trackers {
		if _, err := updName.ExecContext(ctx, tr.currentName, memberIDs[platformID]); err != nil {
			return fmt.Errorf("failed to update member name: %w", err)
		}
	}

	return nil
}
