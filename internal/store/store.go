package store

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

var (
	// ErrSessionExists is returned by Create when a database file for the
	// session id already exists.
	ErrSessionExists = errors.New("session already exists")
	// ErrSessionNotFound is returned by Open when no database file exists
	// for the session id.
	ErrSessionNotFound = errors.New("session not found")
)

// sideSuffixes are the WAL side files SQLite keeps next to the database.
// They must be deleted together with the primary file.
var sideSuffixes = []string{"-wal", "-shm"}

// Manager owns the directory of per-session database files.
type Manager struct {
	Dir string
}

// NewManager returns a Manager rooted at dir.
func NewManager(dir string) *Manager {
	return &Manager{Dir: dir}
}

// Store is an open handle to one session database.
type Store struct {
	DB   *sql.DB
	Path string
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.DB.Close()
}

// GenerateSessionID returns a new process-unique session identifier:
// import wall-clock millis plus a random suffix.
func GenerateSessionID() string {
	return fmt.Sprintf("%d_%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}

func (m *Manager) dbPath(sessionID string) string {
	return filepath.Join(m.Dir, sessionID+".db")
}

// openDB opens a SQLite database with the pragmas every handle needs.
// WAL allows concurrent readers while a writer is active.
// busy_timeout reduces SQLITE_BUSY errors under contention.
func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	return db, nil
}

// Create allocates a fresh session database, applies the schema, and
// returns a writable handle. Fails with ErrSessionExists if a file for
// this id is already present.
func (m *Manager) Create(sessionID string) (*Store, error) {
	if err := os.MkdirAll(m.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}

	path := m.dbPath(sessionID)
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrSessionExists)
	}

	db, err := openDB(path)
	if err != nil {
		os.Remove(path)
		return nil, err
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{DB: db, Path: path}, nil
}

// Open opens an existing session database for read-mostly access. A file
// mid-write under WAL still opens; readers observe the latest committed
// state.
func (m *Manager) Open(sessionID string) (*Store, error) {
	path := m.dbPath(sessionID)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
		}
		return nil, fmt.Errorf("failed to stat session %s: %w", sessionID, err)
	}

	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	return &Store{DB: db, Path: path}, nil
}

// Delete removes the session database and its WAL side files. Returns
// false (not an error) when the primary file was already absent.
func (m *Manager) Delete(sessionID string) (bool, error) {
	path := m.dbPath(sessionID)

	err := os.Remove(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to delete session %s: %w", sessionID, err)
	}

	for _, suffix := range sideSuffixes {
		if err := os.Remove(path + suffix); err != nil && !os.IsNotExist(err) {
			return true, fmt.Errorf("failed to delete side file %s%s: %w", sessionID, suffix, err)
		}
	}
	return true, nil
}

// ListSessions enumerates every session database in the directory,
// sorted by import time descending. Message and member counts exclude
// the reserved system sender. A file that cannot be opened or lacks a
// meta row is skipped so one corrupt session cannot block the rest.
func (m *Manager) ListSessions(systemSender string) ([]SessionSummary, error) {
	entries, err := os.ReadDir(m.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []SessionSummary{}, nil
		}
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	summaries := make([]SessionSummary, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".db") {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".db")
		summary, err := m.readSummary(id, systemSender)
		if err != nil {
			// Corrupt or half-deleted session: skip, don't fail the listing.
			continue
		}
		summaries = append(summaries, summary)
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].ImportedAt > summaries[j].ImportedAt
	})
	return summaries, nil
}

func (m *Manager) readSummary(sessionID, systemSender string) (SessionSummary, error) {
	s, err := m.Open(sessionID)
	if err != nil {
		return SessionSummary{}, err
	}
	defer s.Close()

	summary := SessionSummary{ID: sessionID}
	err = s.DB.QueryRow(`SELECT name, platform, type, imported_at FROM meta`).
		Scan(&summary.Name, &summary.Platform, &summary.Type, &summary.ImportedAt)
	if err != nil {
		return SessionSummary{}, fmt.Errorf("failed to read meta for %s: %w", sessionID, err)
	}

	err = s.DB.QueryRow(`
		SELECT COUNT(*)
		FROM message msg
		JOIN member mb ON msg.sender_id = mb.id
		WHERE mb.name != ?
	`, systemSender).Scan(&summary.MessageCount)
	if err != nil {
		return SessionSummary{}, fmt.Errorf("failed to count messages for %s: %w", sessionID, err)
	}

	err = s.DB.QueryRow(`SELECT COUNT(*) FROM member WHERE name != ?`, systemSender).
		Scan(&summary.MemberCount)
	if err != nil {
		return SessionSummary{}, fmt.Errorf("failed to count members for %s: %w", sessionID, err)
	}

	return summary, nil
}
