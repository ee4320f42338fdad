package store

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGenerateSessionID(t *testing.T) {
	a := GenerateSessionID()
	b := GenerateSessionID()
	if a == b {
		t.Fatalf("generated duplicate session ids: %s", a)
	}
	if !strings.Contains(a, "_") {
		t.Fatalf("session id %q lacks timestamp_suffix shape", a)
	}
}

func TestCreateAppliesSchema(t *testing.T) {
	mgr := NewManager(t.TempDir())

	s, err := mgr.Create("sess1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer s.Close()

	for _, table := range []string{"meta", "member", "member_name_history", "message"} {
		var name string
		err := s.DB.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		if err != nil {
			t.Fatalf("table %s missing: %v", table, err)
		}
	}

	var mode string
	if err := s.DB.QueryRow(`PRAGMA journal_mode`).Scan(&mode); err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Fatalf("journal_mode = %q, want wal", mode)
	}
}

func TestCreateExistingFails(t *testing.T) {
	mgr := NewManager(t.TempDir())

	s, err := mgr.Create("dup")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	s.Close()

	if _, err := mgr.Create("dup"); !errors.Is(err, ErrSessionExists) {
		t.Fatalf("err = %v, want ErrSessionExists", err)
	}
}

func TestOpenMissing(t *testing.T) {
	mgr := NewManager(t.TempDir())
	if _, err := mgr.Open("nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestDeleteRemovesSideFiles(t *testing.T) {
	dir := t.TempDir()
	mgr := NewManager(dir)

	s, err := mgr.Create("gone")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	s.Close()

	// Plant side files; a fresh store may not have them on disk.
	for _, suffix := range []string{"-wal", "-shm"} {
		path := filepath.Join(dir, "gone.db"+suffix)
		if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
			t.Fatalf("plant %s: %v", suffix, err)
		}
	}

	removed, err := mgr.Delete("gone")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !removed {
		t.Fatal("delete reported false for existing session")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "gone.db") {
			t.Fatalf("leftover file %s", e.Name())
		}
	}

	// Second delete is idempotent: false, no error.
	removed, err = mgr.Delete("gone")
	if err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if removed {
		t.Fatal("second delete reported true")
	}
}

func seedSession(t *testing.T, mgr *Manager, id, name string, importedAt int64, senders map[string]int) {
	t.Helper()
	s, err := mgr.Create(id)
	if err != nil {
		t.Fatalf("create %s: %v", id, err)
	}
	defer s.Close()

	if _, err := s.DB.Exec(`INSERT INTO meta (name, platform, type, imported_at) VALUES (?, 'qq', 'group', ?)`, name, importedAt); err != nil {
		t.Fatalf("insert meta: %v", err)
	}
	ts := int64(1000)
	for sender, n := range senders {
		res, err := s.DB.Exec(`INSERT INTO member (platform_id, name) VALUES (?, ?)`, sender, sender)
		if err != nil {
			t.Fatalf("insert member: %v", err)
		}
		memberID, _ := res.LastInsertId()
		for i := 0; i < n; i++ {
			ts++
			if _, err := s.DB.Exec(`INSERT INTO message (sender_id, ts, type, content) VALUES (?, ?, 1, 'x')`, memberID, ts); err != nil {
				t.Fatalf("insert message: %v", err)
			}
		}
	}
}

func TestListSessions(t *testing.T) {
	dir := t.TempDir()
	mgr := NewManager(dir)

	seedSession(t, mgr, "older", "First", 100, map[string]int{"alice": 2, "系统消息": 5})
	seedSession(t, mgr, "newer", "Second", 200, map[string]int{"bob": 3})

	// A corrupt session must be skipped, not break the listing.
	if err := os.WriteFile(filepath.Join(dir, "corrupt.db"), []byte("not sqlite"), 0644); err != nil {
		t.Fatalf("plant corrupt file: %v", err)
	}
	// A valid database without a meta row is skipped too.
	s, err := mgr.Create("empty")
	if err != nil {
		t.Fatalf("create empty: %v", err)
	}
	s.Close()

	summaries, err := mgr.ListSessions("系统消息")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("got %d summaries, want 2: %+v", len(summaries), summaries)
	}
	if summaries[0].ID != "newer" || summaries[1].ID != "older" {
		t.Fatalf("wrong order: %s, %s", summaries[0].ID, summaries[1].ID)
	}

	older := summaries[1]
	if older.Name != "First" {
		t.Fatalf("older name = %q", older.Name)
	}
	// System-sender rows are excluded from both counts.
	if older.MessageCount != 2 || older.MemberCount != 1 {
		t.Fatalf("older counts = %d msgs, %d members; want 2, 1", older.MessageCount, older.MemberCount)
	}
}

func TestListSessionsEmptyDir(t *testing.T) {
	mgr := NewManager(filepath.Join(t.TempDir(), "never-created"))
	summaries, err := mgr.ListSessions("系统消息")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(summaries) != 0 {
		t.Fatalf("got %d summaries from missing dir", len(summaries))
	}
}
