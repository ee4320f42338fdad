package importer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/gdy-git/ChatLab/internal/store"
)

func testMeta() ParseMeta {
	return ParseMeta{Name: "Weekend Group", Platform: "qq", Type: "group"}
}

type interval struct {
	Name    string
	StartTS int64
	EndTS   int64 // 0 = open
}

func readIntervals(t *testing.T, s *store.Store, platformID string) []interval {
	t.Helper()
	rows, err := s.DB.Query(`
		SELECT h.name, h.start_ts, COALESCE(h.end_ts, 0)
		FROM member_name_history h
		JOIN member m ON h.member_id = m.id
		WHERE m.platform_id = ?
		ORDER BY h.start_ts ASC
	`, platformID)
	if err != nil {
		t.Fatalf("query intervals: %v", err)
	}
	defer rows.Close()

	var out []interval
	for rows.Next() {
		var iv interval
		if err := rows.Scan(&iv.Name, &iv.StartTS, &iv.EndTS); err != nil {
			t.Fatalf("scan interval: %v", err)
		}
		out = append(out, iv)
	}
	return out
}

func memberName(t *testing.T, s *store.Store, platformID string) string {
	t.Helper()
	var name string
	if err := s.DB.QueryRow(`SELECT name FROM member WHERE platform_id = ?`, platformID).Scan(&name); err != nil {
		t.Fatalf("member name for %s: %v", platformID, err)
	}
	return name
}

func TestImportRoundTrip(t *testing.T) {
	mgr := store.NewManager(t.TempDir())

	pr := ParseResult{
		Meta: testMeta(),
		Members: []ParseMember{
			{PlatformID: "u1", Name: "Alice"},
			{PlatformID: "u2", Name: "Bob"},
			{PlatformID: "u3", Name: "Carol"},
		},
		Messages: []ParseMessage{
			{SenderPlatformID: "u1", SenderName: "Alice", Timestamp: 100, Type: store.MessageTypeText, Content: "hi"},
			{SenderPlatformID: "u2", SenderName: "Bob", Timestamp: 110, Type: store.MessageTypeText, Content: "hello"},
			{SenderPlatformID: "u1", SenderName: "Alice", Timestamp: 120, Type: 3, Content: ""},
		},
	}

	res, err := Import(context.Background(), mgr, pr)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.MessagesImported != 3 || res.MembersCreated != 3 {
		t.Fatalf("unexpected result: %+v", res)
	}

	s, err := mgr.Open(res.SessionID)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	var msgCount, memberCount int
	if err := s.DB.QueryRow(`SELECT COUNT(*) FROM message`).Scan(&msgCount); err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if err := s.DB.QueryRow(`SELECT COUNT(*) FROM member`).Scan(&memberCount); err != nil {
		t.Fatalf("count members: %v", err)
	}
	if msgCount != 3 || memberCount != 3 {
		t.Fatalf("got %d messages, %d members", msgCount, memberCount)
	}

	// Every message resolves to the member owning its platform id.
	var wrong int
	err = s.DB.QueryRow(`
		SELECT COUNT(*)
		FROM message msg
		JOIN member mb ON msg.sender_id = mb.id
		WHERE (msg.ts = 110) != (mb.platform_id = 'u2')
	`).Scan(&wrong)
	if err != nil {
		t.Fatalf("check senders: %v", err)
	}
	if wrong != 0 {
		t.Fatalf("%d messages resolved to the wrong sender", wrong)
	}

	var meta store.Meta
	err = s.DB.QueryRow(`SELECT name, platform, type, imported_at FROM meta`).
		Scan(&meta.Name, &meta.Platform, &meta.Type, &meta.ImportedAt)
	if err != nil {
		t.Fatalf("read meta: %v", err)
	}
	if meta.Name != "Weekend Group" || meta.Platform != "qq" || meta.ImportedAt == 0 {
		t.Fatalf("unexpected meta: %+v", meta)
	}
}

func TestNicknameTimeline(t *testing.T) {
	mgr := store.NewManager(t.TempDir())

	pr := ParseResult{
		Meta: testMeta(),
		Members: []ParseMember{
			{PlatformID: "x", Name: "Alice"},
			{PlatformID: "y", Name: "Bob"},
		},
		Messages: []ParseMessage{
			{SenderPlatformID: "x", SenderName: "Alice", Timestamp: 100, Type: store.MessageTypeText, Content: "a"},
			{SenderPlatformID: "y", SenderName: "Bob", Timestamp: 150, Type: store.MessageTypeText, Content: "b"},
			{SenderPlatformID: "x", SenderName: "Alicia", Timestamp: 200, Type: store.MessageTypeText, Content: "c"},
			{SenderPlatformID: "x", SenderName: "Alicia", Timestamp: 300, Type: store.MessageTypeText, Content: "d"},
		},
	}

	res, err := Import(context.Background(), mgr, pr)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	s, err := mgr.Open(res.SessionID)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	wantX := []interval{{"Alice", 100, 200}, {"Alicia", 200, 0}}
	if got := readIntervals(t, s, "x"); !reflect.DeepEqual(got, wantX) {
		t.Fatalf("x intervals = %+v, want %+v", got, wantX)
	}
	wantY := []interval{{"Bob", 150, 0}}
	if got := readIntervals(t, s, "y"); !reflect.DeepEqual(got, wantY) {
		t.Fatalf("y intervals = %+v, want %+v", got, wantY)
	}

	if name := memberName(t, s, "x"); name != "Alicia" {
		t.Fatalf("x final name = %q, want Alicia", name)
	}
	if name := memberName(t, s, "y"); name != "Bob" {
		t.Fatalf("y final name = %q, want Bob", name)
	}
}

// Importing any permutation of the same message set yields identical
// history, because the walk sorts by timestamp first.
func TestImportOrderIndependence(t *testing.T) {
	msgs := []ParseMessage{
		{SenderPlatformID: "x", SenderName: "One", Timestamp: 100, Type: store.MessageTypeText, Content: "1"},
		{SenderPlatformID: "x", SenderName: "Two", Timestamp: 200, Type: store.MessageTypeText, Content: "2"},
		{SenderPlatformID: "x", SenderName: "Three", Timestamp: 300, Type: store.MessageTypeText, Content: "3"},
	}
	perms := [][]ParseMessage{
		{msgs[0], msgs[1], msgs[2]},
		{msgs[2], msgs[0], msgs[1]},
		{msgs[1], msgs[2], msgs[0]},
	}

	want := []interval{{"One", 100, 200}, {"Two", 200, 300}, {"Three", 300, 0}}
	for i, perm := range perms {
		mgr := store.NewManager(t.TempDir())
		res, err := Import(context.Background(), mgr, ParseResult{
			Meta:     testMeta(),
			Members:  []ParseMember{{PlatformID: "x", Name: "One"}},
			Messages: perm,
		})
		if err != nil {
			t.Fatalf("perm %d: import: %v", i, err)
		}
		s, err := mgr.Open(res.SessionID)
		if err != nil {
			t.Fatalf("perm %d: open: %v", i, err)
		}
		got := readIntervals(t, s, "x")
		name := memberName(t, s, "x")
		s.Close()
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("perm %d: intervals = %+v, want %+v", i, got, want)
		}
		if name != "Three" {
			t.Fatalf("perm %d: final name = %q, want Three", i, name)
		}
	}
}

// Equal timestamps are tied-broken by original input order (the sort is
// stable), so swapping two tied messages changes which name wins. This
// is a documented dependency on source ordering, not an accident.
func TestImportTiedTimestampsFollowInputOrder(t *testing.T) {
	a := ParseMessage{SenderPlatformID: "x", SenderName: "First", Timestamp: 500, Type: store.MessageTypeText, Content: "a"}
	b := ParseMessage{SenderPlatformID: "x", SenderName: "Second", Timestamp: 500, Type: store.MessageTypeText, Content: "b"}

	finalName := func(order []ParseMessage) string {
		mgr := store.NewManager(t.TempDir())
		res, err := Import(context.Background(), mgr, ParseResult{
			Meta:     testMeta(),
			Members:  []ParseMember{{PlatformID: "x", Name: "First"}},
			Messages: order,
		})
		if err != nil {
			t.Fatalf("import: %v", err)
		}
		s, err := mgr.Open(res.SessionID)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		defer s.Close()
		return memberName(t, s, "x")
	}

	if got := finalName([]ParseMessage{a, b}); got != "Second" {
		t.Fatalf("a,b final name = %q, want Second", got)
	}
	if got := finalName([]ParseMessage{b, a}); got != "First" {
		t.Fatalf("b,a final name = %q, want First", got)
	}
}

func TestImportSkipsUnknownSenders(t *testing.T) {
	mgr := store.NewManager(t.TempDir())

	res, err := Import(context.Background(), mgr, ParseResult{
		Meta:    testMeta(),
		Members: []ParseMember{{PlatformID: "known", Name: "K"}},
		Messages: []ParseMessage{
			{SenderPlatformID: "known", SenderName: "K", Timestamp: 10, Type: store.MessageTypeText, Content: "in"},
			{SenderPlatformID: "ghost", SenderName: "G", Timestamp: 20, Type: store.MessageTypeText, Content: "out"},
		},
	})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.MessagesImported != 1 || res.MessagesSkipped != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestImportSilentMemberKeepsInitialName(t *testing.T) {
	mgr := store.NewManager(t.TempDir())

	res, err := Import(context.Background(), mgr, ParseResult{
		Meta: testMeta(),
		Members: []ParseMember{
			{PlatformID: "quiet", Name: "Lurker"},
			{PlatformID: "loud", Name: "Talker"},
		},
		Messages: []ParseMessage{
			{SenderPlatformID: "loud", SenderName: "Talker", Timestamp: 10, Type: store.MessageTypeText, Content: "hi"},
		},
	})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	s, err := mgr.Open(res.SessionID)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	if name := memberName(t, s, "quiet"); name != "Lurker" {
		t.Fatalf("quiet member name = %q, want Lurker", name)
	}
	if ivs := readIntervals(t, s, "quiet"); len(ivs) != 0 {
		t.Fatalf("quiet member has %d history intervals, want 0", len(ivs))
	}
}

func TestImportEmptyContentIsInserted(t *testing.T) {
	mgr := store.NewManager(t.TempDir())

	res, err := Import(context.Background(), mgr, ParseResult{
		Meta:    testMeta(),
		Members: []ParseMember{{PlatformID: "u", Name: "U"}},
		Messages: []ParseMessage{
			{SenderPlatformID: "u", SenderName: "U", Timestamp: 10, Type: 3, Content: ""},
		},
	})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.MessagesImported != 1 {
		t.Fatalf("empty-content message was not imported: %+v", res)
	}
}

func TestImportRollbackLeavesNoFile(t *testing.T) {
	dir := t.TempDir()
	mgr := store.NewManager(dir)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Import(ctx, mgr, ParseResult{
		Meta:    testMeta(),
		Members: []ParseMember{{PlatformID: "u", Name: "U"}},
	})
	if err == nil {
		t.Fatal("expected import to fail with canceled context")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".db" {
			t.Fatalf("failed import left session file %s behind", e.Name())
		}
	}
}

func TestImportStoreCreationFailure(t *testing.T) {
	// A plain file where the sessions directory should be makes
	// MkdirAll fail.
	base := t.TempDir()
	blocked := filepath.Join(base, "not-a-dir")
	if err := os.WriteFile(blocked, []byte("x"), 0644); err != nil {
		t.Fatalf("setup: %v", err)
	}
	mgr := store.NewManager(blocked)

	_, err := Import(context.Background(), mgr, ParseResult{Meta: testMeta()})
	if !errors.Is(err, ErrStoreCreation) {
		t.Fatalf("err = %v, want ErrStoreCreation", err)
	}
}
