// Package testutil holds shared helpers for engine tests.
package testutil

import (
	"context"
	"testing"

	"github.com/gdy-git/ChatLab/internal/importer"
	"github.com/gdy-git/ChatLab/internal/store"
)

// NewManager returns a session manager rooted in a per-test temp dir.
func NewManager(t *testing.T) *store.Manager {
	t.Helper()
	return store.NewManager(t.TempDir())
}

// SeedSession imports pr into a fresh session and returns an open
// read handle plus the session id. The handle is closed on cleanup.
func SeedSession(t *testing.T, mgr *store.Manager, pr importer.ParseResult) (*store.Store, string) {
	t.Helper()

	res, err := importer.Import(context.Background(), mgr, pr)
	if err != nil {
		t.Fatalf("import fixture: %v", err)
	}
	s, err := mgr.Open(res.SessionID)
	if err != nil {
		t.Fatalf("open session %s: %v", res.SessionID, err)
	}
	t.Cleanup(func() { s.Close() })
	return s, res.SessionID
}
