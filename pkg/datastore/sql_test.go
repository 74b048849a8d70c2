package datastore_test

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/NicolasHaas/pixelsync/pkg/datastore"
	"github.com/NicolasHaas/pixelsync/pkg/model"
)

func NewTestSqlConn(t *testing.T) (*datastore.SQLStore, string, error) {
	t.Helper()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	st, err := datastore.Open(dbPath)
	if err != nil {
		return nil, "", fmt.Errorf("datastore_test: failed to open db: %w", err)
	}

	t.Cleanup(func() {
		if err := st.Close(); err != nil {
			fmt.Printf("Error closing database: %v\n", err)
		}
	})

	return st, dbPath, nil
}

func TestReopenKeepsJournal(t *testing.T) {
	t.Parallel()

	st, dbPath, err := NewTestSqlConn(t)
	if err != nil {
		t.Fatalf("failed to open test connection: %v", err)
	}

	line := model.ChatLine{RoomID: "r1", SenderID: "s1", SenderName: "alice", Body: "persisted"}
	if err := st.AppendChat(&line); err != nil {
		t.Fatalf("AppendChat: unexpected error: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: unexpected error: %v", err)
	}

	// Migrations must be idempotent across reopen.
	reopened, err := datastore.Open(dbPath)
	if err != nil {
		t.Fatalf("Open: unexpected error on reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	got, err := reopened.ListChat(model.ChatFilters{})
	if err != nil {
		t.Fatalf("ListChat: unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Body != "persisted" || got[0].SenderName != "alice" {
		t.Fatalf("ListChat: unexpected lines after reopen: %+v", got)
	}

	var version int
	if err := reopened.DB.QueryRow("SELECT version FROM schema_migrations").Scan(&version); err != nil {
		t.Fatalf("schema version: %v", err)
	}
	if version != 2 {
		t.Fatalf("schema version: want=2 got=%d", version)
	}
}

func TestAppendChatRejectsInvalid(t *testing.T) {
	t.Parallel()

	st, _, err := NewTestSqlConn(t)
	if err != nil {
		t.Fatalf("failed to open test connection: %v", err)
	}

	line := model.ChatLine{SenderID: "s1", Body: " "}
	if err := st.AppendChat(&line); err == nil {
		t.Fatalf("AppendChat: expected validation error")
	}
	n, err := st.CountChat()
	if err != nil {
		t.Fatalf("CountChat: unexpected error: %v", err)
	}
	if n != 0 {
		t.Fatalf("CountChat: want=0 got=%d", n)
	}
}
