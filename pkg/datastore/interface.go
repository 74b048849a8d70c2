package datastore

import (
	"github.com/NicolasHaas/pixelsync/pkg/model"
)

// DataStore is the chat journal the server appends relayed chat lines to.
// Implementations include the SQLite store in this package and the
// in-memory store in pkg/store.
type DataStore interface {
	ConfigReadProvider

	ChatReadProvider
	ChatWriteProvider
}

// Compile-time check: *SQLStore implements DataStore.
var _ DataStore = (*SQLStore)(nil)

type ConfigReadProvider interface {
	Close() error
}

type ChatReadProvider interface {
	// ListChat returns matching lines, newest first.
	ListChat(filters model.ChatFilters) ([]model.ChatLine, error)
	CountChat() (int64, error)
}

type ChatWriteProvider interface {
	// AppendChat validates and stores line, filling in ID and SentAt.
	AppendChat(line *model.ChatLine) error
	// PruneChat keeps the newest keep lines and returns how many were removed.
	PruneChat(keep int64) (int64, error)
}
