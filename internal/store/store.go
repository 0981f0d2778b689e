// Package store defines the persistence interface for the trade journal.
// Implementations include PostgreSQL, SQLite, in-memory (for testing and
// local runs) and a Redis read-through cache wrapper.
//
// The journal is append-only and audit-only: the simulator never rebuilds
// its state from it.
package store

import (
	"context"
	"errors"

	"github.com/atmx/papertrade/internal/model"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface.
type Store interface {
	// --- Sessions ---

	// CreateSession registers a simulator run.
	CreateSession(ctx context.Context, session *model.Session) error

	// GetSession retrieves a session by its ID.
	GetSession(ctx context.Context, id string) (*model.Session, error)

	// --- Immutable ledger ---

	// InsertLedgerEntry appends an immutable trade record.
	InsertLedgerEntry(ctx context.Context, entry *model.LedgerEntry) error

	// GetLedgerEntriesBySession returns all entries for a session in
	// insertion order.
	GetLedgerEntriesBySession(ctx context.Context, sessionID string) ([]model.LedgerEntry, error)

	// GetLedgerEntriesByTicker returns a session's entries for one ticker.
	GetLedgerEntriesByTicker(ctx context.Context, sessionID, ticker string) ([]model.LedgerEntry, error)
}
