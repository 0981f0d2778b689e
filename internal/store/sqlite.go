package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/papertrade/internal/model"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PostgresStore)(nil)
	_ Store = (*CachedStore)(nil)
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id            TEXT PRIMARY KEY,
	trader        TEXT NOT NULL,
	starting_cash TEXT NOT NULL,
	seed          TEXT NOT NULL,
	created_at    INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS ledger_entries (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT NOT NULL UNIQUE,
	session_id TEXT NOT NULL REFERENCES sessions(id),
	tick       INTEGER NOT NULL,
	kind       TEXT NOT NULL,
	holding_id TEXT NOT NULL,
	ticker     TEXT NOT NULL,
	shares     INTEGER NOT NULL,
	price      TEXT NOT NULL,
	cash_delta TEXT NOT NULL,
	profit     TEXT NOT NULL,
	timestamp  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS ledger_entries_session_ticker ON ledger_entries (session_id, ticker);
`

// SQLiteStore implements Store backed by an embedded SQLite database.
// Decimals are stored as text and timestamps as Unix nanoseconds (UTC).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and creates
// the journal tables.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// A single connection keeps ":memory:" databases coherent.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateSession(ctx context.Context, m *model.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, trader, starting_cash, seed, created_at) VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.Trader, m.StartingCash.String(), strconv.FormatUint(m.Seed, 10), m.CreatedAt.UnixNano(),
	)
	return err
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	var m model.Session
	var cash, seed string
	var created int64

	err := s.db.QueryRowContext(ctx,
		`SELECT id, trader, starting_cash, seed, created_at FROM sessions WHERE id = ?`, id).
		Scan(&m.ID, &m.Trader, &cash, &seed, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: session %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}

	m.StartingCash, _ = decimal.NewFromString(cash)
	m.Seed, _ = strconv.ParseUint(seed, 10, 64)
	m.CreatedAt = time.Unix(0, created).UTC()
	return &m, nil
}

func (s *SQLiteStore) InsertLedgerEntry(ctx context.Context, e *model.LedgerEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ledger_entries (id, session_id, tick, kind, holding_id, ticker, shares, price, cash_delta, profit, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.SessionID, e.Tick, e.Kind, e.HoldingID, e.Ticker, e.Shares,
		e.Price.String(), e.CashDelta.String(), e.Profit.String(),
		e.Timestamp.UnixNano(),
	)
	return err
}

func (s *SQLiteStore) GetLedgerEntriesBySession(ctx context.Context, sessionID string) ([]model.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, tick, kind, holding_id, ticker, shares, price, cash_delta, profit, timestamp
		 FROM ledger_entries WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSQLiteLedger(rows)
}

func (s *SQLiteStore) GetLedgerEntriesByTicker(ctx context.Context, sessionID, ticker string) ([]model.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, tick, kind, holding_id, ticker, shares, price, cash_delta, profit, timestamp
		 FROM ledger_entries WHERE session_id = ? AND ticker = ? ORDER BY seq`, sessionID, ticker)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSQLiteLedger(rows)
}

func scanSQLiteLedger(rows rowScanner) ([]model.LedgerEntry, error) {
	var entries []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		var priceS, deltaS, profitS string
		var ts int64

		if err := rows.Scan(&e.ID, &e.SessionID, &e.Tick, &e.Kind, &e.HoldingID, &e.Ticker, &e.Shares,
			&priceS, &deltaS, &profitS, &ts); err != nil {
			return nil, err
		}

		e.Price, _ = decimal.NewFromString(priceS)
		e.CashDelta, _ = decimal.NewFromString(deltaS)
		e.Profit, _ = decimal.NewFromString(profitS)
		e.Timestamp = time.Unix(0, ts).UTC()

		entries = append(entries, e)
	}
	return entries, rows.Err()
}
