package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/papertrade/internal/model"
)

// PostgresSchema creates the journal tables. Monetary columns are NUMERIC
// for exact decimal precision.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id            TEXT PRIMARY KEY,
	trader        TEXT NOT NULL,
	starting_cash NUMERIC NOT NULL,
	seed          NUMERIC(20) NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS ledger_entries (
	seq        BIGSERIAL PRIMARY KEY,
	id         TEXT NOT NULL UNIQUE,
	session_id TEXT NOT NULL REFERENCES sessions(id),
	tick       BIGINT NOT NULL,
	kind       TEXT NOT NULL,
	holding_id TEXT NOT NULL,
	ticker     TEXT NOT NULL,
	shares     BIGINT NOT NULL,
	price      NUMERIC NOT NULL,
	cash_delta NUMERIC NOT NULL,
	profit     NUMERIC NOT NULL,
	timestamp  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS ledger_entries_session_ticker ON ledger_entries (session_id, ticker);
`

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the journal tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, PostgresSchema)
	return err
}

func (s *PostgresStore) CreateSession(ctx context.Context, m *model.Session) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (id, trader, starting_cash, seed, created_at)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5)`,
		m.ID, m.Trader, m.StartingCash.String(), fmt.Sprint(m.Seed), m.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	var m model.Session
	var cash, seed string

	err := s.pool.QueryRow(ctx,
		`SELECT id, trader, starting_cash::TEXT, seed::TEXT, created_at
		 FROM sessions WHERE id = $1`, id).
		Scan(&m.ID, &m.Trader, &cash, &seed, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: session %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}

	m.StartingCash, _ = decimal.NewFromString(cash)
	fmt.Sscan(seed, &m.Seed)
	return &m, nil
}

func (s *PostgresStore) InsertLedgerEntry(ctx context.Context, e *model.LedgerEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ledger_entries (id, session_id, tick, kind, holding_id, ticker, shares, price, cash_delta, profit, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11)`,
		e.ID, e.SessionID, e.Tick, e.Kind, e.HoldingID, e.Ticker, e.Shares,
		e.Price.String(), e.CashDelta.String(), e.Profit.String(),
		e.Timestamp,
	)
	return err
}

func (s *PostgresStore) GetLedgerEntriesBySession(ctx context.Context, sessionID string) ([]model.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, tick, kind, holding_id, ticker, shares,
		        price::TEXT, cash_delta::TEXT, profit::TEXT, timestamp
		 FROM ledger_entries WHERE session_id = $1 ORDER BY seq`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanLedgerEntries(rows)
}

func (s *PostgresStore) GetLedgerEntriesByTicker(ctx context.Context, sessionID, ticker string) ([]model.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, tick, kind, holding_id, ticker, shares,
		        price::TEXT, cash_delta::TEXT, profit::TEXT, timestamp
		 FROM ledger_entries WHERE session_id = $1 AND ticker = $2 ORDER BY seq`, sessionID, ticker)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanLedgerEntries(rows)
}

// rowScanner is satisfied by pgx.Rows and *sql.Rows.
type rowScanner interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

// scanLedgerEntries reads rows into LedgerEntry slices. Decimal columns are
// selected as text.
func scanLedgerEntries(rows rowScanner) ([]model.LedgerEntry, error) {
	var entries []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		var priceS, deltaS, profitS string

		if err := rows.Scan(&e.ID, &e.SessionID, &e.Tick, &e.Kind, &e.HoldingID, &e.Ticker, &e.Shares,
			&priceS, &deltaS, &profitS, &e.Timestamp); err != nil {
			return nil, err
		}

		e.Price, _ = decimal.NewFromString(priceS)
		e.CashDelta, _ = decimal.NewFromString(deltaS)
		e.Profit, _ = decimal.NewFromString(profitS)

		entries = append(entries, e)
	}
	return entries, rows.Err()
}
