package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/papertrade/internal/model"
)

// CachedStore wraps a primary Store with a Redis read-through cache.
// Writes go to the primary store and invalidate the cache; reads check
// Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateSession(ctx context.Context, m *model.Session) error {
	if err := s.primary.CreateSession(ctx, m); err != nil {
		return err
	}
	if data, err := json.Marshal(m); err == nil {
		s.rdb.Set(ctx, sessionKey(m.ID), data, s.ttl)
	}
	return nil
}

func (s *CachedStore) InsertLedgerEntry(ctx context.Context, entry *model.LedgerEntry) error {
	if err := s.primary.InsertLedgerEntry(ctx, entry); err != nil {
		return err
	}
	// Invalidate the session listing and this ticker's listing.
	s.rdb.Del(ctx, ledgerKey(entry.SessionID), tickerLedgerKey(entry.SessionID, entry.Ticker))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	data, err := s.rdb.Get(ctx, sessionKey(id)).Bytes()
	if err == nil {
		var m model.Session
		if json.Unmarshal(data, &m) == nil {
			return &m, nil
		}
	}

	// Cache miss: read from primary.
	m, err := s.primary.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(m); err == nil {
		s.rdb.Set(ctx, sessionKey(id), data, s.ttl)
	}
	return m, nil
}

func (s *CachedStore) GetLedgerEntriesBySession(ctx context.Context, sessionID string) ([]model.LedgerEntry, error) {
	return s.cachedEntries(ctx, ledgerKey(sessionID), func() ([]model.LedgerEntry, error) {
		return s.primary.GetLedgerEntriesBySession(ctx, sessionID)
	})
}

func (s *CachedStore) GetLedgerEntriesByTicker(ctx context.Context, sessionID, ticker string) ([]model.LedgerEntry, error) {
	return s.cachedEntries(ctx, tickerLedgerKey(sessionID, ticker), func() ([]model.LedgerEntry, error) {
		return s.primary.GetLedgerEntriesByTicker(ctx, sessionID, ticker)
	})
}

// --- Cache helpers ---

func (s *CachedStore) cachedEntries(ctx context.Context, key string, load func() ([]model.LedgerEntry, error)) ([]model.LedgerEntry, error) {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var entries []model.LedgerEntry
		if json.Unmarshal(data, &entries) == nil {
			return entries, nil
		}
	}

	entries, err := load()
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(entries); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
	return entries, nil
}

func sessionKey(id string) string { return fmt.Sprintf("session:%s", id) }
func ledgerKey(sid string) string { return fmt.Sprintf("ledger:%s", sid) }
func tickerLedgerKey(sid, tk string) string { return fmt.Sprintf("ledger:%s:%s", sid, tk) }
