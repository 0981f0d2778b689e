package market

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/atmx/papertrade/internal/model"
)

var hundred = decimal.NewFromInt(100)

// Direction moves the market selection.
type Direction int

const (
	Prev Direction = -1
	Next Direction = 1
)

// ParseDirection accepts "prev"/"previous" and "next" (case-insensitive).
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "prev", "previous":
		return Prev, nil
	case "next":
		return Next, nil
	}
	return 0, fmt.Errorf("market: unknown direction %q", s)
}

// Listing is the initial configuration of one security.
type Listing struct {
	Ticker     string
	Price      decimal.Decimal
	Volatility decimal.Decimal
}

// Market owns the securities and the navigation cursor. It is not safe for
// concurrent use; the simulation controller serializes access.
type Market struct {
	securities []*Security
	byTicker   map[string]int
	selected   int
}

// New creates a market from listings, preserving their order.
func New(listings []Listing) (*Market, error) {
	if len(listings) == 0 {
		return nil, ErrNoSecurities
	}

	m := &Market{
		securities: make([]*Security, 0, len(listings)),
		byTicker:   make(map[string]int, len(listings)),
	}
	for _, l := range listings {
		if err := ValidateTicker(l.Ticker); err != nil {
			return nil, err
		}
		if _, dup := m.byTicker[l.Ticker]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTicker, l.Ticker)
		}
		if !l.Price.IsPositive() {
			return nil, fmt.Errorf("%w: %s price must be positive", ErrInvalidListing, l.Ticker)
		}
		if l.Volatility.IsNegative() {
			return nil, fmt.Errorf("%w: %s volatility must not be negative", ErrInvalidListing, l.Ticker)
		}
		m.byTicker[l.Ticker] = len(m.securities)
		m.securities = append(m.securities, NewSecurity(l.Ticker, l.Price, l.Volatility))
	}
	return m, nil
}

// Advance fluctuates every security exactly once, in index order.
func (m *Market) Advance(rng RandSource) {
	for _, s := range m.securities {
		s.Fluctuate(rng)
	}
}

// Select moves the cursor circularly.
func (m *Market) Select(dir Direction) {
	n := len(m.securities)
	m.selected = (m.selected + int(dir) + n) % n
}

// SelectedIndex returns the cursor position.
func (m *Market) SelectedIndex() int {
	return m.selected
}

// Selected returns the security under the cursor.
func (m *Market) Selected() *Security {
	return m.securities[m.selected]
}

// Len returns the number of securities.
func (m *Market) Len() int {
	return len(m.securities)
}

// Security returns the security for ticker.
func (m *Market) Security(ticker string) (*Security, bool) {
	i, ok := m.byTicker[ticker]
	if !ok {
		return nil, false
	}
	return m.securities[i], true
}

// Price returns the current price for ticker.
func (m *Market) Price(ticker string) (decimal.Decimal, bool) {
	s, ok := m.Security(ticker)
	if !ok {
		return decimal.Zero, false
	}
	return s.Price, true
}

// Snapshot returns a deep copy of market state.
func (m *Market) Snapshot(tick int64) model.MarketSnapshot {
	snap := model.MarketSnapshot{
		Tick:          tick,
		SelectedIndex: m.selected,
		Securities:    make([]model.SecurityView, 0, len(m.securities)),
	}
	for _, s := range m.securities {
		snap.Securities = append(snap.Securities, View(s))
	}
	return snap
}

// View builds the read-only view of one security.
func View(s *Security) model.SecurityView {
	history := make([]decimal.Decimal, len(s.History))
	copy(history, s.History)

	change := s.Price.Sub(s.Previous())
	return model.SecurityView{
		Ticker:     s.Ticker,
		Price:      s.Price,
		Volatility: s.Volatility,
		Change:     change,
		ChangePct:  change.Div(s.Price).Mul(hundred).Round(4),
		History:    history,
	}
}
