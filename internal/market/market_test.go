package market

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// seq replays fixed draws, cycling when exhausted.
type seq struct {
	draws []float64
	i     int
}

func (s *seq) Float64() float64 {
	v := s.draws[s.i%len(s.draws)]
	s.i++
	return v
}

func testMarket(t *testing.T) *Market {
	t.Helper()
	m, err := New([]Listing{
		{Ticker: "AAPL", Price: d(100), Volatility: d(0.1)},
		{Ticker: "GOOG", Price: d(200), Volatility: d(0.2)},
		{Ticker: "AMZN", Price: d(1500), Volatility: d(0.3)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return m
}

// --- Fluctuate ---

func TestFluctuate_ZeroVolatilityIsDeterministic(t *testing.T) {
	s := NewSecurity("X", d(100), d(0))
	s.Fluctuate(NewRandSource(7))

	if !s.Price.Equal(d(100)) {
		t.Errorf("expected price 100, got %s", s.Price)
	}
	if len(s.History) != 2 || !s.History[0].Equal(d(100)) || !s.History[1].Equal(d(100)) {
		t.Errorf("expected history [100 100], got %v", s.History)
	}
}

func TestFluctuate_ChangeFormula(t *testing.T) {
	s := NewSecurity("X", d(100), d(30))

	// r=0 → change = -vol/2 = -15
	s.Fluctuate(&seq{draws: []float64{0}})
	if !s.Price.Equal(d(85)) {
		t.Errorf("expected 85 after r=0, got %s", s.Price)
	}

	// r=0.75 → change = 22.5 - 15 = 7.5
	s.Fluctuate(&seq{draws: []float64{0.75}})
	if !s.Price.Equal(d(92.5)) {
		t.Errorf("expected 92.5 after r=0.75, got %s", s.Price)
	}
}

func TestFluctuate_FloorAtMinPrice(t *testing.T) {
	s := NewSecurity("X", d(0.05), d(10))
	s.Fluctuate(&seq{draws: []float64{0}})

	if !s.Price.Equal(MinPrice) {
		t.Errorf("expected price clamped to %s, got %s", MinPrice, s.Price)
	}
	if !s.History[1].Equal(MinPrice) {
		t.Errorf("history should record the clamped price, got %s", s.History[1])
	}
}

func TestFluctuate_PriceFloorHoldsOverManyTicks(t *testing.T) {
	s := NewSecurity("X", d(1), d(5))
	rng := NewRandSource(42)

	for i := 0; i < 5000; i++ {
		s.Fluctuate(rng)
		if s.Price.LessThan(MinPrice) {
			t.Fatalf("tick %d: price %s below floor", i, s.Price)
		}
	}
	if len(s.History) != 5001 {
		t.Errorf("expected 5001 history entries, got %d", len(s.History))
	}
}

func TestNewSecurity_RaisesPriceToFloor(t *testing.T) {
	s := NewSecurity("X", d(0.001), d(1))
	if !s.Price.Equal(MinPrice) {
		t.Errorf("expected %s, got %s", MinPrice, s.Price)
	}
}

func TestNewRandSource_Reproducible(t *testing.T) {
	a, b := NewRandSource(99), NewRandSource(99)
	for i := 0; i < 10; i++ {
		if a.Float64() != b.Float64() {
			t.Fatalf("draw %d differs for the same seed", i)
		}
	}
}

// --- Market ---

func TestAdvance_EverySecurityOncePerTick(t *testing.T) {
	m := testMarket(t)
	rng := NewRandSource(1)

	for tick := 1; tick <= 10; tick++ {
		m.Advance(rng)
		for _, s := range m.securities {
			if len(s.History) != tick+1 {
				t.Fatalf("%s: expected history len %d after tick %d, got %d",
					s.Ticker, tick+1, tick, len(s.History))
			}
		}
	}
}

func TestAdvance_IndexOrder(t *testing.T) {
	m := testMarket(t)
	// One draw per security per tick, consumed in listing order.
	m.Advance(&seq{draws: []float64{0, 0.5, 1}})

	if want := d(99.95); !m.securities[0].Price.Equal(want) {
		t.Errorf("AAPL: expected %s, got %s", want, m.securities[0].Price)
	}
	if want := d(200); !m.securities[1].Price.Equal(want) {
		t.Errorf("GOOG: expected %s, got %s", want, m.securities[1].Price)
	}
	if want := d(1500.15); !m.securities[2].Price.Equal(want) {
		t.Errorf("AMZN: expected %s, got %s", want, m.securities[2].Price)
	}
}

func TestSelect_WrapsAround(t *testing.T) {
	m := testMarket(t)

	m.Select(Prev)
	if m.SelectedIndex() != 2 {
		t.Errorf("prev from 0 should wrap to 2, got %d", m.SelectedIndex())
	}
	m.Select(Next)
	if m.SelectedIndex() != 0 {
		t.Errorf("next from 2 should wrap to 0, got %d", m.SelectedIndex())
	}
	m.Select(Next)
	if m.Selected().Ticker != "GOOG" {
		t.Errorf("expected GOOG selected, got %s", m.Selected().Ticker)
	}
}

func TestParseDirection(t *testing.T) {
	if dir, err := ParseDirection("Prev"); err != nil || dir != Prev {
		t.Errorf("expected Prev, got %v (%v)", dir, err)
	}
	if dir, err := ParseDirection("next"); err != nil || dir != Next {
		t.Errorf("expected Next, got %v (%v)", dir, err)
	}
	if _, err := ParseDirection("sideways"); err == nil {
		t.Error("expected error for unknown direction")
	}
}

func TestPrice_Lookup(t *testing.T) {
	m := testMarket(t)

	p, ok := m.Price("GOOG")
	if !ok || !p.Equal(d(200)) {
		t.Errorf("expected GOOG=200, got %s (ok=%v)", p, ok)
	}
	if _, ok := m.Price("NOPE"); ok {
		t.Error("expected lookup miss for unknown ticker")
	}
}

func TestNew_Rejections(t *testing.T) {
	cases := map[string]struct {
		listings []Listing
		want     error
	}{
		"empty":     {nil, ErrNoSecurities},
		"bad":       {[]Listing{{Ticker: "aapl", Price: d(1)}}, ErrInvalidTicker},
		"duplicate": {[]Listing{{Ticker: "FB", Price: d(1)}, {Ticker: "FB", Price: d(2)}}, ErrDuplicateTicker},
		"zeroPrice": {[]Listing{{Ticker: "FB", Price: d(0)}}, ErrInvalidListing},
		"negVol":    {[]Listing{{Ticker: "FB", Price: d(1), Volatility: d(-1)}}, ErrInvalidListing},
	}
	for name, tc := range cases {
		if _, err := New(tc.listings); !errors.Is(err, tc.want) {
			t.Errorf("%s: expected %v, got %v", name, tc.want, err)
		}
	}
}

func TestSnapshot_IsDeepCopy(t *testing.T) {
	m := testMarket(t)
	m.Advance(&seq{draws: []float64{1}})

	snap := m.Snapshot(1)
	snap.Securities[0].History[0] = d(-1)

	if m.securities[0].History[0].Equal(d(-1)) {
		t.Error("mutating the snapshot must not touch market history")
	}
	if snap.Tick != 1 || len(snap.Securities) != 3 {
		t.Errorf("unexpected snapshot shape: %+v", snap)
	}
	// AAPL moved +0.05 from 100.
	if !snap.Securities[0].Change.Equal(d(0.05)) {
		t.Errorf("expected change 0.05, got %s", snap.Securities[0].Change)
	}
}

func TestValidateTicker(t *testing.T) {
	for _, ok := range []string{"A", "AAPL", "GOOGL", "BRK.B"} {
		if err := ValidateTicker(ok); err != nil {
			t.Errorf("%s: unexpected error %v", ok, err)
		}
	}
	for _, bad := range []string{"", "aapl", "TOOLONG", "BRK.", "A1", "BRK.BB"} {
		if err := ValidateTicker(bad); !errors.Is(err, ErrInvalidTicker) {
			t.Errorf("%q: expected ErrInvalidTicker, got %v", bad, err)
		}
	}
}
