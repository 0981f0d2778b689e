package sim

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/atmx/papertrade/internal/market"
	"github.com/atmx/papertrade/internal/model"
	"github.com/atmx/papertrade/internal/order"
	"github.com/atmx/papertrade/internal/portfolio"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func ptr(v decimal.Decimal) *decimal.Decimal {
	return &v
}

// constant always draws the same sample.
type constant float64

func (c constant) Float64() float64 { return float64(c) }

// newTestController builds a one-security market "X" @ 100.
func newTestController(t *testing.T, vol float64, rng market.RandSource, mutate ...func(*Config)) *Controller {
	t.Helper()
	cfg := Config{
		Trader:       "tester",
		Listings:     []market.Listing{{Ticker: "X", Price: d(100), Volatility: d(vol)}},
		StartingCash: d(1000),
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	c, err := New(cfg, rng, nil)
	if err != nil {
		t.Fatalf("failed to create controller: %v", err)
	}
	return c
}

// --- Scenarios ---

func TestAdvanceTick_ZeroVolatility(t *testing.T) {
	c := newTestController(t, 0, market.NewRandSource(1))
	c.AdvanceTick()

	snap := c.MarketSnapshot()
	x := snap.Securities[0]
	if !x.Price.Equal(d(100)) {
		t.Errorf("expected 100, got %s", x.Price)
	}
	if len(x.History) != 2 || !x.History[0].Equal(d(100)) || !x.History[1].Equal(d(100)) {
		t.Errorf("expected history [100 100], got %v", x.History)
	}
	if snap.Tick != 1 || c.Tick() != 1 {
		t.Errorf("expected tick 1, got %d", snap.Tick)
	}
}

func TestBuy_DebitsCash(t *testing.T) {
	c := newTestController(t, 0, constant(0.5))

	h, err := c.Buy(5, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !c.Cash().Equal(d(500)) {
		t.Errorf("expected cash 500, got %s", c.Cash())
	}
	p := c.PortfolioSnapshot()
	if len(p.Holdings) != 1 || p.Holdings[0].Ticker != "X" || p.Holdings[0].Shares != 5 ||
		!p.Holdings[0].BuyPrice.Equal(d(100)) {
		t.Errorf("unexpected holdings: %+v", p.Holdings)
	}
	if h.HasStopLoss() {
		t.Error("expected no stop-loss")
	}
}

func TestSell_ProfitAndRemoval(t *testing.T) {
	// vol 20, r=0.75 → change +5 per tick: 100 → 105 → 110.
	c := newTestController(t, 20, constant(0.75))
	c.Buy(5, nil)
	c.AdvanceTick()
	c.AdvanceTick()

	r, err := c.Sell(0, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.Price.Equal(d(110)) {
		t.Fatalf("expected sale at 110, got %s", r.Price)
	}
	if !r.Profit.Equal(d(50)) {
		t.Errorf("expected profit 50, got %s", r.Profit)
	}
	if !c.Cash().Equal(d(1050)) {
		t.Errorf("expected cash 1050, got %s", c.Cash())
	}
	if len(c.PortfolioSnapshot().Holdings) != 0 {
		t.Error("expected holding removed")
	}
}

func TestAdvanceTick_StopLossTriggers(t *testing.T) {
	// vol 30, r=0 → change -15: 100 → 85.
	c := newTestController(t, 30, constant(0))
	c.Buy(5, ptr(d(90)))
	c.DrainEvents()

	events := c.AdvanceTick()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	ev := events[0]
	if ev.Type != model.EventStopLossTriggered || ev.Ticker != "X" || ev.TriggerPrice == nil || !ev.TriggerPrice.Equal(d(85)) {
		t.Errorf("unexpected event: %+v", ev)
	}
	if ev.Holding == nil || ev.Holding.Shares != 5 {
		t.Errorf("event should carry the liquidated holding, got %+v", ev.Holding)
	}
	if len(c.PortfolioSnapshot().Holdings) != 0 {
		t.Error("expected holding removed")
	}
	// Proceeds are credited by default: 500 + 5*85.
	if !c.Cash().Equal(d(925)) {
		t.Errorf("expected cash 925, got %s", c.Cash())
	}

	queued := c.DrainEvents()
	if len(queued) != 1 || queued[0].Type != model.EventStopLossTriggered {
		t.Errorf("expected the stop-loss event queued, got %+v", queued)
	}
}

func TestAdvanceTick_StopLossForfeit(t *testing.T) {
	c := newTestController(t, 30, constant(0), func(cfg *Config) { cfg.ForfeitOnStopLoss = true })
	c.Buy(5, ptr(d(90)))
	c.AdvanceTick()

	if !c.Cash().Equal(d(500)) {
		t.Errorf("forfeit must not credit cash, got %s", c.Cash())
	}
	if len(c.PortfolioSnapshot().Holdings) != 0 {
		t.Error("expected holding removed")
	}
}

func TestAdvanceTick_StopLossIffAtOrBelow(t *testing.T) {
	// r=0.45, vol 10 → change -0.5 per tick: 100, 99.5, 99, 98.5 ...
	c := newTestController(t, 10, constant(0.45))
	c.Buy(1, ptr(d(98.5)))

	for tick := 1; tick <= 2; tick++ {
		if ev := c.AdvanceTick(); len(ev) != 0 {
			t.Fatalf("tick %d: price above stop-loss must not trigger", tick)
		}
		if len(c.PortfolioSnapshot().Holdings) != 1 {
			t.Fatalf("tick %d: holding must remain", tick)
		}
	}
	if ev := c.AdvanceTick(); len(ev) != 1 {
		t.Fatalf("tick 3: price 98.5 must trigger, got %d events", len(ev))
	}
}

func TestBuy_ZeroSharesRejected(t *testing.T) {
	c := newTestController(t, 0, constant(0.5))

	if _, err := c.Buy(0, nil); !errors.Is(err, portfolio.ErrInvalidQuantity) {
		t.Errorf("expected ErrInvalidQuantity, got %v", err)
	}
	if !c.Cash().Equal(d(1000)) || len(c.PortfolioSnapshot().Holdings) != 0 {
		t.Error("rejected buy must not change state")
	}

	events := c.DrainEvents()
	if len(events) != 1 || events[0].Type != model.EventTradeRejected || events[0].Reason == "" {
		t.Errorf("expected one trade_rejected event with a reason, got %+v", events)
	}
}

func TestBuy_InsufficientFunds(t *testing.T) {
	c := newTestController(t, 0, constant(0.5), func(cfg *Config) { cfg.StartingCash = d(500) })

	if _, err := c.Buy(100, nil); !errors.Is(err, portfolio.ErrInsufficientFunds) {
		t.Errorf("expected ErrInsufficientFunds, got %v", err)
	}
	if !c.Cash().Equal(d(500)) {
		t.Errorf("cash changed: %s", c.Cash())
	}
}

func TestBuy_StrictStopLoss(t *testing.T) {
	c := newTestController(t, 0, constant(0.5), func(cfg *Config) { cfg.StrictStopLoss = true })

	if _, err := c.Buy(1, ptr(d(120))); !errors.Is(err, order.ErrInvalidStopLoss) {
		t.Errorf("expected ErrInvalidStopLoss, got %v", err)
	}
	if _, err := c.Buy(1, ptr(d(80))); err != nil {
		t.Errorf("expected stop-loss below price accepted, got %v", err)
	}
}

func TestBuy_StrictStopLossChecksQuantityFirst(t *testing.T) {
	c := newTestController(t, 0, constant(0.5), func(cfg *Config) { cfg.StrictStopLoss = true })

	if _, err := c.Buy(0, ptr(d(120))); !errors.Is(err, portfolio.ErrInvalidQuantity) {
		t.Errorf("expected ErrInvalidQuantity, got %v", err)
	}
	if _, err := c.Buy(-1, ptr(d(120))); !errors.Is(err, portfolio.ErrInvalidQuantity) {
		t.Errorf("expected ErrInvalidQuantity for negative shares, got %v", err)
	}
	if events := c.DrainEvents(); len(events) != 2 {
		t.Errorf("expected two trade_rejected events, got %+v", events)
	}
}

func TestEvents_JSONOmitsIrrelevantFields(t *testing.T) {
	c := newTestController(t, 0, constant(0.5))

	c.Buy(0, nil)
	c.Buy(1, nil)
	events := c.DrainEvents()
	if len(events) != 2 {
		t.Fatalf("expected rejected and executed events, got %+v", events)
	}

	rejected, err := json.Marshal(events[0])
	if err != nil {
		t.Fatal(err)
	}
	for _, field := range []string{`"price"`, `"cash_delta"`, `"trigger_price"`} {
		if strings.Contains(string(rejected), field) {
			t.Errorf("rejection carries %s: %s", field, rejected)
		}
	}

	executed, err := json.Marshal(events[1])
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(executed), `"trigger_price"`) {
		t.Errorf("buy event carries trigger_price: %s", executed)
	}
	if !strings.Contains(string(executed), `"price":"100"`) {
		t.Errorf("buy event missing price: %s", executed)
	}
}

func TestBuy_PermissiveStopLossAbovePrice(t *testing.T) {
	c := newTestController(t, 0, constant(0.5))

	if _, err := c.Buy(1, ptr(d(120))); err != nil {
		t.Fatalf("permissive policy should accept, got %v", err)
	}
	// Zero volatility keeps the price at 100 <= 120: liquidated next tick.
	if ev := c.AdvanceTick(); len(ev) != 1 {
		t.Errorf("expected immediate trigger, got %d events", len(ev))
	}
}

func TestRejections_LeaveStateUnchanged(t *testing.T) {
	c := newTestController(t, 3, market.NewRandSource(5))
	c.Buy(3, ptr(d(50)))
	c.AdvanceTick()

	beforeMarket := c.MarketSnapshot()
	beforePortfolio := c.PortfolioSnapshot()

	c.Buy(0, nil)
	c.Buy(1_000_000, nil)
	c.Sell(4, 1)
	c.Sell(0, 0)
	c.Sell(0, 4)
	c.SellSelected(1)

	if !reflect.DeepEqual(beforeMarket, c.MarketSnapshot()) {
		t.Error("market changed after rejected commands")
	}
	if !reflect.DeepEqual(beforePortfolio, c.PortfolioSnapshot()) {
		t.Error("portfolio changed after rejected commands")
	}
}

// --- Selection ---

func TestSelectMarket_ChangesBuyTarget(t *testing.T) {
	c := newTestController(t, 0, constant(0.5), func(cfg *Config) {
		cfg.Listings = append(cfg.Listings, market.Listing{Ticker: "Y", Price: d(10)})
	})

	c.SelectMarket(market.Next)
	h, err := c.Buy(2, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.Ticker != "Y" || !h.BuyPrice.Equal(d(10)) {
		t.Errorf("expected Y @ 10, got %+v", h)
	}
	if c.MarketSnapshot().SelectedIndex != 1 {
		t.Error("expected selected index 1")
	}

	c.SelectMarket(market.Next)
	if c.MarketSnapshot().SelectedIndex != 0 {
		t.Error("expected wrap to 0")
	}
}

func TestSelectMarket_ClearsHoldingSelection(t *testing.T) {
	c := newTestController(t, 0, constant(0.5))
	c.Buy(1, nil)
	if err := c.SelectHolding(0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c.SelectMarket(market.Prev)

	if got := c.PortfolioSnapshot().SelectedHolding; got != -1 {
		t.Errorf("expected selection cleared, got %d", got)
	}
}

func TestSellSelected(t *testing.T) {
	c := newTestController(t, 0, constant(0.5))
	c.Buy(1, nil)
	c.Buy(4, nil)

	if _, err := c.SellSelected(1); !errors.Is(err, portfolio.ErrNoSelection) {
		t.Errorf("expected ErrNoSelection, got %v", err)
	}

	c.SelectHolding(1)
	if _, err := c.SellSelected(2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	snap := c.PortfolioSnapshot()
	if snap.Holdings[1].Shares != 2 || snap.SelectedHolding != 1 {
		t.Errorf("expected partial sale of selected holding, got %+v", snap)
	}

	if _, err := c.SellSelected(2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := c.PortfolioSnapshot().SelectedHolding; got != -1 {
		t.Errorf("selling the selected holding out should clear selection, got %d", got)
	}
}

func TestSelectHolding_FollowsHoldingAcrossRemoval(t *testing.T) {
	c := newTestController(t, 0, constant(0.5))
	c.Buy(1, nil)
	c.Buy(2, nil)
	c.SelectHolding(1)

	c.Sell(0, 1)
	if got := c.PortfolioSnapshot().SelectedHolding; got != 0 {
		t.Errorf("selection should follow the holding to index 0, got %d", got)
	}
}

func TestSelectHolding_OutOfRange(t *testing.T) {
	c := newTestController(t, 0, constant(0.5))
	if err := c.SelectHolding(0); !errors.Is(err, portfolio.ErrNoSelection) {
		t.Errorf("expected ErrNoSelection, got %v", err)
	}
	if err := c.SelectHolding(-1); err != nil {
		t.Errorf("clearing selection should succeed, got %v", err)
	}
}

func TestStopLoss_ClearsSelection(t *testing.T) {
	c := newTestController(t, 30, constant(0))
	c.Buy(1, ptr(d(90)))
	c.SelectHolding(0)
	c.AdvanceTick()

	if got := c.PortfolioSnapshot().SelectedHolding; got != -1 {
		t.Errorf("expected selection cleared, got %d", got)
	}
}

// --- Events ---

func TestDrainEvents_OrderAndClear(t *testing.T) {
	c := newTestController(t, 0, constant(0.5))
	c.Buy(1, nil)
	c.Buy(0, nil)
	c.Sell(0, 1)

	events := c.DrainEvents()
	want := []model.EventType{model.EventTradeExecuted, model.EventTradeRejected, model.EventTradeExecuted}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(events))
	}
	for i, ev := range events {
		if ev.Type != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], ev.Type)
		}
	}
	if events[0].Profit != nil {
		t.Error("buy events carry no profit")
	}
	if events[2].Profit == nil || !events[2].Profit.IsZero() {
		t.Errorf("sell at unchanged price should report zero profit, got %v", events[2].Profit)
	}
	if len(c.DrainEvents()) != 0 {
		t.Error("expected queue cleared")
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{StartingCash: d(1)}, constant(0), nil); !errors.Is(err, market.ErrNoSecurities) {
		t.Errorf("expected ErrNoSecurities, got %v", err)
	}
	cfg := Config{
		Listings:     []market.Listing{{Ticker: "X", Price: d(1)}},
		StartingCash: d(-1),
	}
	if _, err := New(cfg, constant(0), nil); err == nil {
		t.Error("expected error for negative cash")
	}
	cfg.StartingCash = d(1)
	if _, err := New(cfg, nil, nil); err == nil {
		t.Error("expected error for nil random source")
	}
}

func TestSecurity_Lookup(t *testing.T) {
	c := newTestController(t, 0, constant(0.5))
	if v, err := c.Security("X"); err != nil || !v.Price.Equal(d(100)) {
		t.Errorf("expected X @ 100, got %+v (%v)", v, err)
	}
	if _, err := c.Security("NOPE"); !errors.Is(err, market.ErrUnknownTicker) {
		t.Errorf("expected ErrUnknownTicker, got %v", err)
	}
}
