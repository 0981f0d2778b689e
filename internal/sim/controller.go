// Package sim composes the market, the portfolio and the stop-loss engine
// into one tick-driven simulation and exposes its command/query surface.
//
// Every command and query runs under a single mutex: a tick is never
// interleaved with a trade, and a second AdvanceTick waits for the first.
// Queries return deep copies; callers never hold mutable state.
package sim

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/atmx/papertrade/internal/market"
	"github.com/atmx/papertrade/internal/model"
	"github.com/atmx/papertrade/internal/order"
	"github.com/atmx/papertrade/internal/portfolio"
)

// Config is the injectable initial state of a simulation.
type Config struct {
	Trader       string
	Listings     []market.Listing
	StartingCash decimal.Decimal

	// ForfeitOnStopLoss removes a triggered holding without crediting the
	// sale proceeds. By default proceeds are credited at the trigger price.
	ForfeitOnStopLoss bool

	// StrictStopLoss rejects stop-loss prices outside (0, current price).
	StrictStopLoss bool
}

// Controller owns all simulation state.
type Controller struct {
	mu sync.Mutex

	trader    string
	market    *market.Market
	portfolio *portfolio.Portfolio
	engine    *order.Engine
	policy    order.StopLossPolicy
	rng       market.RandSource
	logger    *slog.Logger

	tick     int64
	selected string // holding ID; empty when no holding is selected
	pending  []model.Event
}

// New creates a controller. rng drives every price fluctuation; pass a
// seeded source for reproducible runs.
func New(cfg Config, rng market.RandSource, logger *slog.Logger) (*Controller, error) {
	if rng == nil {
		return nil, errors.New("sim: random source is required")
	}
	if cfg.StartingCash.IsNegative() {
		return nil, fmt.Errorf("sim: starting cash must not be negative, got %s", cfg.StartingCash)
	}
	m, err := market.New(cfg.Listings)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Controller{
		trader:    cfg.Trader,
		market:    m,
		portfolio: portfolio.New(cfg.StartingCash),
		engine:    order.NewEngine(cfg.ForfeitOnStopLoss),
		policy:    order.NewStopLossPolicy(cfg.StrictStopLoss),
		rng:       rng,
		logger:    logger,
	}, nil
}

// AdvanceTick moves every security one step and then runs the stop-loss
// sweep against the new prices. It returns the StopLossTriggered events
// produced by this tick; they are also queued for DrainEvents.
func (c *Controller) AdvanceTick() []model.Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.market.Advance(c.rng)
	c.tick++

	triggers := c.engine.Sweep(c.portfolio, c.market.Price)

	events := make([]model.Event, 0, len(triggers))
	for _, tr := range triggers {
		if tr.Holding.ID == c.selected {
			c.selected = ""
		}
		h := tr.Holding
		profit := tr.Receipt.Profit
		trigger := tr.TriggerPrice
		ev := model.Event{
			Type:         model.EventStopLossTriggered,
			Tick:         c.tick,
			Side:         model.KindSell,
			Ticker:       tr.Ticker,
			Shares:       tr.Receipt.SharesSold,
			Price:        tr.TriggerPrice,
			CashDelta:    tr.Receipt.Proceeds,
			TriggerPrice: &trigger,
			Profit:       &profit,
			Holding:      &h,
		}
		events = append(events, ev)

		c.logger.Info("stop-loss triggered",
			"tick", c.tick,
			"ticker", tr.Ticker,
			"holding", h.ID,
			"shares", h.Shares,
			"stop_loss", h.StopLossPrice.String(),
			"trigger_price", tr.TriggerPrice.String(),
			"proceeds", tr.Receipt.Proceeds.String(),
		)
	}
	c.pending = append(c.pending, events...)
	return events
}

// Buy purchases shares of the currently selected security.
func (c *Controller) Buy(shares int64, stopLoss *decimal.Decimal) (model.Holding, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sec := c.market.Selected()
	if shares <= 0 {
		err := fmt.Errorf("%w: got %d", portfolio.ErrInvalidQuantity, shares)
		c.reject(model.KindBuy, sec.Ticker, shares, err)
		return model.Holding{}, err
	}
	if err := c.policy.Check(sec.Price, stopLoss); err != nil {
		c.reject(model.KindBuy, sec.Ticker, shares, err)
		return model.Holding{}, err
	}

	h, err := c.portfolio.Buy(sec.Ticker, sec.Price, shares, stopLoss)
	if err != nil {
		c.reject(model.KindBuy, sec.Ticker, shares, err)
		return model.Holding{}, err
	}

	c.pending = append(c.pending, model.Event{
		Type:      model.EventTradeExecuted,
		Tick:      c.tick,
		Side:      model.KindBuy,
		Ticker:    h.Ticker,
		Shares:    h.Shares,
		Price:     h.BuyPrice,
		CashDelta: h.BuyPrice.Mul(decimal.NewFromInt(h.Shares)).Neg(),
		Holding:   &h,
	})

	c.logger.Info("trade executed",
		"side", model.KindBuy,
		"tick", c.tick,
		"ticker", h.Ticker,
		"shares", h.Shares,
		"price", h.BuyPrice.String(),
		"cash", c.portfolio.Cash().String(),
	)
	return h, nil
}

// Sell sells shares of the holding at index.
func (c *Controller) Sell(index int, shares int64) (model.SaleReceipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.sell(index, shares)
}

// SellSelected sells shares of the selected holding.
func (c *Controller) SellSelected(shares int64) (model.SaleReceipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.sell(c.selectedIndex(), shares)
}

func (c *Controller) sell(index int, shares int64) (model.SaleReceipt, error) {
	var ticker string
	var holding *model.Holding
	if index >= 0 && index < c.portfolio.Len() {
		h := c.portfolio.Holdings()[index]
		ticker = h.Ticker
		holding = &h
	}

	receipt, err := c.portfolio.Sell(index, shares, c.market.Price)
	if err != nil {
		c.reject(model.KindSell, ticker, shares, err)
		return model.SaleReceipt{}, err
	}
	if receipt.Closed && receipt.HoldingID == c.selected {
		c.selected = ""
	}

	profit := receipt.Profit
	c.pending = append(c.pending, model.Event{
		Type:      model.EventTradeExecuted,
		Tick:      c.tick,
		Side:      model.KindSell,
		Ticker:    receipt.Ticker,
		Shares:    receipt.SharesSold,
		Price:     receipt.Price,
		CashDelta: receipt.Proceeds,
		Profit:    &profit,
		Holding:   holding,
	})

	c.logger.Info("trade executed",
		"side", model.KindSell,
		"tick", c.tick,
		"ticker", receipt.Ticker,
		"shares", receipt.SharesSold,
		"price", receipt.Price.String(),
		"profit", receipt.Profit.String(),
		"cash", c.portfolio.Cash().String(),
	)
	return receipt, nil
}

// reject queues a TradeRejected event. Called with c.mu held.
func (c *Controller) reject(side, ticker string, shares int64, err error) {
	c.pending = append(c.pending, model.Event{
		Type:   model.EventTradeRejected,
		Tick:   c.tick,
		Side:   side,
		Ticker: ticker,
		Shares: shares,
		Reason: err.Error(),
	})
	c.logger.Warn("trade rejected",
		"side", side,
		"tick", c.tick,
		"ticker", ticker,
		"shares", shares,
		"err", err,
	)
}

// SelectMarket moves the market cursor and clears the holding selection.
func (c *Controller) SelectMarket(dir market.Direction) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.market.Select(dir)
	c.selected = ""
}

// SelectHolding selects the holding at index; a negative index clears the
// selection. An index past the end is rejected with ErrNoSelection.
func (c *Controller) SelectHolding(index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if index < 0 {
		c.selected = ""
		return nil
	}
	hs := c.portfolio.Holdings()
	if index >= len(hs) {
		return fmt.Errorf("%w: index %d of %d", portfolio.ErrNoSelection, index, len(hs))
	}
	c.selected = hs[index].ID
	return nil
}

// selectedIndex resolves the selected holding ID. Called with c.mu held.
func (c *Controller) selectedIndex() int {
	if c.selected == "" {
		return -1
	}
	return c.portfolio.IndexOf(c.selected)
}

// Tick returns the number of ticks advanced so far.
func (c *Controller) Tick() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tick
}

// Cash returns the portfolio cash balance.
func (c *Controller) Cash() decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.portfolio.Cash()
}

// MarketSnapshot returns a deep copy of the market.
func (c *Controller) MarketSnapshot() model.MarketSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.market.Snapshot(c.tick)
}

// Security returns the view of one security.
func (c *Controller) Security(ticker string) (model.SecurityView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.market.Security(ticker)
	if !ok {
		return model.SecurityView{}, fmt.Errorf("%w: %s", market.ErrUnknownTicker, ticker)
	}
	return market.View(s), nil
}

// PortfolioSnapshot returns cash and holdings marked to market.
func (c *Controller) PortfolioSnapshot() model.PortfolioSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := c.portfolio.Snapshot(c.market.Price)
	snap.Trader = c.trader
	snap.SelectedHolding = c.selectedIndex()
	return snap
}

// DrainEvents returns and clears the queued events in emission order.
func (c *Controller) DrainEvents() []model.Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	events := c.pending
	c.pending = nil
	return events
}
