// Package model defines the core domain types shared across the simulator.
// All monetary values use shopspring/decimal, never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Holding is one open position in a security. Shares is always > 0 while
// the holding exists; a holding sold down to zero is removed.
type Holding struct {
	ID            string           `json:"id"`
	Ticker        string           `json:"ticker"`
	Shares        int64            `json:"shares"`
	BuyPrice      decimal.Decimal  `json:"buy_price"`
	StopLossPrice *decimal.Decimal `json:"stop_loss_price,omitempty"` // absolute threshold, nil if none
}

// HasStopLoss reports whether a stop-loss order is attached.
func (h Holding) HasStopLoss() bool {
	return h.StopLossPrice != nil
}

// Clone returns a copy that shares no pointers with h.
func (h Holding) Clone() Holding {
	if h.StopLossPrice != nil {
		sl := *h.StopLossPrice
		h.StopLossPrice = &sl
	}
	return h
}

// SaleReceipt is returned by a sell or a stop-loss liquidation.
type SaleReceipt struct {
	HoldingID  string          `json:"holding_id"`
	Ticker     string          `json:"ticker"`
	SharesSold int64           `json:"shares_sold"`
	Price      decimal.Decimal `json:"price"`
	Proceeds   decimal.Decimal `json:"proceeds"` // cash credited
	Profit     decimal.Decimal `json:"profit"`   // negative for a realized loss
	Closed     bool            `json:"closed"`   // holding removed
}

// SecurityView is the read-only snapshot of one security.
type SecurityView struct {
	Ticker     string            `json:"ticker"`
	Price      decimal.Decimal   `json:"price"`
	Volatility decimal.Decimal   `json:"volatility"`
	Change     decimal.Decimal   `json:"change"`      // vs previous tick
	ChangePct  decimal.Decimal   `json:"change_pct"`  // change / price * 100
	History    []decimal.Decimal `json:"history"`
}

// MarketSnapshot is the read-only view of the market.
type MarketSnapshot struct {
	Tick          int64          `json:"tick"`
	SelectedIndex int            `json:"selected_index"`
	Securities    []SecurityView `json:"securities"`
}

// HoldingView is a holding marked to the current market price.
type HoldingView struct {
	Holding
	CurrentPrice  decimal.Decimal `json:"current_price"`
	CurrentValue  decimal.Decimal `json:"current_value"`  // shares * current price
	Change        decimal.Decimal `json:"change"`         // current price - buy price
	ChangePct     decimal.Decimal `json:"change_pct"`     // change / current price * 100
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"` // change * shares
}

// PortfolioSnapshot is the read-only view of cash and holdings.
type PortfolioSnapshot struct {
	Trader          string          `json:"trader"`
	Cash            decimal.Decimal `json:"cash"`
	Holdings        []HoldingView   `json:"holdings"`
	HoldingsValue   decimal.Decimal `json:"holdings_value"`
	TotalValue      decimal.Decimal `json:"total_value"`
	SelectedHolding int             `json:"selected_holding"` // -1 when none
}

// EventType discriminates Event.
type EventType string

const (
	EventTradeExecuted     EventType = "trade_executed"
	EventTradeRejected     EventType = "trade_rejected"
	EventStopLossTriggered EventType = "stop_loss_triggered"
)

// Event is emitted by the simulation for the presentation layer.
// Fields not relevant to Type are left zero and omitted from JSON.
type Event struct {
	Type         EventType        `json:"type"`
	Tick         int64            `json:"tick"`
	Side         string           `json:"side,omitempty"` // BUY or SELL for trade events
	Ticker       string           `json:"ticker,omitempty"`
	Shares       int64            `json:"shares,omitempty"`
	Price        decimal.Decimal  `json:"price,omitzero"`
	CashDelta    decimal.Decimal  `json:"cash_delta,omitzero"` // signed change to cash
	Profit       *decimal.Decimal `json:"profit,omitempty"`
	TriggerPrice *decimal.Decimal `json:"trigger_price,omitempty"` // stop-loss events only
	Reason       string           `json:"reason,omitempty"`
	Holding      *Holding         `json:"holding,omitempty"`
}

// Session identifies one simulator run in the trade journal.
type Session struct {
	ID           string          `json:"id" db:"id"`
	Trader       string          `json:"trader" db:"trader"`
	StartingCash decimal.Decimal `json:"starting_cash" db:"starting_cash"`
	Seed         uint64          `json:"seed" db:"seed"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// Ledger entry kinds.
const (
	KindBuy      = "BUY"
	KindSell     = "SELL"
	KindStopLoss = "STOP_LOSS"
)

// LedgerEntry is an immutable record of a trade or a stop-loss liquidation.
// Once created, these are never modified or deleted.
type LedgerEntry struct {
	ID        string          `json:"id" db:"id"`
	SessionID string          `json:"session_id" db:"session_id"`
	Tick      int64           `json:"tick" db:"tick"`
	Kind      string          `json:"kind" db:"kind"`
	HoldingID string          `json:"holding_id" db:"holding_id"`
	Ticker    string          `json:"ticker" db:"ticker"`
	Shares    int64           `json:"shares" db:"shares"`
	Price     decimal.Decimal `json:"price" db:"price"`
	CashDelta decimal.Decimal `json:"cash_delta" db:"cash_delta"` // signed: -buy, +sell
	Profit    decimal.Decimal `json:"profit" db:"profit"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}
