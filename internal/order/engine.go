// Package order implements the per-tick stop-loss sweep and the policy
// applied to stop-loss prices at order entry.
//
// The sweep is not a standing order book: it is a threshold check re-run
// from scratch every tick over whatever holdings exist at that moment.
package order

import (
	"github.com/shopspring/decimal"

	"github.com/atmx/papertrade/internal/model"
	"github.com/atmx/papertrade/internal/portfolio"
)

// Trigger describes one stop-loss liquidation.
type Trigger struct {
	Ticker       string
	TriggerPrice decimal.Decimal // market price that breached the threshold
	Holding      model.Holding   // the holding as it was before liquidation
	Receipt      model.SaleReceipt
}

// Engine sweeps holdings for breached stop-losses.
type Engine struct {
	// Forfeit removes triggered holdings without crediting sale proceeds.
	Forfeit bool
}

// NewEngine creates a sweep engine. forfeit=false credits
// triggerPrice*shares on liquidation.
func NewEngine(forfeit bool) *Engine {
	return &Engine{Forfeit: forfeit}
}

// Breached reports whether price has fallen to or below the holding's
// stop-loss. Holdings without a stop-loss never breach.
func Breached(h model.Holding, price decimal.Decimal) bool {
	if h.StopLossPrice == nil {
		return false
	}
	return price.LessThanOrEqual(*h.StopLossPrice)
}

// Sweep liquidates every holding whose ticker price is at or below its
// stop-loss. It iterates over a snapshot taken before any removal, so the
// outcome for one holding never depends on another being removed.
func (e *Engine) Sweep(p *portfolio.Portfolio, lookup portfolio.PriceLookup) []Trigger {
	var triggers []Trigger

	for _, h := range p.Holdings() {
		if !h.HasStopLoss() {
			continue
		}
		price, ok := lookup(h.Ticker)
		if !ok || !Breached(h, price) {
			continue
		}

		receipt, err := p.Liquidate(h.ID, price, !e.Forfeit)
		if err != nil {
			continue
		}
		triggers = append(triggers, Trigger{
			Ticker:       h.Ticker,
			TriggerPrice: price,
			Holding:      h,
			Receipt:      receipt,
		})
	}
	return triggers
}
