package portfolio

import (
	"github.com/shopspring/decimal"

	"github.com/atmx/papertrade/internal/model"
)

var hundred = decimal.NewFromInt(100)

// Snapshot marks every holding to market. A holding whose ticker has no
// price is valued at its buy price.
func (p *Portfolio) Snapshot(lookup PriceLookup) model.PortfolioSnapshot {
	snap := model.PortfolioSnapshot{
		Cash:            p.cash,
		Holdings:        make([]model.HoldingView, 0, len(p.holdings)),
		HoldingsValue:   decimal.Zero,
		SelectedHolding: -1,
	}

	for _, h := range p.holdings {
		price, ok := lookup(h.Ticker)
		if !ok {
			price = h.BuyPrice
		}
		qty := decimal.NewFromInt(h.Shares)
		change := price.Sub(h.BuyPrice)

		v := model.HoldingView{
			Holding:       h.Clone(),
			CurrentPrice:  price,
			CurrentValue:  price.Mul(qty),
			Change:        change,
			UnrealizedPnL: change.Mul(qty),
		}
		if price.IsPositive() {
			v.ChangePct = change.Div(price).Mul(hundred).Round(4)
		}
		snap.Holdings = append(snap.Holdings, v)
		snap.HoldingsValue = snap.HoldingsValue.Add(v.CurrentValue)
	}

	snap.TotalValue = snap.Cash.Add(snap.HoldingsValue)
	return snap
}
