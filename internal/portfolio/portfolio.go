// Package portfolio holds the trader's cash and open holdings and performs
// buy/sell accounting.
//
// Every check runs before any mutation, so a rejected command leaves the
// portfolio exactly as it was.
package portfolio

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/papertrade/internal/model"
)

var (
	// ErrInvalidQuantity is returned for a non-positive share count.
	ErrInvalidQuantity = errors.New("portfolio: share quantity must be a positive integer")

	// ErrInsufficientFunds is returned when a buy costs more than the cash on hand.
	ErrInsufficientFunds = errors.New("portfolio: insufficient funds")

	// ErrInsufficientShares is returned when a sell exceeds the shares held.
	ErrInsufficientShares = errors.New("portfolio: insufficient shares")

	// ErrNoSelection is returned when a sell targets no existing holding.
	ErrNoSelection = errors.New("portfolio: no holding selected")

	// ErrNoPrice is returned when the market has no price for a holding's ticker.
	ErrNoPrice = errors.New("portfolio: no market price for ticker")
)

// PriceLookup resolves the current market price of a ticker.
type PriceLookup func(ticker string) (decimal.Decimal, bool)

// Portfolio is not safe for concurrent use; the simulation controller
// serializes access.
type Portfolio struct {
	cash     decimal.Decimal
	holdings []model.Holding
}

// New creates a portfolio with the given starting cash.
func New(cash decimal.Decimal) *Portfolio {
	return &Portfolio{cash: cash}
}

// Cash returns the cash balance.
func (p *Portfolio) Cash() decimal.Decimal {
	return p.cash
}

// Len returns the number of open holdings.
func (p *Portfolio) Len() int {
	return len(p.holdings)
}

// Holdings returns a copy of the open holdings in purchase order.
func (p *Portfolio) Holdings() []model.Holding {
	out := make([]model.Holding, len(p.holdings))
	for i, h := range p.holdings {
		out[i] = h.Clone()
	}
	return out
}

// IndexOf returns the position of the holding with id, or -1.
func (p *Portfolio) IndexOf(id string) int {
	for i, h := range p.holdings {
		if h.ID == id {
			return i
		}
	}
	return -1
}

// Buy opens a new holding of shares at price, debiting price*shares.
// stopLoss is an absolute price threshold; nil attaches no stop-loss.
func (p *Portfolio) Buy(ticker string, price decimal.Decimal, shares int64, stopLoss *decimal.Decimal) (model.Holding, error) {
	if shares <= 0 {
		return model.Holding{}, fmt.Errorf("%w: got %d", ErrInvalidQuantity, shares)
	}

	cost := price.Mul(decimal.NewFromInt(shares))
	if cost.GreaterThan(p.cash) {
		return model.Holding{}, fmt.Errorf("%w: %d %s @ %s costs %s, cash is %s",
			ErrInsufficientFunds, shares, ticker, price, cost, p.cash)
	}

	h := model.Holding{
		ID:       uuid.New().String(),
		Ticker:   ticker,
		Shares:   shares,
		BuyPrice: price,
	}
	if stopLoss != nil {
		sl := *stopLoss
		h.StopLossPrice = &sl
	}

	p.cash = p.cash.Sub(cost)
	p.holdings = append(p.holdings, h)
	return h.Clone(), nil
}

// Sell sells shares of the holding at index at the current market price.
// Profit is (current - buy) * shares and may be negative. A holding sold
// down to zero shares is removed.
func (p *Portfolio) Sell(index int, shares int64, lookup PriceLookup) (model.SaleReceipt, error) {
	if index < 0 || index >= len(p.holdings) {
		return model.SaleReceipt{}, ErrNoSelection
	}
	if shares <= 0 {
		return model.SaleReceipt{}, fmt.Errorf("%w: got %d", ErrInvalidQuantity, shares)
	}

	h := p.holdings[index]
	if shares > h.Shares {
		return model.SaleReceipt{}, fmt.Errorf("%w: selling %d of %s, holding %d",
			ErrInsufficientShares, shares, h.Ticker, h.Shares)
	}

	price, ok := lookup(h.Ticker)
	if !ok {
		return model.SaleReceipt{}, fmt.Errorf("%w: %s", ErrNoPrice, h.Ticker)
	}

	return p.settle(index, shares, price, true), nil
}

// Liquidate closes the holding with id entirely at price. When credit is
// false the position is removed without any cash being returned.
func (p *Portfolio) Liquidate(id string, price decimal.Decimal, credit bool) (model.SaleReceipt, error) {
	i := p.IndexOf(id)
	if i < 0 {
		return model.SaleReceipt{}, fmt.Errorf("%w: holding %s", ErrNoSelection, id)
	}
	return p.settle(i, p.holdings[i].Shares, price, credit), nil
}

// settle applies a validated sale. Callers check index and shares.
func (p *Portfolio) settle(index int, shares int64, price decimal.Decimal, credit bool) model.SaleReceipt {
	h := &p.holdings[index]
	qty := decimal.NewFromInt(shares)

	receipt := model.SaleReceipt{
		HoldingID:  h.ID,
		Ticker:     h.Ticker,
		SharesSold: shares,
		Price:      price,
		Proceeds:   decimal.Zero,
		Profit:     price.Sub(h.BuyPrice).Mul(qty),
	}
	if credit {
		receipt.Proceeds = price.Mul(qty)
		p.cash = p.cash.Add(receipt.Proceeds)
	} else {
		// Forfeited: the whole cost basis is lost.
		receipt.Profit = h.BuyPrice.Mul(qty).Neg()
	}

	h.Shares -= shares
	if h.Shares == 0 {
		p.holdings = append(p.holdings[:index], p.holdings[index+1:]...)
		receipt.Closed = true
	}
	return receipt
}
