// Package market implements the synthetic market: a fixed set of securities
// whose prices follow an independent, driftless random walk with a floor.
//
// All prices use shopspring/decimal. The random draw is the only float64
// in the package and is converted immediately.
package market

import (
	"math/rand/v2"

	"github.com/shopspring/decimal"
)

var (
	// MinPrice is the price floor. No security ever trades below it.
	MinPrice = decimal.RequireFromString("0.01")

	// PriceScale is the number of decimal places kept on each tick's change.
	PriceScale int32 = 8

	two = decimal.NewFromInt(2)
)

// RandSource yields uniform samples in [0, 1). *rand.Rand satisfies it.
type RandSource interface {
	Float64() float64
}

// NewRandSource returns a seeded PCG generator so runs are reproducible.
func NewRandSource(seed uint64) RandSource {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Security is a single tradable instrument.
type Security struct {
	Ticker     string
	Price      decimal.Decimal
	Volatility decimal.Decimal
	History    []decimal.Decimal // append-only; History[0] is the initial price
}

// NewSecurity creates a security whose history starts at the initial price.
// A starting price below MinPrice is raised to it.
func NewSecurity(ticker string, price, volatility decimal.Decimal) *Security {
	if price.LessThan(MinPrice) {
		price = MinPrice
	}
	return &Security{
		Ticker:     ticker,
		Price:      price,
		Volatility: volatility,
		History:    []decimal.Decimal{price},
	}
}

// Fluctuate advances the price by one random step:
//
//	change = r*volatility - volatility/2,  r ~ U[0,1)
//	price  = max(price + change, MinPrice)
//
// and appends the new price to History.
func (s *Security) Fluctuate(rng RandSource) {
	r := decimal.NewFromFloat(rng.Float64())
	change := r.Mul(s.Volatility).Sub(s.Volatility.Div(two)).Round(PriceScale)

	next := s.Price.Add(change)
	if next.LessThan(MinPrice) {
		next = MinPrice
	}
	s.Price = next
	s.History = append(s.History, next)
}

// Previous returns the price one tick ago, or the current price if the
// security has not moved yet.
func (s *Security) Previous() decimal.Decimal {
	if len(s.History) < 2 {
		return s.Price
	}
	return s.History[len(s.History)-2]
}
