package market

import (
	"errors"
	"fmt"
	"regexp"
)

// tickerRegex matches 1-5 upper-case letters with an optional share-class
// suffix. Examples: AAPL, FB, BRK.B
var tickerRegex = regexp.MustCompile(`^[A-Z]{1,5}(\.[A-Z])?$`)

var (
	ErrInvalidTicker   = errors.New("market: invalid ticker format")
	ErrDuplicateTicker = errors.New("market: duplicate ticker")
	ErrUnknownTicker   = errors.New("market: unknown ticker")
	ErrNoSecurities    = errors.New("market: at least one security is required")
	ErrInvalidListing  = errors.New("market: invalid listing")
)

// ValidateTicker checks a ticker symbol against the accepted format.
func ValidateTicker(ticker string) error {
	if !tickerRegex.MatchString(ticker) {
		return fmt.Errorf("%w: %q (expected 1-5 upper-case letters, optional .CLASS)",
			ErrInvalidTicker, ticker)
	}
	return nil
}
