// Package instrument parses and validates the components of a ledger key:
// stock tickers and settlement currencies.
package instrument

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/valyalkin/piggy-backend/internal/model"
)

// tickerRegex matches exchange symbols such as AAPL, BRK.B, RDS-A or D05.
var tickerRegex = regexp.MustCompile(`^[A-Z0-9][A-Z0-9.\-]{0,14}$`)

var supportedCurrencies = map[model.Currency]bool{
	model.USD: true,
	model.SGD: true,
}

var (
	ErrInvalidTicker   = errors.New("instrument: invalid ticker")
	ErrInvalidCurrency = errors.New("instrument: unsupported currency")
	ErrInvalidUser     = errors.New("instrument: empty user id")
)

// ParseTicker trims and upper-cases ticker and checks it against the
// accepted symbol format.
func ParseTicker(ticker string) (string, error) {
	t := strings.ToUpper(strings.TrimSpace(ticker))
	if !tickerRegex.MatchString(t) {
		return "", fmt.Errorf("%w: %q (expected 1-15 of A-Z, 0-9, '.', '-')", ErrInvalidTicker, ticker)
	}
	return t, nil
}

// ParseCurrency accepts a supported ISO code in any case.
func ParseCurrency(ccy string) (model.Currency, error) {
	c := model.Currency(strings.ToUpper(strings.TrimSpace(ccy)))
	if !supportedCurrencies[c] {
		return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, ccy)
	}
	return c, nil
}

// ParseKey validates all three parts of a ledger key.
func ParseKey(userID, ticker, ccy string) (model.Key, error) {
	u := strings.TrimSpace(userID)
	if u == "" {
		return model.Key{}, ErrInvalidUser
	}
	t, err := ParseTicker(ticker)
	if err != nil {
		return model.Key{}, err
	}
	c, err := ParseCurrency(ccy)
	if err != nil {
		return model.Key{}, err
	}
	return model.Key{UserID: u, Ticker: t, Currency: c}, nil
}

// Currencies lists the supported currencies in a stable order.
func Currencies() []model.Currency {
	return []model.Currency{model.SGD, model.USD}
}
