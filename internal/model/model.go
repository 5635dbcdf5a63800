// Package model defines the core domain types shared across the ledger.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Kind is the direction of a transaction.
type Kind string

const (
	Buy  Kind = "BUY"
	Sell Kind = "SELL"
)

// Valid reports whether k is BUY or SELL.
func (k Kind) Valid() bool {
	return k == Buy || k == Sell
}

// Currency is the settlement currency of a ledger.
type Currency string

const (
	USD Currency = "USD"
	SGD Currency = "SGD"
)

// PriceScale is the minimum number of fractional digits carried by prices
// and amounts. It matches the NUMERIC money columns of the ledger tables.
const PriceScale int32 = 2

var priceFloor = decimal.New(0, -PriceScale)

// NormalizePrice widens p to at least PriceScale fractional digits without
// changing its value. Digits beyond PriceScale are kept as given.
func NormalizePrice(p decimal.Decimal) decimal.Decimal {
	return p.Add(priceFloor)
}

// FormatDecimal renders d with every fractional digit it carries, trailing
// zeros included, so "100.00" stays "100.00". Decimal.String trims them.
func FormatDecimal(d decimal.Decimal) string {
	if exp := d.Exponent(); exp < 0 {
		return d.StringFixed(-exp)
	}
	return d.String()
}

// Key scopes one independent ledger: one owner, one instrument, one currency.
type Key struct {
	UserID   string   `json:"user_id"`
	Ticker   string   `json:"ticker"`
	Currency Currency `json:"currency"`
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.UserID, k.Ticker, k.Currency)
}

// Transaction is an immutable BUY or SELL fact.
// Once stored, these are never modified or deleted.
type Transaction struct {
	ID        string          `json:"id" db:"id"`
	UserID    string          `json:"user_id" db:"user_id"`
	Ticker    string          `json:"ticker" db:"ticker"`
	Currency  Currency        `json:"currency" db:"currency"`
	Timestamp time.Time       `json:"date" db:"executed_at"`
	Kind      Kind            `json:"transaction_type" db:"kind"`
	Quantity  int64           `json:"quantity" db:"quantity"`
	Price     decimal.Decimal `json:"price" db:"price"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Key returns the ledger the transaction belongs to.
func (t Transaction) Key() Key {
	return Key{UserID: t.UserID, Ticker: t.Ticker, Currency: t.Currency}
}

func (t Transaction) MarshalJSON() ([]byte, error) {
	type plain Transaction
	return json.Marshal(struct {
		plain
		Price string `json:"price"`
	}{plain(t), FormatDecimal(t.Price)})
}

// Holding is the derived position for one key. The average cost is kept
// as last computed when the quantity reaches zero.
type Holding struct {
	ID          string          `json:"id" db:"id"`
	UserID      string          `json:"user_id" db:"user_id"`
	Ticker      string          `json:"ticker" db:"ticker"`
	Currency    Currency        `json:"currency" db:"currency"`
	Quantity    int64           `json:"quantity" db:"quantity"`
	AverageCost decimal.Decimal `json:"average_price" db:"average_cost"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// Key returns the ledger the holding summarises.
func (h Holding) Key() Key {
	return Key{UserID: h.UserID, Ticker: h.Ticker, Currency: h.Currency}
}

func (h Holding) MarshalJSON() ([]byte, error) {
	type plain Holding
	return json.Marshal(struct {
		plain
		AverageCost string `json:"average_price"`
	}{plain(h), FormatDecimal(h.AverageCost)})
}

// RealizedEvent is the profit or loss crystallised by one SELL.
// Amount is signed: positive is a gain.
type RealizedEvent struct {
	ID        string          `json:"id" db:"id"`
	UserID    string          `json:"user_id" db:"user_id"`
	Ticker    string          `json:"ticker" db:"ticker"`
	Currency  Currency        `json:"currency" db:"currency"`
	Timestamp time.Time       `json:"date" db:"realized_at"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
}

func (e RealizedEvent) MarshalJSON() ([]byte, error) {
	type plain RealizedEvent
	return json.Marshal(struct {
		plain
		Amount string `json:"amount"`
	}{plain(e), FormatDecimal(e.Amount)})
}

// Page is one slice of a paged listing.
type Page[T any] struct {
	Items    []T   `json:"items"`
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
	Total    int64 `json:"total"`
}
