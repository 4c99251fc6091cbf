package models

import "github.com/shopspring/decimal"

// AccType classifies a payment source.
type AccType string

const (
	Savings    AccType = "SAVINGS"
	Checking   AccType = "CHECKING"
	Cash       AccType = "CASH"
	Investment AccType = "INVESTMENT"
	EWallet    AccType = "EWALLET"
)

var AccTypes = []AccType{Savings, Checking, Cash, Investment, EWallet}

func (a AccType) Valid() bool {
	for _, v := range AccTypes {
		if a == v {
			return true
		}
	}
	return false
}

// UnknownSource is the reserved placeholder source name. Users cannot create it.
const UnknownSource = "unknown"

type PaymentSource struct {
	ID      int64   `json:"-"`
	UserID  string  `json:"uid"`
	Source  string  `json:"source"`
	AccType AccType `json:"acc_type"`
}

// CurrentAsset is the running balance of one payment source.
type CurrentAsset struct {
	ID       int64           `json:"-"`
	UserID   string          `json:"uid"`
	Source   string          `json:"source"`
	AccType  AccType         `json:"acc_type"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// AssetDelta is a signed change to apply to the balance of a user's source.
type AssetDelta struct {
	UserID string
	Source string
	Amount decimal.Decimal
}

type Currency struct {
	Code   string          `json:"code"`
	Name   string          `json:"name"`
	Symbol string          `json:"symbol"`
	Rate   decimal.Decimal `json:"rate"`
}
