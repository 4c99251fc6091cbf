package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TxType is the kind of money movement a transaction records.
type TxType string

const (
	Expense     TxType = "EXPENSE"
	Income      TxType = "INCOME"
	TransferIn  TxType = "XFER_IN"
	TransferOut TxType = "XFER_OUT"
)

// TxTypes lists every accepted transaction type.
var TxTypes = []TxType{Expense, Income, TransferIn, TransferOut}

func (t TxType) Valid() bool {
	for _, v := range TxTypes {
		if t == v {
			return true
		}
	}
	return false
}

// Debit reports whether the type takes money out of its source.
func (t TxType) Debit() bool {
	return t == Expense || t == TransferOut
}

// DateLayout is the wire and storage format of transaction dates.
const DateLayout = "2006-01-02"

// Date is a calendar date serialized as YYYY-MM-DD.
type Date struct {
	time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, err
	}
	return Date{t}, nil
}

func Today() Date {
	now := time.Now().UTC()
	return NewDate(now.Year(), now.Month(), now.Day())
}

func (d Date) String() string {
	return d.Format(DateLayout)
}

func (d Date) Equal(other Date) bool {
	return d.String() == other.String()
}

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	parsed, err := ParseDate(s)
	if err != nil {
		return fmt.Errorf("invalid date %q: %w", s, err)
	}
	*d = parsed
	return nil
}

type Transaction struct {
	EntryID     int64           `json:"entry_id"`
	TxID        string          `json:"tx_id"`
	UserID      string          `json:"uid"`
	Date        Date            `json:"date"`
	Description *string         `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Source      string          `json:"source"`
	Currency    string          `json:"currency"`
	TxType      TxType          `json:"tx_type"`
	Tags        []string        `json:"tags"`
}

// TransactionFilter narrows a transaction listing. Zero values are ignored.
type TransactionFilter struct {
	TxType    TxType
	Source    string
	Currency  string
	Tag       string
	StartDate *Date
	EndDate   *Date
}

// NewTxID returns a fresh public transaction identifier such as "2026-1A2B3C4D".
func NewTxID() string {
	return fmt.Sprintf("%d-%s", time.Now().Year(), strings.ToUpper(uuid.NewString()[:8]))
}
