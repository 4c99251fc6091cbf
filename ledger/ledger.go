// Package ledger derives CurrentAsset balance changes from transaction writes.
//
// A transaction's effect on its source is its signed amount converted into the
// currency the asset is kept in. Updating a transaction reverses the old effect
// and applies the new one; both land on the same asset when the source is kept.
package ledger

import (
	"errors"
	"fmt"

	"github.com/nemopss/fin-ng/finance/models"
	"github.com/shopspring/decimal"
)

var (
	ErrUnknownCurrency = errors.New("unknown currency")
	ErrUnknownSource   = errors.New("unknown source")
)

// Rates maps a currency code to the units of that currency per one USD.
type Rates map[string]decimal.Decimal

// RatesFrom indexes currencies by code.
func RatesFrom(currencies []models.Currency) Rates {
	r := make(Rates, len(currencies))
	for _, c := range currencies {
		r[c.Code] = c.Rate
	}
	return r
}

// Convert moves amount from one currency to another, rounded to cents.
func (r Rates) Convert(amount decimal.Decimal, from, to string) (decimal.Decimal, error) {
	if from == to {
		return amount, nil
	}
	fromRate, ok := r[from]
	if !ok || fromRate.IsZero() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownCurrency, from)
	}
	toRate, ok := r[to]
	if !ok || toRate.IsZero() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownCurrency, to)
	}
	return amount.Div(fromRate).Mul(toRate).Round(2), nil
}

// Sign forces the amount's sign to match the transaction type: debits are
// negative, credits positive.
func Sign(t models.TxType, amount decimal.Decimal) decimal.Decimal {
	abs := amount.Abs()
	if t.Debit() {
		return abs.Neg()
	}
	return abs
}

// Assets indexes a user's current assets by source name.
type Assets map[string]models.CurrentAsset

func AssetsFrom(list []models.CurrentAsset) Assets {
	a := make(Assets, len(list))
	for _, asset := range list {
		a[asset.Source] = asset
	}
	return a
}

// Effect is the change tx makes to its source's balance, in the asset's currency.
func Effect(tx models.Transaction, assets Assets, rates Rates) (decimal.Decimal, error) {
	asset, ok := assets[tx.Source]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownSource, tx.Source)
	}
	return rates.Convert(Sign(tx.TxType, tx.Amount), tx.Currency, asset.Currency)
}

// AffectsBalance reports whether going from old to updated changes any balance.
// Description, tags and date never do.
func AffectsBalance(old, updated models.Transaction) bool {
	return !old.Amount.Equal(updated.Amount) ||
		old.Source != updated.Source ||
		old.TxType != updated.TxType ||
		old.Currency != updated.Currency
}

// CreateDeltas returns the asset changes for newly recorded transactions, one
// entry per affected source.
func CreateDeltas(txs []models.Transaction, assets Assets, rates Rates) ([]models.AssetDelta, error) {
	b := newBook()
	for _, tx := range txs {
		if err := b.apply(tx, assets, rates, false); err != nil {
			return nil, err
		}
	}
	return b.deltas(), nil
}

// UpdateDeltas returns the asset changes for replacing old with updated, or
// nil when the update leaves every balance alone.
func UpdateDeltas(old, updated models.Transaction, assets Assets, rates Rates) ([]models.AssetDelta, error) {
	if !AffectsBalance(old, updated) {
		return nil, nil
	}
	b := newBook()
	if err := b.apply(old, assets, rates, true); err != nil {
		return nil, err
	}
	if err := b.apply(updated, assets, rates, false); err != nil {
		return nil, err
	}
	return b.deltas(), nil
}

// DeleteDeltas returns the asset change that undoes tx.
func DeleteDeltas(tx models.Transaction, assets Assets, rates Rates) ([]models.AssetDelta, error) {
	b := newBook()
	if err := b.apply(tx, assets, rates, true); err != nil {
		return nil, err
	}
	return b.deltas(), nil
}

// Total sums txs in the given currency.
func Total(txs []models.Transaction, currency string, rates Rates) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, tx := range txs {
		amount, err := rates.Convert(Sign(tx.TxType, tx.Amount), tx.Currency, currency)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(amount)
	}
	return total, nil
}

// book accumulates per-source changes in first-seen order.
type book struct {
	order   []string
	userID  map[string]string
	amounts map[string]decimal.Decimal
}

func newBook() *book {
	return &book{
		userID:  make(map[string]string),
		amounts: make(map[string]decimal.Decimal),
	}
}

func (b *book) apply(tx models.Transaction, assets Assets, rates Rates, reverse bool) error {
	effect, err := Effect(tx, assets, rates)
	if err != nil {
		return err
	}
	if reverse {
		effect = effect.Neg()
	}
	if _, seen := b.amounts[tx.Source]; !seen {
		b.order = append(b.order, tx.Source)
		b.userID[tx.Source] = tx.UserID
	}
	b.amounts[tx.Source] = b.amounts[tx.Source].Add(effect)
	return nil
}

func (b *book) deltas() []models.AssetDelta {
	var out []models.AssetDelta
	for _, source := range b.order {
		amount := b.amounts[source]
		if amount.IsZero() {
			continue
		}
		out = append(out, models.AssetDelta{
			UserID: b.userID[source],
			Source: source,
			Amount: amount,
		})
	}
	return out
}
