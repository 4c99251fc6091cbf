package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/nemopss/fin-ng/finance/ledger"
	"github.com/nemopss/fin-ng/finance/models"
	"github.com/shopspring/decimal"
)

const (
	msgRequired   = "This field is required."
	msgNull       = "This field may not be null."
	msgBlank      = "This field may not be blank."
	msgNotString  = "Not a valid string."
	msgList       = "Expected a single value but got a list."
	msgNumber     = "A valid number is required."
	msgPlaces     = "Ensure that there are no more than 2 decimal places."
	msgDigits     = "Ensure that there are no more than 10 digits in total."
	msgDate       = "Date has wrong format. Use one of these formats instead: YYYY-MM-DD."
	msgUUID       = "Must be a valid UUID."
	msgOtherUser  = "Does not match the authenticated user."
	msgNoSource   = "Source does not exist."
	msgNoCurrency = "Currency does not exist."
)

const (
	maxSourceLen      = 50
	maxCurrencyLen    = 3
	maxTagLen         = 200
	maxDescriptionLen = 200
)

// maxAmount is the first value needing more than 8 integer digits.
var maxAmount = decimal.New(1, 8)

// errForbiddenField is returned when a client tries to write a generated identifier.
var errForbiddenField = errors.New("tx_id and entry_id are generated and cannot be set")

// FieldErrors maps a request field to its validation messages.
type FieldErrors map[string][]string

func (e FieldErrors) add(field, msg string) {
	e[field] = append(e[field], msg)
}

func (e FieldErrors) has(field string) bool {
	return len(e[field]) > 0
}

func (e FieldErrors) Error() string {
	fields := make([]string, 0, len(e))
	for f := range e {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f+": "+strings.Join(e[f], " "))
	}
	return "invalid fields: " + strings.Join(parts, "; ")
}

// transactionInput is a transaction body whose fields passed type checks.
// Fields that failed are left at their zero value.
type transactionInput struct {
	UserID      string
	Date        models.Date
	Description *string
	Amount      decimal.Decimal
	Source      string
	Currency    string
	TxType      models.TxType
	Tags        []string
}

// apply overlays the input onto an existing transaction, keeping its identifiers.
func (in transactionInput) apply(current models.Transaction) models.Transaction {
	next := current
	next.Date = in.Date
	next.Description = in.Description
	next.Amount = in.Amount
	next.Source = in.Source
	next.Currency = in.Currency
	next.TxType = in.TxType
	next.Tags = in.Tags
	return next
}

func (in transactionInput) transaction() models.Transaction {
	return in.apply(models.Transaction{UserID: in.UserID})
}

type jsonKind int

const (
	kindMissing jsonKind = iota
	kindNull
	kindString
	kindNumber
	kindBool
	kindArray
	kindObject
)

func kindOf(raw json.RawMessage, present bool) jsonKind {
	if !present {
		return kindMissing
	}
	b := bytes.TrimSpace(raw)
	if len(b) == 0 {
		return kindNull
	}
	switch b[0] {
	case 'n':
		return kindNull
	case '"':
		return kindString
	case '[':
		return kindArray
	case '{':
		return kindObject
	case 't', 'f':
		return kindBool
	}
	return kindNumber
}

// checkForbidden rejects bodies that carry tx_id or entry_id.
func checkForbidden(body map[string]json.RawMessage) error {
	for _, key := range []string{"tx_id", "entry_id"} {
		raw, ok := body[key]
		if ok && kindOf(raw, true) != kindNull {
			return errForbiddenField
		}
	}
	return nil
}

// decodeTransactionInput type-checks and normalizes a transaction body sent by
// userID. It returns errForbiddenField before looking at anything else, and
// FieldErrors covering every bad field otherwise.
func decodeTransactionInput(body map[string]json.RawMessage, userID string) (transactionInput, error) {
	if err := checkForbidden(body); err != nil {
		return transactionInput{}, err
	}

	var (
		in   transactionInput
		errs = FieldErrors{}
	)

	if s, ok := requiredString(body, "uid", 0, errs); ok {
		id, err := uuid.Parse(s)
		switch {
		case err != nil:
			errs.add("uid", msgUUID)
		case !strings.EqualFold(id.String(), userID):
			errs.add("uid", msgOtherUser)
		default:
			in.UserID = userID
		}
	}

	if s, ok := requiredString(body, "date", 0, errs); ok {
		d, err := models.ParseDate(s)
		if err != nil {
			errs.add("date", msgDate)
		} else {
			in.Date = d
		}
	}

	if s, ok := requiredString(body, "source", maxSourceLen, errs); ok {
		in.Source = strings.ToLower(s)
	}

	if s, ok := requiredString(body, "currency", maxCurrencyLen, errs); ok {
		in.Currency = strings.ToUpper(s)
	}

	if s, ok := requiredString(body, "tx_type", 0, errs); ok {
		t := models.TxType(strings.ToUpper(s))
		if !t.Valid() {
			errs.add("tx_type", fmt.Sprintf("%q is not a valid choice.", s))
		} else {
			in.TxType = t
		}
	}

	if amount, ok := decodeAmount(body, errs); ok {
		in.Amount = amount
		if in.TxType != "" {
			in.Amount = ledger.Sign(in.TxType, amount)
		}
	}

	in.Tags = decodeTags(body, errs)
	in.Description = decodeDescription(body, errs)

	if len(errs) > 0 {
		return in, errs
	}
	return in, nil
}

// requiredString reads a non-blank string field. maxLen of 0 means unbounded.
func requiredString(body map[string]json.RawMessage, field string, maxLen int, errs FieldErrors) (string, bool) {
	raw, present := body[field]
	switch kindOf(raw, present) {
	case kindMissing:
		errs.add(field, msgRequired)
		return "", false
	case kindNull:
		errs.add(field, msgNull)
		return "", false
	case kindArray:
		errs.add(field, msgList)
		return "", false
	case kindString:
	default:
		errs.add(field, msgNotString)
		return "", false
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		errs.add(field, msgNotString)
		return "", false
	}
	s = strings.TrimSpace(s)
	if s == "" {
		errs.add(field, msgBlank)
		return "", false
	}
	if maxLen > 0 && len([]rune(s)) > maxLen {
		errs.add(field, fmt.Sprintf("Ensure this field has no more than %d characters.", maxLen))
		return "", false
	}
	return s, true
}

// decodeAmount accepts a JSON string, float or int and returns it as a
// decimal with at most two places.
func decodeAmount(body map[string]json.RawMessage, errs FieldErrors) (decimal.Decimal, bool) {
	const field = "amount"
	raw, present := body[field]

	var text string
	switch kindOf(raw, present) {
	case kindMissing:
		errs.add(field, msgRequired)
		return decimal.Zero, false
	case kindNull:
		errs.add(field, msgNull)
		return decimal.Zero, false
	case kindArray:
		errs.add(field, msgList)
		return decimal.Zero, false
	case kindNumber:
		text = string(bytes.TrimSpace(raw))
	case kindString:
		if err := json.Unmarshal(raw, &text); err != nil {
			errs.add(field, msgNumber)
			return decimal.Zero, false
		}
		text = strings.TrimSpace(text)
		if text == "" {
			errs.add(field, msgBlank)
			return decimal.Zero, false
		}
	default:
		errs.add(field, msgNumber)
		return decimal.Zero, false
	}

	d, err := decimal.NewFromString(text)
	if err != nil {
		errs.add(field, msgNumber)
		return decimal.Zero, false
	}
	if msg := checkMagnitude(d); msg != "" {
		errs.add(field, msg)
		return decimal.Zero, false
	}
	if d.IsZero() {
		return decimal.Zero, true
	}
	if !d.Equal(d.Truncate(2)) {
		errs.add(field, msgPlaces)
		return decimal.Zero, false
	}
	if d.Abs().GreaterThanOrEqual(maxAmount) {
		errs.add(field, msgDigits)
		return decimal.Zero, false
	}
	return d.Round(2), true
}

// maxIntegerDigits matches maxAmount.
const maxIntegerDigits = 8

// checkMagnitude rejects amounts from their coefficient length and exponent
// alone. Comparing or truncating rescales the coefficient by ten to the
// exponent, so "1e2000000000" must be refused before either runs.
func checkMagnitude(d decimal.Decimal) string {
	coef := d.Coefficient()
	if coef.Sign() == 0 {
		return ""
	}
	digits := len(coef.Abs(coef).Text(10))
	exp := int(d.Exponent())
	if digits+exp > maxIntegerDigits {
		return msgDigits
	}
	// A nonzero coefficient shorter than the zeros needed to reach whole
	// cents cannot be a whole number of cents.
	if exp < -2 && -exp-2 > digits {
		return msgPlaces
	}
	return ""
}

// decodeTags normalizes tags: missing, null, "" and [] become an empty list, a
// single string becomes a one-element list, duplicates are dropped.
func decodeTags(body map[string]json.RawMessage, errs FieldErrors) []string {
	const field = "tags"
	raw, present := body[field]

	var list []string
	switch kindOf(raw, present) {
	case kindMissing, kindNull:
		return []string{}
	case kindString:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			errs.add(field, msgNotString)
			return []string{}
		}
		if strings.TrimSpace(s) == "" {
			return []string{}
		}
		list = []string{s}
	case kindArray:
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			errs.add(field, msgNotString)
			return []string{}
		}
		for _, item := range items {
			var s string
			if kindOf(item, true) != kindString || json.Unmarshal(item, &s) != nil {
				errs.add(field, msgNotString)
				return []string{}
			}
			list = append(list, s)
		}
	default:
		errs.add(field, fmt.Sprintf("Expected a list of items but got type %q.", kindName(kindOf(raw, present))))
		return []string{}
	}

	tags := make([]string, 0, len(list))
	seen := make(map[string]bool, len(list))
	for _, s := range list {
		s = strings.TrimSpace(s)
		if s == "" {
			errs.add(field, msgBlank)
			return []string{}
		}
		if len([]rune(s)) > maxTagLen {
			errs.add(field, fmt.Sprintf("Ensure this field has no more than %d characters.", maxTagLen))
			return []string{}
		}
		if !seen[s] {
			seen[s] = true
			tags = append(tags, s)
		}
	}
	return tags
}

// decodeDescription returns nil for a missing, null or blank description.
func decodeDescription(body map[string]json.RawMessage, errs FieldErrors) *string {
	const field = "description"
	raw, present := body[field]

	switch kindOf(raw, present) {
	case kindMissing, kindNull:
		return nil
	case kindArray:
		errs.add(field, msgList)
		return nil
	case kindString:
	default:
		errs.add(field, msgNotString)
		return nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		errs.add(field, msgNotString)
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if len([]rune(s)) > maxDescriptionLen {
		errs.add(field, fmt.Sprintf("Ensure this field has no more than %d characters.", maxDescriptionLen))
		return nil
	}
	return &s
}

func kindName(k jsonKind) string {
	switch k {
	case kindNumber:
		return "number"
	case kindBool:
		return "bool"
	case kindObject:
		return "object"
	}
	return "unknown"
}

// checkReferences verifies that source and currency name things the user can
// book against. Fields that already failed type checks are skipped.
func checkReferences(in transactionInput, assets ledger.Assets, rates ledger.Rates, errs FieldErrors) {
	if in.Source != "" && !errs.has("source") {
		if _, ok := assets[in.Source]; !ok {
			errs.add("source", msgNoSource)
		}
	}
	if in.Currency != "" && !errs.has("currency") {
		if _, ok := rates[in.Currency]; !ok {
			errs.add("currency", msgNoCurrency)
		}
	}
}
