package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nemopss/fin-ng/finance/db"
	"github.com/nemopss/fin-ng/finance/ledger"
	"github.com/nemopss/fin-ng/finance/models"
)

var errNotObject = errors.New("request body must be a JSON object")

func decodeObject(data []byte) (map[string]json.RawMessage, error) {
	if kindOf(data, true) != kindObject {
		return nil, errNotObject
	}
	var body map[string]json.RawMessage
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, err
	}
	return body, nil
}

// CreateTransaction godoc
// @Summary Create one or more transactions
// @Description Accepts a single transaction or a list. Amounts are signed by tx_type:
// @Description EXPENSE and XFER_OUT become negative, INCOME and XFER_IN positive.
// @Description tx_id and entry_id are generated; setting either returns 403.
// @Tags transactions
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Success 201 {object} models.Transaction
// @Failure 400 {object} models.FieldErrorsResponse
// @Failure 403 {object} models.ErrorResponse
// @Router /transactions [post]
func (h *Handler) CreateTransaction(c *gin.Context) {
	uid := currentUserID(c)
	data, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var bodies []map[string]json.RawMessage
	many := kindOf(data, true) == kindArray
	if many {
		if err := json.Unmarshal(data, &bodies); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if len(bodies) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "no transactions given"})
			return
		}
	} else {
		body, err := decodeObject(data)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		bodies = append(bodies, body)
	}

	for _, body := range bodies {
		if err := checkForbidden(body); err != nil {
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
			return
		}
	}

	assets, rates, err := h.references(c.Request.Context(), uid)
	if err != nil {
		h.internalError(c, err)
		return
	}

	txs := make([]models.Transaction, len(bodies))
	allErrs := make([]FieldErrors, len(bodies))
	failed := false
	for i, body := range bodies {
		if body == nil {
			body = map[string]json.RawMessage{}
		}
		// New transactions default to today.
		if raw, ok := body["date"]; !ok || kindOf(raw, true) == kindNull {
			body["date"], _ = json.Marshal(models.Today())
		}

		in, err := decodeTransactionInput(body, uid)
		errs := FieldErrors{}
		errors.As(err, &errs)
		checkReferences(in, assets, rates, errs)
		if len(errs) > 0 {
			failed = true
		}
		allErrs[i] = errs
		txs[i] = in.transaction()
	}
	if failed {
		if many {
			c.JSON(http.StatusBadRequest, allErrs)
		} else {
			c.JSON(http.StatusBadRequest, allErrs[0])
		}
		return
	}

	deltas, err := ledger.CreateDeltas(txs, assets, rates)
	if err != nil {
		h.internalError(c, err)
		return
	}
	created, err := h.storage.CreateTransactions(c.Request.Context(), txs, deltas)
	if err != nil {
		h.internalError(c, err)
		return
	}

	h.log.Info().Str("uid", uid).Int("count", len(created)).Msg("Transactions created")
	if many {
		c.JSON(http.StatusCreated, created)
		return
	}
	c.JSON(http.StatusCreated, created[0])
}

// PatchTransaction godoc
// @Summary Update a transaction
// @Description Replaces the editable fields of a transaction. amount, source, currency,
// @Description tx_type, uid and date are required; tags and description may be omitted.
// @Description Setting tx_id or entry_id returns 403. Balance changes are applied to the
// @Description affected assets in the same database transaction.
// @Tags transactions
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "Transaction ID"
// @Success 200 {object} models.Transaction
// @Failure 400 {object} models.FieldErrorsResponse
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /transactions/{id} [patch]
func (h *Handler) PatchTransaction(c *gin.Context) {
	uid := currentUserID(c)
	txID := c.Param("id")

	data, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	body, err := decodeObject(data)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	in, err := decodeTransactionInput(body, uid)
	if errors.Is(err, errForbiddenField) {
		h.log.Warn().Str("uid", uid).Str("tx_id", txID).Msg("Rejected identifier write")
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	}
	errs := FieldErrors{}
	errors.As(err, &errs)

	assets, rates, err := h.references(c.Request.Context(), uid)
	if err != nil {
		h.internalError(c, err)
		return
	}
	checkReferences(in, assets, rates, errs)
	if len(errs) > 0 {
		c.JSON(http.StatusBadRequest, errs)
		return
	}

	updated, err := h.storage.UpdateTransaction(c.Request.Context(), uid, txID,
		func(current models.Transaction) (models.Transaction, []models.AssetDelta, error) {
			next := in.apply(current)
			deltas, err := ledger.UpdateDeltas(current, next, assets, rates)
			return next, deltas, err
		})
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "transaction not found"})
		return
	}
	if err != nil {
		h.internalError(c, err)
		return
	}

	h.log.Info().Str("uid", uid).Str("tx_id", txID).Msg("Transaction updated")
	c.JSON(http.StatusOK, updated)
}

// GetTransaction godoc
// @Summary Get a transaction
// @Tags transactions
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "Transaction ID"
// @Success 200 {object} models.GetTransactionResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /transactions/{id} [get]
func (h *Handler) GetTransaction(c *gin.Context) {
	tx, err := h.storage.GetTransaction(c.Request.Context(), currentUserID(c), c.Param("id"))
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "transaction not found"})
		return
	}
	if err != nil {
		h.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.GetTransactionResponse{Transaction: *tx, Amount: tx.Amount})
}

// GetTransactions godoc
// @Summary List transactions
// @Description amount is the signed total of the listed transactions in the user's base currency.
// @Tags transactions
// @Produce json
// @Security ApiKeyAuth
// @Param tx_type query string false "EXPENSE, INCOME, XFER_IN or XFER_OUT"
// @Param source query string false "Payment source"
// @Param currency_code query string false "Currency code"
// @Param tag_name query string false "Tag"
// @Param start_date query string false "YYYY-MM-DD, inclusive"
// @Param end_date query string false "YYYY-MM-DD, inclusive"
// @Param month query int false "1-12; the year defaults to the current one"
// @Param year query int false "Calendar year"
// @Param current_month query bool false "Only the current calendar month"
// @Success 200 {object} models.GetTransactionsResponse
// @Failure 400 {object} models.FieldErrorsResponse
// @Router /transactions [get]
func (h *Handler) GetTransactions(c *gin.Context) {
	uid := currentUserID(c)
	filter, errs := parseFilter(c)
	if len(errs) > 0 {
		c.JSON(http.StatusBadRequest, errs)
		return
	}

	ctx := c.Request.Context()
	transactions, err := h.storage.GetTransactions(ctx, uid, filter)
	if err != nil {
		h.internalError(c, err)
		return
	}
	user, err := h.storage.GetUser(ctx, uid)
	if err != nil {
		h.internalError(c, err)
		return
	}
	currencies, err := h.storage.GetCurrencies(ctx)
	if err != nil {
		h.internalError(c, err)
		return
	}
	total, err := ledger.Total(transactions, user.BaseCurrency, ledger.RatesFrom(currencies))
	if err != nil {
		h.internalError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.GetTransactionsResponse{Transactions: transactions, Amount: total})
}

func parseFilter(c *gin.Context) (models.TransactionFilter, FieldErrors) {
	var f models.TransactionFilter
	errs := FieldErrors{}

	if v := c.Query("tx_type"); v != "" {
		f.TxType = models.TxType(strings.ToUpper(v))
		if !f.TxType.Valid() {
			errs.add("tx_type", fmt.Sprintf("%q is not a valid choice.", v))
		}
	}
	f.Source = strings.ToLower(c.Query("source"))
	f.Currency = strings.ToUpper(c.Query("currency_code"))
	f.Tag = c.Query("tag_name")

	for _, p := range []struct {
		name string
		dst  **models.Date
	}{
		{"start_date", &f.StartDate},
		{"end_date", &f.EndDate},
	} {
		v := c.Query(p.name)
		if v == "" {
			continue
		}
		d, err := models.ParseDate(v)
		if err != nil {
			errs.add(p.name, msgDate)
			continue
		}
		*p.dst = &d
	}

	month, year, current := c.Query("month"), c.Query("year"), c.Query("current_month")
	today := models.Today()

	if current != "" {
		on, err := strconv.ParseBool(current)
		if err != nil {
			errs.add("current_month", "Must be a valid boolean.")
		} else if on {
			narrowPeriod(&f, today.Year(), today.Month(), today.Month())
		}
	}

	y := today.Year()
	if year != "" {
		n, err := strconv.Atoi(year)
		if err != nil || n < 1 || n > 9999 {
			errs.add("year", "A valid year is required.")
			return f, errs
		}
		y = n
	}
	switch {
	case month != "":
		n, err := strconv.Atoi(month)
		if err != nil || n < 1 || n > 12 {
			errs.add("month", "A valid month between 1 and 12 is required.")
			return f, errs
		}
		narrowPeriod(&f, y, time.Month(n), time.Month(n))
	case year != "":
		narrowPeriod(&f, y, time.January, time.December)
	}
	return f, errs
}

// narrowPeriod intersects the filter's date range with the months first..last
// of year.
func narrowPeriod(f *models.TransactionFilter, year int, first, last time.Month) {
	from := models.NewDate(year, first, 1)
	to := models.NewDate(year, last+1, 0)
	if f.StartDate == nil || from.After(f.StartDate.Time) {
		f.StartDate = &from
	}
	if f.EndDate == nil || to.Before(f.EndDate.Time) {
		f.EndDate = &to
	}
}

// DeleteTransaction godoc
// @Summary Delete a transaction
// @Description Reverses the transaction's effect on its asset before deleting it.
// @Tags transactions
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "Transaction ID"
// @Success 200 {object} models.DeleteTransactionResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /transactions/{id} [delete]
func (h *Handler) DeleteTransaction(c *gin.Context) {
	uid := currentUserID(c)
	txID := c.Param("id")

	assets, rates, err := h.references(c.Request.Context(), uid)
	if err != nil {
		h.internalError(c, err)
		return
	}

	deleted, err := h.storage.DeleteTransaction(c.Request.Context(), uid, txID,
		func(current models.Transaction) ([]models.AssetDelta, error) {
			return ledger.DeleteDeltas(current, assets, rates)
		})
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "transaction not found"})
		return
	}
	if err != nil {
		h.internalError(c, err)
		return
	}

	h.log.Info().Str("uid", uid).Str("tx_id", txID).Msg("Transaction deleted")
	c.JSON(http.StatusOK, models.DeleteTransactionResponse{Deleted: *deleted})
}

// GetTags godoc
// @Summary List the tags used by the current user
// @Tags transactions
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {array} string
// @Router /tags [get]
func (h *Handler) GetTags(c *gin.Context) {
	tags, err := h.storage.GetTags(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, tags)
}
