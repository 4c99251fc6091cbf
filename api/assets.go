package api

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/nemopss/fin-ng/finance/db"
	"github.com/nemopss/fin-ng/finance/models"
)

// CreateSource godoc
// @Summary Create a payment source
// @Description Also creates the source's asset with a zero balance in the user's base currency.
// @Tags sources
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param source body models.CreateSource true "Source"
// @Success 201 {object} models.PaymentSource
// @Failure 400 {object} models.FieldErrorsResponse
// @Failure 403 {object} models.ErrorResponse
// @Router /sources [post]
func (h *Handler) CreateSource(c *gin.Context) {
	uid := currentUserID(c)
	var req models.CreateSource
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	source := strings.ToLower(strings.TrimSpace(req.Source))
	accType := models.AccType(strings.ToUpper(strings.TrimSpace(req.AccType)))
	if source == models.UnknownSource {
		c.JSON(http.StatusForbidden, gin.H{"error": "source name \"unknown\" is reserved"})
		return
	}

	errs := FieldErrors{}
	checkSourceFields(source, accType, req.AccType, errs)
	if len(errs) > 0 {
		c.JSON(http.StatusBadRequest, errs)
		return
	}

	ps, err := h.storage.CreateSource(c.Request.Context(), uid, source, accType)
	if errors.Is(err, db.ErrDuplicate) {
		c.JSON(http.StatusBadRequest, FieldErrors{"source": {"Source already exists."}})
		return
	}
	if err != nil {
		h.internalError(c, err)
		return
	}

	h.log.Info().Str("uid", uid).Str("source", source).Msg("Source created")
	c.JSON(http.StatusCreated, ps)
}

func checkSourceFields(source string, accType models.AccType, rawAccType string, errs FieldErrors) {
	switch {
	case source == "":
		errs.add("source", msgBlank)
	case len([]rune(source)) > maxSourceLen:
		errs.add("source", fmt.Sprintf("Ensure this field has no more than %d characters.", maxSourceLen))
	}
	if !accType.Valid() {
		errs.add("acc_type", fmt.Sprintf("%q is not a valid choice.", rawAccType))
	}
}

// UpdateSource godoc
// @Summary Rename a payment source or change its account type
// @Description Transactions booked against the source follow the new name; its asset keeps its balance.
// @Description Omitted fields keep their current value.
// @Tags sources
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param source path string true "Payment source"
// @Param body body models.UpdateSource true "Changes"
// @Success 200 {object} models.PaymentSource
// @Failure 400 {object} models.FieldErrorsResponse
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /sources/{source} [put]
func (h *Handler) UpdateSource(c *gin.Context) {
	uid := currentUserID(c)
	source := strings.ToLower(c.Param("source"))
	if source == models.UnknownSource {
		c.JSON(http.StatusForbidden, gin.H{"error": "source \"unknown\" cannot be changed"})
		return
	}

	var req models.UpdateSource
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	sources, err := h.storage.GetSources(ctx, uid)
	if err != nil {
		h.internalError(c, err)
		return
	}
	i := slices.IndexFunc(sources, func(ps models.PaymentSource) bool { return ps.Source == source })
	if i < 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "source not found"})
		return
	}
	current := sources[i]

	newName, rawAccType := current.Source, string(current.AccType)
	if req.Source != nil {
		newName = strings.ToLower(strings.TrimSpace(*req.Source))
	}
	if req.AccType != nil {
		rawAccType = *req.AccType
	}
	accType := models.AccType(strings.ToUpper(strings.TrimSpace(rawAccType)))
	if newName == models.UnknownSource {
		c.JSON(http.StatusForbidden, gin.H{"error": "source name \"unknown\" is reserved"})
		return
	}

	errs := FieldErrors{}
	checkSourceFields(newName, accType, rawAccType, errs)
	if len(errs) > 0 {
		c.JSON(http.StatusBadRequest, errs)
		return
	}

	ps, err := h.storage.UpdateSource(ctx, uid, source, newName, accType)
	switch {
	case errors.Is(err, db.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "source not found"})
		return
	case errors.Is(err, db.ErrDuplicate):
		c.JSON(http.StatusBadRequest, FieldErrors{"source": {"Source already exists."}})
		return
	case err != nil:
		h.internalError(c, err)
		return
	}

	h.log.Info().Str("uid", uid).Str("source", source).Str("renamed", newName).Msg("Source updated")
	c.JSON(http.StatusOK, ps)
}

// DeleteSource godoc
// @Summary Delete a payment source
// @Description Also deletes its asset. Sources that still have transactions cannot be deleted.
// @Tags sources
// @Produce json
// @Security ApiKeyAuth
// @Param source path string true "Payment source"
// @Success 200 {object} models.DeleteSourceResponse
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Router /sources/{source} [delete]
func (h *Handler) DeleteSource(c *gin.Context) {
	uid := currentUserID(c)
	source := strings.ToLower(c.Param("source"))
	if source == models.UnknownSource {
		c.JSON(http.StatusForbidden, gin.H{"error": "source \"unknown\" cannot be deleted"})
		return
	}

	ps, err := h.storage.DeleteSource(c.Request.Context(), uid, source)
	switch {
	case errors.Is(err, db.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "source not found"})
		return
	case errors.Is(err, db.ErrInUse):
		c.JSON(http.StatusConflict, gin.H{"error": "source still has transactions"})
		return
	case err != nil:
		h.internalError(c, err)
		return
	}

	h.log.Info().Str("uid", uid).Str("source", source).Msg("Source deleted")
	c.JSON(http.StatusOK, models.DeleteSourceResponse{Deleted: *ps})
}

// ForbiddenPatchSource godoc
// @Summary Sources cannot be patched
// @Description Use PUT to rename a source or change its account type.
// @Tags sources
// @Produce json
// @Security ApiKeyAuth
// @Param source path string true "Payment source"
// @Failure 403 {object} models.ErrorResponse
// @Router /sources/{source} [patch]
func (h *Handler) ForbiddenPatchSource(c *gin.Context) {
	c.JSON(http.StatusForbidden, gin.H{"error": "sources are updated with PUT"})
}

// GetSources godoc
// @Summary List payment sources
// @Tags sources
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {array} models.PaymentSource
// @Router /sources [get]
func (h *Handler) GetSources(c *gin.Context) {
	sources, err := h.storage.GetSources(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, sources)
}

// GetAssets godoc
// @Summary List current assets
// @Tags assets
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {array} models.CurrentAsset
// @Router /assets [get]
func (h *Handler) GetAssets(c *gin.Context) {
	assets, err := h.storage.GetAssets(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, assets)
}

// GetAsset godoc
// @Summary Get the asset of one source
// @Tags assets
// @Produce json
// @Security ApiKeyAuth
// @Param source path string true "Payment source"
// @Success 200 {object} models.CurrentAsset
// @Failure 404 {object} models.ErrorResponse
// @Router /assets/{source} [get]
func (h *Handler) GetAsset(c *gin.Context) {
	source := strings.ToLower(c.Param("source"))
	asset, err := h.storage.GetAsset(c.Request.Context(), currentUserID(c), source)
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "asset not found"})
		return
	}
	if err != nil {
		h.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, asset)
}

// ForbiddenCreateAsset godoc
// @Summary Assets cannot be created directly
// @Description Assets are created together with their payment source.
// @Tags assets
// @Produce json
// @Security ApiKeyAuth
// @Failure 403 {object} models.ErrorResponse
// @Router /assets [post]
func (h *Handler) ForbiddenCreateAsset(c *gin.Context) {
	c.JSON(http.StatusForbidden, gin.H{"error": "assets are created with their payment source"})
}

// GetCurrencies godoc
// @Summary List supported currencies
// @Description rate is expressed in units per US dollar.
// @Tags currencies
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {array} models.Currency
// @Router /currencies [get]
func (h *Handler) GetCurrencies(c *gin.Context) {
	currencies, err := h.storage.GetCurrencies(c.Request.Context())
	if err != nil {
		h.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, currencies)
}
