package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nemopss/fin-ng/finance/db"
	"github.com/nemopss/fin-ng/finance/ledger"
	"github.com/nemopss/fin-ng/finance/models"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

// Store is the persistence the handlers need. *db.Storage implements it.
type Store interface {
	CreateUser(ctx context.Context, username, password string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetUser(ctx context.Context, id string) (*models.User, error)

	CreateSource(ctx context.Context, userID, source string, accType models.AccType) (*models.PaymentSource, error)
	GetSources(ctx context.Context, userID string) ([]models.PaymentSource, error)
	UpdateSource(ctx context.Context, userID, source, newName string, accType models.AccType) (*models.PaymentSource, error)
	DeleteSource(ctx context.Context, userID, source string) (*models.PaymentSource, error)
	GetAsset(ctx context.Context, userID, source string) (*models.CurrentAsset, error)
	GetAssets(ctx context.Context, userID string) ([]models.CurrentAsset, error)
	GetCurrencies(ctx context.Context) ([]models.Currency, error)

	CreateTransactions(ctx context.Context, txs []models.Transaction, deltas []models.AssetDelta) ([]models.Transaction, error)
	GetTransaction(ctx context.Context, userID, txID string) (*models.Transaction, error)
	GetTransactions(ctx context.Context, userID string, f models.TransactionFilter) ([]models.Transaction, error)
	UpdateTransaction(ctx context.Context, userID, txID string, fn db.UpdateFunc) (*models.Transaction, error)
	DeleteTransaction(ctx context.Context, userID, txID string, fn db.DeleteFunc) (*models.Transaction, error)
	GetTags(ctx context.Context, userID string) ([]string, error)
}

type Handler struct {
	storage   Store
	jwtSecret []byte
	tokenTTL  time.Duration
	log       zerolog.Logger
}

func NewHandler(s Store, jwtSecret string, tokenTTL time.Duration, log zerolog.Logger) *Handler {
	return &Handler{
		storage:   s,
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  tokenTTL,
		log:       log.With().Str("component", "api").Logger(),
	}
}

// Register godoc
// @Summary Register a user
// @Tags auth
// @Accept json
// @Produce json
// @Param user body models.CreateUser true "Credentials"
// @Success 201 {object} models.RegisterResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Router /register [post]
func (h *Handler) Register(c *gin.Context) {
	var req models.CreateUser
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Login) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username is required"})
		return
	}

	user, err := h.storage.CreateUser(c.Request.Context(), req.Login, req.Password)
	if errors.Is(err, db.ErrDuplicate) {
		c.JSON(http.StatusConflict, gin.H{"error": "username already taken"})
		return
	}
	if errors.Is(err, db.ErrWeakPassword) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.internalError(c, err)
		return
	}

	c.JSON(http.StatusCreated, models.RegisterResponse{ID: user.ID, Username: user.Username})
}

// Login godoc
// @Summary Obtain a bearer token
// @Tags auth
// @Accept json
// @Produce json
// @Param user body models.CreateUser true "Credentials"
// @Success 200 {object} models.LoginResponse
// @Failure 401 {object} models.ErrorResponse
// @Router /login [post]
func (h *Handler) Login(c *gin.Context) {
	var req models.CreateUser
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.storage.GetUserByUsername(c.Request.Context(), req.Login)
	if err != nil {
		h.internalError(c, err)
		return
	}
	if user == nil || bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)) != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid username or password"})
		return
	}

	token, err := h.signToken(user.ID)
	if err != nil {
		h.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.LoginResponse{Token: token})
}

// MethodNotAllowed answers verbs a resource refuses on purpose, such as PUT on
// transactions which only support partial updates.
func (h *Handler) MethodNotAllowed(allow ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Allow", strings.Join(allow, ", "))
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "method " + c.Request.Method + " not allowed"})
	}
}

func (h *Handler) internalError(c *gin.Context, err error) {
	h.log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("Request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

// references loads what a transaction body is checked against: the user's
// assets by source and the currency rates.
func (h *Handler) references(ctx context.Context, userID string) (ledger.Assets, ledger.Rates, error) {
	assets, err := h.storage.GetAssets(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	currencies, err := h.storage.GetCurrencies(ctx)
	if err != nil {
		return nil, nil, err
	}
	return ledger.AssetsFrom(assets), ledger.RatesFrom(currencies), nil
}
