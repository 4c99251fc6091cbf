//go:build integration

package db

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/nemopss/fin-ng/finance/ledger"
	"github.com/nemopss/fin-ng/finance/models"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/crypto/bcrypt"
)

var testConnStr string

func TestMain(m *testing.M) {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("finance"),
		postgres.WithUsername("finance"),
		postgres.WithPassword("finance"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		panic("start postgres container: " + err.Error())
	}

	testConnStr, err = pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		panic("connection string: " + err.Error())
	}

	code := m.Run()
	if err := pgContainer.Terminate(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "terminate container:", err)
	}
	os.Exit(code)
}

// setupTestDB connects to the shared container and empties every user table.
func setupTestDB(t *testing.T) *Storage {
	t.Helper()
	storage, err := NewStorage(testConnStr, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(storage.Close)

	_, err = storage.DB.Exec("TRUNCATE TABLE transactions, tags, current_assets, payment_sources, users RESTART IDENTITY CASCADE")
	require.NoError(t, err)
	return storage
}

// seedUser creates a user with "checking" and "cash" sources.
func seedUser(t *testing.T, s *Storage, username string) *models.User {
	t.Helper()
	user, err := s.CreateUser(context.Background(), username, "secret123")
	require.NoError(t, err)
	for source, acc := range map[string]models.AccType{"checking": models.Checking, "cash": models.Cash} {
		_, err := s.CreateSource(context.Background(), user.ID, source, acc)
		require.NoError(t, err)
	}
	return user
}

func references(t *testing.T, s *Storage, userID string) (ledger.Assets, ledger.Rates) {
	t.Helper()
	assets, err := s.GetAssets(context.Background(), userID)
	require.NoError(t, err)
	currencies, err := s.GetCurrencies(context.Background())
	require.NoError(t, err)
	return ledger.AssetsFrom(assets), ledger.RatesFrom(currencies)
}

func create(t *testing.T, s *Storage, txs ...models.Transaction) []models.Transaction {
	t.Helper()
	assets, rates := references(t, s, txs[0].UserID)
	deltas, err := ledger.CreateDeltas(txs, assets, rates)
	require.NoError(t, err)
	created, err := s.CreateTransactions(context.Background(), txs, deltas)
	require.NoError(t, err)
	return created
}

func expense(userID, source, amount string) models.Transaction {
	desc := "groceries"
	return models.Transaction{
		UserID:      userID,
		Date:        models.NewDate(2024, time.March, 1),
		Description: &desc,
		Amount:      decimal.RequireFromString(amount).Neg(),
		Source:      source,
		Currency:    "USD",
		TxType:      models.Expense,
		Tags:        []string{"food"},
	}
}

func balance(t *testing.T, s *Storage, userID, source string) decimal.Decimal {
	t.Helper()
	a, err := s.GetAsset(context.Background(), userID, source)
	require.NoError(t, err)
	return a.Amount
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

func TestCreateAndGetUser(t *testing.T) {
	s := setupTestDB(t)

	user, err := s.CreateUser(context.Background(), "john_doe", "password123")
	require.NoError(t, err)

	got, err := s.GetUserByUsername(context.Background(), "john_doe")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, user.ID, got.ID)
	assert.Equal(t, "USD", got.BaseCurrency)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(got.Password), []byte("password123")))

	byID, err := s.GetUser(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, "john_doe", byID.Username)

	_, err = s.CreateUser(context.Background(), "john_doe", "password123")
	assert.ErrorIs(t, err, ErrDuplicate)

	_, err = s.CreateUser(context.Background(), "jane", "123")
	assert.ErrorIs(t, err, ErrWeakPassword)

	missing, err := s.GetUserByUsername(context.Background(), "nobody")
	assert.NoError(t, err)
	assert.Nil(t, missing)

	_, err = s.GetUser(context.Background(), "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateSource(t *testing.T) {
	s := setupTestDB(t)
	user := seedUser(t, s, "john_doe")

	sources, err := s.GetSources(context.Background(), user.ID)
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Equal(t, "cash", sources[0].Source)
	assert.Equal(t, models.Cash, sources[0].AccType)

	asset, err := s.GetAsset(context.Background(), user.ID, "checking")
	require.NoError(t, err)
	assert.Equal(t, "USD", asset.Currency)
	assert.Equal(t, models.Checking, asset.AccType)
	assertDecimal(t, "0", asset.Amount)

	_, err = s.CreateSource(context.Background(), user.ID, "cash", models.Cash)
	assert.ErrorIs(t, err, ErrDuplicate)

	_, err = s.GetAsset(context.Background(), user.ID, "vault")
	assert.ErrorIs(t, err, ErrNotFound)

	currencies, err := s.GetCurrencies(context.Background())
	require.NoError(t, err)
	assert.Len(t, currencies, 8)
}

func TestCreateAndGetTransactions(t *testing.T) {
	s := setupTestDB(t)
	user := seedUser(t, s, "john_doe")

	income := expense(user.ID, "cash", "100")
	income.TxType = models.Income
	income.Amount = decimal.NewFromInt(100)
	income.Date = models.NewDate(2024, time.February, 1)
	income.Description = nil
	income.Tags = nil

	eur := expense(user.ID, "checking", "9.20")
	eur.Currency = "EUR"
	eur.Tags = []string{"food", "travel"}

	created := create(t, s, expense(user.ID, "checking", "42.50"), income, eur)
	require.Len(t, created, 3)
	for _, tx := range created {
		assert.NotZero(t, tx.EntryID)
		assert.Regexp(t, `^\d{4}-[0-9A-F]{8}$`, tx.TxID)
	}
	assert.Nil(t, created[1].Description)
	assert.Equal(t, []string{}, created[1].Tags)

	assertDecimal(t, "-52.50", balance(t, s, user.ID, "checking"))
	assertDecimal(t, "100", balance(t, s, user.ID, "cash"))

	got, err := s.GetTransaction(context.Background(), user.ID, created[0].TxID)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01", got.Date.String())
	assertDecimal(t, "-42.50", got.Amount)
	require.NotNil(t, got.Description)
	assert.Equal(t, "groceries", *got.Description)

	tests := []struct {
		name   string
		filter models.TransactionFilter
		count  int
	}{
		{"all", models.TransactionFilter{}, 3},
		{"type", models.TransactionFilter{TxType: models.Income}, 1},
		{"source", models.TransactionFilter{Source: "checking"}, 2},
		{"currency", models.TransactionFilter{Currency: "EUR"}, 1},
		{"tag", models.TransactionFilter{Tag: "travel"}, 1},
		{"start", models.TransactionFilter{StartDate: &created[0].Date}, 2},
		{"end", models.TransactionFilter{EndDate: &income.Date}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			txs, err := s.GetTransactions(context.Background(), user.ID, tt.filter)
			require.NoError(t, err)
			assert.Len(t, txs, tt.count)
		})
	}

	txs, err := s.GetTransactions(context.Background(), user.ID, models.TransactionFilter{})
	require.NoError(t, err)
	assert.Equal(t, created[1].TxID, txs[0].TxID, "ordered by date")

	tags, err := s.GetTags(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"food", "travel"}, tags)
}

func TestTransactionsAreScopedToUser(t *testing.T) {
	s := setupTestDB(t)
	john := seedUser(t, s, "john_doe")
	jane := seedUser(t, s, "jane")

	tx := create(t, s, expense(john.ID, "cash", "5"))[0]

	_, err := s.GetTransaction(context.Background(), jane.ID, tx.TxID)
	assert.ErrorIs(t, err, ErrNotFound)

	txs, err := s.GetTransactions(context.Background(), jane.ID, models.TransactionFilter{})
	require.NoError(t, err)
	assert.Empty(t, txs)
	assertDecimal(t, "0", balance(t, s, jane.ID, "cash"))
}

func TestUpdateTransaction(t *testing.T) {
	s := setupTestDB(t)
	user := seedUser(t, s, "john_doe")
	tx := create(t, s, expense(user.ID, "checking", "42.50"))[0]
	assets, rates := references(t, s, user.ID)

	updated, err := s.UpdateTransaction(context.Background(), user.ID, tx.TxID,
		func(current models.Transaction) (models.Transaction, []models.AssetDelta, error) {
			next := current
			next.Source = "cash"
			next.Amount = decimal.NewFromInt(-10)
			next.Tags = []string{"coffee"}
			next.Description = nil
			deltas, err := ledger.UpdateDeltas(current, next, assets, rates)
			return next, deltas, err
		})
	require.NoError(t, err)

	assert.Equal(t, tx.TxID, updated.TxID)
	assert.Equal(t, tx.EntryID, updated.EntryID)
	assert.Equal(t, "cash", updated.Source)
	assert.Nil(t, updated.Description)
	assert.Equal(t, []string{"coffee"}, updated.Tags)
	assertDecimal(t, "0", balance(t, s, user.ID, "checking"))
	assertDecimal(t, "-10", balance(t, s, user.ID, "cash"))

	got, err := s.GetTransaction(context.Background(), user.ID, tx.TxID)
	require.NoError(t, err)
	assert.Equal(t, *updated, *got)

	t.Run("not found", func(t *testing.T) {
		_, err := s.UpdateTransaction(context.Background(), user.ID, "2024-00000000",
			func(current models.Transaction) (models.Transaction, []models.AssetDelta, error) {
				t.Fatal("callback must not run")
				return current, nil, nil
			})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("callback error rolls back", func(t *testing.T) {
		boom := errors.New("boom")
		_, err := s.UpdateTransaction(context.Background(), user.ID, tx.TxID,
			func(current models.Transaction) (models.Transaction, []models.AssetDelta, error) {
				return current, nil, boom
			})
		assert.ErrorIs(t, err, boom)
	})

	t.Run("failed asset write rolls back the row", func(t *testing.T) {
		_, err := s.UpdateTransaction(context.Background(), user.ID, tx.TxID,
			func(current models.Transaction) (models.Transaction, []models.AssetDelta, error) {
				next := current
				next.Amount = decimal.NewFromInt(-99)
				return next, []models.AssetDelta{
					{UserID: user.ID, Source: "cash", Amount: decimal.NewFromInt(-89)},
					{UserID: user.ID, Source: "vault", Amount: decimal.NewFromInt(1)},
				}, nil
			})
		assert.ErrorIs(t, err, ErrNotFound)

		got, err := s.GetTransaction(context.Background(), user.ID, tx.TxID)
		require.NoError(t, err)
		assertDecimal(t, "-10", got.Amount)
		assertDecimal(t, "-10", balance(t, s, user.ID, "cash"))
	})
}

func TestDeleteTransaction(t *testing.T) {
	s := setupTestDB(t)
	user := seedUser(t, s, "john_doe")
	tx := create(t, s, expense(user.ID, "checking", "42.50"))[0]
	assets, rates := references(t, s, user.ID)

	deleted, err := s.DeleteTransaction(context.Background(), user.ID, tx.TxID,
		func(current models.Transaction) ([]models.AssetDelta, error) {
			return ledger.DeleteDeltas(current, assets, rates)
		})
	require.NoError(t, err)
	assert.Equal(t, tx.TxID, deleted.TxID)
	assertDecimal(t, "0", balance(t, s, user.ID, "checking"))

	_, err = s.GetTransaction(context.Background(), user.ID, tx.TxID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.DeleteTransaction(context.Background(), user.ID, tx.TxID,
		func(current models.Transaction) ([]models.AssetDelta, error) { return nil, nil })
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUserQueriesHonorContext(t *testing.T) {
	s := setupTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.CreateUser(ctx, "john_doe", "password123")
	assert.ErrorIs(t, err, context.Canceled)
	_, err = s.GetUserByUsername(ctx, "john_doe")
	assert.ErrorIs(t, err, context.Canceled)

	missing, err := s.GetUserByUsername(context.Background(), "john_doe")
	require.NoError(t, err)
	assert.Nil(t, missing, "cancelled insert must not be stored")
}

func TestUpdateSource(t *testing.T) {
	s := setupTestDB(t)
	user := seedUser(t, s, "john_doe")
	tx := create(t, s, expense(user.ID, "cash", "20"))[0]

	ps, err := s.UpdateSource(context.Background(), user.ID, "cash", "wallet", models.EWallet)
	require.NoError(t, err)
	assert.Equal(t, "wallet", ps.Source)
	assert.Equal(t, models.EWallet, ps.AccType)

	got, err := s.GetTransaction(context.Background(), user.ID, tx.TxID)
	require.NoError(t, err)
	assert.Equal(t, "wallet", got.Source)

	asset, err := s.GetAsset(context.Background(), user.ID, "wallet")
	require.NoError(t, err)
	assert.Equal(t, models.EWallet, asset.AccType)
	assertDecimal(t, "-20", asset.Amount)

	_, err = s.GetAsset(context.Background(), user.ID, "cash")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.UpdateSource(context.Background(), user.ID, "wallet", "checking", models.Cash)
	assert.ErrorIs(t, err, ErrDuplicate)
	got, err = s.GetTransaction(context.Background(), user.ID, tx.TxID)
	require.NoError(t, err)
	assert.Equal(t, "wallet", got.Source, "failed rename is rolled back")

	_, err = s.UpdateSource(context.Background(), user.ID, "vault", "safe", models.Cash)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteSource(t *testing.T) {
	s := setupTestDB(t)
	user := seedUser(t, s, "john_doe")
	tx := create(t, s, expense(user.ID, "cash", "20"))[0]

	_, err := s.DeleteSource(context.Background(), user.ID, "cash")
	assert.ErrorIs(t, err, ErrInUse)
	assertDecimal(t, "-20", balance(t, s, user.ID, "cash"))

	assets, rates := references(t, s, user.ID)
	_, err = s.DeleteTransaction(context.Background(), user.ID, tx.TxID,
		func(current models.Transaction) ([]models.AssetDelta, error) {
			return ledger.DeleteDeltas(current, assets, rates)
		})
	require.NoError(t, err)

	deleted, err := s.DeleteSource(context.Background(), user.ID, "cash")
	require.NoError(t, err)
	assert.Equal(t, "cash", deleted.Source)

	_, err = s.GetAsset(context.Background(), user.ID, "cash")
	assert.ErrorIs(t, err, ErrNotFound)
	sources, err := s.GetSources(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Len(t, sources, 1)

	_, err = s.DeleteSource(context.Background(), user.ID, "cash")
	assert.ErrorIs(t, err, ErrNotFound)
}
