package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/nemopss/fin-ng/finance/models"
)

const transactionColumns = `
	SELECT entry_id, tx_id, user_id, date, description, amount, source, currency, tx_type, tags
	FROM transactions`

func scanTransaction(row interface{ Scan(...any) error }) (models.Transaction, error) {
	var (
		t           models.Transaction
		description sql.NullString
	)
	err := row.Scan(&t.EntryID, &t.TxID, &t.UserID, &t.Date.Time, &description,
		&t.Amount, &t.Source, &t.Currency, &t.TxType, pq.Array(&t.Tags))
	if err != nil {
		return t, err
	}
	if description.Valid {
		t.Description = &description.String
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}
	return t, nil
}

// CreateTransactions inserts txs and applies deltas in a single database
// transaction. Identifiers are generated here; any set by the caller are ignored.
func (s *Storage) CreateTransactions(ctx context.Context, txs []models.Transaction, deltas []models.AssetDelta) ([]models.Transaction, error) {
	created := make([]models.Transaction, 0, len(txs))
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, t := range txs {
			t.TxID = models.NewTxID()
			if t.Tags == nil {
				t.Tags = []string{}
			}
			if err := ensureTags(ctx, tx, t.UserID, t.Tags); err != nil {
				return err
			}
			row := tx.QueryRowContext(ctx, `
				INSERT INTO transactions (tx_id, user_id, date, description, amount, source, currency, tx_type, tags)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
				RETURNING entry_id, tx_id, user_id, date, description, amount, source, currency, tx_type, tags`,
				t.TxID, t.UserID, t.Date.String(), t.Description, t.Amount, t.Source, t.Currency, t.TxType, pq.Array(t.Tags),
			)
			inserted, err := scanTransaction(row)
			if err != nil {
				return fmt.Errorf("insert transaction: %w", err)
			}
			created = append(created, inserted)
		}
		return s.applyDeltas(ctx, tx, deltas)
	})
	if err != nil {
		return nil, err
	}
	s.log.Debug().Int("count", len(created)).Int("assets", len(deltas)).Msg("Created transactions")
	return created, nil
}

func (s *Storage) GetTransaction(ctx context.Context, userID, txID string) (*models.Transaction, error) {
	t, err := scanTransaction(s.DB.QueryRowContext(ctx,
		transactionColumns+" WHERE user_id = $1 AND tx_id = $2", userID, txID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Storage) GetTransactions(ctx context.Context, userID string, f models.TransactionFilter) ([]models.Transaction, error) {
	conds := []string{"user_id = $1"}
	args := []any{userID}
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.TxType != "" {
		add("tx_type = $%d", f.TxType)
	}
	if f.Source != "" {
		add("source = $%d", f.Source)
	}
	if f.Currency != "" {
		add("currency = $%d", f.Currency)
	}
	if f.Tag != "" {
		add("$%d = ANY(tags)", f.Tag)
	}
	if f.StartDate != nil {
		add("date >= $%d", f.StartDate.String())
	}
	if f.EndDate != nil {
		add("date <= $%d", f.EndDate.String())
	}

	query := transactionColumns + " WHERE " + strings.Join(conds, " AND ") + " ORDER BY date, entry_id"
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions = []models.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, t)
	}
	return transactions, rows.Err()
}

// UpdateFunc derives the replacement row and the balance changes it causes
// from the locked current row.
type UpdateFunc func(current models.Transaction) (models.Transaction, []models.AssetDelta, error)

// UpdateTransaction locks the transaction, lets fn compute the new state and
// persists the row and the asset deltas atomically. An error from fn aborts
// without writing anything.
func (s *Storage) UpdateTransaction(ctx context.Context, userID, txID string, fn UpdateFunc) (*models.Transaction, error) {
	var updated models.Transaction
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := scanTransaction(tx.QueryRowContext(ctx,
			transactionColumns+" WHERE user_id = $1 AND tx_id = $2 FOR UPDATE", userID, txID))
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		next, deltas, err := fn(current)
		if err != nil {
			return err
		}
		if next.Tags == nil {
			next.Tags = []string{}
		}
		if err := ensureTags(ctx, tx, userID, next.Tags); err != nil {
			return err
		}

		row := tx.QueryRowContext(ctx, `
			UPDATE transactions
			SET date = $3, description = $4, amount = $5, source = $6, currency = $7, tx_type = $8, tags = $9
			WHERE user_id = $1 AND entry_id = $2
			RETURNING entry_id, tx_id, user_id, date, description, amount, source, currency, tx_type, tags`,
			userID, current.EntryID, next.Date.String(), next.Description, next.Amount,
			next.Source, next.Currency, next.TxType, pq.Array(next.Tags),
		)
		if updated, err = scanTransaction(row); err != nil {
			return fmt.Errorf("update transaction: %w", err)
		}
		return s.applyDeltas(ctx, tx, deltas)
	})
	if err != nil {
		return nil, err
	}
	s.log.Debug().Str("uid", userID).Str("tx_id", txID).Msg("Updated transaction")
	return &updated, nil
}

// DeleteFunc returns the balance changes that undo current.
type DeleteFunc func(current models.Transaction) ([]models.AssetDelta, error)

func (s *Storage) DeleteTransaction(ctx context.Context, userID, txID string, fn DeleteFunc) (*models.Transaction, error) {
	var deleted models.Transaction
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := scanTransaction(tx.QueryRowContext(ctx,
			transactionColumns+" WHERE user_id = $1 AND tx_id = $2 FOR UPDATE", userID, txID))
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		deltas, err := fn(current)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM transactions WHERE user_id = $1 AND entry_id = $2", userID, current.EntryID); err != nil {
			return err
		}
		deleted = current
		return s.applyDeltas(ctx, tx, deltas)
	})
	if err != nil {
		return nil, err
	}
	s.log.Debug().Str("uid", userID).Str("tx_id", txID).Msg("Deleted transaction")
	return &deleted, nil
}

// ensureTags registers any tag the user has not used before.
func ensureTags(ctx context.Context, tx *sql.Tx, userID string, tags []string) error {
	if len(tags) == 0 {
		return nil
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO tags (user_id, name)
		SELECT $1, unnest($2::text[])
		ON CONFLICT (user_id, name) DO NOTHING`,
		userID, pq.Array(tags),
	)
	if err != nil {
		return fmt.Errorf("ensure tags: %w", err)
	}
	return nil
}

func (s *Storage) GetTags(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, "SELECT name FROM tags WHERE user_id = $1 ORDER BY name", userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tags = []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tags = append(tags, name)
	}
	return tags, rows.Err()
}
