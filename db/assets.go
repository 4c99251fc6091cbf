package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nemopss/fin-ng/finance/models"
)

// CreateSource adds a payment source together with its CurrentAsset, which
// starts at zero in the user's base currency.
func (s *Storage) CreateSource(ctx context.Context, userID, source string, accType models.AccType) (*models.PaymentSource, error) {
	ps := &models.PaymentSource{UserID: userID, Source: source, AccType: accType}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			"INSERT INTO payment_sources (user_id, source, acc_type) VALUES ($1, $2, $3) RETURNING id",
			userID, source, accType,
		).Scan(&ps.ID)
		if isUniqueViolation(err) {
			return fmt.Errorf("source %q: %w", source, ErrDuplicate)
		}
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO current_assets (source_id, user_id, amount, currency)
			SELECT $1, id, 0, base_currency FROM users WHERE id = $2`,
			ps.ID, userID,
		)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Debug().Str("uid", userID).Str("source", source).Msg("Created payment source")
	return ps, nil
}

func (s *Storage) GetSources(ctx context.Context, userID string) ([]models.PaymentSource, error) {
	rows, err := s.DB.QueryContext(ctx,
		"SELECT id, user_id, source, acc_type FROM payment_sources WHERE user_id = $1 ORDER BY source", userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sources = []models.PaymentSource{}
	for rows.Next() {
		var ps models.PaymentSource
		if err := rows.Scan(&ps.ID, &ps.UserID, &ps.Source, &ps.AccType); err != nil {
			return nil, err
		}
		sources = append(sources, ps)
	}
	return sources, rows.Err()
}

func lockSource(ctx context.Context, tx *sql.Tx, userID, source string) (models.PaymentSource, error) {
	ps := models.PaymentSource{UserID: userID}
	err := tx.QueryRowContext(ctx,
		"SELECT id, source, acc_type FROM payment_sources WHERE user_id = $1 AND source = $2 FOR UPDATE",
		userID, source,
	).Scan(&ps.ID, &ps.Source, &ps.AccType)
	if errors.Is(err, sql.ErrNoRows) {
		return ps, fmt.Errorf("source %q: %w", source, ErrNotFound)
	}
	return ps, err
}

// UpdateSource renames a payment source and sets its account type. The
// source's transactions follow the new name and its asset keeps its balance.
func (s *Storage) UpdateSource(ctx context.Context, userID, source, newName string, accType models.AccType) (*models.PaymentSource, error) {
	var ps models.PaymentSource
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		if ps, err = lockSource(ctx, tx, userID, source); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			"UPDATE payment_sources SET source = $2, acc_type = $3 WHERE id = $1", ps.ID, newName, accType)
		if isUniqueViolation(err) {
			return fmt.Errorf("source %q: %w", newName, ErrDuplicate)
		}
		if err != nil {
			return err
		}

		if newName != source {
			if _, err := tx.ExecContext(ctx,
				"UPDATE transactions SET source = $3 WHERE user_id = $1 AND source = $2",
				userID, source, newName); err != nil {
				return fmt.Errorf("move transactions: %w", err)
			}
		}
		ps.Source = newName
		ps.AccType = accType
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Debug().Str("uid", userID).Str("source", source).Str("renamed", newName).Msg("Updated payment source")
	return &ps, nil
}

// DeleteSource removes a payment source and its asset. Sources that still
// have transactions are refused with ErrInUse.
func (s *Storage) DeleteSource(ctx context.Context, userID, source string) (*models.PaymentSource, error) {
	var ps models.PaymentSource
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		if ps, err = lockSource(ctx, tx, userID, source); err != nil {
			return err
		}

		var used bool
		if err := tx.QueryRowContext(ctx,
			"SELECT EXISTS (SELECT 1 FROM transactions WHERE user_id = $1 AND source = $2)",
			userID, source,
		).Scan(&used); err != nil {
			return err
		}
		if used {
			return fmt.Errorf("source %q: %w", source, ErrInUse)
		}

		_, err = tx.ExecContext(ctx, "DELETE FROM payment_sources WHERE id = $1", ps.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Debug().Str("uid", userID).Str("source", source).Msg("Deleted payment source")
	return &ps, nil
}

const assetColumns = `
	SELECT a.id, a.user_id, s.source, s.acc_type, a.amount, a.currency
	FROM current_assets a
	JOIN payment_sources s ON s.id = a.source_id`

func scanAsset(row interface{ Scan(...any) error }) (models.CurrentAsset, error) {
	var a models.CurrentAsset
	err := row.Scan(&a.ID, &a.UserID, &a.Source, &a.AccType, &a.Amount, &a.Currency)
	return a, err
}

func (s *Storage) GetAsset(ctx context.Context, userID, source string) (*models.CurrentAsset, error) {
	a, err := scanAsset(s.DB.QueryRowContext(ctx,
		assetColumns+" WHERE a.user_id = $1 AND s.source = $2", userID, source))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Storage) GetAssets(ctx context.Context, userID string) ([]models.CurrentAsset, error) {
	rows, err := s.DB.QueryContext(ctx, assetColumns+" WHERE a.user_id = $1 ORDER BY s.source", userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets = []models.CurrentAsset{}
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

// applyDeltas adjusts each affected balance in place; unrelated assets are
// never written.
func (s *Storage) applyDeltas(ctx context.Context, tx *sql.Tx, deltas []models.AssetDelta) error {
	for _, d := range deltas {
		res, err := tx.ExecContext(ctx, `
			UPDATE current_assets a SET amount = a.amount + $3
			FROM payment_sources s
			WHERE s.id = a.source_id AND a.user_id = $1 AND s.source = $2`,
			d.UserID, d.Source, d.Amount,
		)
		if err != nil {
			return fmt.Errorf("update asset %s: %w", d.Source, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n != 1 {
			return fmt.Errorf("asset %s: %w", d.Source, ErrNotFound)
		}
		s.log.Debug().Str("uid", d.UserID).Str("source", d.Source).Str("delta", d.Amount.String()).Msg("Adjusted asset")
	}
	return nil
}

func (s *Storage) GetCurrencies(ctx context.Context) ([]models.Currency, error) {
	rows, err := s.DB.QueryContext(ctx, "SELECT code, name, COALESCE(symbol, ''), rate FROM currencies ORDER BY code")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var currencies = []models.Currency{}
	for rows.Next() {
		var c models.Currency
		if err := rows.Scan(&c.Code, &c.Name, &c.Symbol, &c.Rate); err != nil {
			return nil, err
		}
		currencies = append(currencies, c)
	}
	return currencies, rows.Err()
}
