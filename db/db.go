package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
	ErrInUse     = errors.New("still referenced")

	ErrWeakPassword = errors.New("password must be at least 6 characters")
)

type Storage struct {
	DB  *sql.DB
	log zerolog.Logger
}

func NewStorage(connStr string, log zerolog.Logger) (*Storage, error) {

	db, err := sql.Open("postgres", connStr)

	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	if _, err := db.Exec(seedCurrencies); err != nil {
		db.Close()
		return nil, fmt.Errorf("seed currencies: %w", err)
	}

	return &Storage{DB: db, log: log.With().Str("component", "storage").Logger()}, nil
}

func (s *Storage) Close() {
	s.DB.Close()
}

// withTx runs fn inside a database transaction, committing only if fn succeeds.
func (s *Storage) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.log.Error().Err(rbErr).Msg("Rollback failed")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id UUID PRIMARY KEY,
	username TEXT UNIQUE NOT NULL,
	password TEXT NOT NULL,
	base_currency VARCHAR(3) NOT NULL DEFAULT 'USD'
);

CREATE TABLE IF NOT EXISTS currencies (
	code VARCHAR(3) PRIMARY KEY,
	name VARCHAR(50) NOT NULL,
	symbol VARCHAR(5),
	rate NUMERIC(18,6) NOT NULL
);

CREATE TABLE IF NOT EXISTS payment_sources (
	id SERIAL PRIMARY KEY,
	user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	source VARCHAR(50) NOT NULL,
	acc_type VARCHAR(10) NOT NULL,
	UNIQUE (user_id, source)
);

CREATE TABLE IF NOT EXISTS current_assets (
	id SERIAL PRIMARY KEY,
	source_id INTEGER NOT NULL UNIQUE REFERENCES payment_sources(id) ON DELETE CASCADE,
	user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	amount NUMERIC(15,2) NOT NULL DEFAULT 0,
	currency VARCHAR(3) NOT NULL REFERENCES currencies(code)
);

CREATE TABLE IF NOT EXISTS tags (
	id SERIAL PRIMARY KEY,
	user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	name VARCHAR(200) NOT NULL,
	UNIQUE (user_id, name)
);

CREATE TABLE IF NOT EXISTS transactions (
	entry_id SERIAL PRIMARY KEY,
	tx_id VARCHAR(20) NOT NULL,
	user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	date DATE NOT NULL,
	description VARCHAR(200),
	amount NUMERIC(10,2) NOT NULL DEFAULT 0,
	source VARCHAR(50) NOT NULL,
	currency VARCHAR(3) NOT NULL REFERENCES currencies(code),
	tx_type VARCHAR(10) NOT NULL,
	tags TEXT[] NOT NULL DEFAULT '{}',
	UNIQUE (user_id, tx_id)
);

CREATE INDEX IF NOT EXISTS transactions_user_date_idx ON transactions (user_id, date);
`

// Rates are units per USD.
const seedCurrencies = `
INSERT INTO currencies (code, name, symbol, rate) VALUES
	('USD', 'US Dollar', '$', 1),
	('EUR', 'Euro', '€', 0.92),
	('GBP', 'Pound Sterling', '£', 0.79),
	('JPY', 'Japanese Yen', '¥', 149.50),
	('CAD', 'Canadian Dollar', '$', 1.36),
	('AUD', 'Australian Dollar', '$', 1.52),
	('CHF', 'Swiss Franc', 'Fr', 0.88),
	('RUB', 'Russian Ruble', '₽', 92.00)
ON CONFLICT (code) DO NOTHING;
`
