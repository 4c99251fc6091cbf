package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/nemopss/fin-ng/finance/models"
	"golang.org/x/crypto/bcrypt"
)

// CreateUser stores a new user with a bcrypt-hashed password.
func (s *Storage) CreateUser(ctx context.Context, username, password string) (*models.User, error) {
	if len(password) < 6 {
		return nil, ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		ID:           uuid.NewString(),
		Username:     username,
		Password:     string(hash),
		BaseCurrency: "USD",
	}
	_, err = s.DB.ExecContext(ctx,
		"INSERT INTO users (id, username, password, base_currency) VALUES ($1, $2, $3, $4)",
		user.ID, user.Username, user.Password, user.BaseCurrency,
	)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("user %q: %w", username, ErrDuplicate)
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// GetUserByUsername returns nil, nil when no such user exists.
func (s *Storage) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var u models.User
	err := s.DB.QueryRowContext(ctx,
		"SELECT id, username, password, base_currency FROM users WHERE username = $1", username,
	).Scan(&u.ID, &u.Username, &u.Password, &u.BaseCurrency)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Storage) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	err := s.DB.QueryRowContext(ctx,
		"SELECT id, username, password, base_currency FROM users WHERE id = $1", id,
	).Scan(&u.ID, &u.Username, &u.Password, &u.BaseCurrency)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
