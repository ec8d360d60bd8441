package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cuongbtq/invoice-service/internal/domain"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// CreateUser inserts a user. Emails are stored lower-cased and must be unique.
func (s *Storage) CreateUser(ctx context.Context, email, passwordHash string) (*domain.User, error) {
	user := &domain.User{
		ID:           uuid.New().String(),
		Email:        normalizeEmail(email),
		PasswordHash: passwordHash,
		CreatedAt:    timestamp(s.now()),
	}

	query := s.db.Rebind(`
		INSERT INTO users (user_id, email, password_hash, created_at)
		VALUES (?, ?, ?, ?)
	`)

	_, err := s.db.ExecContext(ctx, query, user.ID, user.Email, user.PasswordHash, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrEmailTaken
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.logger.Info("User created", slog.String("user_id", user.ID))
	return user, nil
}

// GetUserByEmail looks a user up by (case-insensitive) email
func (s *Storage) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := s.db.Rebind(`
		SELECT user_id, email, password_hash, created_at
		FROM users
		WHERE email = ?
	`)

	var user domain.User
	if err := s.db.GetContext(ctx, &user, query, normalizeEmail(email)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	user.CreatedAt = user.CreatedAt.UTC()
	return &user, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}

	return false
}
