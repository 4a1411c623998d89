package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/evetabi/betledger/internal/domain"
)

const userColumns = `id, username, first_name, last_name, language_code, role, is_active, created_at, updated_at`

// UpsertUser inserts a Telegram user or refreshes its profile fields. Role
// and is_active of an existing row are left alone.
func (s *PostgresStore) UpsertUser(ctx context.Context, u *domain.User) (*domain.User, error) {
	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES (:id, :username, :first_name, :last_name, :language_code, :role, :is_active, :created_at, :updated_at)
		ON CONFLICT (id) DO UPDATE
		SET username      = EXCLUDED.username,
		    first_name    = EXCLUDED.first_name,
		    last_name     = EXCLUDED.last_name,
		    language_code = EXCLUDED.language_code,
		    updated_at    = EXCLUDED.updated_at
		RETURNING ` + userColumns

	rows, err := s.db.NamedQueryContext(ctx, query, u)
	if err != nil {
		return nil, fmt.Errorf("user_repo.UpsertUser: %w", err)
	}
	defer rows.Close()

	var out domain.User
	if !rows.Next() {
		return nil, fmt.Errorf("user_repo.UpsertUser: no row returned")
	}
	if err = rows.StructScan(&out); err != nil {
		return nil, fmt.Errorf("user_repo.UpsertUser scan: %w", err)
	}
	return &out, nil
}

// GetUser fetches a user by Telegram id.
func (s *PostgresStore) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	var u domain.User
	err := s.db.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("user_repo.GetUser: %w", err)
	}
	return &u, nil
}

// ListUsers returns a paginated list of all users.
// Returns (users, totalCount, error).
func (s *PostgresStore) ListUsers(ctx context.Context, limit, offset int) ([]*domain.User, int, error) {
	var users []*domain.User
	var total int

	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM users`); err != nil {
		return nil, 0, fmt.Errorf("user_repo.ListUsers count: %w", err)
	}
	if err := s.db.SelectContext(ctx, &users,
		`SELECT `+userColumns+` FROM users ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset); err != nil {
		return nil, 0, fmt.Errorf("user_repo.ListUsers select: %w", err)
	}
	return users, total, nil
}

// SetUserActive activates or suspends a user account.
func (s *PostgresStore) SetUserActive(ctx context.Context, id int64, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET is_active = $1, updated_at = now() WHERE id = $2`,
		active, id)
	if err != nil {
		return fmt.Errorf("user_repo.SetUserActive: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}
