package sqlstore

import (
	"context"
	"fmt"
	"time"

	"stockscan/backend/internal/domain"
	"stockscan/backend/internal/store"
)

type userRow struct {
	Username     string    `db:"username"`
	PasswordHash string    `db:"password_hash"`
	Role         string    `db:"role"`
	Active       bool      `db:"active"`
	CreatedAt    time.Time `db:"created_at"`
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO users (username, password_hash, role, active, created_at)
		VALUES (?, ?, ?, ?, ?)
	`), user.Username, user.Password, user.Role, user.Active, user.CreatedAt.UTC())
	if err != nil {
		if s.dialect.isDuplicate(err) {
			return fmt.Errorf("user %s: %w", user.Username, store.ErrInvalidInput)
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	var rows []userRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT username, password_hash, role, active, created_at
		FROM users
		ORDER BY username
	`); err != nil {
		return nil, err
	}

	users := make([]domain.UserAccount, 0, len(rows))
	for _, r := range rows {
		users = append(users, domain.UserAccount{
			Username:  r.Username,
			Password:  r.PasswordHash,
			Role:      r.Role,
			Active:    r.Active,
			CreatedAt: r.CreatedAt.UTC(),
		})
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE users SET password_hash = ? WHERE username = ?`), password, username)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}
