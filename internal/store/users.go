package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattjoyce/devbench/internal/devbench"
)

func (s *Store) CreateUser(ctx context.Context, u *devbench.User) error {
	if u.ID == "" {
		return fmt.Errorf("user id is empty")
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO users(id, password_hash, is_admin, is_disabled, created_at)
VALUES(?, ?, ?, ?, ?);
`, u.ID, u.PasswordHash, u.IsAdmin, u.IsDisabled, formatTime(u.CreatedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %q", devbench.ErrUserExists, u.ID)
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func scanUser(row rowScanner) (*devbench.User, error) {
	var (
		u          devbench.User
		createdAtS string
	)
	if err := row.Scan(&u.ID, &u.PasswordHash, &u.IsAdmin, &u.IsDisabled, &createdAtS); err != nil {
		return nil, err
	}
	u.CreatedAt = parseTime(createdAtS)
	return &u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*devbench.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, password_hash, is_admin, is_disabled, created_at FROM users WHERE id = ?;`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, devbench.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	return u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]*devbench.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, password_hash, is_admin, is_disabled, created_at FROM users ORDER BY id ASC;`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []*devbench.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// SetUserDisabled toggles the login gate for a user.
func (s *Store) SetUserDisabled(ctx context.Context, id string, disabled bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET is_disabled = ? WHERE id = ?;`, disabled, id)
	if err != nil {
		return fmt.Errorf("update user %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return devbench.ErrUserNotFound
	}
	return nil
}

// SetUserPassword replaces a user's password hash.
func (s *Store) SetUserPassword(ctx context.Context, id, hash string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash = ? WHERE id = ?;`, hash, id)
	if err != nil {
		return fmt.Errorf("update user %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return devbench.ErrUserNotFound
	}
	return nil
}

// DeleteUser removes a user that owns no devbenches.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	var owned int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM devbenches WHERE owner_id = ?;`, id).Scan(&owned); err != nil {
		return fmt.Errorf("count devbenches for %s: %w", id, err)
	}
	if owned > 0 {
		return fmt.Errorf("%w: %s owns %d", devbench.ErrUserHasBench, id, owned)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?;`, id)
	if err != nil {
		return fmt.Errorf("delete user %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return devbench.ErrUserNotFound
	}
	return nil
}

func (s *Store) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users;`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}
