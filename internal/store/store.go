// Package store persists users, devbenches and the operation log in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/devbench/internal/devbench"
)

// MaxOperationOutput caps the output stored per operation record.
const MaxOperationOutput = 64 * 1024

type Store struct {
	db  *sql.DB
	now func() time.Time
}

func New(db *sql.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// CreateDevbench inserts d, assigning an ID and timestamps when unset.
func (s *Store) CreateDevbench(ctx context.Context, d *devbench.Devbench) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = s.now()
	}
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = d.CreatedAt
	}
	conn, err := encodeConnection(d.ConnectionInfo)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO devbenches(
  id, owner_id, requested_name, external_name, state, connection_info, last_error, created_at, updated_at
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);
`, d.ID, d.OwnerID, d.RequestedName, nullIfEmpty(d.ExternalName), string(d.State), conn,
		nullIfEmpty(d.LastError), formatTime(d.CreatedAt), formatTime(d.UpdatedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %q", devbench.ErrDuplicateName, d.RequestedName)
	}
	if err != nil {
		return fmt.Errorf("insert devbench: %w", err)
	}
	return nil
}

const devbenchColumns = `id, owner_id, requested_name, external_name, state, connection_info, last_error, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevbench(row rowScanner) (*devbench.Devbench, error) {
	var (
		d            devbench.Devbench
		externalName sql.NullString
		conn         sql.NullString
		lastError    sql.NullString
		state        string
		createdAtS   string
		updatedAtS   string
	)
	if err := row.Scan(&d.ID, &d.OwnerID, &d.RequestedName, &externalName, &state, &conn, &lastError, &createdAtS, &updatedAtS); err != nil {
		return nil, err
	}
	d.State = devbench.State(state)
	d.ExternalName = externalName.String
	d.LastError = lastError.String
	d.CreatedAt = parseTime(createdAtS)
	d.UpdatedAt = parseTime(updatedAtS)
	if conn.Valid && conn.String != "" {
		var ci devbench.ConnectionInfo
		if err := json.Unmarshal([]byte(conn.String), &ci); err == nil {
			d.ConnectionInfo = &ci
		}
	}
	return &d, nil
}

// GetDevbench loads a devbench by id.
func (s *Store) GetDevbench(ctx context.Context, id string) (*devbench.Devbench, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+devbenchColumns+` FROM devbenches WHERE id = ?;`, id)
	d, err := scanDevbench(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, devbench.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get devbench %s: %w", id, err)
	}
	return d, nil
}

// GetOwnedDevbench loads a devbench only if ownerID owns it. Another owner's
// devbench is reported as not found.
func (s *Store) GetOwnedDevbench(ctx context.Context, ownerID, id string) (*devbench.Devbench, error) {
	d, err := s.GetDevbench(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.OwnerID != ownerID {
		return nil, devbench.ErrNotFound
	}
	return d, nil
}

func (s *Store) queryDevbenches(ctx context.Context, query string, args ...any) ([]*devbench.Devbench, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query devbenches: %w", err)
	}
	defer rows.Close()

	var out []*devbench.Devbench
	for rows.Next() {
		d, err := scanDevbench(rows)
		if err != nil {
			return nil, fmt.Errorf("scan devbench: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate devbenches: %w", err)
	}
	return out, nil
}

// ListDevbenches returns the owner's devbenches, oldest first.
func (s *Store) ListDevbenches(ctx context.Context, ownerID string) ([]*devbench.Devbench, error) {
	return s.queryDevbenches(ctx,
		`SELECT `+devbenchColumns+` FROM devbenches WHERE owner_id = ? ORDER BY created_at ASC, rowid ASC;`, ownerID)
}

// ListAllDevbenches returns every devbench, grouped by owner.
func (s *Store) ListAllDevbenches(ctx context.Context) ([]*devbench.Devbench, error) {
	return s.queryDevbenches(ctx,
		`SELECT `+devbenchColumns+` FROM devbenches ORDER BY owner_id ASC, created_at ASC, rowid ASC;`)
}

// ListTracked returns devbenches whose external name is known, ordered by id.
func (s *Store) ListTracked(ctx context.Context) ([]*devbench.Devbench, error) {
	return s.queryDevbenches(ctx,
		`SELECT `+devbenchColumns+` FROM devbenches WHERE external_name IS NOT NULL AND external_name <> '' ORDER BY id ASC;`)
}

// UpdateDevbench persists the mutable fields of d.
func (s *Store) UpdateDevbench(ctx context.Context, d *devbench.Devbench) error {
	conn, err := encodeConnection(d.ConnectionInfo)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE devbenches
SET external_name = ?, state = ?, connection_info = ?, last_error = ?, updated_at = ?
WHERE id = ?;
`, nullIfEmpty(d.ExternalName), string(d.State), conn, nullIfEmpty(d.LastError), formatTime(d.UpdatedAt), d.ID)
	if err != nil {
		return fmt.Errorf("update devbench %s: %w", d.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return devbench.ErrNotFound
	}
	return nil
}

// FailInterrupted moves every devbench still in Creating to Error with
// reason as its last error, returning the affected records. Only call it
// while no create can be running, i.e. at startup.
func (s *Store) FailInterrupted(ctx context.Context, reason string) ([]*devbench.Devbench, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin fail interrupted: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx,
		`SELECT `+devbenchColumns+` FROM devbenches WHERE state = ? ORDER BY id;`,
		string(devbench.StateCreating))
	if err != nil {
		return nil, fmt.Errorf("list interrupted devbenches: %w", err)
	}
	var out []*devbench.Devbench
	for rows.Next() {
		d, err := scanDevbench(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	now := s.now()
	for _, d := range out {
		if _, err := tx.ExecContext(ctx,
			`UPDATE devbenches SET state = ?, last_error = ?, updated_at = ? WHERE id = ?;`,
			string(devbench.StateError), reason, formatTime(now), d.ID); err != nil {
			return nil, fmt.Errorf("fail interrupted devbench %s: %w", d.ID, err)
		}
		d.State = devbench.StateError
		d.LastError = reason
		d.UpdatedAt = now
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit fail interrupted: %w", err)
	}
	return out, nil
}

// DeleteDevbench removes a devbench and its operation history.
func (s *Store) DeleteDevbench(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM devbenches WHERE id = ?;`, id)
	if err != nil {
		return fmt.Errorf("delete devbench %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return devbench.ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM operation_log WHERE devbench_id = ?;`, id); err != nil {
		return fmt.Errorf("delete operation log for %s: %w", id, err)
	}
	return tx.Commit()
}

// CountByState returns the number of devbenches in each state.
func (s *Store) CountByState(ctx context.Context) (map[devbench.State]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM devbenches GROUP BY state;`)
	if err != nil {
		return nil, fmt.Errorf("count devbenches: %w", err)
	}
	defer rows.Close()

	out := make(map[devbench.State]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		out[devbench.State(state)] = n
	}
	return out, rows.Err()
}

func encodeConnection(ci *devbench.ConnectionInfo) (any, error) {
	if ci == nil {
		return nil, nil
	}
	b, err := json.Marshal(ci)
	if err != nil {
		return nil, fmt.Errorf("marshal connection info: %w", err)
	}
	return string(b), nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
