package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/mattjoyce/devbench/internal/devbench"
)

// AppendOperation records one script invocation. Output beyond
// MaxOperationOutput is trimmed from the front.
func (s *Store) AppendOperation(ctx context.Context, rec *devbench.OperationRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.Output = tailOutput(rec.Output, MaxOperationOutput)
	_, err := s.db.ExecContext(ctx, `
INSERT INTO operation_log(
  id, devbench_id, owner_id, verb, target, exit_code, timed_out, output, error, started_at, completed_at
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, rec.ID, rec.DevbenchID, rec.OwnerID, rec.Verb, rec.Target, rec.ExitCode, rec.TimedOut,
		nullIfEmpty(rec.Output), nullIfEmpty(rec.Error), formatTime(rec.StartedAt), formatTime(rec.CompletedAt))
	if err != nil {
		return fmt.Errorf("append operation: %w", err)
	}
	return nil
}

// tailOutput keeps at most max bytes from the end of s. The cut moves
// forward to the next line start when the kept part has one, otherwise to
// the next rune start.
func tailOutput(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := len(s) - max
	if i := strings.IndexByte(s[cut:], '\n'); i >= 0 && cut+i+1 < len(s) {
		return s[cut+i+1:]
	}
	for cut < len(s) && !utf8.RuneStart(s[cut]) {
		cut++
	}
	return s[cut:]
}

// ListOperations returns the newest operations for a devbench first.
func (s *Store) ListOperations(ctx context.Context, devbenchID string, limit int) ([]*devbench.OperationRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, devbench_id, owner_id, verb, target, exit_code, timed_out, output, error, started_at, completed_at
FROM operation_log
WHERE devbench_id = ?
ORDER BY started_at DESC, rowid DESC
LIMIT ?;
`, devbenchID, limit)
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	defer rows.Close()

	var out []*devbench.OperationRecord
	for rows.Next() {
		var (
			r                   devbench.OperationRecord
			output, errText     sql.NullString
			startedS, completeS string
		)
		if err := rows.Scan(&r.ID, &r.DevbenchID, &r.OwnerID, &r.Verb, &r.Target, &r.ExitCode, &r.TimedOut,
			&output, &errText, &startedS, &completeS); err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		r.Output = output.String
		r.Error = errText.String
		r.StartedAt = parseTime(startedS)
		r.CompletedAt = parseTime(completeS)
		out = append(out, &r)
	}
	return out, rows.Err()
}
