package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	capture "github.com/eugener/capture/internal"
)

// tsLayout is fixed-width so stored timestamps sort lexicographically.
const tsLayout = "2006-01-02T15:04:05.000Z"

const sessionCols = `id, peer, peer_host, client_name, shard, frames, invalid,
	bytes_in, bytes_out, rounds, close_reason, opened_at, closed_at, duration_ms`

func formatTS(t time.Time) string { return t.UTC().Format(tsLayout) }

// InsertSessions batch-inserts session summaries. Records whose ID already
// exists are ignored.
func (s *Store) InsertSessions(ctx context.Context, records []capture.SessionRecord) error {
	if len(records) == 0 {
		return nil
	}

	// cols must match the number of columns in the INSERT below.
	// Single multi-row INSERT avoids N round-trips for large batches.
	const cols = 14
	placeholders := make([]string, len(records))
	args := make([]any, 0, len(records)*cols)

	for i, r := range records {
		placeholders[i] = "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
		args = append(args,
			r.ID, r.Peer, r.PeerHost, r.ClientName, r.Shard,
			r.Frames, r.Invalid, r.BytesIn, r.BytesOut, r.Rounds,
			string(r.CloseReason), formatTS(r.OpenedAt), formatTS(r.ClosedAt), r.DurationMs,
		)
	}

	query := `INSERT OR IGNORE INTO sessions (` + sessionCols + `) VALUES ` +
		strings.Join(placeholders, ", ")

	_, err := s.write.ExecContext(ctx, query, args...)
	return err
}

// GetSession returns one session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (*capture.SessionRecord, error) {
	row := s.read.QueryRowContext(ctx, `SELECT `+sessionCols+` FROM sessions WHERE id = ?`, id)
	r, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, capture.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListSessions returns sessions matching the filter, most recently closed first.
func (s *Store) ListSessions(ctx context.Context, f capture.SessionFilter) ([]capture.SessionRecord, error) {
	where, args, err := sessionWhere(f)
	if err != nil {
		return nil, err
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, f.Offset)

	rows, err := s.read.QueryContext(ctx,
		`SELECT `+sessionCols+` FROM sessions`+where+` ORDER BY closed_at DESC, id DESC LIMIT ? OFFSET ?`,
		args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []capture.SessionRecord
	for rows.Next() {
		r, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountSessions returns the count of sessions matching the filter.
func (s *Store) CountSessions(ctx context.Context, f capture.SessionFilter) (int, error) {
	where, args, err := sessionWhere(f)
	if err != nil {
		return 0, err
	}
	var n int
	err = s.read.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`+where, args...).Scan(&n)
	return n, err
}

// DeleteSessionsBefore removes sessions closed before cutoff.
func (s *Store) DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.write.ExecContext(ctx, `DELETE FROM sessions WHERE closed_at < ?`, formatTS(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(sc scanner) (capture.SessionRecord, error) {
	var r capture.SessionRecord
	var reason, openedAt, closedAt string
	err := sc.Scan(
		&r.ID, &r.Peer, &r.PeerHost, &r.ClientName, &r.Shard,
		&r.Frames, &r.Invalid, &r.BytesIn, &r.BytesOut, &r.Rounds,
		&reason, &openedAt, &closedAt, &r.DurationMs,
	)
	if err != nil {
		return r, err
	}
	r.CloseReason = capture.CloseReason(reason)
	if t, e := time.Parse(tsLayout, openedAt); e == nil {
		r.OpenedAt = t
	}
	if t, e := time.Parse(tsLayout, closedAt); e == nil {
		r.ClosedAt = t
	}
	return r, nil
}

func sessionWhere(f capture.SessionFilter) (string, []any, error) {
	var clauses []string
	var args []any
	if f.Peer != "" {
		clauses = append(clauses, "peer = ?")
		args = append(args, f.Peer)
	}
	if f.ClientName != "" {
		clauses = append(clauses, "client_name = ?")
		args = append(args, f.ClientName)
	}
	if f.Reason != "" {
		clauses = append(clauses, "close_reason = ?")
		args = append(args, f.Reason)
	}
	if f.Since != "" {
		t, err := time.Parse(time.RFC3339, f.Since)
		if err != nil {
			return "", nil, fmt.Errorf("%w: since: %v", capture.ErrBadRequest, err)
		}
		clauses = append(clauses, "closed_at >= ?")
		args = append(args, formatTS(t))
	}
	if f.Until != "" {
		t, err := time.Parse(time.RFC3339, f.Until)
		if err != nil {
			return "", nil, fmt.Errorf("%w: until: %v", capture.ErrBadRequest, err)
		}
		clauses = append(clauses, "closed_at < ?")
		args = append(args, formatTS(t))
	}
	if len(clauses) == 0 {
		return "", nil, nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}
