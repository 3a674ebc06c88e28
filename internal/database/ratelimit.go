package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"podlog/internal/podlog"
)

// Rate limit windows

// IncrementWindow counts one hit in a single statement. The upsert only
// bumps the counter while it is below limit; when it is not, no row is
// returned and the request is denied.
func (s *SQLiteDatabase) IncrementWindow(ctx context.Context, identifier string, action podlog.Action, start, end time.Time, limit int64) (int64, bool, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO rate_limits (identifier, action, window_start, window_end, count)
		VALUES (?, ?, ?, ?, 1)
		ON CONFLICT (identifier, action, window_end)
		DO UPDATE SET count = count + 1 WHERE count < ?
		RETURNING count`,
		identifier, string(action), toMillis(start), toMillis(end), limit).Scan(&count)
	if err == nil {
		return count, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, false, fmt.Errorf("incrementing rate limit window: %w", err)
	}

	w, err := s.GetWindow(ctx, identifier, action, end)
	if err != nil {
		return 0, false, err
	}
	if w == nil {
		return 0, false, fmt.Errorf("rate limit window for %s/%s vanished", identifier, action)
	}
	return w.Count, false, nil
}

func (s *SQLiteDatabase) GetWindow(ctx context.Context, identifier string, action podlog.Action, end time.Time) (*podlog.Window, error) {
	w := podlog.Window{Identifier: identifier, Action: action}
	var start, fin int64
	err := s.db.QueryRowContext(ctx, `
		SELECT window_start, window_end, count FROM rate_limits
		WHERE identifier = ? AND action = ? AND window_end = ?`,
		identifier, string(action), toMillis(end)).Scan(&start, &fin, &w.Count)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading rate limit window: %w", err)
	}
	w.Start = fromMillis(start)
	w.End = fromMillis(fin)
	return &w, nil
}

func (s *SQLiteDatabase) DeleteWindows(ctx context.Context, identifier string, action podlog.Action) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM rate_limits WHERE identifier = ? AND action = ?", identifier, string(action))
	if err != nil {
		return fmt.Errorf("deleting rate limit windows: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) PurgeWindows(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM rate_limits WHERE window_end < ?", toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("purging rate limit windows: %w", err)
	}
	return res.RowsAffected()
}
