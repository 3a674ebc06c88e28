package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"podlog/internal/podlog"
)

// maxAppendAttempts bounds retries after losing an index race on
// UNIQUE(stream_id, idx), which can only happen across processes.
const maxAppendAttempts = 5

const recordColumns = `r.id, r.stream_id, r.idx, r.name, r.content, r.content_type, r.content_hash,
	r.hash, r.previous_hash, r.user_id, r.created_at,
	COALESCE(f.deleted, 0) AS deleted, COALESCE(f.purged, 0) AS purged`

const (
	recordFrom  = "records r LEFT JOIN record_flags f ON f.record_id = r.id"
	visibleOnly = "COALESCE(f.deleted, 0) = 0 AND COALESCE(f.purged, 0) = 0"
)

// Record operations

// AppendRecord serializes appends per stream with an in-process lock, runs
// the read-head-then-insert inside one IMMEDIATE transaction, and retries if
// another writer took the index first.
func (s *SQLiteDatabase) AppendRecord(ctx context.Context, streamID string, draft podlog.RecordDraft) (*podlog.Record, error) {
	unlock, err := s.streamLocks.Lock(ctx, streamID)
	if err != nil {
		return nil, fmt.Errorf("locking stream %s: %w", streamID, err)
	}
	defer unlock()

	var lastErr error
	for attempt := 0; attempt < maxAppendAttempts; attempt++ {
		record, err := s.appendOnce(ctx, streamID, draft)
		if err == nil {
			return record, nil
		}
		if !isUniqueViolation(err, "records.idx") {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("appending to stream %s: gave up after %d attempts: %w", streamID, maxAppendAttempts, lastErr)
}

func (s *SQLiteDatabase) appendOnce(ctx context.Context, streamID string, draft podlog.RecordDraft) (*podlog.Record, error) {
	const op = "AppendRecord"
	var record *podlog.Record
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, "SELECT 1 FROM streams WHERE id = ?", streamID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return podlog.NewError(podlog.KindNotFound, op, "stream %s", streamID)
		}
		if err != nil {
			return fmt.Errorf("checking stream: %w", err)
		}

		if draft.Name != "" {
			var child int
			err := tx.QueryRowContext(ctx,
				"SELECT 1 FROM streams WHERE parent_id = ? AND name = ?", streamID, draft.Name).Scan(&child)
			if err == nil {
				return podlog.NewError(podlog.KindNameConflict, op, "a child stream is named %s", draft.Name)
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("checking child streams: %w", err)
			}
		}

		head, err := streamHead(ctx, tx, streamID)
		if err != nil {
			return err
		}
		record = podlog.SealRecord(streamID, head, draft)
		return insertRecord(ctx, tx, record)
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (s *SQLiteDatabase) GetStreamHead(ctx context.Context, streamID string) (*podlog.StreamHead, error) {
	return streamHead(ctx, s.db, streamID)
}

func streamHead(ctx context.Context, q querier, streamID string) (*podlog.StreamHead, error) {
	head := &podlog.StreamHead{LastIndex: -1}
	err := q.QueryRowContext(ctx,
		"SELECT idx, hash FROM records WHERE stream_id = ? ORDER BY idx DESC LIMIT 1", streamID).
		Scan(&head.LastIndex, &head.LastHash)
	if errors.Is(err, sql.ErrNoRows) {
		return head, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading stream head: %w", err)
	}
	head.Count = head.LastIndex + 1
	return head, nil
}

func insertRecord(ctx context.Context, q querier, r *podlog.Record) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO records (id, stream_id, idx, name, content, content_type, content_hash,
			hash, previous_hash, user_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID(), r.StreamID(), r.Index(), nullString(r.Name()), r.Content(), r.ContentType(), r.ContentHash(),
		r.Hash(), nullString(r.PreviousHash()), r.UserID(), toMillis(r.CreatedAt()))
	if err != nil {
		return fmt.Errorf("inserting record %d: %w", r.Index(), err)
	}
	return nil
}

func recordNameExists(ctx context.Context, q querier, streamID, name string) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, "SELECT 1 FROM records WHERE stream_id = ? AND name = ? LIMIT 1", streamID, name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking record names: %w", err)
	}
	return true, nil
}

func (s *SQLiteDatabase) GetRecord(ctx context.Context, streamID string, index int64) (*podlog.Record, error) {
	return getRecord(ctx, s.db,
		"SELECT "+recordColumns+" FROM "+recordFrom+" WHERE r.stream_id = ? AND r.idx = ?", streamID, index)
}

func (s *SQLiteDatabase) GetLatestRecord(ctx context.Context, streamID string) (*podlog.Record, error) {
	return getRecord(ctx, s.db,
		"SELECT "+recordColumns+" FROM "+recordFrom+" WHERE r.stream_id = ? AND "+visibleOnly+
			" ORDER BY r.idx DESC LIMIT 1", streamID)
}

func (s *SQLiteDatabase) GetLatestRecordByName(ctx context.Context, streamID, name string) (*podlog.Record, error) {
	return getRecord(ctx, s.db,
		"SELECT "+recordColumns+" FROM "+recordFrom+" WHERE r.stream_id = ? AND r.name = ? AND "+visibleOnly+
			" ORDER BY r.idx DESC LIMIT 1", streamID, name)
}

func (s *SQLiteDatabase) GetRecordRange(ctx context.Context, streamID string, start, end int64) ([]*podlog.Record, error) {
	return listRecords(ctx, s.db,
		"SELECT "+recordColumns+" FROM "+recordFrom+" WHERE r.stream_id = ? AND r.idx >= ? AND r.idx < ? AND "+visibleOnly+
			" ORDER BY r.idx", streamID, start, end)
}

func (s *SQLiteDatabase) ListRecords(ctx context.Context, streamID string) ([]*podlog.Record, error) {
	return listRecords(ctx, s.db,
		"SELECT "+recordColumns+" FROM "+recordFrom+" WHERE r.stream_id = ? ORDER BY r.idx", streamID)
}

func (s *SQLiteDatabase) ListUniqueRecords(ctx context.Context, streamIDs []string) ([]*podlog.Record, error) {
	if len(streamIDs) == 0 {
		return []*podlog.Record{}, nil
	}
	args := make([]any, len(streamIDs))
	for i, id := range streamIDs {
		args[i] = id
	}
	// Unnamed records partition by their own id so each one is distinct.
	query := `
		SELECT id, stream_id, idx, name, content, content_type, content_hash,
			hash, previous_hash, user_id, created_at, deleted, purged
		FROM (
			SELECT ` + recordColumns + `,
				ROW_NUMBER() OVER (
					PARTITION BY r.stream_id, COALESCE(r.name, r.id)
					ORDER BY r.idx DESC
				) AS rn
			FROM ` + recordFrom + `
			WHERE r.stream_id IN (` + placeholders(len(streamIDs)) + `) AND ` + visibleOnly + `
		) AS latest
		WHERE rn = 1
		ORDER BY created_at, idx, stream_id`
	return listRecords(ctx, s.db, query, args...)
}

func (s *SQLiteDatabase) SetRecordFlags(ctx context.Context, streamID string, index int64, deleted, purged bool) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO record_flags (record_id, deleted, purged)
		SELECT id, ?, ? FROM records WHERE stream_id = ? AND idx = ?
		ON CONFLICT (record_id) DO UPDATE SET deleted = excluded.deleted, purged = excluded.purged`,
		deleted, purged, streamID, index)
	if err != nil {
		return fmt.Errorf("setting record flags: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return podlog.NewError(podlog.KindNotFound, "SetRecordFlags", "record %d in stream %s", index, streamID)
	}
	return nil
}

func scanRecord(row rowScanner) (*podlog.Record, error) {
	var (
		d         podlog.RecordData
		name      sql.NullString
		previous  sql.NullString
		createdAt int64
	)
	err := row.Scan(&d.ID, &d.StreamID, &d.Index, &name, &d.Content, &d.ContentType, &d.ContentHash,
		&d.Hash, &previous, &d.UserID, &createdAt, &d.Deleted, &d.Purged)
	if err != nil {
		return nil, err
	}
	d.Name = name.String
	d.PreviousHash = previous.String
	d.CreatedAt = fromMillis(createdAt)
	return podlog.NewRecord(d), nil
}

func getRecord(ctx context.Context, q querier, query string, args ...any) (*podlog.Record, error) {
	r, err := scanRecord(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding record: %w", err)
	}
	return r, nil
}

func listRecords(ctx context.Context, q querier, query string, args ...any) ([]*podlog.Record, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	defer rows.Close()

	records := []*podlog.Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
