package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"podlog/internal/podlog"
)

const streamColumns = "id, pod_name, parent_id, name, path, user_id, access, has_schema, created_at"

// Stream operations

func (s *SQLiteDatabase) GetStream(ctx context.Context, id string) (*podlog.Stream, error) {
	return getStream(ctx, s.db, "SELECT "+streamColumns+" FROM streams WHERE id = ?", id)
}

func (s *SQLiteDatabase) GetStreamByPath(ctx context.Context, podName, path string) (*podlog.Stream, error) {
	return getStream(ctx, s.db, "SELECT "+streamColumns+" FROM streams WHERE pod_name = ? AND path = ?", podName, path)
}

func (s *SQLiteDatabase) ListChildStreams(ctx context.Context, podName, parentID string) ([]*podlog.Stream, error) {
	if parentID == "" {
		return listStreams(ctx, s.db,
			"SELECT "+streamColumns+" FROM streams WHERE pod_name = ? AND parent_id IS NULL ORDER BY name", podName)
	}
	return listStreams(ctx, s.db,
		"SELECT "+streamColumns+" FROM streams WHERE pod_name = ? AND parent_id = ? ORDER BY name", podName, parentID)
}

func (s *SQLiteDatabase) FindSubtree(ctx context.Context, podName, prefix string) ([]*podlog.Stream, error) {
	return listStreams(ctx, s.db, `
		SELECT `+streamColumns+` FROM streams
		WHERE pod_name = ? AND (path = ? OR path LIKE ? ESCAPE '\')
		ORDER BY path`,
		podName, prefix, escapeLike(prefix)+"/%")
}

func (s *SQLiteDatabase) CreateHierarchy(ctx context.Context, req podlog.HierarchyRequest) ([]*podlog.Stream, error) {
	const op = "CreateHierarchy"
	if len(req.Segments) == 0 {
		return nil, podlog.NewError(podlog.KindInvalidInput, op, "no path segments")
	}

	var created []*podlog.Stream
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		pod, err := getPod(ctx, tx, "SELECT name, owner_id, created_at FROM pods WHERE name = ?", req.PodName)
		if err != nil {
			return err
		}
		if pod == nil {
			return podlog.NewError(podlog.KindNotFound, op, "pod %s", req.PodName)
		}

		parentID := ""
		for i, seg := range req.Segments {
			path := strings.Join(req.Segments[:i+1], "/")
			leaf := i == len(req.Segments)-1

			existing, err := getStream(ctx, tx,
				"SELECT "+streamColumns+" FROM streams WHERE pod_name = ? AND path = ?", req.PodName, path)
			if err != nil {
				return err
			}
			if existing != nil {
				if leaf {
					return podlog.NewError(podlog.KindStreamExists, op, "stream %s already exists", path)
				}
				parentID = existing.ID
				continue
			}

			if parentID != "" {
				taken, err := recordNameExists(ctx, tx, parentID, seg)
				if err != nil {
					return err
				}
				if taken {
					return podlog.NewError(podlog.KindNameConflict, op, "a record named %s exists in %s", seg, parentPathOf(path))
				}
			}

			access := req.IntermediateAccess
			if leaf {
				access = req.LeafAccess
			}
			stream := &podlog.Stream{
				ID:        req.NewID(),
				PodName:   req.PodName,
				ParentID:  parentID,
				Name:      seg,
				Path:      path,
				UserID:    req.UserID,
				Access:    access,
				CreatedAt: podlog.ChainTime(req.CreatedAt),
			}
			if err := insertStream(ctx, tx, stream); err != nil {
				return err
			}
			created = append(created, stream)
			parentID = stream.ID
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *SQLiteDatabase) UpdateStreamAccess(ctx context.Context, id string, access podlog.Access) error {
	res, err := s.db.ExecContext(ctx, "UPDATE streams SET access = ? WHERE id = ?", access.String(), id)
	if err != nil {
		return fmt.Errorf("updating stream access: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return podlog.NewError(podlog.KindNotFound, "UpdateStreamAccess", "stream %s", id)
	}
	return nil
}

func (s *SQLiteDatabase) DeleteStream(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM streams WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting stream: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return podlog.NewError(podlog.KindNotFound, "DeleteStream", "stream %s", id)
	}
	return nil
}

func insertStream(ctx context.Context, q querier, st *podlog.Stream) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO streams (`+streamColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.ID, st.PodName, nullString(st.ParentID), st.Name, st.Path, st.UserID,
		st.Access.String(), st.HasSchema, toMillis(st.CreatedAt))
	if isUniqueViolation(err, "streams.") {
		return podlog.NewError(podlog.KindStreamExists, "CreateStream", "stream %s already exists", st.Path)
	}
	if err != nil {
		return fmt.Errorf("inserting stream %s: %w", st.Path, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStream(row rowScanner) (*podlog.Stream, error) {
	var (
		st        podlog.Stream
		parentID  sql.NullString
		access    string
		createdAt int64
	)
	if err := row.Scan(&st.ID, &st.PodName, &parentID, &st.Name, &st.Path, &st.UserID, &access, &st.HasSchema, &createdAt); err != nil {
		return nil, err
	}
	parsed, err := podlog.ParseAccess(access)
	if err != nil {
		return nil, fmt.Errorf("stream %s: %w", st.Path, err)
	}
	st.ParentID = parentID.String
	st.Access = parsed
	st.CreatedAt = fromMillis(createdAt)
	return &st, nil
}

func getStream(ctx context.Context, q querier, query string, args ...any) (*podlog.Stream, error) {
	st, err := scanStream(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding stream: %w", err)
	}
	return st, nil
}

func listStreams(ctx context.Context, q querier, query string, args ...any) ([]*podlog.Stream, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing streams: %w", err)
	}
	defer rows.Close()

	var streams []*podlog.Stream
	for rows.Next() {
		st, err := scanStream(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning stream: %w", err)
		}
		streams = append(streams, st)
	}
	return streams, rows.Err()
}

func parentPathOf(path string) string {
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[:i]
	}
	return ""
}
