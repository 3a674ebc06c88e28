package podlog

import (
	"context"
	"encoding/json"
	"fmt"
)

// Permissions decides read and write access to streams.
type Permissions struct {
	database Database
	logger   Logger
}

func NewPermissions(database Database, logger Logger) *Permissions {
	return &Permissions{database: database, logger: logger}
}

// PodOwner returns the user id in the latest record of the pod's owner
// stream, or "" if the pod has none.
func (p *Permissions) PodOwner(ctx context.Context, podName string) (string, error) {
	stream, err := p.database.GetStreamByPath(ctx, podName, OwnerStreamPath)
	if err != nil {
		return "", fmt.Errorf("finding owner stream: %w", err)
	}
	if stream == nil {
		return "", nil
	}
	record, err := p.database.GetLatestRecord(ctx, stream.ID)
	if err != nil {
		return "", fmt.Errorf("reading owner record: %w", err)
	}
	if record == nil {
		return "", nil
	}
	var owner OwnerRecord
	if err := json.Unmarshal(record.d.Content, &owner); err != nil {
		return "", fmt.Errorf("decoding owner record %d: %w", record.Index(), err)
	}
	return owner.ID, nil
}

// CanRead reports whether userID may read stream. userID is "" for
// anonymous callers.
func (p *Permissions) CanRead(ctx context.Context, stream *Stream, userID string) (bool, error) {
	return p.check(ctx, stream, userID, false)
}

// CanWrite reports whether userID may append to stream.
func (p *Permissions) CanWrite(ctx context.Context, stream *Stream, userID string) (bool, error) {
	return p.check(ctx, stream, userID, true)
}

func (p *Permissions) check(ctx context.Context, stream *Stream, userID string, write bool) (bool, error) {
	owner, err := p.PodOwner(ctx, stream.PodName)
	if err != nil {
		return false, err
	}
	if userID != "" && userID == owner {
		return true, nil
	}

	visited := make(map[string]bool)
	for current := stream; current != nil; {
		if visited[current.ID] {
			p.logger.Warn("stream ancestry cycle", "pod", stream.PodName, "stream", current.ID)
			return false, nil
		}
		visited[current.ID] = true

		allowed, decided, err := p.decide(ctx, current, userID, owner, write)
		if err != nil {
			return false, err
		}
		if decided {
			return allowed, nil
		}

		if current.ParentID == "" {
			break
		}
		parent, err := p.database.GetStream(ctx, current.ParentID)
		if err != nil {
			return false, fmt.Errorf("loading parent of %s: %w", current.Path, err)
		}
		current = parent
	}
	return false, nil
}

// decide applies the rules for a single stream. decided is false when the
// stream defers to its parent.
func (p *Permissions) decide(ctx context.Context, stream *Stream, userID, owner string, write bool) (allowed, decided bool, err error) {
	isCreator := userID != "" && userID == stream.UserID
	if isCreator && (owner == "" || owner == stream.UserID) {
		return true, true, nil
	}

	switch stream.Access.Kind {
	case AccessPublic:
		if !write {
			return true, true, nil
		}
		return userID != "", true, nil
	case AccessPrivate:
		return isCreator, true, nil
	case AccessStream:
		// Grants name users, so an anonymous caller is denied here rather
		// than deferred to the parent.
		if userID == "" {
			return false, true, nil
		}
		grant, err := p.lastGrant(ctx, stream.PodName, stream.Access.StreamPath, userID)
		if err != nil {
			return false, false, err
		}
		if grant == nil {
			return false, false, nil
		}
		if write {
			return grant.Write, true, nil
		}
		return grant.Read, true, nil
	case AccessInherit:
		return false, false, nil
	default:
		return false, false, fmt.Errorf("unknown access kind %d on %s", stream.Access.Kind, stream.Path)
	}
}

// lastGrant scans the permission stream in index order and returns the last
// visible grant for userID.
func (p *Permissions) lastGrant(ctx context.Context, podName, path, userID string) (*PermissionGrant, error) {
	permStream, err := p.database.GetStreamByPath(ctx, podName, path)
	if err != nil {
		return nil, fmt.Errorf("finding permission stream %s: %w", path, err)
	}
	if permStream == nil {
		return nil, nil
	}
	records, err := p.database.ListRecords(ctx, permStream.ID)
	if err != nil {
		return nil, fmt.Errorf("reading permission stream %s: %w", path, err)
	}

	var found *PermissionGrant
	for _, r := range records {
		if !r.Visible() {
			continue
		}
		var grant PermissionGrant
		if err := json.Unmarshal(r.d.Content, &grant); err != nil {
			p.logger.Debug("skipping malformed permission record", "stream", path, "index", r.Index())
			continue
		}
		if grant.ID == userID {
			g := grant
			found = &g
		}
	}
	return found, nil
}
