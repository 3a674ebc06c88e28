package podlog

import (
	"context"
	"strings"
)

// ResolveStream returns the stream at path without checking permissions.
func (s *Service) ResolveStream(ctx context.Context, podName, path string) (*Stream, error) {
	const op = "ResolveStream"
	normalized, err := NormalizeStreamPath(path)
	if err != nil {
		return nil, &Error{Kind: KindInvalidInput, Op: op, Err: err}
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	stream, err := s.lookupStream(ctx, podName, normalized)
	return notFoundIfNil(stream, err, op, "stream %s in pod %s", normalized, podName)
}

func (s *Service) lookupStream(ctx context.Context, podName, path string) (*Stream, error) {
	return readThrough(ctx, s, familyStream, streamKey(podName, path), func(ctx context.Context) (*Stream, error) {
		return s.database.GetStreamByPath(ctx, podName, path)
	})
}

// GetStream returns the stream at path if the caller may read it.
func (s *Service) GetStream(ctx context.Context, caller Caller, podName, path string) (*Stream, error) {
	const op = "GetStream"
	if err := s.rateLimit(ctx, caller, ActionRead); err != nil {
		return nil, err
	}
	stream, err := s.ResolveStream(ctx, podName, path)
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.authorizeRead(ctx, op, caller, stream); err != nil {
		return nil, err
	}
	return stream, nil
}

// CreateStream explicitly creates the stream at path, with any missing
// ancestors created public. Only the pod owner may create streams.
func (s *Service) CreateStream(ctx context.Context, caller Caller, podName, path string, access Access) (*Stream, error) {
	const op = "CreateStream"
	segments, err := SplitStreamPath(path)
	if err != nil {
		return nil, &Error{Kind: KindInvalidInput, Op: op, Err: err}
	}
	if err := s.rateLimit(ctx, caller, ActionStreamCreate); err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := s.loadPod(ctx, op, podName); err != nil {
		return nil, err
	}
	created, err := s.createHierarchy(ctx, op, caller, podName, segments, access)
	if err != nil {
		return nil, err
	}
	return created[len(created)-1], nil
}

// createHierarchy checks ownership, then creates every missing stream along
// segments in one transaction and invalidates the affected cache keys.
func (s *Service) createHierarchy(ctx context.Context, op string, caller Caller, podName string, segments []string, leaf Access) ([]*Stream, error) {
	if err := s.requireOwner(ctx, op, caller, podName); err != nil {
		return nil, err
	}
	intermediate := Public
	if isConfigPath(strings.Join(segments, "/")) {
		intermediate = Private
	}

	created, err := s.database.CreateHierarchy(ctx, HierarchyRequest{
		PodName:            podName,
		Segments:           segments,
		UserID:             caller.UserID,
		LeafAccess:         leaf,
		IntermediateAccess: intermediate,
		CreatedAt:          s.clock.Now(),
		NewID:              s.idgen.New,
	})
	if err != nil {
		return nil, internalError(op, err)
	}

	for _, stream := range created {
		s.invalidateStream(ctx, stream)
	}
	s.logger.Info("streams created", "pod", podName, "path", strings.Join(segments, "/"), "count", len(created))
	return created, nil
}

// invalidateStream drops the stream's key and its parent's child list.
func (s *Service) invalidateStream(ctx context.Context, stream *Stream) {
	s.cacheDelete(ctx,
		streamKey(stream.PodName, stream.Path),
		childrenKey(stream.PodName, stream.ParentPath()),
	)
}

// DeleteStream removes the stream at path with all descendants and their
// records. Only the stream's creator may delete it.
func (s *Service) DeleteStream(ctx context.Context, caller Caller, podName, path string) error {
	const op = "DeleteStream"
	if err := s.rateLimit(ctx, caller, ActionWrite); err != nil {
		return err
	}
	stream, err := s.ResolveStream(ctx, podName, path)
	if err != nil {
		return err
	}
	if caller.Anonymous() || caller.UserID != stream.UserID {
		s.metrics.PermissionDenied(ActionWrite)
		return newError(KindForbidden, op, "only the creator may delete %s", stream.Path)
	}
	if stream.Path == ConfigStreamPath || stream.Path == OwnerStreamPath {
		return newError(KindForbidden, op, "%s is reserved", stream.Path)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	subtree, err := s.database.FindSubtree(ctx, podName, stream.Path)
	if err != nil {
		return internalError(op, err)
	}
	if err := s.database.DeleteStream(ctx, stream.ID); err != nil {
		return internalError(op, err)
	}

	for _, st := range subtree {
		s.invalidateStream(ctx, st)
		s.cacheDelete(ctx, childrenKey(podName, st.Path))
		s.cacheDeletePattern(ctx, recordListPattern(st.ID), familyRecord+":"+st.ID+":*")
	}
	s.invalidateLists(ctx, podName, stream.ID, stream.Path)
	s.logger.Info("stream deleted", "pod", podName, "path", stream.Path, "streams", len(subtree))
	return nil
}

// SetAccess changes the access permission of the stream at path. Allowed for
// the stream's creator and the pod owner.
func (s *Service) SetAccess(ctx context.Context, caller Caller, podName, path string, access Access) (*Stream, error) {
	const op = "SetAccess"
	if err := s.rateLimit(ctx, caller, ActionWrite); err != nil {
		return nil, err
	}
	stream, err := s.ResolveStream(ctx, podName, path)
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if caller.Anonymous() || caller.UserID != stream.UserID {
		if err := s.requireOwner(ctx, op, caller, podName); err != nil {
			return nil, err
		}
	}
	if err := s.database.UpdateStreamAccess(ctx, stream.ID, access); err != nil {
		return nil, internalError(op, err)
	}
	s.invalidateStream(ctx, stream)

	updated := *stream
	updated.Access = access
	s.logger.Info("stream access updated", "pod", podName, "path", stream.Path, "access", access.String())
	return &updated, nil
}

// ListChildren returns the readable direct children of path, or the readable
// root streams of the pod when path is empty.
func (s *Service) ListChildren(ctx context.Context, caller Caller, podName, path string) ([]*Stream, error) {
	const op = "ListChildren"
	if err := s.rateLimit(ctx, caller, ActionRead); err != nil {
		return nil, err
	}

	parentID := ""
	normalized := ""
	if strings.Trim(path, "/") != "" {
		parent, err := s.ResolveStream(ctx, podName, path)
		if err != nil {
			return nil, err
		}
		parentID, normalized = parent.ID, parent.Path
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if parentID == "" {
		if _, err := s.GetPod(ctx, podName); err != nil {
			return nil, err
		}
	}
	children, err := readThrough(ctx, s, familyChildren, childrenKey(podName, normalized), func(ctx context.Context) (*[]*Stream, error) {
		streams, err := s.database.ListChildStreams(ctx, podName, parentID)
		if err != nil {
			return nil, err
		}
		return &streams, nil
	})
	if err != nil {
		return nil, internalError(op, err)
	}

	readable := make([]*Stream, 0, len(*children))
	for _, child := range *children {
		ok, err := s.permissions.CanRead(ctx, child, caller.UserID)
		if err != nil {
			return nil, internalError(op, err)
		}
		if ok {
			readable = append(readable, child)
		}
	}
	return readable, nil
}

// FindSubtree returns every stream at or below prefix without checking
// permissions.
func (s *Service) FindSubtree(ctx context.Context, podName, prefix string) ([]*Stream, error) {
	const op = "FindSubtree"
	normalized, err := NormalizeStreamPath(prefix)
	if err != nil {
		return nil, &Error{Kind: KindInvalidInput, Op: op, Err: err}
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	streams, err := s.database.FindSubtree(ctx, podName, normalized)
	if err != nil {
		return nil, internalError(op, err)
	}
	return streams, nil
}

// CanRead reports whether caller may read stream.
func (s *Service) CanRead(ctx context.Context, caller Caller, stream *Stream) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.permissions.CanRead(ctx, stream, caller.UserID)
}

// CanWrite reports whether caller may append to stream.
func (s *Service) CanWrite(ctx context.Context, caller Caller, stream *Stream) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.permissions.CanWrite(ctx, stream, caller.UserID)
}
