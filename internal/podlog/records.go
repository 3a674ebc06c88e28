package podlog

import (
	"context"
	"sort"
	"strconv"
	"strings"
)

// AppendRequest is the caller-supplied content of a new record.
type AppendRequest struct {
	Content     []byte
	ContentType string
	Name        string
	// Access applies when the append creates the stream. The zero value
	// creates a public stream, or a private one under .config.
	Access *Access
}

// Append adds a record to the stream at path, creating the stream and any
// missing ancestors first if the caller owns the pod.
func (s *Service) Append(ctx context.Context, caller Caller, podName, path string, req AppendRequest) (*Record, error) {
	const op = "Append"
	segments, err := SplitStreamPath(path)
	if err != nil {
		return nil, &Error{Kind: KindInvalidInput, Op: op, Err: err}
	}
	if err := ValidateRecordName(req.Name); err != nil {
		return nil, &Error{Kind: KindInvalidInput, Op: op, Err: err}
	}
	normalized := strings.Join(segments, "/")
	if err := s.rateLimit(ctx, caller, ActionWrite); err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := s.loadPod(ctx, op, podName); err != nil {
		return nil, err
	}
	stream, err := s.lookupStream(ctx, podName, normalized)
	if err != nil {
		return nil, internalError(op, err)
	}
	if stream == nil {
		stream, err = s.autoCreate(ctx, op, caller, podName, segments, req.Access)
		if err != nil {
			return nil, err
		}
	}

	if stream.Path == OwnerStreamPath {
		return nil, newError(KindForbidden, op, "ownership changes go through ownership transfer")
	}
	if isConfigPath(stream.Path) {
		if err := s.requireOwner(ctx, op, caller, podName); err != nil {
			return nil, err
		}
	} else if err := s.authorizeWrite(ctx, op, caller, stream); err != nil {
		return nil, err
	}

	record, err := s.database.AppendRecord(ctx, stream.ID, RecordDraft{
		ID:          s.idgen.New(),
		Content:     req.Content,
		ContentType: req.ContentType,
		Name:        req.Name,
		UserID:      caller.UserID,
		CreatedAt:   s.clock.Now(),
	})
	if err != nil {
		return nil, internalError(op, err)
	}

	if record.Name() != "" {
		s.cacheDelete(ctx, recordNameKey(stream.ID, record.Name()))
	}
	s.invalidateLists(ctx, podName, stream.ID, stream.Path)
	s.metrics.RecordAppended(podName)
	s.logger.Debug("record appended", "pod", podName, "path", stream.Path, "index", record.Index())
	return record, nil
}

func (s *Service) autoCreate(ctx context.Context, op string, caller Caller, podName string, segments []string, access *Access) (*Stream, error) {
	if err := s.rateLimit(ctx, caller, ActionStreamCreate); err != nil {
		return nil, err
	}
	leaf := Public
	if isConfigPath(strings.Join(segments, "/")) {
		leaf = Private
	}
	if access != nil {
		leaf = *access
	}

	created, err := s.createHierarchy(ctx, op, caller, podName, segments, leaf)
	if err == nil {
		return created[len(created)-1], nil
	}
	if !isKind(err, KindStreamExists) {
		return nil, err
	}
	// Lost a race with a concurrent creator.
	stream, err := s.database.GetStreamByPath(ctx, podName, strings.Join(segments, "/"))
	return notFoundIfNil(stream, err, op, "stream %s", strings.Join(segments, "/"))
}

// Selector picks a single record. With neither field set it selects the
// latest visible record.
type Selector struct {
	// Index is absolute, or counted from the end when negative (-1 is last).
	Index *int64
	// Name selects the latest visible record with that name.
	Name string
}

// Read returns a single record from the stream at path.
func (s *Service) Read(ctx context.Context, caller Caller, podName, path string, sel Selector) (*Record, error) {
	const op = "Read"
	stream, err := s.readableStream(ctx, op, caller, podName, path)
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var record *Record
	switch {
	case sel.Index != nil:
		index, err := s.absoluteIndex(ctx, op, stream.ID, *sel.Index)
		if err != nil {
			return nil, err
		}
		record, err = s.database.GetRecord(ctx, stream.ID, index)
		if err != nil {
			return nil, internalError(op, err)
		}
		if record != nil && !record.Visible() {
			record = nil
		}
	case sel.Name != "":
		record, err = readThrough(ctx, s, familyRecord, recordNameKey(stream.ID, sel.Name), func(ctx context.Context) (*Record, error) {
			return s.database.GetLatestRecordByName(ctx, stream.ID, sel.Name)
		})
		if err != nil {
			return nil, internalError(op, err)
		}
	default:
		record, err = s.database.GetLatestRecord(ctx, stream.ID)
		if err != nil {
			return nil, internalError(op, err)
		}
	}
	if record == nil {
		return nil, newError(KindNotFound, op, "no such record in %s", stream.Path)
	}
	return record, nil
}

// Range is a half-open index interval. Negative bounds count from the end;
// a nil End extends to the end of the stream.
type Range struct {
	Start int64
	End   *int64
}

// ReadRange returns the visible records in r, in index order.
func (s *Service) ReadRange(ctx context.Context, caller Caller, podName, path string, r Range) ([]*Record, error) {
	const op = "ReadRange"
	stream, err := s.readableStream(ctx, op, caller, podName, path)
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	head, err := s.database.GetStreamHead(ctx, stream.ID)
	if err != nil {
		return nil, internalError(op, err)
	}
	length := head.LastIndex + 1
	start := clampIndex(r.Start, length)
	end := length
	if r.End != nil {
		end = clampIndex(*r.End, length)
	}
	if start >= end {
		return []*Record{}, nil
	}
	records, err := s.database.GetRecordRange(ctx, stream.ID, start, end)
	if err != nil {
		return nil, internalError(op, err)
	}
	return records, nil
}

// ListOptions controls ListUnique.
type ListOptions struct {
	// Limit caps the result size. Zero selects the default.
	Limit int
	// After skips ahead. For a single stream, records with index <= After are
	// skipped. For recursive listings After is a position in the merged order.
	// A negative value keeps only the last |After| entries.
	After *int64
	// Recursive includes every readable stream in the subtree.
	Recursive bool
}

// ListUnique returns the latest visible record for every distinct name under
// path. Unnamed records are each distinct.
func (s *Service) ListUnique(ctx context.Context, caller Caller, podName, path string, opts ListOptions) ([]*Record, error) {
	const op = "ListUnique"
	if opts.Limit < 0 || opts.Limit > maxListLimit {
		return nil, newError(KindInvalidInput, op, "limit must be between 0 and %d", maxListLimit)
	}
	if opts.Limit == 0 {
		opts.Limit = defaultListLimit
	}
	stream, err := s.readableStream(ctx, op, caller, podName, path)
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	streamIDs := []string{stream.ID}
	if opts.Recursive {
		streamIDs, err = s.readableSubtree(ctx, op, caller, stream)
		if err != nil {
			return nil, err
		}
	}

	params := map[string]string{
		"limit":     strconv.Itoa(opts.Limit),
		"recursive": strconv.FormatBool(opts.Recursive),
		"streams":   strings.Join(streamIDs, ","),
	}
	if opts.After != nil {
		params["after"] = strconv.FormatInt(*opts.After, 10)
	}
	records, err := readThrough(ctx, s, familyRecordList, recordListKey(stream.ID, params), func(ctx context.Context) (*[]*Record, error) {
		all, err := s.database.ListUniqueRecords(ctx, streamIDs)
		if err != nil {
			return nil, err
		}
		page := paginate(all, opts)
		return &page, nil
	})
	if err != nil {
		return nil, internalError(op, err)
	}
	return *records, nil
}

// readableSubtree returns the ids of the streams under root the caller may read.
func (s *Service) readableSubtree(ctx context.Context, op string, caller Caller, root *Stream) ([]string, error) {
	subtree, err := s.database.FindSubtree(ctx, root.PodName, root.Path)
	if err != nil {
		return nil, internalError(op, err)
	}
	ids := make([]string, 0, len(subtree))
	for _, st := range subtree {
		if st.ID == root.ID {
			ids = append(ids, st.ID)
			continue
		}
		ok, err := s.permissions.CanRead(ctx, st, caller.UserID)
		if err != nil {
			return nil, internalError(op, err)
		}
		if ok {
			ids = append(ids, st.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func paginate(records []*Record, opts ListOptions) []*Record {
	if opts.Recursive {
		sort.SliceStable(records, func(i, j int) bool {
			a, b := records[i], records[j]
			if !a.CreatedAt().Equal(b.CreatedAt()) {
				return a.CreatedAt().Before(b.CreatedAt())
			}
			if a.Index() != b.Index() {
				return a.Index() < b.Index()
			}
			return a.StreamID() < b.StreamID()
		})
	} else {
		sort.SliceStable(records, func(i, j int) bool { return records[i].Index() < records[j].Index() })
	}

	if opts.After != nil {
		after := *opts.After
		switch {
		case after < 0:
			if n := int(-after); n < len(records) {
				records = records[len(records)-n:]
			}
		case opts.Recursive:
			if int64(len(records)) <= after+1 {
				records = nil
			} else {
				records = records[after+1:]
			}
		default:
			i := sort.Search(len(records), func(i int) bool { return records[i].Index() > after })
			records = records[i:]
		}
	}
	if len(records) > opts.Limit {
		records = records[:opts.Limit]
	}
	if records == nil {
		records = []*Record{}
	}
	return records
}

// DeleteRecord flags the record at index as deleted, and purged when purge is
// set. The record stays in the chain. Allowed for its author and the pod owner.
func (s *Service) DeleteRecord(ctx context.Context, caller Caller, podName, path string, index int64, purge bool) error {
	const op = "DeleteRecord"
	if err := s.rateLimit(ctx, caller, ActionWrite); err != nil {
		return err
	}
	stream, err := s.ResolveStream(ctx, podName, path)
	if err != nil {
		return err
	}
	if caller.Anonymous() {
		return newError(KindForbidden, op, "authentication required")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	abs, err := s.absoluteIndex(ctx, op, stream.ID, index)
	if err != nil {
		return err
	}
	record, err := s.database.GetRecord(ctx, stream.ID, abs)
	if err != nil {
		return internalError(op, err)
	}
	if record == nil {
		return newError(KindNotFound, op, "record %d in %s", index, stream.Path)
	}
	if record.UserID() != caller.UserID {
		if err := s.requireOwner(ctx, op, caller, podName); err != nil {
			return err
		}
	}
	if err := s.database.SetRecordFlags(ctx, stream.ID, abs, true, purge || record.Purged()); err != nil {
		return internalError(op, err)
	}

	if record.Name() != "" {
		s.cacheDelete(ctx, recordNameKey(stream.ID, record.Name()))
	}
	s.invalidateLists(ctx, podName, stream.ID, stream.Path)
	if stream.Path == RoutingStreamPath {
		s.cacheDelete(ctx, routesKey(stream.ID))
	}
	s.logger.Info("record deleted", "pod", podName, "path", stream.Path, "index", abs, "purge", purge)
	return nil
}

// VerifyChain recomputes the hash chain of a stream from genesis.
func (s *Service) VerifyChain(ctx context.Context, streamID string) (*ChainReport, error) {
	const op = "VerifyChain"
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	records, err := s.database.ListRecords(ctx, streamID)
	if err != nil {
		return nil, internalError(op, err)
	}
	report := VerifyRecords(streamID, records)
	if !report.Valid {
		s.logger.Error("hash chain mismatch", "stream", streamID,
			"index", report.Mismatch.Index, "field", report.Mismatch.Field)
	}
	return &report, nil
}

// Verify checks the chain of the stream at path for a caller who may read it.
func (s *Service) Verify(ctx context.Context, caller Caller, podName, path string) (*ChainReport, error) {
	stream, err := s.readableStream(ctx, "Verify", caller, podName, path)
	if err != nil {
		return nil, err
	}
	return s.VerifyChain(ctx, stream.ID)
}

// readableStream rate-limits a read, resolves the stream and checks access.
func (s *Service) readableStream(ctx context.Context, op string, caller Caller, podName, path string) (*Stream, error) {
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

// absoluteIndex resolves a possibly negative index against the stream head.
func (s *Service) absoluteIndex(ctx context.Context, op, streamID string, index int64) (int64, error) {
	if index >= 0 {
		return index, nil
	}
	head, err := s.database.GetStreamHead(ctx, streamID)
	if err != nil {
		return 0, internalError(op, err)
	}
	abs := head.LastIndex + 1 + index
	if abs < 0 {
		return 0, newError(KindNotFound, op, "index %d out of range", index)
	}
	return abs, nil
}

func clampIndex(i, length int64) int64 {
	if i < 0 {
		i += length
	}
	if i < 0 {
		return 0
	}
	if i > length {
		return length
	}
	return i
}
