package podlog

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
)

// Route maps a request path onto a stream. Target is either a record
// suffix (a name or index appended to the stream path) or a query fragment
// starting with '?'.
type Route struct {
	StreamPath string `json:"stream"`
	Target     string `json:"target"`
}

// RoutingTable is the content of a .config/routing record.
type RoutingTable map[string]Route

// Rewrite returns the request path and query the route points at.
func (r Route) Rewrite() (string, url.Values, error) {
	path, err := NormalizeStreamPath(r.StreamPath)
	if err != nil {
		return "", nil, err
	}
	switch {
	case r.Target == "":
		return path, url.Values{}, nil
	case strings.HasPrefix(r.Target, "?"):
		query, err := url.ParseQuery(strings.TrimPrefix(r.Target, "?"))
		if err != nil {
			return "", nil, err
		}
		return path, query, nil
	default:
		if err := ValidateRecordName(r.Target); err != nil {
			return "", nil, err
		}
		return path + "/" + r.Target, url.Values{}, nil
	}
}

// ResolveRoute looks requestPath up in the pod's routing table. Returns
// NOT_FOUND when the pod has no table or the path is not mapped.
func (s *Service) ResolveRoute(ctx context.Context, podName, requestPath string) (*Route, error) {
	const op = "ResolveRoute"
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	stream, err := s.lookupStream(ctx, podName, RoutingStreamPath)
	if err != nil {
		return nil, internalError(op, err)
	}
	if stream == nil {
		return nil, newError(KindNotFound, op, "pod %s has no routing table", podName)
	}

	table, err := readThrough(ctx, s, familyRecordList, routesKey(stream.ID), func(ctx context.Context) (*RoutingTable, error) {
		record, err := s.database.GetLatestRecord(ctx, stream.ID)
		if err != nil || record == nil {
			return nil, err
		}
		var table RoutingTable
		if err := json.Unmarshal(record.d.Content, &table); err != nil {
			s.logger.Warn("ignoring malformed routing table", "pod", podName, "index", record.Index(), "error", err)
			return nil, nil
		}
		return &table, nil
	})
	if err != nil {
		return nil, internalError(op, err)
	}
	if table == nil {
		return nil, newError(KindNotFound, op, "pod %s has no routing table", podName)
	}

	key := "/" + strings.Trim(requestPath, "/")
	route, ok := (*table)[key]
	if !ok {
		route, ok = (*table)[strings.TrimPrefix(key, "/")]
	}
	if !ok {
		return nil, newError(KindNotFound, op, "no route for %s", key)
	}
	return &route, nil
}
