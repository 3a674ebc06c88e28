package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"podlog/internal/podlog"
)

const defaultMaxBodyBytes = 10 << 20

// Options configures a Handler.
type Options struct {
	// BaseDomain is the apex host serving the pod management API. Every
	// other host is resolved to a pod.
	BaseDomain string
	// MaxBodyBytes caps request bodies. Zero selects 10 MiB.
	MaxBodyBytes int64
	// Metrics, when set, is served at /metrics on the apex host.
	Metrics http.Handler
}

// Handler routes requests to the record service. Requests to the apex host go
// to the management API; requests to any other host address a pod.
type Handler struct {
	svc        *podlog.Service
	identity   IdentityResolver
	logger     podlog.Logger
	clock      podlog.Clock
	baseDomain string
	maxBody    int64
	api        *http.ServeMux
}

func NewHandler(svc *podlog.Service, identity IdentityResolver, logger podlog.Logger, clock podlog.Clock, opts Options) *Handler {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	h := &Handler{
		svc:        svc,
		identity:   identity,
		logger:     logger,
		clock:      clock,
		baseDomain: hostOnly(opts.BaseDomain),
		maxBody:    opts.MaxBodyBytes,
	}
	h.api = h.apiRoutes(opts.Metrics)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	host := hostOnly(r.Host)
	if host == "" || host == h.baseDomain {
		h.api.ServeHTTP(w, r)
		return
	}

	caller, err := h.authenticate(r)
	if err != nil {
		writeUnauthorized(w, err)
		return
	}
	pod, err := h.svc.ResolveHost(r.Context(), host)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.servePod(w, r, caller, pod.Name)
}

func (h *Handler) servePod(w http.ResponseWriter, r *http.Request, caller podlog.Caller, pod string) {
	path, query, err := h.rewrite(r.Context(), pod, strings.Trim(r.URL.Path, "/"), r.URL.Query())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	switch r.Method {
	case http.MethodGet, http.MethodHead:
		err = h.get(w, r, caller, pod, path, query)
	case http.MethodPost:
		err = h.post(w, r, caller, pod, path, query)
	case http.MethodPut:
		err = h.put(w, r, caller, pod, path, query)
	case http.MethodDelete:
		err = h.delete(w, r, caller, pod, path, query)
	default:
		w.Header().Set("Allow", "GET, HEAD, POST, PUT, DELETE")
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: errorDetail{Code: "METHOD_NOT_ALLOWED", Message: r.Method}})
		return
	}
	if err != nil {
		h.writeError(w, r, err)
	}
}

// rewrite applies the pod's routing table. Unmapped paths pass through
// unchanged. Query parameters from the route fill in those the request
// does not set.
func (h *Handler) rewrite(ctx context.Context, pod, path string, query url.Values) (string, url.Values, error) {
	route, err := h.svc.ResolveRoute(ctx, pod, "/"+path)
	if podlog.KindOf(err) == podlog.KindNotFound {
		return path, query, nil
	}
	if err != nil {
		return "", nil, err
	}
	target, extra, err := route.Rewrite()
	if err != nil {
		h.logger.Warn("ignoring invalid route", "pod", pod, "path", path, "error", err)
		return path, query, nil
	}
	for k, vs := range extra {
		if !query.Has(k) {
			query[k] = vs
		}
	}
	return target, query, nil
}

type streamsBody struct {
	Streams []*podlog.Stream `json:"streams"`
}

type recordsBody struct {
	Records []*podlog.Record `json:"records"`
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request, caller podlog.Caller, pod, path string, q url.Values) error {
	const op = "GET"
	ctx := r.Context()

	if path == "" || q.Has("children") {
		streams, err := h.svc.ListChildren(ctx, caller, pod, path)
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, streamsBody{Streams: streams})
		return nil
	}
	if q.Has("verify") {
		report, err := h.svc.Verify(ctx, caller, pod, path)
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, report)
		return nil
	}

	streamPath, name, err := h.locate(ctx, pod, path, q.Get("name"))
	if err != nil {
		return err
	}
	raw, err := boolParam(op, q, "raw")
	if err != nil {
		return err
	}

	switch {
	case name != "" || q.Has("i"):
		sel := podlog.Selector{Name: name}
		if name == "" {
			if sel.Index, err = intParam(op, q, "i"); err != nil {
				return err
			}
		}
		rec, err := h.svc.Read(ctx, caller, pod, streamPath, sel)
		if err != nil {
			return err
		}
		writeRecord(w, rec, raw)
	case q.Has("start") || q.Has("end"):
		start, err := intParam(op, q, "start")
		if err != nil {
			return err
		}
		end, err := intParam(op, q, "end")
		if err != nil {
			return err
		}
		rng := podlog.Range{End: end}
		if start != nil {
			rng.Start = *start
		}
		recs, err := h.svc.ReadRange(ctx, caller, pod, streamPath, rng)
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, recordsBody{Records: recs})
	default:
		opts := podlog.ListOptions{}
		if limit, err := intParam(op, q, "limit"); err != nil {
			return err
		} else if limit != nil {
			opts.Limit = int(*limit)
		}
		if opts.After, err = intParam(op, q, "after"); err != nil {
			return err
		}
		if opts.Recursive, err = boolParam(op, q, "recursive"); err != nil {
			return err
		}
		recs, err := h.svc.ListUnique(ctx, caller, pod, streamPath, opts)
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, recordsBody{Records: recs})
	}
	return nil
}

// locate splits path into a stream and a record name. A path that names no
// stream addresses the record named by its last segment in the parent.
func (h *Handler) locate(ctx context.Context, pod, path, name string) (string, string, error) {
	if name != "" {
		return path, name, nil
	}
	_, err := h.svc.ResolveStream(ctx, pod, path)
	if err == nil {
		return path, "", nil
	}
	i := strings.LastIndex(path, "/")
	if podlog.KindOf(err) != podlog.KindNotFound || i < 0 {
		return "", "", err
	}
	return path[:i], path[i+1:], nil
}

func writeRecord(w http.ResponseWriter, rec *podlog.Record, raw bool) {
	w.Header().Set("ETag", strconv.Quote(rec.Hash()))
	if !raw {
		writeJSON(w, http.StatusOK, rec)
		return
	}
	w.Header().Set("Content-Type", rec.ContentType())
	w.Header().Set("X-Podlog-Index", strconv.FormatInt(rec.Index(), 10))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(rec.Content())
}

func (h *Handler) post(w http.ResponseWriter, r *http.Request, caller podlog.Caller, pod, path string, q url.Values) error {
	const op = "POST"
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: errorDetail{
				Code:    "PAYLOAD_TOO_LARGE",
				Message: "request body exceeds " + strconv.FormatInt(tooLarge.Limit, 10) + " bytes",
			}})
			return nil
		}
		return invalid(op, "reading body: %v", err)
	}

	req := podlog.AppendRequest{
		Content:     body,
		ContentType: r.Header.Get("Content-Type"),
		Name:        q.Get("name"),
	}
	if q.Has("access") {
		access, err := podlog.ParseAccess(q.Get("access"))
		if err != nil {
			return invalid(op, "%v", err)
		}
		req.Access = &access
	}
	rec, err := h.svc.Append(r.Context(), caller, pod, path, req)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, rec)
	return nil
}

// put creates the stream at path, or changes its access when it exists and
// an access parameter is given.
func (h *Handler) put(w http.ResponseWriter, r *http.Request, caller podlog.Caller, pod, path string, q url.Values) error {
	const op = "PUT"
	access, err := podlog.ParseAccess(q.Get("access"))
	if err != nil {
		return invalid(op, "%v", err)
	}
	stream, err := h.svc.CreateStream(r.Context(), caller, pod, path, access)
	if err == nil {
		writeJSON(w, http.StatusCreated, stream)
		return nil
	}
	if podlog.KindOf(err) != podlog.KindStreamExists || !q.Has("access") {
		return err
	}
	stream, err = h.svc.SetAccess(r.Context(), caller, pod, path, access)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, stream)
	return nil
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request, caller podlog.Caller, pod, path string, q url.Values) error {
	const op = "DELETE"
	if !q.Has("i") {
		if err := h.svc.DeleteStream(r.Context(), caller, pod, path); err != nil {
			return err
		}
		w.WriteHeader(http.StatusNoContent)
		return nil
	}

	index, err := intParam(op, q, "i")
	if err != nil {
		return err
	}
	purge, err := boolParam(op, q, "purge")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteRecord(r.Context(), caller, pod, path, *index, purge); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// intParam parses an optional integer parameter; nil means absent.
func intParam(op string, q url.Values, key string) (*int64, error) {
	if !q.Has(key) {
		return nil, nil
	}
	v, err := strconv.ParseInt(q.Get(key), 10, 64)
	if err != nil {
		return nil, invalid(op, "parameter %s must be an integer", key)
	}
	return &v, nil
}

// boolParam treats a bare "?key" as true.
func boolParam(op string, q url.Values, key string) (bool, error) {
	if !q.Has(key) {
		return false, nil
	}
	if q.Get(key) == "" {
		return true, nil
	}
	v, err := strconv.ParseBool(q.Get(key))
	if err != nil {
		return false, invalid(op, "parameter %s must be a boolean", key)
	}
	return v, nil
}

func hostOnly(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if i := strings.LastIndex(host, ":"); i >= 0 && !strings.Contains(host[i:], "]") {
		host = host[:i]
	}
	return strings.TrimSuffix(host, ".")
}
