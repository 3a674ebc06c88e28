package httpapi

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"podlog/internal/podlog"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func statusFor(kind podlog.ErrorKind) int {
	switch kind {
	case podlog.KindNotFound:
		return http.StatusNotFound
	case podlog.KindForbidden:
		return http.StatusForbidden
	case podlog.KindInvalidInput:
		return http.StatusBadRequest
	case podlog.KindStreamExists, podlog.KindPodExists, podlog.KindNameConflict:
		return http.StatusConflict
	case podlog.KindRateLimitExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps err onto a status code and a JSON error body. Internal
// errors are logged and reported without detail.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := podlog.KindOf(err)
	status := statusFor(kind)
	msg := err.Error()

	var rl *podlog.RateLimitedError
	if errors.As(err, &rl) {
		h.setRateLimitHeaders(w, rl.Decision)
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "method", r.Method, "host", r.Host, "path", r.URL.Path, "error", err)
		msg = "internal error"
	}
	writeJSON(w, status, errorBody{Error: errorDetail{Code: string(kind), Message: msg}})
}

func (h *Handler) setRateLimitHeaders(w http.ResponseWriter, d podlog.Decision) {
	retry := int64(math.Ceil(d.ResetAt.Sub(h.clock.Now()).Seconds()))
	if retry < 1 {
		retry = 1
	}
	w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	w.Header().Set("Retry-After", strconv.FormatInt(retry, 10))
}

func writeUnauthorized(w http.ResponseWriter, err error) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="podlog"`)
	writeJSON(w, http.StatusUnauthorized, errorBody{Error: errorDetail{Code: "UNAUTHENTICATED", Message: err.Error()}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// invalid builds an INVALID_INPUT error for a bad request parameter.
func invalid(op, format string, args ...any) error {
	return podlog.NewError(podlog.KindInvalidInput, op, format, args...)
}
