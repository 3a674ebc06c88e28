package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"podlog/internal/config"
	"podlog/internal/podlog"
)

// ErrUnauthenticated is returned for a malformed or unknown bearer credential.
var ErrUnauthenticated = errors.New("invalid bearer credential")

// IdentityResolver maps a bearer credential to a stable user id.
type IdentityResolver interface {
	Resolve(ctx context.Context, token string) (string, error)
}

// StaticTokens resolves credentials from a fixed token table.
type StaticTokens map[string]string

func (t StaticTokens) Resolve(_ context.Context, token string) (string, error) {
	if user, ok := t[token]; ok && user != "" {
		return user, nil
	}
	return "", ErrUnauthenticated
}

// LoadTokens reads a token table written in the tokens file format.
func LoadTokens(path string) (StaticTokens, error) {
	tokens, err := config.ReadTokens(path)
	if err != nil {
		return nil, err
	}
	return StaticTokens(tokens), nil
}

// authenticate builds the caller for r. Requests without an Authorization
// header are anonymous.
func (h *Handler) authenticate(r *http.Request) (podlog.Caller, error) {
	caller := podlog.Caller{RemoteAddr: remoteHost(r.RemoteAddr)}
	header := r.Header.Get("Authorization")
	if header == "" {
		return caller, nil
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return caller, ErrUnauthenticated
	}
	if h.identity == nil {
		return caller, ErrUnauthenticated
	}
	user, err := h.identity.Resolve(r.Context(), strings.TrimSpace(token))
	if err != nil {
		return caller, err
	}
	caller.UserID = user
	return caller, nil
}

func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
