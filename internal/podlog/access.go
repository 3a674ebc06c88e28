package podlog

import (
	"fmt"
	"strings"
)

// AccessKind enumerates the forms a stream's access permission can take.
type AccessKind int

const (
	// AccessInherit defers the decision to the parent stream.
	AccessInherit AccessKind = iota
	AccessPublic
	AccessPrivate
	// AccessStream delegates to the grants recorded in a permission stream.
	AccessStream
)

const streamAccessPrefix = "stream:"

// Access is a stream's access permission. The zero value inherits.
type Access struct {
	Kind AccessKind
	// StreamPath is the permission stream's path within the same pod.
	// Only set when Kind is AccessStream.
	StreamPath string
}

var (
	Public  = Access{Kind: AccessPublic}
	Private = Access{Kind: AccessPrivate}
	Inherit = Access{}
)

// StreamAccess returns an access permission delegating to the permission
// stream at path.
func StreamAccess(path string) Access {
	return Access{Kind: AccessStream, StreamPath: path}
}

// ParseAccess parses "public", "private", "stream:<path>" or "" (inherit).
func ParseAccess(s string) (Access, error) {
	switch {
	case s == "":
		return Inherit, nil
	case s == "public":
		return Public, nil
	case s == "private":
		return Private, nil
	case strings.HasPrefix(s, streamAccessPrefix):
		segments, err := SplitStreamPath(strings.TrimPrefix(s, streamAccessPrefix))
		if err != nil {
			return Access{}, fmt.Errorf("permission stream: %w", err)
		}
		return StreamAccess(strings.Join(segments, "/")), nil
	default:
		return Access{}, fmt.Errorf("unknown access permission %q", s)
	}
}

func (a Access) String() string {
	switch a.Kind {
	case AccessPublic:
		return "public"
	case AccessPrivate:
		return "private"
	case AccessStream:
		return streamAccessPrefix + a.StreamPath
	default:
		return ""
	}
}

func (a Access) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Access) UnmarshalText(b []byte) error {
	parsed, err := ParseAccess(string(b))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
