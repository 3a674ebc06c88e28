package podlog

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// Reserved stream paths inside every pod.
const (
	ConfigStreamPath  = ".config"
	OwnerStreamPath   = ".config/owner"
	RoutingStreamPath = ".config/routing"
)

const (
	maxPodNameLen      = 63
	maxSegmentLen      = 256
	maxRecordNameLen   = 256
	maxStreamDepth     = 32
	defaultContentType = "text/plain"
)

var podNamePattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

// ValidatePodName checks that name is usable as a DNS label.
func ValidatePodName(name string) error {
	if name == "" {
		return fmt.Errorf("pod name is empty")
	}
	if len(name) > maxPodNameLen {
		return fmt.Errorf("pod name longer than %d characters", maxPodNameLen)
	}
	if !podNamePattern.MatchString(name) {
		return fmt.Errorf("pod name %q must be lowercase letters, digits and inner hyphens", name)
	}
	return nil
}

// SplitStreamPath splits a stream path into validated segments. Leading and
// trailing slashes are ignored.
func SplitStreamPath(path string) ([]string, error) {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil, fmt.Errorf("stream path is empty")
	}
	segments := strings.Split(trimmed, "/")
	if len(segments) > maxStreamDepth {
		return nil, fmt.Errorf("stream path deeper than %d segments", maxStreamDepth)
	}
	for _, seg := range segments {
		if err := validateSegment(seg); err != nil {
			return nil, err
		}
	}
	return segments, nil
}

// NormalizeStreamPath returns the canonical form of path.
func NormalizeStreamPath(path string) (string, error) {
	segments, err := SplitStreamPath(path)
	if err != nil {
		return "", err
	}
	return strings.Join(segments, "/"), nil
}

func validateSegment(seg string) error {
	switch {
	case seg == "":
		return fmt.Errorf("stream path has an empty segment")
	case seg == "." || seg == "..":
		return fmt.Errorf("stream path segment %q is not allowed", seg)
	case len(seg) > maxSegmentLen:
		return fmt.Errorf("stream path segment longer than %d characters", maxSegmentLen)
	}
	for _, r := range seg {
		if unicode.IsControl(r) {
			return fmt.Errorf("stream path segment %q contains a control character", seg)
		}
	}
	return nil
}

// ValidateRecordName checks an optional record name. Names share the
// namespace of child streams, so the same segment rules apply.
func ValidateRecordName(name string) error {
	if name == "" {
		return nil
	}
	if strings.Contains(name, "/") {
		return fmt.Errorf("record name %q must not contain '/'", name)
	}
	if len(name) > maxRecordNameLen {
		return fmt.Errorf("record name longer than %d characters", maxRecordNameLen)
	}
	return validateSegment(name)
}

func parentPath(path string) string {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return ""
	}
	return path[:i]
}

// ancestorPaths returns the paths of every ancestor of path, nearest first.
func ancestorPaths(path string) []string {
	var out []string
	for p := parentPath(path); p != ""; p = parentPath(p) {
		out = append(out, p)
	}
	return out
}

func isConfigPath(path string) bool {
	return path == ConfigStreamPath || strings.HasPrefix(path, ConfigStreamPath+"/")
}
