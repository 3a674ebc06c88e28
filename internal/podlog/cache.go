package podlog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Cache is a non-authoritative key/value store. Patterns passed to
// DeleteByPattern use '*' as a wildcard matching any run of characters.
type Cache interface {
	// Get returns the value and true on a hit.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeleteByPattern(ctx context.Context, pattern string) error
	// Flush removes every entry.
	Flush(ctx context.Context) error
	Close() error
}

// Cache key families.
const (
	familyPod        = "pod"
	familyDomain     = "domain"
	familyPodOwner   = "pod-owner"
	familyOwnedPods  = "owned-pods"
	familyStream     = "stream"
	familyChildren   = "children"
	familyRecord     = "record"
	familyRecordList = "records"
)

func podKey(name string) string         { return familyPod + ":" + name }
func domainKey(domain string) string    { return familyDomain + ":" + domain }
func podOwnerKey(name string) string    { return familyPodOwner + ":" + name }
func ownedPodsKey(userID string) string { return familyOwnedPods + ":" + userID }

func streamKey(pod, path string) string {
	return familyStream + ":" + pod + ":" + path
}

// childrenKey addresses the child list of parentPath; "" is the pod root.
func childrenKey(pod, parentPath string) string {
	return familyChildren + ":" + pod + ":" + parentPath
}

func recordNameKey(streamID, name string) string {
	return familyRecord + ":" + streamID + ":name:" + name
}

// recordListKey derives a list key from every query parameter. Parameters
// are sorted before hashing so equal queries share a key.
func recordListKey(streamID string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s\x00", k, params[k])
	}
	sum := sha256.Sum256([]byte(b.String()))
	return familyRecordList + ":" + streamID + ":" + hex.EncodeToString(sum[:])
}

func recordListPattern(streamID string) string {
	return familyRecordList + ":" + streamID + ":*"
}

func routesKey(routingStreamID string) string {
	return familyRecordList + ":" + routingStreamID + ":routes"
}
