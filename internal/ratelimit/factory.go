package ratelimit

import (
	"fmt"

	"podlog/internal/podlog"
)

// NewWindowStore picks the window store named by the [rate_limit] store
// setting. "database" reuses db, which must also implement WindowStore.
func NewWindowStore(kind string, db podlog.Database) (podlog.WindowStore, error) {
	switch kind {
	case "", "database":
		ws, ok := db.(podlog.WindowStore)
		if !ok {
			return nil, fmt.Errorf("database does not support rate limit windows")
		}
		return ws, nil
	case "memory":
		return NewMemoryWindowStore(), nil
	default:
		return nil, fmt.Errorf("unknown rate limit store: %s", kind)
	}
}
