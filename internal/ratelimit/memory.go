package ratelimit

import (
	"context"
	"sync"
	"time"

	"podlog/internal/podlog"
)

type windowKey struct {
	identifier string
	action     podlog.Action
	end        int64
}

// MemoryWindowStore keeps windows in a map. Counts are lost on restart,
// which makes it suitable for single-process deployments and tests.
type MemoryWindowStore struct {
	mu      sync.Mutex
	windows map[windowKey]*podlog.Window
}

var _ podlog.WindowStore = (*MemoryWindowStore)(nil)

func NewMemoryWindowStore() *MemoryWindowStore {
	return &MemoryWindowStore{windows: make(map[windowKey]*podlog.Window)}
}

func (m *MemoryWindowStore) IncrementWindow(_ context.Context, identifier string, action podlog.Action, start, end time.Time, limit int64) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := windowKey{identifier, action, end.UnixMilli()}
	w, ok := m.windows[key]
	if !ok {
		w = &podlog.Window{Identifier: identifier, Action: action, Start: start, End: end}
		m.windows[key] = w
	}
	if w.Count >= limit {
		return w.Count, false, nil
	}
	w.Count++
	return w.Count, true, nil
}

func (m *MemoryWindowStore) GetWindow(_ context.Context, identifier string, action podlog.Action, end time.Time) (*podlog.Window, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[windowKey{identifier, action, end.UnixMilli()}]
	if !ok {
		return nil, nil
	}
	cp := *w
	return &cp, nil
}

func (m *MemoryWindowStore) DeleteWindows(_ context.Context, identifier string, action podlog.Action) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k := range m.windows {
		if k.identifier == identifier && k.action == action {
			delete(m.windows, k)
		}
	}
	return nil
}

func (m *MemoryWindowStore) PurgeWindows(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	c := cutoff.UnixMilli()
	for k := range m.windows {
		if k.end < c {
			delete(m.windows, k)
			n++
		}
	}
	return n, nil
}
