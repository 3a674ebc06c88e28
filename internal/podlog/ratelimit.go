package podlog

import (
	"context"
	"time"
)

// Action is a rate-limited class of operation.
type Action string

const (
	ActionRead         Action = "read"
	ActionWrite        Action = "write"
	ActionPodCreate    Action = "pod_create"
	ActionStreamCreate Action = "stream_create"
)

// Actions lists every rate-limited action.
var Actions = []Action{ActionRead, ActionWrite, ActionPodCreate, ActionStreamCreate}

// Decision is the outcome of a rate-limit check.
type Decision struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	ResetAt   time.Time
}

// RateLimiter throttles actions per identifier.
type RateLimiter interface {
	// CheckAndIncrement counts one action against the current window. It
	// never fails: internal errors allow the request.
	CheckAndIncrement(ctx context.Context, identifier string, action Action) Decision
	// GetStatus reports the current window without counting.
	GetStatus(ctx context.Context, identifier string, action Action) (Decision, error)
	// Reset clears the identifier's window for action.
	Reset(ctx context.Context, identifier string, action Action) error
}

// Window is one fixed counting interval for an (identifier, action) pair.
type Window struct {
	Identifier string
	Action     Action
	Count      int64
	Start      time.Time
	End        time.Time
}

// WindowStore persists rate-limit windows.
type WindowStore interface {
	// IncrementWindow atomically increments the counter of the window ending
	// at end, creating it at 1 if absent. The counter is left unchanged when
	// it is already at or above limit, in which case allowed is false.
	IncrementWindow(ctx context.Context, identifier string, action Action, start, end time.Time, limit int64) (count int64, allowed bool, err error)

	// GetWindow returns the window for (identifier, action) ending at end, or nil.
	GetWindow(ctx context.Context, identifier string, action Action, end time.Time) (*Window, error)

	DeleteWindows(ctx context.Context, identifier string, action Action) error

	// PurgeWindows deletes windows that ended before cutoff.
	PurgeWindows(ctx context.Context, cutoff time.Time) (int64, error)
}

// NoRateLimit allows everything.
type NoRateLimit struct{}

func (NoRateLimit) CheckAndIncrement(context.Context, string, Action) Decision {
	return Decision{Allowed: true}
}

func (NoRateLimit) GetStatus(context.Context, string, Action) (Decision, error) {
	return Decision{Allowed: true}, nil
}

func (NoRateLimit) Reset(context.Context, string, Action) error { return nil }
