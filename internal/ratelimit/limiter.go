package ratelimit

import (
	"context"
	"sync"
	"time"

	"podlog/internal/config"
	"podlog/internal/podlog"
)

// Limit is the number of actions allowed per window.
type Limit struct {
	Max    int64
	Window time.Duration
}

// Config holds per-action limits. Actions without an entry, or with
// Max <= 0, are not limited.
type Config struct {
	Limits          map[podlog.Action]Limit
	CleanupInterval time.Duration
}

// ConfigFromSettings converts the [rate_limit] section into a limiter Config.
func ConfigFromSettings(cfg config.RateLimitConfig) Config {
	w := cfg.Window.Duration
	return Config{
		Limits: map[podlog.Action]Limit{
			podlog.ActionRead:         {Max: cfg.Read, Window: w},
			podlog.ActionWrite:        {Max: cfg.Write, Window: w},
			podlog.ActionPodCreate:    {Max: cfg.PodCreate, Window: w},
			podlog.ActionStreamCreate: {Max: cfg.StreamCreate, Window: w},
		},
		CleanupInterval: cfg.CleanupInterval.Duration,
	}
}

// Limiter is a fixed-window counter over a WindowStore. Windows are aligned
// to multiples of the window length since the Unix epoch.
type Limiter struct {
	store  podlog.WindowStore
	clock  podlog.Clock
	logger podlog.Logger
	cfg    Config

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

var _ podlog.RateLimiter = (*Limiter)(nil)

func New(store podlog.WindowStore, clock podlog.Clock, logger podlog.Logger, cfg Config) *Limiter {
	if logger == nil {
		logger = podlog.NewNopLogger()
	}
	return &Limiter{
		store:  store,
		clock:  clock,
		logger: logger,
		cfg:    cfg,
	}
}

// windowBounds returns the window containing now, aligned to multiples of
// window since the Unix epoch. Windows are half-open [start, end): when now
// falls exactly on a multiple it opens a new window ending one full window
// later, so end is always strictly after now. now is truncated to the
// millisecond first.
func windowBounds(now time.Time, window time.Duration) (start, end time.Time) {
	w := window.Milliseconds()
	if w <= 0 {
		w = 1
	}
	ms := now.UnixMilli()
	endMs := (ms/w + 1) * w
	end = time.UnixMilli(endMs).UTC()
	start = time.UnixMilli(endMs - w).UTC()
	return start, end
}

func (l *Limiter) limitFor(action podlog.Action) (Limit, bool) {
	lim, ok := l.cfg.Limits[action]
	if !ok || lim.Max <= 0 {
		return Limit{}, false
	}
	return lim, true
}

// CheckAndIncrement counts one action. A denied request does not consume
// quota. Store failures allow the request.
func (l *Limiter) CheckAndIncrement(ctx context.Context, identifier string, action podlog.Action) podlog.Decision {
	lim, ok := l.limitFor(action)
	if !ok {
		return podlog.Decision{Allowed: true}
	}
	start, end := windowBounds(l.clock.Now(), lim.Window)

	count, allowed, err := l.store.IncrementWindow(ctx, identifier, action, start, end, lim.Max)
	if err != nil {
		l.logger.Warn("rate limit check failed, allowing request",
			"identifier", identifier, "action", string(action), "error", err)
		return podlog.Decision{Allowed: true, Limit: lim.Max, Remaining: lim.Max, ResetAt: end}
	}
	return podlog.Decision{
		Allowed:   allowed,
		Limit:     lim.Max,
		Remaining: remaining(lim.Max, count),
		ResetAt:   end,
	}
}

func (l *Limiter) GetStatus(ctx context.Context, identifier string, action podlog.Action) (podlog.Decision, error) {
	lim, ok := l.limitFor(action)
	if !ok {
		return podlog.Decision{Allowed: true}, nil
	}
	_, end := windowBounds(l.clock.Now(), lim.Window)

	w, err := l.store.GetWindow(ctx, identifier, action, end)
	if err != nil {
		return podlog.Decision{}, err
	}
	var count int64
	if w != nil {
		count = w.Count
	}
	return podlog.Decision{
		Allowed:   count < lim.Max,
		Limit:     lim.Max,
		Remaining: remaining(lim.Max, count),
		ResetAt:   end,
	}, nil
}

func (l *Limiter) Reset(ctx context.Context, identifier string, action podlog.Action) error {
	return l.store.DeleteWindows(ctx, identifier, action)
}

// Cleanup removes windows that ended before now.
func (l *Limiter) Cleanup(ctx context.Context, now time.Time) (int64, error) {
	return l.store.PurgeWindows(ctx, now)
}

// Start runs Cleanup every CleanupInterval until Stop is called. It does
// nothing when the interval is not positive or the loop is already running.
func (l *Limiter) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cfg.CleanupInterval <= 0 || l.stop != nil {
		return
	}
	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	go l.cleanupLoop(l.cfg.CleanupInterval, l.stop, l.done)
}

// Stop halts the cleanup loop and waits for it to exit.
func (l *Limiter) Stop() {
	l.mu.Lock()
	stop, done := l.stop, l.done
	l.stop, l.done = nil, nil
	l.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (l *Limiter) cleanupLoop(interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			n, err := l.Cleanup(ctx, l.clock.Now())
			cancel()
			if err != nil {
				l.logger.Warn("rate limit cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				l.logger.Debug("purged rate limit windows", "count", n)
			}
		}
	}
}

func remaining(max, count int64) int64 {
	if count >= max {
		return 0
	}
	return max - count
}
