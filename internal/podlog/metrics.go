package podlog

// Metrics receives service counters.
type Metrics interface {
	RecordAppended(pod string)
	PermissionDenied(action Action)
	RateLimited(action Action)
	CacheHit(family string)
	CacheMiss(family string)
}

// NopMetrics discards all counters.
type NopMetrics struct{}

func (NopMetrics) RecordAppended(string)   {}
func (NopMetrics) PermissionDenied(Action) {}
func (NopMetrics) RateLimited(Action)      {}
func (NopMetrics) CacheHit(string)         {}
func (NopMetrics) CacheMiss(string)        {}
