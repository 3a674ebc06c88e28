package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"podlog/internal/podlog"
)

const namespace = "podlog"

// Collectors implements podlog.Metrics with prometheus counters.
type Collectors struct {
	registry *prometheus.Registry

	recordsAppended   *prometheus.CounterVec
	permissionDenials *prometheus.CounterVec
	rateLimited       *prometheus.CounterVec
	cacheRequests     *prometheus.CounterVec
}

var _ podlog.Metrics = (*Collectors)(nil)

// New registers the podlog collectors, plus the Go runtime and process
// collectors, on a fresh registry.
func New() *Collectors {
	c := &Collectors{
		registry: prometheus.NewRegistry(),
		recordsAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_appended_total",
			Help:      "Records appended, by pod.",
		}, []string{"pod"}),
		permissionDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "permission_denials_total",
			Help:      "Requests rejected by permission checks, by action.",
		}, []string{"action"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter, by action.",
		}, []string{"action"}),
		cacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_requests_total",
			Help:      "Cache lookups, by key family and result.",
		}, []string{"family", "result"}),
	}
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.recordsAppended,
		c.permissionDenials,
		c.rateLimited,
		c.cacheRequests,
	)
	return c
}

// Registry returns the registry holding every podlog collector.
func (c *Collectors) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the prometheus exposition format.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collectors) RecordAppended(pod string) {
	c.recordsAppended.WithLabelValues(pod).Inc()
}

func (c *Collectors) PermissionDenied(action podlog.Action) {
	c.permissionDenials.WithLabelValues(string(action)).Inc()
}

func (c *Collectors) RateLimited(action podlog.Action) {
	c.rateLimited.WithLabelValues(string(action)).Inc()
}

func (c *Collectors) CacheHit(family string) {
	c.cacheRequests.WithLabelValues(family, "hit").Inc()
}

func (c *Collectors) CacheMiss(family string) {
	c.cacheRequests.WithLabelValues(family, "miss").Inc()
}
