package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"podlog/internal/podlog"
)

func TestCollectors(t *testing.T) {
	c := New()

	c.RecordAppended("alice")
	c.RecordAppended("alice")
	c.PermissionDenied(podlog.ActionWrite)
	c.RateLimited(podlog.ActionRead)
	c.CacheHit("pod")
	c.CacheMiss("pod")
	c.CacheMiss("pod")

	if got := testutil.ToFloat64(c.recordsAppended.WithLabelValues("alice")); got != 2 {
		t.Errorf("records_appended_total{pod=alice} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.permissionDenials.WithLabelValues("write")); got != 1 {
		t.Errorf("permission_denials_total{action=write} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.rateLimited.WithLabelValues("read")); got != 1 {
		t.Errorf("rate_limited_total{action=read} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.cacheRequests.WithLabelValues("pod", "miss")); got != 2 {
		t.Errorf("cache_requests_total{family=pod,result=miss} = %v, want 2", got)
	}
}

func TestCollectors_Handler(t *testing.T) {
	c := New()
	c.RecordAppended("alice")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `podlog_records_appended_total{pod="alice"} 1`) {
		t.Errorf("metrics output missing append counter:\n%s", body)
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Error("metrics output missing runtime collectors")
	}
}
