package observability

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordCacheRead(t *testing.T) {
	before := testutil.ToFloat64(DefaultMetrics.CacheReads.WithLabelValues("live", CacheHit))
	RecordCacheRead("live", CacheHit)
	after := testutil.ToFloat64(DefaultMetrics.CacheReads.WithLabelValues("live", CacheHit))
	if after-before != 1 {
		t.Errorf("expected counter to increase by 1, got %f", after-before)
	}
}

func TestRecordUpstreamFetch(t *testing.T) {
	before := testutil.ToFloat64(DefaultMetrics.UpstreamFetchErrors.WithLabelValues("detail", "timeout"))
	RecordUpstreamFetch("detail", 10*time.Millisecond, "timeout", errors.New("boom"))
	RecordUpstreamFetch("detail", 10*time.Millisecond, "", nil)
	after := testutil.ToFloat64(DefaultMetrics.UpstreamFetchErrors.WithLabelValues("detail", "timeout"))
	if after-before != 1 {
		t.Errorf("expected one error recorded, got %f", after-before)
	}
}

func TestHandler(t *testing.T) {
	RecordServed("capture")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "agentboard_leaderboard_served_total") {
		t.Error("expected leaderboard metric in output")
	}
}
