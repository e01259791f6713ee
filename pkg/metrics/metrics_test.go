package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveFetch(nil, time.Second)
	m.ObserveRateLimitWait(time.Second)
	m.ObserveWalk("tag", "exhausted")
	m.AddUpserted(1, 2)
	m.ObserveRun(errors.New("x"), time.Second)
	m.CacheHit()
	m.CacheMiss()
	m.SetBreakerState("upstream", 1)
}

func TestRecordAndScrape(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ObserveFetch(nil, 100*time.Millisecond)
	m.ObserveFetch(errors.New("boom"), 100*time.Millisecond)
	m.ObserveWalk("collection", "exhausted")
	m.AddUpserted(5, 3)
	m.CacheHit()

	if got := testutil.ToFloat64(m.UpstreamFetchesTotal.WithLabelValues("error")); got != 1 {
		t.Errorf("error fetches = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.PostsUpsertedTotal); got != 5 {
		t.Errorf("posts upserted = %v, want 5", got)
	}

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `crawl_walks_total{kind="collection",outcome="exhausted"} 1`) {
		t.Errorf("scrape output missing walk counter:\n%s", rec.Body.String())
	}
}
