package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/enzosv/mediumcrawler/internal/api/handler"
	"github.com/enzosv/mediumcrawler/internal/api/ratelimit"
	"github.com/enzosv/mediumcrawler/internal/store"
	"github.com/enzosv/mediumcrawler/pkg/database"
	"github.com/enzosv/mediumcrawler/pkg/health"
)

func newServer(t *testing.T, limiter *ratelimit.Limiter) *httptest.Server {
	t.Helper()
	ctx := context.Background()
	db, err := database.OpenSQLite(ctx, ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	s := store.New(db)
	if err := s.Migrate(ctx); err != nil {
		t.Fatal(err)
	}
	checker := health.NewChecker()
	checker.Register("database", health.PingCheck(s, time.Second, false))

	h := handler.New(s, nil, handler.Config{
		Policy: store.PopularPolicy{ClapThreshold: 10000, DailyClapThreshold: 100},
	}, nil)
	srv := httptest.NewServer(New(h, Options{
		CacheMaxAge:    time.Hour,
		RequestTimeout: 5 * time.Second,
		Limiter:        limiter,
		Health:         checker,
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPopularHeaders(t *testing.T) {
	srv := newServer(t, nil)
	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	want := map[string]string{
		"Access-Control-Allow-Origin": "*",
		"Cache-Control":               "public, max-age=3600, immutable",
		"Content-Type":                "application/json",
	}
	for k, v := range want {
		if got := resp.Header.Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}
}

func TestUnknownRoutes(t *testing.T) {
	srv := newServer(t, nil)
	resp, err := http.Get(srv.URL + "/nope")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET /nope = %d", resp.StatusCode)
	}
	if resp.Header.Get("Cache-Control") != "" {
		t.Error("only / is cacheable")
	}

	resp, err = http.Post(srv.URL+"/", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("POST / = %d", resp.StatusCode)
	}
}

func TestWriteHooksAreRateLimited(t *testing.T) {
	limiter := ratelimit.New(1, time.Minute)
	defer limiter.Stop()
	srv := newServer(t, limiter)

	do := func() int {
		resp, err := http.Post(srv.URL+"/contribute", "application/json", strings.NewReader(`{}`))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}
	if code := do(); code != http.StatusOK {
		t.Fatalf("first = %d", code)
	}
	if code := do(); code != http.StatusTooManyRequests {
		t.Fatalf("second = %d", code)
	}
}

func TestHealthReady(t *testing.T) {
	srv := newServer(t, nil)
	resp, err := http.Get(srv.URL + "/health/ready")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("ready = %d", resp.StatusCode)
	}
}

func TestCacheStatsCountsPopularReads(t *testing.T) {
	srv := newServer(t, nil)
	for i := 0; i < 2; i++ {
		resp, err := http.Get(srv.URL + "/")
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
	}

	resp, err := http.Get(srv.URL + "/cache/stats")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var stats struct {
		Hits   int64 `json:"hits"`
		Misses int64 `json:"misses"`
		Total  int64 `json:"total"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
	if stats.Total != 2 || stats.Hits+stats.Misses != 2 {
		t.Errorf("stats = %+v, want two reads counted", stats)
	}
}
