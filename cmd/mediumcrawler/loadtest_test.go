package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/enzosv/mediumcrawler/internal/api/handler"
)

func TestPercentile(t *testing.T) {
	t.Parallel()

	sorted := []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	tests := map[float64]time.Duration{0: 1, 50: 5, 90: 9, 99: 10, 100: 10}
	for p, want := range tests {
		if got := percentile(sorted, p); got != want {
			t.Errorf("percentile(%v) = %v, want %v", p, got, want)
		}
	}
	if percentile(nil, 50) != 0 {
		t.Error("empty input should give 0")
	}
}

func TestLoadTestCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(handler.CacheHeader, "HIT")
		w.Write([]byte("[]"))
	}))
	defer srv.Close()

	out, err := execute(t, "loadtest", "--url", srv.URL, "--concurrency", "2", "--duration", "100ms")
	if err != nil {
		t.Fatalf("loadtest: %v", err)
	}
	for _, want := range []string{"Total Requests:", "Cache Hit Rate:  100.00%", "200:"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
