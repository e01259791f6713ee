// Package router wires the read API routes and applies the middleware
// chain.
package router

import (
	"net/http"
	"time"

	"github.com/enzosv/mediumcrawler/internal/api/handler"
	apimw "github.com/enzosv/mediumcrawler/internal/api/middleware"
	"github.com/enzosv/mediumcrawler/internal/api/ratelimit"
	"github.com/enzosv/mediumcrawler/pkg/health"
	"github.com/enzosv/mediumcrawler/pkg/metrics"
	pkgmw "github.com/enzosv/mediumcrawler/pkg/middleware"
)

type Options struct {
	CacheMaxAge    time.Duration
	RequestTimeout time.Duration
	Limiter        *ratelimit.Limiter
	Metrics        *metrics.Metrics
	Health         *health.Checker
}

// New builds the API handler.
//
// Route table:
//
//	GET    /               → popular posts (JSON array)
//	POST   /contribute     → store a references batch
//	POST   /log            → mark a subject as crawled
//	GET    /cache/stats    → response cache hit/miss counters
//	GET    /health/live    → liveness
//	GET    /health/ready   → readiness (database, cache)
//
// Middleware chain (outermost first):
//
//	RequestID → Metrics → CORS → Timeout → CachePolicy → RateLimit → mux
func New(h *handler.Handler, opts Options) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", h.Popular)
	mux.HandleFunc("POST /contribute", h.Contribute)
	mux.HandleFunc("POST /log", h.Log)
	mux.HandleFunc("GET /cache/stats", h.CacheStats)

	checker := opts.Health
	if checker == nil {
		checker = health.NewChecker()
	}
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = apimw.RateLimit(opts.Limiter)(chain)
	chain = apimw.CachePolicy("/", opts.CacheMaxAge)(chain)
	chain = pkgmw.Timeout(opts.RequestTimeout)(chain)
	chain = apimw.CORS(apimw.DefaultCORSConfig())(chain)
	chain = pkgmw.Metrics(opts.Metrics,
		"/", "/contribute", "/log", "/cache/stats", "/health/live", "/health/ready",
	)(chain)
	chain = pkgmw.RequestID(chain)

	return chain
}
