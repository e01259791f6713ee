// Package handler implements the read API: the popular-posts list and the
// manual ingestion hooks that feed the same store the crawler writes to.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/enzosv/mediumcrawler/internal/api/cache"
	"github.com/enzosv/mediumcrawler/internal/api/validator"
	"github.com/enzosv/mediumcrawler/internal/model"
	"github.com/enzosv/mediumcrawler/internal/store"
	"github.com/enzosv/mediumcrawler/internal/upstream"
	apperrors "github.com/enzosv/mediumcrawler/pkg/errors"
	"github.com/enzosv/mediumcrawler/pkg/logger"
	"github.com/enzosv/mediumcrawler/pkg/metrics"
)

// Store is the part of *store.Store the API uses.
type Store interface {
	ListPopular(ctx context.Context, policy store.PopularPolicy) ([]model.PopularPost, error)
	UpsertBatch(ctx context.Context, b model.Batch) error
	RecordLastCrawled(ctx context.Context, id string, kind model.Kind) error
}

// CacheHeader reports whether the popular list came from the response cache.
const CacheHeader = "X-Cache"

type Config struct {
	Policy       store.PopularPolicy
	MaxBodyBytes int64
}

type Handler struct {
	store   Store
	cache   *cache.PopularCache
	cfg     Config
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func New(s Store, c *cache.PopularCache, cfg Config, m *metrics.Metrics) *Handler {
	if c == nil {
		c = cache.New(nil, 0, m)
	}
	return &Handler{
		store:   s,
		cache:   c,
		cfg:     cfg,
		metrics: m,
		logger:  slog.Default().With("component", "api-handler"),
	}
}

// Popular serves the popular-posts list as a JSON array.
func (h *Handler) Popular(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	posts, hit, err := h.cache.GetOrCompute(ctx, h.cfg.Policy, func() ([]model.PopularPost, error) {
		return h.store.ListPopular(ctx, h.cfg.Policy)
	})
	if err != nil {
		log.Error("listing popular posts failed", "error", err)
		h.writeError(w, apperrors.HTTPStatusCode(err), "failed to list popular posts")
		return
	}
	if posts == nil {
		posts = []model.PopularPost{}
	}

	body, err := json.Marshal(posts)
	if err != nil {
		log.Error("encoding popular posts failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to encode response")
		return
	}
	log.Info("popular posts served",
		"returned", len(posts),
		"cache_hit", hit,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	w.Header().Set("Content-Type", "application/json")
	if hit {
		w.Header().Set(CacheHeader, "HIT")
	} else {
		w.Header().Set(CacheHeader, "MISS")
	}
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// Contribute accepts a references object in the same shape the upstream
// stream returns and stores it through the crawler's upsert path.
func (h *Handler) Contribute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	var refs upstream.References
	if err := h.decode(w, r, &refs); err != nil {
		h.writeError(w, apperrors.HTTPStatusCode(err), apperrors.Message(err))
		return
	}
	if err := validator.ValidateReferences(&refs); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	batch := refs.Batch()
	if err := h.store.UpsertBatch(ctx, batch); err != nil {
		log.Error("contributed batch rejected", "error", err)
		h.writeError(w, apperrors.HTTPStatusCode(err), "failed to store batch")
		return
	}
	h.metrics.AddUpserted(len(batch.Posts), len(batch.Subjects))

	if len(batch.Posts) > 0 {
		if err := h.cache.Invalidate(ctx); err != nil {
			log.Warn("cache invalidation after contribute failed", "error", err)
		}
	}
	log.Info("contribution stored", "posts", len(batch.Posts), "subjects", len(batch.Subjects))
	h.writeText(w, http.StatusOK, fmt.Sprintf("saved %d posts and %d subjects", len(batch.Posts), len(batch.Subjects)))
}

type logRequest struct {
	ID       string `json:"id"`
	PageType *int   `json:"page_type"`
}

// Log marks one subject as crawled now.
func (h *Handler) Log(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req logRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, apperrors.HTTPStatusCode(err), apperrors.Message(err))
		return
	}
	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" {
		h.writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	if req.PageType == nil {
		h.writeError(w, http.StatusBadRequest, "page_type is required")
		return
	}
	kind := model.Kind(*req.PageType)
	if err := kind.Validate(); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.store.RecordLastCrawled(ctx, req.ID, kind); err != nil {
		status := apperrors.HTTPStatusCode(err)
		if status >= http.StatusInternalServerError {
			logger.FromContext(ctx).Error("recording crawl failed", "subject", kind.String()+":"+req.ID, "error", err)
		}
		h.writeError(w, status, apperrors.Message(err))
		return
	}
	h.writeText(w, http.StatusOK, "logged "+kind.String()+":"+req.ID)
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) error {
	body := io.Reader(r.Body)
	if h.cfg.MaxBodyBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes)
	}
	if err := json.NewDecoder(body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperrors.Newf(apperrors.ErrInvalidInput, http.StatusRequestEntityTooLarge, "request body exceeds %d bytes", tooLarge.Limit)
		}
		return apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "invalid JSON body: %v", err)
	}
	return nil
}

func (h *Handler) writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	io.WriteString(w, msg)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
