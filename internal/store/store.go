// Package store persists posts and crawl subjects. Every write is an
// idempotent upsert, a page's worth of rows commits in one transaction, and
// the pages table doubles as the crawl queue through its last_query column.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/enzosv/mediumcrawler/internal/model"
	"github.com/enzosv/mediumcrawler/pkg/database"
	apperrors "github.com/enzosv/mediumcrawler/pkg/errors"
)

const (
	upsertPostSuffix = `ON CONFLICT (post_id) DO UPDATE SET
		title = EXCLUDED.title,
		published_at = EXCLUDED.published_at,
		updated_at = EXCLUDED.updated_at,
		collection = EXCLUDED.collection,
		creator = EXCLUDED.creator,
		is_paid = EXCLUDED.is_paid,
		reading_time = EXCLUDED.reading_time,
		total_clap_count = EXCLUDED.total_clap_count,
		tags = EXCLUDED.tags,
		subtitle = EXCLUDED.subtitle,
		recommend_count = EXCLUDED.recommend_count,
		response_count = EXCLUDED.response_count`

	upsertPageSuffix = `ON CONFLICT (id, page_type) DO UPDATE SET
		name = COALESCE(EXCLUDED.name, pages.name)`
)

type Store struct {
	db     *database.Client
	now    func() time.Time
	logger *slog.Logger
}

type Option func(*Store)

// WithClock overrides the time source used for staleness stamps and the
// popularity window.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(db *database.Client, opts ...Option) *Store {
	s := &Store{
		db:     db,
		now:    time.Now,
		logger: slog.Default().With("component", "store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Seed registers root subjects so a fresh database has somewhere to start.
func (s *Store) Seed(ctx context.Context, subjects []model.Subject) error {
	if err := s.UpsertSubjects(ctx, subjects); err != nil {
		return fmt.Errorf("seeding subjects: %w", err)
	}
	return nil
}

func (s *Store) UpsertPosts(ctx context.Context, posts []model.Post) error {
	return s.UpsertBatch(ctx, model.Batch{Posts: posts})
}

func (s *Store) UpsertSubjects(ctx context.Context, subjects []model.Subject) error {
	return s.UpsertBatch(ctx, model.Batch{Subjects: subjects})
}

// UpsertBatch writes one page's posts and subjects in a single transaction.
// Any failure, including a subject of unknown kind, rolls back the whole
// batch.
func (s *Store) UpsertBatch(ctx context.Context, b model.Batch) error {
	if b.Empty() {
		return nil
	}
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		for _, p := range b.Posts {
			if err := s.upsertPost(ctx, tx, p); err != nil {
				return err
			}
		}
		for _, subj := range b.Subjects {
			if err := s.upsertSubject(ctx, tx, subj); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrUnknownKind) || errors.Is(err, apperrors.ErrStorage) {
			return err
		}
		return fmt.Errorf("%w: %w", apperrors.ErrStorage, err)
	}
	s.logger.Debug("batch committed", "posts", len(b.Posts), "subjects", len(b.Subjects))
	return nil
}

func (s *Store) upsertPost(ctx context.Context, tx *sql.Tx, p model.Post) error {
	query, args, err := s.db.Builder().
		Insert("posts").
		Columns("post_id", "title", "published_at", "updated_at", "collection", "creator",
			"is_paid", "reading_time", "total_clap_count", "tags", "subtitle",
			"recommend_count", "response_count").
		Values(p.ID, p.Title, p.PublishedAt.Unix(), p.UpdatedAt.Unix(), nullString(p.CollectionID), p.AuthorID,
			boolInt(p.IsPaid), p.ReadingTime, p.TotalClaps, strings.Join(p.Tags, ","), p.Subtitle,
			p.RecommendCount, p.ResponseCount).
		Suffix(upsertPostSuffix).
		ToSql()
	if err != nil {
		return fmt.Errorf("building post upsert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: upserting post %s: %w", apperrors.ErrStorage, p.ID, err)
	}
	return nil
}

func (s *Store) upsertSubject(ctx context.Context, tx *sql.Tx, subj model.Subject) error {
	if err := subj.Kind.Validate(); err != nil {
		return fmt.Errorf("upserting subject %s: %w", subj.ID, err)
	}
	name := sql.NullString{}
	if subj.Name != nil {
		name = sql.NullString{String: *subj.Name, Valid: true}
	}
	query, args, err := s.db.Builder().
		Insert("pages").
		Columns("id", "name", "page_type").
		Values(subj.ID, name, int(subj.Kind)).
		Suffix(upsertPageSuffix).
		ToSql()
	if err != nil {
		return fmt.Errorf("building subject upsert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: upserting subject %s: %w", apperrors.ErrStorage, subj, err)
	}
	return nil
}

// RecordLastCrawled stamps a subject as crawled now. It returns ErrNotFound
// if no such subject exists.
func (s *Store) RecordLastCrawled(ctx context.Context, id string, kind model.Kind) error {
	if err := kind.Validate(); err != nil {
		return err
	}
	query, args, err := s.db.Builder().
		Update("pages").
		Set("last_query", s.now().Unix()).
		Where(sq.Eq{"id": id, "page_type": int(kind)}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building staleness update: %w", err)
	}
	res, err := s.db.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%w: recording crawl of %s:%s: %w", apperrors.ErrStorage, kind, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: reading affected rows: %w", apperrors.ErrStorage, err)
	}
	if n == 0 {
		return fmt.Errorf("subject %s:%s: %w", kind, id, apperrors.ErrNotFound)
	}
	return nil
}

// LastCrawl returns the most recent crawl stamp across all subjects. The
// zero time means nothing has been crawled yet.
func (s *Store) LastCrawl(ctx context.Context) (time.Time, error) {
	query, args, err := s.db.Builder().
		Select("MAX(last_query)").
		From("pages").
		ToSql()
	if err != nil {
		return time.Time{}, fmt.Errorf("building last crawl query: %w", err)
	}
	var last sql.NullInt64
	if err := s.db.DB.QueryRowContext(ctx, query, args...).Scan(&last); err != nil {
		return time.Time{}, fmt.Errorf("%w: reading last crawl: %w", apperrors.ErrStorage, err)
	}
	if !last.Valid {
		return time.Time{}, nil
	}
	return time.Unix(last.Int64, 0).UTC(), nil
}

// NextSubjects returns up to n subjects, never-crawled first and then by
// oldest crawl. Ties go to higher kinds (collection, author, tag) unless
// preferHigherKinds is false.
func (s *Store) NextSubjects(ctx context.Context, n int, preferHigherKinds bool) ([]model.Subject, error) {
	kindOrder := "page_type DESC"
	if !preferHigherKinds {
		kindOrder = "page_type ASC"
	}
	query, args, err := s.db.Builder().
		Select("id", "name", "page_type", "last_query").
		From("pages").
		OrderBy("COALESCE(last_query, 0) ASC", kindOrder, "id ASC").
		Limit(uint64(n)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building queue query: %w", err)
	}
	rows, err := s.db.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: querying subjects: %w", apperrors.ErrStorage, err)
	}
	defer rows.Close()

	var out []model.Subject
	for rows.Next() {
		var (
			subj      model.Subject
			name      sql.NullString
			kind      int
			lastQuery sql.NullInt64
		)
		if err := rows.Scan(&subj.ID, &name, &kind, &lastQuery); err != nil {
			return nil, fmt.Errorf("%w: scanning subject: %w", apperrors.ErrStorage, err)
		}
		subj.Kind = model.Kind(kind)
		if name.Valid {
			subj.Name = model.StringPtr(name.String)
		}
		if lastQuery.Valid {
			t := time.Unix(lastQuery.Int64, 0).UTC()
			subj.LastCrawledAt = &t
		}
		out = append(out, subj)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating subjects: %w", apperrors.ErrStorage, err)
	}
	return out, nil
}

// PopularPolicy decides which posts the read API lists: those above
// ClapThreshold, or those earning more than DailyClapThreshold claps per
// day since publication.
type PopularPolicy struct {
	ClapThreshold      int64
	DailyClapThreshold int64
}

// ListPopular returns popular posts ordered by claps, joined with author
// and collection names. The per-day ratio is evaluated without division
// and only for posts published before now.
func (s *Store) ListPopular(ctx context.Context, policy PopularPolicy) ([]model.PopularPost, error) {
	now := s.now().Unix()
	query, args, err := s.db.Builder().
		Select(
			"p.title", "p.total_clap_count", "p.post_id", "p.published_at",
			"COALESCE(u.name, '')", "COALESCE(c.name, '')",
			"p.recommend_count", "p.response_count", "p.reading_time", "p.tags", "p.is_paid",
		).
		From("posts p").
		LeftJoin("pages c ON c.id = p.collection AND c.page_type = ?", int(model.KindCollection)).
		LeftJoin("pages u ON u.id = p.creator AND u.page_type = ?", int(model.KindAuthor)).
		Where(sq.Or{
			sq.Gt{"p.total_clap_count": policy.ClapThreshold},
			sq.And{
				sq.Lt{"p.published_at": now},
				sq.Expr("p.total_clap_count * 86400 > ? * (? - p.published_at)", policy.DailyClapThreshold, now),
			},
		}).
		OrderBy("p.total_clap_count DESC", "p.post_id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building popular query: %w", err)
	}
	rows, err := s.db.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: querying popular posts: %w", apperrors.ErrStorage, err)
	}
	defer rows.Close()

	out := make([]model.PopularPost, 0)
	for rows.Next() {
		var (
			p           model.PopularPost
			claps       sql.NullInt64
			publishedAt int64
			recommends  sql.NullInt64
			responses   sql.NullInt64
			readingTime sql.NullFloat64
			tags        sql.NullString
		)
		if err := rows.Scan(&p.Title, &claps, &p.PostID, &publishedAt, &p.Author, &p.Collection,
			&recommends, &responses, &readingTime, &tags, &p.IsPaid); err != nil {
			return nil, fmt.Errorf("%w: scanning popular post: %w", apperrors.ErrStorage, err)
		}
		p.TotalClapCount = claps.Int64
		p.PublishedAt = time.Unix(publishedAt, 0).UTC().Format("2006-01-02")
		p.RecommendCount = recommends.Int64
		p.ResponseCount = responses.Int64
		p.ReadingTime = readingTime.Float64
		p.Tags = tags.String
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating popular posts: %w", apperrors.ErrStorage, err)
	}
	return out, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
