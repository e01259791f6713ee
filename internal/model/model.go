// Package model defines the records the crawler moves between the upstream
// API, the crawl queue and the relational store.
package model

import (
	"fmt"
	"time"

	apperrors "github.com/enzosv/mediumcrawler/pkg/errors"
)

// Kind is the type of an upstream crawl target. The numeric values are
// persisted as pages.page_type.
type Kind int

const (
	KindTag        Kind = 0
	KindAuthor     Kind = 1
	KindCollection Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindTag:
		return "tag"
	case KindAuthor:
		return "author"
	case KindCollection:
		return "collection"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Validate returns ErrUnknownKind for anything outside the three known kinds.
func (k Kind) Validate() error {
	switch k {
	case KindTag, KindAuthor, KindCollection:
		return nil
	default:
		return fmt.Errorf("%w: %d", apperrors.ErrUnknownKind, int(k))
	}
}

// Subject is a tag, author or collection whose stream can be walked.
// (ID, Kind) is unique.
type Subject struct {
	ID            string
	Kind          Kind
	Name          *string
	LastCrawledAt *time.Time
}

func (s Subject) String() string {
	return s.Kind.String() + ":" + s.ID
}

// Post is a single article as stored in the posts table.
type Post struct {
	ID             string
	Title          string
	PublishedAt    time.Time
	UpdatedAt      time.Time
	CollectionID   string
	AuthorID       string
	IsPaid         bool
	ReadingTime    float64
	TotalClaps     int64
	Tags           []string
	Subtitle       string
	RecommendCount int64
	ResponseCount  int64
}

// Batch is everything decoded from one upstream page. It is committed as a
// unit.
type Batch struct {
	Posts    []Post
	Subjects []Subject
}

// Empty reports whether the batch carries nothing to write.
func (b Batch) Empty() bool {
	return len(b.Posts) == 0 && len(b.Subjects) == 0
}

// PopularPost is one row of the read API. Field names match what the display
// client reads.
type PopularPost struct {
	Title          string  `json:"title"`
	TotalClapCount int64   `json:"total_clap_count"`
	PostID         string  `json:"post_id"`
	PublishedAt    string  `json:"published_at"`
	Author         string  `json:"author"`
	Collection     string  `json:"collection"`
	RecommendCount int64   `json:"recommend_count"`
	ResponseCount  int64   `json:"response_count"`
	ReadingTime    float64 `json:"reading_time"`
	Tags           string  `json:"tags"`
	IsPaid         int     `json:"is_paid"`
}

// StringPtr is a convenience for optional names.
func StringPtr(s string) *string {
	return &s
}
