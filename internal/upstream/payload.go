package upstream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/enzosv/mediumcrawler/internal/crawler/cursor"
	"github.com/enzosv/mediumcrawler/internal/model"
	apperrors "github.com/enzosv/mediumcrawler/pkg/errors"
)

// GuardPrefix is prepended to stream responses to defeat JSON hijacking.
const GuardPrefix = "])}while(1);</x>"

type envelope struct {
	Payload *Payload `json:"payload"`
}

// Payload is the unwrapped body of one stream page.
type Payload struct {
	References *References `json:"references"`
	Paging     Paging      `json:"paging"`
}

type Paging struct {
	Next *cursor.Cursor `json:"next,omitempty"`
}

// References holds the entities a page refers to, keyed by upstream id.
type References struct {
	Post       map[string]Post       `json:"Post"`
	Collection map[string]Collection `json:"Collection"`
	User       map[string]User       `json:"User"`
}

type Collection struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type User struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

type Post struct {
	ID                   string   `json:"id"`
	Title                string   `json:"title"`
	FirstPublishedAt     float64  `json:"firstPublishedAt"`
	UpdatedAt            float64  `json:"updatedAt"`
	HomeCollectionID     string   `json:"homeCollectionId"`
	CreatorID            string   `json:"creatorId"`
	IsSubscriptionLocked bool     `json:"isSubscriptionLocked"`
	Virtuals             Virtuals `json:"virtuals"`
}

type Virtuals struct {
	ReadingTime           float64 `json:"readingTime"`
	TotalClapCount        int64   `json:"totalClapCount"`
	Tags                  []Tag   `json:"tags"`
	Subtitle              string  `json:"subtitle"`
	Recommends            int64   `json:"recommends"`
	ResponsesCreatedCount int64   `json:"responsesCreatedCount"`
}

type Tag struct {
	Slug string `json:"slug"`
}

// ParsePayload strips one guard prefix if present, decodes the envelope and
// unwraps payload. A body without payload.references is malformed.
func ParsePayload(body []byte) (*Payload, error) {
	body = bytes.TrimPrefix(body, []byte(GuardPrefix))
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: decoding body: %w", apperrors.ErrMalformedPayload, err)
	}
	if env.Payload == nil {
		return nil, fmt.Errorf("%w: missing payload", apperrors.ErrMalformedPayload)
	}
	if env.Payload.References == nil {
		return nil, fmt.Errorf("%w: missing payload.references", apperrors.ErrMalformedPayload)
	}
	return env.Payload, nil
}

func millis(ms float64) time.Time {
	return time.UnixMilli(int64(ms)).UTC()
}

// Batch converts the references of one page into rows for the store.
// Collections and users carry their display names. Tags, home collections
// and creators seen only through a post are registered without a name so
// an existing name is never overwritten.
func (r *References) Batch() model.Batch {
	var b model.Batch
	if r == nil {
		return b
	}
	subjects := make(map[subjectKey]model.Subject)
	add := func(id string, kind model.Kind, name string) {
		if id == "" {
			return
		}
		key := subjectKey{id: id, kind: kind}
		var namePtr *string
		if name != "" {
			namePtr = model.StringPtr(name)
		}
		if existing, ok := subjects[key]; ok && existing.Name != nil {
			return
		}
		subjects[key] = model.Subject{ID: id, Kind: kind, Name: namePtr}
	}

	for key, p := range r.Post {
		id := p.ID
		if id == "" {
			id = key
		}
		tags := make([]string, 0, len(p.Virtuals.Tags))
		for _, t := range p.Virtuals.Tags {
			if t.Slug == "" {
				continue
			}
			tags = append(tags, t.Slug)
			add(t.Slug, model.KindTag, "")
		}
		add(p.HomeCollectionID, model.KindCollection, "")
		add(p.CreatorID, model.KindAuthor, "")
		b.Posts = append(b.Posts, model.Post{
			ID:             id,
			Title:          p.Title,
			PublishedAt:    millis(p.FirstPublishedAt),
			UpdatedAt:      millis(p.UpdatedAt),
			CollectionID:   p.HomeCollectionID,
			AuthorID:       p.CreatorID,
			IsPaid:         p.IsSubscriptionLocked,
			ReadingTime:    p.Virtuals.ReadingTime,
			TotalClaps:     p.Virtuals.TotalClapCount,
			Tags:           tags,
			Subtitle:       p.Virtuals.Subtitle,
			RecommendCount: p.Virtuals.Recommends,
			ResponseCount:  p.Virtuals.ResponsesCreatedCount,
		})
	}
	for key, c := range r.Collection {
		id := c.ID
		if id == "" {
			id = key
		}
		add(id, model.KindCollection, c.Name)
	}
	for key, u := range r.User {
		id := u.UserID
		if id == "" {
			id = key
		}
		add(id, model.KindAuthor, u.Name)
	}

	sort.Slice(b.Posts, func(i, j int) bool { return b.Posts[i].ID < b.Posts[j].ID })
	b.Subjects = make([]model.Subject, 0, len(subjects))
	for _, s := range subjects {
		b.Subjects = append(b.Subjects, s)
	}
	sort.Slice(b.Subjects, func(i, j int) bool {
		if b.Subjects[i].Kind != b.Subjects[j].Kind {
			return b.Subjects[i].Kind > b.Subjects[j].Kind
		}
		return strings.Compare(b.Subjects[i].ID, b.Subjects[j].ID) < 0
	})
	return b
}

type subjectKey struct {
	id   string
	kind model.Kind
}
