package upstream

import (
	"errors"
	"testing"
	"time"

	"github.com/enzosv/mediumcrawler/internal/model"
	apperrors "github.com/enzosv/mediumcrawler/pkg/errors"
)

const samplePage = `{"success":true,"payload":{
  "references":{
    "Post":{
      "p1":{"id":"p1","title":"First","firstPublishedAt":1700000000000,"updatedAt":1700000500000,
        "homeCollectionId":"c1","creatorId":"u1","isSubscriptionLocked":true,
        "virtuals":{"readingTime":4.5,"totalClapCount":1200,"tags":[{"slug":"go"},{"slug":"databases"}],
          "subtitle":"sub","recommends":10,"responsesCreatedCount":3}},
      "p2":{"id":"p2","title":"Second","firstPublishedAt":1700000100000,"updatedAt":1700000100000,
        "homeCollectionId":"","creatorId":"u2",
        "virtuals":{"readingTime":1,"totalClapCount":5,"tags":[{"slug":"go"}]}}
    },
    "Collection":{"c1":{"id":"c1","name":"Collection One"}},
    "User":{"u1":{"userId":"u1","name":"Alice A."}}
  },
  "paging":{"next":{"ignoredIds":["p1","p2"],"to":"1700000100000","page":2}}
}}`

func TestParsePayloadStripsGuard(t *testing.T) {
	for _, body := range []string{GuardPrefix + samplePage, samplePage} {
		p, err := ParsePayload([]byte(body))
		if err != nil {
			t.Fatalf("ParsePayload: %v", err)
		}
		if len(p.References.Post) != 2 {
			t.Errorf("posts = %d, want 2", len(p.References.Post))
		}
		if p.Paging.Next == nil || p.Paging.Next.Page != 2 || p.Paging.Next.To != "1700000100000" {
			t.Errorf("next = %+v", p.Paging.Next)
		}
	}
}

func TestParsePayloadStripsOnlyOneGuard(t *testing.T) {
	_, err := ParsePayload([]byte(GuardPrefix + GuardPrefix + samplePage))
	if !errors.Is(err, apperrors.ErrMalformedPayload) {
		t.Fatalf("err = %v, want ErrMalformedPayload", err)
	}
}

func TestParsePayloadRejectsMalformed(t *testing.T) {
	tests := map[string]string{
		"not json":           `<html>rate limited</html>`,
		"missing payload":    `{"success":false}`,
		"missing references": `{"payload":{"paging":{}}}`,
		"null references":    `{"payload":{"references":null}}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParsePayload([]byte(body)); !errors.Is(err, apperrors.ErrMalformedPayload) {
				t.Errorf("err = %v, want ErrMalformedPayload", err)
			}
		})
	}
}

func TestParsePayloadWithoutNext(t *testing.T) {
	p, err := ParsePayload([]byte(`{"payload":{"references":{},"paging":{}}}`))
	if err != nil {
		t.Fatal(err)
	}
	if p.Paging.Next != nil {
		t.Errorf("next = %+v, want nil", p.Paging.Next)
	}
	if !p.References.Batch().Empty() {
		t.Error("empty references should give an empty batch")
	}
}

func TestReferencesBatch(t *testing.T) {
	p, err := ParsePayload([]byte(samplePage))
	if err != nil {
		t.Fatal(err)
	}
	b := p.References.Batch()

	if len(b.Posts) != 2 || b.Posts[0].ID != "p1" || b.Posts[1].ID != "p2" {
		t.Fatalf("posts = %+v", b.Posts)
	}
	p1 := b.Posts[0]
	if !p1.PublishedAt.Equal(time.Unix(1_700_000_000, 0)) {
		t.Errorf("published_at = %v", p1.PublishedAt)
	}
	if !p1.IsPaid || p1.TotalClaps != 1200 || p1.ReadingTime != 4.5 || p1.ResponseCount != 3 || p1.RecommendCount != 10 {
		t.Errorf("post fields = %+v", p1)
	}
	if len(p1.Tags) != 2 || p1.Tags[0] != "go" || p1.Tags[1] != "databases" {
		t.Errorf("tags = %v, want upstream order", p1.Tags)
	}
	if b.Posts[1].CollectionID != "" {
		t.Errorf("empty home collection should stay empty, got %q", b.Posts[1].CollectionID)
	}

	type key struct {
		id   string
		kind model.Kind
	}
	got := make(map[key]*string)
	for _, s := range b.Subjects {
		got[key{s.ID, s.Kind}] = s.Name
	}
	want := map[key]string{
		{"c1", model.KindCollection}: "Collection One",
		{"u1", model.KindAuthor}:     "Alice A.",
		{"u2", model.KindAuthor}:     "",
		{"go", model.KindTag}:        "",
		{"databases", model.KindTag}: "",
	}
	if len(got) != len(want) {
		t.Fatalf("subjects = %d, want %d: %+v", len(got), len(want), b.Subjects)
	}
	for k, name := range want {
		n, ok := got[k]
		if !ok {
			t.Errorf("missing subject %v", k)
			continue
		}
		if name == "" && n != nil {
			t.Errorf("%v: name = %q, want nil", k, *n)
		}
		if name != "" && (n == nil || *n != name) {
			t.Errorf("%v: name = %v, want %q", k, n, name)
		}
	}
	if b.Subjects[0].Kind != model.KindCollection {
		t.Errorf("subjects should be ordered collection first, got %v", b.Subjects[0])
	}
}
