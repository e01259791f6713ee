// Package validator checks contributed references before they reach the
// store and reports every offending field at once.
package validator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/enzosv/mediumcrawler/internal/upstream"
	apperrors "github.com/enzosv/mediumcrawler/pkg/errors"
)

const (
	maxIDLength    = 64
	maxTitleLength = 1024
	maxTagsPerPost = 32
)

// ValidationError holds per-field failure messages. It unwraps to
// ErrInvalidInput.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field, msg))
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return apperrors.ErrInvalidInput
}

// ValidateReferences rejects entries the crawler would never produce:
// blank or oversized ids, map keys that disagree with the embedded id,
// negative counters and absurd tag lists.
func ValidateReferences(refs *upstream.References) error {
	if refs == nil {
		return &ValidationError{Fields: map[string]string{"references": "body must be a references object"}}
	}
	errs := make(map[string]string)

	for key, p := range refs.Post {
		field := "Post." + key
		if msg := checkID(key, p.ID); msg != "" {
			errs[field+".id"] = msg
		}
		if len(strings.TrimSpace(p.Title)) > maxTitleLength {
			errs[field+".title"] = fmt.Sprintf("title must be at most %d characters", maxTitleLength)
		}
		v := p.Virtuals
		if v.TotalClapCount < 0 || v.Recommends < 0 || v.ResponsesCreatedCount < 0 || v.ReadingTime < 0 {
			errs[field+".virtuals"] = "counters must not be negative"
		}
		if len(v.Tags) > maxTagsPerPost {
			errs[field+".virtuals.tags"] = fmt.Sprintf("at most %d tags", maxTagsPerPost)
		}
		if len(p.HomeCollectionID) > maxIDLength || len(p.CreatorID) > maxIDLength {
			errs[field] = "referenced ids are too long"
		}
	}
	for key, c := range refs.Collection {
		if msg := checkID(key, c.ID); msg != "" {
			errs["Collection."+key+".id"] = msg
		}
	}
	for key, u := range refs.User {
		if msg := checkID(key, u.UserID); msg != "" {
			errs["User."+key+".userId"] = msg
		}
	}

	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

func checkID(key, id string) string {
	switch {
	case strings.TrimSpace(id) == "":
		return "id is required"
	case len(id) > maxIDLength:
		return fmt.Sprintf("id must be at most %d characters", maxIDLength)
	case key != id:
		return fmt.Sprintf("id %q does not match its key", id)
	}
	return ""
}
