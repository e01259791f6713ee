package upstream

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/enzosv/mediumcrawler/internal/crawler/cursor"
	"github.com/enzosv/mediumcrawler/internal/model"
)

// StreamPath returns the API path segment for a subject's stream.
func StreamPath(s model.Subject) (string, error) {
	id := url.PathEscape(s.ID)
	switch s.Kind {
	case model.KindCollection:
		return "collections/" + id, nil
	case model.KindAuthor:
		return "users/" + id + "/profile", nil
	case model.KindTag:
		return "tags/" + id, nil
	default:
		return "", fmt.Errorf("building stream path for %s: %w", s.ID, s.Kind.Validate())
	}
}

// BuildURL returns the stream URL for a subject. A nil cursor, or empty
// cursor fields, leave the corresponding query parameters out.
func BuildURL(root string, s model.Subject, c *cursor.Cursor) (string, error) {
	path, err := StreamPath(s)
	if err != nil {
		return "", err
	}
	u, err := url.Parse(strings.TrimRight(root, "/") + "/_/api/" + path + "/stream")
	if err != nil {
		return "", fmt.Errorf("parsing upstream root %q: %w", root, err)
	}
	if c != nil {
		q := url.Values{}
		if len(c.IgnoredIDs) > 0 {
			q.Set("ignoredIds", strings.Join(c.IgnoredIDs, ","))
		}
		if c.Page != 0 {
			q.Set("page", strconv.Itoa(c.Page))
		}
		if c.To != "" {
			q.Set("next", c.To)
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
