//go:build e2e

// Package e2e exercises a running "mediumcrawler serve" instance over HTTP.
//
// Prerequisites:
//   - mediumcrawler migrate && mediumcrawler serve (any storage driver)
//
// Run with:
//
//	E2E_API_URL=http://localhost:8080 go test -v -tags=e2e ./test/e2e/...
package e2e

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

func baseURL() string {
	if v := os.Getenv("E2E_API_URL"); v != "" {
		return v
	}
	return "http://localhost:8080"
}

var client = &http.Client{Timeout: 10 * time.Second}

func requireService(t *testing.T) {
	t.Helper()
	resp, err := client.Get(baseURL() + "/health/live")
	if err != nil {
		t.Skipf("skipping e2e test: api not reachable: %v", err)
	}
	resp.Body.Close()
}

func TestHealth(t *testing.T) {
	requireService(t)
	for _, path := range []string{"/health/live", "/health/ready"} {
		resp, err := client.Get(baseURL() + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s = %d", path, resp.StatusCode)
		}
	}
}

func TestContributedPostBecomesPopular(t *testing.T) {
	requireService(t)
	id := fmt.Sprintf("e2e%d", time.Now().UnixNano())
	published := time.Now().Add(-48 * time.Hour).UnixMilli()
	body := fmt.Sprintf(`{"Post": {%q: {"id": %q, "title": "e2e", "firstPublishedAt": %d,
		"creatorId": "e2e-user", "virtuals": {"totalClapCount": 999999}}},
		"User": {"e2e-user": {"userId": "e2e-user", "name": "E2E"}}}`, id, id, published)

	resp, err := client.Post(baseURL()+"/contribute", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	ack, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("contribute = %d %s", resp.StatusCode, ack)
	}

	resp, err = client.Get(baseURL() + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q", got)
	}
	var rows []struct {
		PostID string `json:"post_id"`
		Author string `json:"author"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		t.Fatal(err)
	}
	for _, r := range rows {
		if r.PostID == id {
			if r.Author != "E2E" {
				t.Errorf("author = %q", r.Author)
			}
			return
		}
	}
	t.Errorf("post %s not in popular list", id)
}

func TestLogUnknownSubject(t *testing.T) {
	requireService(t)
	resp, err := client.Post(baseURL()+"/log", "application/json",
		strings.NewReader(`{"id": "definitely-missing", "page_type": 0}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("log = %d, want 404", resp.StatusCode)
	}
}
