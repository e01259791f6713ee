package crawler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/enzosv/mediumcrawler/internal/crawler/queue"
	"github.com/enzosv/mediumcrawler/internal/crawler/ratelimit"
	"github.com/enzosv/mediumcrawler/internal/events"
	"github.com/enzosv/mediumcrawler/internal/model"
	"github.com/enzosv/mediumcrawler/internal/store"
	"github.com/enzosv/mediumcrawler/internal/upstream"
	"github.com/enzosv/mediumcrawler/pkg/database"
	apperrors "github.com/enzosv/mediumcrawler/pkg/errors"
)

const sleepDuration = 4 * time.Second

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return nil
}

type recordingSink struct {
	events []events.WalkEvent
}

func (s *recordingSink) Track(e events.WalkEvent) { s.events = append(s.events, e) }

// upstreamStub serves stream pages keyed by "path?query" and records when
// each request arrived on the fake clock.
type upstreamStub struct {
	t      *testing.T
	clock  *fakeClock
	mu     sync.Mutex
	pages  map[string]string
	status map[string]int
	hits   []time.Time
	urls   []string
}

func (u *upstreamStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Path
	if r.URL.RawQuery != "" {
		key += "?" + r.URL.RawQuery
	}
	u.mu.Lock()
	u.hits = append(u.hits, u.clock.Now())
	u.urls = append(u.urls, key)
	u.mu.Unlock()

	if code, ok := u.status[key]; ok {
		w.WriteHeader(code)
		return
	}
	body, ok := u.pages[key]
	if !ok {
		u.t.Errorf("unexpected upstream request %s", key)
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Write([]byte(upstream.GuardPrefix + body))
}

type env struct {
	store *store.Store
	db    *database.Client
	clock *fakeClock
	stub  *upstreamStub
	sink  *recordingSink
	orch  *Orchestrator
}

func newEnv(t *testing.T, cfg Config) *env {
	t.Helper()
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}

	db, err := database.OpenSQLite(ctx, ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	st := store.New(db, store.WithClock(clock.Now))
	if err := st.Migrate(ctx); err != nil {
		t.Fatal(err)
	}

	stub := &upstreamStub{t: t, clock: clock, pages: map[string]string{}, status: map[string]int{}}
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)

	limiter := ratelimit.New(sleepDuration, ratelimit.WithClock(clock))
	client := upstream.NewClient(limiter)
	cfg.RootURL = srv.URL
	sink := &recordingSink{}
	orch := New(client, st, queue.New(st, true), cfg, WithClock(clock.Now), WithEventSink(sink))
	return &env{store: st, db: db, clock: clock, stub: stub, sink: sink, orch: orch}
}

type pagePost struct {
	id, collection, creator string
	tags                    []string
	claps                   int64
}

func pageJSON(posts []pagePost, next map[string]any) string {
	postMap := map[string]any{}
	for _, p := range posts {
		tags := []map[string]string{}
		for _, tag := range p.tags {
			tags = append(tags, map[string]string{"slug": tag})
		}
		postMap[p.id] = map[string]any{
			"id":               p.id,
			"title":            "Post " + p.id,
			"firstPublishedAt": 1_700_000_000_000,
			"updatedAt":        1_700_000_000_000,
			"homeCollectionId": p.collection,
			"creatorId":        p.creator,
			"virtuals": map[string]any{
				"readingTime":    2.5,
				"totalClapCount": p.claps,
				"tags":           tags,
			},
		}
	}
	paging := map[string]any{}
	if next != nil {
		paging["next"] = next
	}
	body, _ := json.Marshal(map[string]any{
		"payload": map[string]any{
			"references": map[string]any{"Post": postMap},
			"paging":     paging,
		},
	})
	return string(body)
}

func seed(t *testing.T, st *store.Store, subjects ...model.Subject) {
	t.Helper()
	if err := st.Seed(context.Background(), subjects); err != nil {
		t.Fatal(err)
	}
}

func lastQuery(t *testing.T, db *database.Client, id string, kind model.Kind) *int64 {
	t.Helper()
	var v *int64
	err := db.DB.QueryRow(`SELECT last_query FROM pages WHERE id = ? AND page_type = ?`, id, int(kind)).Scan(&v)
	if err != nil {
		t.Fatalf("reading last_query of %s: %v", id, err)
	}
	return v
}

func countPosts(t *testing.T, db *database.Client) int {
	t.Helper()
	var n int
	if err := db.DB.QueryRow(`SELECT COUNT(*) FROM posts`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	return n
}

func TestRunWalksTwoPages(t *testing.T) {
	e := newEnv(t, Config{BatchSize: 2, MaxPasses: 1})
	seed(t, e.store, model.Subject{ID: "root", Kind: model.KindCollection})

	e.stub.pages["/_/api/collections/root/stream"] = pageJSON([]pagePost{
		{id: "p1", collection: "root", creator: "u1", tags: []string{"go"}},
		{id: "p2", collection: "root", creator: "u1"},
		{id: "p3", collection: "root", creator: "u2", tags: []string{"sql"}},
	}, map[string]any{"to": "t1", "page": 1, "ignoredIds": []string{}})
	e.stub.pages["/_/api/collections/root/stream?next=t1&page=1"] = pageJSON([]pagePost{
		{id: "p4", collection: "root", creator: "u2"},
		{id: "p5", collection: "root", creator: "u3"},
	}, nil)

	report, err := e.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if n := countPosts(t, e.db); n != 5 {
		t.Errorf("posts = %d, want 5", n)
	}
	if len(e.stub.hits) != 2 {
		t.Fatalf("upstream fetches = %d (%v), want 2", len(e.stub.hits), e.stub.urls)
	}
	if gap := e.stub.hits[1].Sub(e.stub.hits[0]); gap < sleepDuration {
		t.Errorf("fetch spacing = %v, want >= %v", gap, sleepDuration)
	}
	if lq := lastQuery(t, e.db, "root", model.KindCollection); lq == nil {
		t.Error("root collection staleness was not advanced")
	}
	if lq := lastQuery(t, e.db, "go", model.KindTag); lq != nil {
		t.Error("discovered tag should be registered but not yet crawled")
	}
	if report.Walks != 1 || report.Completed != 1 || report.Fetches != 2 || report.Posts != 5 {
		t.Errorf("report = %+v", report)
	}
	if len(e.sink.events) != 1 || e.sink.events[0].Outcome != events.OutcomeExhausted {
		t.Errorf("events = %+v", e.sink.events)
	}
}

func TestRunStopsOnRepeatedCursor(t *testing.T) {
	e := newEnv(t, Config{BatchSize: 1, MaxPasses: 1})
	seed(t, e.store, model.Subject{ID: "loop", Kind: model.KindTag})

	next := map[string]any{"to": "t1", "page": 1, "ignoredIds": []string{"p1"}}
	e.stub.pages["/_/api/tags/loop/stream"] = pageJSON([]pagePost{{id: "p1", creator: "u1"}}, next)
	e.stub.pages["/_/api/tags/loop/stream?ignoredIds=p1&next=t1&page=1"] = pageJSON([]pagePost{{id: "p1", creator: "u1"}}, next)

	if _, err := e.orch.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(e.stub.hits) != 2 {
		t.Errorf("fetches = %d (%v), want 2: the repeated cursor must not be followed", len(e.stub.hits), e.stub.urls)
	}
	if lastQuery(t, e.db, "loop", model.KindTag) == nil {
		t.Error("a stalled walk still counts as completed")
	}
	if e.sink.events[0].Outcome != events.OutcomeStalled {
		t.Errorf("outcome = %s, want stalled", e.sink.events[0].Outcome)
	}
}

func TestFetchFailureIsIsolated(t *testing.T) {
	e := newEnv(t, Config{BatchSize: 2, MaxPasses: 1})
	seed(t, e.store,
		model.Subject{ID: "bad", Kind: model.KindCollection},
		model.Subject{ID: "good", Kind: model.KindCollection},
	)
	e.stub.status["/_/api/collections/bad/stream"] = http.StatusServiceUnavailable
	e.stub.pages["/_/api/collections/good/stream"] = pageJSON([]pagePost{{id: "g1", creator: "u1"}}, nil)

	report, err := e.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if lastQuery(t, e.db, "bad", model.KindCollection) != nil {
		t.Error("failed subject must stay stale")
	}
	if lastQuery(t, e.db, "good", model.KindCollection) == nil {
		t.Error("subject after the failure was not crawled")
	}
	if report.Failed != 1 || report.Completed != 1 {
		t.Errorf("report = %+v", report)
	}
}

func TestMalformedPageKeepsEarlierBatches(t *testing.T) {
	e := newEnv(t, Config{BatchSize: 1, MaxPasses: 1})
	seed(t, e.store, model.Subject{ID: "c", Kind: model.KindCollection})
	e.stub.pages["/_/api/collections/c/stream"] = pageJSON([]pagePost{{id: "p1", creator: "u1"}},
		map[string]any{"to": "5", "page": 1})
	e.stub.pages["/_/api/collections/c/stream?next=5&page=1"] = `{"payload":{"paging":{}}}`

	if _, err := e.orch.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n := countPosts(t, e.db); n != 1 {
		t.Errorf("posts = %d, first page should stay committed", n)
	}
	if lastQuery(t, e.db, "c", model.KindCollection) != nil {
		t.Error("walk aborted by a malformed page must not advance staleness")
	}
}

func TestUnknownKindFailsLoudlyWithoutStoppingPeers(t *testing.T) {
	e := newEnv(t, Config{BatchSize: 2, RunBudget: 30 * time.Second})
	if _, err := e.db.DB.Exec(`INSERT INTO pages (id, page_type) VALUES ('corrupt', 7)`); err != nil {
		t.Fatal(err)
	}
	tags := []string{"a", "b", "c", "d"}
	for _, id := range tags {
		seed(t, e.store, model.Subject{ID: id, Kind: model.KindTag})
		e.stub.pages["/_/api/tags/"+id+"/stream"] = pageJSON(nil, nil)
	}

	report, err := e.orch.Run(context.Background())
	if !errors.Is(err, apperrors.ErrUnknownKind) {
		t.Fatalf("err = %v, want ErrUnknownKind", err)
	}
	for _, id := range tags {
		if lastQuery(t, e.db, id, model.KindTag) == nil {
			t.Errorf("tag %s was not crawled in a run with budget left", id)
		}
	}
	if report.Completed != len(tags) || report.Failed != 1 {
		t.Errorf("report = %+v, want %d completed and the corrupt row failed once", report, len(tags))
	}
	if report.Passes < 3 {
		t.Errorf("passes = %d, the corrupt row must not end the run", report.Passes)
	}
}

func TestFailingSubjectsDoNotBlockTheQueue(t *testing.T) {
	e := newEnv(t, Config{BatchSize: 2, RunBudget: 30 * time.Second})
	seed(t, e.store,
		model.Subject{ID: "gone1", Kind: model.KindCollection},
		model.Subject{ID: "gone2", Kind: model.KindCollection},
		model.Subject{ID: "good", Kind: model.KindTag},
	)
	e.stub.status["/_/api/collections/gone1/stream"] = http.StatusNotFound
	e.stub.status["/_/api/collections/gone2/stream"] = http.StatusNotFound
	e.stub.pages["/_/api/tags/good/stream"] = pageJSON([]pagePost{{id: "p1", creator: "u1"}}, nil)

	for run := 0; run < 2; run++ {
		report, err := e.orch.Run(context.Background())
		if err != nil {
			t.Fatalf("run %d: %v", run, err)
		}
		if report.Walks != 3 || report.Failed != 2 || report.Completed != 1 {
			t.Errorf("run %d report = %+v, want each subject walked once", run, report)
		}
	}
	if lastQuery(t, e.db, "good", model.KindTag) == nil {
		t.Error("subject behind two failing ones was never crawled")
	}
	if lastQuery(t, e.db, "gone1", model.KindCollection) != nil {
		t.Error("failing subject must stay stale")
	}
	if n := len(e.stub.urls); n != 6 {
		t.Errorf("upstream requests = %d (%v), want one per subject per run", n, e.stub.urls)
	}
}

func TestRunRespectsBudget(t *testing.T) {
	e := newEnv(t, Config{BatchSize: 2, RunBudget: 10 * time.Second})
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("t%d", i)
		seed(t, e.store, model.Subject{ID: id, Kind: model.KindTag})
		e.stub.pages["/_/api/tags/"+id+"/stream"] = pageJSON(nil, nil)
	}

	report, err := e.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Walks start at t=0,4,8,12; the budget is noticed after the walk at 12s.
	if report.Walks != 4 {
		t.Errorf("walks = %d, want 4", report.Walks)
	}
	if report.Duration < 10*time.Second {
		t.Errorf("duration = %v", report.Duration)
	}
}

func TestFailedSubjectIsNotRetriedInSameRun(t *testing.T) {
	e := newEnv(t, Config{BatchSize: 1, RunBudget: time.Hour})
	seed(t, e.store, model.Subject{ID: "down", Kind: model.KindCollection})
	e.stub.status["/_/api/collections/down/stream"] = http.StatusInternalServerError

	report, err := e.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Passes != 1 || len(e.stub.hits) != 1 {
		t.Errorf("passes = %d hits = %d, want a single attempt", report.Passes, len(e.stub.hits))
	}
}

func TestRunHonoursCancelledContext(t *testing.T) {
	e := newEnv(t, Config{BatchSize: 1, MaxPasses: 1})
	seed(t, e.store, model.Subject{ID: "c", Kind: model.KindCollection})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.orch.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
