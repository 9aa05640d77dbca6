package poster

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackzampolin/folio-import/internal/api"
	"github.com/jackzampolin/folio-import/internal/batch"
	"github.com/jackzampolin/folio-import/internal/events"
	"github.com/jackzampolin/folio-import/internal/folio"
	"github.com/jackzampolin/folio-import/internal/ledger"
)

// fakeStorage serves the item batch and lookup endpoints.
type fakeStorage struct {
	mu       sync.Mutex
	existing map[string]map[string]any
	batches  [][]map[string]any
	queries  []string
	upserts  []bool

	// status answers every batch post while non-zero; failFirst only the
	// first one.
	status    int
	failFirst int
	posts     atomic.Int32
}

func (s *fakeStorage) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /item-storage/batch/synchronous", func(w http.ResponseWriter, r *http.Request) {
		n := s.posts.Add(1)
		if s.status != 0 {
			http.Error(w, "rejected", s.status)
			return
		}
		if n == 1 && s.failFirst != 0 {
			http.Error(w, "busy", s.failFirst)
			return
		}
		var body struct {
			Items []map[string]any `json:"items"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		s.batches = append(s.batches, body.Items)
		s.upserts = append(s.upserts, r.URL.Query().Get("upsert") == "true")
		s.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("GET /item-storage/items", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		query := r.URL.Query().Get("query")
		s.queries = append(s.queries, query)
		items := []map[string]any{}
		for id, rec := range s.existing {
			if strings.Contains(query, `"`+id+`"`) {
				items = append(items, rec)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"items": items, "totalRecords": len(items)})
	})
	return mux
}

type recordingTimer struct{ waits []time.Duration }

func (r *recordingTimer) After(d time.Duration) <-chan time.Time {
	r.waits = append(r.waits, d)
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func newTestPoster(t *testing.T, storage *fakeStorage, cfg Config, mutate func(*Options)) *Poster {
	t.Helper()
	server := httptest.NewServer(storage.handler())
	t.Cleanup(server.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := api.NewClient(api.Config{BaseURL: server.URL, Tenant: "diku", Logger: logger})
	if cfg.ObjectType == "" {
		cfg.ObjectType = folio.Items
	}
	opts := Options{
		Remote: folio.NewRemote(client, logger),
		Config: cfg,
		Retry:  RetryConfig{Timer: &recordingTimer{}},
		Logger: logger,
	}
	if mutate != nil {
		mutate(&opts)
	}
	p, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return p
}

func writeLines(t *testing.T, path string, lines ...string) string {
	t.Helper()
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		out = append(out, sc.Text())
	}
	return out
}

func checkAccounting(t *testing.T, s Stats) {
	t.Helper()
	if s.InFlight() != 0 {
		t.Errorf("records unaccounted for: %+v", s)
	}
}

func TestPoster_PostRecords(t *testing.T) {
	t.Run("three records in batches of two", func(t *testing.T) {
		storage := &fakeStorage{}
		p := newTestPoster(t, storage, Config{BatchSize: 2}, nil)

		stats, err := p.PostRecords(context.Background(), []map[string]any{{"id": "1"}, {"id": "2"}, {"id": "3"}})
		if err != nil {
			t.Fatalf("PostRecords() error = %v", err)
		}
		if len(storage.batches) != 2 || len(storage.batches[0]) != 2 || len(storage.batches[1]) != 1 {
			t.Fatalf("batches = %v", storage.batches)
		}
		if stats.RecordsProcessed != 3 || stats.RecordsPosted != 3 || stats.RecordsCreated != 3 {
			t.Errorf("stats = %+v", stats)
		}
		if storage.upserts[0] {
			t.Error("upsert flag should not be sent")
		}
		checkAccounting(t, stats)
	})

	t.Run("twenty-five records in batches of ten", func(t *testing.T) {
		storage := &fakeStorage{}
		p := newTestPoster(t, storage, Config{BatchSize: 10}, nil)

		records := make([]map[string]any, 25)
		for i := range records {
			records[i] = map[string]any{"id": string(rune('a' + i))}
		}
		stats, err := p.PostRecords(context.Background(), records)
		if err != nil {
			t.Fatal(err)
		}
		if stats.BatchesPosted != 3 || stats.RecordsProcessed != 25 {
			t.Errorf("stats = %+v", stats)
		}
	})

	t.Run("transient failures are retried", func(t *testing.T) {
		storage := &fakeStorage{failFirst: http.StatusBadGateway}
		p := newTestPoster(t, storage, Config{BatchSize: 5}, nil)

		stats, err := p.PostRecords(context.Background(), []map[string]any{{"id": "1"}})
		if err != nil {
			t.Fatal(err)
		}
		if storage.posts.Load() != 2 || stats.RecordsCreated != 1 || stats.RecordsFailed != 0 {
			t.Errorf("posts = %d, stats = %+v", storage.posts.Load(), stats)
		}
	})

	t.Run("upsert counts existing records as updates", func(t *testing.T) {
		storage := &fakeStorage{existing: map[string]map[string]any{
			"id1": {"id": "id1", "barcode": "old", "_version": 5, "hrid": "it1"},
		}}
		p := newTestPoster(t, storage, Config{BatchSize: 10, Upsert: true}, nil)

		created, updated, err := p.PostBatch(context.Background(), []map[string]any{
			{"id": "id1", "barcode": "new"},
			{"id": "id2", "barcode": "fresh"},
		})
		if err != nil {
			t.Fatal(err)
		}
		if created != 1 || updated != 1 {
			t.Errorf("created = %d, updated = %d", created, updated)
		}
		sent := storage.batches[0]
		if sent[0]["_version"] != float64(5) || sent[0]["hrid"] != "it1" || sent[0]["barcode"] != "new" {
			t.Errorf("update record = %v", sent[0])
		}
		if _, ok := sent[1]["_version"]; ok {
			t.Errorf("create record should carry no version: %v", sent[1])
		}
		if !storage.upserts[0] {
			t.Error("upsert flag should be sent")
		}
		if len(storage.queries) != 1 || !strings.Contains(storage.queries[0], `"id1" or "id2"`) {
			t.Errorf("queries = %v", storage.queries)
		}
	})
}

func TestPoster_FetchExisting(t *testing.T) {
	storage := &fakeStorage{existing: map[string]map[string]any{
		"id1": {"id": "id1", "barcode": "123", "_version": 1},
		"id2": {"id": "id2", "barcode": "456", "_version": 2},
	}}
	p := newTestPoster(t, storage, Config{BatchSize: 1, Upsert: true}, nil)

	got, err := p.FetchExisting(context.Background(), []string{"id1", "id2", "id3"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got["id1"]["barcode"] != "123" || got["id2"]["_version"] != float64(2) {
		t.Errorf("got %v", got)
	}
}

func TestPoster_DoWork(t *testing.T) {
	t.Run("files share one batching stream", func(t *testing.T) {
		dir := t.TempDir()
		f1 := writeLines(t, filepath.Join(dir, "items1.jsonl"), `{"id":"item1"}`, `{"id":"item2"}`)
		f2 := writeLines(t, filepath.Join(dir, "items2.jsonl"), `{"id":"item3"}`)
		storage := &fakeStorage{}
		p := newTestPoster(t, storage, Config{BatchSize: 2}, nil)

		stats, err := p.DoWork(context.Background(), []string{f1, f2})
		if err != nil {
			t.Fatal(err)
		}
		if stats.RecordsPosted != 3 || stats.RecordsFailed != 0 || stats.BatchesPosted != 2 {
			t.Errorf("stats = %+v", stats)
		}
		if len(storage.batches) != 2 {
			t.Errorf("posts = %d, want 2", len(storage.batches))
		}
	})

	t.Run("bad lines go to the ledger and the stream continues", func(t *testing.T) {
		dir := t.TempDir()
		in := writeLines(t, filepath.Join(dir, "items.jsonl"),
			`{"id":"001","barcode":"item001"}`,
			`{not json`,
			`{"id":"002","status":"Available"}`,
			`{"id":"003"}`,
		)
		badPath := filepath.Join(dir, "bad.jsonl")
		l, err := ledger.Open(ledger.Paths{BadRecords: badPath})
		if err != nil {
			t.Fatal(err)
		}
		validator, err := NewSchemaValidator(folio.Items, "")
		if err != nil {
			t.Fatal(err)
		}
		sink := &events.Recorder{}
		storage := &fakeStorage{}
		p := newTestPoster(t, storage, Config{BatchSize: 10}, func(o *Options) {
			o.Ledger = l
			o.Validator = validator
			o.Events = sink
		})

		stats, err := p.DoWork(context.Background(), []string{in})
		if err != nil {
			t.Fatal(err)
		}
		if err := l.Close(); err != nil {
			t.Fatal(err)
		}
		if stats.RecordsProcessed != 2 || stats.BadLines != 2 {
			t.Errorf("stats = %+v", stats)
		}
		lines := readLines(t, badPath)
		if len(lines) != 2 || lines[0] != `{not json` {
			t.Errorf("bad lines = %q", lines)
		}
		if sink.Count(events.KindDataIssue) != 2 {
			t.Errorf("data issues = %d", sink.Count(events.KindDataIssue))
		}
	})

	t.Run("a failed batch writes each record to the rerun ledger", func(t *testing.T) {
		dir := t.TempDir()
		in := writeLines(t, filepath.Join(dir, "items.jsonl"), `{"id":"1"}`, `{"id":"2"}`, `{"id":"3"}`)
		failedPath := filepath.Join(dir, "failed.jsonl")
		l, err := ledger.Open(ledger.Paths{Rerun: failedPath})
		if err != nil {
			t.Fatal(err)
		}
		storage := &fakeStorage{status: http.StatusUnprocessableEntity}
		p := newTestPoster(t, storage, Config{BatchSize: 2}, func(o *Options) { o.Ledger = l })

		stats, err := p.DoWork(context.Background(), []string{in})
		if err != nil {
			t.Fatal(err)
		}
		if err := l.Close(); err != nil {
			t.Fatal(err)
		}
		if stats.RecordsFailed != 3 || stats.BatchesFailed != 2 || stats.RecordsPosted != 0 {
			t.Errorf("stats = %+v", stats)
		}
		checkAccounting(t, stats)
		if got := readLines(t, failedPath); strings.Join(got, ",") != `{"id":"1"},{"id":"2"},{"id":"3"}` {
			t.Errorf("failed records = %q", got)
		}
	})

	t.Run("a missing file is an error", func(t *testing.T) {
		p := newTestPoster(t, &fakeStorage{}, Config{BatchSize: 2}, nil)
		if _, err := p.DoWork(context.Background(), []string{filepath.Join(t.TempDir(), "missing.jsonl")}); err == nil {
			t.Error("expected error")
		}
	})
}

func TestPoster_Replay(t *testing.T) {
	dir := t.TempDir()
	failed := writeLines(t, filepath.Join(dir, "failed.jsonl"), `{"id":"ok"}`, `{"id":"bad"}`, `garbage`)
	storage := &fakeStorage{}
	p := newTestPoster(t, storage, Config{BatchSize: 10}, nil)

	submit := func(ctx context.Context, rec map[string]any) error {
		if rec["id"] == "bad" {
			return errors.New("still failing")
		}
		return p.PostOne(ctx, rec)
	}
	r := &ledger.Replayer{Submit: submit}

	first, err := r.Replay(context.Background(), failed)
	if err != nil {
		t.Fatal(err)
	}
	firstRerun, _ := os.ReadFile(first.RerunPath)
	second, err := r.Replay(context.Background(), failed)
	if err != nil {
		t.Fatal(err)
	}
	secondRerun, _ := os.ReadFile(second.RerunPath)

	if first.Succeeded != 1 || first.Failed != 1 || first.Unparseable != 1 {
		t.Errorf("result = %+v", first)
	}
	if string(firstRerun) != "{\"id\":\"bad\"}\ngarbage\n" || string(firstRerun) != string(secondRerun) {
		t.Errorf("rerun files differ or are wrong: %q vs %q", firstRerun, secondRerun)
	}
	if first.RerunPath != filepath.Join(dir, "failed_rerun.jsonl") {
		t.Errorf("RerunPath = %s", first.RerunPath)
	}
}

func TestSchemaValidator(t *testing.T) {
	users, err := NewSchemaValidator(folio.Users, "")
	if err != nil {
		t.Fatalf("NewSchemaValidator() error = %v", err)
	}
	if err := users.Validate(map[string]any{"id": "1", "username": "jdoe"}); err != nil {
		t.Errorf("valid user rejected: %v", err)
	}
	if err := users.Validate(map[string]any{"id": "1"}); err == nil {
		t.Error("user without username or external id should be rejected")
	}

	items, err := NewSchemaValidator(folio.Items, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := items.Validate(map[string]any{"id": "1", "statisticalCodeIds": []any{json.Number("1")}}); err == nil {
		t.Error("numeric statistical code should be rejected")
	}

	if _, err := NewSchemaValidator("Widgets", ""); !errors.Is(err, folio.ErrUnsupportedObjectType) {
		t.Errorf("error = %v", err)
	}
}

var _ batch.Validator = (*SchemaValidator)(nil)
