package marcjob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/jackzampolin/folio-import/internal/api"
	"github.com/jackzampolin/folio-import/internal/events"
	"github.com/jackzampolin/folio-import/internal/folio"
	"github.com/jackzampolin/folio-import/internal/ledger"
	"github.com/jackzampolin/folio-import/internal/marc"
)

const testLeader = "00000nam a2200000 a 4500"

// fakeGateway serves the job endpoints for any number of jobs. A job appears
// completed once its last chunk has arrived.
type fakeGateway struct {
	mu        sync.Mutex
	nextID    int
	received  map[string]int
	done      map[string]bool
	names     map[string]string
	payloads  []folio.RecordsPayload
	cancelled []string

	// submitStatus, when set, answers every record submission.
	submitStatus int
	// failCompleted answers the completed list with 500 this many times.
	failCompleted int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		received: make(map[string]int),
		done:     make(map[string]bool),
		names:    make(map[string]string),
	}
}

func (g *fakeGateway) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /change-manager/jobExecutions", func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		g.nextID++
		id := fmt.Sprintf("job-%d", g.nextID)
		g.mu.Unlock()
		writeJSON(w, map[string]string{"parentJobExecutionId": id})
	})
	mux.HandleFunc("GET /data-import-profiles/jobProfiles", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"jobProfiles": []folio.JobProfile{testProfile}})
	})
	mux.HandleFunc("PUT /change-manager/jobExecutions/{id}/jobProfile", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"id": r.PathValue("id"), "hrId": 100})
	})
	mux.HandleFunc("GET /change-manager/jobExecutions/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"id": r.PathValue("id")})
	})
	mux.HandleFunc("PUT /change-manager/jobExecutions/{id}", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		g.mu.Lock()
		g.names[r.PathValue("id")], _ = body["fileName"].(string)
		g.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /change-manager/jobExecutions/{id}/records", func(w http.ResponseWriter, r *http.Request) {
		var p folio.RecordsPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		g.mu.Lock()
		defer g.mu.Unlock()
		g.payloads = append(g.payloads, p)
		if g.submitStatus != 0 {
			http.Error(w, "rejected", g.submitStatus)
			return
		}
		id := r.PathValue("id")
		g.received[id] += len(p.InitialRecords)
		if p.RecordsMetadata.Last {
			g.done[id] = true
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("DELETE /change-manager/jobExecutions/{id}/records", func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		g.cancelled = append(g.cancelled, r.PathValue("id"))
		g.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /metadata-provider/jobExecutions", func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		defer g.mu.Unlock()
		active := r.URL.Query().Has("statusNot")
		if !active && g.failCompleted > 0 {
			g.failCompleted--
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		jobs := []folio.JobExecution{}
		for id, n := range g.received {
			if g.done[id] == active {
				continue
			}
			status := "RUNNING"
			if !active {
				status = folio.StatusCommitted
			}
			jobs = append(jobs, folio.JobExecution{ID: id, HRID: "100", Status: status, Progress: folio.Progress{Current: n, Total: n}})
		}
		writeJSON(w, map[string]any{"jobExecutions": jobs})
	})
	mux.HandleFunc("GET /metadata-provider/jobSummary/{id}", func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		n := g.received[r.PathValue("id")]
		g.mu.Unlock()
		writeJSON(w, map[string]any{
			"jobExecutionId":  r.PathValue("id"),
			"totalErrors":     0,
			"instanceSummary": map[string]int{"totalCreatedEntities": n},
		})
	})
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeRecords(t *testing.T, dir, name string, n int) string {
	t.Helper()
	var buf bytes.Buffer
	for i := 0; i < n; i++ {
		buf.Write(encodeRecord(t, fmt.Sprintf("%03d", i)))
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func encodeRecord(t *testing.T, id string) []byte {
	t.Helper()
	raw, err := marc.Encode(testLeader, []marc.Field{
		{Tag: "001", Value: id},
		{Tag: "245", Value: "10\x1faTitle " + id},
	})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	return raw
}

func newTestImporter(t *testing.T, gw *fakeGateway, mutate func(*Config)) *Importer {
	t.Helper()
	server := httptest.NewServer(gw.handler())
	t.Cleanup(server.Close)

	client := api.NewClient(api.Config{BaseURL: server.URL, Tenant: "diku", Logger: discardLogger()})
	cfg := Config{
		API:                folio.NewRemote(client, discardLogger()),
		ProfileName:        testProfile.Name,
		BatchSize:          10,
		AcceptServerErrors: true,
		MaxJobRetries:      1,
		Retry:              RetryPolicy{Timer: &recordingTimer{}},
		Logger:             discardLogger(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	im, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return im
}

func TestImporter_Run(t *testing.T) {
	t.Run("chunks records and marks only the final chunk last", func(t *testing.T) {
		dir := t.TempDir()
		path := writeRecords(t, dir, "bibs.mrc", 25)
		jobIDs := filepath.Join(dir, "job_ids.txt")
		gw := newFakeGateway()
		var done []JobResult
		im := newTestImporter(t, gw, func(cfg *Config) {
			cfg.JobIDsFile = jobIDs
			cfg.OnJobDone = func(r JobResult) { done = append(done, r) }
		})

		report, err := im.Run(context.Background(), []string{path})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}

		if len(gw.payloads) != 3 {
			t.Fatalf("submissions = %d, want 3", len(gw.payloads))
		}
		wantCounters := []int{10, 20, 25}
		for i, p := range gw.payloads {
			md := p.RecordsMetadata
			if md.Counter != wantCounters[i] {
				t.Errorf("chunk %d counter = %d, want %d", i, md.Counter, wantCounters[i])
			}
			if md.Total != 25 {
				t.Errorf("chunk %d total = %d, want 25", i, md.Total)
			}
			if md.Last != (i == 2) {
				t.Errorf("chunk %d last = %v", i, md.Last)
			}
		}

		if report.TotalSent != 25 {
			t.Errorf("TotalSent = %d, want 25", report.TotalSent)
		}
		if len(done) != 1 || done[0].Summary == nil || done[0].Summary.Entities["instance"].Created != 25 {
			t.Errorf("unexpected job results: %+v", done)
		}
		if got := done[0].Job.State; got != StateFinished {
			t.Errorf("state = %s, want finished", got)
		}
		data, err := os.ReadFile(jobIDs)
		if err != nil || strings.TrimSpace(string(data)) != "job-1" {
			t.Errorf("job ids file = %q, err = %v", data, err)
		}
	})

	t.Run("a full final chunk is marked last", func(t *testing.T) {
		path := writeRecords(t, t.TempDir(), "bibs.mrc", 20)
		gw := newFakeGateway()
		im := newTestImporter(t, gw, func(cfg *Config) { cfg.NoSummary = true })

		if _, err := im.Run(context.Background(), []string{path}); err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if len(gw.payloads) != 2 {
			t.Fatalf("submissions = %d, want 2", len(gw.payloads))
		}
		first, last := gw.payloads[0], gw.payloads[1]
		if first.RecordsMetadata.Last || first.RecordsMetadata.Counter != 10 {
			t.Errorf("unexpected first chunk: %+v", first.RecordsMetadata)
		}
		if !last.RecordsMetadata.Last || len(last.InitialRecords) != 10 || last.RecordsMetadata.Counter != 20 {
			t.Errorf("unexpected final chunk: %+v", last.RecordsMetadata)
		}
	})

	t.Run("records are preprocessed and failures go to the ledger", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "bibs.mrc")
		failing := encodeRecord(t, "b")
		data := append(append(encodeRecord(t, "a"), failing...), encodeRecord(t, "c")...)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			t.Fatal(err)
		}
		badPath := filepath.Join(dir, "bad_records.mrc")
		l, err := ledger.Open(ledger.Paths{BadRecords: badPath})
		if err != nil {
			t.Fatal(err)
		}
		sink := &events.Recorder{}
		gw := newFakeGateway()
		im := newTestImporter(t, gw, func(cfg *Config) {
			cfg.Ledger = l
			cfg.Events = sink
			cfg.NoSummary = true
			cfg.Preprocess = marc.Pipeline{
				marc.PrependPrefix001("PPN"),
				func(rec *marc.Record) error {
					if f, _ := rec.Field("001"); f.Value == "(PPN)b" {
						return errors.New("no title")
					}
					return nil
				},
			}
		})

		report, err := im.Run(context.Background(), []string{path})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if err := l.Close(); err != nil {
			t.Fatal(err)
		}
		if report.Jobs[0].BadRecords != 1 || report.TotalSent != 2 {
			t.Errorf("bad = %d, sent = %d", report.Jobs[0].BadRecords, report.TotalSent)
		}
		var ids []string
		for _, p := range gw.payloads {
			for _, r := range p.InitialRecords {
				rec, err := marc.Decode([]byte(r.Record))
				if err != nil {
					t.Fatalf("Decode() error = %v", err)
				}
				f, _ := rec.Field("001")
				ids = append(ids, f.Value)
			}
		}
		if want := []string{"(PPN)a", "(PPN)c"}; !reflect.DeepEqual(ids, want) {
			t.Errorf("submitted 001s = %q, want %q", ids, want)
		}
		got, err := os.ReadFile(badPath)
		if err != nil || !bytes.Equal(got, failing) {
			t.Errorf("bad records ledger = %q, err = %v", got, err)
		}
		if sink.Count(events.KindDataIssue) != 1 {
			t.Errorf("data issues = %d, want 1", sink.Count(events.KindDataIssue))
		}
	})

	t.Run("bad records are skipped into the ledger", func(t *testing.T) {
		dir := t.TempDir()
		bad := encodeRecord(t, "bad")
		bad[marc.LeaderLen+2*12] = 'X'
		data := append(append(encodeRecord(t, "a"), bad...), encodeRecord(t, "b")...)
		path := filepath.Join(dir, "bibs.mrc")
		if err := os.WriteFile(path, data, 0o644); err != nil {
			t.Fatal(err)
		}
		badPath := filepath.Join(dir, "bad_records.mrc")
		l, err := ledger.Open(ledger.Paths{BadRecords: badPath})
		if err != nil {
			t.Fatal(err)
		}
		sink := &events.Recorder{}
		gw := newFakeGateway()
		im := newTestImporter(t, gw, func(cfg *Config) {
			cfg.Ledger = l
			cfg.Events = sink
		})

		report, err := im.Run(context.Background(), []string{path})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if err := l.Close(); err != nil {
			t.Fatal(err)
		}
		if report.Jobs[0].BadRecords != 1 || report.TotalSent != 2 {
			t.Errorf("bad = %d, sent = %d", report.Jobs[0].BadRecords, report.TotalSent)
		}
		got, err := os.ReadFile(badPath)
		if err != nil || !bytes.Equal(got, bad) {
			t.Errorf("bad records ledger = %q, err = %v", got, err)
		}
		if sink.Count(events.KindDataIssue) != 1 {
			t.Errorf("data issues = %d, want 1", sink.Count(events.KindDataIssue))
		}
	})

	t.Run("a job error cancels the job and retries with a new one", func(t *testing.T) {
		path := writeRecords(t, t.TempDir(), "bibs.mrc", 5)
		gw := newFakeGateway()
		gw.failCompleted = 1
		im := newTestImporter(t, gw, func(cfg *Config) { cfg.NoSummary = true })

		report, err := im.Run(context.Background(), []string{path})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if len(gw.cancelled) != 1 || gw.cancelled[0] != "job-1" {
			t.Errorf("cancelled = %v, want [job-1]", gw.cancelled)
		}
		if want := []string{"job-1", "job-2"}; strings.Join(report.JobIDs, ",") != strings.Join(want, ",") {
			t.Errorf("JobIDs = %v, want %v", report.JobIDs, want)
		}
		if report.Jobs[0].Attempts != 2 {
			t.Errorf("Attempts = %d, want 2", report.Jobs[0].Attempts)
		}
	})

	t.Run("an unexpected submission failure cancels without retry", func(t *testing.T) {
		path := writeRecords(t, t.TempDir(), "bibs.mrc", 5)
		gw := newFakeGateway()
		gw.submitStatus = http.StatusForbidden
		im := newTestImporter(t, gw, nil)

		_, err := im.Run(context.Background(), []string{path})
		var batchErr *BatchError
		if !errors.As(err, &batchErr) {
			t.Fatalf("expected BatchError, got %v", err)
		}
		if len(gw.cancelled) != 1 || gw.nextID != 1 {
			t.Errorf("cancelled = %v, jobs created = %d", gw.cancelled, gw.nextID)
		}
	})

	t.Run("split files resume after the offset", func(t *testing.T) {
		path := writeRecords(t, t.TempDir(), "bibs.mrc", 5)
		gw := newFakeGateway()
		im := newTestImporter(t, gw, func(cfg *Config) {
			cfg.SplitFiles = true
			cfg.SplitSize = 2
			cfg.SplitOffset = 1
			cfg.FileNamesInLogs = true
			cfg.NoSummary = true
		})

		report, err := im.Run(context.Background(), []string{path})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if len(report.Jobs) != 2 || report.TotalSent != 3 {
			t.Fatalf("jobs = %d, sent = %d", len(report.Jobs), report.TotalSent)
		}
		if gw.names["job-1"] != "bibs.mrc (Part 02)" || gw.names["job-2"] != "bibs.mrc (Part 03)" {
			t.Errorf("job names = %v", gw.names)
		}
	})

	t.Run("completed files are moved aside", func(t *testing.T) {
		dir := t.TempDir()
		path := writeRecords(t, dir, "bibs.mrc", 1)
		im := newTestImporter(t, newFakeGateway(), func(cfg *Config) {
			cfg.MoveCompleted = true
			cfg.NoSummary = true
		})

		if _, err := im.Run(context.Background(), []string{path}); err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if _, err := os.Stat(filepath.Join(dir, CompleteDirName, "bibs.mrc")); err != nil {
			t.Errorf("file not moved: %v", err)
		}
	})
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing api", Config{ProfileName: "p", BatchSize: 1}},
		{"missing profile", Config{API: &folio.Remote{}, BatchSize: 1}},
		{"zero batch size", Config{API: &folio.Remote{}, ProfileName: "p"}},
		{"zero split size", Config{API: &folio.Remote{}, ProfileName: "p", BatchSize: 1, SplitFiles: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}
