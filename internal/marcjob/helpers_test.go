package marcjob

import (
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jackzampolin/folio-import/internal/api"
	"github.com/jackzampolin/folio-import/internal/folio"
)

// recordingTimer fires immediately and remembers every wait it was asked for.
type recordingTimer struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *recordingTimer) After(d time.Duration) <-chan time.Time {
	r.mu.Lock()
	r.waits = append(r.waits, d)
	r.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func (r *recordingTimer) Waits() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.waits...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func httpErr(status int) error {
	return &api.HTTPError{StatusCode: status, Method: http.MethodGet, Path: "/test"}
}

var testProfile = folio.JobProfile{ID: "profile-1", Name: "Default - Create instance and SRS MARC Bib", DataType: "MARC"}
