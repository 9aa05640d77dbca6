// Package events routes structured run events, most importantly data issues
// (records that could not be imported), to wherever the caller wants them.
package events

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// Kind classifies an event.
type Kind string

const (
	// KindDataIssue is a problem with the input data rather than the run.
	KindDataIssue Kind = "data_issue"
	// KindJob is a job lifecycle transition.
	KindJob Kind = "job"
)

// Event is one occurrence worth reporting.
type Event struct {
	Kind    Kind
	Time    time.Time
	Source  string // file and position, e.g. "books.mrc:12"
	Message string
	Detail  string
}

// Sink receives events. Implementations must be safe for concurrent use.
type Sink interface {
	Emit(Event)
}

// DataIssue builds a data issue event stamped with the current time.
func DataIssue(source, message, detail string) Event {
	return Event{Kind: KindDataIssue, Time: time.Now(), Source: source, Message: message, Detail: detail}
}

// Discard drops every event.
var Discard Sink = discard{}

type discard struct{}

func (discard) Emit(Event) {}

// Multi fans events out to every sink.
type Multi []Sink

// Emit sends e to each sink in order.
func (m Multi) Emit(e Event) {
	for _, s := range m {
		s.Emit(e)
	}
}

// LogSink writes events to a logger. Data issues are logged at Warn.
type LogSink struct {
	Logger *slog.Logger
}

// Emit logs e.
func (s LogSink) Emit(e Event) {
	level := slog.LevelInfo
	if e.Kind == KindDataIssue {
		level = slog.LevelWarn
	}
	s.Logger.LogAttrs(context.Background(), level, e.Message,
		slog.String("kind", string(e.Kind)),
		slog.String("source", e.Source),
		slog.String("detail", e.Detail),
	)
}

// FileSink appends data issues to a tab separated file, one per line:
// RECORD FAILED, source, message, detail. Other kinds are ignored.
type FileSink struct {
	mu   sync.Mutex
	path string
	file *os.File
	w    *bufio.Writer
	n    int
}

// NewFileSink opens path for appending.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open data issues log: %w", err)
	}
	return &FileSink{path: path, file: f, w: bufio.NewWriter(f)}, nil
}

// Emit writes a data issue line.
func (s *FileSink) Emit(e Event) {
	if e.Kind != KindDataIssue {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, "%s\tRECORD FAILED\t%s\t%s\t%s\n",
		e.Time.UTC().Format(time.RFC3339), e.Source, oneLine(e.Message), oneLine(e.Detail))
	s.n++
}

// Count returns the number of data issues written.
func (s *FileSink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}

// Path returns the file path.
func (s *FileSink) Path() string { return s.path }

// Close flushes and closes the file, removing it if nothing was written.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Flush(); err != nil {
		s.file.Close()
		return fmt.Errorf("failed to flush data issues log: %w", err)
	}
	if err := s.file.Close(); err != nil {
		return err
	}
	if s.n == 0 {
		if info, err := os.Stat(s.path); err == nil && info.Size() == 0 {
			return os.Remove(s.path)
		}
	}
	return nil
}

func oneLine(s string) string {
	return strings.NewReplacer("\n", " ", "\t", " ").Replace(s)
}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit records e.
func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Count returns how many recorded events have kind k.
func (r *Recorder) Count(k Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == k {
			n++
		}
	}
	return n
}
