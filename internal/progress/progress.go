// Package progress reports the advance of long running tasks.
package progress

import (
	"log/slog"
	"maps"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Status is the terminal state of a task.
type Status string

const (
	StatusDone      Status = "done"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Handle identifies a started task.
type Handle int

// Reporter receives progress updates. A Reporter never influences the work it
// reports on.
type Reporter interface {
	StartTask(name string, total int, description string) Handle
	UpdateTask(h Handle, advance int, counters map[string]int)
	FinishTask(h Handle, status Status)
}

// NoOp discards every update.
type NoOp struct{}

func (NoOp) StartTask(string, int, string) Handle   { return 0 }
func (NoOp) UpdateTask(Handle, int, map[string]int) {}
func (NoOp) FinishTask(Handle, Status)              {}

type task struct {
	name      string
	desc      string
	total     int
	completed int
	counters  map[string]int
	started   time.Time
	every     *rate.Sometimes
}

// Log writes progress lines to a logger, at most one per Interval per task.
type Log struct {
	Logger   *slog.Logger
	Interval time.Duration

	mu    sync.Mutex
	next  Handle
	tasks map[Handle]*task
}

// NewLog creates a Log reporter.
func NewLog(logger *slog.Logger, interval time.Duration) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Log{Logger: logger, Interval: interval, tasks: make(map[Handle]*task)}
}

// StartTask registers a task.
func (l *Log) StartTask(name string, total int, description string) Handle {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.next++
	l.tasks[l.next] = &task{
		name:     name,
		desc:     description,
		total:    total,
		counters: make(map[string]int),
		started:  time.Now(),
		every:    &rate.Sometimes{First: 1, Interval: l.Interval},
	}
	l.Logger.Info("task started", "task", name, "description", description, "total", total)
	return l.next
}

// UpdateTask advances the task and logs if the interval has elapsed.
func (l *Log) UpdateTask(h Handle, advance int, counters map[string]int) {
	l.mu.Lock()
	t, ok := l.tasks[h]
	if !ok {
		l.mu.Unlock()
		return
	}
	t.completed += advance
	maps.Copy(t.counters, counters)
	completed, total := t.completed, t.total
	l.mu.Unlock()

	t.every.Do(func() {
		l.Logger.Info("progress", "task", t.name, "completed", completed, "total", total,
			"rate", perSecond(completed, time.Since(t.started)))
	})
}

// FinishTask logs the final state and forgets the task.
func (l *Log) FinishTask(h Handle, status Status) {
	l.mu.Lock()
	t, ok := l.tasks[h]
	delete(l.tasks, h)
	l.mu.Unlock()
	if !ok {
		return
	}
	args := []any{"task", t.name, "status", string(status), "completed", t.completed, "total", t.total,
		"elapsed", time.Since(t.started).Round(time.Second)}
	for k, v := range t.counters {
		args = append(args, k, v)
	}
	l.Logger.Info("task finished", args...)
}

func perSecond(n int, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(int(float64(n)/elapsed.Seconds()*100)) / 100
}

// Recorder keeps task totals in memory.
type Recorder struct {
	mu       sync.Mutex
	next     Handle
	Names    map[Handle]string
	Totals   map[Handle]int
	Advances map[Handle]int
	Counters map[Handle]map[string]int
	Statuses map[Handle]Status
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		Names:    make(map[Handle]string),
		Totals:   make(map[Handle]int),
		Advances: make(map[Handle]int),
		Counters: make(map[Handle]map[string]int),
		Statuses: make(map[Handle]Status),
	}
}

func (r *Recorder) StartTask(name string, total int, _ string) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.Names[r.next] = name
	r.Totals[r.next] = total
	r.Counters[r.next] = make(map[string]int)
	return r.next
}

func (r *Recorder) UpdateTask(h Handle, advance int, counters map[string]int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Advances[h] += advance
	if r.Counters[h] == nil {
		r.Counters[h] = make(map[string]int)
	}
	maps.Copy(r.Counters[h], counters)
}

func (r *Recorder) FinishTask(h Handle, status Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Statuses[h] = status
}

// Advance returns the total advance of the first task named name.
func (r *Recorder) Advance(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for h, n := range r.Names {
		if n == name {
			total += r.Advances[h]
		}
	}
	return total
}
