package marcjob

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/jackzampolin/folio-import/internal/api"
	"github.com/jackzampolin/folio-import/internal/events"
	"github.com/jackzampolin/folio-import/internal/folio"
	"github.com/jackzampolin/folio-import/internal/progress"
)

// State is the lifecycle state of a remote job.
type State string

const (
	StateUncreated  State = "uncreated"
	StateCreated    State = "created"
	StateProfileSet State = "profile_set"
	StateSubmitting State = "submitting"
	StatePolling    State = "polling"
	StateFinished   State = "finished"
	StateCancelled  State = "cancelled"
	StateFailed     State = "failed"
)

var transitions = map[State][]State{
	StateUncreated:  {StateCreated, StateFailed},
	StateCreated:    {StateProfileSet, StateCancelled, StateFailed},
	StateProfileSet: {StateSubmitting, StateCancelled, StateFailed},
	StateSubmitting: {StatePolling, StateFinished, StateCancelled, StateFailed},
	StatePolling:    {StateFinished, StateCancelled, StateFailed},
	StateFinished:   {},
	StateCancelled:  {},
	StateFailed:     {StateCancelled},
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// Job is a snapshot of one remote job execution.
type Job struct {
	ID           string           `json:"id" yaml:"id"`
	HRID         string           `json:"hrid,omitempty" yaml:"hrid,omitempty"`
	Profile      folio.JobProfile `json:"profile" yaml:"profile"`
	State        State            `json:"state" yaml:"state"`
	RemoteStatus string           `json:"remote_status,omitempty" yaml:"remote_status,omitempty"`
	Sent         int              `json:"sent" yaml:"sent"`
	Imported     int              `json:"imported" yaml:"imported"`
}

// ControllerConfig configures a Controller.
type ControllerConfig struct {
	API   RemoteAPI
	Retry RetryPolicy

	// LetSummaryFail returns an empty summary instead of an error when the
	// summary cannot be fetched.
	LetSummaryFail bool
	// FileNamesInLogs labels the job with the source name.
	FileNamesInLogs bool

	Progress progress.Reporter
	Events   events.Sink
	Logger   *slog.Logger
}

// Controller owns the lifecycle of exactly one remote job. Calls are made
// one at a time; a Controller must not be shared between goroutines that
// issue remote calls concurrently.
type Controller struct {
	api    RemoteAPI
	retry  RetryPolicy
	cfg    ControllerConfig
	prog   progress.Reporter
	events events.Sink
	logger *slog.Logger

	mu           sync.Mutex
	job          Job
	lastCurrent  int
	importedTask progress.Handle
	tracking     bool
}

// NewController creates a controller for a job that does not exist yet.
func NewController(cfg ControllerConfig) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Progress == nil {
		cfg.Progress = progress.NoOp{}
	}
	if cfg.Events == nil {
		cfg.Events = events.Discard
	}
	return &Controller{
		api:    cfg.API,
		retry:  cfg.Retry.withDefaults(),
		cfg:    cfg,
		prog:   cfg.Progress,
		events: cfg.Events,
		logger: cfg.Logger,
		job:    Job{State: StateUncreated},
	}
}

// Job returns a snapshot of the job.
func (c *Controller) Job() Job {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.job
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.job.State
}

func (c *Controller) transition(to State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transitionLocked(to)
}

func (c *Controller) transitionLocked(to State) error {
	from := c.job.State
	if from == to {
		return nil
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			c.job.State = to
			c.events.Emit(events.Event{Kind: events.KindJob, Time: time.Now(), Source: c.job.ID,
				Message: fmt.Sprintf("job %s -> %s", from, to)})
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

func (c *Controller) fail(op string, err error) error {
	c.mu.Lock()
	id := c.job.ID
	if !c.job.State.Terminal() {
		c.job.State = StateFailed
	}
	c.mu.Unlock()
	return &JobError{JobID: id, Op: op, Err: err}
}

// TrackImported reports the remote import counter to task h.
func (c *Controller) TrackImported(h progress.Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.importedTask = h
	c.tracking = true
}

// Create requests a new job execution. Transient failures are retried with
// escalating timeouts; exhausting them or any other failure is a JobError.
// name labels the job in the remote logs when FileNamesInLogs is set.
func (c *Controller) Create(ctx context.Context, name string) error {
	if c.State() != StateUncreated {
		return fmt.Errorf("%w: create from %s", ErrInvalidTransition, c.State())
	}

	var id string
	err := c.retry.escalate(ctx, c.logger, "create job", true, func(timeout time.Duration) error {
		var err error
		id, err = c.api.CreateJob(ctx, timeout)
		return err
	})
	if err != nil {
		return c.fail("create", err)
	}

	c.mu.Lock()
	c.job.ID = id
	c.logger = c.logger.With("job_id", id)
	err = c.transitionLocked(StateCreated)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	if c.cfg.FileNamesInLogs && name != "" {
		if err := c.api.SetJobFileName(ctx, id, name); err != nil {
			return c.fail("set file name", err)
		}
	}
	c.logger.Info("created job", "file", name)
	return nil
}

// SetProfile assigns the profile whose name matches exactly. The first match
// wins. A missing profile or a failed assignment is fatal and never retried.
func (c *Controller) SetProfile(ctx context.Context, name string) error {
	if c.State() != StateCreated {
		return fmt.Errorf("%w: set profile from %s", ErrInvalidTransition, c.State())
	}

	profile, err := ResolveProfile(ctx, c.api, name)
	if err != nil {
		return err
	}

	c.logger.Info("setting job profile", "profile", profile.Name, "profile_id", profile.ID)
	hrid, err := c.api.SetJobProfile(ctx, c.Job().ID, profile)
	if err != nil {
		c.mu.Lock()
		c.job.State = StateFailed
		c.mu.Unlock()
		return fmt.Errorf("failed to set job profile: %w", err)
	}

	c.mu.Lock()
	c.job.Profile = profile
	c.job.HRID = hrid
	err = c.transitionLocked(StateProfileSet)
	c.mu.Unlock()
	if err == nil {
		c.logger.Info("job profile set", "hrid", hrid)
	}
	return err
}

// ResolveProfile finds the job profile named name.
func ResolveProfile(ctx context.Context, remote RemoteAPI, name string) (folio.JobProfile, error) {
	profiles, err := remote.ListJobProfiles(ctx)
	if err != nil {
		return folio.JobProfile{}, fmt.Errorf("failed to list job profiles: %w", err)
	}
	for _, p := range profiles {
		if p.Name == name {
			return p, nil
		}
	}
	return folio.JobProfile{}, fmt.Errorf("%w: %q", ErrProfileNotFound, name)
}

// RecordSent counts n records as sent to the job and marks it submitting.
func (c *Controller) RecordSent(n int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.transitionLocked(StateSubmitting); err != nil {
		return err
	}
	c.job.Sent += n
	return nil
}

// DoneSubmitting marks the end of record submission.
func (c *Controller) DoneSubmitting() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.job.State == StateFinished {
		return nil
	}
	return c.transitionLocked(StatePolling)
}

// Poll checks the job once. It reports true when the job has left the active
// list and appears among completed jobs. Progress advances by the growth of
// the remote counter since the previous poll.
func (c *Controller) Poll(ctx context.Context) (bool, error) {
	switch s := c.State(); s {
	case StateFinished:
		return true, nil
	case StateProfileSet, StateSubmitting, StatePolling:
	default:
		return false, fmt.Errorf("%w: poll from %s", ErrInvalidTransition, s)
	}
	jobID := c.Job().ID

	var active []folio.JobExecution
	err := c.retry.escalate(ctx, c.logger, "poll active jobs", true, func(timeout time.Duration) error {
		var err error
		active, err = c.api.ActiveJobs(ctx, timeout)
		return err
	})
	if err != nil {
		return false, c.fail("poll", err)
	}
	if job, ok := findJob(active, jobID); ok {
		c.advance(job.Progress.Current)
		return false, nil
	}

	c.logger.Debug("job not active, checking completed jobs")
	var completed []folio.JobExecution
	err = c.retry.escalate(ctx, c.logger, "poll completed jobs", false, func(timeout time.Duration) error {
		var err error
		completed, err = c.api.CompletedJobs(ctx, timeout)
		return err
	})
	if err != nil {
		return false, c.fail("poll", err)
	}
	job, ok := findJob(completed, jobID)
	if !ok {
		return false, nil
	}

	c.advance(job.Progress.Current)
	c.mu.Lock()
	c.job.RemoteStatus = job.Status
	err = c.transitionLocked(StateFinished)
	c.mu.Unlock()
	if err != nil {
		return false, err
	}
	c.logger.Info("job finished", "status", job.Status, "imported", c.Job().Imported)
	return true, nil
}

func (c *Controller) advance(current int) {
	c.mu.Lock()
	delta := current - c.lastCurrent
	if delta <= 0 {
		c.mu.Unlock()
		return
	}
	c.lastCurrent = current
	c.job.Imported += delta
	task, tracking := c.importedTask, c.tracking
	c.mu.Unlock()

	if tracking {
		c.prog.UpdateTask(task, delta, nil)
	}
}

func findJob(jobs []folio.JobExecution, id string) (folio.JobExecution, bool) {
	for _, j := range jobs {
		if j.ID == id {
			return j, true
		}
	}
	return folio.JobExecution{}, false
}

// Cancel asks the remote side to drop the job. Timeouts are retried for as
// long as it takes; a remote job left running keeps consuming resources.
// Call it with a context that outlives the failed operation.
func (c *Controller) Cancel(ctx context.Context) error {
	job := c.Job()
	if job.ID == "" || job.State == StateCancelled || job.State == StateFinished {
		return nil
	}

	err := c.retry.persist(ctx, c.logger, "cancel job", func() error {
		return c.api.CancelJob(ctx, job.ID, 0)
	})
	if err != nil {
		c.logger.Error("failed to cancel job", "error", err)
		return fmt.Errorf("failed to cancel job %s: %w", job.ID, err)
	}

	c.mu.Lock()
	c.job.State = StateCancelled
	c.mu.Unlock()
	c.logger.Info("cancelled job")
	return nil
}

// FetchSummary returns the final summary of a finished job. Transient errors
// and a summary that is not ready yet are retried up to MaxSummaryRetries
// times; a zero budget makes a single attempt. Once the retries are spent,
// lenient mode returns an empty summary and strict mode returns
// ErrSummaryUnavailable. Any other error is returned in both modes.
func (c *Controller) FetchSummary(ctx context.Context) (*folio.JobSummary, error) {
	jobID := c.Job().ID
	timeout := c.retry.InitialTimeout
	var wait time.Duration

	var summary *folio.JobSummary
	permanent := false
	err := retry.Do(
		func() error {
			var err error
			summary, err = c.api.JobSummary(ctx, jobID, timeout)
			if err == nil {
				return nil
			}
			if !api.IsTransient(err, false) && !errors.Is(err, folio.ErrSummaryNotReady) {
				permanent = true
				return retry.Unrecoverable(err)
			}
			wait = timeout
			if next := c.retry.next(timeout); next <= c.retry.MaxTimeout {
				timeout = next
			}
			return err
		},
		retry.Context(ctx),
		retry.Attempts(uint(c.retry.MaxSummaryRetries)+1),
		retry.LastErrorOnly(true),
		retry.DelayType(func(uint, error, *retry.Config) time.Duration { return wait }),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn("failed to fetch job summary, retrying", "attempt", n+1, "error", err)
		}),
		retry.WithTimer(c.retry.Timer),
	)
	if err == nil {
		return summary, nil
	}
	if permanent {
		return nil, fmt.Errorf("failed to fetch summary of job %s: %w", jobID, err)
	}
	if c.cfg.LetSummaryFail {
		c.logger.Warn("skipping job summary", "error", err)
		return &folio.JobSummary{JobExecutionID: jobID}, nil
	}
	return nil, fmt.Errorf("%w: job %s: %v", ErrSummaryUnavailable, jobID, err)
}
