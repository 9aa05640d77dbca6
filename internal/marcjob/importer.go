package marcjob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jackzampolin/folio-import/internal/batch"
	"github.com/jackzampolin/folio-import/internal/events"
	"github.com/jackzampolin/folio-import/internal/folio"
	"github.com/jackzampolin/folio-import/internal/ledger"
	"github.com/jackzampolin/folio-import/internal/marc"
	"github.com/jackzampolin/folio-import/internal/progress"
)

// CompleteDirName is the directory, next to each input file, that
// successfully imported files are moved into.
const CompleteDirName = "import_complete"

// DefaultPollInterval is the pause between status polls once a job has
// received its last chunk.
const DefaultPollInterval = 5 * time.Second

// Config configures an Importer.
type Config struct {
	API         RemoteAPI
	ProfileName string

	BatchSize int
	// Preprocess rewrites every good record before it is batched. A record
	// it fails on is handled like a malformed one.
	Preprocess marc.Pipeline
	// Delay is read before every inter-batch pause.
	Delay func() time.Duration

	SplitFiles  bool
	SplitSize   int
	SplitOffset int

	NoSummary          bool
	LetSummaryFail     bool
	FileNamesInLogs    bool
	AcceptServerErrors bool
	MoveCompleted      bool

	SummaryWait   time.Duration
	PollInterval  time.Duration
	MaxJobRetries int
	Retry         RetryPolicy

	Ledger     *ledger.Ledger
	JobIDsFile string

	// OnJobDone is called after every finished job, with its summary when one
	// was fetched.
	OnJobDone func(JobResult)

	Progress progress.Reporter
	Events   events.Sink
	Logger   *slog.Logger
}

// JobResult describes the import of one source.
type JobResult struct {
	Source     string            `json:"source" yaml:"source"`
	Job        Job               `json:"job" yaml:"job"`
	Total      int               `json:"total" yaml:"total"`
	Rejected   int               `json:"rejected" yaml:"rejected"`
	BadRecords int               `json:"bad_records" yaml:"bad_records"`
	Attempts   int               `json:"attempts" yaml:"attempts"`
	Summary    *folio.JobSummary `json:"summary,omitempty" yaml:"summary,omitempty"`
	Error      string            `json:"error,omitempty" yaml:"error,omitempty"`
}

// Report is the outcome of a whole run.
type Report struct {
	Jobs      []JobResult `json:"jobs" yaml:"jobs"`
	JobIDs    []string    `json:"job_ids" yaml:"job_ids"`
	TotalSent int         `json:"total_sent" yaml:"total_sent"`
}

// Importer imports binary record files, one job at a time.
type Importer struct {
	cfg    Config
	logger *slog.Logger
	report Report
}

// New validates cfg and returns an Importer.
func New(cfg Config) (*Importer, error) {
	if cfg.API == nil {
		return nil, errors.New("remote API is required")
	}
	if cfg.ProfileName == "" {
		return nil, errors.New("import profile name is required")
	}
	if cfg.BatchSize < 1 {
		return nil, fmt.Errorf("batch size must be positive, got %d", cfg.BatchSize)
	}
	if cfg.SplitFiles && cfg.SplitSize < 1 {
		return nil, fmt.Errorf("split size must be positive, got %d", cfg.SplitSize)
	}
	if cfg.SplitOffset < 0 {
		return nil, fmt.Errorf("split offset must not be negative, got %d", cfg.SplitOffset)
	}
	if cfg.MaxJobRetries < 0 {
		cfg.MaxJobRetries = 0
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Delay == nil {
		cfg.Delay = func() time.Duration { return 0 }
	}
	if cfg.Progress == nil {
		cfg.Progress = progress.NoOp{}
	}
	if cfg.Events == nil {
		cfg.Events = events.Discard
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.Retry = cfg.Retry.withDefaults()
	return &Importer{cfg: cfg, logger: cfg.Logger.With("component", "marc_import")}, nil
}

// Run imports every file in order. Job ids of the run are appended to the
// job ids file once, after the last job, whether or not the run failed.
func (im *Importer) Run(ctx context.Context, paths []string) (report *Report, err error) {
	defer func() {
		report = &im.report
		if im.cfg.JobIDsFile == "" {
			return
		}
		if werr := ledger.AppendJobIDs(im.cfg.JobIDsFile, im.report.JobIDs); werr != nil {
			err = errors.Join(err, werr)
			return
		}
		im.logger.Info("wrote job ids", "file", im.cfg.JobIDsFile, "count", len(im.report.JobIDs))
	}()

	for _, path := range paths {
		if im.cfg.SplitFiles {
			err = im.importSplit(ctx, path)
		} else {
			_, err = im.Import(ctx, marc.PhysicalFile{Path: path})
		}
		if err != nil {
			return nil, err
		}
		if im.cfg.MoveCompleted {
			if err := moveToComplete(path); err != nil {
				im.logger.Warn("failed to move completed file", "file", path, "error", err)
			}
		}
	}
	im.logger.Info("import complete", "total_sent", im.report.TotalSent)
	return nil, nil
}

func (im *Importer) importSplit(ctx context.Context, path string) error {
	file := marc.PhysicalFile{Path: path}
	count, err := marc.Count(file)
	if err != nil {
		return err
	}
	parts := (count + im.cfg.SplitSize - 1) / im.cfg.SplitSize
	im.logger.Info("splitting file", "file", file.Name(), "records", count, "parts", parts, "part_size", im.cfg.SplitSize)

	f, err := file.Open()
	if err != nil {
		return err
	}
	defer f.Close()

	for part, err := range marc.Split(f, im.cfg.SplitSize) {
		if err != nil {
			return fmt.Errorf("failed to split %s: %w", file.Name(), err)
		}
		if part.Number <= im.cfg.SplitOffset {
			continue
		}
		src := marc.InMemoryBatch{Data: part.Data, Label: marc.PartName(file.Name(), part.Number, parts)}
		if _, err := im.Import(ctx, src); err != nil {
			return err
		}
	}
	return nil
}

// Import runs src through a job. A JobError cancels the job and starts the
// whole source again with a new job, up to MaxJobRetries times.
func (im *Importer) Import(ctx context.Context, src marc.Source) (JobResult, error) {
	quarantined := make(map[int]bool)
	for attempt := 1; ; attempt++ {
		res, err := im.runJob(ctx, src, attempt, quarantined)
		res.Attempts = attempt
		if err == nil {
			im.report.Jobs = append(im.report.Jobs, res)
			im.report.TotalSent += res.Job.Sent
			return res, nil
		}

		var jobErr *JobError
		if errors.As(err, &jobErr) && attempt <= im.cfg.MaxJobRetries && ctx.Err() == nil {
			im.logger.Error("job failed, retrying with a new job",
				"source", src.Name(), "job_id", jobErr.JobID, "attempt", attempt, "error", err)
			continue
		}
		if jobErr != nil {
			im.logger.Error("job failed, maximum retries reached", "source", src.Name(), "job_id", jobErr.JobID, "error", err)
		}
		res.Error = err.Error()
		im.report.Jobs = append(im.report.Jobs, res)
		im.report.TotalSent += res.Job.Sent
		return res, err
	}
}

func (im *Importer) runJob(ctx context.Context, src marc.Source, attempt int, quarantined map[int]bool) (res JobResult, err error) {
	res.Source = src.Name()
	logger := im.logger.With("source", src.Name())

	ctrl := NewController(ControllerConfig{
		API:             im.cfg.API,
		Retry:           im.cfg.Retry,
		LetSummaryFail:  im.cfg.LetSummaryFail,
		FileNamesInLogs: im.cfg.FileNamesInLogs,
		Progress:        im.cfg.Progress,
		Events:          im.cfg.Events,
		Logger:          logger,
	})
	defer func() { res.Job = ctrl.Job() }()

	if err := ctrl.Create(ctx, src.Name()); err != nil {
		return res, err
	}
	im.report.JobIDs = append(im.report.JobIDs, ctrl.Job().ID)

	defer func() {
		if err == nil {
			return
		}
		// The cancel must go out even when ctx is what failed.
		if cerr := ctrl.Cancel(context.WithoutCancel(ctx)); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()

	if err := ctrl.SetProfile(ctx, im.cfg.ProfileName); err != nil {
		return res, err
	}

	total, err := marc.Count(src)
	if err != nil {
		return res, err
	}
	res.Total = total
	if size, serr := src.Size(); serr == nil {
		logger.Info("importing", "records", total, "size", batch.HumanSize(size, 2), "attempt", attempt)
	}

	sentTask := im.cfg.Progress.StartTask("sent", total, src.Name())
	importedTask := im.cfg.Progress.StartTask(fmt.Sprintf("imported (%s)", ctrl.Job().HRID), total, src.Name())
	ctrl.TrackImported(importedTask)
	status := progress.StatusFailed
	defer func() {
		im.cfg.Progress.FinishTask(sentTask, status)
		im.cfg.Progress.FinishTask(importedTask, status)
	}()

	sub := NewSubmitter(SubmitterConfig{
		API:                im.cfg.API,
		Controller:         ctrl,
		Ledger:             im.cfg.Ledger,
		Retry:              im.cfg.Retry,
		AcceptServerErrors: im.cfg.AcceptServerErrors,
		Delay:              im.cfg.Delay,
		Quarantined:        quarantined,
		Progress:           im.cfg.Progress,
		SentTask:           sentTask,
		Events:             im.cfg.Events,
		Logger:             logger,
	})

	if err := im.stream(ctx, src, total, attempt, sub, &res); err != nil {
		return res, err
	}
	if err := ctrl.DoneSubmitting(); err != nil {
		return res, err
	}

	for {
		finished, err := ctrl.Poll(ctx)
		if err != nil {
			return res, err
		}
		if finished {
			break
		}
		if err := im.cfg.Retry.sleep(ctx, im.cfg.PollInterval); err != nil {
			return res, err
		}
	}
	status = progress.StatusDone

	if im.cfg.NoSummary {
		logger.Info("skipping final job summary")
	} else {
		if err := im.cfg.Retry.sleep(ctx, im.cfg.SummaryWait); err != nil {
			return res, err
		}
		summary, err := ctrl.FetchSummary(ctx)
		if err != nil {
			return res, err
		}
		if summary.Empty() {
			job := ctrl.Job()
			logger.Error("no job summary available", "hrid", job.HRID, "job_id", job.ID)
		}
		res.Summary = summary
	}

	res.Job = ctrl.Job()
	if im.cfg.OnJobDone != nil {
		im.cfg.OnJobDone(res)
	}
	return res, nil
}

// stream reads src and submits it in batches. The final batch always carries
// last; it is empty only when src holds no good records.
func (im *Importer) stream(ctx context.Context, src marc.Source, total, attempt int, sub *Submitter, res *JobResult) error {
	rc, err := src.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	rd := marc.NewReader(rc)
	pending := make([][]byte, 0, im.cfg.BatchSize)
	counter := 0

	send := func(last bool) error {
		b := batch.NewBatch(pending, counter, last)
		_, rejected, err := sub.Submit(ctx, b, total)
		res.Rejected += rejected
		pending = make([][]byte, 0, im.cfg.BatchSize)
		return err
	}

	for {
		raw, err := rd.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		var recErr *marc.RecordError
		if errors.As(err, &recErr) {
			res.BadRecords++
			if attempt == 1 {
				im.badRecord(src.Name(), recErr)
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", src.Name(), err)
		}
		out, err := im.cfg.Preprocess.Apply(raw)
		if err != nil {
			res.BadRecords++
			if attempt == 1 {
				im.badRecord(src.Name(), rd.Reject(raw, "preprocessing failed: "+err.Error()))
			}
			continue
		}
		raw = out

		if len(pending) == im.cfg.BatchSize {
			if err := send(false); err != nil {
				return err
			}
		}
		pending = append(pending, raw)
		counter++
	}
	return send(true)
}

func (im *Importer) badRecord(name string, recErr *marc.RecordError) {
	im.cfg.Events.Emit(events.DataIssue(
		fmt.Sprintf("%s:%d", name, recErr.Index),
		fmt.Sprintf("error reading record %d, skipping", recErr.Index),
		recErr.Reason,
	))
	if im.cfg.Ledger == nil || !im.cfg.Ledger.Enabled(ledger.BadRecords) {
		return
	}
	if err := im.cfg.Ledger.Write(ledger.BadRecords, recErr.Raw); err != nil {
		im.logger.Error("failed to write bad record", "error", err)
	}
}

func moveToComplete(path string) error {
	dir := filepath.Join(filepath.Dir(path), CompleteDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return os.Rename(path, filepath.Join(dir, filepath.Base(path)))
}
