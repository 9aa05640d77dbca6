package marcjob

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackzampolin/folio-import/internal/api"
	"github.com/jackzampolin/folio-import/internal/batch"
	"github.com/jackzampolin/folio-import/internal/events"
	"github.com/jackzampolin/folio-import/internal/folio"
	"github.com/jackzampolin/folio-import/internal/ledger"
	"github.com/jackzampolin/folio-import/internal/progress"
)

// SubmitterConfig configures a Submitter.
type SubmitterConfig struct {
	API        RemoteAPI
	Controller *Controller
	Ledger     *ledger.Ledger
	Retry      RetryPolicy

	// AcceptServerErrors treats HTTP 500 on submission as a record-level
	// rejection instead of a batch failure.
	AcceptServerErrors bool
	// Delay returns the pause after each batch. It is read on every batch so
	// it can change during a run.
	Delay func() time.Duration
	// Quarantined holds the counters of batches already written to the failed
	// batches ledger. Sharing it across the job attempts of one source keeps a
	// resubmitted file from quarantining the same batch twice.
	Quarantined map[int]bool

	Progress progress.Reporter
	SentTask progress.Handle
	Events   events.Sink
	Logger   *slog.Logger
}

// Submitter sends record batches into one job.
type Submitter struct {
	cfg    SubmitterConfig
	retry  RetryPolicy
	logger *slog.Logger
}

// NewSubmitter creates a Submitter.
func NewSubmitter(cfg SubmitterConfig) *Submitter {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Progress == nil {
		cfg.Progress = progress.NoOp{}
	}
	if cfg.Events == nil {
		cfg.Events = events.Discard
	}
	if cfg.Delay == nil {
		cfg.Delay = func() time.Duration { return 0 }
	}
	return &Submitter{cfg: cfg, retry: cfg.Retry.withDefaults(), logger: cfg.Logger}
}

// Submit sends b to the job. total is the record count of the whole source.
// Record-level rejections quarantine the batch and count it as sent; any
// other failure is returned as a BatchError and the caller must cancel the
// job. After each submission the job is polled once and the inter-batch
// delay is observed.
func (s *Submitter) Submit(ctx context.Context, b batch.Batch, total int) (accepted, rejected int, err error) {
	ctrl := s.cfg.Controller
	jobID := ctrl.Job().ID
	payload := folio.RecordsPayload{
		ID: b.ID,
		RecordsMetadata: folio.RecordsMetadata{
			Last:        b.Last,
			Counter:     b.Counter,
			ContentType: folio.ContentTypeMARCRaw,
			Total:       total,
		},
		InitialRecords: make([]folio.InitialRecord, len(b.Records)),
	}
	for i, rec := range b.Records {
		payload.InitialRecords[i] = folio.InitialRecord{Record: string(rec)}
	}

	err = s.retry.persist(ctx, s.logger, "submit batch", func() error {
		return s.cfg.API.SubmitRecords(ctx, jobID, payload, 0)
	})
	switch {
	case err == nil:
		accepted = b.Len()
	case IsRecordLevel(api.StatusCode(err), s.cfg.AcceptServerErrors):
		rejected = b.Len()
		s.quarantine(b, err)
	default:
		s.quarantine(b, err)
		return 0, 0, &BatchError{BatchID: b.ID, Err: err}
	}

	if err := ctrl.RecordSent(b.Len()); err != nil {
		return accepted, rejected, err
	}
	s.cfg.Progress.UpdateTask(s.cfg.SentTask, b.Len(), map[string]int{"rejected": rejected})

	if _, err := ctrl.Poll(ctx); err != nil {
		return accepted, rejected, err
	}
	if err := s.retry.sleep(ctx, s.cfg.Delay()); err != nil {
		return accepted, rejected, err
	}
	return accepted, rejected, nil
}

func (s *Submitter) quarantine(b batch.Batch, cause error) {
	if b.Len() == 0 {
		return
	}
	s.logger.Warn("batch rejected", "batch_id", b.ID, "records", b.Len(), "status", api.StatusCode(cause), "error", cause)
	if s.cfg.Quarantined != nil {
		if s.cfg.Quarantined[b.Counter] {
			s.logger.Debug("batch already quarantined", "counter", b.Counter)
			return
		}
		s.cfg.Quarantined[b.Counter] = true
	}
	s.cfg.Events.Emit(events.DataIssue(
		fmt.Sprintf("batch %s", b.ID),
		fmt.Sprintf("batch of %d records rejected", b.Len()),
		cause.Error(),
	))
	if s.cfg.Ledger == nil || !s.cfg.Ledger.Enabled(ledger.FailedBatches) {
		return
	}
	for _, rec := range b.Records {
		if err := s.cfg.Ledger.Write(ledger.FailedBatches, rec); err != nil {
			s.logger.Error("failed to quarantine record", "batch_id", b.ID, "error", err)
			return
		}
	}
}
