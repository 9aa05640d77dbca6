// Package poster sends JSON records to the batch storage endpoints, merging
// them with existing remote versions when upserting.
package poster

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/jackzampolin/folio-import/internal/api"
	"github.com/jackzampolin/folio-import/internal/batch"
	"github.com/jackzampolin/folio-import/internal/events"
	"github.com/jackzampolin/folio-import/internal/folio"
	"github.com/jackzampolin/folio-import/internal/ledger"
	"github.com/jackzampolin/folio-import/internal/progress"
)

// lookupChunk bounds the ids of one existing-record query.
const lookupChunk = 50

// Remote is the storage API a Poster needs.
type Remote interface {
	UpsertBatch(ctx context.Context, ot folio.ObjectType, records []map[string]any, upsert bool) error
	FetchRecords(ctx context.Context, ot folio.ObjectType, ids []string) ([]map[string]any, error)
}

var _ Remote = (*folio.Remote)(nil)

// RetryConfig controls retries of transient storage failures.
type RetryConfig struct {
	Attempts uint
	Delay    time.Duration
	Timer    retry.Timer
}

// Options configures a Poster.
type Options struct {
	Remote Remote
	Config Config

	// Ledger receives bad lines on BadRecords and the records of failed
	// batches on Rerun, one JSON line per record.
	Ledger    *ledger.Ledger
	Validator batch.Validator
	Retry     RetryConfig

	Progress progress.Reporter
	Events   events.Sink
	Logger   *slog.Logger
}

// Poster posts JSON records in batches.
type Poster struct {
	remote    Remote
	cfg       Config
	prep      *Preparer
	ledger    *ledger.Ledger
	validator batch.Validator
	retry     RetryConfig
	prog      progress.Reporter
	events    events.Sink
	logger    *slog.Logger
	stats     statsBox
}

// New validates opts and returns a Poster.
func New(opts Options) (*Poster, error) {
	if opts.Remote == nil {
		return nil, errors.New("remote API is required")
	}
	prep, err := NewPreparer(opts.Config)
	if err != nil {
		return nil, err
	}
	if opts.Retry.Attempts == 0 {
		opts.Retry.Attempts = 3
	}
	if opts.Retry.Delay <= 0 {
		opts.Retry.Delay = time.Second
	}
	if opts.Progress == nil {
		opts.Progress = progress.NoOp{}
	}
	if opts.Events == nil {
		opts.Events = events.Discard
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Poster{
		remote:    opts.Remote,
		cfg:       opts.Config,
		prep:      prep,
		ledger:    opts.Ledger,
		validator: opts.Validator,
		retry:     opts.Retry,
		prog:      opts.Progress,
		events:    opts.Events,
		logger:    opts.Logger.With("component", "poster", "object_type", string(opts.Config.ObjectType)),
	}, nil
}

// Stats returns a snapshot of the counters.
func (p *Poster) Stats() Stats {
	return p.stats.snapshot()
}

// FetchExisting returns the current remote version of each id that exists.
func (p *Poster) FetchExisting(ctx context.Context, ids []string) (map[string]map[string]any, error) {
	existing := make(map[string]map[string]any, len(ids))
	for chunk := range batch.Of(ids, lookupChunk) {
		var records []map[string]any
		err := p.withRetry(ctx, func() error {
			var err error
			records, err = p.remote.FetchRecords(ctx, p.cfg.ObjectType, chunk)
			return err
		})
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			if id, ok := rec["id"].(string); ok {
				existing[id] = rec
			}
		}
	}
	return existing, nil
}

// SetVersions prepares records for an upsert against their existing remote
// versions. It returns the records to send and how many of them exist.
func (p *Poster) SetVersions(ctx context.Context, records []map[string]any) ([]map[string]any, int, error) {
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		if id, ok := rec["id"].(string); ok && id != "" {
			ids = append(ids, id)
		}
	}
	existing, err := p.FetchExisting(ctx, ids)
	if err != nil {
		return nil, 0, err
	}

	out := make([]map[string]any, len(records))
	updates := 0
	for i, rec := range records {
		id, _ := rec["id"].(string)
		prior, ok := existing[id]
		if ok {
			updates++
		}
		prepared, err := p.prep.Prepare(rec, prior)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to prepare record %s: %w", id, err)
		}
		out[i] = prepared.Record
	}
	return out, updates, nil
}

// PostBatch sends records as one batch and returns how many were created
// and updated. The endpoint is all-or-nothing: on error nothing was stored
// and no counter moves.
func (p *Poster) PostBatch(ctx context.Context, records []map[string]any) (created, updated int, err error) {
	out := records
	if p.cfg.Upsert {
		out, updated, err = p.SetVersions(ctx, records)
		if err != nil {
			return 0, 0, err
		}
	} else {
		out = make([]map[string]any, len(records))
		for i, rec := range records {
			out[i] = copyMap(rec)
		}
	}
	if p.cfg.ObjectType == folio.ShadowInstances {
		for _, rec := range out {
			RewriteShadowSource(rec)
		}
	}

	err = p.withRetry(ctx, func() error {
		return p.remote.UpsertBatch(ctx, p.cfg.ObjectType, out, p.cfg.Upsert)
	})
	if err != nil {
		return 0, 0, err
	}

	created = len(records) - updated
	p.stats.update(func(s *Stats) {
		s.RecordsPosted += len(records)
		s.RecordsCreated += created
		s.RecordsUpdated += updated
		s.BatchesPosted++
	})
	return created, updated, nil
}

// PostOne sends a single record outside of any batch.
func (p *Poster) PostOne(ctx context.Context, record map[string]any) error {
	_, _, err := p.PostBatch(ctx, []map[string]any{record})
	return err
}

// PostRecords posts in-memory records in batches.
func (p *Poster) PostRecords(ctx context.Context, records []map[string]any) (Stats, error) {
	seq := func(yield func(batch.Record, error) bool) {
		for i, rec := range records {
			if !yield(batch.Record{Data: rec, Source: "memory", Line: i + 1}, nil) {
				return
			}
		}
	}
	return p.run(ctx, seq, len(records), "records")
}

// DoWork posts every record of the JSON-lines files at paths. The files form
// one stream, so a batch may span two files. Lines that fail to parse or
// validate go to the bad records ledger.
func (p *Poster) DoWork(ctx context.Context, paths []string) (Stats, error) {
	for _, path := range paths {
		if info, err := os.Stat(path); err == nil {
			p.logger.Info("reading records", "file", path, "size", batch.HumanSize(info.Size(), 2))
		}
	}
	src := &batch.JSONLines{Paths: paths, Validator: p.validator, OnBad: p.badLine}
	return p.run(ctx, src.All(), 0, fmt.Sprintf("%d file(s)", len(paths)))
}

func (p *Poster) run(ctx context.Context, seq iter.Seq2[batch.Record, error], total int, desc string) (Stats, error) {
	task := p.prog.StartTask("posting "+string(p.cfg.ObjectType), total, desc)
	status := progress.StatusFailed
	defer func() { p.prog.FinishTask(task, status) }()

	pending := make([]batch.Record, 0, p.cfg.BatchSize)
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		err := p.post(ctx, pending)
		s := p.Stats()
		p.prog.UpdateTask(task, len(pending), map[string]int{
			"created": s.RecordsCreated,
			"updated": s.RecordsUpdated,
			"failed":  s.RecordsFailed,
		})
		pending = make([]batch.Record, 0, p.cfg.BatchSize)
		return err
	}

	for rec, err := range seq {
		if err != nil {
			return p.Stats(), err
		}
		if err := ctx.Err(); err != nil {
			status = progress.StatusCancelled
			return p.Stats(), err
		}
		pending = append(pending, rec)
		p.stats.update(func(s *Stats) { s.RecordsProcessed++ })
		if len(pending) == p.cfg.BatchSize {
			if err := flush(); err != nil {
				return p.Stats(), err
			}
		}
	}
	if err := flush(); err != nil {
		return p.Stats(), err
	}

	status = progress.StatusDone
	s := p.Stats()
	p.logger.Info("posting finished",
		"processed", s.RecordsProcessed,
		"created", s.RecordsCreated,
		"updated", s.RecordsUpdated,
		"failed", s.RecordsFailed,
		"batches", s.BatchesPosted,
	)
	return s, nil
}

// post sends one batch. A failed batch is not fatal: each of its records is
// written to the rerun ledger for one-by-one replay.
func (p *Poster) post(ctx context.Context, recs []batch.Record) error {
	data := make([]map[string]any, len(recs))
	for i, r := range recs {
		data[i] = r.Data
	}

	_, _, err := p.PostBatch(ctx, data)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	p.logger.Warn("batch failed", "records", len(recs), "status", api.StatusCode(err), "error", err)
	p.stats.update(func(s *Stats) {
		s.RecordsFailed += len(recs)
		s.BatchesFailed++
	})
	p.events.Emit(events.DataIssue(
		fmt.Sprintf("%s:%d", recs[0].Source, recs[0].Line),
		fmt.Sprintf("batch of %d records failed", len(recs)),
		err.Error(),
	))
	if p.ledger == nil || !p.ledger.Enabled(ledger.Rerun) {
		return nil
	}
	for _, r := range recs {
		var werr error
		if len(r.Raw) > 0 {
			werr = p.ledger.WriteLine(ledger.Rerun, r.Raw)
		} else {
			werr = p.ledger.WriteJSON(ledger.Rerun, r.Data)
		}
		if werr != nil {
			return fmt.Errorf("failed to record failed batch: %w", werr)
		}
	}
	return nil
}

func (p *Poster) badLine(bad batch.BadLine) {
	p.stats.update(func(s *Stats) { s.BadLines++ })
	p.events.Emit(events.DataIssue(fmt.Sprintf("%s:%d", bad.Source, bad.Line), "bad input line", bad.Err.Error()))
	if p.ledger == nil || !p.ledger.Enabled(ledger.BadRecords) {
		return
	}
	if err := p.ledger.WriteLine(ledger.BadRecords, bad.Raw); err != nil {
		p.logger.Error("failed to record bad line", "source", bad.Source, "line", bad.Line, "error", err)
	}
}

func (p *Poster) withRetry(ctx context.Context, fn func() error) error {
	opts := []retry.Option{
		retry.Context(ctx),
		retry.Attempts(p.retry.Attempts),
		retry.Delay(p.retry.Delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return api.IsTransient(err, false) }),
		retry.OnRetry(func(n uint, err error) {
			p.logger.Warn("transient storage error, retrying", "attempt", n+1, "error", err)
		}),
	}
	if p.retry.Timer != nil {
		opts = append(opts, retry.WithTimer(p.retry.Timer))
	}
	return retry.Do(fn, opts...)
}

// ObjectTypeNames lists the accepted object type names.
func ObjectTypeNames() []string {
	types := folio.ObjectTypes()
	names := make([]string, len(types))
	for i, ot := range types {
		names[i] = string(ot)
	}
	slices.Sort(names)
	return names
}
