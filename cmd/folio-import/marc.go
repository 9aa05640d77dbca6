package main

import (
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/folio-import/internal/config"
	"github.com/jackzampolin/folio-import/internal/ledger"
	"github.com/jackzampolin/folio-import/internal/marc"
	"github.com/jackzampolin/folio-import/internal/marcjob"
	"github.com/jackzampolin/folio-import/internal/report"
)

var (
	marcProfile     string
	marcBatchSize   int
	marcSplit       bool
	marcSplitSize   int
	marcSplitOffset int
	marcNoSummary   bool
	marcNoMove      bool
	marcBatchDelay  time.Duration
	marcLetFail     bool
	marcPreprocess  []string
)

var marcCmd = &cobra.Command{
	Use:   "marc <file>...",
	Short: "Import binary MARC files through data import jobs",
	Long: `Import binary MARC files through the data import job lifecycle.

Each file (or each part of a split file) runs as one job: the job is
created, bound to the import profile, fed in chunks and polled until the
platform reports it finished. Jobs that fail on the platform side are
cancelled and restarted from the first record.

Malformed records are written to bad_marc_records_<ts>.mrc and rejected
batches to failed_batches_<ts>.mrc in the reports directory. The ids of
all created jobs are appended to marc.job_ids_file.

marc.batch_delay is re-read from the config file while the import runs,
unless --batch-delay is given.

Preprocessors rewrite each record before it is sent: ` + strings.Join(marc.PreprocessorNames(), ", ") + `.
Their arguments come from marc.preprocessor_args.

Examples:
  folio-import marc bibs.mrc --profile "Default - Create instance and SRS MARC Bib"
  folio-import marc big.mrc --split --split-size 5000 --split-offset 2
  folio-import marc sudoc.mrc --preprocessor sudoc_supercede_prep,strip_999_ff_fields`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		s, err := newSession(cmd, func(c *config.Config) { applyMARCFlags(cmd, c) })
		if err != nil {
			return err
		}
		cfg := s.cfg
		if cfg.MARC.ImportProfile == "" {
			return fmt.Errorf("an import profile is required (--profile or marc.import_profile)")
		}

		pipeline, err := cfg.Pipeline()
		if err != nil {
			return err
		}

		remote, err := s.connect(ctx, true)
		if err != nil {
			return err
		}

		l, err := ledger.Open(ledger.Paths{
			BadRecords:    s.artifact("bad_marc_records", ".mrc"),
			FailedBatches: s.artifact("failed_batches", ".mrc"),
		})
		if err != nil {
			return err
		}
		defer func() {
			if err := l.Close(); err != nil {
				s.logger.Warn("failed to close ledger", "error", err)
			}
		}()

		sink, closeEvents, err := s.openEvents()
		if err != nil {
			return err
		}
		defer closeEvents()

		// Throttle between batches follows config file edits unless the flag
		// pins it.
		var delay atomic.Int64
		delay.Store(int64(cfg.MARC.BatchDelay))
		if !cmd.Flags().Changed("batch-delay") {
			s.mgr.OnChange(func(c *config.Config) {
				if d := c.MARC.BatchDelay; d >= 0 && time.Duration(delay.Swap(int64(d))) != d {
					s.logger.Info("batch delay changed", "delay", d)
				}
			})
			s.mgr.WatchConfig()
		}

		im, err := marcjob.New(marcjob.Config{
			API:                remote,
			ProfileName:        cfg.MARC.ImportProfile,
			BatchSize:          cfg.MARC.BatchSize,
			Preprocess:         pipeline,
			Delay:              func() time.Duration { return time.Duration(delay.Load()) },
			SplitFiles:         cfg.MARC.SplitFiles,
			SplitSize:          cfg.MARC.SplitSize,
			SplitOffset:        cfg.MARC.SplitOffset,
			NoSummary:          cfg.MARC.NoSummary,
			LetSummaryFail:     cfg.MARC.LetSummaryFail,
			FileNamesInLogs:    cfg.MARC.FileNamesInLogs,
			AcceptServerErrors: cfg.MARC.AcceptServerErrors,
			MoveCompleted:      cfg.MARC.MoveCompleted,
			SummaryWait:        cfg.MARC.SummaryWait,
			MaxJobRetries:      cfg.Retry.MaxJobRetries,
			Retry:              cfg.RetryPolicy(),
			Ledger:             l,
			JobIDsFile:         s.inReports(cfg.MARC.JobIDsFile),
			OnJobDone:          s.printJob,
			Progress:           s.reporter(),
			Events:             sink,
			Logger:             s.logger,
		})
		if err != nil {
			return err
		}

		rep, runErr := im.Run(ctx, args)
		if err := l.Flush(); err != nil {
			s.logger.Warn("failed to flush ledger", "error", err)
		}
		if err := s.write(rep, func(w io.Writer) error {
			return writeMARCReport(w, rep, l)
		}); err != nil {
			s.logger.Warn("failed to write report", "error", err)
		}
		return runErr
	},
}

// applyMARCFlags copies the flags set on cmd over the loaded config.
func applyMARCFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("profile") {
		c.MARC.ImportProfile = marcProfile
	}
	if flags.Changed("batch-size") {
		c.MARC.BatchSize = marcBatchSize
	}
	if flags.Changed("batch-delay") {
		c.MARC.BatchDelay = marcBatchDelay
	}
	if flags.Changed("split") {
		c.MARC.SplitFiles = marcSplit
	}
	if flags.Changed("split-size") {
		c.MARC.SplitSize = marcSplitSize
	}
	if flags.Changed("split-offset") {
		c.MARC.SplitOffset = marcSplitOffset
	}
	if flags.Changed("no-summary") {
		c.MARC.NoSummary = marcNoSummary
	}
	if flags.Changed("let-summary-fail") {
		c.MARC.LetSummaryFail = marcLetFail
	}
	if flags.Changed("no-move") {
		c.MARC.MoveCompleted = !marcNoMove
	}
	if flags.Changed("preprocessor") {
		c.MARC.Preprocessors = marcPreprocess
	}
}

// printJob renders the summary of a finished job in table output.
func (s *session) printJob(res marcjob.JobResult) {
	if s.format.Structured() || res.Summary == nil {
		return
	}
	title := fmt.Sprintf("%s (job %s)", res.Source, res.Job.ID)
	if res.Job.HRID != "" {
		title = fmt.Sprintf("%s (job %s)", res.Source, res.Job.HRID)
	}
	if err := report.WriteSummary(s.out, title, res.Summary); err != nil {
		s.logger.Warn("failed to write job summary", "error", err)
	}
}

func writeMARCReport(w io.Writer, rep *marcjob.Report, l *ledger.Ledger) error {
	if rep == nil {
		return nil
	}
	if _, err := fmt.Fprintf(w, "sent %d record(s) in %d job(s)\n", rep.TotalSent, len(rep.Jobs)); err != nil {
		return err
	}
	for _, ch := range []ledger.Channel{ledger.BadRecords, ledger.FailedBatches} {
		if n := l.Entries(ch); n > 0 {
			fmt.Fprintf(w, "%s: %d record(s) in %s\n", ch, n, l.Path(ch))
		}
	}
	return nil
}

func init() {
	addMARCFlags(marcCmd)
}

func addMARCFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&marcProfile, "profile", "", "data import job profile name (overrides marc.import_profile)")
	flags.IntVar(&marcBatchSize, "batch-size", 10, "records per chunk (overrides marc.batch_size)")
	flags.BoolVar(&marcSplit, "split", false, "split files into separate jobs (overrides marc.split_files)")
	flags.IntVar(&marcSplitSize, "split-size", 1000, "records per split part (overrides marc.split_size)")
	flags.IntVar(&marcSplitOffset, "split-offset", 0, "number of leading parts to skip (overrides marc.split_offset)")
	flags.BoolVar(&marcNoSummary, "no-summary", false, "do not fetch job summaries (overrides marc.no_summary)")
	flags.BoolVar(&marcNoMove, "no-move", false, "leave imported files in place (overrides marc.move_completed)")
	flags.DurationVar(&marcBatchDelay, "batch-delay", 0, "pause between chunks (overrides marc.batch_delay)")
	flags.BoolVar(&marcLetFail, "let-summary-fail", false, "carry on without a job summary once its retries are spent (overrides marc.let_summary_fail)")
	flags.StringSliceVar(&marcPreprocess, "preprocessor", nil, "record preprocessors to run, in order (overrides marc.preprocessors)")
}
