package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/folio-import/internal/config"
	"github.com/jackzampolin/folio-import/internal/ledger"
	"github.com/jackzampolin/folio-import/internal/marcjob"
	"github.com/jackzampolin/folio-import/internal/poster"
)

var replayObjectType string

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Resubmit records from a failure ledger one at a time",
	Long: `Resubmit the records of a failure ledger file one at a time.

Records that fail again are written next to the input with "_rerun" before
the extension. The input file is never modified, so a replay can be
repeated.`,
}

var replayRecordsCmd = &cobra.Command{
	Use:   "records <failed_records.jsonl>",
	Short: "Replay a JSON-lines failed records file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		s, err := newSession(cmd, func(c *config.Config) {
			if cmd.Flags().Changed("object-type") {
				c.Records.ObjectType = replayObjectType
			}
		})
		if err != nil {
			return err
		}
		pc, err := s.cfg.PosterConfig()
		if err != nil {
			return err
		}
		pc.BatchSize = 1

		remote, err := s.connect(ctx, false)
		if err != nil {
			return err
		}
		p, err := poster.New(poster.Options{Remote: remote, Config: pc, Logger: s.logger})
		if err != nil {
			return err
		}

		r := &ledger.Replayer{Submit: p.PostOne, Progress: s.reporter(), Logger: s.logger}
		res, err := r.Replay(ctx, args[0])
		if werr := s.write(res, func(w io.Writer) error {
			return writeReplayResult(w, res)
		}); werr != nil {
			s.logger.Warn("failed to write report", "error", werr)
		}
		return err
	},
}

var replayMARCCmd = &cobra.Command{
	Use:   "marc <failed_batches.mrc>",
	Short: "Replay a failed batches MARC file one record per chunk",
	Long: `Replay a failed batches MARC file through a new data import job, sending one
record per chunk so a rejected record only fails itself. Records the platform
rejects again go to the "_rerun" file next to the input.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		s, err := newSession(cmd, func(c *config.Config) {
			if cmd.Flags().Changed("profile") {
				c.MARC.ImportProfile = marcProfile
			}
			c.MARC.BatchSize = 1
			c.MARC.SplitFiles = false
			c.MARC.MoveCompleted = false
		})
		if err != nil {
			return err
		}
		cfg := s.cfg
		if cfg.MARC.ImportProfile == "" {
			return fmt.Errorf("an import profile is required (--profile or marc.import_profile)")
		}

		remote, err := s.connect(ctx, true)
		if err != nil {
			return err
		}

		rerun := ledger.RerunPath(args[0])
		l, err := ledger.Open(ledger.Paths{
			BadRecords:    s.artifact("bad_marc_records", ".mrc"),
			FailedBatches: rerun,
			Truncate:      true,
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

		im, err := marcjob.New(marcjob.Config{
			API:                remote,
			ProfileName:        cfg.MARC.ImportProfile,
			BatchSize:          1,
			NoSummary:          cfg.MARC.NoSummary,
			LetSummaryFail:     cfg.MARC.LetSummaryFail,
			AcceptServerErrors: true,
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
		if err := s.write(rep, func(w io.Writer) error {
			return writeMARCReport(w, rep, l)
		}); err != nil {
			s.logger.Warn("failed to write report", "error", err)
		}
		return runErr
	},
}

func writeReplayResult(w io.Writer, res ledger.ReplayResult) error {
	_, err := fmt.Fprintf(w, "replayed %d record(s): %d succeeded, %d failed, %d unparseable\n",
		res.Attempted, res.Succeeded, res.Failed, res.Unparseable)
	if err != nil || res.RerunPath == "" {
		return err
	}
	_, err = fmt.Fprintf(w, "still failing: %s\n", res.RerunPath)
	return err
}

func init() {
	replayRecordsCmd.Flags().StringVar(&replayObjectType, "object-type", "", "object type of the records (overrides records.object_type)")
	replayMARCCmd.Flags().StringVar(&marcProfile, "profile", "", "data import job profile name (overrides marc.import_profile)")

	replayCmd.AddCommand(replayRecordsCmd)
	replayCmd.AddCommand(replayMARCCmd)
}
