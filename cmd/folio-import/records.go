package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/folio-import/internal/config"
	"github.com/jackzampolin/folio-import/internal/folio"
	"github.com/jackzampolin/folio-import/internal/ledger"
	"github.com/jackzampolin/folio-import/internal/poster"
	"github.com/jackzampolin/folio-import/internal/report"
)

var (
	recordsObjectType string
	recordsBatchSize  int
	recordsUpsert     bool
	recordsSchemaFile string
	recordsPatch      bool
	recordsPatchPaths []string
	recordsFailedFile string

	recordsPreserveStatisticalCodes    bool
	recordsPreserveAdministrativeNotes bool
	recordsPreserveTemporaryLocations  bool
	recordsPreserveItemStatus          bool
)

var recordsCmd = &cobra.Command{
	Use:   "records <file>...",
	Short: "Post JSON-lines records to batch storage",
	Long: `Post JSON-lines records to the batch storage endpoint of an object type.

The files are read as one stream of records, one JSON object per line.
Lines that do not parse or do not match the object type schema are written
to bad_records_<ts>.jsonl. Records of batches the platform rejects are
written to records.failed_records_file (default failed_records_<ts>.jsonl)
for "folio-import replay records".

With upsert, existing records are fetched first and their _version, hrid
and preserved fields are carried over.

Object types: ` + strings.Join(poster.ObjectTypeNames(), ", ") + `

Examples:
  folio-import records items.jsonl --object-type Items --batch-size 250
  folio-import records holdings.jsonl --object-type Holdings --upsert`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		s, err := newSession(cmd, func(c *config.Config) { applyRecordsFlags(cmd, c) })
		if err != nil {
			return err
		}
		pc, err := s.cfg.PosterConfig()
		if err != nil {
			return err
		}
		validator, err := poster.NewSchemaValidator(pc.ObjectType, s.cfg.Records.SchemaFile)
		if err != nil {
			return err
		}

		remote, err := s.connect(ctx, false)
		if err != nil {
			return err
		}

		rerun := s.inReports(s.cfg.Records.FailedRecordsFile)
		if rerun == "" {
			rerun = s.artifact("failed_records", ".jsonl")
		}
		l, err := ledger.Open(ledger.Paths{
			BadRecords: s.artifact("bad_records", ".jsonl"),
			Rerun:      rerun,
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

		p, err := poster.New(poster.Options{
			Remote:    remote,
			Config:    pc,
			Ledger:    l,
			Validator: validator,
			Progress:  s.reporter(),
			Events:    sink,
			Logger:    s.logger,
		})
		if err != nil {
			return err
		}

		stats, runErr := p.DoWork(ctx, args)
		if err := l.Flush(); err != nil {
			s.logger.Warn("failed to flush ledger", "error", err)
		}
		if err := s.write(stats, func(w io.Writer) error {
			return writeRecordsReport(w, pc.ObjectType, stats, l)
		}); err != nil {
			s.logger.Warn("failed to write report", "error", err)
		}
		return runErr
	},
}

// applyRecordsFlags copies the flags set on cmd over the loaded config.
func applyRecordsFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("object-type") {
		c.Records.ObjectType = recordsObjectType
	}
	if flags.Changed("batch-size") {
		c.Records.BatchSize = recordsBatchSize
	}
	if flags.Changed("upsert") {
		c.Records.Upsert = recordsUpsert
	}
	if flags.Changed("schema-file") {
		c.Records.SchemaFile = recordsSchemaFile
	}
	if flags.Changed("patch-existing-records") {
		c.Records.PatchExistingRecords = recordsPatch
	}
	if flags.Changed("patch-paths") {
		c.Records.PatchPaths = recordsPatchPaths
	}
	if flags.Changed("failed-records-file") {
		c.Records.FailedRecordsFile = recordsFailedFile
	}
	if flags.Changed("preserve-statistical-codes") {
		c.Records.PreserveStatisticalCodes = recordsPreserveStatisticalCodes
	}
	if flags.Changed("preserve-administrative-notes") {
		c.Records.PreserveAdministrativeNotes = recordsPreserveAdministrativeNotes
	}
	if flags.Changed("preserve-temporary-locations") {
		c.Records.PreserveTemporaryLocations = recordsPreserveTemporaryLocations
	}
	if flags.Changed("preserve-item-status") {
		c.Records.PreserveItemStatus = recordsPreserveItemStatus
	}
}

func writeRecordsReport(w io.Writer, ot folio.ObjectType, stats poster.Stats, l *ledger.Ledger) error {
	if err := report.WriteStats(w, string(ot), stats); err != nil {
		return err
	}
	for _, ch := range []ledger.Channel{ledger.BadRecords, ledger.Rerun} {
		if n := l.Entries(ch); n > 0 {
			fmt.Fprintf(w, "%s: %d record(s) in %s\n", ch, n, l.Path(ch))
		}
	}
	return nil
}

func init() {
	addRecordsFlags(recordsCmd)
}

func addRecordsFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&recordsObjectType, "object-type", "", "object type to post (overrides records.object_type)")
	flags.IntVar(&recordsBatchSize, "batch-size", 1, "records per batch (overrides records.batch_size)")
	flags.BoolVar(&recordsUpsert, "upsert", false, "update existing records (overrides records.upsert)")
	flags.StringVar(&recordsSchemaFile, "schema-file", "", "JSON schema replacing the built-in one (overrides records.schema_file)")
	flags.BoolVar(&recordsPatch, "patch-existing-records", false, "only update patch paths of existing records (overrides records.patch_existing_records)")
	flags.StringSliceVar(&recordsPatchPaths, "patch-paths", nil, "fields taken from the new record when patching (overrides records.patch_paths)")
	flags.StringVar(&recordsFailedFile, "failed-records-file", "", "file for records of rejected batches (overrides records.failed_records_file)")
	flags.BoolVar(&recordsPreserveStatisticalCodes, "preserve-statistical-codes", false, "keep statistical codes of existing records (overrides records.preserve_statistical_codes)")
	flags.BoolVar(&recordsPreserveAdministrativeNotes, "preserve-administrative-notes", false, "keep administrative notes of existing records (overrides records.preserve_administrative_notes)")
	flags.BoolVar(&recordsPreserveTemporaryLocations, "preserve-temporary-locations", false, "keep temporary locations of existing items (overrides records.preserve_temporary_locations)")
	flags.BoolVar(&recordsPreserveItemStatus, "preserve-item-status", false, "keep the status of existing items (overrides records.preserve_item_status)")
}
