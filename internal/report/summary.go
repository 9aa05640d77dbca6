package report

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/jackzampolin/folio-import/internal/folio"
	"github.com/jackzampolin/folio-import/internal/poster"
)

// SummaryColumns is the fixed column order of a job summary table.
var SummaryColumns = []string{"created", "updated", "discarded", "error"}

var printer = message.NewPrinter(language.English)

// WriteSummary renders a job summary as a table with one row per entity
// type. An empty summary prints a single notice line.
func WriteSummary(w io.Writer, title string, s *folio.JobSummary) error {
	if s.Empty() {
		_, err := fmt.Fprintf(w, "%s: no summary available\n", title)
		return err
	}

	if _, err := fmt.Fprintf(w, "%s\n", title); err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "entity\t%s\t\n", strings.Join(SummaryColumns, "\t"))
	for _, name := range s.EntityTypes() {
		e := s.Entities[name]
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t\n", name,
			count(e.Created), count(e.Updated), count(e.Discarded), count(e.Errors))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "total errors: %s\n", count(s.TotalErrors))
	return err
}

// WriteStats renders the counters of a JSON posting run.
func WriteStats(w io.Writer, title string, s poster.Stats) error {
	if _, err := fmt.Fprintf(w, "%s\n", title); err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	rows := []struct {
		label string
		n     int
	}{
		{"processed", s.RecordsProcessed},
		{"posted", s.RecordsPosted},
		{"created", s.RecordsCreated},
		{"updated", s.RecordsUpdated},
		{"failed", s.RecordsFailed},
		{"bad lines", s.BadLines},
		{"batches posted", s.BatchesPosted},
		{"batches failed", s.BatchesFailed},
	}
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\n", r.label, count(r.n))
	}
	return tw.Flush()
}

func count(n int) string {
	return printer.Sprintf("%d", n)
}
