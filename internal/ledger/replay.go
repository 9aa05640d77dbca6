package ledger

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jackzampolin/folio-import/internal/batch"
	"github.com/jackzampolin/folio-import/internal/progress"
)

// SubmitFunc sends a single record.
type SubmitFunc func(ctx context.Context, record map[string]any) error

// ReplayResult summarizes a replay.
type ReplayResult struct {
	Attempted   int    `json:"attempted" yaml:"attempted"`
	Succeeded   int    `json:"succeeded" yaml:"succeeded"`
	Failed      int    `json:"failed" yaml:"failed"`
	Unparseable int    `json:"unparseable" yaml:"unparseable"`
	RerunPath   string `json:"rerun_path,omitempty" yaml:"rerun_path,omitempty"`
}

// Replayer resubmits a JSON-lines ledger file one record at a time.
type Replayer struct {
	Submit   SubmitFunc
	Progress progress.Reporter
	Logger   *slog.Logger
}

// Replay reads path line by line and submits every record on its own. Records
// that still fail, and lines that do not parse, are written verbatim to
// RerunPath(path). The input file is never modified and the rerun file is
// rewritten from scratch, so replaying the same input twice yields the same
// rerun file. An empty rerun file is removed.
func (r *Replayer) Replay(ctx context.Context, path string) (ReplayResult, error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rep := r.Progress
	if rep == nil {
		rep = progress.NoOp{}
	}
	result := ReplayResult{RerunPath: RerunPath(path)}

	in, err := os.Open(path)
	if err != nil {
		return result, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer in.Close()

	lines, err := countLines(in)
	if err != nil {
		return result, err
	}
	if _, err := in.Seek(0, io.SeekStart); err != nil {
		return result, fmt.Errorf("failed to rewind %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(result.RerunPath), ".rerun-*")
	if err != nil {
		return result, fmt.Errorf("failed to create rerun file: %w", err)
	}
	defer os.Remove(tmp.Name())
	out := bufio.NewWriter(tmp)

	task := rep.StartTask("replay", lines, filepath.Base(path))
	status := progress.StatusDone
	defer func() { rep.FinishTask(task, status) }()

	br := bufio.NewReaderSize(in, 256*1024)
	for lineNo := 1; ; lineNo++ {
		line, readErr := br.ReadBytes('\n')
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			if err := ctx.Err(); err != nil {
				status = progress.StatusCancelled
				tmp.Close()
				return result, err
			}
			if err := r.replayLine(ctx, trimmed, lineNo, out, &result, logger); err != nil {
				status = progress.StatusFailed
				tmp.Close()
				return result, err
			}
			rep.UpdateTask(task, 1, map[string]int{"succeeded": result.Succeeded, "failed": result.Failed + result.Unparseable})
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			status = progress.StatusFailed
			tmp.Close()
			return result, fmt.Errorf("failed to read %s: %w", path, readErr)
		}
	}

	if err := out.Flush(); err != nil {
		tmp.Close()
		return result, fmt.Errorf("failed to write rerun file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return result, fmt.Errorf("failed to close rerun file: %w", err)
	}
	if err := os.Rename(tmp.Name(), result.RerunPath); err != nil {
		return result, fmt.Errorf("failed to move rerun file into place: %w", err)
	}
	if err := RemoveIfEmpty(result.RerunPath); err != nil {
		return result, err
	}
	if result.Failed+result.Unparseable == 0 {
		result.RerunPath = ""
	}

	logger.Info("replay finished",
		"file", path,
		"attempted", result.Attempted,
		"succeeded", result.Succeeded,
		"failed", result.Failed,
		"unparseable", result.Unparseable,
	)
	return result, nil
}

func (r *Replayer) replayLine(ctx context.Context, line []byte, lineNo int, out *bufio.Writer, result *ReplayResult, logger *slog.Logger) error {
	record, err := batch.ParseJSONLine(line, lineNo)
	if err != nil {
		result.Unparseable++
		logger.Warn("unparseable ledger line", "line", lineNo, "error", err)
		return writeLine(out, line)
	}

	result.Attempted++
	if err := r.Submit(ctx, record); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		result.Failed++
		logger.Debug("record still failing", "line", lineNo, "id", record["id"], "error", err)
		return writeLine(out, line)
	}
	result.Succeeded++
	return nil
}

func writeLine(w *bufio.Writer, line []byte) error {
	if _, err := w.Write(line); err != nil {
		return fmt.Errorf("failed to write rerun file: %w", err)
	}
	if err := w.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write rerun file: %w", err)
	}
	return nil
}

func countLines(r io.Reader) (int, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 64*1024*1024)
	n := 0
	for sc.Scan() {
		if len(bytes.TrimSpace(sc.Bytes())) > 0 {
			n++
		}
	}
	if err := sc.Err(); err != nil {
		return n, fmt.Errorf("failed to count lines: %w", err)
	}
	return n, nil
}
