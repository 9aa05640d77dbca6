package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/folio-import/internal/api"
	"github.com/jackzampolin/folio-import/internal/config"
	"github.com/jackzampolin/folio-import/internal/events"
	"github.com/jackzampolin/folio-import/internal/folio"
	"github.com/jackzampolin/folio-import/internal/home"
	"github.com/jackzampolin/folio-import/internal/progress"
	"github.com/jackzampolin/folio-import/internal/report"
)

// progressInterval is the minimum time between two progress lines of a task.
const progressInterval = 10 * time.Second

// session is the state shared by the commands that talk to the gateway.
type session struct {
	mgr     *config.Manager
	cfg     config.Config
	home    *home.Dir
	format  report.Format
	logger  *slog.Logger
	started time.Time
	out     io.Writer
}

// newSession loads and validates configuration, then sets up logging and
// the reports directory. cfgHook lets a command apply its flags before
// validation.
func newSession(cmd *cobra.Command, cfgHook func(*config.Config)) (*session, error) {
	format, err := report.ParseFormat(outputFormat)
	if err != nil {
		return nil, err
	}

	mgr, err := config.NewManager(cfgFile)
	if err != nil {
		return nil, err
	}
	cfg := *mgr.Get()
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if cfgHook != nil {
		cfgHook(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := newLogger(cfg, os.Stderr)
	if err != nil {
		return nil, err
	}
	mgr.SetLogger(logger)
	if file := mgr.File(); file != "" {
		logger.Debug("loaded config", "file", file)
	}

	h, err := home.New(homeDir)
	if err != nil {
		return nil, err
	}
	h = h.WithReports(reportsDir)
	if err := h.EnsureExists(); err != nil {
		return nil, err
	}

	return &session{
		mgr:     mgr,
		cfg:     cfg,
		home:    h,
		format:  format,
		logger:  logger,
		started: time.Now(),
		out:     cmd.OutOrStdout(),
	}, nil
}

// newLogger builds the process logger from log_level and log_format.
func newLogger(cfg config.Config, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// connect logs in to the gateway. With lookupUser the id of the configured
// user is resolved for job ownership.
func (s *session) connect(ctx context.Context, lookupUser bool) (*folio.Remote, error) {
	client := api.NewClient(s.cfg.ClientConfig(s.logger))
	if err := client.Login(ctx); err != nil {
		return nil, fmt.Errorf("failed to log in to %s: %w", s.cfg.GatewayURL, err)
	}
	remote := folio.NewRemote(client, s.logger)
	if lookupUser && s.cfg.Username != "" {
		id, err := remote.LookupUserID(ctx, config.ResolveEnvVars(s.cfg.Username))
		if err != nil {
			return nil, err
		}
		remote.SetUserID(id)
	}
	s.logger.Info("connected", "gateway", s.cfg.GatewayURL, "tenant", client.Tenant())
	return remote, nil
}

// artifact returns a timestamped file in the reports directory.
func (s *session) artifact(prefix, ext string) string {
	return s.home.Artifact(prefix, ext, s.started)
}

// inReports resolves a relative file name against the reports directory.
func (s *session) inReports(name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(s.home.ReportsPath(), name)
}

// openEvents routes data issues to a timestamped log file and the logger.
// The returned close func removes the file when nothing was written.
func (s *session) openEvents() (events.Sink, func(), error) {
	file, err := events.NewFileSink(s.artifact("data_issues", ".log"))
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		n := file.Count()
		if err := file.Close(); err != nil {
			s.logger.Warn("failed to close data issues log", "error", err)
			return
		}
		if n > 0 {
			s.logger.Warn("data issues recorded", "file", file.Path(), "count", n)
		}
	}
	return events.Multi{file, events.LogSink{Logger: s.logger}}, closeFn, nil
}

// reporter returns the progress reporter selected by --no-progress.
func (s *session) reporter() progress.Reporter {
	if noProgress {
		return progress.NoOp{}
	}
	return progress.NewLog(s.logger, progressInterval)
}

// write prints a command result in a structured format, or calls table for
// the default output.
func (s *session) write(data any, table func(io.Writer) error) error {
	if s.format.Structured() {
		return report.Write(s.out, s.format, data)
	}
	return table(s.out)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
