package home

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jackzampolin/folio-import/internal/ledger"
)

const (
	// DefaultDirName is the default name for the folio-import home directory.
	DefaultDirName = ".folio-import"

	// ReportsDirName is the subdirectory for run artifacts: failure ledgers
	// and data issue logs.
	ReportsDirName = "reports"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"
)

// Dir represents the folio-import home directory structure.
type Dir struct {
	path    string
	reports string
}

// New creates a new Dir with the given path.
// If path is empty, uses the default (~/.folio-import).
func New(path string) (*Dir, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, DefaultDirName)
	}

	return &Dir{path: path, reports: filepath.Join(path, ReportsDirName)}, nil
}

// WithReports returns a copy of d that writes run artifacts to dir instead
// of the home reports directory. An empty dir keeps the default.
func (d *Dir) WithReports(dir string) *Dir {
	if dir == "" {
		return d
	}
	cp := *d
	cp.reports = dir
	return &cp
}

// Path returns the root path of the home directory.
func (d *Dir) Path() string {
	return d.path
}

// ReportsPath returns the directory run artifacts are written to.
func (d *Dir) ReportsPath() string {
	return d.reports
}

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.path, ConfigFileName)
}

// EnsureExists creates the home directory and the reports directory if they
// don't exist.
func (d *Dir) EnsureExists() error {
	if err := os.MkdirAll(d.path, 0o755); err != nil {
		return fmt.Errorf("failed to create home directory: %w", err)
	}
	if err := os.MkdirAll(d.reports, 0o755); err != nil {
		return fmt.Errorf("failed to create reports directory: %w", err)
	}
	return nil
}

// Exists returns true if the home directory exists.
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.path)
	return err == nil
}

// ConfigExists returns true if the config file exists in the home directory.
func (d *Dir) ConfigExists() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}

// Artifact returns a timestamped file in the reports directory, e.g.
// reports/failed_batches_20240102150405.mrc.
func (d *Dir) Artifact(prefix, ext string, t time.Time) string {
	return ledger.Timestamped(d.reports, prefix, ext, t)
}
