// Package ledger keeps the side files of an import run: malformed input,
// batches that could not be submitted and records queued for another try.
package ledger

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Channel names one ledger file.
type Channel string

const (
	BadRecords    Channel = "bad_records"
	FailedBatches Channel = "failed_batches"
	Rerun         Channel = "failed_rerun"
)

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("ledger is closed")

// Paths selects the file of each channel. Empty paths disable a channel.
type Paths struct {
	BadRecords    string
	FailedBatches string
	Rerun         string
	// Truncate starts every channel file empty. Replays set it so their output
	// does not depend on earlier runs.
	Truncate bool
}

type channelFile struct {
	path    string
	file    *os.File
	w       *bufio.Writer
	entries int
}

// Ledger holds the channel files open in append mode for the whole run.
type Ledger struct {
	mu       sync.Mutex
	channels map[Channel]*channelFile
	closed   bool
}

// Open opens every configured channel for appending, creating missing files.
// With Truncate set the files start empty instead.
func Open(paths Paths) (*Ledger, error) {
	l := &Ledger{channels: make(map[Channel]*channelFile)}
	flag := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if paths.Truncate {
		flag = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	}
	for ch, path := range map[Channel]string{
		BadRecords:    paths.BadRecords,
		FailedBatches: paths.FailedBatches,
		Rerun:         paths.Rerun,
	} {
		if path == "" {
			continue
		}
		f, err := os.OpenFile(path, flag, 0o644)
		if err != nil {
			l.Close()
			return nil, fmt.Errorf("failed to open %s ledger: %w", ch, err)
		}
		l.channels[ch] = &channelFile{path: path, file: f, w: bufio.NewWriter(f)}
	}
	return l, nil
}

// Write appends raw bytes to ch verbatim. Binary records are written this way.
func (l *Ledger) Write(ch Channel, raw []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	cf, err := l.channel(ch)
	if err != nil {
		return err
	}
	if _, err := cf.w.Write(raw); err != nil {
		return fmt.Errorf("failed to write %s ledger: %w", ch, err)
	}
	cf.entries++
	return nil
}

// WriteLine appends line and a newline to ch.
func (l *Ledger) WriteLine(ch Channel, line []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	cf, err := l.channel(ch)
	if err != nil {
		return err
	}
	if _, err := cf.w.Write(line); err != nil {
		return fmt.Errorf("failed to write %s ledger: %w", ch, err)
	}
	if err := cf.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write %s ledger: %w", ch, err)
	}
	cf.entries++
	return nil
}

// WriteJSON appends v as one JSON line to ch.
func (l *Ledger) WriteJSON(ch Channel, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s entry: %w", ch, err)
	}
	return l.WriteLine(ch, data)
}

func (l *Ledger) channel(ch Channel) (*channelFile, error) {
	if l.closed {
		return nil, ErrClosed
	}
	cf, ok := l.channels[ch]
	if !ok {
		return nil, fmt.Errorf("ledger channel %s is not configured", ch)
	}
	return cf, nil
}

// Enabled reports whether ch has a file.
func (l *Ledger) Enabled(ch Channel) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.channels[ch]
	return ok
}

// Path returns the file of ch, or "" when the channel is disabled.
func (l *Ledger) Path(ch Channel) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cf, ok := l.channels[ch]; ok {
		return cf.path
	}
	return ""
}

// Entries returns the number of entries written to ch during this run.
func (l *Ledger) Entries(ch Channel) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cf, ok := l.channels[ch]; ok {
		return cf.entries
	}
	return 0
}

// Flush writes buffered entries to disk.
func (l *Ledger) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var errs []error
	for ch, cf := range l.channels {
		if err := cf.w.Flush(); err != nil {
			errs = append(errs, fmt.Errorf("failed to flush %s ledger: %w", ch, err))
		}
	}
	return errors.Join(errs...)
}

// Close flushes and closes every channel, then deletes channel files that
// are empty. It is safe to call more than once.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true

	var errs []error
	for ch, cf := range l.channels {
		if err := cf.w.Flush(); err != nil {
			errs = append(errs, fmt.Errorf("failed to flush %s ledger: %w", ch, err))
		}
		if err := cf.file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close %s ledger: %w", ch, err))
		}
		if err := RemoveIfEmpty(cf.path); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RemoveIfEmpty deletes path when it exists and holds zero bytes.
func RemoveIfEmpty(path string) error {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.Size() > 0 {
		return nil
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to remove empty %s: %w", path, err)
	}
	return nil
}

// Timestamped returns dir/prefix_YYYYMMDDHHMMSS.ext in UTC.
func Timestamped(dir, prefix, ext string, t time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s%s", prefix, t.UTC().Format("20060102150405"), ext))
}

// RerunPath returns the file that replaying path writes still-failing
// records to: the same name with "_rerun" before the extension.
func RerunPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "_rerun" + ext
}

// AppendJobIDs appends one id per line to path.
func AppendJobIDs(path string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open job ids file: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, id := range ids {
		fmt.Fprintln(w, id)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to write job ids: %w", err)
	}
	return f.Close()
}
