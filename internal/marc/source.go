package marc

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Source is a record stream to import: either a file on disk or a part held
// in memory. The set of implementations is closed.
type Source interface {
	// Name is the label used in logs and job file names.
	Name() string
	// Open returns a fresh reader positioned at the first record.
	Open() (io.ReadCloser, error)
	// Size returns the byte length of the stream.
	Size() (int64, error)

	source()
}

// PhysicalFile is a record file on disk.
type PhysicalFile struct {
	Path string
}

// Name returns the base name of the file.
func (f PhysicalFile) Name() string { return filepath.Base(f.Path) }

// Open opens the file.
func (f PhysicalFile) Open() (io.ReadCloser, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", f.Path, err)
	}
	return file, nil
}

// Size stats the file.
func (f PhysicalFile) Size() (int64, error) {
	info, err := os.Stat(f.Path)
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", f.Path, err)
	}
	return info.Size(), nil
}

func (PhysicalFile) source() {}

// InMemoryBatch is a named byte slice, typically one part of a split file.
type InMemoryBatch struct {
	Data  []byte
	Label string
}

// Name returns the label.
func (b InMemoryBatch) Name() string { return b.Label }

// Open returns a reader over the data.
func (b InMemoryBatch) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b.Data)), nil
}

// Size returns the data length.
func (b InMemoryBatch) Size() (int64, error) { return int64(len(b.Data)), nil }

func (InMemoryBatch) source() {}

// Count counts the records of src by terminator.
func Count(src Source) (int, error) {
	rc, err := src.Open()
	if err != nil {
		return 0, err
	}
	defer rc.Close()
	return CountRecords(rc)
}
