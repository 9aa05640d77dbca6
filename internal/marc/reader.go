package marc

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

// Reader yields raw records one at a time.
type Reader struct {
	r      *bufio.Reader
	offset int64
	index  int
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns the next framed record. It returns io.EOF after the last
// record, a *RecordError (ErrCorruptRecord) for a skippable record and a
// *StreamError (ErrCorruptStream) when framing is damaged.
func (rd *Reader) Next() ([]byte, error) {
	raw, err := rd.frame()
	if err != nil {
		return nil, err
	}
	rd.index++
	if reason := validate(raw); reason != "" {
		return nil, rd.Reject(raw, reason)
	}
	return raw, nil
}

// Reject describes raw, the record Next returned last, as skippable. Callers
// use it for records they refuse after reading.
func (rd *Reader) Reject(raw []byte, reason string) *RecordError {
	return &RecordError{Index: rd.index, Offset: rd.offset - int64(len(raw)), Raw: raw, Reason: reason}
}

// frame reads exactly one record by its declared length.
func (rd *Reader) frame() ([]byte, error) {
	leader := make([]byte, LeaderLen)
	n, err := io.ReadFull(rd.r, leader)
	if errors.Is(err, io.EOF) {
		return nil, io.EOF
	}
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, &StreamError{Offset: rd.offset, Reason: fmt.Sprintf("truncated leader (%d bytes)", n)}
		}
		return nil, fmt.Errorf("failed to read leader: %w", err)
	}

	length, ok := declaredLength(leader)
	if !ok {
		return nil, &StreamError{Offset: rd.offset, Reason: fmt.Sprintf("invalid record length %q", leader[:5])}
	}

	raw := make([]byte, length)
	copy(raw, leader)
	if _, err := io.ReadFull(rd.r, raw[LeaderLen:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, &StreamError{Offset: rd.offset, Reason: fmt.Sprintf("declared length %d exceeds remaining bytes", length)}
		}
		return nil, fmt.Errorf("failed to read record body: %w", err)
	}
	if raw[length-1] != RecordTerminator {
		return nil, &StreamError{Offset: rd.offset, Reason: "record does not end with terminator 0x1D"}
	}

	rd.offset += int64(length)
	return raw, nil
}

// CountRecords counts record terminators in r.
func CountRecords(r io.Reader) (int, error) {
	buf := make([]byte, 64*1024)
	count := 0
	for {
		n, err := r.Read(buf)
		for _, b := range buf[:n] {
			if b == RecordTerminator {
				count++
			}
		}
		if errors.Is(err, io.EOF) {
			return count, nil
		}
		if err != nil {
			return count, fmt.Errorf("failed to count records: %w", err)
		}
	}
}
