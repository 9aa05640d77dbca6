// Package marc frames ISO 2709 binary record streams. The reader only finds
// record boundaries and checks the structural pieces a remote importer depends
// on; preprocessors decode records to rewrite individual fields.
package marc

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
)

const (
	// LeaderLen is the fixed length of a record leader.
	LeaderLen = 24
	// RecordTerminator ends every record.
	RecordTerminator = 0x1D
	// FieldTerminator ends the directory and every variable field.
	FieldTerminator = 0x1E

	directoryEntryLen = 12
)

var (
	// ErrCorruptStream marks framing damage: a bad length field or a missing
	// terminator. Nothing after it can be trusted, so it is fatal.
	ErrCorruptStream = errors.New("corrupt record stream")
	// ErrCorruptRecord marks a correctly framed record whose contents are
	// invalid. The stream can continue past it.
	ErrCorruptRecord = errors.New("corrupt record")
)

// RecordError carries the raw bytes of a skippable corrupt record.
type RecordError struct {
	Index  int
	Offset int64
	Raw    []byte
	Reason string
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record %d at offset %d: %s", e.Index, e.Offset, e.Reason)
}

func (e *RecordError) Unwrap() error {
	return ErrCorruptRecord
}

// StreamError describes fatal framing damage.
type StreamError struct {
	Offset int64
	Reason string
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("offset %d: %s", e.Offset, e.Reason)
}

func (e *StreamError) Unwrap() error {
	return ErrCorruptStream
}

// declaredLength parses the five digit record length at the start of a leader.
func declaredLength(leader []byte) (int, bool) {
	if len(leader) < 5 {
		return 0, false
	}
	n, err := strconv.Atoi(string(leader[:5]))
	if err != nil || n <= LeaderLen {
		return 0, false
	}
	return n, true
}

// validate checks the leader base address and directory of a framed record.
func validate(raw []byte) string {
	base, err := strconv.Atoi(string(raw[12:17]))
	if err != nil {
		return "invalid base address of data"
	}
	if base <= LeaderLen || base > len(raw)-1 {
		return fmt.Sprintf("base address %d outside record", base)
	}
	if raw[base-1] != FieldTerminator {
		return "directory is not terminated"
	}
	dirLen := base - 1 - LeaderLen
	if dirLen%directoryEntryLen != 0 {
		return fmt.Sprintf("directory length %d is not a multiple of %d", dirLen, directoryEntryLen)
	}
	dataLen := len(raw) - base
	for off := LeaderLen; off < base-1; off += directoryEntryLen {
		entry := raw[off : off+directoryEntryLen]
		fieldLen, err1 := strconv.Atoi(string(entry[3:7]))
		start, err2 := strconv.Atoi(string(entry[7:12]))
		if err1 != nil || err2 != nil {
			return fmt.Sprintf("malformed directory entry %q", entry)
		}
		if start+fieldLen > dataLen {
			return fmt.Sprintf("field %s extends past end of record", entry[:3])
		}
	}
	return ""
}

// Encode frames a record from a leader and its fields, filling in the record
// length and base address. Each field value must not contain terminators.
// It is the inverse of Reader.Next for well-formed input.
func Encode(leader string, fields []Field) ([]byte, error) {
	if len(leader) != LeaderLen {
		return nil, fmt.Errorf("leader must be %d bytes, got %d", LeaderLen, len(leader))
	}
	var dir, data bytes.Buffer
	for _, f := range fields {
		if len(f.Tag) != 3 {
			return nil, fmt.Errorf("invalid tag %q", f.Tag)
		}
		value := append([]byte(f.Value), FieldTerminator)
		fmt.Fprintf(&dir, "%s%04d%05d", f.Tag, len(value), data.Len())
		data.Write(value)
	}
	dir.WriteByte(FieldTerminator)

	base := LeaderLen + dir.Len()
	total := base + data.Len() + 1
	if total > 99999 {
		return nil, fmt.Errorf("record length %d exceeds 99999", total)
	}

	out := make([]byte, 0, total)
	out = append(out, fmt.Sprintf("%05d", total)...)
	out = append(out, leader[5:12]...)
	out = append(out, fmt.Sprintf("%05d", base)...)
	out = append(out, leader[17:]...)
	out = append(out, dir.Bytes()...)
	out = append(out, data.Bytes()...)
	out = append(out, RecordTerminator)
	return out, nil
}

// Field is a variable field of a record. Data fields carry their indicators
// and subfield delimiters inside Value.
type Field struct {
	Tag   string
	Value string
}
