package batch

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
)

// Record is one parsed JSON object together with where it came from.
type Record struct {
	Data   map[string]any
	Raw    []byte
	Source string
	Line   int
}

// BadLine is an input line that could not be used.
type BadLine struct {
	Source string
	Line   int
	Raw    []byte
	Err    error
}

// Validator checks a decoded document.
type Validator interface {
	Validate(doc any) error
}

// JSONLines reads records from one or more line-delimited JSON files as a
// single stream. Bad lines go to OnBad and never stop the stream.
type JSONLines struct {
	Paths     []string
	Validator Validator
	OnBad     func(BadLine)
}

// All yields every good record. An error element is an I/O failure and ends
// the sequence.
func (j *JSONLines) All() iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		for _, path := range j.Paths {
			if !j.readFile(path, yield) {
				return
			}
		}
	}
}

func (j *JSONLines) readFile(path string, yield func(Record, error) bool) bool {
	f, err := os.Open(path)
	if err != nil {
		yield(Record{}, fmt.Errorf("failed to open %s: %w", path, err))
		return false
	}
	defer f.Close()

	name := filepath.Base(path)
	br := bufio.NewReaderSize(f, 256*1024)
	for lineNo := 1; ; lineNo++ {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			if !j.handleLine(name, lineNo, line, yield) {
				return false
			}
		}
		if errors.Is(err, io.EOF) {
			return true
		}
		if err != nil {
			yield(Record{}, fmt.Errorf("failed to read %s: %w", path, err))
			return false
		}
	}
}

func (j *JSONLines) handleLine(source string, lineNo int, line []byte, yield func(Record, error) bool) bool {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return true
	}
	data, err := ParseJSONLine(trimmed, lineNo)
	if err == nil && j.Validator != nil {
		if verr := j.Validator.Validate(data); verr != nil {
			err = fmt.Errorf("line %d: %w", lineNo, verr)
		}
	}
	if err != nil {
		if j.OnBad != nil {
			j.OnBad(BadLine{Source: source, Line: lineNo, Raw: bytes.Clone(trimmed), Err: err})
		}
		return true
	}
	return yield(Record{Data: data, Raw: bytes.Clone(trimmed), Source: source, Line: lineNo}, nil)
}

// ParseJSONLine decodes a line holding one JSON object.
func ParseJSONLine(line []byte, lineNo int) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	var data map[string]any
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("line %d: invalid JSON: %w", lineNo, err)
	}
	if data == nil {
		return nil, fmt.Errorf("line %d: expected a JSON object", lineNo)
	}
	if dec.More() {
		return nil, fmt.Errorf("line %d: trailing data after JSON object", lineNo)
	}
	return data, nil
}
