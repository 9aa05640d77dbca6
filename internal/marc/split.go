package marc

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"iter"
)

// Part is one slice of a split file.
type Part struct {
	Number  int
	Records int
	Data    []byte
}

// Split yields consecutive parts of at most size records each. Parts are
// framed copies of the input: concatenating every Part.Data reproduces the
// stream. Corrupt records are carried through untouched; only framing damage
// stops the sequence, yielding a non-nil error as its final element.
func Split(r io.Reader, size int) iter.Seq2[Part, error] {
	return func(yield func(Part, error) bool) {
		if size < 1 {
			yield(Part{}, fmt.Errorf("split size must be positive, got %d", size))
			return
		}
		rd := NewReader(r)
		var buf bytes.Buffer
		count, number := 0, 0
		for {
			raw, err := rd.frame()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				yield(Part{}, err)
				return
			}
			buf.Write(raw)
			count++
			if count == size {
				number++
				if !yield(Part{Number: number, Records: count, Data: bytes.Clone(buf.Bytes())}, nil) {
					return
				}
				buf.Reset()
				count = 0
			}
		}
		if count > 0 {
			number++
			yield(Part{Number: number, Records: count, Data: bytes.Clone(buf.Bytes())}, nil)
		}
	}
}

// PartName labels part n of total parts of the named file, zero padded to the
// width of total (minimum two digits).
func PartName(name string, n, total int) string {
	width := len(fmt.Sprint(total))
	if width < 2 {
		width = 2
	}
	return fmt.Sprintf("%s (Part %0*d)", name, width, n)
}
