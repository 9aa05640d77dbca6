// Package batch turns record streams into bounded batches.
package batch

import (
	"fmt"
	"iter"
	"slices"

	"github.com/google/uuid"
)

// Chunks groups seq into slices of size elements. The final slice holds the
// remainder; an empty seq yields nothing. size must be positive.
func Chunks[T any](seq iter.Seq[T], size int) iter.Seq[[]T] {
	if size < 1 {
		panic(fmt.Sprintf("batch: size must be positive, got %d", size))
	}
	return func(yield func([]T) bool) {
		buf := make([]T, 0, size)
		for item := range seq {
			buf = append(buf, item)
			if len(buf) == size {
				if !yield(buf) {
					return
				}
				buf = make([]T, 0, size)
			}
		}
		if len(buf) > 0 {
			yield(buf)
		}
	}
}

// Of is Chunks over a slice.
func Of[T any](items []T, size int) iter.Seq[[]T] {
	return Chunks(slices.Values(items), size)
}

// Batch is an immutable group of encoded records with its position in the
// stream.
type Batch struct {
	ID      string
	Records [][]byte
	// Counter is the number of records submitted up to and including this
	// batch.
	Counter int
	Last    bool
}

// NewBatch stamps records with a fresh batch id.
func NewBatch(records [][]byte, counter int, last bool) Batch {
	return Batch{
		ID:      uuid.NewString(),
		Records: records,
		Counter: counter,
		Last:    last,
	}
}

// Len returns the number of records in the batch.
func (b Batch) Len() int { return len(b.Records) }
