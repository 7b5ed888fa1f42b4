// Row enumeration in a single pass.
//
// Rows walks the row slots in order through NextNonEmptyRow, so absent
// blocks of a sparse offset index are skipped without probing their rows
// and recovered tables skip the empty slots of deleted rows. Each yielded
// row is already selected: the caller reads its fields with FieldValue
// before the iteration advances. Callers consume results lazily via range
// and can break early to stop the walk.
package filegdb

import (
	"errors"
	"io"
	"iter"
)

// Rows yields the number of every present row. A read error is yielded
// once and ends the iteration.
func (t *Table) Rows() iter.Seq2[int64, error] {
	return func(yield func(int64, error) bool) {
		if t.closed {
			yield(-1, ErrClosed)
			return
		}
		for row := int64(0); ; row++ {
			next, err := t.NextNonEmptyRow(row)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(-1, err)
				return
			}
			if !yield(next, nil) {
				return
			}
			row = next
		}
	}
}
