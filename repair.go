// Header self-healing.
//
// Some writers grew rows without raising the maximum row size hint in the
// primary header. Readers that size their row buffer from the hint then
// fail on those rows. When a Table opened in update mode meets such a row
// under RowSizeRepair, SelectRow raises the in-memory hint and marks the
// header dirty; Sync writes the hint back in place. Attribute and spatial
// indexes built by such software may be wrong too, which IndicesDirty
// reports so the caller can rebuild them.
//
// Only the four hint bytes are patched. The rest of the header is left as
// found.
package filegdb

import (
	"encoding/binary"
	"fmt"
)

// maxRowSize patches the maximum row size hint at its fixed offset.
func (t *Table) maxRowSize(n uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], n)
	_, err := t.file.WriteAt(b[:], offMaxRowSize)
	return err
}

// Sync writes a repaired header back to the table file. It is a no-op when
// nothing needs repair and fails with ErrReadOnly outside update mode.
func (t *Table) Sync() error {
	if t.closed {
		return ErrClosed
	}
	if !t.update {
		return ErrReadOnly
	}
	if !t.dirtyHeader {
		return nil
	}
	if err := t.maxRowSize(t.header.MaxRowSize); err != nil {
		return fmt.Errorf("sync %s: %w", t.name, err)
	}
	if err := t.file.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", t.name, err)
	}
	t.dirtyHeader = false
	return nil
}
