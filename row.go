// Row selection and field decoding.
//
// SelectRow reads a row blob into the table's buffer, which only grows and
// always carries padding zeroes after the blob so the unchecked varint
// readers stop there. FieldValue walks the blob field by field. The cursor
// remembers the next undecoded column and the running nullable bit, so
// reading columns in ascending order decodes each field once; asking for an
// earlier column rewinds to the start of the blob.
package filegdb

import (
	"errors"
	"fmt"
	"io"
	"math"
)

const (
	blobPadding    = 4
	maxBlobLength  = math.MaxInt32 - blobPadding
	largeBlobCheck = 100 * 1024 * 1024

	// Offsets recovered from a scan carry this bit for deleted rows.
	deletedBit = uint64(1) << 63
)

// cursor is the decode state of the selected row.
type cursor struct {
	row     int64 // -1 when no row is selected
	deleted bool
	length  int   // blob length
	col     int   // next column to decode
	pos     int   // byte position of column col in buf
	nullIdx int64 // nullable bits consumed before col
	err     error // sticky decode failure
}

func (c *cursor) rewind(nullableBytes int) {
	c.col = 0
	c.pos = nullableBytes
	c.nullIdx = 0
}

// Row returns the selected row, or -1.
func (t *Table) Row() int64 { return t.cur.row }

// RowDeleted reports whether the selected row is a deleted record listed by
// the recovery scan.
func (t *Table) RowDeleted() bool { return t.cur.row >= 0 && t.cur.deleted }

// locate resolves a row number to its table offset. A zero offset means
// the row is absent.
func (t *Table) locate(row int64) (off uint64, deleted bool, err error) {
	if row < 0 || row >= t.total {
		return 0, false, fmt.Errorf("%w: %d of %d", ErrRowOutOfRange, row, t.total)
	}
	switch {
	case t.locations != nil:
		v := t.locations[row]
		return v &^ deletedBit, v&deletedBit != 0, nil
	case t.index != nil:
		if row >= t.index.total {
			return 0, false, nil
		}
		off, err := t.index.offsetForRow(row)
		return off, false, err
	}
	return 0, false, nil
}

// SelectRow positions the cursor on row and loads its blob. Selecting the
// current row again is a no-op. An absent row returns ErrRowAbsent.
func (t *Table) SelectRow(row int64) error {
	if t.closed {
		return ErrClosed
	}
	if row == t.cur.row && row >= 0 {
		return nil
	}
	t.cur.row = -1

	off, deleted, err := t.locate(row)
	if err != nil {
		return fmt.Errorf("select row %d: %w", row, err)
	}
	if off == 0 {
		return fmt.Errorf("select row %d: %w", row, ErrRowAbsent)
	}
	if off > math.MaxInt64-blobPadding {
		return fmt.Errorf("select row %d: %w: offset %d", row, ErrCorruptIndex, off)
	}

	if err := readFull(t.file, t.scratch[:], int64(off)); err != nil {
		return fmt.Errorf("select row %d: %w", row, err)
	}
	n := readU32(t.scratch[:], 0)
	if deleted {
		n = uint32(-int32(n))
	}

	nullable := t.schema.nullableBytes
	if n < uint32(nullable) || n > maxBlobLength {
		return fmt.Errorf("select row %d: %w: length %d, nullable bitmask needs %d", row, ErrCorruptRow, n, nullable)
	}
	if n > t.header.MaxRowSize {
		if err := t.rowSizeExceeded(row, n); err != nil {
			return err
		}
	}
	if n > largeBlobCheck && int64(off)+4+int64(n) > t.fileSize {
		return fmt.Errorf("select row %d: %w: length %d beyond end of file", row, ErrCorruptRow, n)
	}

	length := int(n)
	if cap(t.buf) < length+blobPadding {
		t.buf = make([]byte, length+blobPadding)
	}
	t.buf = t.buf[:length+blobPadding]
	if err := readFull(t.file, t.buf[:length], int64(off)+4); err != nil {
		return fmt.Errorf("select row %d: %w", row, err)
	}
	clear(t.buf[length:])

	t.cur = cursor{row: row, deleted: deleted, length: length}
	t.cur.rewind(nullable)
	return nil
}

// rowSizeExceeded applies the RowSize policy to a blob longer than the
// header's maximum row size.
func (t *Table) rowSizeExceeded(row int64, n uint32) error {
	switch t.config.RowSize {
	case RowSizeFail:
		return fmt.Errorf("select row %d: %w: length %d exceeds header maximum %d", row, ErrCorruptRow, n, t.header.MaxRowSize)
	case RowSizeRepair:
		t.log.Debugf("row %d length %d exceeds header maximum %d", row, n, t.header.MaxRowSize)
		if !t.warnedRowSize {
			t.warnedRowSize = true
			if t.update {
				t.warnf("maximum row size in header is too small, it will be repaired")
				t.dirtyHeader = true
				t.dirtyIndices = true
			} else {
				t.warnf("maximum row size in header is too small, open in update mode and read every row to repair it")
			}
		}
	}
	t.header.MaxRowSize = n
	return nil
}

func isAbsent(err error) bool { return errors.Is(err, ErrRowAbsent) }

// NextNonEmptyRow selects the first present row at or after start and
// returns its number. Blocks the offset index marks absent are skipped
// without probing their rows. It returns io.EOF when no row is left.
func (t *Table) NextNonEmptyRow(start int64) (int64, error) {
	if start < 0 {
		return -1, fmt.Errorf("next row %d: %w", start, ErrRowOutOfRange)
	}
	for row := start; row < t.total; {
		if t.index != nil && t.index.blockMap != nil && row%rowsPerBlock == 0 && !t.index.blockPresent(row) {
			row = t.index.nextPresentBlock(row)
			continue
		}
		err := t.SelectRow(row)
		if err == nil {
			return row, nil
		}
		if !isAbsent(err) {
			return -1, err
		}
		row++
	}
	return -1, io.EOF
}

// FieldValue decodes column col of the selected row. A null field returns
// a KindNull value; the object id field returns the row number plus one.
// Byte-backed values borrow the row buffer until the next SelectRow.
//
// A decode failure is sticky: later calls for the same row return it.
func (t *Table) FieldValue(col int) (Value, error) {
	if t.closed {
		return Value{}, ErrClosed
	}
	if t.cur.row < 0 {
		return Value{}, ErrNoRowSelected
	}
	fields := t.schema.fields
	if col < 0 || col >= len(fields) {
		return Value{}, fmt.Errorf("%w: %d of %d", ErrFieldOutOfRange, col, len(fields))
	}
	if t.cur.err != nil {
		return Value{}, t.cur.err
	}

	c := &t.cur
	if col < c.col {
		c.rewind(t.schema.nullableBytes)
	}
	for ; c.col < col; c.col++ {
		if t.nextIsNull(fields[c.col]) {
			continue
		}
		if err := t.skipField(fields[c.col]); err != nil {
			return Value{}, t.fail(c.col, err)
		}
	}

	f := fields[col]
	c.col++
	if t.nextIsNull(f) {
		return Value{Kind: KindNull}, nil
	}
	v, err := t.decodeField(f)
	if err != nil {
		return Value{}, t.fail(col, err)
	}
	if c.col == len(fields) && c.pos < c.length {
		t.log.Debugf("row %d: %d trailing bytes after last field", c.row, c.length-c.pos)
	}
	return v, nil
}

func (t *Table) fail(col int, err error) error {
	t.cur.err = fmt.Errorf("row %d field %q: %w", t.cur.row, t.schema.fields[col].Name, err)
	return t.cur.err
}

// nextIsNull consumes the nullable bit of f, if it has one.
func (t *Table) nextIsNull(f *Field) bool {
	if !f.Nullable {
		return false
	}
	null := testBit(t.buf[:t.schema.nullableBytes], t.cur.nullIdx)
	t.cur.nullIdx++
	return null
}

// lengthPrefixed reads a varuint length and returns the bytes it covers.
// The slice has its capacity capped so appends cannot clobber the row.
func (t *Table) lengthPrefixed() ([]byte, error) {
	c := &t.cur
	n, pos, err := readVarUint[uint32](t.buf, c.pos, c.length, checkVerbose)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptRow, err)
	}
	if int64(n) > int64(c.length-pos) {
		return nil, fmt.Errorf("%w: value of %d bytes, %d left", ErrCorruptRow, n, c.length-pos)
	}
	end := pos + int(n)
	c.pos = end
	return t.buf[pos:end:end], nil
}

func (t *Table) fixed(n int) ([]byte, error) {
	c := &t.cur
	if n > c.length-c.pos {
		return nil, fmt.Errorf("%w: value of %d bytes, %d left", ErrCorruptRow, n, c.length-c.pos)
	}
	b := t.buf[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

func (t *Table) skipField(f *Field) error {
	switch n := f.fixedSize(); {
	case n == 0:
		return nil
	case n > 0:
		_, err := t.fixed(n)
		return err
	}
	_, err := t.lengthPrefixed()
	return err
}

func (t *Table) decodeField(f *Field) (Value, error) {
	kind := kindOf(f)
	switch f.Type {
	case FieldObjectID:
		return Value{Kind: KindObjectID, Int: t.cur.row + 1}, nil

	case FieldString, FieldXML:
		b, err := t.lengthPrefixed()
		if err != nil {
			return Value{}, err
		}
		if f.Type == FieldString && !t.schema.utf8 {
			b = []byte(decodeUTF16(b))
		}
		return Value{Kind: kind, Bytes: b}, nil

	case FieldBinary, FieldGeometry:
		b, err := t.lengthPrefixed()
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: kind, Bytes: b}, nil

	case FieldRaster:
		if f.Raster != nil && f.Raster.Kind == RasterManaged {
			b, err := t.fixed(4)
			if err != nil {
				return Value{}, err
			}
			return Value{Kind: kind, Int: int64(readI32(b, 0))}, nil
		}
		b, err := t.lengthPrefixed()
		if err != nil {
			return Value{}, err
		}
		if f.Raster != nil && f.Raster.Kind == RasterExternal {
			b = []byte(decodeUTF16(b))
		}
		return Value{Kind: kind, Bytes: b}, nil
	}

	b, err := t.fixed(f.fixedSize())
	if err != nil {
		return Value{}, err
	}
	switch f.Type {
	case FieldInt16:
		return Value{Kind: kind, Int: int64(readI16(b, 0))}, nil
	case FieldInt32:
		return Value{Kind: kind, Int: int64(readI32(b, 0))}, nil
	case FieldInt64:
		return Value{Kind: kind, Int: readI64(b, 0)}, nil
	case FieldFloat32:
		return Value{Kind: kind, Float: float64(readF32(b, 0))}, nil
	case FieldFloat64, FieldDateTime, FieldDate, FieldTime:
		return Value{Kind: kind, Float: readF64(b, 0)}, nil
	case FieldDateTimeOffset:
		offset := readI16(b, 8)
		if offset < -14*60 || offset > 14*60 {
			return Value{}, fmt.Errorf("%w: utc offset %d minutes", ErrCorruptRow, offset)
		}
		return Value{Kind: kind, Float: readF64(b, 0), Offset: offset}, nil
	case FieldGUID, FieldGlobalID:
		return Value{Kind: kind, GUID: guidFromDisk(b)}, nil
	}
	return Value{}, fmt.Errorf("%w: field type %v", ErrCorruptSchema, f.Type)
}
