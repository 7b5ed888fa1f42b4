// Package filegdb reads FileGDB table files (.gdbtable) and their offset
// index companions (.gdbtablx). A table file holds a fixed header, a field
// descriptor section and a sequence of length-prefixed row blobs. The
// offset index maps dense row numbers to row offsets, optionally through a
// block-presence bitmap that marks which 1024-row blocks exist at all.
//
// Rows are decoded lazily. SelectRow loads a row blob into a reusable
// buffer and FieldValue walks its fields in schema order, remembering the
// furthest column decoded so sequential access never re-walks the row.
// Geometry fields are returned as raw bytes and decoded on demand by a
// GeometryConverter bound to the field's origin and scale.
//
// When the offset index is missing or ignored, row offsets are rebuilt by a
// byte-by-byte recovery scan of the table file. The scan is only run when
// the Config asks for it.
package filegdb

import "errors"

// Sentinel errors for programmatic handling. Callers can use errors.Is to
// distinguish cursor conditions (ErrRowAbsent, ErrRowOutOfRange) from
// corruption (ErrCorruptHeader, ErrCorruptSchema, ErrCorruptIndex,
// ErrCorruptRow, ErrCorruptGeometry).
var (
	ErrUnsupportedVersion = errors.New("unsupported table version")
	ErrCorruptHeader      = errors.New("corrupt header")
	ErrCorruptSchema      = errors.New("corrupt field descriptor")
	ErrCorruptIndex       = errors.New("corrupt offset index")
	ErrCorruptRow         = errors.New("corrupt row")
	ErrCorruptGeometry    = errors.New("corrupt geometry")
	ErrVarintTruncated    = errors.New("varint truncated")
	ErrVarintOverflow     = errors.New("varint overflow")
	ErrRowOutOfRange      = errors.New("row out of range")
	ErrRowAbsent          = errors.New("row absent")
	ErrNoRowSelected      = errors.New("no row selected")
	ErrFieldOutOfRange    = errors.New("field out of range")
	ErrNoGeometryField    = errors.New("table has no geometry field")
	ErrReadOnly           = errors.New("table cannot be opened for update")
	ErrRecoveryFailed     = errors.New("recovery scan found no rows")
	ErrSnapshotMismatch   = errors.New("offset snapshot does not match table")
	ErrClosed             = errors.New("table is closed")
)
