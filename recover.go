// Row offset recovery.
//
// Without an offset index the only way to find rows is to look for them.
// ScanLocations walks the table file one byte at a time from the end of
// the field descriptor section. At each offset it reads a tentative length
// prefix and checks whether a row of that length, decoded against the
// schema, would consume exactly that many bytes. Fixed-width schemas are
// checked from the nullable bitmask alone; schemas with variable-width
// fields read the whole candidate blob and walk its length prefixes,
// rejecting strings that are not valid UTF-8. A match moves the scan past
// the row; a miss moves it one byte.
//
// A length with its top bit set is the negated length of a deleted row.
// Deleted rows are listed with deletedBit set when Config.ReportDeleted is
// on, and otherwise take an empty slot so row numbers stay dense.
//
// The scan is deterministic: the same bytes always yield the same table.
package filegdb

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"
)

// Locations is the offset table produced by a recovery scan.
type Locations struct {
	Offsets       []uint64 // one per row; 0 for a skipped deleted row
	Invalid       int64    // deleted rows recorded as 0
	DeletedListed bool     // some offsets carry deletedBit
}

// Valid returns the number of rows that are neither skipped nor deleted.
func (l *Locations) Valid() int64 {
	n := int64(len(l.Offsets)) - l.Invalid
	if l.DeletedListed {
		for _, off := range l.Offsets {
			if off&deletedBit != 0 {
				n--
			}
		}
	}
	return n
}

// Fingerprint returns a digest of the offset table, or "" for an unknown
// algorithm. Equal tables have equal fingerprints.
func (l *Locations) Fingerprint(alg int) string {
	sum, _ := fingerprint(l.Offsets, alg)
	return sum
}

func (l *Locations) bytes() []byte {
	b := make([]byte, 0, 8*len(l.Offsets))
	for _, off := range l.Offsets {
		b = binary.LittleEndian.AppendUint64(b, off)
	}
	return b
}

// scanner holds the state of one recovery scan.
type scanner struct {
	t     *Table
	w     *window
	limit int64 // largest plausible blob length
	buf   []byte
	hdr   [4]byte
}

// ScanLocations rebuilds the row offset table by scanning the table file.
// It does not install the result; Open does that when no index is used.
func (t *Table) ScanLocations() (*Locations, error) {
	if t.closed {
		return nil, ErrClosed
	}
	s := &scanner{
		t:     t,
		w:     newWindow(t.file, t.fileSize, t.config.ReadBuffer),
		limit: t.fileSize,
	}
	if v := t.header.ValidRecordCount; v > 0 {
		s.limit = 10 * (t.fileSize / v)
	}

	off, err := s.start()
	if err != nil {
		return nil, err
	}

	l := &Locations{}
	for off < t.fileSize {
		n, deleted, ok := s.likelyRow(off)
		if !ok {
			off++
			continue
		}
		switch {
		case !deleted:
			l.Offsets = append(l.Offsets, uint64(off))
		case t.config.ReportDeleted:
			l.DeletedListed = true
			l.Offsets = append(l.Offsets, uint64(off)|deletedBit)
		default:
			l.Invalid++
			l.Offsets = append(l.Offsets, 0)
		}
		off += n
	}

	if len(l.Offsets) == 0 {
		return nil, ErrRecoveryFailed
	}
	t.log.Debugf("recovery scan found %d rows, %d deleted skipped", len(l.Offsets), l.Invalid)
	return l, nil
}

// start returns the first offset worth probing. When the descriptor
// section was rewritten elsewhere, the stale copy at the header end is
// usually still there marked deleted and the rows follow it.
func (s *scanner) start() (int64, error) {
	hdr := s.t.header
	if hdr.FieldDescOffset == HeaderSize {
		return HeaderSize + int64(s.t.schema.descLength), nil
	}

	var b [secondaryHeaderSize]byte
	if err := readFull(s.w, b[:], HeaderSize); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrRecoveryFailed, err)
	}
	n := readI32(b[:], 0)
	version := readI32(b[:], 4)
	if n < 0 && n > -1024*1024 && (version == 3 || version == 4) &&
		GeometryType(b[8]).valid() && b[9] == 3 && b[10] == 0 && b[11] == 0 {
		return HeaderSize + int64(-n), nil
	}
	return HeaderSize, nil
}

func (s *scanner) plausible(n uint32, off int64) bool {
	return n >= uint32(s.t.schema.nullableBytes) &&
		int64(n) <= s.t.fileSize-off &&
		n <= maxBlobLength &&
		int64(n) <= s.limit
}

// likelyRow reports whether a row starts at off, returning the bytes it
// spans including the length prefix.
func (s *scanner) likelyRow(off int64) (span int64, deleted bool, ok bool) {
	if readFull(s.w, s.hdr[:], off) != nil {
		return 0, false, false
	}
	n := readU32(s.hdr[:], 0)
	if !s.plausible(n, off) {
		if n>>31 == 0 || n == 0x80000000 {
			return 0, false, false
		}
		n = uint32(-int32(n))
		if !s.plausible(n, off) {
			return 0, false, false
		}
		deleted = true
	}

	length := int(n)
	if cap(s.buf) < length+blobPadding {
		s.buf = make([]byte, length+blobPadding)
	}
	s.buf = s.buf[:length+blobPadding]
	clear(s.buf[length:])

	nullable := s.t.schema.nullableBytes
	if readFull(s.w, s.buf[:nullable], off+4) != nil {
		return 0, false, false
	}

	required, exact := s.minimum(length)
	if required < 0 {
		return 0, false, false
	}
	if !exact {
		if readFull(s.w, s.buf[nullable:length], off+4+int64(nullable)) != nil {
			return 0, false, false
		}
		if required = s.walk(length); required < 0 {
			return 0, false, false
		}
	}
	return 4 + int64(required), deleted, required == length
}

// minimum computes the smallest blob the non-null fields could occupy,
// counting one byte per length prefix. exact is false when a variable
// width field is present. It returns -1 once the minimum passes length.
func (s *scanner) minimum(length int) (required int, exact bool) {
	required = s.t.schema.nullableBytes
	exact = true
	var bit int64
	for _, f := range s.t.schema.fields {
		if f.Nullable {
			null := testBit(s.buf, bit)
			bit++
			if null {
				continue
			}
		}
		switch n := f.fixedSize(); {
		case n < 0:
			required++
			exact = false
		default:
			required += n
		}
		if required > length {
			return -1, exact
		}
	}
	return required, exact
}

// walk measures the blob exactly, decoding every length prefix. It
// returns -1 when the fields cannot fit.
func (s *scanner) walk(length int) int {
	pos := s.t.schema.nullableBytes
	var bit int64
	for _, f := range s.t.schema.fields {
		if f.Nullable {
			null := testBit(s.buf, bit)
			bit++
			if null {
				continue
			}
		}
		if n := f.fixedSize(); n >= 0 {
			pos += n
			if pos > length {
				return -1
			}
			continue
		}

		n, next, err := readVarUint[uint32](s.buf, pos, length, checkSilent)
		if err != nil || next-pos > 5 {
			return -1
		}
		if int64(n) > int64(length-next) {
			return -1
		}
		value := s.buf[next : next+int(n)]
		switch {
		case f.Type == FieldXML, f.Type == FieldString && s.t.schema.utf8:
			if !validText(value) {
				return -1
			}
		case f.Type == FieldString:
			if n%2 != 0 {
				return -1
			}
		}
		pos = next + int(n)
	}
	return pos
}

// validText reports whether b could be a stored UTF-8 string: valid
// encoding and no NUL bytes.
func validText(b []byte) bool {
	for _, c := range b {
		if c == 0 {
			return false
		}
	}
	return utf8.Valid(b)
}

// recoverLocations installs an offset table for a table without an index,
// from the snapshot cache when one matches, otherwise from a fresh scan.
func (t *Table) recoverLocations() error {
	var l *Locations
	if t.config.LocationCache != "" {
		cached, err := t.LoadSnapshot(t.config.LocationCache)
		switch {
		case err == nil:
			t.log.Debugf("using offset snapshot %s", t.config.LocationCache)
			l = cached
		default:
			t.log.Debugf("offset snapshot %s not used: %v", t.config.LocationCache, err)
		}
	}

	if l == nil {
		scanned, err := t.ScanLocations()
		if err != nil {
			return err
		}
		l = scanned
		if t.config.LocationCache != "" {
			if err := t.SaveSnapshot(l, t.config.LocationCache); err != nil {
				t.warnf("saving offset snapshot %s: %v", t.config.LocationCache, err)
			}
		}
	}

	t.install(l)
	return nil
}

// install makes l the table's offset table and reconciles the valid row
// count with the one the header declares.
func (t *Table) install(l *Locations) {
	t.locations = l.Offsets
	t.recovered = l
	t.deletedListed = l.DeletedListed
	t.total = int64(len(l.Offsets))
	t.cur = cursor{row: -1}

	found := t.total - l.Invalid
	declared := t.header.ValidRecordCount
	if found == declared {
		t.valid = found
		return
	}
	switch {
	case found > declared && l.DeletedListed:
		t.log.Infof("recovery scan found %d rows including deleted ones, header declares %d valid", found, declared)
	case found > declared:
		t.warnf("recovery scan found %d rows, header declares %d valid: deleted rows are likely reported", found, declared)
	default:
		t.warnf("recovery scan found %d rows, header declares %d valid: lowering the valid count", found, declared)
	}
	t.valid = found
}
