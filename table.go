// Table type and lifecycle operations.
//
// Open reads the primary header, the offset index (when present and
// wanted) and the field descriptor section, then reconciles the row counts
// the two files declare. Without an index the row offsets are rebuilt by
// the recovery scan, optionally through an on-disk snapshot of a previous
// scan. A Table is owned by one goroutine at a time: the row cursor and
// its buffer are mutated by every read.
package filegdb

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// MissingIndexPolicy selects what Open does when the .gdbtablx file is
// absent.
type MissingIndexPolicy int

const (
	MissingIndexWarn   MissingIndexPolicy = iota // warn, then recover offsets by scanning
	MissingIndexIgnore                           // recover offsets by scanning without a warning
	MissingIndexFail                             // fail the open
)

// RowSizePolicy selects what SelectRow does with a row longer than the
// maximum row size recorded in the header. Older writers did not always
// update the hint when a row grew, so such files are common and readable.
type RowSizePolicy int

const (
	RowSizeRepair RowSizePolicy = iota // warn once, raise the hint, and in update mode rewrite it on Sync
	RowSizeFail                        // fail the row with ErrCorruptRow
	RowSizeAccept                      // raise the hint silently
)

// Config holds table configuration options. The zero value is usable.
type Config struct {
	ReportDeleted     bool               // recovery scan lists deleted rows instead of skipping them
	IgnoreIndex       bool               // never open the .gdbtablx file
	MissingIndex      MissingIndexPolicy // default MissingIndexWarn
	PreferHeaderCount bool               // row count rises to the header's when it exceeds the index total
	RowSize           RowSizePolicy      // default RowSizeRepair
	ReadBuffer        int                // recovery scan read window (default 64KB)
	HashAlgorithm     int                // snapshot fingerprints: 0 or 1=xxHash3, 2=FNV1a, 3=Blake2b
	LocationCache     string             // snapshot file for recovered offsets, relative to the table's directory
	Logger            logrus.FieldLogger // default logrus.StandardLogger()
}

// Table is an open .gdbtable file.
type Table struct {
	root   *os.Root   // Sandboxed filesystem access
	name   string     // Table filename
	file   *os.File   // .gdbtable handle
	ixfile *os.File   // .gdbtablx handle, nil without an index
	lock   *tableLock // Advisory lock on the table file
	config Config
	log    logrus.FieldLogger
	update bool
	closed bool

	header   *Header
	schema   *schema
	index    *offsetIndex
	fileSize int64
	total    int64 // row slots
	valid    int64 // reconciled valid row count

	// Recovered offsets when there is no index. Deleted rows carry
	// deletedBit when they are listed.
	locations     []uint64
	recovered     *Locations
	deletedListed bool

	cur     cursor
	buf     []byte
	scratch [4]byte

	warnings      int
	warnedRowSize bool
	dirtyHeader   bool
	dirtyIndices  bool

	filter *filterBox
}

// Open opens the table at path. In update mode the table file is opened
// read-write so the header can be repaired on Sync; version 4 tables and
// version 9.x descriptor sections cannot be opened for update.
func Open(path string, update bool, config Config) (*Table, error) {
	// Default config values
	if config.ReadBuffer == 0 {
		config.ReadBuffer = 64 * 1024
	}
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}

	dir, name := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, err
	}

	flag := os.O_RDONLY
	if update {
		flag = os.O_RDWR
	}
	file, err := root.OpenFile(name, flag, 0)
	if err != nil {
		root.Close()
		return nil, err
	}

	t := &Table{
		root:   root,
		name:   name,
		file:   file,
		lock:   &tableLock{f: file},
		config: config,
		log:    config.Logger.WithField("table", name),
		update: update,
		cur:    cursor{row: -1},
	}

	if err := t.lock.acquire(update); err != nil {
		t.release()
		return nil, fmt.Errorf("open %s: lock: %w", name, err)
	}

	if err := t.load(); err != nil {
		t.release()
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return t, nil
}

func (t *Table) load() error {
	var err error
	if t.fileSize, err = size(t.file); err != nil {
		return err
	}
	if t.header, err = header(t.file); err != nil {
		return err
	}
	if t.update && t.header.Version == 4 {
		return fmt.Errorf("%w: version 4", ErrReadOnly)
	}
	t.valid = t.header.ValidRecordCount

	if t.update || (t.valid > 0 && !t.config.IgnoreIndex) {
		if err := t.openIndex(); err != nil {
			return err
		}
	}

	if t.schema, err = readSchema(t.file, t.header, t.update, t.index != nil, t.log); err != nil {
		return err
	}

	if t.index == nil && t.valid > 0 {
		return t.recoverLocations()
	}
	return nil
}

// indexName returns the name of the offset index beside a table file.
func indexName(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name)) + ".gdbtablx"
}

func (t *Table) openIndex() error {
	ixname := indexName(t.name)
	f, err := t.root.Open(ixname)
	if errors.Is(err, fs.ErrNotExist) {
		switch t.config.MissingIndex {
		case MissingIndexFail:
			return fmt.Errorf("%w: %s not found", ErrCorruptIndex, ixname)
		case MissingIndexWarn:
			t.warnf("%s not found, recovering row offsets from the table file", ixname)
		}
		return nil
	}
	if err != nil {
		return err
	}
	t.ixfile = f

	if t.index, err = readIndex(f, t.header.Version, t.log); err != nil {
		return err
	}
	t.reconcile(t.index.total)
	return nil
}

// reconcile settles the row count between the index total T and the
// header's valid count V. T above V is normal: the index keeps slots for
// deleted rows. V above T cannot be right, so a warning is logged and the
// config decides whose count wins. By default the valid count drops to T;
// with PreferHeaderCount the row count rises to V and rows at or past T
// resolve as absent.
func (t *Table) reconcile(indexTotal int64) {
	declared := t.header.ValidRecordCount
	t.total = indexTotal
	if declared <= indexTotal {
		return
	}

	t.warnf("header declares %d valid rows, offset index holds %d", declared, indexTotal)
	if t.config.PreferHeaderCount {
		t.total = declared
		return
	}
	t.valid = indexTotal
}

// Close releases the file handles and the lock. In update mode a dirty
// header is written back first.
func (t *Table) Close() error {
	if t.closed {
		return ErrClosed
	}

	var errs []error
	if t.update && t.dirtyHeader {
		if err := t.Sync(); err != nil {
			errs = append(errs, err)
		}
	}
	errs = append(errs, t.release()...)
	t.closed = true

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

func (t *Table) release() []error {
	var errs []error
	if err := t.lock.release(); err != nil {
		errs = append(errs, err)
	}

	if t.ixfile != nil {
		if err := t.ixfile.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := t.file.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := t.root.Close(); err != nil {
		errs = append(errs, err)
	}
	return errs
}

// warnf logs a warning and counts it.
func (t *Table) warnf(format string, args ...any) {
	t.warnings++
	t.log.Warnf(format, args...)
}

// Name returns the table's file name.
func (t *Table) Name() string { return t.name }

// Header returns a copy of the primary header as read at Open, with the
// maximum row size hint raised by any repair since.
func (t *Table) Header() Header { return *t.header }

// Fields returns the field descriptors in schema order. The slice is shared
// and must not be modified.
func (t *Table) Fields() []*Field { return t.schema.fields }

// FieldIndex returns the position of the named field, or -1.
func (t *Table) FieldIndex(name string) int {
	for i, f := range t.schema.fields {
		if strings.EqualFold(f.Name, name) {
			return i
		}
	}
	return -1
}

// ObjectIDField returns the position of the object id field, or -1.
func (t *Table) ObjectIDField() int { return t.schema.oidField }

// GeometryField returns the position of the geometry field, or -1.
func (t *Table) GeometryField() int { return t.schema.geomField }

// GeometryType returns the table-level geometry type.
func (t *Table) GeometryType() GeometryType { return t.schema.geomType }

func (t *Table) HasZ() bool        { return t.schema.hasZ }
func (t *Table) HasM() bool        { return t.schema.hasM }
func (t *Table) StringsUTF8() bool { return t.schema.utf8 }

// IsV9 reports whether the descriptor section was written by ArcGIS 9.x.
func (t *Table) IsV9() bool { return t.schema.secondaryVersion == 3 }

// RowCount returns the number of row slots. Row numbers run from 0 to
// RowCount()-1; some slots may be absent.
func (t *Table) RowCount() int64 { return t.total }

// ValidCount returns the number of rows the table holds after
// reconciliation.
func (t *Table) ValidCount() int64 { return t.valid }

// HasIndex reports whether rows are located through a .gdbtablx file.
func (t *Table) HasIndex() bool { return t.index != nil }

// ObjectIDReliable reports whether object ids match row numbers. It is
// false when a version 4 index carried a block map that could not be read;
// attribute and spatial indexes keyed on object ids should then not be
// used.
func (t *Table) ObjectIDReliable() bool {
	return t.index == nil || t.index.reliable
}

// Recovered returns the offset table installed by the recovery scan or
// its snapshot, or nil when rows are located through the index.
func (t *Table) Recovered() *Locations { return t.recovered }

// DeletedListed reports whether the recovery scan listed deleted rows.
func (t *Table) DeletedListed() bool { return t.deletedListed }

// IndicesDirty reports whether attribute and spatial indexes should be
// rebuilt because the header they were built against was found corrupt.
func (t *Table) IndicesDirty() bool { return t.dirtyIndices }

// Warnings returns the number of warnings logged since Open.
func (t *Table) Warnings() int { return t.warnings }
