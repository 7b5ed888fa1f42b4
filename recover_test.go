package filegdb

import (
	"errors"
	"regexp"
	"slices"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

var hexPattern = regexp.MustCompile(`^[0-9a-f]{16}$`)

func recoveryFixture() *fixture {
	return &fixture{
		geomType: GeomPoint,
		fields: []*Field{
			oidField(),
			{Name: "NAME", Type: FieldString, Nullable: true},
			{Name: "N", Type: FieldInt32},
			geomField(100),
		},
		rows: [][]Value{
			{oidValue(), strValue("alpha"), intValue(1), blobValue(pointBlob(shpPoint, 101, 201))},
			{oidValue(), nullValue(), intValue(2), blobValue(pointBlob(shpPoint, 301, 401))},
			{oidValue(), strValue("gamma"), intValue(3), nullValue()},
			{oidValue(), strValue("δέλτα"), intValue(4), blobValue(pointBlob(shpPoint, 501, 601))},
		},
		noIndex: true,
	}
}

func offsetsOf(w *written) []uint64 {
	var out []uint64
	for _, off := range w.offsets {
		out = append(out, uint64(off))
	}
	return out
}

func TestScanFindsRows(t *testing.T) {
	for _, utf8 := range []bool{false, true} {
		fx := recoveryFixture()
		fx.utf8 = utf8
		tbl, w, hook := openFixture(t, fx, Config{MissingIndex: MissingIndexIgnore})

		l := tbl.Recovered()
		if l == nil {
			t.Fatal("no recovered offsets")
		}
		if !slices.Equal(l.Offsets, offsetsOf(w)) {
			t.Errorf("utf8=%v offsets = %v, want %v", utf8, l.Offsets, w.offsets)
		}
		if l.Invalid != 0 || l.Valid() != 4 {
			t.Errorf("Invalid=%d Valid=%d", l.Invalid, l.Valid())
		}
		if tbl.RowCount() != 4 || tbl.ValidCount() != 4 || tbl.Warnings() != 0 {
			t.Errorf("RowCount=%d ValidCount=%d Warnings=%d", tbl.RowCount(), tbl.ValidCount(), tbl.Warnings())
		}
		if len(hook.AllEntries()) == 0 {
			t.Error("scan did not log its result")
		}

		if err := tbl.SelectRow(3); err != nil {
			t.Fatal(err)
		}
		name, _ := tbl.FieldValue(1)
		if name.String() != "δέλτα" {
			t.Errorf("row 3 NAME = %q", name.String())
		}
	}
}

func TestScanFixedWidth(t *testing.T) {
	fx := &fixture{
		fields: []*Field{
			oidField(),
			{Name: "A", Type: FieldInt32},
			{Name: "B", Type: FieldFloat64, Nullable: true},
		},
		rows: [][]Value{
			{oidValue(), intValue(1), floatValue(1.5)},
			{oidValue(), intValue(2), nullValue()},
			{oidValue(), intValue(3), floatValue(-2)},
		},
		noIndex: true,
	}
	tbl, w, _ := openFixture(t, fx, Config{MissingIndex: MissingIndexIgnore})
	if got := tbl.Recovered().Offsets; !slices.Equal(got, offsetsOf(w)) {
		t.Errorf("offsets = %v, want %v", got, w.offsets)
	}
}

func TestScanIdempotent(t *testing.T) {
	tbl, _, _ := openFixture(t, recoveryFixture(), Config{MissingIndex: MissingIndexIgnore})

	first, err := tbl.ScanLocations()
	if err != nil {
		t.Fatal(err)
	}
	second, err := tbl.ScanLocations()
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(first.Offsets, second.Offsets) {
		t.Fatalf("scans differ: %v vs %v", first.Offsets, second.Offsets)
	}
	for _, alg := range []int{AlgXXHash3, AlgFNV1a, AlgBlake2b} {
		a, b := first.Fingerprint(alg), second.Fingerprint(alg)
		if a != b || !hexPattern.MatchString(a) {
			t.Errorf("alg %d: fingerprints %q and %q", alg, a, b)
		}
	}
	if first.Fingerprint(AlgXXHash3) == first.Fingerprint(AlgFNV1a) {
		t.Error("algorithms agree on a fingerprint")
	}
}

func TestScanSmallReadBuffer(t *testing.T) {
	tbl, w, _ := openFixture(t, recoveryFixture(), Config{MissingIndex: MissingIndexIgnore, ReadBuffer: 7})
	if got := tbl.Recovered().Offsets; !slices.Equal(got, offsetsOf(w)) {
		t.Errorf("offsets = %v, want %v", got, w.offsets)
	}
}

func deletedFixture() *fixture {
	fx := recoveryFixture()
	fx.deleted = map[int]bool{1: true}
	return fx
}

func TestScanSkipsDeleted(t *testing.T) {
	tbl, w, _ := openFixture(t, deletedFixture(), Config{MissingIndex: MissingIndexIgnore})

	l := tbl.Recovered()
	want := offsetsOf(w)
	want[1] = 0
	if !slices.Equal(l.Offsets, want) {
		t.Errorf("offsets = %v, want %v", l.Offsets, want)
	}
	if l.Invalid != 1 || l.DeletedListed {
		t.Errorf("Invalid=%d DeletedListed=%v", l.Invalid, l.DeletedListed)
	}
	if tbl.ValidCount() != 3 || tbl.Warnings() != 0 {
		t.Errorf("ValidCount=%d Warnings=%d", tbl.ValidCount(), tbl.Warnings())
	}
	if err := tbl.SelectRow(1); !errors.Is(err, ErrRowAbsent) {
		t.Errorf("deleted row: err = %v, want ErrRowAbsent", err)
	}
	if got := collectRows(t, tbl); !slices.Equal(got, []int64{0, 2, 3}) {
		t.Errorf("rows = %v", got)
	}
}

func TestScanReportsDeleted(t *testing.T) {
	tbl, w, hook := openFixture(t, deletedFixture(), Config{MissingIndex: MissingIndexIgnore, ReportDeleted: true})

	l := tbl.Recovered()
	if !l.DeletedListed || !tbl.DeletedListed() || l.Invalid != 0 {
		t.Fatalf("DeletedListed=%v Invalid=%d", l.DeletedListed, l.Invalid)
	}
	if l.Offsets[1] != uint64(w.offsets[1])|deletedBit {
		t.Errorf("offset 1 = %#x", l.Offsets[1])
	}
	if l.Valid() != 3 {
		t.Errorf("Valid = %d, want 3", l.Valid())
	}
	// More rows than declared is expected when deleted ones are listed.
	if tbl.Warnings() != 0 {
		t.Errorf("warnings = %d, want 0", tbl.Warnings())
	}
	infos := 0
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.InfoLevel && strings.Contains(e.Message, "including deleted") {
			infos++
		}
	}
	if infos != 1 {
		t.Errorf("info entries = %d, want 1", infos)
	}

	var deleted []int64
	for row, err := range tbl.Rows() {
		if err != nil {
			t.Fatal(err)
		}
		if tbl.RowDeleted() {
			deleted = append(deleted, row)
		}
	}
	if !slices.Equal(deleted, []int64{1}) {
		t.Errorf("deleted rows = %v, want [1]", deleted)
	}

	if err := tbl.SelectRow(1); err != nil {
		t.Fatal(err)
	}
	n, err := tbl.FieldValue(2)
	if err != nil || n.Int != 2 {
		t.Errorf("deleted row N = %d, %v", n.Int, err)
	}
}

func TestScanLowersValidCount(t *testing.T) {
	fx := recoveryFixture()
	fx.declared, fx.setDeclared = 6, true
	tbl, _, hook := openFixture(t, fx, Config{MissingIndex: MissingIndexIgnore})

	if tbl.ValidCount() != 4 {
		t.Errorf("ValidCount = %d, want 4", tbl.ValidCount())
	}
	if warnings(hook, "lowering the valid count") != 1 {
		t.Error("lowering warning not logged")
	}
}

func TestScanMoreThanDeclared(t *testing.T) {
	fx := recoveryFixture()
	fx.declared, fx.setDeclared = 2, true
	tbl, _, hook := openFixture(t, fx, Config{MissingIndex: MissingIndexIgnore})

	if tbl.ValidCount() != 4 {
		t.Errorf("ValidCount = %d, want 4", tbl.ValidCount())
	}
	if warnings(hook, "deleted rows are likely reported") != 1 {
		t.Error("excess warning not logged")
	}
}

func TestScanNothingFound(t *testing.T) {
	fx := recoveryFixture()
	fx.rows = nil
	fx.declared, fx.setDeclared = 3, true
	w := fx.write(t, t.TempDir(), "t")

	log, _ := quietLogger()
	_, err := Open(w.path, false, Config{Logger: log, MissingIndex: MissingIndexIgnore})
	if !errors.Is(err, ErrRecoveryFailed) {
		t.Errorf("err = %v, want ErrRecoveryFailed", err)
	}
}

func TestScanSkipsGarbage(t *testing.T) {
	fx := recoveryFixture()
	tbl, w, _ := openFixture(t, fx, Config{MissingIndex: MissingIndexIgnore})
	tbl.Close()

	// Overwrite the length prefix of row 2 with an implausible value. The
	// scan resynchronises on row 3.
	patch(t, w.path, w.offsets[2], []byte{0xff, 0xff, 0xff, 0x7f})
	log, _ := quietLogger()
	tbl, err := Open(w.path, false, Config{Logger: log, MissingIndex: MissingIndexIgnore})
	if err != nil {
		t.Fatal(err)
	}
	defer tbl.Close()

	want := []uint64{uint64(w.offsets[0]), uint64(w.offsets[1]), uint64(w.offsets[3])}
	if got := tbl.Recovered().Offsets; !slices.Equal(got, want) {
		t.Errorf("offsets = %v, want %v", got, want)
	}
}

func TestValidText(t *testing.T) {
	if !validText([]byte("plain")) || !validText([]byte("ünïcödé")) {
		t.Error("valid text rejected")
	}
	if validText([]byte{'a', 0, 'b'}) || validText([]byte{0xff, 0xfe}) {
		t.Error("invalid text accepted")
	}
}
