// Test fixtures.
//
// Tables are built byte by byte with the package's own encoders: the
// header through Header.encode, rows through EncodeRow, varints through
// AppendVarUint and AppendVarInt. The field descriptor and offset index
// writers here are the inverse of schema.go and tablx.go and only cover
// what the tests need.
package filegdb

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

// fixture describes a table to write.
type fixture struct {
	version  int // 3 (default) or 4
	utf8     bool
	v9       bool
	geomType GeometryType
	hasZ     bool
	hasM     bool
	fields   []*Field

	// One entry per row slot. A nil entry is an absent slot.
	rows    [][]Value
	deleted map[int]bool // slots written as deleted rows

	noIndex      bool
	declared     int64 // header valid count when setDeclared
	setDeclared  bool
	maxRowSize   int64 // header hint override when > 0
	indexTotal   int64 // index total override when > 0
	badV4Section bool  // write an unrecognised V4 bitmap section
	v4Bitmap     bool  // write a V4 bitmap section marking the stored blocks
}

// written is the result of fixture.write.
type written struct {
	path    string
	offsets []int64 // table offset of each slot, 0 when absent
	lengths []int   // blob length of each slot
	size    int64
	descEnd int64 // first byte after the field descriptor section
}

func utf16Field(b []byte, s string) []byte {
	u := encodeUTF16(s)
	b = append(b, byte(len(u)/2))
	return append(b, u...)
}

func appendF64(b []byte, v ...float64) []byte {
	for _, f := range v {
		b = binary.LittleEndian.AppendUint64(b, math.Float64bits(f))
	}
	return b
}

func fieldFlags(f *Field) byte {
	var flags byte
	if f.Nullable {
		flags |= flagNullable
	}
	if f.Required {
		flags |= flagRequired
	}
	if f.Editable {
		flags |= flagEditable
	}
	return flags
}

// descriptors encodes the field descriptor section, length prefix included.
func (fx *fixture) descriptors() ([]byte, error) {
	var body []byte
	secondary := uint32(4)
	if fx.v9 {
		secondary = 3
	}
	body = binary.LittleEndian.AppendUint32(body, secondary)
	body = append(body, byte(fx.geomType))
	var enc byte
	if fx.utf8 {
		enc = 1
	}
	body = append(body, enc, 3)
	var zm byte
	if fx.hasM {
		zm |= 1 << 6
	}
	if fx.hasZ {
		zm |= 1 << 7
	}
	body = append(body, zm)
	body = binary.LittleEndian.AppendUint16(body, uint16(len(fx.fields)))

	for _, f := range fx.fields {
		body = utf16Field(body, f.Name)
		body = utf16Field(body, f.Alias)
		body = append(body, byte(f.Type))
		switch f.Type {
		case FieldString:
			body = binary.LittleEndian.AppendUint32(body, uint32(f.MaxWidth))
			body = append(body, fieldFlags(f))
			var def []byte
			if f.Editable && f.Default.Kind == KindString {
				def = f.Default.Bytes
				if !fx.utf8 {
					def = encodeUTF16(string(def))
				}
			}
			body = AppendVarUint(body, uint64(len(def)))
			if f.Editable {
				body = append(body, def...)
			}
		case FieldObjectID, FieldBinary, FieldGUID, FieldGlobalID, FieldXML:
			body = append(body, 0, fieldFlags(f))
		case FieldGeometry, FieldRaster:
			body = append(body, 0, fieldFlags(f))
			body = fx.spatial(body, f)
		default:
			var def []byte
			if f.Editable && f.Default.Kind != KindUnset {
				var err error
				if def, err = appendValue(nil, f, f.Default, fx.utf8); err != nil {
					return nil, fmt.Errorf("default of %q: %w", f.Name, err)
				}
			}
			body = append(body, byte(fixedSizes[f.Type]), fieldFlags(f), byte(len(def)))
			if f.Editable {
				body = append(body, def...)
			}
		}
	}

	out := binary.LittleEndian.AppendUint32(nil, uint32(len(body)))
	return append(out, body...), nil
}

func (fx *fixture) spatial(b []byte, f *Field) []byte {
	g := f.Geometry
	if f.Type == FieldRaster {
		b = utf16Field(b, f.Raster.Column)
	}
	wkt := encodeUTF16(g.WKT)
	b = binary.LittleEndian.AppendUint16(b, uint16(len(wkt)))
	b = append(b, wkt...)
	var flags byte = 1
	if g.HasM {
		flags |= 2
	}
	if g.HasZ {
		flags |= 4
	}
	b = append(b, flags)
	b = appendF64(b, g.XOrigin, g.YOrigin, g.XYScale)
	if g.HasM {
		b = appendF64(b, g.MOrigin, g.MScale)
	}
	if g.HasZ {
		b = appendF64(b, g.ZOrigin, g.ZScale)
	}
	b = appendF64(b, g.XYTolerance)
	if g.HasM {
		b = appendF64(b, g.MTolerance)
	}
	if g.HasZ {
		b = appendF64(b, g.ZTolerance)
	}
	if f.Type == FieldRaster {
		return append(b, byte(f.Raster.Kind))
	}
	b = appendF64(b, g.Extent.MinX, g.Extent.MinY, g.Extent.MaxX, g.Extent.MaxY)
	if fx.hasZ {
		b = appendF64(b, g.ZMin, g.ZMax)
	}
	if fx.hasM {
		b = appendF64(b, g.MMin, g.MMax)
	}
	b = append(b, 0)
	grids := g.GridSizes
	if len(grids) == 0 {
		grids = []float64{1000}
	}
	b = binary.LittleEndian.AppendUint32(b, uint32(len(grids)))
	return appendF64(b, grids...)
}

// write creates name.gdbtable (and name.gdbtablx unless noIndex) in dir.
func (fx *fixture) write(t testing.TB, dir, name string) *written {
	t.Helper()
	w, err := fx.build(dir, name)
	if err != nil {
		t.Fatal(err)
	}
	return w
}

func (fx *fixture) build(dir, name string) (*written, error) {
	version := fx.version
	if version == 0 {
		version = 3
	}

	desc, err := fx.descriptors()
	if err != nil {
		return nil, err
	}
	data := make([]byte, HeaderSize, 4096)
	data = append(data, desc...)
	w := &written{
		path:    filepath.Join(dir, name+".gdbtable"),
		offsets: make([]int64, len(fx.rows)),
		lengths: make([]int, len(fx.rows)),
		descEnd: int64(len(data)),
	}

	var valid int64
	var maxLen int
	for i, values := range fx.rows {
		if values == nil {
			continue
		}
		blob, err := EncodeRow(fx.fields, values, fx.utf8)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		w.offsets[i] = int64(len(data))
		w.lengths[i] = len(blob)
		n := uint32(len(blob))
		if fx.deleted[i] {
			n = uint32(-int32(n))
		} else {
			valid++
		}
		data = binary.LittleEndian.AppendUint32(data, n)
		data = append(data, blob...)
		maxLen = max(maxLen, len(blob))
	}

	hdr := Header{
		Version:          version,
		ValidRecordCount: valid,
		MaxRowSize:       uint32(maxLen),
		FileSize:         uint64(len(data)),
		FieldDescOffset:  HeaderSize,
	}
	if fx.setDeclared {
		hdr.ValidRecordCount = fx.declared
	}
	if fx.maxRowSize > 0 {
		hdr.MaxRowSize = uint32(fx.maxRowSize)
	}
	copy(data, hdr.encode())
	w.size = int64(len(data))

	if err := os.WriteFile(w.path, data, 0644); err != nil {
		return nil, err
	}
	if !fx.noIndex {
		ix := fx.index(version, w.offsets)
		if err := os.WriteFile(filepath.Join(dir, name+".gdbtablx"), ix, 0644); err != nil {
			return nil, err
		}
	}
	return w, nil
}

// index encodes the offset index. Deleted rows are absent from it. Blocks
// without any row are left out and recorded in a block bitmap.
func (fx *fixture) index(version int, offsets []int64) []byte {
	const entry = 5
	total := int64(len(offsets))
	if fx.indexTotal > 0 {
		total = fx.indexTotal
	}
	nblocks := int((total + rowsPerBlock - 1) / rowsPerBlock)
	present := make([]bool, nblocks)
	for i, off := range offsets {
		if off != 0 && !fx.deleted[i] {
			present[i/rowsPerBlock] = true
		}
	}
	sparse := false
	stored := 0
	for _, p := range present {
		if p {
			stored++
		} else {
			sparse = true
		}
	}
	switch {
	case stored == 0:
		total, nblocks, sparse = 0, 0, false
	case version == 4 || !sparse:
		// Version 4 fixtures carry no bitmap, so every block is stored.
		sparse, stored = false, nblocks
	}

	var b []byte
	b = binary.LittleEndian.AppendUint32(b, uint32(version))
	if version == 4 {
		b = binary.LittleEndian.AppendUint64(b, uint64(stored))
	} else {
		b = binary.LittleEndian.AppendUint32(b, uint32(stored))
		b = binary.LittleEndian.AppendUint32(b, uint32(total))
	}
	b = binary.LittleEndian.AppendUint32(b, entry)

	for blk := range nblocks {
		if sparse && !present[blk] {
			continue
		}
		for r := blk * rowsPerBlock; r < (blk+1)*rowsPerBlock; r++ {
			var off int64
			if r < len(offsets) && !fx.deleted[r] {
				off = offsets[r]
			}
			var e [8]byte
			binary.LittleEndian.PutUint64(e[:], uint64(off))
			b = append(b, e[:entry]...)
		}
	}

	if version == 4 {
		b = binary.LittleEndian.AppendUint64(b, uint64(total))
		if fx.badV4Section {
			b = binary.LittleEndian.AppendUint32(b, 7)
			return append(b, make([]byte, 7)...)
		}
		if fx.v4Bitmap {
			section := make([]byte, v4BitmapSection)
			copy(section, v4SectionMagic)
			for blk := range stored {
				section[v4BitmapPrefix+blk/8] |= 1 << (blk % 8)
			}
			copy(section[v4BitmapPrefix+v4BitmapBytes:], v4BitmapMagic)
			b = binary.LittleEndian.AppendUint32(b, v4BitmapSection)
			return append(b, section...)
		}
		return binary.LittleEndian.AppendUint32(b, 0)
	}

	if nblocks == 0 {
		return b
	}
	if !sparse {
		b = binary.LittleEndian.AppendUint32(b, 0)
		b = binary.LittleEndian.AppendUint32(b, uint32(nblocks))
		b = binary.LittleEndian.AppendUint32(b, uint32(stored))
		return binary.LittleEndian.AppendUint32(b, 0)
	}
	bitmap := make([]byte, (nblocks+31)/32*4)
	for blk, p := range present {
		if p {
			bitmap[blk/8] |= 1 << (blk % 8)
		}
	}
	b = binary.LittleEndian.AppendUint32(b, uint32(len(bitmap)/4))
	b = binary.LittleEndian.AppendUint32(b, uint32(nblocks))
	b = binary.LittleEndian.AppendUint32(b, uint32(stored))
	b = binary.LittleEndian.AppendUint32(b, 0)
	return append(b, bitmap...)
}

// quietLogger returns a logger that records entries instead of printing
// them.
func quietLogger() (*logrus.Logger, *test.Hook) {
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	return log, hook
}

// openFixture writes fx and opens it read-only with a recording logger.
func openFixture(t *testing.T, fx *fixture, config Config) (*Table, *written, *test.Hook) {
	t.Helper()
	dir := t.TempDir()
	w := fx.write(t, dir, "t")
	log, hook := quietLogger()
	if config.Logger == nil {
		config.Logger = log
	}
	tbl, err := Open(w.path, false, config)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { tbl.Close() })
	return tbl, w, hook
}

// patch overwrites bytes of a file in place.
func patch(t *testing.T, path string, off int64, b []byte) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.WriteAt(b, off); err != nil {
		t.Fatal(err)
	}
}

func readAll(t *testing.T, path string) []byte {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

// Common schemas.

func oidField() *Field {
	return &Field{Name: "OBJECTID", Type: FieldObjectID, Required: true}
}

func geomField(scale float64) *Field {
	return &Field{
		Name:     "SHAPE",
		Type:     FieldGeometry,
		Nullable: true,
		Geometry: &GeomInfo{
			WKT:         `GEOGCS["WGS 84"]`,
			XYScale:     scale,
			XYTolerance: 0.001,
			Extent:      Envelope{MaxX: 100, MaxY: 100},
		},
	}
}

func intValue(v int64) Value     { return Value{Kind: KindInt32, Int: v} }
func strValue(s string) Value    { return Value{Kind: KindString, Bytes: []byte(s)} }
func blobValue(b []byte) Value   { return Value{Kind: KindGeometry, Bytes: b} }
func nullValue() Value           { return Value{Kind: KindNull} }
func oidValue() Value            { return Value{Kind: KindObjectID} }
func floatValue(f float64) Value { return Value{Kind: KindFloat64, Float: f} }

// Shape blob encoders. Coordinates are in the field's integer space: the
// value times the scale, origin zero.

// pointBlob encodes a point shape; ordinates are stored raw+1.
func pointBlob(shapeType uint32, ords ...uint64) []byte {
	b := AppendVarUint(nil, uint64(shapeType))
	for _, o := range ords {
		b = AppendVarUint(b, o)
	}
	return b
}

// shapeSpec describes a multi-vertex shape for multiBlob. Each vertex holds
// x, y and then z and m when the shape has them.
type shapeSpec struct {
	shapeType uint32
	parts     [][][]int64
	hasZ      bool
	hasM      bool
	noM       bool     // write the lone M marker instead of the M array
	curves    [][]byte // encoded curve segments; sets the curve count
	patch     []uint32 // multipatch part types
}

func (s *shapeSpec) vertices() [][]int64 {
	var all [][]int64
	for _, p := range s.parts {
		all = append(all, p...)
	}
	return all
}

// multiBlob encodes a multipoint, polyline, polygon or multipatch.
func multiBlob(s shapeSpec) []byte {
	all := s.vertices()
	b := AppendVarUint(nil, uint64(s.shapeType))
	b = AppendVarUint(b, uint64(len(all)))
	if len(all) == 0 {
		return b
	}

	base := s.shapeType & 0xff
	multiPoint := base == shpMultiPoint || base == shpMultiPointM || base == shpMultiPointZ || base == shpMultiPointZM
	multiPatch := s.patch != nil
	if multiPatch {
		b = AppendVarUint(b, 0)
	}
	if !multiPoint {
		b = AppendVarUint(b, uint64(len(s.parts)))
	}
	if s.shapeType&extCurveFlag != 0 {
		b = AppendVarUint(b, uint64(len(s.curves)))
	}

	xmin, ymin, xmax, ymax := all[0][0], all[0][1], all[0][0], all[0][1]
	for _, v := range all {
		xmin, xmax = min(xmin, v[0]), max(xmax, v[0])
		ymin, ymax = min(ymin, v[1]), max(ymax, v[1])
	}
	b = AppendVarUint(b, uint64(xmin))
	b = AppendVarUint(b, uint64(ymin))
	b = AppendVarUint(b, uint64(xmax-xmin))
	b = AppendVarUint(b, uint64(ymax-ymin))

	if !multiPoint {
		for _, p := range s.parts[:len(s.parts)-1] {
			b = AppendVarUint(b, uint64(len(p)))
		}
	}
	for _, k := range s.patch {
		b = AppendVarUint(b, uint64(k))
	}

	var px, py int64
	for _, v := range all {
		b = AppendVarInt(b, v[0]-px)
		b = AppendVarInt(b, v[1]-py)
		px, py = v[0], v[1]
	}
	dim := 2
	if s.hasZ {
		var pz int64
		for _, v := range all {
			b = AppendVarInt(b, v[dim]-pz)
			pz = v[dim]
		}
		dim++
	}
	if s.hasM {
		if s.noM {
			b = append(b, mAbsentMarker)
		} else {
			var pm int64
			for _, v := range all {
				b = AppendVarInt(b, v[dim]-pm)
				pm = v[dim]
			}
		}
	}
	for _, c := range s.curves {
		b = append(b, c...)
	}
	return b
}

// arcSegment encodes a circular arc curve starting at vertex start.
func arcSegment(start uint32, px, py float64, bits uint32) []byte {
	b := AppendVarUint(nil, uint64(start))
	b = AppendVarUint(b, segArc)
	b = appendF64(b, px, py)
	return binary.LittleEndian.AppendUint32(b, bits)
}

// bezierSegment encodes a cubic Bezier curve starting at vertex start.
func bezierSegment(start uint32, c1x, c1y, c2x, c2y float64) []byte {
	b := AppendVarUint(nil, uint64(start))
	b = AppendVarUint(b, segBezier)
	return appendF64(b, c1x, c1y, c2x, c2y)
}

// ellipseSegment encodes an elliptic arc starting at vertex start.
func ellipseSegment(start uint32, cx, cy, rotation, semiMajor, ratio float64, bits uint32) []byte {
	b := AppendVarUint(nil, uint64(start))
	b = AppendVarUint(b, segEllipse)
	b = appendF64(b, cx, cy, rotation, semiMajor, ratio)
	return binary.LittleEndian.AppendUint32(b, bits)
}
