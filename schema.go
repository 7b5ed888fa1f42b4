// Field descriptor section parsing.
//
// The section starts at Header.FieldDescOffset with a 14-byte secondary
// header (section length, secondary version, table geometry type, string
// encoding flag, Z/M flags and field count), followed by one variable-size
// descriptor per field. Every read is checked against the bytes left in the
// section; a descriptor that overruns it fails the whole open.
package filegdb

import (
	"fmt"
	"io"
	"math"

	"github.com/sirupsen/logrus"
)

const (
	secondaryHeaderSize = 14
	maxFieldDescLength  = 10 * 1024 * 1024
)

// schema is the decoded field descriptor section.
type schema struct {
	descLength       uint32
	secondaryVersion uint32
	geomType         GeometryType
	utf8             bool
	hasZ             bool
	hasM             bool
	fields           []*Field
	oidField         int
	geomField        int
	nullableBytes    int
}

// readSchema reads the secondary header and field descriptors. haveIndex
// tells whether an offset index was found; without one a table with no
// fields is rejected since nothing could be recovered from it.
func readSchema(r io.ReaderAt, hdr *Header, update, haveIndex bool, log logrus.FieldLogger) (*schema, error) {
	if hdr.FieldDescOffset > math.MaxInt64-secondaryHeaderSize {
		return nil, fmt.Errorf("%w: field descriptor offset %d", ErrCorruptHeader, hdr.FieldDescOffset)
	}
	var sec [secondaryHeaderSize]byte
	if err := readFull(r, sec[:], int64(hdr.FieldDescOffset)); err != nil {
		return nil, fmt.Errorf("%w: secondary header: %w", ErrCorruptHeader, err)
	}

	s := &schema{
		descLength:       readU32(sec[:], 0),
		secondaryVersion: readU32(sec[:], 4),
		utf8:             sec[9]&0x01 != 0,
		hasM:             sec[11]&(1<<6) != 0,
		hasZ:             sec[11]&(1<<7) != 0,
		oidField:         -1,
		geomField:        -1,
	}
	if update && s.secondaryVersion != 4 && s.secondaryVersion != 6 {
		return nil, fmt.Errorf("%w: secondary header version %d", ErrReadOnly, s.secondaryVersion)
	}
	if hdr.FieldDescOffset > math.MaxInt64-uint64(s.descLength) {
		return nil, fmt.Errorf("%w: field descriptor section overflows", ErrCorruptHeader)
	}
	if s.descLength > maxFieldDescLength || s.descLength < 10 {
		return nil, fmt.Errorf("%w: field descriptor length %d", ErrCorruptHeader, s.descLength)
	}
	if g := GeometryType(sec[8]); g.valid() {
		s.geomType = g
	} else {
		log.Debugf("unknown table geometry type %d", sec[8])
	}

	count := int(readU16(sec[:], 12))
	if !haveIndex && count == 0 {
		return nil, fmt.Errorf("%w: no fields and no offset index", ErrCorruptSchema)
	}

	buf := make([]byte, s.descLength-10)
	if err := readFull(r, buf, int64(hdr.FieldDescOffset)+secondaryHeaderSize); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptSchema, err)
	}

	d := &descReader{buf: buf}
	nullable := 0
	for i := range count {
		f, err := d.field(s, log)
		if err != nil {
			return nil, fmt.Errorf("field %d: %w", i, err)
		}
		switch f.Type {
		case FieldObjectID:
			s.oidField = len(s.fields)
		case FieldGeometry:
			s.geomField = len(s.fields)
		}
		s.fields = append(s.fields, f)
		if f.Nullable {
			nullable++
		}
	}
	s.nullableBytes = (nullable + 7) / 8
	if n := d.remaining(); n > 0 {
		log.Debugf("%d remaining bytes in field descriptor section", n)
	}
	return s, nil
}

// descReader walks the field descriptor buffer.
type descReader struct {
	buf []byte
	pos int
}

func (d *descReader) remaining() int { return len(d.buf) - d.pos }

func (d *descReader) need(n int, what string) error {
	if d.remaining() < n {
		return fmt.Errorf("%w: %s needs %d bytes, %d left", ErrCorruptSchema, what, n, d.remaining())
	}
	return nil
}

func (d *descReader) u8() byte {
	b := d.buf[d.pos]
	d.pos++
	return b
}

func (d *descReader) float() float64 {
	v := readF64(d.buf, d.pos)
	d.pos += 8
	return v
}

// utf16 reads a byte character count followed by that many UTF-16 units.
func (d *descReader) utf16(what string) (string, error) {
	if err := d.need(1, what); err != nil {
		return "", err
	}
	n := int(d.u8())
	if n > d.remaining()/2 {
		return "", fmt.Errorf("%w: %s of %d characters overruns section", ErrCorruptSchema, what, n)
	}
	s := decodeUTF16(d.buf[d.pos : d.pos+2*n])
	d.pos += 2 * n
	return s, nil
}

func (d *descReader) field(s *schema, log logrus.FieldLogger) (*Field, error) {
	name, err := d.utf16("name")
	if err != nil {
		return nil, err
	}
	alias, err := d.utf16("alias")
	if err != nil {
		return nil, err
	}
	if err := d.need(1, "type"); err != nil {
		return nil, err
	}
	typ := FieldType(d.u8())
	if typ > maxFieldType {
		return nil, fmt.Errorf("%w: unknown type %d for %q", ErrCorruptSchema, typ, name)
	}

	f := &Field{Name: name, Alias: alias, Type: typ}
	if typ == FieldGeometry || typ == FieldRaster {
		if typ == FieldGeometry && s.geomField >= 0 {
			return nil, fmt.Errorf("%w: second geometry field %q", ErrCorruptSchema, name)
		}
		return f, d.spatial(f, s, log)
	}
	return f, d.scalar(f, s)
}

func (d *descReader) scalar(f *Field, s *schema) error {
	var flags byte
	var defaultLen int
	switch f.Type {
	case FieldString:
		if err := d.need(6, "string descriptor"); err != nil {
			return err
		}
		f.MaxWidth = int(readI32(d.buf, d.pos))
		if f.MaxWidth < 0 {
			return fmt.Errorf("%w: negative width %d for %q", ErrCorruptSchema, f.MaxWidth, f.Name)
		}
		flags = d.buf[d.pos+4]
		d.pos += 5
		n, next, err := readVarUint[uint32](d.buf, d.pos, len(d.buf), checkVerbose)
		if err != nil {
			return fmt.Errorf("%w: default length of %q: %w", ErrCorruptSchema, f.Name, err)
		}
		d.pos = next
		defaultLen = int(n)
	case FieldObjectID, FieldBinary, FieldGUID, FieldGlobalID, FieldXML:
		if err := d.need(2, "descriptor"); err != nil {
			return err
		}
		flags = d.buf[d.pos+1]
		d.pos += 2
	default:
		if err := d.need(3, "descriptor"); err != nil {
			return err
		}
		flags = d.buf[d.pos+1]
		defaultLen = int(d.buf[d.pos+2])
		d.pos += 3
	}

	if flags&flagEditable != 0 {
		if err := d.need(defaultLen, "default value"); err != nil {
			return err
		}
		if defaultLen > 0 {
			f.Default = f.defaultValue(d.buf[d.pos:d.pos+defaultLen], s.utf8)
		}
		d.pos += defaultLen
	}

	if f.Type == FieldObjectID {
		if flags != flagRequired {
			return fmt.Errorf("%w: object id flags %#x", ErrCorruptSchema, flags)
		}
		if s.oidField >= 0 {
			return fmt.Errorf("%w: second object id field %q", ErrCorruptSchema, f.Name)
		}
	}
	f.Nullable = flags&flagNullable != 0
	f.Required = flags&flagRequired != 0
	f.Editable = flags&flagEditable != 0
	return nil
}

// spatial reads the geometry and raster descriptor layout.
func (d *descReader) spatial(f *Field, s *schema, log logrus.FieldLogger) error {
	if err := d.need(2, "descriptor"); err != nil {
		return err
	}
	f.Nullable = d.buf[d.pos+1]&flagNullable != 0
	d.pos += 2

	g := &GeomInfo{}
	f.Geometry = g
	if f.Type == FieldRaster {
		if err := d.need(1, "raster column"); err != nil {
			return err
		}
		n := int(d.u8())
		if err := d.need(2*n+1, "raster column"); err != nil {
			return err
		}
		f.Raster = &RasterInfo{Column: decodeUTF16(d.buf[d.pos : d.pos+2*n])}
		d.pos += 2 * n
	}

	if err := d.need(2, "wkt length"); err != nil {
		return err
	}
	wktLen := int(readU16(d.buf, d.pos))
	d.pos += 2
	if err := d.need(1+wktLen, "wkt"); err != nil {
		return err
	}
	g.WKT = decodeUTF16(d.buf[d.pos : d.pos+wktLen])
	d.pos += wktLen

	geomFlags := d.u8()
	g.HasM = geomFlags&2 != 0
	g.HasZ = geomFlags&4 != 0

	if f.Type == FieldGeometry || geomFlags > 0 {
		n := 4
		if f.Type == FieldGeometry {
			n += 4
		}
		if g.HasM {
			n += 3
		}
		if g.HasZ {
			n += 3
		}
		if err := d.need(8*n, "origin/scale/tolerance"); err != nil {
			return err
		}
		g.XOrigin = d.float()
		g.YOrigin = d.float()
		g.XYScale = d.float()
		if g.XYScale == 0 {
			return fmt.Errorf("%w: zero xy scale for %q", ErrCorruptSchema, f.Name)
		}
		if g.HasM {
			g.MOrigin = d.float()
			g.MScale = d.float()
		}
		if g.HasZ {
			g.ZOrigin = d.float()
			g.ZScale = d.float()
		}
		g.XYTolerance = d.float()
		if g.HasM {
			g.MTolerance = d.float()
		}
		if g.HasZ {
			g.ZTolerance = d.float()
		}
	}

	if f.Type == FieldRaster {
		if err := d.need(1, "raster type"); err != nil {
			return err
		}
		switch k := d.u8(); k {
		case 0, 1, 2:
			f.Raster.Kind = RasterKind(k)
		default:
			log.Warnf("unknown raster field type %d for %q", k, f.Name)
			f.Raster.Kind = RasterInline
		}
		return nil
	}

	if err := d.need(32, "extent"); err != nil {
		return err
	}
	g.Extent = Envelope{MinX: d.float(), MinY: d.float(), MaxX: d.float(), MaxY: d.float()}
	if s.hasZ {
		if err := d.need(16, "z range"); err != nil {
			return err
		}
		g.ZMin, g.ZMax = d.float(), d.float()
	}
	if s.hasM {
		if err := d.need(16, "m range"); err != nil {
			return err
		}
		g.MMin, g.MMax = d.float(), d.float()
	}

	if err := d.need(5, "grid count"); err != nil {
		return err
	}
	d.pos++
	grids := int(readU32(d.buf, d.pos))
	d.pos += 4
	if grids == 0 || grids > 3 {
		return fmt.Errorf("%w: %d spatial grid sizes", ErrCorruptSchema, grids)
	}
	if err := d.need(8*grids, "grid sizes"); err != nil {
		return err
	}
	for range grids {
		g.GridSizes = append(g.GridSizes, d.float())
	}
	return nil
}
