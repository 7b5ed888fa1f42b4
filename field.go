// Field catalog types.
//
// A table's schema is an ordered list of Field descriptors. The field type
// is a closed enumeration matching the on-disk type byte; per-type layout
// decisions (fixed size, default value width, decode path) dispatch on it
// through tables and switches rather than separate types.
package filegdb

import (
	"fmt"
	"math"
)

// FieldType is the on-disk field type byte.
type FieldType uint8

const (
	FieldInt16          FieldType = 0
	FieldInt32          FieldType = 1
	FieldFloat32        FieldType = 2
	FieldFloat64        FieldType = 3
	FieldString         FieldType = 4
	FieldDateTime       FieldType = 5
	FieldObjectID       FieldType = 6
	FieldGeometry       FieldType = 7
	FieldBinary         FieldType = 8
	FieldRaster         FieldType = 9
	FieldGUID           FieldType = 10
	FieldGlobalID       FieldType = 11
	FieldXML            FieldType = 12
	FieldInt64          FieldType = 13
	FieldDate           FieldType = 14
	FieldTime           FieldType = 15
	FieldDateTimeOffset FieldType = 16
)

const maxFieldType = FieldDateTimeOffset

var fieldTypeNames = [...]string{
	FieldInt16:          "int16",
	FieldInt32:          "int32",
	FieldFloat32:        "float32",
	FieldFloat64:        "float64",
	FieldString:         "string",
	FieldDateTime:       "datetime",
	FieldObjectID:       "objectid",
	FieldGeometry:       "geometry",
	FieldBinary:         "binary",
	FieldRaster:         "raster",
	FieldGUID:           "guid",
	FieldGlobalID:       "globalid",
	FieldXML:            "xml",
	FieldInt64:          "int64",
	FieldDate:           "date",
	FieldTime:           "time",
	FieldDateTimeOffset: "datetime_with_offset",
}

func (t FieldType) String() string {
	if t <= maxFieldType {
		return fieldTypeNames[t]
	}
	return fmt.Sprintf("FieldType(%d)", uint8(t))
}

// MarshalText renders the type by name in JSON output.
func (t FieldType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// fixedSizes gives the encoded width of each field type, or -1 when the
// value is length-prefixed. Object ids are implicit and take no bytes.
var fixedSizes = [...]int{
	FieldInt16:          2,
	FieldInt32:          4,
	FieldFloat32:        4,
	FieldFloat64:        8,
	FieldString:         -1,
	FieldDateTime:       8,
	FieldObjectID:       0,
	FieldGeometry:       -1,
	FieldBinary:         -1,
	FieldRaster:         -1,
	FieldGUID:           16,
	FieldGlobalID:       16,
	FieldXML:            -1,
	FieldInt64:          8,
	FieldDate:           8,
	FieldTime:           8,
	FieldDateTimeOffset: 10,
}

// Field flag bits.
const (
	flagNullable = 1
	flagRequired = 2
	flagEditable = 4
)

// RasterKind tells where a raster field's pixels live.
type RasterKind uint8

const (
	RasterExternal RasterKind = 0 // value is a path to an external file
	RasterManaged  RasterKind = 1 // value is an int32 raster id
	RasterInline   RasterKind = 2 // value is the raster bytes
)

// GeometryType is the table-level geometry type from the secondary header.
type GeometryType uint8

const (
	GeomNone       GeometryType = 0
	GeomPoint      GeometryType = 1
	GeomMultiPoint GeometryType = 2
	GeomLine       GeometryType = 3
	GeomPolygon    GeometryType = 4
	GeomMultiPatch GeometryType = 9
)

func (g GeometryType) valid() bool {
	return g <= GeomPolygon || g == GeomMultiPatch
}

func (g GeometryType) String() string {
	switch g {
	case GeomNone:
		return "none"
	case GeomPoint:
		return "point"
	case GeomMultiPoint:
		return "multipoint"
	case GeomLine:
		return "line"
	case GeomPolygon:
		return "polygon"
	case GeomMultiPatch:
		return "multipatch"
	}
	return fmt.Sprintf("GeometryType(%d)", uint8(g))
}

// MarshalText renders the type by name in JSON output.
func (g GeometryType) MarshalText() ([]byte, error) {
	return []byte(g.String()), nil
}

// Field describes one column.
type Field struct {
	Name     string      `json:"name"`
	Alias    string      `json:"alias,omitempty"`
	Type     FieldType   `json:"type"`
	Nullable bool        `json:"nullable"`
	Required bool        `json:"required,omitempty"`
	Editable bool        `json:"editable,omitempty"`
	MaxWidth int         `json:"max_width,omitempty"`
	Default  Value       `json:"-"`
	Geometry *GeomInfo   `json:"geometry,omitempty"`
	Raster   *RasterInfo `json:"raster,omitempty"`
}

// GeomInfo holds the coordinate system metadata of a geometry or raster
// field. Z and M values are only meaningful when HasZ and HasM are set.
type GeomInfo struct {
	WKT         string    `json:"wkt,omitempty"`
	HasM        bool      `json:"has_m"`
	HasZ        bool      `json:"has_z"`
	XOrigin     float64   `json:"x_origin"`
	YOrigin     float64   `json:"y_origin"`
	XYScale     float64   `json:"xy_scale"`
	MOrigin     float64   `json:"m_origin,omitempty"`
	MScale      float64   `json:"m_scale,omitempty"`
	ZOrigin     float64   `json:"z_origin,omitempty"`
	ZScale      float64   `json:"z_scale,omitempty"`
	XYTolerance float64   `json:"xy_tolerance"`
	MTolerance  float64   `json:"m_tolerance,omitempty"`
	ZTolerance  float64   `json:"z_tolerance,omitempty"`
	Extent      Envelope  `json:"-"`
	ZMin        float64   `json:"-"`
	ZMax        float64   `json:"-"`
	MMin        float64   `json:"-"`
	MMax        float64   `json:"-"`
	GridSizes   []float64 `json:"grid_sizes,omitempty"`
}

// RasterInfo holds the raster-specific part of a raster field.
type RasterInfo struct {
	Column string     `json:"column,omitempty"`
	Kind   RasterKind `json:"kind"`
}

// fixedSize returns the encoded width of the field's value, or -1 when the
// value is length-prefixed.
func (f *Field) fixedSize() int {
	if f.Type == FieldRaster && f.Raster != nil && f.Raster.Kind == RasterManaged {
		return 4
	}
	return fixedSizes[f.Type]
}

// defaultValue decodes an editable field's default from b. An unsupported
// width leaves the default unset.
func (f *Field) defaultValue(b []byte, utf8Strings bool) Value {
	n := len(b)
	switch f.Type {
	case FieldString:
		if utf8Strings {
			return Value{Kind: KindString, Bytes: append([]byte(nil), b...)}
		}
		return Value{Kind: KindString, Bytes: []byte(decodeUTF16(b))}
	case FieldInt16:
		if n == 2 {
			return Value{Kind: KindInt16, Int: int64(readI16(b, 0))}
		}
	case FieldInt32:
		if n == 4 {
			return Value{Kind: KindInt32, Int: int64(readI32(b, 0))}
		}
	case FieldFloat32:
		if n == 4 {
			return Value{Kind: KindFloat32, Float: float64(readF32(b, 0))}
		}
	case FieldFloat64:
		if n == 8 {
			return Value{Kind: KindFloat64, Float: readF64(b, 0)}
		}
	case FieldDateTime, FieldDate:
		if n == 8 {
			return Value{Kind: kindOf(f), Float: readF64(b, 0)}
		}
	case FieldTime:
		if n == 8 {
			return Value{Kind: KindTime, Float: readF64(b, 0)}
		}
	case FieldInt64:
		if n == 8 {
			return Value{Kind: KindInt64, Int: readI64(b, 0)}
		}
	case FieldDateTimeOffset:
		if n == 10 {
			return Value{Kind: KindDateTimeOffset, Float: readF64(b, 0), Offset: readI16(b, 8)}
		}
	}
	return Value{}
}

// sanitizeScale returns s, or the smallest positive double when s is zero, so the
// division in coordinate decoding never yields an infinity.
func sanitizeScale(s float64) float64 {
	if s == 0 {
		return math.SmallestNonzeroFloat64
	}
	return s
}
