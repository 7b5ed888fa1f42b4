// Decoded field values.
//
// Value is a tagged union over the field types. Scalars are held inline.
// Byte-backed kinds (strings stored as UTF-8, XML, binary, inline raster
// and geometry) hold a Bytes slice that borrows the table's row buffer: it
// stays valid only until the next SelectRow on the same Table. Use Clone to
// keep a value beyond that point.
package filegdb

import (
	"encoding/base64"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind identifies which member of a Value is set.
type Kind uint8

const (
	KindUnset Kind = iota // no value, e.g. a field without a default
	KindNull
	KindObjectID
	KindInt16
	KindInt32
	KindInt64
	KindFloat32
	KindFloat64
	KindString
	KindXML
	KindDateTime
	KindDate
	KindTime
	KindDateTimeOffset
	KindGUID
	KindBinary
	KindGeometry
	KindRaster
)

// Value is one decoded field.
//
// Int holds integers, object ids and managed raster ids. Float holds
// floating point values and the raw day count of date kinds (a fraction of
// a day for KindTime). Offset is the UTC offset in minutes of
// KindDateTimeOffset.
type Value struct {
	Kind   Kind
	Int    int64
	Float  float64
	Offset int16
	GUID   uuid.UUID
	Bytes  []byte
}

// IsNull reports whether the field was null in the row.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// Clone returns a copy whose Bytes no longer alias the row buffer.
func (v Value) Clone() Value {
	if v.Bytes != nil {
		v.Bytes = append([]byte(nil), v.Bytes...)
	}
	return v
}

// Time returns the instant of a date kind. KindDateTimeOffset values carry
// their own fixed zone; the others are UTC. ok is false for other kinds or
// when the day count is out of range.
func (v Value) Time() (t time.Time, ok bool) {
	switch v.Kind {
	case KindDateTime, KindDate:
		return daysToTime(v.Float)
	case KindDateTimeOffset:
		t, ok = daysToTime(v.Float)
		if !ok {
			return t, false
		}
		zone := time.FixedZone("", int(v.Offset)*60)
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), zone), true
	}
	return time.Time{}, false
}

// Duration returns the time of day of a KindTime value.
func (v Value) Duration() (time.Duration, bool) {
	if v.Kind != KindTime {
		return 0, false
	}
	return dayFraction(v.Float)
}

// String renders the value as text. Byte-backed text kinds are copied.
func (v Value) String() string {
	switch v.Kind {
	case KindUnset, KindNull:
		return ""
	case KindObjectID, KindInt16, KindInt32, KindInt64:
		return strconv.FormatInt(v.Int, 10)
	case KindFloat32:
		return strconv.FormatFloat(v.Float, 'g', -1, 32)
	case KindFloat64:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case KindString, KindXML:
		return string(v.Bytes)
	case KindDateTime, KindDateTimeOffset:
		if t, ok := v.Time(); ok {
			return t.Format(time.RFC3339Nano)
		}
		return ""
	case KindDate:
		if t, ok := v.Time(); ok {
			return t.Format(time.DateOnly)
		}
		return ""
	case KindTime:
		if d, ok := v.Duration(); ok {
			return time.Time{}.Add(d).Format("15:04:05.999")
		}
		return ""
	case KindGUID:
		return formatGUID(v.GUID)
	case KindRaster:
		if v.Bytes == nil {
			return strconv.FormatInt(v.Int, 10)
		}
		return string(v.Bytes)
	}
	return base64.StdEncoding.EncodeToString(v.Bytes)
}

// Interface returns the value as a plain Go value suitable for JSON output.
// Byte-backed values are copied. Non-finite floats become nil.
func (v Value) Interface() any {
	switch v.Kind {
	case KindUnset, KindNull:
		return nil
	case KindObjectID, KindInt16, KindInt32, KindInt64:
		return v.Int
	case KindFloat32, KindFloat64:
		if math.IsNaN(v.Float) || math.IsInf(v.Float, 0) {
			return nil
		}
		return v.Float
	case KindBinary, KindGeometry:
		return append([]byte(nil), v.Bytes...)
	case KindRaster:
		if v.Bytes == nil {
			return v.Int
		}
	}
	return v.String()
}

func kindOf(f *Field) Kind {
	switch f.Type {
	case FieldInt16:
		return KindInt16
	case FieldInt32:
		return KindInt32
	case FieldInt64:
		return KindInt64
	case FieldFloat32:
		return KindFloat32
	case FieldFloat64:
		return KindFloat64
	case FieldString:
		return KindString
	case FieldXML:
		return KindXML
	case FieldDateTime:
		return KindDateTime
	case FieldDate:
		return KindDate
	case FieldTime:
		return KindTime
	case FieldDateTimeOffset:
		return KindDateTimeOffset
	case FieldGUID, FieldGlobalID:
		return KindGUID
	case FieldBinary:
		return KindBinary
	case FieldGeometry:
		return KindGeometry
	case FieldRaster:
		return KindRaster
	case FieldObjectID:
		return KindObjectID
	}
	return KindUnset
}

// GUIDs are stored with their first three groups little-endian.
var guidOrder = [16]int{3, 2, 1, 0, 5, 4, 7, 6, 8, 9, 10, 11, 12, 13, 14, 15}

func guidFromDisk(b []byte) uuid.UUID {
	var u uuid.UUID
	for i, j := range guidOrder {
		u[i] = b[j]
	}
	return u
}

func guidToDisk(u uuid.UUID) []byte {
	b := make([]byte, 16)
	for i, j := range guidOrder {
		b[j] = u[i]
	}
	return b
}

// formatGUID renders u in the braced upper-case form ArcGIS displays.
func formatGUID(u uuid.UUID) string {
	return "{" + strings.ToUpper(u.String()) + "}"
}
