// Encoders for the row and varint formats.
//
// These are the inverse of the decoders in varint.go and row.go. Row blobs
// built here follow the same bit-packing rules the reader enforces: the
// nullable bitmask first, then each non-null field in schema order.
package filegdb

import (
	"encoding/binary"
	"fmt"
	"math"
)

// AppendVarUint appends v as an unsigned varint.
func AppendVarUint(dst []byte, v uint64) []byte {
	for v >= 0x80 {
		dst = append(dst, byte(v)|0x80)
		v >>= 7
	}
	return append(dst, byte(v))
}

// AppendVarInt appends v as a signed delta varint: sign in bit 6 of the
// first byte, six data bits, then 7-bit continuation groups.
func AppendVarInt(dst []byte, v int64) []byte {
	var mag uint64
	var sign byte
	if v < 0 {
		sign = 0x40
		mag = uint64(-v)
	} else {
		mag = uint64(v)
	}

	b := byte(mag&0x3F) | sign
	mag >>= 6
	if mag == 0 {
		return append(dst, b)
	}
	dst = append(dst, b|0x80)
	return AppendVarUint(dst, mag)
}

// EncodeRow builds a row blob (without its 4-byte length prefix) for the
// given fields. values must have one entry per field. Null values are only
// accepted for nullable fields and take no bytes beyond their bitmask bit.
// Object-id fields are implicit and their values are ignored.
func EncodeRow(fields []*Field, values []Value, utf8Strings bool) ([]byte, error) {
	if len(values) != len(fields) {
		return nil, fmt.Errorf("encode row: %d values for %d fields", len(values), len(fields))
	}

	nullable := 0
	for _, f := range fields {
		if f.Nullable {
			nullable++
		}
	}
	out := make([]byte, (nullable+7)/8)

	bit := 0
	for i, f := range fields {
		v := values[i]
		if f.Nullable {
			if v.Kind == KindNull {
				out[bit>>3] |= 1 << (bit & 7)
				bit++
				continue
			}
			bit++
		} else if v.Kind == KindNull && f.Type != FieldObjectID {
			return nil, fmt.Errorf("encode row: field %q is not nullable", f.Name)
		}

		var err error
		out, err = appendValue(out, f, v, utf8Strings)
		if err != nil {
			return nil, fmt.Errorf("encode row: field %q: %w", f.Name, err)
		}
	}
	return out, nil
}

func appendValue(out []byte, f *Field, v Value, utf8Strings bool) ([]byte, error) {
	switch f.Type {
	case FieldObjectID:
		return out, nil
	case FieldString, FieldXML:
		b := v.Bytes
		if f.Type == FieldString && !utf8Strings {
			b = encodeUTF16(string(v.Bytes))
		}
		out = AppendVarUint(out, uint64(len(b)))
		return append(out, b...), nil
	case FieldBinary, FieldGeometry:
		out = AppendVarUint(out, uint64(len(v.Bytes)))
		return append(out, v.Bytes...), nil
	case FieldRaster:
		if f.Raster != nil && f.Raster.Kind == RasterManaged {
			return binary.LittleEndian.AppendUint32(out, uint32(int32(v.Int))), nil
		}
		b := v.Bytes
		if f.Raster != nil && f.Raster.Kind == RasterExternal {
			b = encodeUTF16(string(v.Bytes))
		}
		out = AppendVarUint(out, uint64(len(b)))
		return append(out, b...), nil
	case FieldInt16:
		return binary.LittleEndian.AppendUint16(out, uint16(int16(v.Int))), nil
	case FieldInt32:
		return binary.LittleEndian.AppendUint32(out, uint32(int32(v.Int))), nil
	case FieldInt64:
		return binary.LittleEndian.AppendUint64(out, uint64(v.Int)), nil
	case FieldFloat32:
		return binary.LittleEndian.AppendUint32(out, math.Float32bits(float32(v.Float))), nil
	case FieldFloat64, FieldDateTime, FieldDate, FieldTime:
		return binary.LittleEndian.AppendUint64(out, math.Float64bits(v.Float)), nil
	case FieldDateTimeOffset:
		out = binary.LittleEndian.AppendUint64(out, math.Float64bits(v.Float))
		return binary.LittleEndian.AppendUint16(out, uint16(v.Offset)), nil
	case FieldGUID, FieldGlobalID:
		return append(out, guidToDisk(v.GUID)...), nil
	}
	return nil, fmt.Errorf("unknown field type %d", f.Type)
}
