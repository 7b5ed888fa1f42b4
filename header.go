// Header management for the table file.
//
// The primary header is exactly 40 bytes. Version 3 tables (ArcGIS 10.x)
// store the valid record count as an int32 at byte 4; version 4 tables
// (ArcGIS Pro 3.2+, 64-bit object ids) store it as an int64 at byte 16.
// Both keep the maximum row size hint at byte 8 and the offset of the
// field descriptor section at byte 32.
package filegdb

import (
	"encoding/binary"
	"fmt"
	"io"
)

// HeaderSize is the fixed size of the primary header in bytes.
const HeaderSize = 40

// Byte offsets of the header fields patched in place.
const (
	offValidCountV3 = 4
	offMaxRowSize   = 8
	offValidCountV4 = 16
	offFileSize     = 24
	offFieldDesc    = 32
)

// Header contains table metadata stored at the start of the file.
type Header struct {
	Version          int    `json:"version"`            // 3 or 4
	ValidRecordCount int64  `json:"valid_record_count"` // rows not deleted
	MaxRowSize       uint32 `json:"max_row_size"`       // largest row blob, a hint
	FileSize         uint64 `json:"file_size"`          // declared, informational
	FieldDescOffset  uint64 `json:"field_desc_offset"`
}

// header reads and validates the primary header.
func header(r io.ReaderAt) (*Header, error) {
	buf := make([]byte, HeaderSize)
	if err := readFull(r, buf, 0); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptHeader, err)
	}
	return decodeHeader(buf)
}

func decodeHeader(buf []byte) (*Header, error) {
	hdr := &Header{Version: int(readI32(buf, 0))}
	switch hdr.Version {
	case 3:
		n := readI32(buf, offValidCountV3)
		if n < 0 {
			return nil, fmt.Errorf("%w: negative valid record count %d", ErrCorruptHeader, n)
		}
		hdr.ValidRecordCount = int64(n)
	case 4:
		n := readI64(buf, offValidCountV4)
		if n < 0 {
			return nil, fmt.Errorf("%w: negative valid record count %d", ErrCorruptHeader, n)
		}
		hdr.ValidRecordCount = n
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, hdr.Version)
	}
	hdr.MaxRowSize = readU32(buf, offMaxRowSize)
	hdr.FileSize = readU64(buf, offFileSize)
	hdr.FieldDescOffset = readU64(buf, offFieldDesc)
	return hdr, nil
}

// encode serialises the header to exactly HeaderSize bytes. Byte 12 carries
// the constant 5 written by ArcGIS.
func (h *Header) encode() []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:], uint32(h.Version))
	if h.Version == 4 {
		binary.LittleEndian.PutUint64(buf[offValidCountV4:], uint64(h.ValidRecordCount))
	} else {
		binary.LittleEndian.PutUint32(buf[offValidCountV3:], uint32(h.ValidRecordCount))
	}
	binary.LittleEndian.PutUint32(buf[offMaxRowSize:], h.MaxRowSize)
	binary.LittleEndian.PutUint32(buf[12:], 5)
	binary.LittleEndian.PutUint64(buf[offFileSize:], h.FileSize)
	binary.LittleEndian.PutUint64(buf[offFieldDesc:], h.FieldDescOffset)
	return buf
}
