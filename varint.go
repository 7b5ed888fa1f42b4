// Variable-length integer primitives.
//
// FileGDB uses two varint flavours. Unsigned varints (lengths, counts,
// shape types) carry 7 data bits per byte, least significant group first,
// with the top bit as the continuation flag. Signed delta varints (geometry
// coordinates) carry the sign in bit 6 of the first byte, so the first byte
// holds only 6 data bits and later bytes hold 7.
//
// Row buffers are padded with zero bytes past the blob, and the unchecked
// readers treat anything beyond the slice as zero. A zero byte terminates a
// varint, so an overread stops after at most one byte and never panics.
package filegdb

import "fmt"

// boundsPolicy selects how a varint read treats the end of its window.
type boundsPolicy int

const (
	checkVerbose boundsPolicy = iota // bounded, errors carry position context
	checkSilent                      // bounded, bare sentinel errors
	checkNone                        // unbounded, bytes past the slice read as zero
)

// byteAt returns buf[i], or zero past the end of the slice.
func byteAt(buf []byte, i int) byte {
	if i < len(buf) {
		return buf[i]
	}
	return 0
}

// readVarUint decodes an unsigned varint from buf starting at pos. end bounds
// the read for the checked policies. It returns the value and the position
// after the last byte consumed.
func readVarUint[T uint32 | uint64](buf []byte, pos, end int, policy boundsPolicy) (T, int, error) {
	var width uint
	var zero T
	switch any(zero).(type) {
	case uint32:
		width = 32
	default:
		width = 64
	}

	start := pos
	var v T
	var shift uint
	for {
		if policy != checkNone && pos >= end {
			if policy == checkVerbose {
				return 0, pos, fmt.Errorf("varint at %d: %w", start, ErrVarintTruncated)
			}
			return 0, pos, ErrVarintTruncated
		}
		b := byteAt(buf, pos)
		pos++
		v |= T(b&0x7F) << shift
		if b&0x80 == 0 {
			return v, pos, nil
		}
		shift += 7
		if shift >= width {
			if policy == checkVerbose {
				return 0, pos, fmt.Errorf("varint at %d exceeds %d bits: %w", start, width, ErrVarintOverflow)
			}
			return 0, pos, ErrVarintOverflow
		}
	}
}

// readVarIntAdd decodes a signed delta varint at pos and adds it into acc.
// It performs no bounds check; bytes past buf read as zero. A varint longer
// than 64 bits returns ErrVarintOverflow and leaves acc as it was.
func readVarIntAdd(buf []byte, pos int, acc *int64) (int, error) {
	start := pos
	b := byteAt(buf, pos)
	pos++
	v := uint64(b & 0x3F)
	negative := b&0x40 != 0

	shift := uint(6)
	for b&0x80 != 0 {
		if shift >= 64 {
			return pos, fmt.Errorf("varint at %d exceeds 64 bits: %w", start, ErrVarintOverflow)
		}
		b = byteAt(buf, pos)
		pos++
		v |= uint64(b&0x7F) << shift
		shift += 7
	}

	if negative {
		*acc -= int64(v)
	} else {
		*acc += int64(v)
	}
	return pos, nil
}

// skipVarUint advances over n consecutive unsigned varints. Only the
// starting position is checked against end, like the decoders that follow
// it the skip relies on the zero padding after the row blob.
func skipVarUint(buf []byte, pos, end, n int) (int, error) {
	if pos >= end {
		return pos, ErrVarintTruncated
	}
	for range n {
		for byteAt(buf, pos)&0x80 != 0 {
			pos++
		}
		pos++
	}
	return pos, nil
}

// varintLen returns the number of bytes of the varint starting at pos,
// without decoding it. It stops at end.
func varintLen(buf []byte, pos, end int) int {
	n := 0
	for pos+n < end {
		b := buf[pos+n]
		n++
		if b&0x80 == 0 {
			return n
		}
	}
	return n
}
