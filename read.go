// Low-level read primitives.
//
// Fixed-width readers decode little-endian values from a byte slice without
// bounds checks; callers check the window before calling them. File reads
// go through ReadAt so the shared file position is never used.
package filegdb

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

func readU16(b []byte, pos int) uint16 { return binary.LittleEndian.Uint16(b[pos:]) }
func readU32(b []byte, pos int) uint32 { return binary.LittleEndian.Uint32(b[pos:]) }
func readU64(b []byte, pos int) uint64 { return binary.LittleEndian.Uint64(b[pos:]) }
func readI16(b []byte, pos int) int16  { return int16(readU16(b, pos)) }
func readI32(b []byte, pos int) int32  { return int32(readU32(b, pos)) }
func readI64(b []byte, pos int) int64  { return int64(readU64(b, pos)) }

func readF32(b []byte, pos int) float32 {
	return math.Float32frombits(readU32(b, pos))
}

func readF64(b []byte, pos int) float64 {
	return math.Float64frombits(readU64(b, pos))
}

// readFull reads exactly len(buf) bytes at off. A short read is reported as
// io.ErrUnexpectedEOF so callers can tell truncation from other I/O errors.
func readFull(r io.ReaderAt, buf []byte, off int64) error {
	n, err := r.ReadAt(buf, off)
	if n == len(buf) {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return fmt.Errorf("read %d bytes at %d: %w", len(buf), off, err)
}

func size(f *os.File) (int64, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// window serves small reads from a cached chunk of the file. The recovery
// scan tries every byte offset and would otherwise issue a syscall per
// attempt.
type window struct {
	r     io.ReaderAt
	size  int64
	start int64
	buf   []byte
	chunk int
}

func newWindow(r io.ReaderAt, size int64, chunk int) *window {
	return &window{r: r, size: size, start: -1, chunk: chunk}
}

// ReadAt satisfies io.ReaderAt. Reads larger than the chunk bypass the
// cache.
func (w *window) ReadAt(p []byte, off int64) (int, error) {
	if len(p) > w.chunk {
		return w.r.ReadAt(p, off)
	}
	if w.start < 0 || off < w.start || off+int64(len(p)) > w.start+int64(len(w.buf)) {
		if err := w.fill(off); err != nil {
			return 0, err
		}
	}
	n := copy(p, w.buf[off-w.start:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (w *window) fill(off int64) error {
	if off >= w.size {
		return io.EOF
	}
	n := int64(w.chunk)
	if off+n > w.size {
		n = w.size - off
	}
	if cap(w.buf) < int(n) {
		w.buf = make([]byte, n)
	}
	w.buf = w.buf[:n]
	if _, err := w.r.ReadAt(w.buf, off); err != nil && !errors.Is(err, io.EOF) {
		w.start = -1
		return err
	}
	w.start = off
	return nil
}
