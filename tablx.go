// Offset index (.gdbtablx) reader.
//
// The index is a 16-byte header followed by one fixed-width little-endian
// offset (4 to 6 bytes) per row slot, grouped in blocks of 1024 rows. Only
// blocks holding at least one row are stored. When some blocks are absent,
// a trailer after the offset array carries a bitmap with one bit per block
// and the dense slot of a row is found by counting the present blocks that
// precede it.
//
// Version 3 keeps the total row count in the header. Version 4 moves it to
// the trailer, widens the block count to 64 bits and uses a bitmap section
// whose layout is only partially understood: unrecognised sections make
// row numbers approximate and object ids unreliable.
package filegdb

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"math/bits"

	"github.com/sirupsen/logrus"
)

const (
	tablxHeaderSize = 16
	rowsPerBlock    = 1024

	v4BitmapPrefix  = 22
	v4BitmapBytes   = 32768
	v4BitmapSection = v4BitmapPrefix + v4BitmapBytes + 52
)

var (
	v4SectionMagic = []byte{0x01, 0x00, 0x01, 0x00, 0x00, 0x00}
	v4BitmapMagic  = []byte{0x01, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}
)

// offsetIndex resolves row numbers through a .gdbtablx file.
type offsetIndex struct {
	r         io.ReaderAt
	blocks    uint64
	total     int64
	entrySize int
	blockMap  []byte // nil when every block up to total is present
	reliable  bool   // false when the V4 bitmap section was not recognised

	// Present blocks before cacheBlock, for ascending access.
	cacheBlock int64
	cacheCount int64

	scratch [8]byte
}

// testBit tests bit i of an LSB-first bit array. Bits past the array read
// as clear.
func testBit(b []byte, i int64) bool {
	if i < 0 || i>>3 >= int64(len(b)) {
		return false
	}
	return b[i>>3]&(1<<(i&7)) != 0
}

// readIndex reads the offset index header and trailer for a table of the
// given version.
func readIndex(r io.ReaderAt, version int, log logrus.FieldLogger) (*offsetIndex, error) {
	var hdr [tablxHeaderSize]byte
	if err := readFull(r, hdr[:], 0); err != nil {
		return nil, fmt.Errorf("%w: header: %w", ErrCorruptIndex, err)
	}
	if v := int(readU32(hdr[:], 0)); v != version {
		return nil, fmt.Errorf("%w: version %d, table version %d", ErrCorruptIndex, v, version)
	}

	idx := &offsetIndex{r: r, reliable: true}
	if version == 3 {
		return idx, idx.readV3(hdr[:])
	}
	return idx, idx.readV4(hdr[:], log)
}

func (idx *offsetIndex) readEntrySize(hdr []byte) error {
	idx.entrySize = int(readU32(hdr, 12))
	if idx.entrySize < 4 || idx.entrySize > 6 {
		return fmt.Errorf("%w: entry size %d", ErrCorruptIndex, idx.entrySize)
	}
	return nil
}

func (idx *offsetIndex) trailerOffset() int64 {
	return tablxHeaderSize + int64(idx.entrySize)*rowsPerBlock*int64(idx.blocks)
}

func (idx *offsetIndex) readV3(hdr []byte) error {
	idx.blocks = uint64(readU32(hdr, 4))
	idx.total = int64(readI32(hdr, 8))
	if idx.blocks == 0 && idx.total != 0 {
		return fmt.Errorf("%w: %d rows in zero blocks", ErrCorruptIndex, idx.total)
	}
	if idx.total < 0 {
		return fmt.Errorf("%w: negative row count %d", ErrCorruptIndex, idx.total)
	}
	if err := idx.readEntrySize(hdr); err != nil {
		return err
	}
	if idx.blocks == 0 {
		return nil
	}

	var tr [16]byte
	off := idx.trailerOffset()
	if err := readFull(idx.r, tr[:], off); err != nil {
		return fmt.Errorf("%w: trailer: %w", ErrCorruptIndex, err)
	}
	words := readU32(tr[:], 0)
	nbits := readU32(tr[:], 4)
	if nbits > 1+math.MaxInt32/rowsPerBlock {
		return fmt.Errorf("%w: bitmap of %d bits", ErrCorruptIndex, nbits)
	}
	if uint64(readU32(tr[:], 8)) != idx.blocks {
		return fmt.Errorf("%w: trailer block count %d, header %d", ErrCorruptIndex, readU32(tr[:], 8), idx.blocks)
	}

	if words == 0 {
		if uint64(nbits) != idx.blocks {
			return fmt.Errorf("%w: %d bitmap bits for %d blocks", ErrCorruptIndex, nbits, idx.blocks)
		}
		return nil
	}

	if idx.total > int64(nbits)*rowsPerBlock {
		return fmt.Errorf("%w: %d rows exceed bitmap of %d blocks", ErrCorruptIndex, idx.total, nbits)
	}
	idx.blockMap = make([]byte, (nbits+7)/8)
	if err := readFull(idx.r, idx.blockMap, off+int64(len(tr))); err != nil {
		return fmt.Errorf("%w: bitmap: %w", ErrCorruptIndex, err)
	}
	var present uint64
	for i := range int64(nbits) {
		if testBit(idx.blockMap, i) {
			present++
		}
	}
	if present != idx.blocks {
		return fmt.Errorf("%w: bitmap marks %d blocks, header %d", ErrCorruptIndex, present, idx.blocks)
	}
	return nil
}

func (idx *offsetIndex) readV4(hdr []byte, log logrus.FieldLogger) error {
	idx.blocks = readU64(hdr, 4)
	if err := idx.readEntrySize(hdr); err != nil {
		return err
	}
	if idx.blocks > (math.MaxInt64-tablxHeaderSize)/uint64(idx.entrySize*rowsPerBlock) {
		return fmt.Errorf("%w: %d blocks overflow", ErrCorruptIndex, idx.blocks)
	}
	if idx.blocks == 0 {
		return nil
	}

	var tr [12]byte
	off := idx.trailerOffset()
	if err := readFull(idx.r, tr[:], off); err != nil {
		return fmt.Errorf("%w: trailer: %w", ErrCorruptIndex, err)
	}
	total := readU64(tr[:], 0)
	if total > math.MaxInt64 {
		return fmt.Errorf("%w: row count %d", ErrCorruptIndex, total)
	}
	idx.total = int64(total)

	problem := "unrecognised offset index bitmap"
	switch sectionSize := readU32(tr[:], 8); {
	case sectionSize == 0:
		problem = ""
	case sectionSize == v4BitmapSection && total <= v4BitmapBytes*rowsPerBlock*8:
		section := make([]byte, sectionSize)
		if err := readFull(idx.r, section, off+int64(len(tr))); err != nil {
			return fmt.Errorf("%w: bitmap: %w", ErrCorruptIndex, err)
		}
		tail := section[v4BitmapPrefix+v4BitmapBytes:]
		if !bytes.Equal(section[:len(v4SectionMagic)], v4SectionMagic) || !bytes.Equal(tail[:len(v4BitmapMagic)], v4BitmapMagic) {
			break
		}
		blockMap := section[v4BitmapPrefix : v4BitmapPrefix+v4BitmapBytes]
		if n := countBits(blockMap); n != idx.blocks {
			problem = fmt.Sprintf("offset index bitmap marks %d blocks, header %d", n, idx.blocks)
			break
		}
		idx.blockMap = blockMap
		problem = ""
	}

	if problem != "" {
		idx.reliable = false
		idx.total = rowsPerBlock * int64(idx.blocks)
		log.Warnf("%s: object ids are approximate and attribute or spatial indexes cannot be used", problem)
	}
	return nil
}

// countBits returns the number of set bits in b.
func countBits(b []byte) uint64 {
	var n int
	for _, c := range b {
		n += bits.OnesCount8(c)
	}
	return uint64(n)
}

// blockPresent reports whether the block holding row has stored offsets.
func (idx *offsetIndex) blockPresent(row int64) bool {
	return idx.blockMap == nil || testBit(idx.blockMap, row/rowsPerBlock)
}

// nextPresentBlock returns the first row of the first present block after
// the block holding row, or total when none is left.
func (idx *offsetIndex) nextPresentBlock(row int64) int64 {
	nblocks := (idx.total + rowsPerBlock - 1) / rowsPerBlock
	block := row / rowsPerBlock
	for {
		block++
		if block >= nblocks || testBit(idx.blockMap, block) {
			break
		}
	}
	if next := block * rowsPerBlock; next < idx.total {
		return next
	}
	return idx.total
}

// offsetForRow returns the table offset of row, or 0 when the row is
// absent.
func (idx *offsetIndex) offsetForRow(row int64) (uint64, error) {
	if row < 0 || row >= idx.total {
		return 0, fmt.Errorf("%w: %d of %d", ErrRowOutOfRange, row, idx.total)
	}

	slot := row
	if idx.blockMap != nil {
		block := row / rowsPerBlock
		if !testBit(idx.blockMap, block) {
			return 0, nil
		}

		var before int64
		from := int64(0)
		if block >= idx.cacheBlock {
			before, from = idx.cacheCount, idx.cacheBlock
		}
		for i := from; i < block; i++ {
			if testBit(idx.blockMap, i) {
				before++
			}
		}
		idx.cacheBlock, idx.cacheCount = block, before
		slot = before*rowsPerBlock + row%rowsPerBlock
	}

	buf := idx.scratch[:]
	clear(buf)
	if err := readFull(idx.r, buf[:idx.entrySize], tablxHeaderSize+int64(idx.entrySize)*slot); err != nil {
		return 0, fmt.Errorf("%w: row %d: %w", ErrCorruptIndex, row, err)
	}
	return readU64(buf, 0), nil
}
