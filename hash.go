// Offset table fingerprints.
//
// A fingerprint digests a recovered offset table, each offset as eight
// little-endian bytes, into 16 hex characters. Two scans of an unchanged
// file give equal fingerprints, and a snapshot stores the fingerprint of
// its offsets so a damaged payload is rejected on load.
package filegdb

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"hash/fnv"

	"github.com/zeebo/xxh3"
	"golang.org/x/crypto/blake2b"
)

// Fingerprint algorithms. Zero selects AlgXXHash3.
const (
	AlgXXHash3 = 1
	AlgFNV1a   = 2
	AlgBlake2b = 3
)

// offsetHash returns a fresh 64-bit hash for alg.
func offsetHash(alg int) (hash.Hash, error) {
	switch alg {
	case 0, AlgXXHash3:
		return xxh3.New(), nil
	case AlgFNV1a:
		return fnv.New64a(), nil
	case AlgBlake2b:
		return blake2b.New(8, nil)
	}
	return nil, fmt.Errorf("unknown fingerprint algorithm %d", alg)
}

// fingerprint digests offsets with alg.
func fingerprint(offsets []uint64, alg int) (string, error) {
	h, err := offsetHash(alg)
	if err != nil {
		return "", err
	}
	var b [8]byte
	for _, off := range offsets {
		binary.LittleEndian.PutUint64(b[:], off)
		h.Write(b[:])
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
