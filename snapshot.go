// Offset snapshots.
//
// A recovery scan reads the whole table file. A snapshot stores its result
// beside the table so the next Open of the same file can skip the scan. The
// file is a single JSON header line followed by the zstd-compressed
// little-endian offset array:
//
//	{"_v":1,"_alg":1,"_fs":123456,"_n":3,"_inv":0,"_del":false,"_rd":false,"_c":"..."}\n
//	<zstd payload>
//
// _fs is the size of the table file the scan ran on and _rd records whether
// deleted rows were requested. A snapshot taken from a table of another
// size or with another deleted-row setting is stale. _c is the fingerprint
// of the offsets and detects a damaged payload.
package filegdb

import (
	"bytes"
	"cmp"
	"encoding/binary"
	"fmt"

	json "github.com/goccy/go-json"
)

const snapshotVersion = 1

// snapshotHeader is the first line of a snapshot file.
type snapshotHeader struct {
	Version   int    `json:"_v"`   // snapshot format version
	Algorithm int    `json:"_alg"` // fingerprint algorithm
	FileSize  int64  `json:"_fs"`  // table file size at scan time
	Count     int64  `json:"_n"`   // number of offsets
	Invalid   int64  `json:"_inv"` // deleted rows recorded as 0
	Deleted   bool   `json:"_del"` // some offsets carry deletedBit
	Report    bool   `json:"_rd"`  // Config.ReportDeleted at scan time
	Checksum  string `json:"_c"`   // fingerprint of the offsets
}

// encodeSnapshot serialises l for a table file of the given size.
// A zero alg records AlgXXHash3.
func encodeSnapshot(l *Locations, fileSize int64, report bool, alg int) ([]byte, error) {
	alg = cmp.Or(alg, AlgXXHash3)
	sum, err := fingerprint(l.Offsets, alg)
	if err != nil {
		return nil, err
	}
	raw := l.bytes()
	hdr := snapshotHeader{
		Version:   snapshotVersion,
		Algorithm: alg,
		FileSize:  fileSize,
		Count:     int64(len(l.Offsets)),
		Invalid:   l.Invalid,
		Deleted:   l.DeletedListed,
		Report:    report,
		Checksum:  sum,
	}
	line, err := json.Marshal(hdr)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 0, len(line)+1+len(raw)/2)
	buf = append(buf, line...)
	buf = append(buf, '\n')
	return append(buf, compress(raw)...), nil
}

// decodeSnapshot parses a snapshot and checks it against the table file
// size and deleted-row setting.
func decodeSnapshot(data []byte, fileSize int64, report bool) (*Locations, error) {
	nl := bytes.IndexByte(data, '\n')
	if nl < 0 {
		return nil, fmt.Errorf("%w: no header line", ErrSnapshotMismatch)
	}
	var hdr snapshotHeader
	if err := json.Unmarshal(data[:nl], &hdr); err != nil {
		return nil, fmt.Errorf("%w: header: %w", ErrSnapshotMismatch, err)
	}
	switch {
	case hdr.Version != snapshotVersion:
		return nil, fmt.Errorf("%w: version %d", ErrSnapshotMismatch, hdr.Version)
	case hdr.FileSize != fileSize:
		return nil, fmt.Errorf("%w: taken at file size %d, table is %d", ErrSnapshotMismatch, hdr.FileSize, fileSize)
	case hdr.Report != report:
		return nil, fmt.Errorf("%w: deleted row setting differs", ErrSnapshotMismatch)
	case hdr.Count <= 0 || hdr.Invalid < 0 || hdr.Invalid > hdr.Count:
		return nil, fmt.Errorf("%w: %d offsets, %d invalid", ErrSnapshotMismatch, hdr.Count, hdr.Invalid)
	}

	raw, err := decompress(data[nl+1:])
	if err != nil {
		return nil, err
	}
	if int64(len(raw)) != 8*hdr.Count {
		return nil, fmt.Errorf("%w: payload of %d bytes for %d offsets", ErrSnapshotMismatch, len(raw), hdr.Count)
	}

	l := &Locations{
		Offsets:       make([]uint64, hdr.Count),
		Invalid:       hdr.Invalid,
		DeletedListed: hdr.Deleted,
	}
	for i := range l.Offsets {
		l.Offsets[i] = binary.LittleEndian.Uint64(raw[8*i:])
	}
	sum, err := fingerprint(l.Offsets, hdr.Algorithm)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSnapshotMismatch, err)
	}
	if sum != hdr.Checksum {
		return nil, fmt.Errorf("%w: checksum", ErrSnapshotMismatch)
	}
	for _, off := range l.Offsets {
		if off&^deletedBit >= uint64(fileSize) {
			return nil, fmt.Errorf("%w: offset %d beyond file", ErrSnapshotMismatch, off&^deletedBit)
		}
	}
	return l, nil
}

// SaveSnapshot writes l to name in the table's directory. The file is
// written under a temporary name and renamed into place.
func (t *Table) SaveSnapshot(l *Locations, name string) error {
	if t.closed {
		return ErrClosed
	}
	data, err := encodeSnapshot(l, t.fileSize, t.config.ReportDeleted, t.config.HashAlgorithm)
	if err != nil {
		return err
	}
	tmp := name + ".tmp"
	if err := t.root.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := t.root.Rename(tmp, name); err != nil {
		t.root.Remove(tmp)
		return err
	}
	return nil
}

// LoadSnapshot reads the snapshot name from the table's directory. A
// snapshot that does not match the table returns ErrSnapshotMismatch.
func (t *Table) LoadSnapshot(name string) (*Locations, error) {
	if t.closed {
		return nil, ErrClosed
	}
	data, err := t.root.ReadFile(name)
	if err != nil {
		return nil, err
	}
	return decodeSnapshot(data, t.fileSize, t.config.ReportDeleted)
}
