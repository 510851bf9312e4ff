package checkpoint

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
	"sort"
	"time"

	"github.com/kmsync/kmsync/pkg/kerrors"
)

var (
	errCRCMismatch = errors.New("crc32 footer does not match manifest body")
	errBadMagic    = errors.New("manifest is missing the KMAN magic header")
	errBadVersion  = errors.New("manifest format version is not supported")
)

// Manifest format: a header, a summary, a files table sorted by path,
// and a CRC32 footer over every preceding byte. The encoding is custom
// binary rather than protobuf/JSON, keeping the format free of any
// schema-evolution machinery this single-writer, single-reader store
// does not need.
const (
	manifestMagic   = "KMAN"
	manifestVersion = uint32(1)
)

// EncodeManifest serializes c into the manifest round-trip format.
func EncodeManifest(c *Checkpoint) []byte {
	var buf bytes.Buffer
	buf.WriteString(manifestMagic)
	writeUint32(&buf, manifestVersion)
	writeString(&buf, c.ID)
	writeString(&buf, c.SessionID)
	writeUint32(&buf, uint32(c.Sequence))
	writeInt64(&buf, c.CreatedUTC.UTC().UnixNano())
	writeString(&buf, c.ComponentName)
	writeString(&buf, c.ComponentID)
	writeBool(&buf, c.IsAnchor)

	writeUint32(&buf, uint32(len(c.Added)))
	writeUint32(&buf, uint32(len(c.Modified)))
	writeUint32(&buf, uint32(len(c.Deleted)))
	writeInt64(&buf, c.TotalSizeBytes)
	writeInt64(&buf, c.DeltaSizeBytes)

	writeDiffEntries(&buf, c.Added)
	writeDiffEntries(&buf, c.Modified)
	writeDiffEntries(&buf, c.Deleted)

	paths := make([]string, 0, len(c.Files))
	for p := range c.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	writeUint32(&buf, uint32(len(paths)))
	for _, p := range paths {
		writeFileRecord(&buf, c.Files[p])
	}

	footer := crc32.ChecksumIEEE(buf.Bytes())
	writeUint32(&buf, footer)
	return buf.Bytes()
}

// DecodeManifest parses bytes produced by EncodeManifest, verifying
// the CRC32 footer before trusting any field.
func DecodeManifest(data []byte) (*Checkpoint, error) {
	if len(data) < 4 {
		return nil, kerrors.CorruptManifest("<unknown>", io.ErrUnexpectedEOF)
	}
	body, footer := data[:len(data)-4], data[len(data)-4:]
	wantCRC := binary.LittleEndian.Uint32(footer)
	if gotCRC := crc32.ChecksumIEEE(body); gotCRC != wantCRC {
		return nil, kerrors.CorruptManifest("<unknown>", errCRCMismatch)
	}

	r := bytes.NewReader(body)
	magic := make([]byte, len(manifestMagic))
	if _, err := io.ReadFull(r, magic); err != nil || string(magic) != manifestMagic {
		return nil, kerrors.CorruptManifest("<unknown>", errBadMagic)
	}
	version, err := readUint32(r)
	if err != nil || version != manifestVersion {
		return nil, kerrors.CorruptManifest("<unknown>", errBadVersion)
	}

	c := &Checkpoint{}
	if c.ID, err = readString(r); err != nil {
		return nil, kerrors.CorruptManifest("<unknown>", err)
	}
	if c.SessionID, err = readString(r); err != nil {
		return nil, kerrors.CorruptManifest(c.ID, err)
	}
	seq, err := readUint32(r)
	if err != nil {
		return nil, kerrors.CorruptManifest(c.ID, err)
	}
	c.Sequence = int(seq)
	nanos, err := readInt64(r)
	if err != nil {
		return nil, kerrors.CorruptManifest(c.ID, err)
	}
	c.CreatedUTC = time.Unix(0, nanos).UTC()
	if c.ComponentName, err = readString(r); err != nil {
		return nil, kerrors.CorruptManifest(c.ID, err)
	}
	if c.ComponentID, err = readString(r); err != nil {
		return nil, kerrors.CorruptManifest(c.ID, err)
	}
	if c.IsAnchor, err = readBool(r); err != nil {
		return nil, kerrors.CorruptManifest(c.ID, err)
	}

	addedCount, err := readUint32(r)
	if err != nil {
		return nil, kerrors.CorruptManifest(c.ID, err)
	}
	modifiedCount, err := readUint32(r)
	if err != nil {
		return nil, kerrors.CorruptManifest(c.ID, err)
	}
	deletedCount, err := readUint32(r)
	if err != nil {
		return nil, kerrors.CorruptManifest(c.ID, err)
	}
	if c.TotalSizeBytes, err = readInt64(r); err != nil {
		return nil, kerrors.CorruptManifest(c.ID, err)
	}
	if c.DeltaSizeBytes, err = readInt64(r); err != nil {
		return nil, kerrors.CorruptManifest(c.ID, err)
	}

	if c.Added, err = readDiffEntries(r, addedCount); err != nil {
		return nil, kerrors.CorruptManifest(c.ID, err)
	}
	if c.Modified, err = readDiffEntries(r, modifiedCount); err != nil {
		return nil, kerrors.CorruptManifest(c.ID, err)
	}
	if c.Deleted, err = readDiffEntries(r, deletedCount); err != nil {
		return nil, kerrors.CorruptManifest(c.ID, err)
	}

	fileCount, err := readUint32(r)
	if err != nil {
		return nil, kerrors.CorruptManifest(c.ID, err)
	}
	c.Files = make(map[string]*FileRecord, fileCount)
	for i := uint32(0); i < fileCount; i++ {
		fr, err := readFileRecord(r)
		if err != nil {
			return nil, kerrors.CorruptManifest(c.ID, err)
		}
		c.Files[fr.Path] = fr
	}
	return c, nil
}

func writeDiffEntries(buf *bytes.Buffer, entries []DiffEntry) {
	for _, e := range entries {
		writeString(buf, e.Path)
		writeInt64(buf, e.ForwardDeltaSizeBytes)
		writeInt64(buf, e.TargetSizeBytes)
	}
}

func readDiffEntries(r *bytes.Reader, count uint32) ([]DiffEntry, error) {
	entries := make([]DiffEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		path, err := readString(r)
		if err != nil {
			return nil, err
		}
		fwd, err := readInt64(r)
		if err != nil {
			return nil, err
		}
		target, err := readInt64(r)
		if err != nil {
			return nil, err
		}
		entries = append(entries, DiffEntry{Path: path, ForwardDeltaSizeBytes: fwd, TargetSizeBytes: target})
	}
	return entries, nil
}

func writeFileRecord(buf *bytes.Buffer, fr *FileRecord) {
	writeString(buf, fr.Path)
	writeInt64(buf, fr.SizeBytes)
	writeString(buf, fr.Hash)
	writeString(buf, fr.CASHash)
	writeInt64(buf, fr.PieceLength)
	writeString(buf, fr.PieceHashes)
	writeInt64(buf, fr.ModTime.UTC().UnixNano())
	writeDeltaRef(buf, fr.ForwardDelta)
	writeDeltaRef(buf, fr.ReverseDelta)
}

func readFileRecord(r *bytes.Reader) (*FileRecord, error) {
	fr := &FileRecord{}
	var err error
	if fr.Path, err = readString(r); err != nil {
		return nil, err
	}
	if fr.SizeBytes, err = readInt64(r); err != nil {
		return nil, err
	}
	if fr.Hash, err = readString(r); err != nil {
		return nil, err
	}
	if fr.CASHash, err = readString(r); err != nil {
		return nil, err
	}
	if fr.PieceLength, err = readInt64(r); err != nil {
		return nil, err
	}
	if fr.PieceHashes, err = readString(r); err != nil {
		return nil, err
	}
	modNanos, err := readInt64(r)
	if err != nil {
		return nil, err
	}
	fr.ModTime = time.Unix(0, modNanos).UTC()
	if fr.ForwardDelta, err = readDeltaRef(r); err != nil {
		return nil, err
	}
	if fr.ReverseDelta, err = readDeltaRef(r); err != nil {
		return nil, err
	}
	return fr, nil
}

func writeDeltaRef(buf *bytes.Buffer, d *DeltaRef) {
	if d == nil {
		writeBool(buf, false)
		return
	}
	writeBool(buf, true)
	writeString(buf, d.BaseCASHash)
	writeString(buf, d.DeltaCASHash)
	writeInt64(buf, d.SizeBytes)
}

func readDeltaRef(r *bytes.Reader) (*DeltaRef, error) {
	present, err := readBool(r)
	if err != nil || !present {
		return nil, err
	}
	d := &DeltaRef{}
	if d.BaseCASHash, err = readString(r); err != nil {
		return nil, err
	}
	if d.DeltaCASHash, err = readString(r); err != nil {
		return nil, err
	}
	if d.SizeBytes, err = readInt64(r); err != nil {
		return nil, err
	}
	return d, nil
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}

func writeInt64(buf *bytes.Buffer, v int64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], uint64(v))
	buf.Write(tmp[:])
}

func writeBool(buf *bytes.Buffer, v bool) {
	if v {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

func writeString(buf *bytes.Buffer, s string) {
	writeUint32(buf, uint32(len(s)))
	buf.WriteString(s)
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var tmp [4]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(tmp[:]), nil
}

func readInt64(r *bytes.Reader) (int64, error) {
	var tmp [8]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(tmp[:])), nil
}

func readBool(r *bytes.Reader) (bool, error) {
	b, err := r.ReadByte()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

func readString(r *bytes.Reader) (string, error) {
	n, err := readUint32(r)
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
