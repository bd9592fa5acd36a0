// Copyright 2012 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package manifest

import (
	"bufio"
	"bytes"
	"cmp"
	"encoding/binary"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/lsmcore/lsmcore/internal/base"
)

// The MANIFEST file is a sequence of records (see the record package), each
// holding one encoded VersionEdit. An edit is a list of tagged fields. Every
// tag is a uvarint, followed by the field's payload: uvarints for numbers and
// length-prefixed byte strings for names and keys. Fields that are not set
// are not written.

// Tags for the versionEdit disk format. Tag 8 is no longer used.
const (
	// LevelDB tags.
	tagComparator     = 1
	tagLogNumber      = 2
	tagNextFileNumber = 3
	tagLastSequence   = 4
	tagCompactPointer = 5
	tagDeletedFile    = 6
	tagNewFile        = 7
	tagPrevLogNumber  = 9

	// RocksDB tags.
	tagNewFile2         = 100
	tagNewFile3         = 102
	tagNewFile4         = 103
	tagColumnFamily     = 200
	tagColumnFamilyAdd  = 201
	tagColumnFamilyDrop = 202
	tagMaxColumnFamily  = 203

	// The custom tags sub-format used by tagNewFile4.
	customTagTerminate         = 1
	customTagNeedsCompaction   = 2
	customTagPathID            = 65
	customTagNonSafeIgnoreMask = 1 << 6
)

// DeletedFileEntry holds the state for a file deletion from a level. The file
// itself might still be referenced by another level.
type DeletedFileEntry struct {
	Level   int
	FileNum base.FileNum
}

// NewFileEntry holds the state for a new file or one moved from a different
// level.
type NewFileEntry struct {
	Level int
	Meta  *FileMetadata
}

// VersionEdit holds the state for an edit to a Version along with other
// on-disk state (log numbers, next file number, and the last sequence number).
//
// Every optional scalar carries a Has flag: an edit distinguishes a field set
// to zero from a field that is absent, and the flags survive a round trip
// through Encode and Decode.
type VersionEdit struct {
	// ColumnFamily is the id of the column family the edit applies to. The
	// default column family has id 0, which is not written.
	ColumnFamily uint32

	// ComparerName is the name of the column family's comparer. It is set in
	// the first edit describing a column family in a manifest and is checked
	// against the configured comparer on recovery.
	ComparerName    string
	HasComparerName bool

	// LogNum is the smallest WAL file number holding mutations for the column
	// family that have not been flushed to a table.
	LogNum    base.FileNum
	HasLogNum bool

	// PrevLogNum is a historical artifact from LevelDB that is persisted and
	// recovered but plays no role in recovery.
	PrevLogNum    base.FileNum
	HasPrevLogNum bool

	// NextFileNum is the next file number to hand out. A single counter is
	// used to assign file numbers for the WAL, MANIFEST, table and OPTIONS
	// files.
	NextFileNum    base.FileNum
	HasNextFileNum bool

	// LastSeqNum is an upper bound on the sequence numbers that have been
	// assigned in flushed WALs.
	LastSeqNum    base.SeqNum
	HasLastSeqNum bool

	// MaxColumnFamily is the largest column family id ever handed out, so
	// that ids of dropped families are not reused.
	MaxColumnFamily    uint32
	HasMaxColumnFamily bool

	// ColumnFamilyAdd marks an edit creating the column family named
	// ColumnFamilyName with id ColumnFamily.
	ColumnFamilyAdd  bool
	ColumnFamilyName string
	// ColumnFamilyDrop marks an edit dropping the column family.
	ColumnFamilyDrop bool

	// A file num may be present in both deleted files and new files when it
	// is moved from one level to another (a trivial move).
	DeletedFiles map[DeletedFileEntry]struct{}
	NewFiles     []NewFileEntry
}

// SetComparerName sets the comparer name.
func (v *VersionEdit) SetComparerName(name string) {
	v.ComparerName, v.HasComparerName = name, true
}

// SetLogNum sets the log number.
func (v *VersionEdit) SetLogNum(n base.FileNum) {
	v.LogNum, v.HasLogNum = n, true
}

// SetPrevLogNum sets the previous log number.
func (v *VersionEdit) SetPrevLogNum(n base.FileNum) {
	v.PrevLogNum, v.HasPrevLogNum = n, true
}

// SetNextFileNum sets the next file number.
func (v *VersionEdit) SetNextFileNum(n base.FileNum) {
	v.NextFileNum, v.HasNextFileNum = n, true
}

// SetLastSeqNum sets the last sequence number.
func (v *VersionEdit) SetLastSeqNum(n base.SeqNum) {
	v.LastSeqNum, v.HasLastSeqNum = n, true
}

// SetMaxColumnFamily sets the maximum column family id.
func (v *VersionEdit) SetMaxColumnFamily(id uint32) {
	v.MaxColumnFamily, v.HasMaxColumnFamily = id, true
}

// AddColumnFamily turns the edit into one creating the named column family.
func (v *VersionEdit) AddColumnFamily(name string) {
	v.ColumnFamilyAdd = true
	v.ColumnFamilyName = name
}

// DropColumnFamily turns the edit into one dropping its column family.
func (v *VersionEdit) DropColumnFamily() {
	v.ColumnFamilyDrop = true
}

// IsColumnFamilyManipulation returns true if the edit adds or drops a column
// family. Such edits are never batched with other edits.
func (v *VersionEdit) IsColumnFamilyManipulation() bool {
	return v.ColumnFamilyAdd || v.ColumnFamilyDrop
}

// DeleteFile records the removal of the file from the level.
func (v *VersionEdit) DeleteFile(level int, fileNum base.FileNum) {
	if v.DeletedFiles == nil {
		v.DeletedFiles = make(map[DeletedFileEntry]struct{})
	}
	v.DeletedFiles[DeletedFileEntry{Level: level, FileNum: fileNum}] = struct{}{}
}

// AddFile records the addition of the file to the level.
func (v *VersionEdit) AddFile(level int, meta *FileMetadata) {
	v.NewFiles = append(v.NewFiles, NewFileEntry{Level: level, Meta: meta})
}

// NumEntries returns the number of file additions and deletions.
func (v *VersionEdit) NumEntries() int {
	return len(v.DeletedFiles) + len(v.NewFiles)
}

// MaxLevel returns the largest level referenced by the edit's file additions
// and deletions, or -1 if there are none.
func (v *VersionEdit) MaxLevel() int {
	m := -1
	for df := range v.DeletedFiles {
		m = max(m, df.Level)
	}
	for _, nf := range v.NewFiles {
		m = max(m, nf.Level)
	}
	return m
}

func (v *VersionEdit) sortedDeletedFiles() []DeletedFileEntry {
	entries := make([]DeletedFileEntry, 0, len(v.DeletedFiles))
	for df := range v.DeletedFiles {
		entries = append(entries, df)
	}
	slices.SortFunc(entries, func(a, b DeletedFileEntry) int {
		if c := cmp.Compare(a.Level, b.Level); c != 0 {
			return c
		}
		return cmp.Compare(a.FileNum, b.FileNum)
	})
	return entries
}

// MergeEdits combines a batch of edits for the same column family into a
// single edit applied in order: scalar fields take the value of the last edit
// setting them, and a file added by one edit and deleted from the same level
// by a later one cancels out.
func MergeEdits(edits []*VersionEdit) *VersionEdit {
	if len(edits) == 1 {
		return edits[0]
	}
	out := &VersionEdit{}
	type key = DeletedFileEntry
	added := make(map[key]int)
	for _, e := range edits {
		out.ColumnFamily = e.ColumnFamily
		if e.HasComparerName {
			out.SetComparerName(e.ComparerName)
		}
		if e.HasLogNum {
			out.SetLogNum(max(out.LogNum, e.LogNum))
		}
		if e.HasPrevLogNum {
			out.SetPrevLogNum(e.PrevLogNum)
		}
		if e.HasNextFileNum {
			out.SetNextFileNum(max(out.NextFileNum, e.NextFileNum))
		}
		if e.HasLastSeqNum {
			out.SetLastSeqNum(max(out.LastSeqNum, e.LastSeqNum))
		}
		if e.HasMaxColumnFamily {
			out.SetMaxColumnFamily(max(out.MaxColumnFamily, e.MaxColumnFamily))
		}
		for _, df := range e.sortedDeletedFiles() {
			if i, ok := added[df]; ok {
				out.NewFiles[i].Meta = nil
				delete(added, df)
				continue
			}
			out.DeleteFile(df.Level, df.FileNum)
		}
		for _, nf := range e.NewFiles {
			k := key{Level: nf.Level, FileNum: nf.Meta.FileNum}
			added[k] = len(out.NewFiles)
			out.NewFiles = append(out.NewFiles, nf)
		}
	}
	out.NewFiles = slices.DeleteFunc(out.NewFiles, func(nf NewFileEntry) bool {
		return nf.Meta == nil
	})
	return out
}

type byteReader interface {
	io.ByteReader
	io.Reader
}

var errCorruptManifest = base.CorruptionErrorf("lsmcore: corrupt manifest")

// Decode decodes an edit from the specified reader.
func (v *VersionEdit) Decode(r io.Reader) error {
	br, ok := r.(byteReader)
	if !ok {
		br = bufio.NewReader(r)
	}
	d := versionEditDecoder{br}
	for {
		tag, err := binary.ReadUvarint(br)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		switch tag {
		case tagComparator:
			s, err := d.readBytes()
			if err != nil {
				return err
			}
			v.SetComparerName(string(s))

		case tagLogNumber:
			n, err := d.readFileNum()
			if err != nil {
				return err
			}
			v.SetLogNum(n)

		case tagPrevLogNumber:
			n, err := d.readFileNum()
			if err != nil {
				return err
			}
			v.SetPrevLogNum(n)

		case tagNextFileNumber:
			n, err := d.readFileNum()
			if err != nil {
				return err
			}
			v.SetNextFileNum(n)

		case tagLastSequence:
			n, err := d.readUvarint()
			if err != nil {
				return err
			}
			v.SetLastSeqNum(base.SeqNum(n))

		case tagMaxColumnFamily:
			n, err := d.readUint32()
			if err != nil {
				return err
			}
			v.SetMaxColumnFamily(n)

		case tagCompactPointer:
			if _, err := d.readLevel(); err != nil {
				return err
			}
			if _, err := d.readBytes(); err != nil {
				return err
			}
			// Compaction pointers are obsolete and ignored.

		case tagDeletedFile:
			level, err := d.readLevel()
			if err != nil {
				return err
			}
			fileNum, err := d.readFileNum()
			if err != nil {
				return err
			}
			v.DeleteFile(level, fileNum)

		case tagNewFile, tagNewFile2, tagNewFile3, tagNewFile4:
			level, meta, err := d.readNewFile(tag)
			if err != nil {
				return err
			}
			v.AddFile(level, meta)

		case tagColumnFamily:
			n, err := d.readUint32()
			if err != nil {
				return err
			}
			v.ColumnFamily = n

		case tagColumnFamilyAdd:
			s, err := d.readBytes()
			if err != nil {
				return err
			}
			v.AddColumnFamily(string(s))

		case tagColumnFamilyDrop:
			v.DropColumnFamily()

		default:
			return errors.Wrapf(errCorruptManifest, "unknown tag %d", errors.Safe(tag))
		}
	}
	return nil
}

// Encode encodes an edit to the specified writer.
func (v *VersionEdit) Encode(w io.Writer) error {
	e := versionEditEncoder{new(bytes.Buffer)}
	if v.HasComparerName {
		e.writeUvarint(tagComparator)
		e.writeString(v.ComparerName)
	}
	if v.HasLogNum {
		e.writeUvarint(tagLogNumber)
		e.writeUvarint(uint64(v.LogNum))
	}
	if v.HasPrevLogNum {
		e.writeUvarint(tagPrevLogNumber)
		e.writeUvarint(uint64(v.PrevLogNum))
	}
	if v.HasNextFileNum {
		e.writeUvarint(tagNextFileNumber)
		e.writeUvarint(uint64(v.NextFileNum))
	}
	if v.HasLastSeqNum {
		e.writeUvarint(tagLastSequence)
		e.writeUvarint(uint64(v.LastSeqNum))
	}
	if v.HasMaxColumnFamily {
		e.writeUvarint(tagMaxColumnFamily)
		e.writeUvarint(uint64(v.MaxColumnFamily))
	}
	for _, x := range v.sortedDeletedFiles() {
		e.writeUvarint(tagDeletedFile)
		e.writeUvarint(uint64(x.Level))
		e.writeUvarint(uint64(x.FileNum))
	}
	for _, x := range v.NewFiles {
		if err := e.writeNewFile(x); err != nil {
			return err
		}
	}
	if v.ColumnFamily != 0 {
		e.writeUvarint(tagColumnFamily)
		e.writeUvarint(uint64(v.ColumnFamily))
	}
	if v.ColumnFamilyAdd {
		e.writeUvarint(tagColumnFamilyAdd)
		e.writeString(v.ColumnFamilyName)
	}
	if v.ColumnFamilyDrop {
		e.writeUvarint(tagColumnFamilyDrop)
	}
	_, err := w.Write(e.Bytes())
	return err
}

// EncodeToBytes returns the encoded edit.
func (v *VersionEdit) EncodeToBytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// String implements fmt.Stringer.
func (v *VersionEdit) String() string {
	return v.DebugString(base.DefaultFormatter)
}

// DebugString is a more verbose version of String(). Use this in tests.
func (v *VersionEdit) DebugString(fmtKey base.FormatKey) string {
	var buf bytes.Buffer
	if v.ColumnFamily != 0 {
		fmt.Fprintf(&buf, "  column-family: %d\n", v.ColumnFamily)
	}
	if v.ColumnFamilyAdd {
		fmt.Fprintf(&buf, "  add-column-family: %s\n", v.ColumnFamilyName)
	}
	if v.ColumnFamilyDrop {
		fmt.Fprintf(&buf, "  drop-column-family\n")
	}
	if v.HasComparerName {
		fmt.Fprintf(&buf, "  comparer: %s\n", v.ComparerName)
	}
	if v.HasLogNum {
		fmt.Fprintf(&buf, "  log-num: %d\n", v.LogNum)
	}
	if v.HasPrevLogNum {
		fmt.Fprintf(&buf, "  prev-log-num: %d\n", v.PrevLogNum)
	}
	if v.HasNextFileNum {
		fmt.Fprintf(&buf, "  next-file-num: %d\n", v.NextFileNum)
	}
	if v.HasLastSeqNum {
		fmt.Fprintf(&buf, "  last-seq-num: %d\n", v.LastSeqNum)
	}
	if v.HasMaxColumnFamily {
		fmt.Fprintf(&buf, "  max-column-family: %d\n", v.MaxColumnFamily)
	}
	for _, df := range v.sortedDeletedFiles() {
		fmt.Fprintf(&buf, "  del-table: L%d %s\n", df.Level, df.FileNum)
	}
	for _, nf := range v.NewFiles {
		fmt.Fprintf(&buf, "  add-table: L%d %s\n", nf.Level, nf.Meta.DebugString(fmtKey))
	}
	return buf.String()
}

// ParseVersionEditDebug parses a version edit from its DebugString
// representation.
func ParseVersionEditDebug(s string) (_ *VersionEdit, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.CombineErrors(err, errors.Errorf("%v", r))
		}
	}()
	var ve VersionEdit
	for _, l := range strings.Split(s, "\n") {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		field, value, _ := strings.Cut(l, ":")
		value = strings.TrimSpace(value)
		parseUint := func() uint64 {
			n, err := strconv.ParseUint(value, 10, 64)
			if err != nil {
				panic(errors.Errorf("invalid %s value %q", field, value))
			}
			return n
		}
		switch field {
		case "column-family":
			ve.ColumnFamily = uint32(parseUint())
		case "add-column-family":
			ve.AddColumnFamily(value)
		case "drop-column-family":
			ve.DropColumnFamily()
		case "comparer":
			ve.SetComparerName(value)
		case "log-num":
			ve.SetLogNum(base.FileNum(parseUint()))
		case "prev-log-num":
			ve.SetPrevLogNum(base.FileNum(parseUint()))
		case "next-file-num":
			ve.SetNextFileNum(base.FileNum(parseUint()))
		case "last-seq-num":
			ve.SetLastSeqNum(base.SeqNum(parseUint()))
		case "max-column-family":
			ve.SetMaxColumnFamily(uint32(parseUint()))
		case "del-table":
			level, rest := parseLevelPrefix(value)
			n, err := strconv.ParseUint(strings.TrimSpace(rest), 10, 64)
			if err != nil {
				return nil, errors.Errorf("invalid del-table %q", value)
			}
			ve.DeleteFile(level, base.FileNum(n))
		case "add-table":
			level, rest := parseLevelPrefix(value)
			m, err := ParseFileMetadataDebug(strings.TrimSpace(rest))
			if err != nil {
				return nil, err
			}
			ve.AddFile(level, m)
		default:
			return nil, errors.Errorf("field %q not implemented", field)
		}
	}
	return &ve, nil
}

func parseLevelPrefix(s string) (int, string) {
	if !strings.HasPrefix(s, "L") {
		panic(errors.Errorf("expected level in %q", s))
	}
	i := strings.IndexByte(s, ' ')
	if i < 0 {
		i = len(s)
	}
	level, err := strconv.Atoi(s[1:i])
	if err != nil {
		panic(errors.Errorf("invalid level in %q", s))
	}
	return level, s[i:]
}

// ParseFileMetadataDebug parses a FileMetadata from its DebugString
// representation: `000007:[a#3,SET-c#5,SET]` optionally followed by
// `seqnums:[3-5]`, `size:100`, `path:1` and `marked`. Without explicit
// seqnums the bounds' sequence numbers are used.
func ParseFileMetadataDebug(s string) (_ *FileMetadata, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.CombineErrors(err, errors.Errorf("%v", r))
		}
	}()
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil, errors.New("empty file metadata")
	}
	numStr, bounds, ok := strings.Cut(fields[0], ":")
	if !ok || !strings.HasPrefix(bounds, "[") || !strings.HasSuffix(bounds, "]") {
		return nil, errors.Errorf("malformed file metadata %q", s)
	}
	n, err := strconv.ParseUint(numStr, 10, 64)
	if err != nil {
		return nil, errors.Errorf("malformed file number %q", numStr)
	}
	smallest, largest, ok := strings.Cut(bounds[1:len(bounds)-1], "-")
	if !ok {
		return nil, errors.Errorf("malformed bounds %q", bounds)
	}
	m := &FileMetadata{
		FileNum:  base.FileNum(n),
		Smallest: base.ParseInternalKey(smallest),
		Largest:  base.ParseInternalKey(largest),
	}
	m.SmallestSeqNum = min(m.Smallest.SeqNum(), m.Largest.SeqNum())
	m.LargestSeqNum = max(m.Smallest.SeqNum(), m.Largest.SeqNum())
	for _, f := range fields[1:] {
		name, value, _ := strings.Cut(f, ":")
		switch name {
		case "seqnums":
			lo, hi, ok := strings.Cut(strings.Trim(value, "[]"), "-")
			if !ok {
				return nil, errors.Errorf("malformed seqnums %q", value)
			}
			m.SmallestSeqNum = base.ParseSeqNum(lo)
			m.LargestSeqNum = base.ParseSeqNum(hi)
		case "size":
			if m.Size, err = strconv.ParseUint(value, 10, 64); err != nil {
				return nil, err
			}
		case "path":
			p, err := strconv.ParseUint(value, 10, 32)
			if err != nil {
				return nil, err
			}
			m.PathID = uint32(p)
		case "marked":
			m.MarkedForCompaction = true
		default:
			return nil, errors.Errorf("unknown file metadata field %q", f)
		}
	}
	return m, nil
}

type versionEditDecoder struct {
	byteReader
}

func (d versionEditDecoder) readBytes() ([]byte, error) {
	n, err := d.readUvarint()
	if err != nil {
		return nil, err
	}
	s := make([]byte, n)
	_, err = io.ReadFull(d, s)
	if err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, errCorruptManifest
		}
		return nil, err
	}
	return s, nil
}

func (d versionEditDecoder) readLevel() (int, error) {
	u, err := d.readUvarint()
	if err != nil {
		return 0, err
	}
	if u >= 1<<31 {
		return 0, errCorruptManifest
	}
	return int(u), nil
}

func (d versionEditDecoder) readFileNum() (base.FileNum, error) {
	u, err := d.readUvarint()
	return base.FileNum(u), err
}

func (d versionEditDecoder) readUint32() (uint32, error) {
	u, err := d.readUvarint()
	if err != nil {
		return 0, err
	}
	if u > 1<<32-1 {
		return 0, errCorruptManifest
	}
	return uint32(u), nil
}

func (d versionEditDecoder) readUvarint() (uint64, error) {
	u, err := binary.ReadUvarint(d)
	if err != nil {
		if err == io.EOF {
			return 0, errCorruptManifest
		}
		return 0, err
	}
	return u, nil
}

func (d versionEditDecoder) readNewFile(tag uint64) (int, *FileMetadata, error) {
	level, err := d.readLevel()
	if err != nil {
		return 0, nil, err
	}
	fileNum, err := d.readFileNum()
	if err != nil {
		return 0, nil, err
	}
	m := &FileMetadata{FileNum: fileNum}
	if tag == tagNewFile3 {
		if m.PathID, err = d.readUint32(); err != nil {
			return 0, nil, err
		}
	}
	if m.Size, err = d.readUvarint(); err != nil {
		return 0, nil, err
	}
	smallest, err := d.readBytes()
	if err != nil {
		return 0, nil, err
	}
	largest, err := d.readBytes()
	if err != nil {
		return 0, nil, err
	}
	m.Smallest = base.DecodeInternalKey(smallest)
	m.Largest = base.DecodeInternalKey(largest)
	if tag != tagNewFile {
		s, err := d.readUvarint()
		if err != nil {
			return 0, nil, err
		}
		l, err := d.readUvarint()
		if err != nil {
			return 0, nil, err
		}
		m.SmallestSeqNum, m.LargestSeqNum = base.SeqNum(s), base.SeqNum(l)
	}
	if tag != tagNewFile4 {
		return level, m, nil
	}
	for {
		customTag, err := d.readUvarint()
		if err != nil {
			return 0, nil, err
		}
		if customTag == customTagTerminate {
			break
		}
		field, err := d.readBytes()
		if err != nil {
			return 0, nil, err
		}
		switch customTag {
		case customTagNeedsCompaction:
			if len(field) != 1 {
				return 0, nil, base.CorruptionErrorf("new-file4: need-compaction field wrong size")
			}
			m.MarkedForCompaction = field[0] == 1

		case customTagPathID:
			if len(field) != 1 {
				return 0, nil, base.CorruptionErrorf("new-file4: path-id field wrong size")
			}
			m.PathID = uint32(field[0])

		default:
			if (customTag & customTagNonSafeIgnoreMask) != 0 {
				return 0, nil, base.CorruptionErrorf("new-file4: custom field not supported: %d", customTag)
			}
		}
	}
	return level, m, nil
}

type versionEditEncoder struct {
	*bytes.Buffer
}

func (e versionEditEncoder) writeBytes(p []byte) {
	e.writeUvarint(uint64(len(p)))
	e.Write(p)
}

func (e versionEditEncoder) writeKey(k base.InternalKey) {
	e.writeUvarint(uint64(k.Size()))
	e.Write(k.UserKey)
	var buf [base.InternalTrailerLen]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(k.Trailer))
	e.Write(buf[:])
}

func (e versionEditEncoder) writeString(s string) {
	e.writeUvarint(uint64(len(s)))
	e.WriteString(s)
}

func (e versionEditEncoder) writeUvarint(u uint64) {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], u)
	e.Write(buf[:n])
}

func (e versionEditEncoder) writeNewFile(x NewFileEntry) error {
	m := x.Meta
	if m.PathID > 0xff && m.MarkedForCompaction {
		return errors.AssertionFailedf("lsmcore: path id %d of %s does not fit a custom field",
			errors.Safe(m.PathID), m.FileNum)
	}
	custom := m.MarkedForCompaction
	switch {
	case custom:
		e.writeUvarint(tagNewFile4)
	case m.PathID == 0:
		// Older format, readable by builds without multiple data paths.
		e.writeUvarint(tagNewFile2)
	default:
		e.writeUvarint(tagNewFile3)
	}
	e.writeUvarint(uint64(x.Level))
	e.writeUvarint(uint64(m.FileNum))
	if m.PathID != 0 && !custom {
		e.writeUvarint(uint64(m.PathID))
	}
	e.writeUvarint(m.Size)
	e.writeKey(m.Smallest)
	e.writeKey(m.Largest)
	e.writeUvarint(uint64(m.SmallestSeqNum))
	e.writeUvarint(uint64(m.LargestSeqNum))
	if custom {
		if m.PathID != 0 {
			e.writeUvarint(customTagPathID)
			e.writeBytes([]byte{byte(m.PathID)})
		}
		if m.MarkedForCompaction {
			e.writeUvarint(customTagNeedsCompaction)
			e.writeBytes([]byte{1})
		}
		e.writeUvarint(customTagTerminate)
	}
	return nil
}
