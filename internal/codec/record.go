// Package codec implements the self-delimiting on-disk record format shared
// by every segment file: a checksummed, length-prefixed header followed by
// the raw key and value bytes.
package codec

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/zeebo/xxh3"
)

// Tag distinguishes the two record variants a segment can hold.
type Tag uint8

const (
	TagRemove Tag = iota
	TagSet
)

// HeaderLen is 8-byte checksum + 4-byte keyLen + 4-byte valLen + 1-byte tag + 1 reserved.
const HeaderLen = 18

// ChecksumLen is the width of the leading xxh3 checksum.
const ChecksumLen = 8

// ErrChecksumMismatch means a record's stored checksum disagrees with the
// recomputed one over its key+value payload. Distinct from a truncated
// read so callers can tell corruption from crash-truncation.
var ErrChecksumMismatch = errors.New("codec: checksum mismatch")

// Record is one decoded mutation: Set(key, value) when Tag == TagSet,
// Remove(key) when Tag == TagRemove (Value is empty in that case).
type Record struct {
	Tag   Tag
	Key   string
	Value string
}

// Encode serializes r as:
//
//	[8B checksum][4B keyLen][4B valLen][1B tag][1B reserved][key][value]
//
// and returns the encoded bytes; their length is len of the result.
func Encode(r Record) []byte {
	total := HeaderLen + len(r.Key) + len(r.Value)
	buf := make([]byte, total)

	sb := buf[ChecksumLen:]
	binary.LittleEndian.PutUint32(sb, uint32(len(r.Key)))
	sb = sb[4:]
	binary.LittleEndian.PutUint32(sb, uint32(len(r.Value)))
	sb = sb[4:]
	sb[0] = byte(r.Tag)
	sb = sb[1:]
	sb[0] = 0 // reserved, keeps the header an even 18 bytes
	sb = sb[1:]
	copy(sb, r.Key)
	sb = sb[len(r.Key):]
	copy(sb, r.Value)

	checksum := xxh3.Hash(buf[ChecksumLen:])
	binary.LittleEndian.PutUint64(buf[:ChecksumLen], checksum)

	return buf
}

type header struct {
	checksum uint64
	keyLen   int
	valLen   int
	tag      Tag
}

func parseHeader(hdr [HeaderLen]byte) header {
	sb := hdr[:]
	checksum := binary.LittleEndian.Uint64(sb)
	sb = sb[ChecksumLen:]
	keyLen := int(binary.LittleEndian.Uint32(sb))
	sb = sb[4:]
	valLen := int(binary.LittleEndian.Uint32(sb))
	sb = sb[4:]
	tag := Tag(sb[0])
	return header{checksum: checksum, keyLen: keyLen, valLen: valLen, tag: tag}
}

// DecodeAt reads back a single record at off from r in two reads: the fixed
// header, then the key+value payload. It is the random-access counterpart
// to Scanner, used by Engine.Get to fetch one record by its index entry.
func DecodeAt(r io.ReaderAt, off int64, verifyChecksum bool) (Record, error) {
	var hdr [HeaderLen]byte
	if _, err := r.ReadAt(hdr[:], off); err != nil {
		return Record{}, err
	}
	h := parseHeader(hdr)

	total := HeaderLen + h.keyLen + h.valLen
	buf := make([]byte, total)
	copy(buf, hdr[:])
	if _, err := r.ReadAt(buf[HeaderLen:], off+HeaderLen); err != nil {
		return Record{}, err
	}

	if verifyChecksum {
		if computed := xxh3.Hash(buf[ChecksumLen:]); computed != h.checksum {
			return Record{}, fmt.Errorf("offset %d: %w", off, ErrChecksumMismatch)
		}
	}

	return Record{
		Tag:   h.tag,
		Key:   string(buf[HeaderLen : HeaderLen+h.keyLen]),
		Value: string(buf[HeaderLen+h.keyLen:]),
	}, nil
}

// ScannedRecord is one record recovered by a full-segment scan, annotated
// with its start offset and total encoded length so the index can point at
// it directly.
type ScannedRecord struct {
	Record
	Offset int64
	Len    int64
}

// Scanner sequentially decodes records from a byte source (a segment file
// opened via io.SectionReader) without touching any shared file cursor.
type Scanner struct {
	r              *bufio.Reader
	end            int64
	err            error
	verifyChecksum bool
}

// NewScanner wraps r, which must yield the concatenated encoded records
// starting at its current position (offset 0 for a segment scan).
func NewScanner(r io.Reader, verifyChecksum bool) *Scanner {
	return &Scanner{r: bufio.NewReader(r), verifyChecksum: verifyChecksum}
}

// Err returns the first non-EOF error encountered by Scan, if any.
func (s *Scanner) Err() error { return s.err }

// End returns the offset just past the last successfully scanned record. A
// truncated trailing record is not counted, so cutting the source at End
// leaves only whole records.
func (s *Scanner) End() int64 { return s.end }

// Scan advances to the next record, reporting whether one was decoded.
// It stops (returning false) on clean EOF at a record boundary, on a
// truncated trailing record (tolerated as crash damage, Err stays nil),
// or on a checksum mismatch within the log (Err is set to
// ErrChecksumMismatch, distinguishing corruption from truncation).
func (s *Scanner) Scan() (ScannedRecord, bool) {
	if s.err != nil {
		return ScannedRecord{}, false
	}

	isEOF := func(err error) bool {
		return err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF)
	}

	var hdr [HeaderLen]byte
	if _, err := io.ReadFull(s.r, hdr[:]); err != nil {
		if !isEOF(err) {
			s.err = fmt.Errorf("read header: %w", err)
		}
		return ScannedRecord{}, false
	}
	h := parseHeader(hdr)

	total := HeaderLen + h.keyLen + h.valLen
	buf := make([]byte, total)
	copy(buf, hdr[:])
	if _, err := io.ReadFull(s.r, buf[HeaderLen:]); err != nil {
		if !isEOF(err) {
			s.err = fmt.Errorf("read key+value: %w", err)
		}
		// EOF here means a partially written key/value: crash damage on
		// the tail, tolerated silently.
		return ScannedRecord{}, false
	}

	if s.verifyChecksum {
		if computed := xxh3.Hash(buf[ChecksumLen:]); computed != h.checksum {
			s.err = fmt.Errorf("offset %d: %w", s.end, ErrChecksumMismatch)
			return ScannedRecord{}, false
		}
	}

	rec := ScannedRecord{
		Record: Record{
			Tag:   h.tag,
			Key:   string(buf[HeaderLen : HeaderLen+h.keyLen]),
			Value: string(buf[HeaderLen+h.keyLen:]),
		},
		Offset: s.end,
		Len:    int64(total),
	}
	s.end += rec.Len

	return rec, true
}
