// Package protocol defines the length-framed wire messages exchanged
// between a kvs client and server: Request (Get/Set/Remove) followed by
// Response, repeatable on one connection. It reuses the on-disk record
// codec's header shape (checksum + two length-prefixed fields + tag) so a
// FramedConn can decode straight out of a growable buffer without knowing
// how many bytes the next message will need up front.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/zeebo/xxh3"
)

// MsgTag distinguishes the three request kinds and the one response kind.
type MsgTag uint8

const (
	TagGet MsgTag = iota
	TagSet
	TagRemove
	TagResponse
)

// headerLen mirrors codec.HeaderLen: 8B checksum + 4B field1Len + 4B
// field2Len + 1B tag + 1B reserved.
const headerLen = 18
const checksumLen = 8

// ErrIncomplete signals that buf does not yet hold a full message; the
// caller should read more bytes from the stream and retry.
var ErrIncomplete = errors.New("protocol: incomplete message")

// ErrMalformed signals a checksum mismatch or otherwise corrupt message —
// a DecodeError, distinct from ErrIncomplete.
var ErrMalformed = errors.New("protocol: malformed message")

// Request is the tagged Get/Set/Remove request variant.
type Request struct {
	Tag   MsgTag
	Key   string
	Value string
}

func NewGet(key string) Request       { return Request{Tag: TagGet, Key: key} }
func NewSet(key, value string) Request { return Request{Tag: TagSet, Key: key, Value: value} }
func NewRemove(key string) Request    { return Request{Tag: TagRemove, Key: key} }

// Response carries a single string payload, per the wire conventions in
// the spec (value on success, "Key not found" or an error message
// otherwise).
type Response struct {
	Response string
}

func encodeFrame(tag MsgTag, field1, field2 string) []byte {
	total := headerLen + len(field1) + len(field2)
	buf := make([]byte, total)

	sb := buf[checksumLen:]
	binary.LittleEndian.PutUint32(sb, uint32(len(field1)))
	sb = sb[4:]
	binary.LittleEndian.PutUint32(sb, uint32(len(field2)))
	sb = sb[4:]
	sb[0] = byte(tag)
	sb = sb[1:]
	sb[0] = 0
	sb = sb[1:]
	copy(sb, field1)
	sb = sb[len(field1):]
	copy(sb, field2)

	checksum := xxh3.Hash(buf[checksumLen:])
	binary.LittleEndian.PutUint64(buf[:checksumLen], checksum)

	return buf
}

// decodeFrame attempts to decode one frame from the front of buf. It
// returns the consumed byte count on success. When buf is too short to
// contain a full frame it returns ErrIncomplete and the caller must not
// advance its read cursor.
func decodeFrame(buf []byte) (tag MsgTag, field1, field2 string, n int, err error) {
	if len(buf) < headerLen {
		return 0, "", "", 0, ErrIncomplete
	}

	checksum := binary.LittleEndian.Uint64(buf[:checksumLen])
	sb := buf[checksumLen:]
	field1Len := int(binary.LittleEndian.Uint32(sb))
	sb = sb[4:]
	field2Len := int(binary.LittleEndian.Uint32(sb))
	sb = sb[4:]
	msgTag := MsgTag(sb[0])

	total := headerLen + field1Len + field2Len
	if len(buf) < total {
		return 0, "", "", 0, ErrIncomplete
	}

	payload := buf[checksumLen:total]
	if computed := xxh3.Hash(payload); computed != checksum {
		return 0, "", "", 0, fmt.Errorf("%w: checksum", ErrMalformed)
	}

	field1 = string(buf[headerLen : headerLen+field1Len])
	field2 = string(buf[headerLen+field1Len : total])

	return msgTag, field1, field2, total, nil
}

// EncodeRequest serializes req as a self-delimited frame.
func EncodeRequest(req Request) []byte {
	return encodeFrame(req.Tag, req.Key, req.Value)
}

// DecodeRequest attempts to decode one Request from the front of buf,
// returning ErrIncomplete if buf doesn't yet hold a full frame.
func DecodeRequest(buf []byte) (Request, int, error) {
	tag, key, value, n, err := decodeFrame(buf)
	if err != nil {
		return Request{}, 0, err
	}
	if tag != TagGet && tag != TagSet && tag != TagRemove {
		return Request{}, 0, fmt.Errorf("%w: unexpected request tag %d", ErrMalformed, tag)
	}
	return Request{Tag: tag, Key: key, Value: value}, n, nil
}

// EncodeResponse serializes resp as a self-delimited frame.
func EncodeResponse(resp Response) []byte {
	return encodeFrame(TagResponse, resp.Response, "")
}

// DecodeResponse attempts to decode one Response from the front of buf.
func DecodeResponse(buf []byte) (Response, int, error) {
	tag, field1, _, n, err := decodeFrame(buf)
	if err != nil {
		return Response{}, 0, err
	}
	if tag != TagResponse {
		return Response{}, 0, fmt.Errorf("%w: unexpected response tag %d", ErrMalformed, tag)
	}
	return Response{Response: field1}, n, nil
}
