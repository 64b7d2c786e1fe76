package codec

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Record{
		{Tag: TagSet, Key: "foo", Value: "bar"},
		{Tag: TagRemove, Key: "foo"},
		{Tag: TagSet, Key: "", Value: ""},
	}

	for _, want := range cases {
		buf := Encode(want)
		got, err := DecodeAt(bytes.NewReader(buf), 0, true)
		if err != nil {
			t.Fatalf("DecodeAt: %v", err)
		}
		if got != want {
			t.Errorf("round trip mismatch: got %+v, want %+v", got, want)
		}
	}
}

func TestScannerRecoversSequence(t *testing.T) {
	var buf bytes.Buffer
	recs := []Record{
		{Tag: TagSet, Key: "k1", Value: "v1"},
		{Tag: TagSet, Key: "k2", Value: "v2"},
		{Tag: TagRemove, Key: "k1"},
	}
	for _, r := range recs {
		buf.Write(Encode(r))
	}

	sc := NewScanner(bytes.NewReader(buf.Bytes()), true)
	var got []Record
	for {
		rec, ok := sc.Scan()
		if !ok {
			break
		}
		got = append(got, rec.Record)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("unexpected scan error: %v", err)
	}
	if len(got) != len(recs) {
		t.Fatalf("got %d records, want %d", len(got), len(recs))
	}
	for i := range recs {
		if got[i] != recs[i] {
			t.Errorf("record %d: got %+v, want %+v", i, got[i], recs[i])
		}
	}
	if sc.End() != int64(buf.Len()) {
		t.Errorf("End() = %d, want %d", sc.End(), buf.Len())
	}
}

func TestScannerTruncatedTailIsTolerated(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(Encode(Record{Tag: TagSet, Key: "x", Value: "y"}))
	full := buf.Bytes()

	// Simulate a crash mid-write: keep the full first record, then append
	// only part of a second record's header.
	partial := append(append([]byte{}, full...), []byte{0x01, 0x02, 0x03}...)

	sc := NewScanner(bytes.NewReader(partial), true)
	var count int
	for {
		if _, ok := sc.Scan(); !ok {
			break
		}
		count++
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("truncated tail should not be an error, got: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 complete record, got %d", count)
	}
	if sc.End() != int64(len(full)) {
		t.Errorf("End() = %d, want %d", sc.End(), len(full))
	}
}

func TestScannerChecksumMismatchIsDistinctFromTruncation(t *testing.T) {
	buf := Encode(Record{Tag: TagSet, Key: "x", Value: "y"})
	buf[0] ^= 0xFF // corrupt the checksum

	sc := NewScanner(bytes.NewReader(buf), true)
	if _, ok := sc.Scan(); ok {
		t.Fatalf("expected scan to stop on checksum mismatch")
	}
	if !errors.Is(sc.Err(), ErrChecksumMismatch) {
		t.Errorf("expected ErrChecksumMismatch, got %v", sc.Err())
	}
}
