package card

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func sampleCard(seq uint64) *Card {
	return &Card{
		Session:     uuid.MustParse("0b28b55e-40a8-43bd-a95a-5c3a7f9e2f11"),
		Seq:         seq,
		Start:       time.Unix(1735689600, 123456789).UTC(),
		StartOffset: 4_400_000,
		Duration:    1987 * time.Millisecond,
		Bin:         -42,
		FreqOffset:  -11278.48632812,
		PeakPower:   0.0031415926535,
		NoiseFloor:  2.718e-6,
		Snippet: []complex64{
			complex(0.25, -0.75),
			complex(-1, 1),
			complex(0.000123, 0),
		},
	}
}

func cardsEqual(t *testing.T, got, want *Card) {
	t.Helper()
	if got.Session != want.Session {
		t.Errorf("session: got %s, want %s", got.Session, want.Session)
	}
	if got.Seq != want.Seq {
		t.Errorf("seq: got %d, want %d", got.Seq, want.Seq)
	}
	if !got.Start.Equal(want.Start) {
		t.Errorf("start: got %v, want %v", got.Start, want.Start)
	}
	if got.StartOffset != want.StartOffset {
		t.Errorf("start offset: got %d, want %d", got.StartOffset, want.StartOffset)
	}
	if got.Duration != want.Duration {
		t.Errorf("duration: got %v, want %v", got.Duration, want.Duration)
	}
	if got.Bin != want.Bin {
		t.Errorf("bin: got %d, want %d", got.Bin, want.Bin)
	}
	if got.FreqOffset != want.FreqOffset {
		t.Errorf("frequency offset: got %v, want %v", got.FreqOffset, want.FreqOffset)
	}
	if got.PeakPower != want.PeakPower {
		t.Errorf("peak power: got %v, want %v", got.PeakPower, want.PeakPower)
	}
	if got.NoiseFloor != want.NoiseFloor {
		t.Errorf("noise floor: got %v, want %v", got.NoiseFloor, want.NoiseFloor)
	}
	if len(got.Snippet) != len(want.Snippet) {
		t.Fatalf("snippet length: got %d, want %d", len(got.Snippet), len(want.Snippet))
	}
	for i := range want.Snippet {
		if got.Snippet[i] != want.Snippet[i] {
			t.Errorf("snippet[%d]: got %v, want %v", i, got.Snippet[i], want.Snippet[i])
		}
	}
}

func TestTextRoundTrip(t *testing.T) {
	want := sampleCard(7)

	line := EncodeText(want)
	got, err := DecodeText(string(line))
	if err != nil {
		t.Fatalf("DecodeText: %v", err)
	}
	cardsEqual(t, got, want)
}

func TestTextRoundTripEmptySnippet(t *testing.T) {
	want := sampleCard(0)
	want.Snippet = nil

	got, err := DecodeText(string(EncodeText(want)))
	if err != nil {
		t.Fatalf("DecodeText: %v", err)
	}
	if len(got.Snippet) != 0 {
		t.Errorf("expected empty snippet, got %d samples", len(got.Snippet))
	}
}

func TestTextReaderSkipsCommentsAndResumes(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("# carrierwatch card file\n\n")
	buf.Write(EncodeText(sampleCard(1)))
	buf.Write(EncodeText(sampleCard(2)))
	buf.Write(EncodeText(sampleCard(3)))

	// Resume mid-stream at the second record, the way a reader picks up
	// an append-only file after any complete record.
	full := buf.String()
	first := strings.Index(full, "\nCW1")
	second := strings.Index(full[first+1:], "\nCW1") + first + 1

	tr := NewTextReader(strings.NewReader(full[second+1:]))
	got, err := tr.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got.Seq != 2 {
		t.Errorf("resumed at seq %d, want 2", got.Seq)
	}
	if got, err = tr.Next(); err != nil || got.Seq != 3 {
		t.Errorf("second record: seq %d, err %v", got.Seq, err)
	}
	if _, err = tr.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF at stream end, got %v", err)
	}
}

func TestDecodeTextRejectsGarbage(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"empty", ""},
		{"wrong tag", "XX9\ta\tb"},
		{"too few fields", "CW1\t1\t2"},
		{"bad base64", strings.Replace(string(EncodeText(sampleCard(1))), "\t", "\t@@", 10)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodeText(tc.line); !errors.Is(err, ErrBadRecord) {
				t.Errorf("expected ErrBadRecord, got %v", err)
			}
		})
	}
}

func TestBinaryRoundTrip(t *testing.T) {
	want := sampleCard(99)

	raw, err := EncodeBinary(want)
	if err != nil {
		t.Fatalf("EncodeBinary: %v", err)
	}

	got, err := DecodeBinary(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("DecodeBinary: %v", err)
	}
	cardsEqual(t, got, want)
}

func TestBinaryStreamSelfDelimiting(t *testing.T) {
	var buf bytes.Buffer
	for seq := uint64(0); seq < 3; seq++ {
		raw, err := EncodeBinary(sampleCard(seq))
		if err != nil {
			t.Fatalf("EncodeBinary: %v", err)
		}
		buf.Write(raw)
	}

	r := bytes.NewReader(buf.Bytes())
	for seq := uint64(0); seq < 3; seq++ {
		got, err := DecodeBinary(r)
		if err != nil {
			t.Fatalf("record %d: %v", seq, err)
		}
		if got.Seq != seq {
			t.Errorf("record %d: seq %d", seq, got.Seq)
		}
	}
	if _, err := DecodeBinary(r); !errors.Is(err, io.EOF) {
		t.Errorf("expected clean io.EOF at stream end, got %v", err)
	}
}

func TestBinaryDecodeTruncated(t *testing.T) {
	raw, err := EncodeBinary(sampleCard(5))
	if err != nil {
		t.Fatalf("EncodeBinary: %v", err)
	}

	if _, err := DecodeBinary(bytes.NewReader(raw[:len(raw)-4])); err == nil {
		t.Error("expected error for truncated record")
	}

	raw[0] = 'X'
	if _, err := DecodeBinary(bytes.NewReader(raw)); !errors.Is(err, ErrBadRecord) {
		t.Errorf("expected ErrBadRecord for bad magic, got %v", err)
	}

	// A stream that dies inside the magic consumed a byte, so it must
	// not look like a clean record boundary.
	if _, err := DecodeBinary(bytes.NewReader(raw[:1])); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("expected io.ErrUnexpectedEOF after a partial magic, got %v", err)
	}
}
