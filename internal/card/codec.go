package card

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Text records open with this tag so readers can reject foreign lines
// and future revisions can bump the format.
const textTag = "CW1"

// Binary records open with this magic and a version byte.
var binaryMagic = [2]byte{'C', 'W'}

const binaryVersion = 1

const textFieldCount = 11

// maxSnippetBytes bounds a decoded snippet to keep a corrupt length
// prefix from allocating unbounded memory.
const maxSnippetBytes = 64 << 20

var (
	// ErrBadRecord is returned when a persisted record fails to decode.
	ErrBadRecord = errors.New("malformed card record")
)

// SnippetBytes packs complex samples as interleaved little-endian
// float32 pairs, the same layout as the f32 wire format.
func SnippetBytes(snippet []complex64) []byte {
	raw := make([]byte, 8*len(snippet))
	for i, s := range snippet {
		binary.LittleEndian.PutUint32(raw[8*i:], math.Float32bits(real(s)))
		binary.LittleEndian.PutUint32(raw[8*i+4:], math.Float32bits(imag(s)))
	}
	return raw
}

func SnippetFromBytes(raw []byte) ([]complex64, error) {
	if len(raw)%8 != 0 {
		return nil, fmt.Errorf("%w: snippet length %d is not a multiple of 8", ErrBadRecord, len(raw))
	}
	snippet := make([]complex64, len(raw)/8)
	for i := range snippet {
		re := math.Float32frombits(binary.LittleEndian.Uint32(raw[8*i:]))
		im := math.Float32frombits(binary.LittleEndian.Uint32(raw[8*i+4:]))
		snippet[i] = complex(re, im)
	}
	return snippet, nil
}

// EncodeText renders one card as a single self-delimiting line. The
// snippet is embedded base64-encoded so the output stays ASCII-safe;
// floating point fields use the shortest representation that parses
// back bit-exact.
func EncodeText(c *Card) []byte {
	var sb strings.Builder
	sb.WriteString(textTag)
	sb.WriteByte('\t')
	sb.WriteString(c.Session.String())
	sb.WriteByte('\t')
	sb.WriteString(strconv.FormatUint(c.Seq, 10))
	sb.WriteByte('\t')
	sb.WriteString(strconv.FormatInt(c.Start.UnixNano(), 10))
	sb.WriteByte('\t')
	sb.WriteString(strconv.FormatUint(c.StartOffset, 10))
	sb.WriteByte('\t')
	sb.WriteString(strconv.FormatInt(int64(c.Duration), 10))
	sb.WriteByte('\t')
	sb.WriteString(strconv.Itoa(c.Bin))
	sb.WriteByte('\t')
	sb.WriteString(strconv.FormatFloat(c.FreqOffset, 'g', -1, 64))
	sb.WriteByte('\t')
	sb.WriteString(strconv.FormatFloat(c.PeakPower, 'g', -1, 64))
	sb.WriteByte('\t')
	sb.WriteString(strconv.FormatFloat(c.NoiseFloor, 'g', -1, 64))
	sb.WriteByte('\t')
	sb.WriteString(base64.StdEncoding.EncodeToString(SnippetBytes(c.Snippet)))
	sb.WriteByte('\n')
	return []byte(sb.String())
}

// DecodeText parses one line produced by EncodeText.
func DecodeText(line string) (*Card, error) {
	fields := strings.Split(strings.TrimRight(line, "\r\n"), "\t")
	if len(fields) != textFieldCount {
		return nil, fmt.Errorf("%w: %d fields, want %d", ErrBadRecord, len(fields), textFieldCount)
	}
	if fields[0] != textTag {
		return nil, fmt.Errorf("%w: bad tag %q", ErrBadRecord, fields[0])
	}

	session, err := uuid.Parse(fields[1])
	if err != nil {
		return nil, fmt.Errorf("%w: session: %w", ErrBadRecord, err)
	}
	seq, err := strconv.ParseUint(fields[2], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: seq: %w", ErrBadRecord, err)
	}
	startNano, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: start: %w", ErrBadRecord, err)
	}
	startOffset, err := strconv.ParseUint(fields[4], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: start offset: %w", ErrBadRecord, err)
	}
	durationNano, err := strconv.ParseInt(fields[5], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: duration: %w", ErrBadRecord, err)
	}
	bin, err := strconv.Atoi(fields[6])
	if err != nil {
		return nil, fmt.Errorf("%w: bin: %w", ErrBadRecord, err)
	}
	freqOffset, err := strconv.ParseFloat(fields[7], 64)
	if err != nil {
		return nil, fmt.Errorf("%w: frequency offset: %w", ErrBadRecord, err)
	}
	peak, err := strconv.ParseFloat(fields[8], 64)
	if err != nil {
		return nil, fmt.Errorf("%w: peak power: %w", ErrBadRecord, err)
	}
	noise, err := strconv.ParseFloat(fields[9], 64)
	if err != nil {
		return nil, fmt.Errorf("%w: noise floor: %w", ErrBadRecord, err)
	}
	raw, err := base64.StdEncoding.DecodeString(fields[10])
	if err != nil {
		return nil, fmt.Errorf("%w: snippet: %w", ErrBadRecord, err)
	}
	snippet, err := SnippetFromBytes(raw)
	if err != nil {
		return nil, err
	}

	return &Card{
		Session:     session,
		Seq:         seq,
		Start:       time.Unix(0, startNano).UTC(),
		StartOffset: startOffset,
		Duration:    time.Duration(durationNano),
		Bin:         bin,
		FreqOffset:  freqOffset,
		PeakPower:   peak,
		NoiseFloor:  noise,
		Snippet:     snippet,
	}, nil
}

// TextReader iterates over a text card stream, skipping blank lines and
// '#' comments. A reader positioned at any complete record boundary can
// resume without seeing the stream's end.
type TextReader struct {
	scanner *bufio.Scanner
}

// NewTextReader wraps r for record iteration. The line buffer admits
// snippets up to maxSnippetBytes.
func NewTextReader(r io.Reader) *TextReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxSnippetBytes)
	return &TextReader{scanner: scanner}
}

// Next returns the next card, or io.EOF when the stream is exhausted.
func (tr *TextReader) Next() (*Card, error) {
	for tr.scanner.Scan() {
		line := strings.TrimSpace(tr.scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return DecodeText(line)
	}
	if err := tr.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// binaryHeader is the fixed-size portion of a binary record following
// the magic and version bytes.
type binaryHeader struct {
	Session     [16]byte
	Seq         uint64
	StartNano   int64
	StartOffset uint64
	Duration    int64
	Bin         int32
	FreqOffset  float64
	PeakPower   float64
	NoiseFloor  float64
	SnippetLen  uint32
}

// EncodeBinary renders one card in the compact binary format: magic,
// version, fixed little-endian header, then the length-prefixed
// snippet. Records are self-delimiting.
func EncodeBinary(c *Card) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(binaryMagic[:])
	buf.WriteByte(binaryVersion)

	hdr := binaryHeader{
		Session:     c.Session,
		Seq:         c.Seq,
		StartNano:   c.Start.UnixNano(),
		StartOffset: c.StartOffset,
		Duration:    int64(c.Duration),
		Bin:         int32(c.Bin),
		FreqOffset:  c.FreqOffset,
		PeakPower:   c.PeakPower,
		NoiseFloor:  c.NoiseFloor,
		SnippetLen:  uint32(len(c.Snippet)),
	}
	if err := binary.Write(&buf, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("encoding header: %w", err)
	}
	buf.Write(SnippetBytes(c.Snippet))
	return buf.Bytes(), nil
}

// DecodeBinary reads one binary record from r. io.EOF is returned
// cleanly at a record boundary; a truncated record yields
// io.ErrUnexpectedEOF.
func DecodeBinary(r io.Reader) (*Card, error) {
	var preamble [3]byte
	if _, err := io.ReadFull(r, preamble[:1]); err != nil {
		return nil, err // io.EOF at a record boundary
	}
	if _, err := io.ReadFull(r, preamble[1:]); err != nil {
		// A byte was already consumed, so running dry here is a
		// truncated record, not a clean boundary.
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	if preamble[0] != binaryMagic[0] || preamble[1] != binaryMagic[1] {
		return nil, fmt.Errorf("%w: bad magic", ErrBadRecord)
	}
	if preamble[2] != binaryVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadRecord, preamble[2])
	}

	var hdr binaryHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("%w: header: %w", ErrBadRecord, err)
	}
	if uint64(hdr.SnippetLen)*8 > maxSnippetBytes {
		return nil, fmt.Errorf("%w: snippet length %d too large", ErrBadRecord, hdr.SnippetLen)
	}

	raw := make([]byte, 8*int(hdr.SnippetLen))
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("%w: snippet: %w", ErrBadRecord, err)
	}
	snippet, err := SnippetFromBytes(raw)
	if err != nil {
		return nil, err
	}

	return &Card{
		Session:     uuid.UUID(hdr.Session),
		Seq:         hdr.Seq,
		Start:       time.Unix(0, hdr.StartNano).UTC(),
		StartOffset: hdr.StartOffset,
		Duration:    time.Duration(hdr.Duration),
		Bin:         int(hdr.Bin),
		FreqOffset:  hdr.FreqOffset,
		PeakPower:   hdr.PeakPower,
		NoiseFloor:  hdr.NoiseFloor,
		Snippet:     snippet,
	}, nil
}
