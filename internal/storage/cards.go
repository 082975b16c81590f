package storage

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rkarpov/carrierwatch/internal/card"
)

// CardSource yields persisted cards until io.EOF, regardless of how
// they were written.
type CardSource interface {
	Next() (*card.Card, error)
	Close() error
}

// OpenCards opens any persisted card representation: a SQLite archive,
// picked by file extension, or a flat text or binary card file, told
// apart by their shared leading bytes.
func OpenCards(path string) (CardSource, error) {
	switch filepath.Ext(path) {
	case ".sqlite", ".db":
		reader, err := OpenReader(path)
		if err != nil {
			return nil, err
		}
		return reader.Cards()
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening card file: %w", err)
	}

	// Both flat formats start with 'C','W'; the third byte tells them
	// apart ('1' for text, the version number for binary).
	br := bufio.NewReaderSize(f, 1<<16)
	head, err := br.Peek(3)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: file too short", card.ErrBadRecord)
	}

	if head[0] == 'C' && head[1] == 'W' && head[2] != '1' {
		return &binaryCardFile{file: f, reader: br}, nil
	}
	return &textCardFile{file: f, reader: card.NewTextReader(br)}, nil
}

type textCardFile struct {
	file   *os.File
	reader *card.TextReader
}

func (cf *textCardFile) Next() (*card.Card, error) {
	return cf.reader.Next()
}

func (cf *textCardFile) Close() error {
	return cf.file.Close()
}

type binaryCardFile struct {
	file   *os.File
	reader *bufio.Reader
}

func (cf *binaryCardFile) Next() (*card.Card, error) {
	return card.DecodeBinary(cf.reader)
}

func (cf *binaryCardFile) Close() error {
	return cf.file.Close()
}
