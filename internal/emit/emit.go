// Package emit delivers finished cards to their destination: a text
// or binary card file, or a SQLite archive.
package emit

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/rkarpov/carrierwatch/internal/card"
	"github.com/rkarpov/carrierwatch/internal/storage"
)

// Encoding selects the on-disk card representation.
type Encoding string

const (
	EncodingText   Encoding = "text"
	EncodingBinary Encoding = "binary"
	EncodingSQLite Encoding = "sqlite"
)

// ParseEncoding converts a config string into an Encoding.
func ParseEncoding(s string) (Encoding, error) {
	switch Encoding(strings.ToLower(s)) {
	case EncodingText:
		return EncodingText, nil
	case EncodingBinary:
		return EncodingBinary, nil
	case EncodingSQLite:
		return EncodingSQLite, nil
	default:
		return "", fmt.Errorf("unknown card encoding %q", s)
	}
}

// Sink receives cards from the detection engine. Implementations are
// used from a single goroutine; they do not need to be safe for
// concurrent use.
type Sink interface {
	Emit(c *card.Card) error
	Flush() error
	Close() error
}

// Config describes where and how cards are persisted.
type Config struct {
	Encoding Encoding `yaml:"encoding"`
	Path     string   `yaml:"path"`
}

// Open creates the sink named by cfg. For the SQLite encoding a
// session row is recorded immediately so the archive identifies its
// run even if no card is ever emitted.
func Open(ctx context.Context, cfg Config, session uuid.UUID, source string, runConfig any) (Sink, error) {
	if cfg.Path == "" {
		return nil, errors.New("output path must be set")
	}

	switch cfg.Encoding {
	case EncodingText, EncodingBinary:
		return openFileSink(cfg.Path, cfg.Encoding)
	case EncodingSQLite:
		return openSQLiteSink(ctx, cfg.Path, session, source, runConfig)
	default:
		return nil, fmt.Errorf("unknown card encoding %q", cfg.Encoding)
	}
}

// fileSink appends encoded cards to a flat file. Each record is built
// in memory first and handed to the buffered writer in one Write call,
// so a failed emit never leaves a partial record behind.
type fileSink struct {
	file     *os.File
	writer   *bufio.Writer
	encoding Encoding
}

func openFileSink(path string, encoding Encoding) (*fileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening card file: %w", err)
	}
	return &fileSink{
		file:     f,
		writer:   bufio.NewWriterSize(f, 1<<16),
		encoding: encoding,
	}, nil
}

func (s *fileSink) Emit(c *card.Card) error {
	var record []byte
	if s.encoding == EncodingText {
		record = card.EncodeText(c)
	} else {
		var err error
		if record, err = card.EncodeBinary(c); err != nil {
			return fmt.Errorf("encoding card: %w", err)
		}
	}

	if _, err := s.writer.Write(record); err != nil {
		return fmt.Errorf("writing card: %w", err)
	}
	return nil
}

func (s *fileSink) Flush() error {
	if err := s.writer.Flush(); err != nil {
		return fmt.Errorf("flushing card file: %w", err)
	}
	return nil
}

func (s *fileSink) Close() error {
	flushErr := s.writer.Flush()
	closeErr := s.file.Close()
	return errors.Join(flushErr, closeErr)
}

// sqliteSink writes cards into a storage archive.
type sqliteSink struct {
	store *storage.Store
}

func openSQLiteSink(ctx context.Context, path string, session uuid.UUID, source string, runConfig any) (*sqliteSink, error) {
	store := storage.New(path)
	if err := store.CreateSession(ctx, session, source, runConfig); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("creating session: %w", err)
	}
	return &sqliteSink{store: store}, nil
}

func (s *sqliteSink) Emit(c *card.Card) error {
	return s.store.InsertCard(context.Background(), c)
}

// Flush is a no-op; each insert is committed by SQLite on its own.
func (s *sqliteSink) Flush() error { return nil }

func (s *sqliteSink) Close() error {
	return s.store.Close()
}
