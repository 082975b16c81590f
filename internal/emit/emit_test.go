package emit

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rkarpov/carrierwatch/internal/card"
	"github.com/rkarpov/carrierwatch/internal/storage"
)

func TestParseEncoding(t *testing.T) {
	for _, s := range []string{"text", "binary", "sqlite", "TEXT"} {
		if _, err := ParseEncoding(s); err != nil {
			t.Errorf("ParseEncoding(%q) = %v", s, err)
		}
	}
	if _, err := ParseEncoding("csv"); err == nil {
		t.Error("ParseEncoding accepted unknown encoding")
	}
}

func TestSinkRoundTrip(t *testing.T) {
	session := uuid.New()
	cards := []*card.Card{
		{
			Session:     session,
			Seq:         1,
			Start:       time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
			StartOffset: 512,
			Duration:    15 * time.Millisecond,
			Bin:         4,
			FreqOffset:  500,
			PeakPower:   2.5,
			NoiseFloor:  0.05,
			Snippet:     []complex64{complex(0.5, 0.5), complex(-0.25, 0)},
		},
		{
			Session:     session,
			Seq:         2,
			Start:       time.Date(2025, 6, 1, 12, 0, 1, 0, time.UTC),
			StartOffset: 2048,
			Duration:    40 * time.Millisecond,
			Bin:         -9,
			FreqOffset:  -1125,
			PeakPower:   1.25,
			NoiseFloor:  0.04,
			Snippet:     []complex64{complex(1, -1)},
		},
	}

	tests := []struct {
		name     string
		encoding Encoding
		file     string
	}{
		{"text", EncodingText, "events.cards"},
		{"binary", EncodingBinary, "events.cards"},
		{"sqlite", EncodingSQLite, "events.sqlite"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)

			sink, err := Open(context.Background(), Config{
				Encoding: tt.encoding,
				Path:     path,
			}, session, "iq-file", nil)
			if err != nil {
				t.Fatal(err)
			}

			for _, c := range cards {
				if err := sink.Emit(c); err != nil {
					t.Fatal(err)
				}
			}
			if err := sink.Flush(); err != nil {
				t.Fatal(err)
			}
			if err := sink.Close(); err != nil {
				t.Fatal(err)
			}

			src, err := storage.OpenCards(path)
			if err != nil {
				t.Fatal(err)
			}
			defer src.Close()

			for i, want := range cards {
				got, err := src.Next()
				if err != nil {
					t.Fatalf("card %d: %v", i, err)
				}
				if got.Seq != want.Seq || got.Bin != want.Bin || got.StartOffset != want.StartOffset {
					t.Errorf("card %d: got (seq %d, bin %d, offset %d), want (seq %d, bin %d, offset %d)",
						i, got.Seq, got.Bin, got.StartOffset, want.Seq, want.Bin, want.StartOffset)
				}
				if len(got.Snippet) != len(want.Snippet) {
					t.Errorf("card %d: snippet length %d, want %d", i, len(got.Snippet), len(want.Snippet))
				}
			}
			if _, err := src.Next(); !errors.Is(err, io.EOF) {
				t.Fatalf("Next after last card = %v, want io.EOF", err)
			}
		})
	}
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(context.Background(), Config{Encoding: EncodingText}, uuid.New(), "iq-file", nil)
	if err == nil {
		t.Fatal("expected error for empty path")
	}
}
