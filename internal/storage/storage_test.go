package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rkarpov/carrierwatch/internal/card"
)

func archiveCards(session uuid.UUID) []*card.Card {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return []*card.Card{
		{
			Session:     session,
			Seq:         1,
			Start:       start,
			StartOffset: 1024,
			Duration:    20 * time.Millisecond,
			Bin:         12,
			FreqOffset:  1500,
			PeakPower:   0.75,
			NoiseFloor:  0.01,
			Snippet:     []complex64{complex(0.5, -0.25), complex(-1, 0.125)},
		},
		{
			Session:     session,
			Seq:         2,
			Start:       start.Add(time.Second),
			StartOffset: 9000,
			Duration:    5 * time.Millisecond,
			Bin:         -7,
			FreqOffset:  -875,
			PeakPower:   0.3,
			NoiseFloor:  0.02,
			Snippet:     []complex64{complex(0.125, 0.5)},
		},
	}
}

func TestStoreRoundTrip(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "events.sqlite")
	session := uuid.MustParse("f81d4fae-7dec-11d0-a765-00a0c91e6bf6")
	cards := archiveCards(session)

	store := New(dbPath)
	if err := store.CreateSession(context.Background(), session, "iq-file", map[string]any{"rate": 8000}); err != nil {
		t.Fatal(err)
	}
	for _, c := range cards {
		if err := store.InsertCard(context.Background(), c); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	reader, err := OpenReader(dbPath)
	if err != nil {
		t.Fatal(err)
	}

	sessions, err := reader.Sessions()
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 {
		t.Fatalf("got %d sessions, want 1", len(sessions))
	}
	if sessions[0].Session != session {
		t.Errorf("session UUID = %s, want %s", sessions[0].Session, session)
	}
	if sessions[0].Source != "iq-file" {
		t.Errorf("source = %q, want %q", sessions[0].Source, "iq-file")
	}
	if !sessions[0].Config.Valid {
		t.Error("config column not recorded")
	}

	iter, err := reader.Cards()
	if err != nil {
		t.Fatal(err)
	}
	defer iter.Close()

	for i, want := range cards {
		got, err := iter.Next()
		if err != nil {
			t.Fatalf("card %d: %v", i, err)
		}
		compareCards(t, i, got, want)
	}
	if _, err := iter.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("Next after last card = %v, want io.EOF", err)
	}
}

func compareCards(t *testing.T, i int, got, want *card.Card) {
	t.Helper()
	if got.Session != want.Session {
		t.Errorf("card %d: Session = %s, want %s", i, got.Session, want.Session)
	}
	if got.Seq != want.Seq {
		t.Errorf("card %d: Seq = %d, want %d", i, got.Seq, want.Seq)
	}
	if !got.Start.Equal(want.Start) {
		t.Errorf("card %d: Start = %v, want %v", i, got.Start, want.Start)
	}
	if got.StartOffset != want.StartOffset {
		t.Errorf("card %d: StartOffset = %d, want %d", i, got.StartOffset, want.StartOffset)
	}
	if got.Duration != want.Duration {
		t.Errorf("card %d: Duration = %v, want %v", i, got.Duration, want.Duration)
	}
	if got.Bin != want.Bin {
		t.Errorf("card %d: Bin = %d, want %d", i, got.Bin, want.Bin)
	}
	if got.FreqOffset != want.FreqOffset || got.PeakPower != want.PeakPower || got.NoiseFloor != want.NoiseFloor {
		t.Errorf("card %d: measurements = (%v, %v, %v), want (%v, %v, %v)",
			i, got.FreqOffset, got.PeakPower, got.NoiseFloor,
			want.FreqOffset, want.PeakPower, want.NoiseFloor)
	}
	if len(got.Snippet) != len(want.Snippet) {
		t.Fatalf("card %d: snippet length %d, want %d", i, len(got.Snippet), len(want.Snippet))
	}
	for j := range want.Snippet {
		if got.Snippet[j] != want.Snippet[j] {
			t.Errorf("card %d sample %d: %v, want %v", i, j, got.Snippet[j], want.Snippet[j])
		}
	}
}

func TestOpenReaderMissingFile(t *testing.T) {
	_, err := OpenReader(filepath.Join(t.TempDir(), "absent.sqlite"))
	if err == nil {
		t.Fatal("expected error for missing archive")
	}
}

func TestOpenCardsSniffsFlatFormats(t *testing.T) {
	session := uuid.New()
	cards := archiveCards(session)

	var text, binary []byte
	for _, c := range cards {
		text = append(text, card.EncodeText(c)...)
		rec, err := card.EncodeBinary(c)
		if err != nil {
			t.Fatal(err)
		}
		binary = append(binary, rec...)
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"text", text},
		{"binary", binary},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "events.cards")
			if err := os.WriteFile(path, tt.data, 0o644); err != nil {
				t.Fatal(err)
			}

			src, err := OpenCards(path)
			if err != nil {
				t.Fatal(err)
			}
			defer src.Close()

			for i, want := range cards {
				got, err := src.Next()
				if err != nil {
					t.Fatalf("card %d: %v", i, err)
				}
				compareCards(t, i, got, want)
			}
			if _, err := src.Next(); !errors.Is(err, io.EOF) {
				t.Fatalf("Next after last card = %v, want io.EOF", err)
			}
		})
	}
}
