package storage

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/rkarpov/carrierwatch/internal/card"
)

// SessionData describes one recorded detector run.
type SessionData struct {
	ID        int64
	Session   uuid.UUID
	StartTime time.Time
	Source    string
	Config    sql.NullString
}

// Reader provides read-only access to an existing card archive.
type Reader struct {
	db *sql.DB
}

// OpenReader opens an archive for reading. The file must already
// exist; a read-only SQLite connection would otherwise create an
// empty database on first query and mask the mistake.
func OpenReader(dbPath string) (*Reader, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("opening card archive: %w", err)
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", dbPath, "mode=ro"))
	if err != nil {
		return nil, fmt.Errorf("opening read connection: %w", err)
	}
	return &Reader{db: db}, nil
}

// Sessions returns all recorded sessions ordered by start time.
func (r *Reader) Sessions() (sessions []SessionData, err error) {
	rows, err := r.db.Query(selectSessionsSQL)
	if err != nil {
		err = fmt.Errorf("querying sessions: %w", err)
		return
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var sess SessionData
		var raw string
		if err = rows.Scan(&sess.ID, &raw, &sess.StartTime, &sess.Source, &sess.Config); err != nil {
			err = fmt.Errorf("scanning session: %w", err)
			return
		}
		if sess.Session, err = uuid.Parse(raw); err != nil {
			err = fmt.Errorf("parsing session UUID: %w", err)
			return
		}
		sessions = append(sessions, sess)
	}
	err = rows.Err()
	return
}

// Cards returns an iterator over every card in the archive, ordered by
// event start time. Closing the iterator also closes the reader.
func (r *Reader) Cards() (*CardIterator, error) {
	rows, err := r.db.Query(selectCardsSQL)
	if err != nil {
		_ = r.db.Close()
		return nil, fmt.Errorf("querying cards: %w", err)
	}
	return &CardIterator{rows: rows, db: r.db}, nil
}

// Close releases the underlying database connection. It is not needed
// after Cards() has been called; the iterator owns the connection then.
func (r *Reader) Close() error {
	return r.db.Close()
}

// CardIterator streams cards out of an archive one at a time.
type CardIterator struct {
	rows *sql.Rows
	db   *sql.DB
}

// Next returns the next card, or io.EOF when the archive is exhausted.
func (it *CardIterator) Next() (*card.Card, error) {
	if !it.rows.Next() {
		if err := it.rows.Err(); err != nil {
			return nil, fmt.Errorf("iterating cards: %w", err)
		}
		return nil, io.EOF
	}

	var (
		c          card.Card
		rawSession string
		startNano  int64
		durationNS int64
		snippet    []byte
	)
	err := it.rows.Scan(
		&rawSession,
		&c.Seq,
		&startNano,
		&c.StartOffset,
		&durationNS,
		&c.Bin,
		&c.FreqOffset,
		&c.PeakPower,
		&c.NoiseFloor,
		&snippet,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning card: %w", err)
	}

	if c.Session, err = uuid.Parse(rawSession); err != nil {
		return nil, fmt.Errorf("parsing session UUID: %w", err)
	}
	c.Start = time.Unix(0, startNano).UTC()
	c.Duration = time.Duration(durationNS)
	if c.Snippet, err = card.SnippetFromBytes(snippet); err != nil {
		return nil, fmt.Errorf("decoding snippet: %w", err)
	}
	return &c, nil
}

func (it *CardIterator) Close() (err error) {
	defer closeWithError(it.db, &err)
	err = it.rows.Close()
	return
}
