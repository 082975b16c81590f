package storage

import (
	_ "embed"
)

const (
	insertSessionSQL = `
INSERT INTO sessions (session_uuid,
                      start_time,
                      source,
                      config)
VALUES (?, CURRENT_TIMESTAMP, ?, ?)`

	insertCardSQL = `
INSERT INTO cards (session_uuid,
                   seq,
                   start_ns,
                   start_offset,
                   duration_ns,
                   bin,
                   freq_offset,
                   peak_power,
                   noise_floor,
                   snippet)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	selectSessionsSQL = `
SELECT
    id,
    session_uuid,
    start_time,
    source,
    config
FROM sessions
ORDER BY start_time`

	selectCardsSQL = `
SELECT
    session_uuid,
    seq,
    start_ns,
    start_offset,
    duration_ns,
    bin,
    freq_offset,
    peak_power,
    noise_floor,
    snippet
FROM cards
ORDER BY start_ns, seq`
)

//go:embed schema.sql
var schemaSQL string
