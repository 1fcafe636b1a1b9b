package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStorage keeps one row per durable record. It serves the same
// contract as FileStorage for deployments that outgrow flat JSON
// documents (many bots sharing one data file).
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens (and migrates) the database at dsn.
func NewSQLiteStorage(dsn string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite %s: %w", dsn, err)
	}
	// One writer at a time keeps the read-modify-write contract simple.
	db.SetMaxOpenConns(1)

	const schema = `
	CREATE TABLE IF NOT EXISTS bot_events (
		event_type TEXT NOT NULL,
		bot        TEXT NOT NULL,
		id         TEXT NOT NULL,
		record     TEXT NOT NULL,
		PRIMARY KEY (event_type, bot, id)
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate sqlite: %w", err)
	}
	return &SQLiteStorage{db: db}, nil
}

// UpdateEvents upserts one record and returns the post-write partition.
func (s *SQLiteStorage) UpdateEvents(key Key, rec Record) (Document, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("store: marshal record %s: %w", key.ID, err)
	}
	_, err = s.db.Exec(
		`INSERT INTO bot_events (event_type, bot, id, record) VALUES (?, ?, ?, ?)
		 ON CONFLICT (event_type, bot, id) DO UPDATE SET record = excluded.record`,
		string(key.Type), key.Bot, key.ID, string(data),
	)
	if err != nil {
		return nil, fmt.Errorf("store: upsert %s/%s: %w", key.Type, key.ID, err)
	}
	return s.partition(key.Type)
}

// RemoveEvents deletes one record (or a bot's whole slice when the id
// is empty) and returns the post-write partition.
func (s *SQLiteStorage) RemoveEvents(key Key) (Document, error) {
	var err error
	if key.ID == "" {
		_, err = s.db.Exec(
			`DELETE FROM bot_events WHERE event_type = ? AND bot = ?`,
			string(key.Type), key.Bot,
		)
	} else {
		_, err = s.db.Exec(
			`DELETE FROM bot_events WHERE event_type = ? AND bot = ? AND id = ?`,
			string(key.Type), key.Bot, key.ID,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("store: delete %s/%s: %w", key.Type, key.ID, err)
	}
	return s.partition(key.Type)
}

// GetEvents reads the requested partitions.
func (s *SQLiteStorage) GetEvents(types []EventType) (*Documents, error) {
	out := &Documents{Events: Document{}, Schedule: Document{}}
	for _, t := range types {
		doc, err := s.partition(t)
		if err != nil {
			return nil, err
		}
		switch t {
		case EventTypeEvents:
			out.Events = doc
		case EventTypeSchedule:
			out.Schedule = doc
		}
	}
	return out, nil
}

// Close releases the database handle.
func (s *SQLiteStorage) Close() error { return s.db.Close() }

func (s *SQLiteStorage) partition(t EventType) (Document, error) {
	rows, err := s.db.Query(
		`SELECT bot, id, record FROM bot_events WHERE event_type = ?`,
		string(t),
	)
	if err != nil {
		return nil, fmt.Errorf("store: query %s: %w", t, err)
	}
	defer rows.Close()

	doc := Document{}
	for rows.Next() {
		var bot, id, raw string
		if err := rows.Scan(&bot, &id, &raw); err != nil {
			return nil, fmt.Errorf("store: scan %s: %w", t, err)
		}
		var rec Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("store: parse record %s/%s: %w", bot, id, err)
		}
		if doc[bot] == nil {
			doc[bot] = BotEvents{}
		}
		doc[bot][id] = rec
	}
	return doc, rows.Err()
}
