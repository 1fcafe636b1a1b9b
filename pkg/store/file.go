package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileStorage persists each partition as one flat JSON document
// (events.json, schedule.json) under a data directory. Every write is a
// read-modify-write of the whole document; a process-local mutex
// serializes writers in this process only.
type FileStorage struct {
	dir string
	mu  sync.Mutex
}

// NewFileStorage creates the data directory if needed.
func NewFileStorage(dir string) (*FileStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create data dir %s: %w", dir, err)
	}
	return &FileStorage{dir: dir}, nil
}

func (s *FileStorage) path(t EventType) string {
	return filepath.Join(s.dir, string(t)+".json")
}

// UpdateEvents inserts or replaces one record and returns the full
// post-write partition.
func (s *FileStorage) UpdateEvents(key Key, rec Record) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read(key.Type)
	if err != nil {
		return nil, err
	}
	if doc[key.Bot] == nil {
		doc[key.Bot] = BotEvents{}
	}
	doc[key.Bot][key.ID] = rec

	if err := s.write(key.Type, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// RemoveEvents deletes one record (or a bot's whole slice when the id
// is empty) and returns the post-write partition.
func (s *FileStorage) RemoveEvents(key Key) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read(key.Type)
	if err != nil {
		return nil, err
	}
	if key.ID == "" {
		delete(doc, key.Bot)
	} else if doc[key.Bot] != nil {
		delete(doc[key.Bot], key.ID)
	}

	if err := s.write(key.Type, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// GetEvents reads the requested partitions.
func (s *FileStorage) GetEvents(types []EventType) (*Documents, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := &Documents{Events: Document{}, Schedule: Document{}}
	for _, t := range types {
		doc, err := s.read(t)
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

// Close is a no-op for the file driver.
func (s *FileStorage) Close() error { return nil }

func (s *FileStorage) read(t EventType) (Document, error) {
	data, err := os.ReadFile(s.path(t))
	if err != nil {
		if os.IsNotExist(err) {
			return Document{}, nil
		}
		return nil, fmt.Errorf("store: read %s: %w", s.path(t), err)
	}
	doc := Document{}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("store: parse %s: %w", s.path(t), err)
	}
	return doc, nil
}

func (s *FileStorage) write(t EventType, doc Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal %s: %w", t, err)
	}
	if err := os.WriteFile(s.path(t), data, 0o644); err != nil {
		return fmt.Errorf("store: write %s: %w", s.path(t), err)
	}
	return nil
}
