package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/cadencebot/cadence/pkg/alert"
	"github.com/cadencebot/cadence/pkg/logger"
	"github.com/cadencebot/cadence/pkg/sched"
)

// Store is one bot's slice of runtime and durable state. The runtime
// partition (timers, flows, baselines) lives only in memory; the events
// and schedule partitions are write-through mirrors of the durable
// Storage collaborator.
//
// Two in-process updates for the same bot serialize on the store mutex,
// but the durable document is shared by all bots and read-modify-written
// whole: concurrent updates from different Stores can lose writes. That
// race is part of the storage contract, not fixed here.
type Store struct {
	bot     string
	storage Storage

	mu        sync.RWMutex
	timers    map[string]*sched.Handle
	flows     map[string]*Flow
	baselines map[string][]alert.Sample
	events    BotEvents
	schedules BotEvents
}

// Flow is one in-flight multi-step command conversation: the answers
// collected so far. The slot expires if the flow stalls.
type Flow struct {
	Answers map[string]string
	expiry  *time.Timer
}

// New creates a store scoped to one bot name.
func New(bot string, storage Storage) *Store {
	return &Store{
		bot:       bot,
		storage:   storage,
		timers:    map[string]*sched.Handle{},
		flows:     map[string]*Flow{},
		baselines: map[string][]alert.Sample{},
		events:    BotEvents{},
		schedules: BotEvents{},
	}
}

// Bot returns the owning bot name.
func (s *Store) Bot() string { return s.bot }

// --- Runtime partition: timers ---

// Timer returns the live handle at key.
func (s *Store) Timer(key string) (*sched.Handle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.timers[key]
	return h, ok
}

// SetTimer installs a handle at key, stopping any handle already there.
// Exactly one live timer per key, always.
func (s *Store) SetTimer(key string, h *sched.Handle) {
	s.mu.Lock()
	old := s.timers[key]
	s.timers[key] = h
	s.mu.Unlock()
	if old != nil {
		old.Stop()
	}
}

// ClearTimer stops and forgets the handle at key.
func (s *Store) ClearTimer(key string) bool {
	s.mu.Lock()
	h, ok := s.timers[key]
	delete(s.timers, key)
	s.mu.Unlock()
	if ok {
		h.Stop()
	}
	return ok
}

// --- Runtime partition: alert baselines ---

// Baseline returns the previous sample series for an alert key, or nil
// before the first tick.
func (s *Store) Baseline(key string) []alert.Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.baselines[key]
}

// SetBaseline replaces the previous sample series for an alert key.
func (s *Store) SetBaseline(key string, samples []alert.Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baselines[key] = samples
}

// ClearBaseline drops the series for an alert key.
func (s *Store) ClearBaseline(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.baselines, key)
}

// --- Runtime partition: flows ---

// SetFlow opens (or refreshes) a flow slot that self-evicts after ttl.
func (s *Store) SetFlow(key string, answers map[string]string, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.flows[key]; ok && old.expiry != nil {
		old.expiry.Stop()
	}
	f := &Flow{Answers: answers}
	f.expiry = time.AfterFunc(ttl, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.flows[key] == f {
			delete(s.flows, key)
			logger.DebugCF("store", "flow expired", map[string]interface{}{"key": key})
		}
	})
	s.flows[key] = f
}

// Flow returns the open flow slot at key.
func (s *Store) Flow(key string) (*Flow, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.flows[key]
	return f, ok
}

// ClearFlow closes a flow slot before its timeout.
func (s *Store) ClearFlow(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.flows[key]; ok {
		if f.expiry != nil {
			f.expiry.Stop()
		}
		delete(s.flows, key)
	}
}

// --- Durable partitions (write-through) ---

// Update persists a record and mirrors this bot's slice of the result.
func (s *Store) Update(t EventType, id string, rec Record) error {
	doc, err := s.storage.UpdateEvents(Key{Type: t, Bot: s.bot, ID: id}, rec)
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", t, id, err)
	}
	s.mirror(t, doc)
	return nil
}

// Remove deletes a record and mirrors this bot's slice of the result.
func (s *Store) Remove(t EventType, id string) error {
	doc, err := s.storage.RemoveEvents(Key{Type: t, Bot: s.bot, ID: id})
	if err != nil {
		return fmt.Errorf("remove %s/%s: %w", t, id, err)
	}
	s.mirror(t, doc)
	return nil
}

// Load reads both durable partitions into the in-memory mirror. Called
// once at startup before replay.
func (s *Store) Load() error {
	docs, err := s.storage.GetEvents([]EventType{EventTypeEvents, EventTypeSchedule})
	if err != nil {
		return fmt.Errorf("load events: %w", err)
	}
	s.mirror(EventTypeEvents, docs.Events)
	s.mirror(EventTypeSchedule, docs.Schedule)
	return nil
}

// Events returns a copy of this bot's recursive/alert records.
func (s *Store) Events() BotEvents { return s.copyOf(EventTypeEvents) }

// Schedules returns a copy of this bot's cron records.
func (s *Store) Schedules() BotEvents { return s.copyOf(EventTypeSchedule) }

func (s *Store) copyOf(t EventType) BotEvents {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.events
	if t == EventTypeSchedule {
		src = s.schedules
	}
	out := make(BotEvents, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func (s *Store) mirror(t EventType, doc Document) {
	slice := doc[s.bot]
	if slice == nil {
		slice = BotEvents{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch t {
	case EventTypeEvents:
		s.events = slice
	case EventTypeSchedule:
		s.schedules = slice
	}
}

// Shutdown stops every live timer and flow expiry. Durable records stay
// behind for the next start's replay.
func (s *Store) Shutdown() {
	s.mu.Lock()
	timers := s.timers
	flows := s.flows
	s.timers = map[string]*sched.Handle{}
	s.flows = map[string]*Flow{}
	s.mu.Unlock()

	for _, h := range timers {
		h.Stop()
	}
	for _, f := range flows {
		if f.expiry != nil {
			f.expiry.Stop()
		}
	}
}
