// Package store holds the runtime and durable state that outlives a
// single message: live timer handles, in-flight flow answers, alert
// baselines, and the persisted recursive/alert/schedule records that
// are replayed after a restart.
package store

import (
	"strings"

	"github.com/cadencebot/cadence/pkg/message"
)

// EventType partitions durable records.
type EventType string

const (
	// EventTypeEvents holds recursive and alert tasks.
	EventTypeEvents EventType = "events"
	// EventTypeSchedule holds cron tasks.
	EventTypeSchedule EventType = "schedule"
)

// Key addresses one durable record: (partition, bot, id). The id is a
// scheduleId for alert/schedule tasks and CHANNEL_COMMAND for recursive
// tasks.
type Key struct {
	Type EventType
	Bot  string
	ID   string
}

// EventKey builds the composite id for a channel-scoped recursive task.
func EventKey(channel, command string) string {
	return channel + "_" + strings.ToUpper(command)
}

// Record is one persisted task: the message that created it plus the
// channels it fans out to. Replay feeds the message back through the
// owning command to recreate its timer.
type Record struct {
	Message  *message.Parsed `json:"parsedMessage"`
	Channels []string        `json:"channels"`
}

// BotEvents is one bot's slice of a partition, keyed by record id.
type BotEvents map[string]Record

// Document is one whole partition, keyed first by bot name. All bots in
// the process share the partition; a Store only mirrors its own slice.
type Document map[string]BotEvents

// Documents bundles both partitions as returned by a full read.
type Documents struct {
	Events   Document `json:"events"`
	Schedule Document `json:"schedule"`
}

// Storage is the durable collaborator behind the write-through store.
// UpdateEvents and RemoveEvents return the full post-write partition so
// callers can mirror their own slice. Concurrent updates for the same
// partition are read-modify-write races by contract; implementations
// serialize within one process but not across processes.
type Storage interface {
	UpdateEvents(key Key, rec Record) (Document, error)
	RemoveEvents(key Key) (Document, error)
	GetEvents(types []EventType) (*Documents, error)
	Close() error
}
