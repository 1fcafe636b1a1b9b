package command

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/cadencebot/cadence/pkg/logger"
	"github.com/cadencebot/cadence/pkg/message"
	"github.com/cadencebot/cadence/pkg/sched"
	"github.com/cadencebot/cadence/pkg/store"
	"github.com/cadencebot/cadence/pkg/template"
	"github.com/cadencebot/cadence/pkg/transport"
	"github.com/cadencebot/cadence/pkg/validation"
)

// Command is the per-variant lifecycle. One instance exists per
// declared command name; it is long-lived and repeats the lifecycle for
// every incoming message.
type Command interface {
	Definition() *Definition
	// Validate checks allow-lists and argument schemas. Rejections are
	// *ValidationError values, never panics.
	Validate(msg *message.Parsed) error
	Preprocess(ctx context.Context, msg *message.Parsed) error
	SetEvent(ctx context.Context, msg *message.Parsed) error
	Notify(ctx context.Context, msg *message.Parsed) error
	Process(ctx context.Context, msg *message.Parsed) (interface{}, error)
	Message(ctx context.Context, msg *message.Parsed, data interface{}) error
	// Reload replays one durable record on startup, recreating the
	// record's timer or cron job exactly once.
	Reload(ctx context.Context, id string, rec store.Record)
}

// Deps are the capabilities injected into every command at build time.
type Deps struct {
	Bot      string
	Store    *store.Store
	Sched    *sched.Scheduler
	Emit     transport.MessageHandler
	registry *Registry
}

// Respond runs the lifecycle chain for one validated message. Any error
// anywhere in the chain is logged and swallowed — a failing command
// never crashes the process.
func Respond(ctx context.Context, c Command, msg *message.Parsed) {
	name := c.Definition().Name
	if err := c.Preprocess(ctx, msg); err != nil {
		logChainError(name, "preprocess", err)
		return
	}
	if err := c.SetEvent(ctx, msg); err != nil {
		logChainError(name, "setEvent", err)
		return
	}
	if err := c.Notify(ctx, msg); err != nil {
		logChainError(name, "notify", err)
		return
	}
	data, err := c.Process(ctx, msg)
	if err != nil {
		logChainError(name, "process", err)
		return
	}
	if err := c.Message(ctx, msg, data); err != nil {
		logChainError(name, "message", err)
	}
}

// QuietRespond is the re-invocation path used by timers, cron jobs, and
// replay: process and message only, skipping the user-facing
// validate/notify steps.
func QuietRespond(ctx context.Context, c Command, msg *message.Parsed) {
	name := c.Definition().Name
	data, err := c.Process(ctx, msg)
	if err != nil {
		logChainError(name, "process", err)
		return
	}
	if err := c.Message(ctx, msg, data); err != nil {
		logChainError(name, "message", err)
	}
}

func logChainError(command, step string, err error) {
	logger.ErrorCF("command", "lifecycle step failed", map[string]interface{}{
		"command": command, "step": step, "error": err.Error(),
	})
}

// base carries the shared lifecycle; variants embed it and override the
// steps they change.
type base struct {
	def *Definition
	d   *Deps
}

func (b *base) Definition() *Definition { return b.def }

func (b *base) Validate(msg *message.Parsed) error {
	if len(b.def.AllowedUsers) > 0 && !containsFold(b.def.AllowedUsers, msg.User) {
		return &ValidationError{Cause: CauseRestrictedUser, Command: b.def.Name}
	}
	if len(b.def.AllowedChannels) > 0 && !containsFold(b.def.AllowedChannels, msg.Channel) {
		return &ValidationError{Cause: CauseRestrictedChannel, Command: b.def.Name}
	}
	res := validation.Validate(b.def.Validation, msg)
	if !res.IsValid {
		return &ValidationError{Cause: CauseParam, Command: b.def.Name, Result: &res}
	}
	return nil
}

func (b *base) Preprocess(ctx context.Context, msg *message.Parsed) error { return nil }

// SetEvent persists the message so a restart can replay it. Kill and
// one-shot data commands override this to a no-op.
func (b *base) SetEvent(ctx context.Context, msg *message.Parsed) error {
	return b.d.Store.Update(store.EventTypeEvents, store.EventKey(msg.Channel, b.def.Name), store.Record{
		Message:  msg.Clone(),
		Channels: []string{msg.Channel},
	})
}

func (b *base) Notify(ctx context.Context, msg *message.Parsed) error { return nil }

func (b *base) Process(ctx context.Context, msg *message.Parsed) (interface{}, error) {
	if b.def.Handler == nil {
		return nil, nil
	}
	return b.def.Handler(ctx, msg, HandlerOptions{
		Channel:    msg.Channel,
		User:       msg.User,
		ScheduleID: msg.ScheduleID,
	})
}

func (b *base) Message(ctx context.Context, msg *message.Parsed, data interface{}) error {
	if data == nil {
		return nil
	}
	text, err := b.render(data)
	if err != nil {
		return err
	}
	b.d.Emit(transport.Reply{
		Channels:    []string{msg.Channel},
		Text:        text,
		Thread:      msg.ThreadTS,
		CommandName: b.def.Name,
	})
	return nil
}

func (b *base) Reload(ctx context.Context, id string, rec store.Record) {}

// render applies the definition's template, falling back to fmt.
func (b *base) render(data interface{}) (string, error) {
	if b.def.Template != nil {
		return b.def.Template(data)
	}
	return template.Sprint(data)
}

// reply emits plain text to the message's channel.
func (b *base) reply(msg *message.Parsed, text string) {
	b.d.Emit(transport.Reply{
		Channels:    []string{msg.Channel},
		Text:        text,
		Thread:      msg.ThreadTS,
		CommandName: b.def.Name,
	})
}

// setTimer installs a recurring timer at key, replacing any timer
// already there.
func (b *base) setTimer(key string, interval time.Duration, fn func()) {
	b.d.Store.SetTimer(key, b.d.Sched.Every(interval, fn))
}

// interval derives the timer period from the first argument token:
// minutes, ×60 when the definition's unit is hours, defaulting to the
// definition's fallback (or 1) on absent, non-numeric, or zero input.
func (b *base) interval(tok string) time.Duration {
	n, err := strconv.Atoi(tok)
	if err != nil || n <= 0 {
		n = b.def.TimeInterval
		if n <= 0 {
			n = 1
		}
	}
	if b.def.TimeUnit == "h" {
		n *= 60
	}
	return time.Duration(n) * time.Minute
}

func containsFold(haystack []string, needle string) bool {
	for _, h := range haystack {
		if strings.EqualFold(h, needle) {
			return true
		}
	}
	return false
}
