package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/cadencebot/cadence/pkg/logger"
	"github.com/cadencebot/cadence/pkg/message"
	"github.com/cadencebot/cadence/pkg/sched"
	"github.com/cadencebot/cadence/pkg/store"
	"github.com/cadencebot/cadence/pkg/transport"
	"github.com/cadencebot/cadence/pkg/validation"
)

// Registry builds one Command per definition at construction, routes
// incoming messages by command name, and replays persisted events on
// startup.
type Registry struct {
	bot      string
	store    *store.Store
	sched    *sched.Scheduler
	emit     transport.MessageHandler
	commands map[string]Command
}

// NewRegistry compiles every definition, failing fast on configuration
// errors (bad types, missing handlers). Definitions never mutate after
// this point.
func NewRegistry(bot string, defs []*Definition, st *store.Store, sc *sched.Scheduler, emit transport.MessageHandler) (*Registry, error) {
	r := &Registry{
		bot:      bot,
		store:    st,
		sched:    sc,
		emit:     emit,
		commands: make(map[string]Command, len(defs)),
	}
	deps := &Deps{Bot: bot, Store: st, Sched: sc, Emit: emit, registry: r}

	for _, def := range defs {
		if err := def.normalize(); err != nil {
			return nil, err
		}
		if _, dup := r.commands[def.key()]; dup {
			return nil, fmt.Errorf("command %s declared twice", def.Name)
		}
		b := &base{def: def, d: deps}
		var c Command
		switch def.Type {
		case TypeData:
			c = newDataCommand(b)
		case TypeRecursive:
			c = newRecursiveCommand(b)
		case TypeAlert:
			c = newAlertCommand(b)
		case TypeSchedule:
			c = newScheduleCommand(b)
		case TypeKill:
			c = newKillCommand(b)
		}
		r.commands[def.key()] = c
	}
	return r, nil
}

// Get looks a command up by name, case-insensitively.
func (r *Registry) Get(name string) (Command, bool) {
	c, ok := r.commands[strings.ToUpper(name)]
	return c, ok
}

// Dispatch routes one parsed message through its command's lifecycle.
// Unknown commands are dropped with a debug log; validation rejections
// render back to the user; everything past validation is best-effort.
func (r *Registry) Dispatch(ctx context.Context, msg *message.Parsed) {
	c, ok := r.Get(msg.Command)
	if !ok {
		logger.DebugCF("registry", "no such command", map[string]interface{}{
			"command": msg.Command, "channel": msg.Channel,
		})
		return
	}
	if err := c.Validate(msg); err != nil {
		r.renderRejection(c, msg, err)
		return
	}
	r.emit(transport.Reply{
		Channels:    []string{msg.Channel},
		Typing:      true,
		CommandName: c.Definition().Name,
	})
	Respond(ctx, c, msg)
}

// Reload loads both durable partitions and replays every record that
// has no live timer yet. Called once at startup, before transports
// begin publishing.
func (r *Registry) Reload(ctx context.Context) error {
	if err := r.store.Load(); err != nil {
		return fmt.Errorf("registry: %w", err)
	}
	for id, rec := range r.store.Events() {
		r.replay(ctx, id, rec)
	}
	for id, rec := range r.store.Schedules() {
		r.replay(ctx, id, rec)
	}
	return nil
}

func (r *Registry) replay(ctx context.Context, id string, rec store.Record) {
	if rec.Message == nil {
		logger.WarnCF("registry", "durable record without message, skipped", map[string]interface{}{"id": id})
		return
	}
	c, ok := r.Get(rec.Message.Command)
	if !ok {
		logger.WarnCF("registry", "durable record for unknown command, skipped", map[string]interface{}{
			"id": id, "command": rec.Message.Command,
		})
		return
	}
	c.Reload(ctx, id, rec)
}

// Shutdown stops every live timer and cron job. Durable records stay
// behind for the next start's replay.
func (r *Registry) Shutdown() {
	r.store.Shutdown()
}

// renderRejection turns a validation error into the user-facing help
// reply. Unexpected error types are logged and silenced.
func (r *Registry) renderRejection(c Command, msg *message.Parsed, err error) {
	verr, ok := err.(*ValidationError)
	if !ok {
		logger.ErrorCF("registry", "validate failed", map[string]interface{}{
			"command": msg.Command, "error": err.Error(),
		})
		return
	}

	def := c.Definition()
	var b strings.Builder
	switch verr.Cause {
	case CauseRestrictedUser:
		fmt.Fprintf(&b, "Sorry, you are not allowed to run %s.", def.Name)
	case CauseRestrictedChannel:
		fmt.Fprintf(&b, "Sorry, %s cannot run in this channel.", def.Name)
	case CauseInvalidCommand:
		fmt.Fprintf(&b, "I do not know the command %q.", verr.Detail)
	case CauseInvalidCron:
		fmt.Fprintf(&b, "That cron expression is not usable: %s.", verr.Detail)
	default:
		r.renderParamHelp(&b, def, verr.Result)
	}

	r.emit(transport.Reply{
		Channels:    []string{msg.Channel},
		Text:        b.String(),
		Thread:      msg.ThreadTS,
		CommandName: def.Name,
	})
}

func (r *Registry) renderParamHelp(b *strings.Builder, def *Definition, res *validation.Result) {
	if def.HelpText != "" {
		b.WriteString(def.HelpText)
		b.WriteString("\n")
	}
	if res != nil {
		for _, fp := range res.FailedParams {
			if fp.Error != "" {
				fmt.Fprintf(b, "argument %d: %s\n", fp.Position+1, fp.Error)
			} else if len(fp.Recommend) > 0 {
				fmt.Fprintf(b, "argument %d: try one of %s\n", fp.Position+1, strings.Join(fp.Recommend, ", "))
			}
		}
		if len(res.SampleParams) > 0 {
			fmt.Fprintf(b, "usage: %s %s", def.Name, strings.Join(res.SampleParams, " "))
		}
	}
	if b.Len() == 0 {
		fmt.Fprintf(b, "That is not how %s works.", def.Name)
	}
}
