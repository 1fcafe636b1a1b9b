package command

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/cadencebot/cadence/pkg/logger"
	"github.com/cadencebot/cadence/pkg/message"
	"github.com/cadencebot/cadence/pkg/store"
	"github.com/cadencebot/cadence/pkg/validation"
)

// everyMinute is rejected as a schedule: it is almost always a typo and
// the recursive command already covers fixed-rate minutes.
const everyMinute = "* * * * *"

var cronParens = regexp.MustCompile(`\(([^)]*)\)`)

// ScheduleCommand wraps another command in a user-supplied cron
// expression: `schedule log 100 (*/15 * * * *)` reruns `log 100` on the
// cron cadence. Every job gets a scheduleId; kill stops the job by id.
type ScheduleCommand struct {
	*base
}

func newScheduleCommand(b *base) *ScheduleCommand { return &ScheduleCommand{base: b} }

// Validate re-validates the embedded sub-command against its own
// definition, then the cron expression itself.
func (c *ScheduleCommand) Validate(msg *message.Parsed) error {
	if len(c.def.AllowedUsers) > 0 && !containsFold(c.def.AllowedUsers, msg.User) {
		return &ValidationError{Cause: CauseRestrictedUser, Command: c.def.Name}
	}
	if len(c.def.AllowedChannels) > 0 && !containsFold(c.def.AllowedChannels, msg.Channel) {
		return &ValidationError{Cause: CauseRestrictedChannel, Command: c.def.Name}
	}

	inner, expr, err := splitCron(msg.Params)
	if err != nil {
		return &ValidationError{Cause: CauseInvalidCron, Command: c.def.Name, Detail: err.Error()}
	}
	if len(inner) == 0 {
		return &ValidationError{Cause: CauseInvalidCommand, Command: c.def.Name, Detail: "no command to schedule"}
	}

	target, ok := c.d.registry.Get(inner[0])
	if !ok || target.Definition().Type == TypeSchedule {
		return &ValidationError{Cause: CauseInvalidCommand, Command: c.def.Name, Detail: inner[0]}
	}
	innerMsg := c.innerMessage(msg, inner)
	if res := validation.Validate(target.Definition().Validation, innerMsg); !res.IsValid {
		return &ValidationError{Cause: CauseParam, Command: inner[0], Result: &res}
	}

	if expr == everyMinute || !c.d.Sched.IsValidCron(expr) {
		return &ValidationError{Cause: CauseInvalidCron, Command: c.def.Name, Detail: expr}
	}
	return nil
}

// Preprocess creates the cron job. On every tick the parenthetical is
// stripped and the embedded command forwarded to its own QuietRespond.
func (c *ScheduleCommand) Preprocess(ctx context.Context, msg *message.Parsed) error {
	inner, expr, err := splitCron(msg.Params)
	if err != nil {
		return err
	}
	target, ok := c.d.registry.Get(inner[0])
	if !ok {
		return &ValidationError{Cause: CauseInvalidCommand, Command: c.def.Name, Detail: inner[0]}
	}

	if msg.ScheduleID == "" {
		msg.ScheduleID = uuid.NewString()
	}
	// A live handle under this id means a replay already ran.
	if _, live := c.d.Store.Timer(msg.ScheduleID); live {
		return nil
	}

	tickMsg := c.innerMessage(msg, inner)
	tickMsg.ScheduleID = msg.ScheduleID
	handle, err := c.d.Sched.Cron(expr, func() {
		QuietRespond(context.Background(), target, tickMsg.Clone())
	})
	if err != nil {
		return fmt.Errorf("schedule %s: %w", expr, err)
	}
	c.d.Store.SetTimer(msg.ScheduleID, handle)
	logger.InfoCF("command", "cron job installed", map[string]interface{}{
		"command": inner[0], "expr": expr, "id": msg.ScheduleID,
	})
	return nil
}

// SetEvent persists the job into the schedule partition.
func (c *ScheduleCommand) SetEvent(ctx context.Context, msg *message.Parsed) error {
	return c.d.Store.Update(store.EventTypeSchedule, msg.ScheduleID, store.Record{
		Message:  msg.Clone(),
		Channels: []string{msg.Channel},
	})
}

// Notify confirms the job and hands the user its kill handle.
func (c *ScheduleCommand) Notify(ctx context.Context, msg *message.Parsed) error {
	_, expr, _ := splitCron(msg.Params)
	c.reply(msg, fmt.Sprintf("Scheduled (%s), id %s. Say `kill %s %s` to cancel.",
		expr, msg.ScheduleID, c.def.Name, msg.ScheduleID))
	return nil
}

// Process is a no-op; the work happens on cron ticks.
func (c *ScheduleCommand) Process(ctx context.Context, msg *message.Parsed) (interface{}, error) {
	return nil, nil
}

// Reload recreates one persisted cron job under its stored scheduleId.
func (c *ScheduleCommand) Reload(ctx context.Context, id string, rec store.Record) {
	if rec.Message == nil {
		return
	}
	msg := rec.Message.Clone()
	msg.ScheduleID = id
	if err := c.Preprocess(ctx, msg); err != nil {
		logger.ErrorCF("command", "schedule replay failed", map[string]interface{}{
			"command": c.def.Name, "id": id, "error": err.Error(),
		})
	}
}

func (c *ScheduleCommand) innerMessage(msg *message.Parsed, inner []string) *message.Parsed {
	return &message.Parsed{
		Channel:       msg.Channel,
		User:          msg.User,
		Team:          msg.Team,
		TS:            msg.TS,
		ThreadTS:      msg.ThreadTS,
		Command:       inner[0],
		Params:        append([]string(nil), inner[1:]...),
		CommandPrefix: msg.CommandPrefix,
	}
}

// splitCron separates the embedded command tokens from the
// parenthesized cron expression. Tokenization splits the parenthetical
// across params, so the split re-joins and re-fields.
func splitCron(params []string) (inner []string, expr string, err error) {
	joined := strings.Join(params, " ")
	m := cronParens.FindStringSubmatchIndex(joined)
	if m == nil {
		return nil, "", fmt.Errorf("no (cron expression) found")
	}
	expr = strings.TrimSpace(joined[m[2]:m[3]])
	if expr == "" {
		return nil, "", fmt.Errorf("empty (cron expression)")
	}
	inner = strings.Fields(joined[:m[0]])
	return inner, expr, nil
}
