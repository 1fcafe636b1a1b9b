package command

import (
	"context"
	"fmt"

	"github.com/cadencebot/cadence/pkg/logger"
	"github.com/cadencebot/cadence/pkg/message"
	"github.com/cadencebot/cadence/pkg/store"
)

// KillCommand is a pure dispatcher with no state of its own: it clears
// the first matching timer among the recursive timer for this
// channel+command, an alert task watching this channel, and a schedule
// job named by id — in that order.
type KillCommand struct {
	*base
}

// KillResult is the data handed to the template.
type KillResult struct {
	Status  string
	Command string
	ID      string
}

func newKillCommand(b *base) *KillCommand { return &KillCommand{base: b} }

// SetEvent is a no-op; kill leaves nothing to replay.
func (c *KillCommand) SetEvent(ctx context.Context, msg *message.Parsed) error { return nil }

func (c *KillCommand) Process(ctx context.Context, msg *message.Parsed) (interface{}, error) {
	target := msg.Param(0)
	scheduleID := msg.Param(1)
	res := c.kill(msg.Channel, target, scheduleID)
	logger.InfoCF("command", "kill", map[string]interface{}{
		"target": target, "channel": msg.Channel, "status": res.Status,
	})
	return res, nil
}

// kill checks the three stop targets in a fixed precedence: recursive
// timer, then alert task, then schedule job. The order is the
// contract, not an optimization — when one name could match more than
// one kind of task, the channel-scoped recursive timer must be the
// one that stops.
func (c *KillCommand) kill(channel, target, scheduleID string) KillResult {
	// Recursive timer for this channel+command wins over every other
	// branch.
	key := store.EventKey(channel, target)
	if c.d.Store.ClearTimer(key) {
		if err := c.d.Store.Remove(store.EventTypeEvents, key); err != nil {
			logger.ErrorCF("command", "kill record removal failed", map[string]interface{}{
				"id": key, "error": err.Error(),
			})
		}
		return KillResult{Status: ReportRecursiveStop, Command: target, ID: key}
	}

	// Alert task watching this channel.
	if t, ok := c.d.registry.Get(target); ok {
		if a, isAlert := t.(*AlertCommand); isAlert {
			if id, killed := a.KillChannel(channel); killed {
				return KillResult{Status: ReportRecursiveStop, Command: target, ID: id}
			}
		}
	}

	// Schedule job by explicit id.
	if scheduleID != "" {
		if c.d.Store.ClearTimer(scheduleID) {
			if err := c.d.Store.Remove(store.EventTypeSchedule, scheduleID); err != nil {
				logger.ErrorCF("command", "kill record removal failed", map[string]interface{}{
					"id": scheduleID, "error": err.Error(),
				})
			}
			return KillResult{Status: ReportRecursiveStop, Command: target, ID: scheduleID}
		}
		return KillResult{Status: ReportScheduleFail, Command: target, ID: scheduleID}
	}

	return KillResult{Status: ReportRecursiveFail, Command: target}
}

// Message renders the status through the definition's template when one
// is set, else a built-in phrasing per status.
func (c *KillCommand) Message(ctx context.Context, msg *message.Parsed, data interface{}) error {
	res, ok := data.(KillResult)
	if !ok {
		return c.base.Message(ctx, msg, data)
	}
	if c.def.Template != nil {
		return c.base.Message(ctx, msg, res)
	}
	var text string
	switch res.Status {
	case ReportRecursiveStop:
		text = fmt.Sprintf("Stopped %s.", res.Command)
	case ReportScheduleFail:
		text = fmt.Sprintf("No schedule %s found for %s.", res.ID, res.Command)
	default:
		text = fmt.Sprintf("Nothing to stop for %s here.", res.Command)
	}
	c.reply(msg, text)
	return nil
}
