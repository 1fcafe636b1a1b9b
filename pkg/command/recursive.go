package command

import (
	"context"
	"fmt"

	"github.com/cadencebot/cadence/pkg/logger"
	"github.com/cadencebot/cadence/pkg/message"
	"github.com/cadencebot/cadence/pkg/store"
)

// RecursiveCommand reruns its handler on a fixed-rate timer, one timer
// per channel. Re-issuing the setup replaces the channel's timer
// unconditionally.
type RecursiveCommand struct {
	*base
}

func newRecursiveCommand(b *base) *RecursiveCommand { return &RecursiveCommand{base: b} }

// Preprocess installs the channel's timer. The tick path is
// QuietRespond: process and message only, no user-facing steps.
func (c *RecursiveCommand) Preprocess(ctx context.Context, msg *message.Parsed) error {
	interval := c.interval(msg.Param(0))
	tickMsg := msg.Clone()
	key := store.EventKey(msg.Channel, c.def.Name)
	c.setTimer(key, interval, func() {
		QuietRespond(context.Background(), c, tickMsg)
	})
	logger.InfoCF("command", "recursive timer installed", map[string]interface{}{
		"command": c.def.Name, "channel": msg.Channel, "interval": interval.String(),
	})
	return nil
}

// Notify confirms the setup to the requesting channel.
func (c *RecursiveCommand) Notify(ctx context.Context, msg *message.Parsed) error {
	c.reply(msg, fmt.Sprintf("%s now runs every %s. Say `kill %s` to stop it.",
		c.def.Name, c.interval(msg.Param(0)), c.def.Name))
	return nil
}

// Reload recreates the timer for one durable record. The
// clear-then-install in setTimer keeps a double replay at exactly one
// live timer.
func (c *RecursiveCommand) Reload(ctx context.Context, id string, rec store.Record) {
	if rec.Message == nil {
		return
	}
	if _, live := c.d.Store.Timer(id); live {
		return
	}
	if err := c.Preprocess(ctx, rec.Message.Clone()); err != nil {
		logger.ErrorCF("command", "recursive replay failed", map[string]interface{}{
			"command": c.def.Name, "id": id, "error": err.Error(),
		})
	}
}
