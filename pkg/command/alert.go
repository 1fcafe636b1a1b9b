package command

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/cadencebot/cadence/pkg/alert"
	"github.com/cadencebot/cadence/pkg/logger"
	"github.com/cadencebot/cadence/pkg/message"
	"github.com/cadencebot/cadence/pkg/store"
)

// AlertCommand fans one shared timer out over per-channel tasks. Each
// setup registers a task under a fresh scheduleId; the timer itself is
// installed only once per command name, so a second setup in another
// channel never resets the cadence of the first.
type AlertCommand struct {
	*base

	mu    sync.Mutex
	tasks map[string]*alertTask
}

// alertTask is one registered setup: its message, channel, and parsed
// sensitivity.
type alertTask struct {
	id   string
	msg  *message.Parsed
	sens alert.Sensitivity
}

// AlertPayload is the data handed to the template when an alert fires.
type AlertPayload struct {
	Command    string
	ScheduleID string
	Channel    string
	// Difference is set by the cumulative difference algorithm.
	Difference float64
	// Percentage is set by the consistent variation algorithm.
	Percentage int
	Samples    []alert.Sample
}

func newAlertCommand(b *base) *AlertCommand {
	return &AlertCommand{base: b, tasks: map[string]*alertTask{}}
}

// Preprocess registers the task and installs the shared timer when
// none is live yet (idempotent re-entry).
func (c *AlertCommand) Preprocess(ctx context.Context, msg *message.Parsed) error {
	sens, err := alert.ParseSensitivity(msg.Param(1))
	if err != nil {
		return &ValidationError{Cause: CauseParam, Command: c.def.Name, Detail: err.Error()}
	}

	c.mu.Lock()
	for _, t := range c.tasks {
		if t.msg.Channel == msg.Channel && sameParams(t.msg.Params, msg.Params) {
			c.mu.Unlock()
			c.reply(msg, fmt.Sprintf("%s is already watching this channel with those arguments.", c.def.Name))
			return fmt.Errorf("duplicate %s setup in channel %s", c.def.Name, msg.Channel)
		}
	}
	if msg.ScheduleID == "" {
		msg.ScheduleID = uuid.NewString()
	}
	c.tasks[msg.ScheduleID] = &alertTask{id: msg.ScheduleID, msg: msg.Clone(), sens: sens}
	c.mu.Unlock()

	timerKey := strings.ToUpper(c.def.Name)
	if _, live := c.d.Store.Timer(timerKey); !live {
		interval := c.interval(msg.Param(0))
		c.setTimer(timerKey, interval, c.tick)
		logger.InfoCF("command", "alert timer installed", map[string]interface{}{
			"command": c.def.Name, "interval": interval.String(),
		})
	}
	return nil
}

// SetEvent persists the task under its scheduleId.
func (c *AlertCommand) SetEvent(ctx context.Context, msg *message.Parsed) error {
	return c.d.Store.Update(store.EventTypeEvents, msg.ScheduleID, store.Record{
		Message:  msg.Clone(),
		Channels: []string{msg.Channel},
	})
}

// Notify confirms the setup and hands the user the kill handle.
func (c *AlertCommand) Notify(ctx context.Context, msg *message.Parsed) error {
	c.reply(msg, fmt.Sprintf("%s armed (id %s). Say `kill %s` in this channel to disarm.",
		c.def.Name, msg.ScheduleID, c.def.Name))
	return nil
}

// Process is a no-op on the user path; evaluation happens on ticks.
func (c *AlertCommand) Process(ctx context.Context, msg *message.Parsed) (interface{}, error) {
	return nil, nil
}

// tick runs every task's own handler with its own parameters, then the
// configured algorithm, and messages the task's channel when the alert
// fires. A failing task never stops the timer or the other tasks.
func (c *AlertCommand) tick() {
	ctx := context.Background()
	for _, t := range c.snapshot() {
		if err := c.evaluate(ctx, t); err != nil {
			logger.ErrorCF("command", "alert task failed", map[string]interface{}{
				"command": c.def.Name, "id": t.id, "error": err.Error(),
			})
		}
	}
}

func (c *AlertCommand) evaluate(ctx context.Context, t *alertTask) error {
	data, err := c.def.Handler(ctx, t.msg, HandlerOptions{
		Channel:    t.msg.Channel,
		User:       t.msg.User,
		ScheduleID: t.id,
		Quiet:      true,
	})
	if err != nil {
		return err
	}
	samples, err := coerceSamples(data)
	if err != nil {
		return err
	}

	payload := AlertPayload{
		Command:    c.def.Name,
		ScheduleID: t.id,
		Channel:    t.msg.Channel,
		Samples:    samples,
	}

	switch c.def.Algo {
	case alert.ConsistentVariation:
		eval, ok := alert.EvaluateConsistentVariation(alert.Values(samples), t.sens.Value)
		if !ok || !eval.Fired {
			return nil
		}
		payload.Percentage = eval.Percentage

	default: // cumulative difference
		eval, next := alert.EvaluateCumulativeDifference(samples, c.d.Store.Baseline(t.id), t.sens)
		c.d.Store.SetBaseline(t.id, next)
		if !eval.Fired {
			return nil
		}
		payload.Difference = eval.Difference
	}

	text, err := c.render(payload)
	if err != nil {
		return err
	}
	c.reply(t.msg, text)
	return nil
}

// KillChannel removes the task watching channel, clears its baseline
// and durable record, and stops the shared timer once no tasks remain.
func (c *AlertCommand) KillChannel(channel string) (string, bool) {
	c.mu.Lock()
	var victim *alertTask
	for _, t := range c.tasks {
		if t.msg.Channel == channel {
			victim = t
			break
		}
	}
	if victim != nil {
		delete(c.tasks, victim.id)
	}
	empty := len(c.tasks) == 0
	c.mu.Unlock()

	if victim == nil {
		return "", false
	}
	c.d.Store.ClearBaseline(victim.id)
	if err := c.d.Store.Remove(store.EventTypeEvents, victim.id); err != nil {
		logger.ErrorCF("command", "alert record removal failed", map[string]interface{}{
			"command": c.def.Name, "id": victim.id, "error": err.Error(),
		})
	}
	if empty {
		c.d.Store.ClearTimer(strings.ToUpper(c.def.Name))
	}
	return victim.id, true
}

// Reload re-registers one persisted task under its stored scheduleId.
// The duplicate-setup check makes a second replay a no-op.
func (c *AlertCommand) Reload(ctx context.Context, id string, rec store.Record) {
	if rec.Message == nil {
		return
	}
	msg := rec.Message.Clone()
	msg.ScheduleID = id
	if err := c.Preprocess(ctx, msg); err != nil {
		logger.DebugCF("command", "alert replay skipped", map[string]interface{}{
			"command": c.def.Name, "id": id, "reason": err.Error(),
		})
	}
}

func (c *AlertCommand) snapshot() []*alertTask {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*alertTask, 0, len(c.tasks))
	for _, t := range c.tasks {
		out = append(out, t)
	}
	return out
}

// coerceSamples accepts the shapes alert handlers return.
func coerceSamples(data interface{}) ([]alert.Sample, error) {
	switch v := data.(type) {
	case nil:
		return nil, nil
	case []alert.Sample:
		return v, nil
	case []float64:
		out := make([]alert.Sample, len(v))
		for i, f := range v {
			out[i] = alert.Sample{Value: f}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("alert handler returned %T, want []alert.Sample or []float64", data)
	}
}

func sameParams(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
