package command

import (
	"context"

	"github.com/cadencebot/cadence/pkg/message"
	"github.com/cadencebot/cadence/pkg/transport"
)

// DataCommand is the stateless one-shot variant: run the handler once,
// render the result. No timers, no durable record.
type DataCommand struct {
	*base
}

func newDataCommand(b *base) *DataCommand { return &DataCommand{base: b} }

// SetEvent is a no-op; one-shot commands leave nothing to replay.
func (c *DataCommand) SetEvent(ctx context.Context, msg *message.Parsed) error { return nil }

// Message routes the handler result: file responses go to an
// uploader-capable transport as structured data, everything else is
// rendered text.
func (c *DataCommand) Message(ctx context.Context, msg *message.Parsed, data interface{}) error {
	if data == nil {
		return nil
	}
	if c.def.ResponseType == ResponseFile {
		c.d.Emit(transport.Reply{
			Channels:    []string{msg.Channel},
			Thread:      msg.ThreadTS,
			Data:        data,
			CommandName: c.def.Name,
		})
		return nil
	}
	return c.base.Message(ctx, msg, data)
}
