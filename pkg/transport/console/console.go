// Package console is the local REPL transport: one line in, replies
// printed back. Useful for developing command definitions without a
// chat workspace.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"

	"github.com/cadencebot/cadence/pkg/bus"
	"github.com/cadencebot/cadence/pkg/logger"
)

const Name = "console"

// Channel is the pseudo channel id every console line arrives on.
const Channel = "console"

type Transport struct {
	bus *bus.MessageBus
	rl  *readline.Instance
}

func New(b *bus.MessageBus) *Transport {
	return &Transport{bus: b}
}

func (t *Transport) Name() string { return Name }

// Start reads lines until EOF or ctx cancellation.
func (t *Transport) Start(ctx context.Context) error {
	rl, err := readline.New("cadence> ")
	if err != nil {
		return fmt.Errorf("console: init readline: %w", err)
	}
	t.rl = rl

	go func() {
		<-ctx.Done()
		rl.Close()
	}()

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("console: read: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		t.bus.PublishInbound(bus.Inbound{
			Transport: Name,
			Channel:   Channel,
			User:      "operator",
			Text:      line,
		})
	}
}

// Send prints the reply. Typing events render as a short marker so the
// REPL still shows the acknowledge step.
func (t *Transport) Send(out bus.Outbound) error {
	if out.Typing {
		logger.DebugC("console", "…")
		return nil
	}
	if t.rl != nil {
		fmt.Fprintln(t.rl.Stdout(), out.Text)
	} else {
		fmt.Println(out.Text)
	}
	return nil
}

func (t *Transport) Stop() error {
	if t.rl != nil {
		return t.rl.Close()
	}
	return nil
}
