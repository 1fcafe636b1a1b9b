// Package bot is the composition root: it wires config, storage, the
// scheduler, the command registry, and the configured transports into
// one running bot, replaying persisted tasks before the first message
// arrives.
package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cadencebot/cadence/pkg/bus"
	"github.com/cadencebot/cadence/pkg/command"
	"github.com/cadencebot/cadence/pkg/config"
	"github.com/cadencebot/cadence/pkg/logger"
	"github.com/cadencebot/cadence/pkg/message"
	"github.com/cadencebot/cadence/pkg/sched"
	"github.com/cadencebot/cadence/pkg/store"
	"github.com/cadencebot/cadence/pkg/transport"
	"github.com/cadencebot/cadence/pkg/transport/console"
	"github.com/cadencebot/cadence/pkg/transport/discord"
	"github.com/cadencebot/cadence/pkg/transport/slack"
	"github.com/cadencebot/cadence/pkg/transport/telegram"
	"github.com/cadencebot/cadence/pkg/transport/webhook"
)

type Bot struct {
	cfg        *config.Config
	bus        *bus.MessageBus
	storage    store.Storage
	store      *store.Store
	sched      *sched.Scheduler
	registry   *command.Registry
	transports map[string]transport.Transport

	mu     sync.RWMutex
	routes map[string]string // channel -> transport that last spoke there

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires a bot from config and command definitions. Nothing runs
// until Start.
func New(cfg *config.Config, defs []*command.Definition) (*Bot, error) {
	logger.SetLevelName(cfg.LogLevel)

	storage, err := openStorage(cfg.Storage)
	if err != nil {
		return nil, err
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("bot: timezone %q: %w", cfg.Timezone, err)
	}

	b := &Bot{
		cfg:        cfg,
		bus:        bus.New(),
		storage:    storage,
		store:      store.New(cfg.BotName, storage),
		sched:      sched.NewInLocation(loc),
		transports: map[string]transport.Transport{},
		routes:     map[string]string{},
	}

	registry, err := command.NewRegistry(cfg.BotName, defs, b.store, b.sched, b.emit)
	if err != nil {
		storage.Close()
		return nil, err
	}
	b.registry = registry

	if err := b.buildTransports(); err != nil {
		storage.Close()
		return nil, err
	}
	return b, nil
}

func openStorage(cfg config.StorageConfig) (store.Storage, error) {
	switch cfg.Driver {
	case "sqlite":
		return store.NewSQLiteStorage(cfg.DSN)
	default:
		return store.NewFileStorage(cfg.DataDir)
	}
}

func (b *Bot) buildTransports() error {
	tc := b.cfg.Transports
	if tc.Console.Enabled {
		b.AddTransport(console.New(b.bus))
	}
	if tc.Slack.BotToken != "" && tc.Slack.AppToken != "" {
		b.AddTransport(slack.New(b.bus, tc.Slack.BotToken, tc.Slack.AppToken))
	}
	if tc.Telegram.Token != "" {
		t, err := telegram.New(b.bus, tc.Telegram.Token)
		if err != nil {
			return err
		}
		b.AddTransport(t)
	}
	if tc.Discord.Token != "" {
		t, err := discord.New(b.bus, tc.Discord.Token)
		if err != nil {
			return err
		}
		b.AddTransport(t)
	}
	if tc.Webhook.Enabled {
		b.AddTransport(webhook.New(b.bus, tc.Webhook.Listen))
	}
	return nil
}

// AddTransport registers an adapter; call before Start.
func (b *Bot) AddTransport(t transport.Transport) {
	b.transports[t.Name()] = t
}

// Registry exposes the command registry for embedding programs.
func (b *Bot) Registry() *command.Registry { return b.registry }

// Start replays persisted tasks, starts every transport, and runs the
// dispatch loops until ctx is done or Stop is called.
func (b *Bot) Start(ctx context.Context) error {
	ctx, b.cancel = context.WithCancel(ctx)

	if err := b.registry.Reload(ctx); err != nil {
		return fmt.Errorf("bot: replay: %w", err)
	}

	for name, t := range b.transports {
		b.wg.Add(1)
		go func(name string, t transport.Transport) {
			defer b.wg.Done()
			if err := t.Start(ctx); err != nil {
				logger.ErrorCF("bot", "transport stopped", map[string]interface{}{
					"transport": name, "error": err.Error(),
				})
			}
		}(name, t)
	}

	b.wg.Add(2)
	go b.inboundLoop(ctx)
	go b.outboundLoop(ctx)

	logger.InfoCF("bot", "started", map[string]interface{}{
		"bot": b.cfg.BotName, "transports": len(b.transports),
	})
	return nil
}

// inboundLoop tokenizes raw events and dispatches commands. Each
// message runs in its own goroutine; there is no ordering guarantee
// across or within channels.
func (b *Bot) inboundLoop(ctx context.Context) {
	defer b.wg.Done()
	for {
		in, ok := b.bus.ConsumeInbound(ctx)
		if !ok {
			return
		}
		b.setRoute(in.Channel, in.Transport)

		prefix := b.cfg.CommandPrefix
		if in.Transport == console.Name {
			prefix = "" // the REPL is all commands
		}
		msg := message.Tokenize(in.Text, prefix)
		if msg == nil {
			continue
		}
		msg.Channel = in.Channel
		msg.User = in.User
		msg.Team = in.Team
		msg.TS = in.TS
		msg.ThreadTS = in.ThreadTS

		go b.registry.Dispatch(ctx, msg)
	}
}

// outboundLoop hands replies to the transport that owns the channel.
func (b *Bot) outboundLoop(ctx context.Context) {
	defer b.wg.Done()
	for {
		out, ok := b.bus.ConsumeOutbound(ctx)
		if !ok {
			return
		}
		t, ok := b.transports[out.Transport]
		if !ok {
			logger.WarnCF("bot", "reply for unknown transport dropped", map[string]interface{}{
				"transport": out.Transport, "channel": out.Channel,
			})
			continue
		}
		if err := t.Send(out); err != nil {
			logger.ErrorCF("bot", "reply delivery failed", map[string]interface{}{
				"transport": out.Transport, "channel": out.Channel, "error": err.Error(),
			})
		}
	}
}

// emit is the registry's MessageHandler: fan a reply out per channel
// and route each to the transport that last spoke there.
func (b *Bot) emit(reply transport.Reply) {
	for _, ch := range reply.Channels {
		b.bus.PublishOutbound(bus.Outbound{
			Transport: b.route(ch),
			Channel:   ch,
			Text:      reply.Text,
			Thread:    reply.Thread,
			Typing:    reply.Typing,
			Data:      reply.Data,
		})
	}
}

func (b *Bot) setRoute(channel, transportName string) {
	b.mu.Lock()
	b.routes[channel] = transportName
	b.mu.Unlock()
}

func (b *Bot) route(channel string) string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if t, ok := b.routes[channel]; ok {
		return t
	}
	if _, ok := b.transports[console.Name]; ok {
		return console.Name
	}
	return webhook.Name
}

// Stop cancels the loops, stops every timer, and closes storage.
// Durable records stay behind for the next start's replay. In-flight
// scheduler ticks drain before the bus closes; a tick mid-publish must
// never find the bus channels gone.
func (b *Bot) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	b.registry.Shutdown()
	b.sched.Wait()
	for _, t := range b.transports {
		t.Stop()
	}
	b.bus.Close()
	b.wg.Wait()
	if err := b.storage.Close(); err != nil {
		logger.ErrorCF("bot", "storage close failed", map[string]interface{}{"error": err.Error()})
	}
	logger.InfoC("bot", "stopped")
}
