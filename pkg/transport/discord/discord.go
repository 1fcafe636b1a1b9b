// Package discord maps Discord gateway message events onto the bus.
package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/cadencebot/cadence/pkg/bus"
	"github.com/cadencebot/cadence/pkg/logger"
)

const Name = "discord"

type Transport struct {
	bus     *bus.MessageBus
	session *discordgo.Session
}

func New(b *bus.MessageBus, token string) (*Transport, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord: init session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent
	return &Transport{bus: b, session: session}, nil
}

func (t *Transport) Name() string { return Name }

// Start opens the gateway and blocks until ctx is done.
func (t *Transport) Start(ctx context.Context) error {
	t.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.Bot {
			return
		}
		t.bus.PublishInbound(bus.Inbound{
			Transport: Name,
			Channel:   m.ChannelID,
			User:      m.Author.ID,
			Team:      m.GuildID,
			TS:        m.ID,
			Text:      m.Content,
		})
	})

	if err := t.session.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}
	logger.InfoC("discord", "connected")
	<-ctx.Done()
	return t.session.Close()
}

// Send delivers one reply; typing maps to the channel typing indicator.
func (t *Transport) Send(out bus.Outbound) error {
	if out.Typing {
		return t.session.ChannelTyping(out.Channel)
	}
	_, err := t.session.ChannelMessageSend(out.Channel, out.Text)
	if err != nil {
		return fmt.Errorf("discord: send to %s: %w", out.Channel, err)
	}
	return nil
}

func (t *Transport) Stop() error { return nil }
