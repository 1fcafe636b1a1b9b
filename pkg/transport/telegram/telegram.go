// Package telegram maps Telegram long-poll updates onto the bus. Chat
// ids are carried as decimal strings in the channel field.
package telegram

import (
	"context"
	"fmt"
	"strconv"

	"github.com/mymmrac/telego"

	"github.com/cadencebot/cadence/pkg/bus"
	"github.com/cadencebot/cadence/pkg/logger"
)

const Name = "telegram"

type Transport struct {
	bus *bus.MessageBus
	bot *telego.Bot
	ctx context.Context
}

func New(b *bus.MessageBus, token string) (*Transport, error) {
	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: init bot: %w", err)
	}
	return &Transport{bus: b, bot: bot}, nil
}

func (t *Transport) Name() string { return Name }

// Start long-polls updates until ctx is done.
func (t *Transport) Start(ctx context.Context) error {
	t.ctx = ctx
	updates, err := t.bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("telegram: long polling: %w", err)
	}
	logger.InfoC("telegram", "connected")

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			msg := update.Message
			if msg == nil || msg.Text == "" || msg.From == nil {
				continue
			}
			t.bus.PublishInbound(bus.Inbound{
				Transport: Name,
				Channel:   strconv.FormatInt(msg.Chat.ID, 10),
				User:      strconv.FormatInt(msg.From.ID, 10),
				TS:        strconv.FormatInt(int64(msg.Date), 10),
				Text:      msg.Text,
			})
		}
	}
}

// Send delivers one reply; typing maps to Telegram's chat action.
func (t *Transport) Send(out bus.Outbound) error {
	ctx := t.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	chatID, err := strconv.ParseInt(out.Channel, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: channel %q is not a chat id: %w", out.Channel, err)
	}
	if out.Typing {
		return t.bot.SendChatAction(ctx, &telego.SendChatActionParams{
			ChatID: telego.ChatID{ID: chatID},
			Action: telego.ChatActionTyping,
		})
	}
	_, err = t.bot.SendMessage(ctx, &telego.SendMessageParams{
		ChatID: telego.ChatID{ID: chatID},
		Text:   out.Text,
	})
	if err != nil {
		return fmt.Errorf("telegram: send to %d: %w", chatID, err)
	}
	return nil
}

func (t *Transport) Stop() error { return nil }
