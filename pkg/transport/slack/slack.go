// Package slack connects over Socket Mode and maps Slack message events
// onto the bus.
package slack

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/cadencebot/cadence/pkg/bus"
	"github.com/cadencebot/cadence/pkg/logger"
)

const Name = "slack"

type Transport struct {
	bus    *bus.MessageBus
	api    *slack.Client
	client *socketmode.Client
	botID  string
}

func New(b *bus.MessageBus, botToken, appToken string) *Transport {
	api := slack.New(botToken, slack.OptionAppLevelToken(appToken))
	return &Transport{
		bus:    b,
		api:    api,
		client: socketmode.New(api),
	}
}

func (t *Transport) Name() string { return Name }

// Start runs the Socket Mode event loop until ctx is done.
func (t *Transport) Start(ctx context.Context) error {
	auth, err := t.api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack: auth test: %w", err)
	}
	t.botID = auth.UserID
	logger.InfoCF("slack", "connected", map[string]interface{}{"bot": auth.User})

	go func() {
		if err := t.client.RunContext(ctx); err != nil && ctx.Err() == nil {
			logger.ErrorCF("slack", "socket mode stopped", map[string]interface{}{"error": err.Error()})
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-t.client.Events:
			if !ok {
				return nil
			}
			t.handle(evt)
		}
	}
}

func (t *Transport) handle(evt socketmode.Event) {
	if evt.Type != socketmode.EventTypeEventsAPI {
		return
	}
	apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
	if !ok {
		return
	}
	if evt.Request != nil {
		t.client.Ack(*evt.Request)
	}

	switch ev := apiEvent.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		// The bot's own messages echo back through the events API.
		if ev.User == "" || ev.User == t.botID || ev.BotID != "" {
			return
		}
		t.bus.PublishInbound(bus.Inbound{
			Transport: Name,
			Channel:   ev.Channel,
			User:      ev.User,
			Team:      apiEvent.TeamID,
			TS:        ev.TimeStamp,
			ThreadTS:  ev.ThreadTimeStamp,
			Text:      ev.Text,
		})
	case *slackevents.AppMentionEvent:
		if ev.User == "" || ev.User == t.botID {
			return
		}
		t.bus.PublishInbound(bus.Inbound{
			Transport: Name,
			Channel:   ev.Channel,
			User:      ev.User,
			Team:      apiEvent.TeamID,
			TS:        ev.TimeStamp,
			ThreadTS:  ev.ThreadTimeStamp,
			Text:      ev.Text,
		})
	}
}

// Send posts one reply. Typing events have no Socket Mode equivalent
// and are dropped.
func (t *Transport) Send(out bus.Outbound) error {
	if out.Typing {
		return nil
	}
	opts := []slack.MsgOption{slack.MsgOptionText(out.Text, false)}
	if out.Thread != "" {
		opts = append(opts, slack.MsgOptionTS(out.Thread))
	}
	_, _, err := t.api.PostMessage(out.Channel, opts...)
	if err != nil {
		return fmt.Errorf("slack: post to %s: %w", out.Channel, err)
	}
	return nil
}

func (t *Transport) Stop() error { return nil }
