// Package webhook is the HTTP transport: POST /messages injects an
// inbound message, and GET /events upgrades to a websocket that streams
// copies of everything flowing through the bus. Replies to
// webhook-injected messages are delivered on the event stream.
package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cadencebot/cadence/pkg/bus"
	"github.com/cadencebot/cadence/pkg/logger"
)

const Name = "webhook"

// inboundRequest is the POST /messages payload.
type inboundRequest struct {
	Channel string `json:"channel"`
	User    string `json:"user"`
	Text    string `json:"text"`
}

type Transport struct {
	bus    *bus.MessageBus
	listen string
	hub    *hub
	server *http.Server
}

func New(b *bus.MessageBus, listen string) *Transport {
	return &Transport{bus: b, listen: listen, hub: newHub()}
}

func (t *Transport) Name() string { return Name }

// Start serves HTTP until ctx is done. Bus taps feed the websocket
// event stream.
func (t *Transport) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /messages", t.handleMessage)
	mux.HandleFunc("GET /events", t.hub.handleUpgrade)

	t.server = &http.Server{Addr: t.listen, Handler: mux}

	go t.hub.run(ctx)
	go t.pump(ctx, "inbound", t.bus.TapInbound("webhook"))
	go t.pump(ctx, "outbound", t.bus.TapOutbound("webhook"))
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		t.server.Shutdown(shutdownCtx)
	}()

	logger.InfoCF("webhook", "listening", map[string]interface{}{"addr": t.listen})
	if err := t.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (t *Transport) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req inboundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	if req.Text == "" {
		http.Error(w, "text required", http.StatusBadRequest)
		return
	}
	if req.Channel == "" {
		req.Channel = "webhook"
	}
	t.bus.PublishInbound(bus.Inbound{
		Transport: Name,
		Channel:   req.Channel,
		User:      req.User,
		Text:      req.Text,
	})
	w.WriteHeader(http.StatusAccepted)
}

// pump forwards one bus tap onto the websocket hub.
func (t *Transport) pump(ctx context.Context, kind string, tap <-chan interface{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-tap:
			if !ok {
				return
			}
			t.hub.broadcast(event{Type: kind, Timestamp: time.Now().UTC().Format(time.RFC3339), Data: msg})
		}
	}
}

// Send delivers replies onto the event stream; webhook callers consume
// them there.
func (t *Transport) Send(out bus.Outbound) error {
	if out.Typing {
		return nil
	}
	t.hub.broadcast(event{Type: "reply", Timestamp: time.Now().UTC().Format(time.RFC3339), Data: out})
	return nil
}

func (t *Transport) Stop() error { return nil }
