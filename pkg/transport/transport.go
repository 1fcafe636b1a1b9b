// Package transport defines the seam between the command engine and the
// chat wire. The engine emits replies through a MessageHandler and
// never touches the wire itself; adapters in the subpackages carry
// replies out and publish raw inbound events onto the bus.
package transport

import (
	"context"

	"github.com/cadencebot/cadence/pkg/bus"
)

// Reply is one engine-emitted response, fanned out to channels.
type Reply struct {
	Channels []string
	Text     string
	Thread   string

	// Typing marks a presence-only event sent before a slow handler.
	Typing bool

	// Data carries structured payloads (file/rich replies) together
	// with the producing command's name for uploader-capable adapters.
	Data        interface{}
	CommandName string
}

// MessageHandler is the engine's only outbound dependency.
type MessageHandler func(Reply)

// Transport is one chat adapter: it publishes inbound events and
// delivers outbound replies.
type Transport interface {
	Name() string
	// Start connects and publishes inbound events until ctx is done.
	Start(ctx context.Context) error
	// Send delivers one outbound reply.
	Send(out bus.Outbound) error
	Stop() error
}
