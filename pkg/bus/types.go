package bus

// Inbound is one raw chat event published by a transport. The bot
// tokenizes Text into a parsed command before dispatch.
type Inbound struct {
	Transport string `json:"transport"`
	Channel   string `json:"channel"`
	User      string `json:"user"`
	Team      string `json:"team,omitempty"`
	TS        string `json:"ts,omitempty"`
	ThreadTS  string `json:"thread_ts,omitempty"`
	Text      string `json:"text"`
}

// Outbound is one reply routed back to a transport.
type Outbound struct {
	Transport string `json:"transport"`
	Channel   string `json:"channel"`
	Text      string `json:"text"`
	Thread    string `json:"thread,omitempty"`

	// Typing marks a presence-only event (no text delivery).
	Typing bool `json:"typing,omitempty"`

	// Data carries structured payloads (file/rich replies) for
	// transports that can do better than plain text.
	Data interface{} `json:"data,omitempty"`
}
