// Package message defines the parsed incoming message model shared by
// transports, validation, and the command engine.
package message

import (
	"regexp"
	"strings"
)

// Parsed is one tokenized incoming chat message. Transports fill the
// envelope fields; Tokenize fills Command and Params. After parsing the
// struct is treated as immutable except that validation may inject rule
// defaults into Params and the alert/schedule commands assign
// ScheduleID.
type Parsed struct {
	Channel  string `json:"channel"`
	User     string `json:"user"`
	Team     string `json:"team,omitempty"`
	TS       string `json:"ts,omitempty"`
	ThreadTS string `json:"thread_ts,omitempty"`

	// ScheduleID names the alert/schedule task this message created or
	// replays. Empty for plain commands.
	ScheduleID string `json:"schedule_id,omitempty"`

	Command       string   `json:"command"`
	Params        []string `json:"params"`
	CommandPrefix string   `json:"command_prefix,omitempty"`
}

// Param returns the i-th argument token, or "" when absent.
func (p *Parsed) Param(i int) string {
	if i < 0 || i >= len(p.Params) {
		return ""
	}
	return p.Params[i]
}

// Clone returns a deep copy; timer callbacks hold clones so a later
// validation write-back cannot race a tick in flight.
func (p *Parsed) Clone() *Parsed {
	cp := *p
	cp.Params = append([]string(nil), p.Params...)
	return &cp
}

// mentions like <@U024BE7LH> or <@U024BE7LH|bob> (Slack) and
// <@!138492> (Discord).
var mentionRe = regexp.MustCompile(`<@!?[A-Za-z0-9]+(?:\|[^>]+)?>`)

// Tokenize splits raw message text into {Command, Params}. Bot mentions
// are stripped first; a command prefix, when configured, must lead the
// remaining text and is removed. Returns nil for text that carries no
// command token.
func Tokenize(text, prefix string) *Parsed {
	text = strings.TrimSpace(mentionRe.ReplaceAllString(text, ""))
	if prefix != "" {
		if !strings.HasPrefix(text, prefix) {
			return nil
		}
		text = strings.TrimSpace(strings.TrimPrefix(text, prefix))
	}
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil
	}
	return &Parsed{
		Command:       fields[0],
		Params:        fields[1:],
		CommandPrefix: prefix,
	}
}
