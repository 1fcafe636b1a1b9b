// Package command is the execution engine: it scores incoming messages
// against declarative rule sets, runs the command lifecycle
// (validate → typing → preprocess → setEvent → notify → process →
// message), and owns the long-lived timers and durable records behind
// recursive, alert, and schedule commands.
package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/cadencebot/cadence/pkg/alert"
	"github.com/cadencebot/cadence/pkg/message"
	"github.com/cadencebot/cadence/pkg/template"
	"github.com/cadencebot/cadence/pkg/validation"
)

// Type selects a command's lifecycle variant.
type Type string

const (
	TypeData      Type = "data"
	TypeRecursive Type = "recursive"
	TypeAlert     Type = "alert"
	TypeKill      Type = "kill"
	TypeSchedule  Type = "schedule"
)

// ResponseType selects how Message routes the handler result.
type ResponseType string

const (
	// ResponseText renders the result through the template (default).
	ResponseText ResponseType = "text"
	// ResponseFile hands the raw result to an uploader-capable
	// transport.
	ResponseFile ResponseType = "file"
)

// HandlerOptions carries invocation context into the author's handler.
type HandlerOptions struct {
	Channel    string
	User       string
	ScheduleID string
	// Quiet is true on timer, cron, and replay invocations.
	Quiet bool
}

// Handler is the author-supplied business logic, one normalized shape
// for every command kind.
type Handler func(ctx context.Context, input *message.Parsed, opts HandlerOptions) (interface{}, error)

// Definition is the author-declared configuration for one command,
// loaded once at bot construction and never mutated during dispatch.
type Definition struct {
	// Name keys the command; incoming messages match case-insensitively.
	Name string

	Type Type

	// Validation holds the candidate argument shapes. Empty means the
	// command takes no checked arguments.
	Validation []validation.Rule

	// AllowedUsers / AllowedChannels restrict who may run the command.
	// Empty means unrestricted.
	AllowedUsers    []string
	AllowedChannels []string

	// TimeInterval is the fallback interval for recursive/alert
	// commands when params name none. Zero means 1.
	TimeInterval int
	// TimeUnit is "m" (default) or "h".
	TimeUnit string

	// Algo selects the alert evaluation algorithm.
	Algo alert.Algo

	ResponseType ResponseType

	// Template renders the handler result; nil falls back to
	// template.Sprint.
	Template template.Renderer

	Handler Handler

	// HelpText is prepended to generated usage lines on the help path.
	HelpText string
}

// normalize applies defaults and checks the definition for
// configuration errors. Called once at registry build; a bad definition
// fails startup, never a live message.
func (d *Definition) normalize() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("command: definition has no name")
	}
	switch d.Type {
	case TypeData, TypeRecursive, TypeAlert, TypeKill, TypeSchedule:
	case "":
		d.Type = TypeData
	default:
		return fmt.Errorf("command %s: unknown type %q", d.Name, d.Type)
	}
	if d.Handler == nil && (d.Type == TypeData || d.Type == TypeRecursive || d.Type == TypeAlert) {
		return fmt.Errorf("command %s: %s commands need a handler", d.Name, d.Type)
	}
	if d.Type == TypeAlert && d.Algo == "" {
		d.Algo = alert.CumulativeDifference
	}
	if d.TimeUnit == "" {
		d.TimeUnit = "m"
	}
	if d.ResponseType == "" {
		d.ResponseType = ResponseText
	}
	return nil
}

// key is the registry lookup key.
func (d *Definition) key() string { return strings.ToUpper(d.Name) }
