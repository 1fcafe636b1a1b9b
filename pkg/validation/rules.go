// Package validation scores a message's arguments against declarative
// rule sets and picks the best-matching rule.
//
// A command declares one Rule per accepted argument shape. Each schema
// position matches either a fixed literal (case-insensitive), a set of
// literals, or one or more regular expressions. Patterns compile when
// the rule is built; a malformed pattern is a configuration error and
// fails command registration, never a live message.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// Position is one argument slot in a rule schema.
type Position struct {
	literals []string
	patterns []*regexp.Regexp
}

// Literal builds a position matching any of the given fixed tokens,
// case-insensitively.
func Literal(values ...string) Position {
	return Position{literals: values}
}

// Pattern builds a position matching any of the given regular
// expressions. Each expression is anchored to the whole token.
func Pattern(exprs ...string) (Position, error) {
	p := Position{}
	for _, expr := range exprs {
		re, err := regexp.Compile("^(?:" + expr + ")$")
		if err != nil {
			return Position{}, fmt.Errorf("validation: pattern %q: %w", expr, err)
		}
		p.patterns = append(p.patterns, re)
	}
	return p, nil
}

// MustPattern is Pattern for statically known expressions; it panics on
// a malformed pattern.
func MustPattern(exprs ...string) Position {
	p, err := Pattern(exprs...)
	if err != nil {
		panic(err)
	}
	return p
}

// Match reports whether the token satisfies this position.
func (p Position) Match(token string) bool {
	for _, lit := range p.literals {
		if strings.EqualFold(lit, token) {
			return true
		}
	}
	for _, re := range p.patterns {
		if re.MatchString(token) {
			return true
		}
	}
	return false
}

// Options returns the literal alternatives, used for recommendations.
func (p Position) Options() []string { return p.literals }

// Help is the operator-facing guidance attached to one schema position.
type Help struct {
	// Recommend lists suggested tokens shown when the position fails
	// and no explicit Error message is set.
	Recommend []string
	// Error is the explicit message rendered for a failing position.
	Error string
	// Sample is an example token used when rendering usage lines.
	Sample string
}

// Rule is one candidate argument shape: positional schema, per-position
// help, and optional defaults injected for absent tokens.
type Rule struct {
	Schema   []Position
	Help     []Help
	Defaults []string
}

// defaultAt returns the default for position i, or "".
func (r Rule) defaultAt(i int) string {
	if i < len(r.Defaults) {
		return r.Defaults[i]
	}
	return ""
}

func (r Rule) helpAt(i int) Help {
	if i < len(r.Help) {
		return r.Help[i]
	}
	return Help{}
}

// SampleParams renders one example invocation from the rule's help.
func (r Rule) SampleParams() []string {
	out := make([]string, len(r.Schema))
	for i := range r.Schema {
		h := r.helpAt(i)
		switch {
		case h.Sample != "":
			out[i] = h.Sample
		case r.defaultAt(i) != "":
			out[i] = r.defaultAt(i)
		case len(r.Schema[i].literals) > 0:
			out[i] = r.Schema[i].literals[0]
		default:
			out[i] = "<arg>"
		}
	}
	return out
}
