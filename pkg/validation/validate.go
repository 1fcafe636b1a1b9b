package validation

import (
	"sort"
	"strings"

	"github.com/cadencebot/cadence/pkg/message"
)

// MissingArgumentMessage is rendered for a failing position with no
// input token and no explicit help.
const MissingArgumentMessage = "missing required argument"

// helpToken short-circuits validation into the help/error path.
const helpToken = "help"

// FailedParam describes one failing schema position of the best
// near-match rule.
type FailedParam struct {
	Position  int      `json:"position"`
	Error     string   `json:"error,omitempty"`
	Recommend []string `json:"recommend,omitempty"`
}

// Result is the outcome of scoring one message against a rule set.
type Result struct {
	IsValid      bool
	IsNoop       bool
	IsMultiParam bool
	FailedParams []FailedParam
	NoOfErrors   int
	Cause        string
	SampleParams []string
}

// scored is one rule's evaluation against the message.
type scored struct {
	rule     *Rule
	errors   int
	weight   int // Σ (len(schema) − position) over failed positions
	failed   []int
	resolved []string
}

// Validate scores the message's params against every rule and returns
// the verdict.
//
// An empty rule set means the command takes no checked arguments
// (IsNoop). A leading "help" token forces the help path. Otherwise the
// effective input for position i is params[i] when present, else the
// rule's default. Failures at earlier positions weigh more, so between
// near-miss rules the one failing later wins. The winning zero-error
// rule writes its resolved defaults back into msg.Params.
func Validate(rules []Rule, msg *message.Parsed) Result {
	if len(rules) == 0 {
		return Result{IsValid: true, IsNoop: true}
	}

	multi := len(rules) > 1

	if strings.EqualFold(msg.Param(0), helpToken) {
		return Result{
			IsValid:      false,
			IsMultiParam: multi,
			Cause:        "help",
			SampleParams: rules[0].SampleParams(),
		}
	}

	candidates := make([]scored, 0, len(rules))
	for i := range rules {
		candidates = append(candidates, scoreRule(&rules[i], msg))
	}
	sort.SliceStable(candidates, func(a, b int) bool {
		return candidates[a].weight < candidates[b].weight
	})

	for _, c := range candidates {
		if c.errors != 0 {
			continue
		}
		// Winning rule: inject resolved defaults, keep any extra
		// trailing tokens the schema does not cover.
		for i, v := range c.resolved {
			if i < len(msg.Params) {
				msg.Params[i] = v
			} else {
				msg.Params = append(msg.Params, v)
			}
		}
		return Result{
			IsValid:      true,
			IsMultiParam: multi,
			SampleParams: c.rule.SampleParams(),
		}
	}

	best := candidates[0]
	res := Result{
		IsValid:      false,
		IsMultiParam: multi,
		NoOfErrors:   best.errors,
		Cause:        "param",
		SampleParams: best.rule.SampleParams(),
	}
	for _, pos := range best.failed {
		res.FailedParams = append(res.FailedParams, failedParam(best.rule, msg, pos))
	}
	return res
}

func scoreRule(rule *Rule, msg *message.Parsed) scored {
	s := scored{rule: rule, resolved: make([]string, len(rule.Schema))}
	for i, pos := range rule.Schema {
		tok := msg.Param(i)
		if tok == "" {
			tok = rule.defaultAt(i)
		}
		s.resolved[i] = tok
		if !pos.Match(tok) {
			s.errors++
			s.weight += len(rule.Schema) - i
			s.failed = append(s.failed, i)
		}
	}
	return s
}

func failedParam(rule *Rule, msg *message.Parsed, pos int) FailedParam {
	h := rule.helpAt(pos)
	fp := FailedParam{Position: pos}
	switch {
	case h.Error != "":
		fp.Error = h.Error
	case len(h.Recommend) > 0:
		fp.Recommend = h.Recommend
	case msg.Param(pos) == "" && rule.defaultAt(pos) == "":
		fp.Error = MissingArgumentMessage
	case len(rule.Schema[pos].Options()) > 0:
		fp.Recommend = rule.Schema[pos].Options()
	default:
		fp.Error = "invalid value " + strings.TrimSpace(msg.Param(pos))
	}
	return fp
}
