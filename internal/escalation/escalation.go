// Package escalation decides whether a subagent's question must be surfaced
// to the human or can be answered automatically. Pattern families are checked
// in order: always-escalate first, auto-approve second, an optional custom
// decider last, and the fallback is to escalate.
package escalation

import (
	"regexp"
	"time"
)

// Decision is what a custom decider may return.
type Decision string

const (
	DecideEscalate Decision = "escalate"
	DecideAuto     Decision = "auto"
	DecideNone     Decision = ""
)

// Decider is an optional hook consulted when neither pattern family matches.
type Decider func(question, context string) Decision

var defaultAlwaysEscalate = []*regexp.Regexp{
	regexp.MustCompile(`(?i)delete|remove|destroy|drop|truncate`),
	regexp.MustCompile(`(?i)production|prod|live`),
	regexp.MustCompile(`(?i)api[- ]?key|secret|password|credential|token`),
	regexp.MustCompile(`(?i)billing|payment|cost|charge`),
	regexp.MustCompile(`(?i)force|--force|-f\b`),
	regexp.MustCompile(`(?i)push.*main|push.*master|merge.*main|merge.*master`),
}

var defaultAutoApprove = []*regexp.Regexp{
	regexp.MustCompile(`(?i)create.*directory|mkdir`),
	regexp.MustCompile(`(?i)install.*dev.*depend`),
	regexp.MustCompile(`(?i)run.*test|npm test|pytest|cargo test|go test`),
	regexp.MustCompile(`(?i)format.*code|prettier|black|ruff|gofmt`),
	regexp.MustCompile(`(?i)lint|eslint|flake8`),
	regexp.MustCompile(`(?i)build|compile`),
	regexp.MustCompile(`(?i)read|view|show|list|ls\b|cat\b`),
}

var criticalUrgency = []*regexp.Regexp{
	regexp.MustCompile(`(?i)production|prod\s|live\s`),
	regexp.MustCompile(`(?i)billing|payment|charge`),
	regexp.MustCompile(`(?i)api[- ]?key|secret|password|credential`),
}

var highUrgency = []*regexp.Regexp{
	regexp.MustCompile(`(?i)delete|remove|destroy|drop|truncate`),
	regexp.MustCompile(`(?i)force|--force`),
	regexp.MustCompile(`(?i)overwrite|replace.*all`),
}

var lowUrgency = []*regexp.Regexp{
	regexp.MustCompile(`(?i)create.*directory|mkdir`),
	regexp.MustCompile(`(?i)install.*depend`),
	regexp.MustCompile(`(?i)format|lint`),
}

var (
	yesNoRe      = regexp.MustCompile(`(?i)y/n|yes.*no|\(y\)|\[y\]`)
	confirmRe    = regexp.MustCompile(`(?i)confirm|proceed|continue|ok\?|okay\?`)
	pressEnterRe = regexp.MustCompile(`(?i)press enter|hit enter|<enter>`)
)

// Policy configures when the liaison escalates to the user.
type Policy struct {
	AlwaysEscalate []*regexp.Regexp
	AutoApprove    []*regexp.Regexp
	CustomDecider  Decider

	// DefaultTimeout bounds how long an escalated question waits before the
	// liaison falls back to handling it. Zero means wait forever.
	DefaultTimeout time.Duration
}

// NewPolicy returns a policy with the default pattern families.
func NewPolicy() *Policy {
	return &Policy{
		AlwaysEscalate: defaultAlwaysEscalate,
		AutoApprove:    defaultAutoApprove,
		DefaultTimeout: 5 * time.Minute,
	}
}

// ShouldEscalate reports whether a question must be surfaced to the user.
// Always-escalate patterns win over auto-approve regardless of order of
// appearance in the text.
func (p *Policy) ShouldEscalate(question, context string) bool {
	full := question + " " + context

	for _, re := range p.AlwaysEscalate {
		if re.MatchString(full) {
			return true
		}
	}
	for _, re := range p.AutoApprove {
		if re.MatchString(full) {
			return false
		}
	}
	if p.CustomDecider != nil {
		switch p.CustomDecider(question, context) {
		case DecideEscalate:
			return true
		case DecideAuto:
			return false
		}
	}
	// Safer to ask than assume.
	return true
}

// AutoResponse returns the automatic answer for a non-escalated question.
// ok is false when the question should have been escalated instead.
// The empty string with ok=true means "press Enter".
func (p *Policy) AutoResponse(question, context string) (response string, ok bool) {
	if p.ShouldEscalate(question, context) {
		return "", false
	}
	switch {
	case yesNoRe.MatchString(question):
		return "y", true
	case confirmRe.MatchString(question):
		return "yes", true
	case pressEnterRe.MatchString(question):
		return "", true
	default:
		return "yes", true
	}
}

// AssessUrgency labels a question critical/high/low/normal.
func (p *Policy) AssessUrgency(question, context string) string {
	full := question + " " + context

	for _, re := range criticalUrgency {
		if re.MatchString(full) {
			return "critical"
		}
	}
	for _, re := range highUrgency {
		if re.MatchString(full) {
			return "high"
		}
	}
	for _, re := range lowUrgency {
		if re.MatchString(full) {
			return "low"
		}
	}
	return "normal"
}
