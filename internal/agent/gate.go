package agent

import (
	"strings"
	"unicode/utf8"

	"github.com/dmorn/m4d-chatter/internal/policy"
)

// Policies resolves conversation ids to their configuration.
type Policies interface {
	Resolve(conversationID string) (policy.Policy, bool)
	IncludesHistory(conversationID string) bool
}

// Verdict is the outcome of the admission chain.
type Verdict string

const (
	VerdictAdmit     Verdict = "admit"
	VerdictNoPolicy  Verdict = "no_policy"
	VerdictSelf      Verdict = "self"
	VerdictNoTrigger Verdict = "no_trigger"
	VerdictLength    Verdict = "length"
	VerdictLink      Verdict = "link"
)

const (
	MinTextLen = 5
	MaxTextLen = 1000
)

// Gate decides whether an event is worth a model call.
type Gate struct {
	policies Policies
	dice     *Dice
}

func NewGate(policies Policies, dice *Dice) *Gate {
	return &Gate{policies: policies, dice: dice}
}

// Admit runs the admission chain in order and stops at the first rejection.
// The policy is returned when one exists, whatever the verdict.
func (g *Gate) Admit(ev CanonicalEvent) (policy.Policy, Verdict) {
	p, ok := g.policies.Resolve(ev.ConversationID)
	if !ok {
		return policy.Policy{}, VerdictNoPolicy
	}
	if ev.IsSelf && !p.RespondToSelf {
		return p, VerdictSelf
	}
	if p.HasTriggerWords() && !containsAny(ev.Text, p.TriggerWords) {
		return p, VerdictNoTrigger
	}
	if !p.DisableLengthConstraint {
		if n := textLen(ev.Text); n > 0 && (n < MinTextLen || n > MaxTextLen) {
			return p, VerdictLength
		}
	}
	if strings.Contains(ev.Text, "https://") {
		return p, VerdictLink
	}
	return p, VerdictAdmit
}

// AllowImage is the image gate, evaluated after a reply was produced. It
// needs a configured probability, a text to illustrate and a winning toss.
func (g *Gate) AllowImage(p policy.Policy, text string) bool {
	if p.ImageProbability <= 0 || strings.TrimSpace(text) == "" {
		return false
	}
	return g.dice.Toss(p.ImageProbability)
}

func containsAny(text string, words []string) bool {
	lower := strings.ToLower(text)
	for _, w := range words {
		if strings.Contains(lower, strings.ToLower(w)) {
			return true
		}
	}
	return false
}

// textLen counts code points.
func textLen(s string) int {
	return utf8.RuneCountInString(s)
}
