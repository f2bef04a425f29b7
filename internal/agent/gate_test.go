package agent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dmorn/m4d-chatter/internal/policy"
)

func gateFor(p policy.Policy) *Gate {
	return NewGate(staticPolicies(nil, map[string]policy.Policy{"1": p}), rolls(50))
}

func TestAdmitNoPolicy(t *testing.T) {
	g := gateFor(policy.Policy{Persona: "p"})
	_, v := g.Admit(CanonicalEvent{ConversationID: "2", Text: "hello there"})
	assert.Equal(t, VerdictNoPolicy, v)
}

func TestAdmitSelf(t *testing.T) {
	_, v := gateFor(policy.Policy{}).Admit(CanonicalEvent{ConversationID: "1", Text: "hello there", IsSelf: true})
	assert.Equal(t, VerdictSelf, v)

	_, v = gateFor(policy.Policy{RespondToSelf: true}).Admit(CanonicalEvent{ConversationID: "1", Text: "hello there", IsSelf: true})
	assert.Equal(t, VerdictAdmit, v)
}

func TestAdmitTriggerWords(t *testing.T) {
	g := gateFor(policy.Policy{TriggerWords: []string{"foo"}})

	_, v := g.Admit(CanonicalEvent{ConversationID: "1", Text: "has FOO in it"})
	assert.Equal(t, VerdictAdmit, v)

	_, v = g.Admit(CanonicalEvent{ConversationID: "1", Text: "bar"})
	assert.Equal(t, VerdictNoTrigger, v)

	_, v = g.Admit(CanonicalEvent{ConversationID: "1"})
	assert.Equal(t, VerdictNoTrigger, v, "image-only events have no text to match")

	_, v = gateFor(policy.Policy{TriggerWords: []string{}}).Admit(CanonicalEvent{ConversationID: "1", Text: "anything at all"})
	assert.Equal(t, VerdictNoTrigger, v, "an empty list matches nothing")
}

func TestAdmitLength(t *testing.T) {
	g := gateFor(policy.Policy{})
	tests := []struct {
		text string
		want Verdict
	}{
		{"", VerdictAdmit},
		{"abcd", VerdictLength},
		{"abcde", VerdictAdmit},
		{strings.Repeat("a", 1000), VerdictAdmit},
		{strings.Repeat("a", 1001), VerdictLength},
		{"żółć", VerdictLength},
		{"żółwi", VerdictAdmit},
		{strings.Repeat("ж", 1000), VerdictAdmit},
	}
	for _, tt := range tests {
		_, v := g.Admit(CanonicalEvent{ConversationID: "1", Text: tt.text})
		assert.Equal(t, tt.want, v, "len %d", textLen(tt.text))
	}

	_, v := gateFor(policy.Policy{DisableLengthConstraint: true}).Admit(CanonicalEvent{ConversationID: "1", Text: "hi"})
	assert.Equal(t, VerdictAdmit, v)
}

func TestAdmitLink(t *testing.T) {
	for _, p := range []policy.Policy{
		{},
		{DisableLengthConstraint: true, RespondToSelf: true},
		{TriggerWords: []string{"look"}},
	} {
		_, v := gateFor(p).Admit(CanonicalEvent{ConversationID: "1", Text: "look at https://example.com"})
		assert.Equal(t, VerdictLink, v)
	}
	_, v := gateFor(policy.Policy{}).Admit(CanonicalEvent{ConversationID: "1", Text: "plain http://example.com"})
	assert.Equal(t, VerdictAdmit, v)
}

func TestAllowImage(t *testing.T) {
	g := NewGate(staticPolicies(nil, nil), rolls(30))
	assert.False(t, g.AllowImage(policy.Policy{}, "some text"), "unset probability never generates")
	assert.False(t, g.AllowImage(policy.Policy{ImageProbability: 100}, ""), "needs text")
	assert.True(t, g.AllowImage(policy.Policy{ImageProbability: 30}, "some text"))
	assert.False(t, g.AllowImage(policy.Policy{ImageProbability: 29}, "some text"))
}
