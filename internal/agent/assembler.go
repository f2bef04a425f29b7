package agent

import (
	"regexp"

	"github.com/dmorn/m4d-chatter/internal/history"
	"github.com/dmorn/m4d-chatter/internal/llm"
)

// MixinProbability is the chance, in percent, that a persona mixin is added.
const MixinProbability = 30

var unsafeName = regexp.MustCompile(`[\s<|\\/>"]+`)

// SanitizeName makes a display name usable as a message name label.
func SanitizeName(name string) string {
	return unsafeName.ReplaceAllString(name, "_")
}

// Assembler turns a conversation and its newest message into model turns.
type Assembler struct {
	policies Policies
	dice     *Dice
}

func NewAssembler(policies Policies, dice *Dice) *Assembler {
	return &Assembler{policies: policies, dice: dice}
}

// Assemble returns history turns (when retained) followed by one system turn
// with the persona. A nil result means nothing should be sent: there is no
// text or image, no policy, or the response probability draw failed.
//
// An image that no history turn carries is sent in a user turn of its own
// right before the system turn, together with newText unless a history turn
// already holds it.
func (a *Assembler) Assemble(conversationID, newText string, turns []history.Turn, imageDataURI string) []llm.Message {
	if newText == "" && imageDataURI == "" {
		return nil
	}
	p, ok := a.policies.Resolve(conversationID)
	if !ok {
		return nil
	}
	if p.ResponseProbability > 0 && !a.dice.Toss(p.ResponseProbability) {
		return nil
	}

	var msgs []llm.Message
	imageAttached, textInHistory := false, false
	if a.policies.IncludesHistory(conversationID) && len(turns) > 0 {
		msgs = make([]llm.Message, 0, len(turns)+2)
		for _, t := range turns {
			name := p.DisplayName(t.Speaker)
			m := llm.Message{Role: llm.RoleUser, Name: SanitizeName(name)}
			if name == history.AssistantSpeaker {
				m.Role = llm.RoleAssistant
			}
			if newText != "" && t.Text == newText {
				textInHistory = true
			}
			if imageDataURI != "" && newText != "" && t.Text == newText {
				m.Content = []llm.Part{llm.TextPart(t.Text), llm.ImagePart(imageDataURI)}
				imageAttached = true
			} else {
				m.Content = []llm.Part{llm.TextPart(t.Text)}
			}
			msgs = append(msgs, m)
		}
	}

	if imageDataURI != "" && !imageAttached {
		var parts []llm.Part
		if newText != "" && !textInHistory {
			parts = append(parts, llm.TextPart(newText))
		}
		parts = append(parts, llm.ImagePart(imageDataURI))
		msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: parts})
	}

	return append(msgs, llm.Text(llm.RoleSystem, a.persona(p.Persona, p.Mixins)))
}

func (a *Assembler) persona(base string, mixins []string) string {
	if len(mixins) == 0 || !a.dice.Toss(MixinProbability) {
		return base
	}
	mixin := mixins[a.dice.Pick(len(mixins))]
	if mixin == "" {
		return base
	}
	return base + " " + mixin
}
