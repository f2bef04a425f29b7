package agent

import (
	"strings"

	"github.com/dmorn/m4d-chatter/internal/policy"
)

const (
	channelImagePrompt    = `Make meme about this message: "{message}"`
	legacyChatImagePrompt = `Make meme based on this message either on English or without captions at all: "{message}"`
)

// ImagePrompt fills the policy's image template, or the default for kind,
// with the triggering text.
func ImagePrompt(kind EventKind, p policy.Policy, text string) string {
	tmpl := p.ImagePrompt
	if tmpl == "" {
		tmpl = channelImagePrompt
		if kind == KindLegacyChat {
			tmpl = legacyChatImagePrompt
		}
	}
	return strings.ReplaceAll(tmpl, "{message}", text)
}
