package llm

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

const (
	PartText  = "text"
	PartImage = "image_url"
)

// Part is one piece of message content: text, or an image referenced by URL
// or data URI.
type Part struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

type Message struct {
	Role    Role   `json:"role"`
	Content []Part `json:"content"`
	Name    string `json:"name,omitempty"`
}

func TextPart(text string) Part { return Part{Type: PartText, Text: text} }

func ImagePart(url string) Part { return Part{Type: PartImage, ImageURL: url} }

// Text builds a single-part text message.
func Text(role Role, text string) Message {
	return Message{Role: role, Content: []Part{TextPart(text)}}
}

// PlainText concatenates the text parts of m.
func (m Message) PlainText() string {
	var sb strings.Builder
	for _, p := range m.Content {
		if p.Type == PartText {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// HasImage reports whether any part of m is an image.
func (m Message) HasImage() bool {
	for _, p := range m.Content {
		if p.Type == PartImage {
			return true
		}
	}
	return false
}

type Response struct {
	Text       string `json:"text,omitempty"`
	Model      string `json:"model,omitempty"`
	Usage      Usage  `json:"usage"`
	StopReason string `json:"stop_reason"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// splitSystem pulls system turns out of msgs for providers that take the
// system prompt as a separate field. Providers that need at least one
// conversation turn get the system text as a user turn when nothing else is
// left.
func splitSystem(msgs []Message) (string, []Message) {
	var system []string
	var rest []Message
	for _, m := range msgs {
		if m.Role == RoleSystem {
			if t := m.PlainText(); t != "" {
				system = append(system, t)
			}
			continue
		}
		rest = append(rest, m)
	}
	joined := strings.Join(system, "\n\n")
	if len(rest) == 0 && joined != "" {
		return "", []Message{Text(RoleUser, joined)}
	}
	return joined, rest
}

// withName prefixes text with the speaker label for providers that have no
// per-message name field.
func withName(name, text string) string {
	if name == "" {
		return text
	}
	return name + ": " + text
}

var errNotDataURI = errors.New("not a data URI")

// DataURI encodes data as a base64 data URI.
func DataURI(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// ParseDataURI decodes a base64 data URI into its MIME type and payload.
func ParseDataURI(uri string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return "", nil, errNotDataURI
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, fmt.Errorf("malformed data URI: missing payload")
	}
	mimeType, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return "", nil, fmt.Errorf("unsupported data URI encoding %q", meta)
	}
	if mimeType == "" {
		mimeType = "text/plain"
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("decode data URI: %w", err)
	}
	return mimeType, data, nil
}
