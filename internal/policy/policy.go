// Package policy resolves a conversation id to the bot's behaviour in that
// conversation.
//
// The policy document is read and validated once, on first use, and never
// reloaded. A conversation without an entry is not handled at all.
package policy

import (
	"fmt"
	"os"
	"sync"
)

// Policy is the configuration of one conversation. JSON names follow the
// prompt-config.json document format.
type Policy struct {
	Persona                 string            `json:"prompt"`
	Mixins                  []string          `json:"mixins,omitempty"`
	RespondToSelf           bool              `json:"respondToSelf,omitempty"`
	TriggerWords            []string          `json:"triggerWords,omitempty"`
	DisableLengthConstraint bool              `json:"disableLengthConstraint,omitempty"`
	ResponseMarker          string            `json:"markAIMessages,omitempty"`
	ResponseProbability     float64           `json:"responseProbability,omitempty"` // 0 = always respond
	ImageProbability        float64           `json:"memeProbability,omitempty"`     // 0 = never generate
	ImagePrompt             string            `json:"imagePrompt,omitempty"`
	DisplayNames            map[string]string `json:"names,omitempty"`
}

// HasTriggerWords distinguishes an absent list from an empty one: an empty
// list is present and nothing can match it.
func (p Policy) HasTriggerWords() bool { return p.TriggerWords != nil }

// DisplayName resolves a speaker id to the label shown to the model.
func (p Policy) DisplayName(speaker string) string {
	if name, ok := p.DisplayNames[speaker]; ok {
		return name
	}
	if speaker != "" {
		return speaker
	}
	return "anonymous"
}

// Document is the whole policy configuration.
type Document struct {
	Policies      map[string]Policy `json:"promptConfig"`
	RetainHistory []string          `json:"keepConversationPrompts"`

	retain map[string]struct{}
}

func (d *Document) index() {
	d.retain = make(map[string]struct{}, len(d.RetainHistory))
	for _, id := range d.RetainHistory {
		d.retain[id] = struct{}{}
	}
}

func (d *Document) Resolve(conversationID string) (Policy, bool) {
	p, ok := d.Policies[conversationID]
	return p, ok
}

// IncludesHistory is false for documents not built by Parse or Static.
func (d *Document) IncludesHistory(conversationID string) bool {
	_, ok := d.retain[conversationID]
	return ok
}

// Lookup loads the document at path on first use. If loading fails at that
// point the fatal hook runs; by default it terminates the process.
type Lookup struct {
	path  string
	fatal func(error)

	once sync.Once
	doc  *Document
	err  error
}

type LookupOption func(*Lookup)

// WithFatal replaces the hook run when the document cannot be loaded lazily.
func WithFatal(fn func(error)) LookupOption {
	return func(l *Lookup) { l.fatal = fn }
}

func NewLookup(path string, opts ...LookupOption) *Lookup {
	l := &Lookup{
		path: path,
		fatal: func(err error) {
			fmt.Fprintf(os.Stderr, "policy: %v\n", err)
			os.Exit(1)
		},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Static wraps an already validated document.
func Static(doc *Document) *Lookup {
	doc.index()
	l := &Lookup{doc: doc}
	l.once.Do(func() {})
	return l
}

// Load reads and validates the document once. Later calls return the cached
// result, including a cached error.
func (l *Lookup) Load() (*Document, error) {
	l.once.Do(func() {
		l.doc, l.err = LoadFile(l.path)
	})
	return l.doc, l.err
}

func (l *Lookup) Resolve(conversationID string) (Policy, bool) {
	doc := l.mustLoad()
	if doc == nil {
		return Policy{}, false
	}
	return doc.Resolve(conversationID)
}

func (l *Lookup) IncludesHistory(conversationID string) bool {
	doc := l.mustLoad()
	if doc == nil {
		return false
	}
	return doc.IncludesHistory(conversationID)
}

func (l *Lookup) mustLoad() *Document {
	doc, err := l.Load()
	if err != nil {
		l.fatal(err)
		return nil
	}
	return doc
}
