package agent

import (
	"context"
	"sync"
	"time"

	"github.com/dmorn/m4d-chatter/internal/history"
	"github.com/dmorn/m4d-chatter/internal/llm"
	"github.com/dmorn/m4d-chatter/internal/outcome"
	"github.com/dmorn/m4d-chatter/internal/policy"
)

// seqSource replays draws in order, repeating the last one. Values are
// returned modulo n.
type seqSource struct {
	mu    sync.Mutex
	draws []int
	calls []int
}

func draws(v ...int) *seqSource { return &seqSource{draws: v} }

func (s *seqSource) IntN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, n)
	v := s.draws[0]
	if len(s.draws) > 1 {
		s.draws = s.draws[1:]
	}
	return v % n
}

// rolls converts 1..100 rolls into raw IntN draws.
func rolls(r ...int) *Dice {
	raw := make([]int, len(r))
	for i, v := range r {
		raw[i] = v - 1
	}
	return NewDiceFrom(draws(raw...))
}

func staticPolicies(retain []string, entries map[string]policy.Policy) *policy.Lookup {
	return policy.Static(&policy.Document{Policies: entries, RetainHistory: retain})
}

type sentText struct {
	ChatID int64
	Text   string
}

type sentPhoto struct {
	ChatID  int64
	Photo   string
	Caption string
}

type fakeMessenger struct {
	mu        sync.Mutex
	texts     []sentText
	photos    []sentPhoto
	files     map[string][]byte
	photoErr  error
	downloads []string
}

func (m *fakeMessenger) SendText(_ context.Context, chatID int64, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.texts = append(m.texts, sentText{ChatID: chatID, Text: text})
	return nil
}

func (m *fakeMessenger) SendPhoto(_ context.Context, chatID int64, photo []byte, caption string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.photoErr != nil {
		return m.photoErr
	}
	m.photos = append(m.photos, sentPhoto{ChatID: chatID, Photo: string(photo), Caption: caption})
	return nil
}

func (m *fakeMessenger) Download(_ context.Context, fileID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.downloads = append(m.downloads, fileID)
	data, ok := m.files[fileID]
	if !ok {
		return nil, context.DeadlineExceeded
	}
	return data, nil
}

func (m *fakeMessenger) sentTexts() []sentText {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentText(nil), m.texts...)
}

type fakeModel struct {
	mu       sync.Mutex
	reply    outcome.Result[string]
	image    outcome.Result[string]
	fetched  outcome.Result[[]byte]
	requests [][]llm.Message
	prompts  []string
}

func (f *fakeModel) Complete(_ context.Context, msgs []llm.Message) outcome.Result[string] {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, msgs)
	return f.reply
}

func (f *fakeModel) GenerateImage(_ context.Context, prompt string) outcome.Result[string] {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	return f.image
}

func (f *fakeModel) FetchImage(context.Context, string) outcome.Result[[]byte] {
	return f.fetched
}

func (f *fakeModel) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// memBackend keeps turns in memory for history.Store.
type memBackend struct {
	mu    sync.Mutex
	turns map[string][]history.Turn
}

func newMemStore() *history.Store {
	return history.NewStore(&memBackend{turns: make(map[string][]history.Turn)})
}

func (m *memBackend) Append(_ context.Context, id string, t history.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns[id] = append(m.turns[id], t)
	return nil
}

func (m *memBackend) Last(_ context.Context, id string, n int) ([]history.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.turns[id]
	if len(all) > n {
		all = all[len(all)-n:]
	}
	return append([]history.Turn(nil), all...), nil
}

func (m *memBackend) Close() error { return nil }

// recordSleep records requested delays without waiting.
type recordSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordSleep) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}
