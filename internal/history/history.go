// Package history is the per-conversation chat memory.
//
// A conversation is an append-only list of turns. Reads only ever see the most
// recent Retention turns. Storage is best-effort: a broken backend degrades to an
// empty history and dropped writes, it never stops the bot from answering.
package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dmorn/m4d-chatter/internal/outcome"
)

// DefaultRetention is the number of turns exposed to prompt assembly.
const DefaultRetention = 200

// AssistantSpeaker marks turns produced by the bot itself.
const AssistantSpeaker = "assistant"

var ErrClosed = errors.New("history: backend closed")

// Turn is one message in a conversation.
type Turn struct {
	Text    string
	Speaker string
	When    time.Time
}

// Backend persists turns. Last returns at most n of the most recent turns for
// conversationID, oldest first, and (nil, nil) for an unknown conversation.
type Backend interface {
	Append(ctx context.Context, conversationID string, turn Turn) error
	Last(ctx context.Context, conversationID string, n int) ([]Turn, error)
	Close() error
}

type Store struct {
	backend   Backend
	retention int
	now       func() time.Time
	logger    *zap.Logger
}

type Option func(*Store)

func WithRetention(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.retention = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewStore(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend:   backend,
		retention: DefaultRetention,
		now:       time.Now,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append records text for conversationID. Blank text is ignored and reported as
// outcome.StatusEmpty. A backend error is logged and reported as failed; the
// caller is expected to carry on.
func (s *Store) Append(ctx context.Context, conversationID, text, speaker string) outcome.Result[Turn] {
	if strings.TrimSpace(text) == "" {
		return outcome.Empty[Turn]()
	}
	turn := Turn{Text: text, Speaker: speaker, When: s.now()}
	if err := s.backend.Append(ctx, conversationID, turn); err != nil {
		err = fmt.Errorf("append turn to %s: %w", conversationID, err)
		s.logger.Warn("history write dropped", zap.String("conversation_id", conversationID), zap.Error(err))
		return outcome.Failed[Turn](err)
	}
	return outcome.OK(turn)
}

// Window returns the most recent turns of conversationID, oldest first. The
// returned slice is a fresh copy.
func (s *Store) Window(ctx context.Context, conversationID string) outcome.Result[[]Turn] {
	turns, err := s.backend.Last(ctx, conversationID, s.retention)
	if err != nil {
		err = fmt.Errorf("read window of %s: %w", conversationID, err)
		s.logger.Warn("history read failed, using empty history", zap.String("conversation_id", conversationID), zap.Error(err))
		return outcome.Failed[[]Turn](err)
	}
	if len(turns) == 0 {
		return outcome.Empty[[]Turn]()
	}
	if len(turns) > s.retention {
		turns = turns[len(turns)-s.retention:]
	}
	out := make([]Turn, len(turns))
	copy(out, turns)
	return outcome.OK(out)
}

func (s *Store) Close() error {
	return s.backend.Close()
}

// lastN keeps the final n elements of turns without retaining the prefix.
func lastN(turns []Turn, n int) []Turn {
	if n <= 0 || len(turns) <= n {
		return turns
	}
	out := make([]Turn, n)
	copy(out, turns[len(turns)-n:])
	return out
}
