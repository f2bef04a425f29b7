package agent

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/dmorn/m4d-chatter/internal/telegram"
)

var ErrBusClosed = errors.New("event bus closed")

// EventBus decouples update ingress (polling or webhook) from processing.
type EventBus interface {
	Publish(u telegram.Update)
	PublishContext(ctx context.Context, u telegram.Update) error
	Subscribe() <-chan telegram.Update
	Close()
}

// InMemoryBus is a buffered-channel bus for single-process use.
type InMemoryBus struct {
	mu     sync.RWMutex
	ch     chan telegram.Update
	closed bool
	log    *zap.Logger
}

// NewInMemoryBus creates an InMemoryBus with a buffer of 256 updates.
func NewInMemoryBus(log *zap.Logger) *InMemoryBus {
	if log == nil {
		log = zap.NewNop()
	}
	return &InMemoryBus{ch: make(chan telegram.Update, 256), log: log}
}

// Publish enqueues u without blocking. When the buffer is full the update is
// dropped and a warning is logged.
func (b *InMemoryBus) Publish(u telegram.Update) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	select {
	case b.ch <- u:
	default:
		b.log.Warn("bus full, dropping update", zap.Int64("update_id", u.UpdateID))
	}
}

// PublishContext enqueues u, waiting for buffer space until ctx is done.
func (b *InMemoryBus) PublishContext(ctx context.Context, u telegram.Update) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}
	select {
	case b.ch <- u:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe returns the underlying channel. All calls return the same channel.
func (b *InMemoryBus) Subscribe() <-chan telegram.Update {
	return b.ch
}

// Close closes the channel, unblocking the receiver. Safe to call twice.
func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.ch)
}
