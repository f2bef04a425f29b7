// Package agent is the message pipeline: it normalizes Telegram updates,
// decides whether to answer, builds the model prompt, and sends the reply.
package agent

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dmorn/m4d-chatter/internal/history"
	"github.com/dmorn/m4d-chatter/internal/llm"
	"github.com/dmorn/m4d-chatter/internal/outcome"
	"github.com/dmorn/m4d-chatter/internal/telegram"
)

// Messenger is the outbound side of the transport.
type Messenger interface {
	SendText(ctx context.Context, chatID int64, text string) error
	SendPhoto(ctx context.Context, chatID int64, photo []byte, caption string) error
	Download(ctx context.Context, fileID string) ([]byte, error)
}

// Poller is the long-polling inbound side of the transport.
type Poller interface {
	Poll(ctx context.Context, offset int64, timeoutSec int) ([]telegram.Update, error)
}

// Model is the completion and image backend.
type Model interface {
	Complete(ctx context.Context, msgs []llm.Message) outcome.Result[string]
	GenerateImage(ctx context.Context, prompt string) outcome.Result[string]
	FetchImage(ctx context.Context, ref string) outcome.Result[[]byte]
}

// History is the per-conversation context store.
type History interface {
	Append(ctx context.Context, conversationID, text, speaker string) outcome.Result[history.Turn]
	Window(ctx context.Context, conversationID string) outcome.Result[[]history.Turn]
}

type Options struct {
	Messenger Messenger
	LLM       Model
	History   History
	Policies  Policies
	Dice      *Dice
	Logger    *Logger
	Bus       EventBus
	SelfID    int64 // bot user id, from getMe

	// MaxConcurrent bounds the number of updates handled at once (default 16).
	MaxConcurrent int

	// Sleep waits before a reply is sent. Defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

type Agent struct {
	opts      Options
	log       *Logger
	gate      *Gate
	assembler *Assembler
}

func New(opts Options) *Agent {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 16
	}
	if opts.Dice == nil {
		opts.Dice = NewDice(0)
	}
	if opts.Logger == nil {
		opts.Logger = NopLogger()
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	return &Agent{
		opts:      opts,
		log:       opts.Logger,
		gate:      NewGate(opts.Policies, opts.Dice),
		assembler: NewAssembler(opts.Policies, opts.Dice),
	}
}

// Run handles updates from the bus until it is closed or ctx is done. Each
// update runs in its own goroutine, at most MaxConcurrent at a time. Run
// returns once the running handlers have returned.
func (a *Agent) Run(ctx context.Context) error {
	if a.opts.Bus == nil || a.opts.Messenger == nil || a.opts.LLM == nil || a.opts.History == nil || a.opts.Policies == nil {
		return errors.New("agent requires Bus, Messenger, LLM, History and Policies")
	}

	var g errgroup.Group
	g.SetLimit(a.opts.MaxConcurrent)
	defer g.Wait()

	updates := a.opts.Bus.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			g.Go(func() error {
				a.Handle(ctx, u)
				return nil
			})
		}
	}
}

// PollUpdates long-polls p and publishes updates to the bus until ctx is
// done. Poll errors are logged and retried after a pause.
func (a *Agent) PollUpdates(ctx context.Context, p Poller, timeoutSec int) error {
	var offset int64
	for {
		if ctx.Err() != nil {
			return nil
		}

		updates, err := p.Poll(ctx, offset, timeoutSec)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			a.log.Error("poll", err)
			if sleepContext(ctx, pollBackoff(err)) != nil {
				return nil
			}
			continue
		}

		for _, u := range updates {
			if err := a.opts.Bus.PublishContext(ctx, u); err != nil {
				if ctx.Err() != nil || errors.Is(err, ErrBusClosed) {
					return nil
				}
				return err
			}
			offset = u.UpdateID + 1
		}
	}
}

func pollBackoff(err error) time.Duration {
	var apiErr *telegram.APIError
	if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
		return time.Duration(apiErr.RetryAfter) * time.Second
	}
	return 5 * time.Second
}

// Handle processes one update end to end. Failures, panics included, are
// logged and never reach the conversation.
func (a *Agent) Handle(ctx context.Context, u telegram.Update) {
	log := a.log.With(zap.String("event_id", uuid.NewString()), zap.Int64("update_id", u.UpdateID))
	defer func() {
		if r := recover(); r != nil {
			log.Error("handle", fmt.Errorf("panic: %v\n%s", r, debug.Stack()))
		}
	}()

	switch ev := Normalize(u, a.opts.SelfID).(type) {
	case ChannelEvent:
		a.process(ctx, log, KindChannel, ev.Inbound)
	case LegacyChatEvent:
		a.process(ctx, log, KindLegacyChat, ev.Inbound)
	case DirectEvent:
		a.process(ctx, log, KindDirect, ev.Inbound)
	case Unrecognized:
		log.Skipped("", ev.Reason)
	}
}

func (a *Agent) process(ctx context.Context, log *Logger, kind EventKind, in Inbound) {
	ev := in.Canonical()
	log.Inbound(kind, ev, in.Image != nil)

	p, verdict := a.gate.Admit(ev)
	log.Decision(ev.ConversationID, verdict)
	if verdict != VerdictAdmit {
		return
	}

	if in.Image != nil {
		data, err := a.opts.Messenger.Download(ctx, in.Image.FileID)
		if err != nil {
			log.Error("download_image", err)
		} else {
			ev.ImageDataURI = llm.DataURI(in.Image.MIMEType, data)
		}
	}

	if ev.Text != "" {
		a.opts.History.Append(ctx, ev.ConversationID, ev.Text, ev.SenderID)
	}
	window := a.opts.History.Window(ctx, ev.ConversationID)

	msgs := a.assembler.Assemble(ev.ConversationID, ev.Text, window.Value, ev.ImageDataURI)
	if len(msgs) == 0 {
		log.Skipped(ev.ConversationID, "nothing to send")
		return
	}

	reply := a.opts.LLM.Complete(ctx, msgs)
	if !reply.Ok() {
		if reply.Failed() {
			log.Error("complete", reply.Err)
		} else {
			log.Skipped(ev.ConversationID, "empty reply")
		}
		return
	}

	a.opts.History.Append(ctx, ev.ConversationID, reply.Value, history.AssistantSpeaker)
	text := reply.Value
	if p.ResponseMarker != "" {
		text = p.ResponseMarker + " " + text
	}

	var photo []byte
	if a.gate.AllowImage(p, ev.Text) {
		photo = a.image(ctx, log, ImagePrompt(kind, p, ev.Text))
	}

	if err := a.opts.Sleep(ctx, kind.SendDelay()); err != nil {
		return
	}

	if photo != nil {
		err := a.opts.Messenger.SendPhoto(ctx, in.ChatID, photo, text)
		if err == nil {
			log.Outbound(in.ChatID, text, true)
			return
		}
		log.Error("send_photo", err)
	}
	if err := a.opts.Messenger.SendText(ctx, in.ChatID, text); err != nil {
		log.Error("send_text", err)
		return
	}
	log.Outbound(in.ChatID, text, false)
}

// image generates and fetches an image. Any failure yields nil.
func (a *Agent) image(ctx context.Context, log *Logger, prompt string) []byte {
	ref := a.opts.LLM.GenerateImage(ctx, prompt)
	if !ref.Ok() {
		if ref.Failed() {
			log.Error("generate_image", ref.Err)
		}
		return nil
	}
	data := a.opts.LLM.FetchImage(ctx, ref.Value)
	if !data.Ok() {
		if data.Failed() {
			log.Error("fetch_image", data.Err)
		}
		return nil
	}
	return data.Value
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
