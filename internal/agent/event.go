package agent

import (
	"strconv"
	"strings"
	"time"

	"github.com/dmorn/m4d-chatter/internal/telegram"
)

type EventKind string

const (
	KindChannel      EventKind = "channel"
	KindLegacyChat   EventKind = "legacy_chat"
	KindDirect       EventKind = "direct"
	KindUnrecognized EventKind = "unrecognized"
)

// SendDelay is how long a reply waits before it is sent. Legacy group chats
// are answered immediately.
func (k EventKind) SendDelay() time.Duration {
	switch k {
	case KindChannel, KindDirect:
		return 10 * time.Second
	default:
		return 0
	}
}

// Event is the normalized form of an update. It is one of ChannelEvent,
// LegacyChatEvent, DirectEvent or Unrecognized.
type Event interface {
	Kind() EventKind
	isEvent()
}

// Inbound carries what every recognised event shares.
type Inbound struct {
	UpdateID       int64
	ChatID         int64 // reply target
	ConversationID string
	Text           string
	SenderID       string
	IsSelf         bool
	Image          *ImageRef
}

// ImageRef points at an attached image that has not been downloaded yet.
type ImageRef struct {
	FileID   string
	MIMEType string
}

// CanonicalEvent is the tuple the pipeline works on once media is resolved.
type CanonicalEvent struct {
	ConversationID string
	Text           string
	SenderID       string
	IsSelf         bool
	ImageDataURI   string
}

func (in Inbound) Canonical() CanonicalEvent {
	return CanonicalEvent{
		ConversationID: in.ConversationID,
		Text:           in.Text,
		SenderID:       in.SenderID,
		IsSelf:         in.IsSelf,
	}
}

// ChannelEvent comes from a channel or a supergroup.
type ChannelEvent struct{ Inbound }

// LegacyChatEvent comes from a basic group chat.
type LegacyChatEvent struct{ Inbound }

// DirectEvent comes from a private chat with one user.
type DirectEvent struct{ Inbound }

// Unrecognized is an update the pipeline cannot address a reply to.
type Unrecognized struct {
	UpdateID int64
	Reason   string
}

func (ChannelEvent) Kind() EventKind    { return KindChannel }
func (LegacyChatEvent) Kind() EventKind { return KindLegacyChat }
func (DirectEvent) Kind() EventKind     { return KindDirect }
func (Unrecognized) Kind() EventKind    { return KindUnrecognized }

func (ChannelEvent) isEvent()    {}
func (LegacyChatEvent) isEvent() {}
func (DirectEvent) isEvent()     {}
func (Unrecognized) isEvent()    {}

// Normalize classifies u by chat type. selfID is the bot's own user id.
func Normalize(u telegram.Update, selfID int64) Event {
	msg, post := u.Message, false
	if msg == nil {
		msg, post = u.ChannelPost, true
	}
	if msg == nil {
		return Unrecognized{UpdateID: u.UpdateID, Reason: "no message"}
	}
	if msg.Chat.ID == 0 {
		return Unrecognized{UpdateID: u.UpdateID, Reason: "no chat id"}
	}

	in := Inbound{
		UpdateID:       u.UpdateID,
		ChatID:         msg.Chat.ID,
		ConversationID: strconv.FormatInt(msg.Chat.ID, 10),
		Text:           msg.Text,
		SenderID:       senderID(msg),
		IsSelf:         selfID != 0 && msg.From != nil && msg.From.ID == selfID,
		Image:          imageRef(msg),
	}
	if in.Text == "" {
		in.Text = msg.Caption
	}

	switch {
	case post, msg.Chat.Type == "channel", msg.Chat.Type == "supergroup":
		return ChannelEvent{in}
	case msg.Chat.Type == "group":
		return LegacyChatEvent{in}
	case msg.Chat.Type == "private":
		return DirectEvent{in}
	default:
		return Unrecognized{UpdateID: u.UpdateID, Reason: "unsupported chat type " + strconv.Quote(msg.Chat.Type)}
	}
}

// senderID is the user id when known, otherwise the title of the chat that
// posted the message.
func senderID(msg *telegram.Message) string {
	switch {
	case msg.From != nil:
		return strconv.FormatInt(msg.From.ID, 10)
	case msg.SenderChat != nil && msg.SenderChat.Title != "":
		return msg.SenderChat.Title
	case msg.SenderChat != nil:
		return strconv.FormatInt(msg.SenderChat.ID, 10)
	default:
		return msg.Chat.Title
	}
}

// imageRef picks the largest photo size, or an image document.
func imageRef(msg *telegram.Message) *ImageRef {
	if len(msg.Photo) > 0 {
		best := msg.Photo[0]
		for _, p := range msg.Photo[1:] {
			if p.Width*p.Height > best.Width*best.Height {
				best = p
			}
		}
		return &ImageRef{FileID: best.FileID, MIMEType: "image/jpeg"}
	}
	if d := msg.Document; d != nil && strings.HasPrefix(d.MIMEType, "image/") {
		return &ImageRef{FileID: d.FileID, MIMEType: d.MIMEType}
	}
	return nil
}
