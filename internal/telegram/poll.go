package telegram

import "context"

// Update is the raw Bot API update. Only message and channel_post are
// requested.
type Update struct {
	UpdateID    int64    `json:"update_id"`
	Message     *Message `json:"message,omitempty"`
	ChannelPost *Message `json:"channel_post,omitempty"`
}

type Message struct {
	MessageID  int64       `json:"message_id"`
	From       *User       `json:"from,omitempty"`
	SenderChat *Chat       `json:"sender_chat,omitempty"`
	Chat       Chat        `json:"chat"`
	Date       int64       `json:"date"`
	Text       string      `json:"text,omitempty"`
	Caption    string      `json:"caption,omitempty"`
	Photo      []PhotoSize `json:"photo,omitempty"`
	Document   *Document   `json:"document,omitempty"`
}

type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot,omitempty"`
	FirstName string `json:"first_name"`
	Username  string `json:"username,omitempty"`
}

type Chat struct {
	ID       int64  `json:"id"`
	Type     string `json:"type"` // "private", "group", "supergroup" or "channel"
	Title    string `json:"title,omitempty"`
	Username string `json:"username,omitempty"`
}

type PhotoSize struct {
	FileID       string `json:"file_id"`
	FileUniqueID string `json:"file_unique_id"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	FileSize     int64  `json:"file_size,omitempty"`
}

type Document struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name,omitempty"`
	MIMEType string `json:"mime_type,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`
}

// Poll fetches updates with long polling. Updates are returned as received;
// interpreting them is up to the caller.
func (c *Client) Poll(ctx context.Context, offset int64, timeoutSec int) ([]Update, error) {
	payload := map[string]any{
		"offset":          offset,
		"timeout":         timeoutSec,
		"allowed_updates": AllowedUpdates,
	}

	var raw []Update
	if err := c.do(ctx, "getUpdates", payload, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// AllowedUpdates lists the update kinds the bot subscribes to.
var AllowedUpdates = []string{"message", "channel_post"}
