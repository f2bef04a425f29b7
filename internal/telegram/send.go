package telegram

import (
	"context"
	"strconv"

	"go.uber.org/zap"
)

const (
	maxChunkRunes   = 4096
	maxCaptionRunes = 1024
)

// SendText sends text as plain text, split into chunks Telegram accepts.
func (c *Client) SendText(ctx context.Context, chatID int64, text string) error {
	for _, chunk := range splitAtNewlines(text, maxChunkRunes) {
		err := c.do(ctx, "sendMessage", map[string]any{
			"chat_id": chatID,
			"text":    chunk,
		}, nil)
		if err != nil {
			return err
		}
	}
	return nil
}

// SendPhoto uploads photo with caption. A caption over the Bot API limit is
// sent as a separate text message after the photo.
func (c *Client) SendPhoto(ctx context.Context, chatID int64, photo []byte, caption string) error {
	fields := map[string]string{"chat_id": strconv.FormatInt(chatID, 10)}
	long := len([]rune(caption)) > maxCaptionRunes
	if caption != "" && !long {
		fields["caption"] = caption
	}
	if err := c.doMultipart(ctx, "sendPhoto", fields, "photo", "image.jpg", photo, nil); err != nil {
		return err
	}
	if long {
		c.log.Debug("caption over limit, sending as text", zap.Int64("chat_id", chatID))
		return c.SendText(ctx, chatID, caption)
	}
	return nil
}

// splitAtNewlines splits text into chunks of at most maxRunes runes, breaking
// at the last newline inside each window, or hard-splitting when there is
// none.
func splitAtNewlines(text string, maxRunes int) []string {
	runes := []rune(text)
	if len(runes) <= maxRunes {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + maxRunes
		if end >= len(runes) {
			chunks = append(chunks, string(runes[start:]))
			break
		}

		splitAt := -1
		for i := end - 1; i >= start; i-- {
			if runes[i] == '\n' {
				splitAt = i
				break
			}
		}

		if splitAt < 0 {
			chunks = append(chunks, string(runes[start:end]))
			start = end
		} else {
			chunks = append(chunks, string(runes[start:splitAt+1]))
			start = splitAt + 1
		}
	}
	return chunks
}
