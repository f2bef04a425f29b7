package agent

import (
	"fmt"

	"go.uber.org/zap"
)

// Logger emits one structured record per pipeline event.
type Logger struct {
	z *zap.Logger
}

// NewLogger builds a JSON production logger at level.
func NewLogger(level string) (*Logger, error) {
	if level == "" {
		level = "info"
	}
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.MessageKey = "event"
	z, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return &Logger{z: z}, nil
}

func FromZap(z *zap.Logger) *Logger {
	if z == nil {
		z = zap.NewNop()
	}
	return &Logger{z: z}
}

func NopLogger() *Logger { return FromZap(nil) }

// Zap exposes the underlying logger for packages that take a *zap.Logger.
func (l *Logger) Zap() *zap.Logger { return l.z }

func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{z: l.z.With(fields...)}
}

func (l *Logger) Sync() { _ = l.z.Sync() }

func (l *Logger) Inbound(kind EventKind, ev CanonicalEvent, hasImage bool) {
	l.z.Info("inbound",
		zap.String("kind", string(kind)),
		zap.String("conversation_id", ev.ConversationID),
		zap.String("sender_id", ev.SenderID),
		zap.Bool("self", ev.IsSelf),
		zap.Int("text_len", textLen(ev.Text)),
		zap.Bool("image", hasImage),
	)
}

func (l *Logger) Decision(conversationID string, verdict Verdict) {
	l.z.Debug("decision", zap.String("conversation_id", conversationID), zap.String("verdict", string(verdict)))
}

func (l *Logger) Skipped(conversationID, reason string) {
	l.z.Debug("skipped", zap.String("conversation_id", conversationID), zap.String("reason", reason))
}

func (l *Logger) LLMCall(model string, tokensIn, tokensOut int, durationMs int64, err error) {
	fields := []zap.Field{
		zap.String("model", model),
		zap.Int("tokens_in", tokensIn),
		zap.Int("tokens_out", tokensOut),
		zap.Int64("duration_ms", durationMs),
	}
	if err != nil {
		l.z.Warn("llm_call", append(fields, zap.Error(err))...)
		return
	}
	l.z.Info("llm_call", fields...)
}

func (l *Logger) Outbound(chatID int64, text string, withImage bool) {
	l.z.Info("outbound", zap.Int64("chat_id", chatID), zap.String("text", text), zap.Bool("image", withImage))
}

func (l *Logger) Error(context string, err error) {
	l.z.Error("error", zap.String("context", context), zap.Error(err))
}
