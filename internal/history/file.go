package history

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// record is the on-disk shape of a turn: one JSON object per line.
type record struct {
	Message string `json:"message"`
	From    string `json:"from"`
	When    int64  `json:"when"` // unix milliseconds
}

// maxLineBytes bounds a single JSONL record when scanning.
const maxLineBytes = 1 << 20

// FileBackend stores each conversation as <dir>/<conversationID>.jsonl.
// Files are opened lazily for append and kept open until Close.
// Safe for concurrent use.
type FileBackend struct {
	dir    string
	mu     sync.Mutex
	files  map[string]*os.File
	closed bool
}

// NewFileBackend creates dir if it does not exist.
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create context dir: %w", err)
	}
	return &FileBackend{dir: dir, files: make(map[string]*os.File)}, nil
}

func (b *FileBackend) Append(_ context.Context, conversationID string, turn Turn) error {
	line, err := json.Marshal(record{
		Message: turn.Text,
		From:    turn.Speaker,
		When:    turn.When.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("marshal turn: %w", err)
	}
	line = append(line, '\n')

	b.mu.Lock()
	defer b.mu.Unlock()
	f, err := b.fileFor(conversationID)
	if err != nil {
		return err
	}
	if _, err := f.Write(line); err != nil {
		// Drop the handle so the next append reopens the file.
		_ = f.Close()
		delete(b.files, conversationID)
		return fmt.Errorf("write turn: %w", err)
	}
	return nil
}

func (b *FileBackend) Last(_ context.Context, conversationID string, n int) ([]Turn, error) {
	f, err := os.Open(b.path(conversationID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open context file: %w", err)
	}
	defer f.Close()

	var turns []Turn
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var r record
		if err := json.Unmarshal(raw, &r); err != nil {
			// A torn line from a crash mid-write; skip it.
			continue
		}
		turns = append(turns, Turn{Text: r.Message, Speaker: r.From, When: time.UnixMilli(r.When)})
		if n > 0 && len(turns) > 2*n {
			turns = lastN(turns, n)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan context file: %w", err)
	}
	return lastN(turns, n), nil
}

// Close closes every open file handle. Further appends fail with ErrClosed.
func (b *FileBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var errs []error
	for id, f := range b.files {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(b.files, id)
	}
	b.closed = true
	return errors.Join(errs...)
}

// fileFor must be called with b.mu held.
func (b *FileBackend) fileFor(conversationID string) (*os.File, error) {
	if b.closed {
		return nil, ErrClosed
	}
	if f, ok := b.files[conversationID]; ok {
		return f, nil
	}
	f, err := os.OpenFile(b.path(conversationID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open context file: %w", err)
	}
	b.files[conversationID] = f
	return f, nil
}

func (b *FileBackend) path(conversationID string) string {
	return filepath.Join(b.dir, fileName(conversationID)+".jsonl")
}

// fileName maps a conversation id onto a safe file name. Telegram ids are
// digits with an optional leading minus, which pass through unchanged.
func fileName(conversationID string) string {
	if conversationID == "" {
		return "_"
	}
	var sb strings.Builder
	for _, r := range conversationID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteRune('_')
		}
	}
	return sb.String()
}
