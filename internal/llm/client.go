package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dmorn/m4d-chatter/internal/outcome"
)

// Provider produces one completion for an ordered list of role-tagged turns.
type Provider interface {
	Chat(ctx context.Context, req Request) (*Response, error)
}

// ImageProvider turns a prompt into a fetchable image reference: an http(s)
// URL or a data URI. An empty reference means no image was produced.
type ImageProvider interface {
	GenerateImage(ctx context.Context, prompt string) (string, error)
}

type Request struct {
	Messages []Message
	Options  Options
}

type Options struct {
	Model     string
	MaxTokens int
}

// Call describes a finished completion call for logging.
type Call struct {
	Model    string
	Usage    Usage
	Duration time.Duration
	Err      error
}

// Client wraps a completion provider and an optional image provider with
// defaults and reply cleanup.
type Client struct {
	provider   Provider
	images     ImageProvider
	opts       Options
	httpClient *http.Client
	observe    func(Call)
}

type ClientOption func(*Client)

func WithImages(p ImageProvider) ClientOption {
	return func(c *Client) { c.images = p }
}

// WithHTTPClient sets the client used by FetchImage.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithObserver registers fn to be called after every completion call.
func WithObserver(fn func(Call)) ClientOption {
	return func(c *Client) { c.observe = fn }
}

const defaultMaxTokens = 1024

// maxImageBytes caps FetchImage downloads; Telegram rejects larger photos.
const maxImageBytes = 10 << 20

func New(provider Provider, opts Options, options ...ClientOption) *Client {
	c := &Client{provider: provider, opts: opts, httpClient: http.DefaultClient}
	for _, o := range options {
		o(c)
	}
	return c
}

// Chat fills in the default model and token limit and calls the provider.
func (c *Client) Chat(ctx context.Context, req Request) (*Response, error) {
	if req.Options.Model == "" {
		req.Options.Model = c.opts.Model
	}
	if req.Options.MaxTokens == 0 {
		req.Options.MaxTokens = c.opts.MaxTokens
	}
	if req.Options.MaxTokens == 0 {
		req.Options.MaxTokens = defaultMaxTokens
	}

	start := time.Now()
	resp, err := c.provider.Chat(ctx, req)
	if c.observe != nil {
		call := Call{Model: req.Options.Model, Duration: time.Since(start), Err: err}
		if resp != nil {
			call.Usage = resp.Usage
			if resp.Model != "" {
				call.Model = resp.Model
			}
		}
		c.observe(call)
	}
	return resp, err
}

// Complete asks for a reply to msgs. An empty msgs list is not sent and
// yields Empty, as does a reply that is blank after cleanup.
func (c *Client) Complete(ctx context.Context, msgs []Message) outcome.Result[string] {
	if len(msgs) == 0 {
		return outcome.Empty[string]()
	}
	resp, err := c.Chat(ctx, Request{Messages: msgs})
	if err != nil {
		return outcome.Failed[string](err)
	}
	reply := CleanReply(resp.Text)
	if strings.TrimSpace(reply) == "" {
		return outcome.Empty[string]()
	}
	return outcome.OK(reply)
}

var replyCleaner = strings.NewReplacer(`"`, "", "â€”", "-")

// CleanReply strips double quotes and repairs a common mis-decoded em dash.
func CleanReply(s string) string {
	return replyCleaner.Replace(s)
}

// GenerateImage yields Empty when no image provider is configured, the
// prompt is blank or the provider produced nothing.
func (c *Client) GenerateImage(ctx context.Context, prompt string) outcome.Result[string] {
	if c.images == nil || strings.TrimSpace(prompt) == "" {
		return outcome.Empty[string]()
	}
	ref, err := c.images.GenerateImage(ctx, prompt)
	if err != nil {
		return outcome.Failed[string](err)
	}
	if ref == "" {
		return outcome.Empty[string]()
	}
	return outcome.OK(ref)
}

// FetchImage resolves an image reference produced by GenerateImage to bytes.
func (c *Client) FetchImage(ctx context.Context, ref string) outcome.Result[[]byte] {
	if ref == "" {
		return outcome.Empty[[]byte]()
	}
	if _, data, err := ParseDataURI(ref); err == nil {
		return outcome.OK(data)
	} else if !errors.Is(err, errNotDataURI) {
		return outcome.Failed[[]byte](err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return outcome.Failed[[]byte](fmt.Errorf("fetch image: %w", err))
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return outcome.Failed[[]byte](fmt.Errorf("fetch image: %w", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return outcome.Failed[[]byte](fmt.Errorf("fetch image: %s", resp.Status))
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return outcome.Failed[[]byte](fmt.Errorf("fetch image: %w", err))
	}
	if len(data) > maxImageBytes {
		return outcome.Failed[[]byte](fmt.Errorf("fetch image: larger than %d bytes", maxImageBytes))
	}
	if len(data) == 0 {
		return outcome.Empty[[]byte]()
	}
	return outcome.OK(data)
}

// readBody reads an HTTP provider response and turns non-2xx statuses into
// errors labelled with the provider name.
func readBody(provider string, resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", provider, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s API error %d: %s", provider, resp.StatusCode, string(body))
	}
	return body, nil
}
