// Package telegram is a small Bot API client: long polling, webhook ingress,
// plain-text and photo sends, and file downloads.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	baseURL     = "https://api.telegram.org/bot%s/%s"
	fileBaseURL = "https://api.telegram.org/file/bot%s/%s"
)

type Client struct {
	token      string
	httpClient *http.Client
	log        *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.log = l }
}

func New(token string, opts ...Option) *Client {
	c := &Client{
		token: token,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		log: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a Bot API response with ok=false.
type APIError struct {
	Method      string
	Code        int
	Description string
	RetryAfter  int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s API error %d: %s", e.Method, e.Code, e.Description)
}

type envelope struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters,omitempty"`
}

// do sends a Bot API request. A nil payload is sent as GET; result may be nil
// to ignore the response body.
func (c *Client) do(ctx context.Context, method string, payload any, result any) error {
	url := fmt.Sprintf(baseURL, c.token, method)

	var req *http.Request
	var err error
	if payload == nil {
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("build telegram request: %w", err)
		}
	} else {
		body, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal telegram request: %w", err)
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build telegram request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, method, result)
}

// doMultipart uploads one file field alongside string fields.
func (c *Client) doMultipart(ctx context.Context, method string, fields map[string]string, fileField, fileName string, data []byte, result any) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return fmt.Errorf("build telegram %s form: %w", method, err)
		}
	}
	fw, err := w.CreateFormFile(fileField, fileName)
	if err != nil {
		return fmt.Errorf("build telegram %s form: %w", method, err)
	}
	if _, err := fw.Write(data); err != nil {
		return fmt.Errorf("build telegram %s form: %w", method, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("build telegram %s form: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf(baseURL, c.token, method), &buf)
	if err != nil {
		return fmt.Errorf("build telegram request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return c.send(req, method, result)
}

func (c *Client) send(req *http.Request, method string, result any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s request failed: %w", method, redact(err, c.token))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read telegram response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return fmt.Errorf("decode telegram %s response (status %d): %w", method, resp.StatusCode, err)
	}

	if !env.OK {
		apiErr := &APIError{Method: method, Code: env.ErrorCode, Description: env.Description}
		if apiErr.Description == "" {
			apiErr.Description = "unknown error"
		}
		if apiErr.Code == 0 {
			apiErr.Code = resp.StatusCode
		}
		if env.Parameters != nil {
			apiErr.RetryAfter = env.Parameters.RetryAfter
		}
		return apiErr
	}

	if result != nil && env.Result != nil {
		if err := json.Unmarshal(env.Result, result); err != nil {
			return fmt.Errorf("decode telegram result for %s: %w", method, err)
		}
	}
	return nil
}

// redact removes the bot token from transport errors, which embed the URL.
func redact(err error, token string) error {
	if token == "" || !strings.Contains(err.Error(), token) {
		return err
	}
	return fmt.Errorf("%s", strings.ReplaceAll(err.Error(), token, "<token>"))
}

// Me returns the bot's own user, used to recognise self-originated messages.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var u User
	if err := c.do(ctx, "getMe", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}
