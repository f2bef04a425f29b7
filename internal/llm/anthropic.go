package llm

import (
	"bytes"
	"encoding/base64"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const anthropicURL = "https://api.anthropic.com/v1/messages"
const anthropicVersion = "2023-06-01"

type AnthropicProvider struct {
	apiKey     string
	url        string
	httpClient *http.Client
	retry      RetryConfig
}

func NewAnthropicProvider(apiKey string, httpClient *http.Client) (*AnthropicProvider, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("missing API key: set LLM_API_KEY or ANTHROPIC_API_KEY")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &AnthropicProvider{
		apiKey:     apiKey,
		url:        anthropicURL,
		httpClient: httpClient,
		retry:      DefaultRetryConfig,
	}, nil
}

// isOAuthToken reports whether key is an OAuth access token (sk-ant-oat*),
// which is sent as a Bearer token instead of x-api-key.
func isOAuthToken(key string) bool {
	return strings.HasPrefix(key, "sk-ant-oat")
}

func (p *AnthropicProvider) Chat(ctx context.Context, req Request) (*Response, error) {
	wireReq, err := toAnthropicRequest(req)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(wireReq)
	if err != nil {
		return nil, fmt.Errorf("marshal anthropic request: %w", err)
	}

	resp, err := doWithRetry(ctx, p.retry, func() (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("content-type", "application/json")
		httpReq.Header.Set("anthropic-version", anthropicVersion)
		if isOAuthToken(p.apiKey) {
			httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
			httpReq.Header.Set("anthropic-beta", "oauth-2025-04-20")
		} else {
			httpReq.Header.Set("x-api-key", p.apiKey)
		}
		return p.httpClient.Do(httpReq)
	})
	if err != nil {
		return nil, err
	}

	respBody, err := readBody("anthropic", resp)
	if err != nil {
		return nil, err
	}

	var wireResp anthropicResponse
	if err := json.Unmarshal(respBody, &wireResp); err != nil {
		return nil, fmt.Errorf("decode anthropic response: %w", err)
	}

	return fromAnthropicResponse(wireResp), nil
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string                 `json:"role"`
	Content []anthropicContentItem `json:"content"`
}

type anthropicContentItem struct {
	Type   string                `json:"type"`
	Text   string                `json:"text,omitempty"`
	Source *anthropicImageSource `json:"source,omitempty"`
}

type anthropicImageSource struct {
	Type      string `json:"type"` // "base64" or "url"
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

type anthropicResponse struct {
	Model      string                 `json:"model"`
	Content    []anthropicContentItem `json:"content"`
	StopReason string                 `json:"stop_reason"`
	Usage      anthropicUsage         `json:"usage"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// toAnthropicRequest moves system turns into the system field and folds the
// speaker name into the first text block, since the API has no name field.
func toAnthropicRequest(req Request) (anthropicRequest, error) {
	system, msgs := splitSystem(req.Messages)
	out := anthropicRequest{
		Model:     req.Options.Model,
		MaxTokens: req.Options.MaxTokens,
		System:    system,
	}
	for _, m := range msgs {
		wm := anthropicMessage{Role: string(m.Role)}
		named := false
		for _, c := range m.Content {
			switch c.Type {
			case PartText:
				text := c.Text
				if !named {
					text = withName(m.Name, text)
					named = true
				}
				wm.Content = append(wm.Content, anthropicContentItem{Type: "text", Text: text})
			case PartImage:
				src, err := anthropicSource(c.ImageURL)
				if err != nil {
					return anthropicRequest{}, err
				}
				wm.Content = append(wm.Content, anthropicContentItem{Type: "image", Source: src})
			default:
				return anthropicRequest{}, fmt.Errorf("unsupported content part type: %q", c.Type)
			}
		}
		out.Messages = append(out.Messages, wm)
	}
	return out, nil
}

func anthropicSource(ref string) (*anthropicImageSource, error) {
	mimeType, data, err := ParseDataURI(ref)
	if errors.Is(err, errNotDataURI) {
		return &anthropicImageSource{Type: "url", URL: ref}, nil
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("empty image data")
	}
	return &anthropicImageSource{
		Type:      "base64",
		MediaType: mimeType,
		Data:      base64.StdEncoding.EncodeToString(data),
	}, nil
}

func fromAnthropicResponse(in anthropicResponse) *Response {
	resp := &Response{
		Model:      in.Model,
		StopReason: in.StopReason,
		Usage: Usage{
			InputTokens:  in.Usage.InputTokens,
			OutputTokens: in.Usage.OutputTokens,
		},
	}
	for _, c := range in.Content {
		if c.Type == "text" {
			resp.Text += c.Text
		}
	}
	return resp
}
