package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const (
	openAIBaseURL     = "https://api.openai.com/v1"
	DefaultImageModel = "dall-e-3"
	defaultImageSize  = "1024x1024"
)

// OpenAIProvider speaks the chat/completions and images/generations APIs of
// OpenAI and compatible gateways.
type OpenAIProvider struct {
	apiKey     string
	baseURL    string
	imageModel string
	httpClient *http.Client
	retry      RetryConfig
}

type OpenAIConfig struct {
	APIKey     string
	BaseURL    string // default https://api.openai.com/v1
	ImageModel string // default dall-e-3
	HTTPClient *http.Client
}

func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("missing API key: set LLM_API_KEY or OPENAI_API_KEY")
	}
	p := &OpenAIProvider{
		apiKey:     strings.TrimSpace(cfg.APIKey),
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		imageModel: cfg.ImageModel,
		httpClient: cfg.HTTPClient,
		retry:      DefaultRetryConfig,
	}
	if p.baseURL == "" {
		p.baseURL = openAIBaseURL
	}
	if p.imageModel == "" {
		p.imageModel = DefaultImageModel
	}
	if p.httpClient == nil {
		p.httpClient = http.DefaultClient
	}
	return p, nil
}

func (p *OpenAIProvider) Chat(ctx context.Context, req Request) (*Response, error) {
	body, err := json.Marshal(toOpenAIRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshal openai request: %w", err)
	}
	respBody, err := p.post(ctx, "/chat/completions", body)
	if err != nil {
		return nil, err
	}

	var wire openAIResponse
	if err := json.Unmarshal(respBody, &wire); err != nil {
		return nil, fmt.Errorf("decode openai response: %w", err)
	}
	resp := &Response{
		Model: wire.Model,
		Usage: Usage{InputTokens: wire.Usage.PromptTokens, OutputTokens: wire.Usage.CompletionTokens},
	}
	if len(wire.Choices) > 0 {
		resp.Text = wire.Choices[0].Message.Content
		resp.StopReason = wire.Choices[0].FinishReason
	}
	return resp, nil
}

func (p *OpenAIProvider) GenerateImage(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(openAIImageRequest{
		Model:  p.imageModel,
		Prompt: prompt,
		N:      1,
		Size:   defaultImageSize,
	})
	if err != nil {
		return "", fmt.Errorf("marshal openai image request: %w", err)
	}
	respBody, err := p.post(ctx, "/images/generations", body)
	if err != nil {
		return "", err
	}

	var wire openAIImageResponse
	if err := json.Unmarshal(respBody, &wire); err != nil {
		return "", fmt.Errorf("decode openai image response: %w", err)
	}
	if len(wire.Data) == 0 {
		return "", nil
	}
	if wire.Data[0].URL != "" {
		return wire.Data[0].URL, nil
	}
	if wire.Data[0].B64JSON != "" {
		return "data:image/png;base64," + wire.Data[0].B64JSON, nil
	}
	return "", nil
}

func (p *OpenAIProvider) post(ctx context.Context, path string, body []byte) ([]byte, error) {
	resp, err := doWithRetry(ctx, p.retry, func() (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
		return p.httpClient.Do(httpReq)
	})
	if err != nil {
		return nil, err
	}
	return readBody("openai", resp)
}

type openAIRequest struct {
	Model     string          `json:"model"`
	MaxTokens int             `json:"max_tokens,omitempty"`
	Messages  []openAIMessage `json:"messages"`
}

// openAIMessage content is a plain string for text-only turns and a part
// array when an image is attached.
type openAIMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
	Name    string `json:"name,omitempty"`
}

type openAIPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIImageURL struct {
	URL string `json:"url"`
}

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type openAIImageRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	N      int    `json:"n"`
	Size   string `json:"size"`
}

type openAIImageResponse struct {
	Data []struct {
		URL     string `json:"url"`
		B64JSON string `json:"b64_json"`
	} `json:"data"`
}

func toOpenAIRequest(req Request) openAIRequest {
	out := openAIRequest{
		Model:     req.Options.Model,
		MaxTokens: req.Options.MaxTokens,
		Messages:  make([]openAIMessage, 0, len(req.Messages)),
	}
	for _, m := range req.Messages {
		wm := openAIMessage{Role: string(m.Role), Name: m.Name}
		if !m.HasImage() {
			wm.Content = m.PlainText()
		} else {
			parts := make([]openAIPart, 0, len(m.Content))
			for _, c := range m.Content {
				switch c.Type {
				case PartText:
					parts = append(parts, openAIPart{Type: "text", Text: c.Text})
				case PartImage:
					parts = append(parts, openAIPart{Type: "image_url", ImageURL: &openAIImageURL{URL: c.ImageURL}})
				}
			}
			wm.Content = parts
		}
		out.Messages = append(out.Messages, wm)
	}
	return out
}
