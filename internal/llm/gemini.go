package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const DefaultGeminiImageModel = "imagen-3.0-generate-002"

// GeminiProvider serves completions and images through the Gemini API.
type GeminiProvider struct {
	client     *genai.Client
	imageModel string
}

func NewGeminiProvider(ctx context.Context, apiKey, imageModel string) (*GeminiProvider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("missing API key: set LLM_API_KEY or GEMINI_API_KEY")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	if imageModel == "" {
		imageModel = DefaultGeminiImageModel
	}
	return &GeminiProvider{client: client, imageModel: imageModel}, nil
}

func (p *GeminiProvider) Chat(ctx context.Context, req Request) (*Response, error) {
	system, contents, err := toGeminiContents(req.Messages)
	if err != nil {
		return nil, err
	}
	cfg := &genai.GenerateContentConfig{MaxOutputTokens: int32(req.Options.MaxTokens)}
	if system != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}

	resp, err := p.client.Models.GenerateContent(ctx, req.Options.Model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini generate content: %w", err)
	}

	out := &Response{Text: resp.Text(), Model: resp.ModelVersion}
	if resp.UsageMetadata != nil {
		out.Usage = Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	if len(resp.Candidates) > 0 {
		out.StopReason = string(resp.Candidates[0].FinishReason)
	}
	return out, nil
}

// GenerateImage returns the generated image as a data URI.
func (p *GeminiProvider) GenerateImage(ctx context.Context, prompt string) (string, error) {
	resp, err := p.client.Models.GenerateImages(ctx, p.imageModel, prompt, &genai.GenerateImagesConfig{
		NumberOfImages: 1,
	})
	if err != nil {
		return "", fmt.Errorf("gemini generate images: %w", err)
	}
	if len(resp.GeneratedImages) == 0 || resp.GeneratedImages[0].Image == nil {
		return "", nil
	}
	img := resp.GeneratedImages[0].Image
	if len(img.ImageBytes) == 0 {
		return "", nil
	}
	mimeType := img.MIMEType
	if mimeType == "" {
		mimeType = "image/png"
	}
	return DataURI(mimeType, img.ImageBytes), nil
}

// toGeminiContents maps assistant turns to the "model" role and prefixes
// text with the speaker name.
func toGeminiContents(msgs []Message) (string, []*genai.Content, error) {
	system, rest := splitSystem(msgs)
	contents := make([]*genai.Content, 0, len(rest))
	for _, m := range rest {
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		c := &genai.Content{Role: role}
		named := false
		for _, part := range m.Content {
			switch part.Type {
			case PartText:
				text := part.Text
				if !named {
					text = withName(m.Name, text)
					named = true
				}
				c.Parts = append(c.Parts, &genai.Part{Text: text})
			case PartImage:
				mimeType, data, err := ParseDataURI(part.ImageURL)
				switch {
				case errors.Is(err, errNotDataURI):
					c.Parts = append(c.Parts, &genai.Part{FileData: &genai.FileData{FileURI: part.ImageURL, MIMEType: "image/jpeg"}})
				case err != nil:
					return "", nil, err
				default:
					c.Parts = append(c.Parts, &genai.Part{InlineData: &genai.Blob{Data: data, MIMEType: mimeType}})
				}
			default:
				return "", nil, fmt.Errorf("unsupported content part type: %q", part.Type)
			}
		}
		contents = append(contents, c)
	}
	return system, contents, nil
}
