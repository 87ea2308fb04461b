package llm

import (
	"context"
	"errors"
	"fmt"

	"screentest-backend/internal/config"
	"screentest-backend/pkg/logger"

	"google.golang.org/genai"
)

// GeminiProvider calls the Gemini Developer API.
type GeminiProvider struct {
	client *genai.Client
	model  string
}

func NewGeminiProvider(ctx context.Context, cfg config.GeminiConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: api key is not configured")
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	logger.Infof("Using Gemini model: %s", model)
	return &GeminiProvider{client: client, model: model}, nil
}

func (p *GeminiProvider) Name() string {
	return "gemini"
}

func (p *GeminiProvider) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	parts := []*genai.Part{genai.NewPartFromText(req.Prompt.Instructions)}
	for _, seg := range req.Prompt.Segments {
		switch seg.Kind {
		case SegmentText:
			parts = append(parts, genai.NewPartFromText(seg.Text))
		case SegmentImage:
			if seg.Image != nil {
				parts = append(parts, genai.NewPartFromBytes(seg.Image.Data, seg.Image.MIMEType))
			}
		}
	}

	genConfig := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(req.Temperature),
	}
	if req.MaxTokens > 0 {
		genConfig.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Prompt.System != "" {
		genConfig.SystemInstruction = genai.NewContentFromText(req.Prompt.System, genai.RoleUser)
	}
	if req.JSONMode {
		genConfig.ResponseMIMEType = "application/json"
	}

	resp, err := p.client.Models.GenerateContent(ctx, model,
		[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)},
		genConfig,
	)
	if err != nil {
		return "", classifyGeminiError(err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return "", &TransportError{Class: ClassFatal, Provider: p.Name(), Err: ErrNoChoices}
	}
	return resp.Text(), nil
}

func classifyGeminiError(err error) *TransportError {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return classify("gemini", apiErr.Code, err)
	}
	return classify("gemini", 0, err)
}

var _ Provider = (*GeminiProvider)(nil)
