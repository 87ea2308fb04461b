package llm

import (
	"context"
	"errors"
	"fmt"

	"screentest-backend/internal/config"
	"screentest-backend/internal/utils"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider talks to the OpenAI chat completions API, or any compatible endpoint
// configured through BaseURL.
type OpenAIProvider struct {
	client *openai.Client
	model  string
	detail openai.ImageURLDetail
}

func NewOpenAIProvider(cfg config.OpenAIConfig, debug bool) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: api key is not configured")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	httpClient := utils.NewHTTPClient(cfg.Timeout)
	if debug {
		httpClient.Transport = NewDebugTransport(httpClient.Transport, "openai")
	}
	clientConfig.HTTPClient = httpClient

	detail := openai.ImageURLDetail(cfg.ImageDetail)
	if detail == "" {
		detail = openai.ImageURLDetailAuto
	}

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientConfig),
		model:  cfg.Model,
		detail: detail,
	}, nil
}

func (p *OpenAIProvider) Name() string {
	return "openai"
}

func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    p.convertPrompt(req.Prompt),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.JSONMode {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return "", classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", &TransportError{Class: ClassFatal, Provider: p.Name(), Err: ErrNoChoices}
	}
	return resp.Choices[0].Message.Content, nil
}

// convertPrompt builds a system turn plus one multi-part user turn: instructions first,
// then the page markers and images in sequence order.
func (p *OpenAIProvider) convertPrompt(prompt Prompt) []openai.ChatCompletionMessage {
	var messages []openai.ChatCompletionMessage
	if prompt.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: prompt.System,
		})
	}

	parts := []openai.ChatMessagePart{{
		Type: openai.ChatMessagePartTypeText,
		Text: prompt.Instructions,
	}}
	for _, seg := range prompt.Segments {
		switch seg.Kind {
		case SegmentText:
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: seg.Text,
			})
		case SegmentImage:
			if seg.Image == nil {
				continue
			}
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    seg.Image.DataURL(),
					Detail: p.detail,
				},
			})
		}
	}

	messages = append(messages, openai.ChatCompletionMessage{
		Role:         openai.ChatMessageRoleUser,
		MultiContent: parts,
	})
	return messages
}

func classifyOpenAIError(err error) *TransportError {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		te := classify("openai", apiErr.HTTPStatusCode, err)
		if apiErr.Type == "insufficient_quota" || fmt.Sprint(apiErr.Code) == "insufficient_quota" {
			te.Class = ClassFatal
		}
		return te
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classify("openai", reqErr.HTTPStatusCode, err)
	}
	return classify("openai", 0, err)
}

var _ Provider = (*OpenAIProvider)(nil)
