package llm

import (
	"context"
	"errors"
	"fmt"

	"screentest-backend/internal/config"
	"screentest-backend/internal/utils"
	"screentest-backend/pkg/logger"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/qwen"
	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// EinoProvider adapts any eino chat model (Doubao through ark, Qwen through DashScope)
// to the Provider interface.
type EinoProvider struct {
	name  string
	model einoModel.BaseChatModel
}

func NewEinoProvider(name string, model einoModel.BaseChatModel) *EinoProvider {
	return &EinoProvider{name: name, model: model}
}

func (p *EinoProvider) Name() string {
	return p.name
}

func (p *EinoProvider) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	opts := []einoModel.Option{einoModel.WithTemperature(req.Temperature)}
	if req.MaxTokens > 0 {
		opts = append(opts, einoModel.WithMaxTokens(req.MaxTokens))
	}
	if req.Model != "" {
		opts = append(opts, einoModel.WithModel(req.Model))
	}

	msg, err := p.model.Generate(ctx, toSchemaMessages(req.Prompt), opts...)
	if err != nil {
		return "", classify(p.name, 0, err)
	}
	if msg == nil {
		return "", &TransportError{Class: ClassFatal, Provider: p.name, Err: ErrNoChoices}
	}
	return msg.Content, nil
}

func toSchemaMessages(prompt Prompt) []*schema.Message {
	var messages []*schema.Message
	if prompt.System != "" {
		messages = append(messages, schema.SystemMessage(prompt.System))
	}

	parts := []schema.ChatMessagePart{{
		Type: schema.ChatMessagePartTypeText,
		Text: prompt.Instructions,
	}}
	for _, seg := range prompt.Segments {
		switch seg.Kind {
		case SegmentText:
			parts = append(parts, schema.ChatMessagePart{
				Type: schema.ChatMessagePartTypeText,
				Text: seg.Text,
			})
		case SegmentImage:
			if seg.Image == nil {
				continue
			}
			parts = append(parts, schema.ChatMessagePart{
				Type: schema.ChatMessagePartTypeImageURL,
				ImageURL: &schema.ChatMessageImageURL{
					URL:      seg.Image.DataURL(),
					Detail:   schema.ImageURLDetailHigh,
					MIMEType: seg.Image.MIMEType,
				},
			})
		}
	}

	messages = append(messages, &schema.Message{
		Role:         schema.User,
		MultiContent: parts,
	})
	return messages
}

func NewDoubaoProvider(ctx context.Context, cfg config.DoubaoConfig) (*EinoProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("doubao: api key is not configured")
	}
	if cfg.Model == "" {
		return nil, errors.New("doubao: model endpoint is not configured")
	}

	chatModel, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
		CustomHeader: map[string]string{
			"X-Ark-Thinking-Mode": "disable",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create doubao model: %w", err)
	}

	logger.Infof("Using Doubao model: %s", cfg.Model)
	return NewEinoProvider("doubao", chatModel), nil
}

func NewQwenProvider(ctx context.Context, cfg config.QwenConfig, maxTokens int, temperature float32) (*EinoProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("qwen: api key is not configured")
	}

	httpClient := utils.NewHTTPClient(cfg.Timeout)
	if cfg.DebugRequest {
		httpClient.Transport = NewDebugTransport(httpClient.Transport, "qwen")
	}

	topP := cfg.TopP
	chatModel, err := qwen.NewChatModel(ctx, &qwen.ChatModelConfig{
		BaseURL:     cfg.BaseURL,
		APIKey:      cfg.APIKey,
		Model:       cfg.Model,
		MaxTokens:   &maxTokens,
		Temperature: &temperature,
		TopP:        &topP,
		Timeout:     cfg.Timeout,
		HTTPClient:  httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("create qwen model: %w", err)
	}

	logger.Infof("Using Qwen model: %s, BaseURL: %s, debug transport: %v", cfg.Model, cfg.BaseURL, cfg.DebugRequest)
	return NewEinoProvider("qwen", chatModel), nil
}

var _ Provider = (*EinoProvider)(nil)
