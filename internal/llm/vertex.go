package llm

import (
	"context"
	"errors"
	"fmt"

	"screentest-backend/internal/config"
	"screentest-backend/pkg/logger"

	"cloud.google.com/go/vertexai/genai"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// VertexProvider calls Gemini models through Vertex AI with application default
// credentials or an explicit credentials file.
type VertexProvider struct {
	client *genai.Client
	model  string
}

func NewVertexProvider(ctx context.Context, cfg config.VertexConfig, credentialsFile string) (*VertexProvider, error) {
	if cfg.ProjectID == "" || cfg.Region == "" {
		return nil, errors.New("vertex: project_id and region cannot be empty")
	}

	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := genai.NewClient(ctx, cfg.ProjectID, cfg.Region, opts...)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	logger.Infof("Using Vertex AI model: %s (project %s, region %s)", cfg.Model, cfg.ProjectID, cfg.Region)
	return &VertexProvider{client: client, model: cfg.Model}, nil
}

func (p *VertexProvider) Name() string {
	return "vertex"
}

// Complete configures a fresh GenerativeModel per call; the handle is cheap and the
// per-request temperature would otherwise race between callers.
func (p *VertexProvider) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	name := req.Model
	if name == "" {
		name = p.model
	}

	model := p.client.GenerativeModel(name)
	model.SetTemperature(req.Temperature)
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	if req.Prompt.System != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(req.Prompt.System)},
		}
	}
	if req.JSONMode {
		model.ResponseMIMEType = "application/json"
	}

	parts := []genai.Part{genai.Text(req.Prompt.Instructions)}
	for _, seg := range req.Prompt.Segments {
		switch seg.Kind {
		case SegmentText:
			parts = append(parts, genai.Text(seg.Text))
		case SegmentImage:
			if seg.Image != nil {
				parts = append(parts, genai.ImageData(seg.Image.Format(), seg.Image.Data))
			}
		}
	}

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", classifyVertexError(err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", &TransportError{Class: ClassFatal, Provider: p.Name(), Err: ErrNoChoices}
	}

	var text string
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text += string(t)
		}
	}
	return text, nil
}

func (p *VertexProvider) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}

func classifyVertexError(err error) *TransportError {
	st, ok := status.FromError(err)
	if !ok {
		return classify("vertex", 0, err)
	}
	te := &TransportError{Provider: "vertex", Err: err, Class: ClassFatal}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.Internal:
		te.Class = ClassTransient
	case codes.ResourceExhausted:
		if !isQuotaMessage(st.Message()) {
			te.Class = ClassTransient
		}
	}
	return te
}

var _ Provider = (*VertexProvider)(nil)
