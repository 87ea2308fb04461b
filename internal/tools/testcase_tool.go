package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"screentest-backend/internal/llm"
	"screentest-backend/internal/model"
	"screentest-backend/internal/pipeline"
	"screentest-backend/internal/service"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

const (
	ToolName = "generate_test_cases"
	toolDesc = "Generate structured UI test cases from an ordered sequence of application screens. " +
		"Each page carries a name plus OCR text and/or a screenshot file reference (local path or gs:// URI). " +
		"Page order is the user's workflow."
)

// toolArgs is the JSON argument object shared by the eino tool and the MCP tool.
type toolArgs struct {
	Pages []struct {
		Name    string `json:"name"`
		OCRText string `json:"ocrText"`
		FileRef string `json:"fileRef"`
	} `json:"pages"`
	Corrections     []model.ElementCorrection `json:"corrections"`
	ForceRegenerate bool                      `json:"forceRegenerate"`
}

// ToolError is the failure payload returned to agents instead of an error, so a tool
// failure does not abort the calling graph.
type ToolError struct {
	Success      bool   `json:"success"`
	ToolName     string `json:"tool_name"`
	ErrorMessage string `json:"error_message"`
	Retryable    bool   `json:"retryable"`
}

// TestCaseTool implements tool.InvokableTool over the generation service.
type TestCaseTool struct {
	svc *service.GenerationService
}

func NewTestCaseTool(svc *service.GenerationService) *TestCaseTool {
	return &TestCaseTool{svc: svc}
}

func (t *TestCaseTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: ToolName,
		Desc: toolDesc,
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"pages": {
				Type:     schema.Array,
				Desc:     "Screens in workflow order",
				Required: true,
				ElemInfo: &schema.ParameterInfo{
					Type: schema.Object,
					SubParams: map[string]*schema.ParameterInfo{
						"name":    {Type: schema.String, Desc: "Page name", Required: true},
						"ocrText": {Type: schema.String, Desc: "Text extracted from the screen"},
						"fileRef": {Type: schema.String, Desc: "Screenshot path or gs:// URI"},
					},
				},
			},
			"corrections": {
				Type: schema.Array,
				Desc: "User labels for misread UI elements",
				ElemInfo: &schema.ParameterInfo{
					Type: schema.Object,
					SubParams: map[string]*schema.ParameterInfo{
						"pageIndex":    {Type: schema.Integer, Required: true},
						"detectedText": {Type: schema.String},
						"label":        {Type: schema.String, Required: true},
						"elementType":  {Type: schema.String},
					},
				},
			},
			"forceRegenerate": {
				Type: schema.Boolean,
				Desc: "Ignore any cached result and generate again",
			},
		}),
	}, nil
}

func (t *TestCaseTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...tool.Option) (string, error) {
	req, err := parseToolArgs(argumentsInJSON)
	if err != nil {
		return "", err
	}

	resp, err := t.svc.Generate(ctx, req)
	if err != nil {
		return toolErrorJSON(err), nil
	}

	out, err := json.Marshal(resp)
	if err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}
	return string(out), nil
}

// GetTestCaseTools returns the tools an eino agent can bind.
func GetTestCaseTools(svc *service.GenerationService) []tool.BaseTool {
	return []tool.BaseTool{
		NewTestCaseTool(svc),
	}
}

func parseToolArgs(argumentsInJSON string) (model.GenerationRequest, error) {
	var args toolArgs
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return model.GenerationRequest{}, fmt.Errorf("failed to parse arguments: %w", err)
	}

	req := model.GenerationRequest{
		Pages:           make([]model.PageInput, len(args.Pages)),
		Corrections:     args.Corrections,
		ForceRegenerate: args.ForceRegenerate,
	}
	for i, p := range args.Pages {
		req.Pages[i] = model.PageInput{
			Name:    p.Name,
			Index:   i,
			OCRText: p.OCRText,
			FileRef: p.FileRef,
		}
	}
	return req, nil
}

func toolErrorJSON(err error) string {
	result := ToolError{
		Success:      false,
		ToolName:     ToolName,
		ErrorMessage: err.Error(),
		Retryable:    llm.ShouldRetry(err),
	}

	var pe *pipeline.ParseError
	if errors.As(err, &pe) {
		// 解析失败重试通常能得到可用结果
		result.Retryable = true
	}

	data, mErr := json.Marshal(result)
	if mErr != nil {
		return `{"success":false,"tool_name":"` + ToolName + `","error_message":"generation failed"}`
	}
	return string(data)
}
