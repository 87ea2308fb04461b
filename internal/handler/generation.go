package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"screentest-backend/internal/llm"
	"screentest-backend/internal/model"
	"screentest-backend/internal/pipeline"
	"screentest-backend/internal/screenshots"
	"screentest-backend/internal/service"
	"screentest-backend/internal/storage"
	"screentest-backend/internal/utils"
	"screentest-backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

const parseErrorMessage = "The model returned a response that could not be read as test cases. Please try again."

type Options struct {
	MaxImageBytes  int64
	RequestTimeout time.Duration
	Heartbeat      time.Duration
}

type GenerationHandler struct {
	svc  *service.GenerationService
	opts Options
}

func NewGenerationHandler(svc *service.GenerationService, opts Options) *GenerationHandler {
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 15 * time.Second
	}
	return &GenerationHandler{svc: svc, opts: opts}
}

// RegisterRoutes mounts the generation API on router.
func (h *GenerationHandler) RegisterRoutes(router gin.IRouter) {
	router.GET("/health", h.Health)

	api := router.Group("/api")
	{
		tc := api.Group("/testcases")
		{
			tc.POST("/generate", h.Generate)
			tc.POST("/generate/text", h.GenerateText)
			tc.POST("/generate/stream", h.GenerateStream)
		}

		gen := api.Group("/generations")
		{
			gen.GET("", h.ListGenerations)
			gen.GET("/:id", h.GetGeneration)
			gen.DELETE("/:id", h.DeleteGeneration)
		}
	}
}

func (h *GenerationHandler) requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	if h.opts.RequestTimeout > 0 {
		return context.WithTimeout(c.Request.Context(), h.opts.RequestTimeout)
	}
	return context.WithCancel(c.Request.Context())
}

// Generate handles a multipart upload: images, pageNames, ocrTexts, corrections and
// forceRegenerate.
func (h *GenerationHandler) Generate(c *gin.Context) {
	req, err := h.parseMultipart(c)
	if err != nil {
		writeError(c, err)
		return
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	resp, err := h.svc.Generate(ctx, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GenerateText takes a JSON GenerationRequest; pages carry OCR text or file references.
func (h *GenerationHandler) GenerateText(c *gin.Context) {
	var req model.GenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, fmt.Errorf("%w: %v", pipeline.ErrInvalidRequest, err))
		return
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	resp, err := h.svc.Generate(ctx, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GenerateStream accepts the same multipart form as Generate and reports progress as
// server-sent events: progress events, then a result or an error event.
func (h *GenerationHandler) GenerateStream(c *gin.Context) {
	req, err := h.parseMultipart(c)
	if err != nil {
		writeError(c, err)
		return
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	sseWriter := utils.NewSSEWriter(c.Writer)
	c.Status(http.StatusOK)

	// 启动心跳，防止代理因空闲断开连接
	stopHeartbeat := make(chan struct{})
	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		sseWriter.Heartbeat(h.opts.Heartbeat, stopHeartbeat)
	}()
	defer func() {
		close(stopHeartbeat)
		<-heartbeatDone
	}()

	stream := h.svc.GenerateStream(ctx, req)
	for event := range stream.Events {
		if err := sseWriter.WriteJSON("progress", event); err != nil {
			logger.Warnf("Failed to write progress event: %v", err)
		}
	}

	result := <-stream.Done
	if result.Err != nil {
		status, body := errorResponse(result.Err)
		body["status"] = status
		if err := sseWriter.WriteJSON("error", body); err != nil {
			logger.Warnf("Failed to write error event: %v", err)
		}
	} else if err := sseWriter.WriteJSON("result", result.Response); err != nil {
		logger.Errorf("Failed to write result event: %v", err)
	}
	sseWriter.Close()
}

func (h *GenerationHandler) ListGenerations(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	summaries, err := h.svc.ListGenerations(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"generations": summaries})
}

func (h *GenerationHandler) GetGeneration(c *gin.Context) {
	record, err := h.svc.GetGeneration(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (h *GenerationHandler) DeleteGeneration(c *gin.Context) {
	if err := h.svc.DeleteGeneration(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Generation deleted successfully"})
}

// parseMultipart builds a request from the upload form. Image i becomes page i; page
// names and OCR texts are JSON arrays aligned with the images. Without images, the
// page names define the pages and each needs OCR text.
func (h *GenerationHandler) parseMultipart(c *gin.Context) (model.GenerationRequest, error) {
	var req model.GenerationRequest

	form, err := c.MultipartForm()
	if err != nil {
		return req, fmt.Errorf("%w: expected multipart form data: %v", pipeline.ErrInvalidRequest, err)
	}

	images := form.File["images"]
	names, err := jsonStrings(form.Value, "pageNames")
	if err != nil {
		return req, err
	}
	ocrTexts, err := jsonStrings(form.Value, "ocrTexts")
	if err != nil {
		return req, err
	}

	count := len(images)
	if count == 0 {
		count = len(names)
	}
	if len(images) > 0 && len(names) > 0 && len(names) != len(images) {
		return req, fmt.Errorf("%w: got %d page names for %d images", pipeline.ErrInvalidRequest, len(names), len(images))
	}
	if len(ocrTexts) > count {
		return req, fmt.Errorf("%w: got %d OCR texts for %d pages", pipeline.ErrInvalidRequest, len(ocrTexts), count)
	}

	req.Pages = make([]model.PageInput, count)
	for i := range req.Pages {
		page := model.PageInput{Index: i}
		if i < len(names) {
			page.Name = strings.TrimSpace(names[i])
		}
		if i < len(ocrTexts) {
			page.OCRText = ocrTexts[i]
		}
		if i < len(images) {
			data, mimeType, err := h.readImage(images[i])
			if err != nil {
				return req, err
			}
			page.Filename = images[i].Filename
			page.Image = data
			page.MIMEType = mimeType
		}
		req.Pages[i] = page
	}

	if raw := firstValue(form.Value, "corrections"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.Corrections); err != nil {
			return req, fmt.Errorf("%w: corrections must be a JSON array: %v", pipeline.ErrInvalidRequest, err)
		}
	}

	if raw := firstValue(form.Value, "forceRegenerate"); raw != "" {
		force, err := strconv.ParseBool(raw)
		if err != nil {
			return req, fmt.Errorf("%w: forceRegenerate must be a boolean", pipeline.ErrInvalidRequest)
		}
		req.ForceRegenerate = force
	}

	return req, nil
}

func (h *GenerationHandler) readImage(fh *multipart.FileHeader) ([]byte, string, error) {
	if h.opts.MaxImageBytes > 0 && fh.Size > h.opts.MaxImageBytes {
		return nil, "", fmt.Errorf("%w: %s: %v", pipeline.ErrInvalidRequest, fh.Filename, screenshots.ErrTooLarge)
	}

	f, err := fh.Open()
	if err != nil {
		return nil, "", fmt.Errorf("%w: cannot read %s: %v", pipeline.ErrInvalidRequest, fh.Filename, err)
	}
	defer f.Close()

	data, mimeType, err := screenshots.ReadImage(f, h.opts.MaxImageBytes)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s: %v", pipeline.ErrInvalidRequest, fh.Filename, err)
	}
	return data, mimeType, nil
}

func firstValue(values map[string][]string, key string) string {
	if v := values[key]; len(v) > 0 {
		return strings.TrimSpace(v[0])
	}
	return ""
}

func jsonStrings(values map[string][]string, key string) ([]string, error) {
	raw := firstValue(values, key)
	if raw == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("%w: %s must be a JSON array of strings: %v", pipeline.ErrInvalidRequest, key, err)
	}
	return out, nil
}

func writeError(c *gin.Context, err error) {
	status, body := errorResponse(err)
	if retryAfter, ok := body["retryAfter"].(int); ok {
		c.Header("Retry-After", strconv.Itoa(retryAfter))
	}
	if status >= http.StatusInternalServerError {
		logger.Errorf("Request %s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
	} else {
		logger.Warnf("Request %s %s rejected: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.JSON(status, body)
}

// errorResponse maps service errors to an HTTP status and body.
func errorResponse(err error) (int, gin.H) {
	var pe *pipeline.ParseError
	var te *llm.TransportError

	switch {
	case errors.Is(err, pipeline.ErrInvalidRequest):
		return http.StatusBadRequest, gin.H{"error": err.Error(), "type": "invalid_request"}
	case errors.Is(err, storage.ErrGenerationNotFound):
		return http.StatusNotFound, gin.H{"error": err.Error(), "type": "not_found"}
	case errors.As(err, &pe):
		return http.StatusUnprocessableEntity, gin.H{
			"error":  parseErrorMessage,
			"type":   "parse_error",
			"reason": pe.Err.Error(),
		}
	case errors.As(err, &te) && te.Retryable():
		return http.StatusServiceUnavailable, gin.H{
			"error":      "The test case generator is overloaded. Please retry shortly.",
			"type":       "upstream_overloaded",
			"retryAfter": retryAfterSeconds(te.RetryAfter),
		}
	case errors.As(err, &te):
		return http.StatusBadGateway, gin.H{"error": "The test case generator rejected the request.", "type": "upstream_error"}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, gin.H{"error": "Generation timed out", "type": "timeout"}
	case errors.Is(err, context.Canceled):
		return 499, gin.H{"error": "Request cancelled", "type": "cancelled"}
	default:
		return http.StatusInternalServerError, gin.H{"error": "Internal server error", "type": "internal"}
	}
}

func retryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 1
	}
	return int(math.Ceil(d.Seconds()))
}
