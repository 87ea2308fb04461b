package llm

import (
	"bytes"
	"io"
	"net/http"
	"regexp"
	"strings"

	"screentest-backend/pkg/logger"
)

const maxLoggedBody = 2048

// DebugTransport logs outgoing provider requests with credentials redacted and inline
// image payloads elided.
type DebugTransport struct {
	base     http.RoundTripper
	provider string
}

func NewDebugTransport(base http.RoundTripper, provider string) *DebugTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &DebugTransport{base: base, provider: provider}
}

func (t *DebugTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method == http.MethodPost {
		t.logRequest(req)
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		logger.Errorf("[%s debug] request failed: %v", t.provider, err)
		return resp, err
	}
	logger.Debugf("[%s debug] response status: %s", t.provider, resp.Status)
	return resp, nil
}

func (t *DebugTransport) logRequest(req *http.Request) {
	fields := map[string]interface{}{
		"provider": t.provider,
		"method":   req.Method,
		"url":      req.URL.String(),
	}
	for name, values := range req.Header {
		if isSensitiveHeader(name) {
			fields["header."+name] = "[REDACTED]"
		} else {
			fields["header."+name] = strings.Join(values, ", ")
		}
	}

	if req.Body != nil {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			logger.Errorf("[%s debug] failed to read request body: %v", t.provider, err)
			return
		}
		// 恢复请求体，以免影响实际请求
		req.Body = io.NopCloser(bytes.NewReader(body))
		fields["bodySize"] = len(body)
		fields["body"] = sanitizeBody(string(body))
	}

	logger.WithFields(fields).Debug("outgoing provider request")
}

var (
	dataURLPattern     = regexp.MustCompile(`data:[a-z]+/[a-z0-9.+-]+;base64,[A-Za-z0-9+/=]+`)
	sensitiveJSONField = regexp.MustCompile(`(?i)"(api_key|apikey|password|secret|token)"\s*:\s*"[^"]*"`)
)

func sanitizeBody(body string) string {
	body = dataURLPattern.ReplaceAllString(body, "data:[image elided]")
	body = sensitiveJSONField.ReplaceAllString(body, `"$1": "[REDACTED]"`)
	if len(body) > maxLoggedBody {
		body = body[:maxLoggedBody] + "...(truncated)"
	}
	return body
}

func isSensitiveHeader(name string) bool {
	switch strings.ToLower(name) {
	case "authorization", "x-api-key", "x-auth-token", "cookie", "x-goog-api-key":
		return true
	}
	return false
}
