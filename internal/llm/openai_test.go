package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"screentest-backend/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOpenAIProvider(t *testing.T, handler http.HandlerFunc) *OpenAIProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	p, err := NewOpenAIProvider(config.OpenAIConfig{
		APIKey:  "sk-test",
		BaseURL: server.URL + "/v1",
		Model:   "gpt-4o",
		Timeout: 5 * time.Second,
	}, false)
	require.NoError(t, err)
	return p
}

func TestOpenAIProviderSendsOrderedMultipartPrompt(t *testing.T) {
	var body map[string]interface{}
	p := newTestOpenAIProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"{\"testCases\":[]}"},"finish_reason":"stop"}]}`))
	})

	prompt := Prompt{
		System:       "You are a QA engineer.",
		Instructions: "Generate tests.",
		Segments: []Segment{
			TextSegment("Page 1: Login"),
			ImageSegment(Image{MIMEType: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}}),
		},
	}
	text, err := p.Complete(context.Background(), CompletionRequest{Prompt: prompt, Temperature: 0.2, MaxTokens: 100, JSONMode: true})
	require.NoError(t, err)
	assert.Equal(t, `{"testCases":[]}`, text)

	assert.Equal(t, "gpt-4o", body["model"])
	assert.Equal(t, map[string]interface{}{"type": "json_object"}, body["response_format"])

	messages := body["messages"].([]interface{})
	require.Len(t, messages, 2)
	system := messages[0].(map[string]interface{})
	assert.Equal(t, "system", system["role"])
	assert.Equal(t, "You are a QA engineer.", system["content"])

	parts := messages[1].(map[string]interface{})["content"].([]interface{})
	require.Len(t, parts, 3)
	assert.Equal(t, "Generate tests.", parts[0].(map[string]interface{})["text"])
	assert.Equal(t, "Page 1: Login", parts[1].(map[string]interface{})["text"])
	imageURL := parts[2].(map[string]interface{})["image_url"].(map[string]interface{})
	assert.True(t, strings.HasPrefix(imageURL["url"].(string), "data:image/png;base64,"))
}

func TestOpenAIProviderClassifiesErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		class  ErrorClass
	}{
		{"rate limited", 429, `{"error":{"message":"Rate limit reached","type":"requests","code":"rate_limit_exceeded"}}`, ClassTransient},
		{"quota", 429, `{"error":{"message":"You exceeded your current quota","type":"insufficient_quota","code":"insufficient_quota"}}`, ClassFatal},
		{"overloaded", 503, `{"error":{"message":"The engine is currently overloaded","type":"server_error"}}`, ClassTransient},
		{"bad key", 401, `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`, ClassFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestOpenAIProvider(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := p.Complete(context.Background(), CompletionRequest{Prompt: Prompt{Instructions: "x"}})
			require.Error(t, err)
			var te *TransportError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, tt.class, te.Class)
			assert.Equal(t, tt.status, te.StatusCode)
		})
	}
}

func TestOpenAIProviderNoChoices(t *testing.T) {
	p := newTestOpenAIProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","choices":[]}`))
	})

	_, err := p.Complete(context.Background(), CompletionRequest{Prompt: Prompt{Instructions: "x"}})
	assert.ErrorIs(t, err, ErrNoChoices)
	assert.False(t, ShouldRetry(err))
}

func TestNewOpenAIProviderRequiresKey(t *testing.T) {
	_, err := NewOpenAIProvider(config.OpenAIConfig{}, false)
	assert.Error(t, err)
}

func TestSanitizeBody(t *testing.T) {
	body := `{"api_key":"secret-value","image":"data:image/png;base64,AAAABBBB"}`
	out := sanitizeBody(body)
	assert.NotContains(t, out, "secret-value")
	assert.NotContains(t, out, "AAAABBBB")
	assert.Contains(t, out, "[REDACTED]")
	assert.True(t, isSensitiveHeader("Authorization"))
	assert.False(t, isSensitiveHeader("Content-Type"))
}
