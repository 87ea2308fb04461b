package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"screentest-backend/internal/llm"
	"screentest-backend/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const validResponse = "```json\n{\"testCases\":[{\"type\":\"ui\",\"title\":\"Login renders\",\"testSteps\":\"Open login\"}]}\n```"

type fakeCompleter struct {
	mu       sync.Mutex
	response string
	err      error
	gate     chan struct{}
	started  chan struct{}
	requests []llm.CompletionRequest
}

func (f *fakeCompleter) ProviderName() string { return "fake" }

func (f *fakeCompleter) Complete(ctx context.Context, req llm.CompletionRequest) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	started := f.started
	f.mu.Unlock()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func (f *fakeCompleter) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type mapLoader map[string][]byte

func (m mapLoader) Load(ctx context.Context, ref string) ([]byte, string, error) {
	data, ok := m[ref]
	if !ok {
		return nil, "", errors.New("not found")
	}
	return data, "image/png", nil
}

func newTestPipeline(c Completer, loader ImageLoader) *Pipeline {
	return New(c, loader, NewResultCache(0), Options{
		Model:                 "test-model",
		MinTestCases:          5,
		Temperature:           0.2,
		RegenerateTemperature: 0.7,
		MaxPages:              5,
	})
}

func loginRequest() model.GenerationRequest {
	return model.GenerationRequest{
		Pages: []model.PageInput{
			{Name: "Login", Index: 0, OCRText: "Username Password"},
			{Name: "Home", Index: 1, OCRText: "Welcome"},
		},
	}
}

func TestGenerateCachesIdenticalRequests(t *testing.T) {
	fc := &fakeCompleter{response: validResponse}
	p := newTestPipeline(fc, nil)
	ctx := context.Background()

	first, err := p.Run(ctx, loginRequest(), nil)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)

	second, err := p.Run(ctx, loginRequest(), nil)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)

	assert.Equal(t, 1, fc.calls())
	assert.Equal(t, first.Fingerprint, second.Fingerprint)
	assert.Equal(t, first.Result, second.Result)
	assert.Equal(t, "1. Open login", second.Result.AllTestCases[0].TestSteps)
}

func TestGenerateForceRegenerateBypassesAndOverwrites(t *testing.T) {
	fc := &fakeCompleter{response: validResponse}
	p := newTestPipeline(fc, nil)
	ctx := context.Background()

	_, err := p.Generate(ctx, loginRequest())
	require.NoError(t, err)

	fc.response = `{"testCases":[{"title":"Regenerated","testSteps":"Again"}]}`
	req := loginRequest()
	req.ForceRegenerate = true
	out, err := p.Run(ctx, req, nil)
	require.NoError(t, err)
	assert.False(t, out.CacheHit)
	assert.True(t, out.Regenerated)
	assert.Equal(t, "Regenerated", out.Result.AllTestCases[0].Title)

	cached, err := p.Generate(ctx, loginRequest())
	require.NoError(t, err)
	assert.Equal(t, "Regenerated", cached.AllTestCases[0].Title)

	require.Equal(t, 2, fc.calls())
	assert.Equal(t, float32(0.2), fc.requests[0].Temperature)
	assert.Equal(t, float32(0.7), fc.requests[1].Temperature)
	assert.Equal(t, "test-model", fc.requests[0].Model)
}

func TestGenerateParseErrorIsNotCachedOrRetried(t *testing.T) {
	fc := &fakeCompleter{response: "I could not find any screens."}
	p := newTestPipeline(fc, nil)

	_, err := p.Generate(context.Background(), loginRequest())
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 1, fc.calls())
	assert.Equal(t, 0, p.Cache().Len())

	fc.response = validResponse
	result, err := p.Generate(context.Background(), loginRequest())
	require.NoError(t, err)
	assert.Len(t, result.AllTestCases, 1)
}

func TestGeneratePropagatesTransportErrors(t *testing.T) {
	fc := &fakeCompleter{err: &llm.TransportError{Class: llm.ClassTransient, StatusCode: 503, RetryAfter: 4 * time.Second}}
	p := newTestPipeline(fc, nil)

	_, err := p.Generate(context.Background(), loginRequest())
	var te *llm.TransportError
	require.ErrorAs(t, err, &te)
	assert.True(t, llm.ShouldRetry(err))
	assert.Equal(t, 0, p.Cache().Len())
}

func TestGenerateWithCorrections(t *testing.T) {
	fc := &fakeCompleter{response: validResponse}
	p := newTestPipeline(fc, nil)
	ctx := context.Background()

	_, err := p.Generate(ctx, loginRequest())
	require.NoError(t, err)

	corrections := []model.ElementCorrection{{PageIndex: 0, DetectedText: "Usrname", Label: "Username", ElementType: "input"}}
	_, err = p.GenerateWithCorrections(ctx, loginRequest(), corrections)
	require.NoError(t, err)

	require.Equal(t, 2, fc.calls(), "corrections change the fingerprint")
	assert.Contains(t, fc.requests[1].Prompt.Instructions, `"Usrname" is labelled "Username"`)
	assert.NotContains(t, fc.requests[0].Prompt.Instructions, "USER-PROVIDED LABELS")
}

func TestGenerateOrdersPagesByIndex(t *testing.T) {
	fc := &fakeCompleter{response: validResponse}
	p := newTestPipeline(fc, nil)

	req := model.GenerationRequest{Pages: []model.PageInput{
		{Name: "Second", Index: 1, OCRText: "b"},
		{Name: "First", Index: 0, OCRText: "a"},
	}}
	_, err := p.Generate(context.Background(), req)
	require.NoError(t, err)

	prompt := fc.requests[0].Prompt
	assert.Equal(t, "Page 1: First", prompt.Segments[0].Text)
	assert.Contains(t, prompt.Instructions, "1. First\n2. Second\n")
}

func TestGenerateLoadsFileReferences(t *testing.T) {
	fc := &fakeCompleter{response: validResponse}
	loader := mapLoader{"shots/login.png": pngHeader, "shots/home.png": pngHeader}
	p := newTestPipeline(fc, loader)

	req := model.GenerationRequest{Pages: []model.PageInput{
		{Name: "Login", Index: 0, FileRef: "shots/login.png"},
		{Name: "Home", Index: 1, FileRef: "shots/home.png"},
	}}
	_, err := p.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 2, fc.requests[0].Prompt.ImageCount())
	assert.Empty(t, req.Pages[0].Image, "caller pages are not modified")

	req.Pages[1].FileRef = "shots/missing.png"
	_, err = p.Generate(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestGenerateValidation(t *testing.T) {
	p := newTestPipeline(&fakeCompleter{response: validResponse}, nil)

	tests := []struct {
		name string
		req  model.GenerationRequest
	}{
		{"no pages", model.GenerationRequest{}},
		{"too many pages", model.GenerationRequest{Pages: make([]model.PageInput, 6)}},
		{"empty page", model.GenerationRequest{Pages: []model.PageInput{{Name: "Blank", Index: 0}}}},
		{"duplicate index", model.GenerationRequest{Pages: []model.PageInput{
			{Name: "A", Index: 0, OCRText: "a"}, {Name: "B", Index: 0, OCRText: "b"},
		}}},
		{"negative index", model.GenerationRequest{Pages: []model.PageInput{{Name: "A", Index: -1, OCRText: "a"}}}},
		{"unknown correction page", model.GenerationRequest{
			Pages:       []model.PageInput{{Name: "A", Index: 0, OCRText: "a"}},
			Corrections: []model.ElementCorrection{{PageIndex: 3, Label: "x"}},
		}},
		{"empty correction label", model.GenerationRequest{
			Pages:       []model.PageInput{{Name: "A", Index: 0, OCRText: "a"}},
			Corrections: []model.ElementCorrection{{PageIndex: 0, DetectedText: "x"}},
		}},
		{"file ref without loader", model.GenerationRequest{Pages: []model.PageInput{{Name: "A", Index: 0, FileRef: "a.png"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Generate(context.Background(), tt.req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestGenerateCoalescesConcurrentRequests(t *testing.T) {
	defer goleak.VerifyNone(t)

	fc := &fakeCompleter{response: validResponse, gate: make(chan struct{}), started: make(chan struct{}, 1)}
	p := newTestPipeline(fc, nil)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]*Outcome, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = p.Run(context.Background(), loginRequest(), nil)
		}(i)
	}

	<-fc.started
	close(fc.gate)
	wg.Wait()

	assert.Equal(t, 1, fc.calls())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "Login renders", results[i].Result.AllTestCases[0].Title)
	}

	results[0].Result.AllTestCases[0].Title = "mutated"
	assert.Equal(t, "Login renders", results[1].Result.AllTestCases[0].Title)
}

func TestRunCallerCancellationDoesNotAbortSharedCall(t *testing.T) {
	defer goleak.VerifyNone(t)

	fc := &fakeCompleter{response: validResponse, gate: make(chan struct{}), started: make(chan struct{}, 1)}
	p := newTestPipeline(fc, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := p.Run(ctx, loginRequest(), nil)
		done <- err
	}()

	<-fc.started
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(fc.gate)
	require.Eventually(t, func() bool { return p.Cache().Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	out, err := p.Run(context.Background(), loginRequest(), nil)
	require.NoError(t, err)
	assert.True(t, out.CacheHit)
	assert.Equal(t, 1, fc.calls())
}

func TestRunReportsProgress(t *testing.T) {
	p := newTestPipeline(&fakeCompleter{response: validResponse}, nil)

	var mu sync.Mutex
	var stages []string
	observe := func(stage string, _ map[string]interface{}) {
		mu.Lock()
		defer mu.Unlock()
		stages = append(stages, stage)
	}

	_, err := p.Run(context.Background(), loginRequest(), observe)
	require.NoError(t, err)
	assert.Equal(t, []string{StageValidated, StageLoading, StageGenerating, StageNormalized}, stages)

	stages = nil
	_, err = p.Run(context.Background(), loginRequest(), observe)
	require.NoError(t, err)
	assert.Equal(t, []string{StageValidated, StageCacheHit}, stages)
}
