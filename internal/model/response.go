package model

import "time"

// TestCase is the canonical test-case record. Every field is always a string.
type TestCase struct {
	Type            string `json:"type" firestore:"type" yaml:"type"`
	Title           string `json:"title" firestore:"title" yaml:"title"`
	Preconditions   string `json:"preconditions" firestore:"preconditions" yaml:"preconditions"`
	TestSteps       string `json:"testSteps" firestore:"testSteps" yaml:"testSteps"`
	TestData        string `json:"testData" firestore:"testData" yaml:"testData"`
	ExpectedResults string `json:"expectedResults" firestore:"expectedResults" yaml:"expectedResults"`
}

// GenerationResult is the normalized output of one generation. AllTestCases is
// authoritative; Categorized is the bucketed "title: testSteps" view kept for older
// consumers.
type GenerationResult struct {
	AllTestCases []TestCase          `json:"allTestCases" firestore:"allTestCases"`
	Categorized  map[string][]string `json:"categorized" firestore:"categorized"`
}

// Clone returns a deep copy so cached results cannot be mutated through a caller's copy.
func (r *GenerationResult) Clone() *GenerationResult {
	if r == nil {
		return nil
	}
	out := &GenerationResult{
		AllTestCases: make([]TestCase, len(r.AllTestCases)),
		Categorized:  make(map[string][]string, len(r.Categorized)),
	}
	copy(out.AllTestCases, r.AllTestCases)
	for k, v := range r.Categorized {
		out.Categorized[k] = append([]string(nil), v...)
	}
	return out
}

// GenerationRecord is what the service persists for every completed generation.
type GenerationRecord struct {
	ID            string            `json:"id" firestore:"id"`
	Fingerprint   string            `json:"fingerprint" firestore:"fingerprint"`
	PageNames     []string          `json:"pageNames" firestore:"pageNames"`
	Provider      string            `json:"provider" firestore:"provider"`
	Model         string            `json:"model" firestore:"model"`
	CacheHit      bool              `json:"cacheHit" firestore:"cacheHit"`
	Regenerated   bool              `json:"regenerated" firestore:"regenerated"`
	TestCaseCount int               `json:"testCaseCount" firestore:"testCaseCount"`
	CreatedAt     time.Time         `json:"createdAt" firestore:"createdAt"`
	Result        *GenerationResult `json:"result,omitempty" firestore:"result"`
}

// GenerationSummary is the list view of a record without its test cases.
type GenerationSummary struct {
	ID            string    `json:"id"`
	Fingerprint   string    `json:"fingerprint"`
	PageNames     []string  `json:"pageNames"`
	Provider      string    `json:"provider"`
	Model         string    `json:"model"`
	CacheHit      bool      `json:"cacheHit"`
	TestCaseCount int       `json:"testCaseCount"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Summary drops the result payload.
func (r *GenerationRecord) Summary() GenerationSummary {
	return GenerationSummary{
		ID:            r.ID,
		Fingerprint:   r.Fingerprint,
		PageNames:     r.PageNames,
		Provider:      r.Provider,
		Model:         r.Model,
		CacheHit:      r.CacheHit,
		TestCaseCount: r.TestCaseCount,
		CreatedAt:     r.CreatedAt,
	}
}

// GenerateResponse is the HTTP body returned for a successful generation.
type GenerateResponse struct {
	GenerationID string `json:"generationId"`
	Fingerprint  string `json:"fingerprint"`
	CacheHit     bool   `json:"cacheHit"`
	*GenerationResult
}

// ProgressEvent is one stage notification of a running generation, streamed over SSE.
type ProgressEvent struct {
	Stage     string                 `json:"stage"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}
