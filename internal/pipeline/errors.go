package pipeline

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRequest  = errors.New("invalid generation request")
	ErrEmptyResponse   = errors.New("empty model response")
	ErrNoJSONObject    = errors.New("no JSON object found in model response")
	ErrInvalidJSON     = errors.New("model response is not valid JSON")
	ErrNoTestCaseArray = errors.New("no test case array found in model response")
	ErrModelDeclined   = errors.New("model declined to generate test cases")
)

// ParseError reports a model response that could not be coerced into the minimum viable
// shape. It is never retried by the pipeline.
type ParseError struct {
	// Err is one of the sentinel errors above, possibly wrapping a decoder error.
	Err error
	// Snippet is the start of the raw response, for logs.
	Snippet string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse model response: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func newParseError(err error, raw string) *ParseError {
	return &ParseError{Err: err, Snippet: snippet(raw, 200)}
}

func snippet(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
