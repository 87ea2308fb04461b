package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrorClass tags a transport failure with the retry decision it implies.
type ErrorClass int

const (
	// ClassFatal covers auth failures, malformed requests, quota exhaustion and anything
	// unrecognised. Never retried.
	ClassFatal ErrorClass = iota
	// ClassTransient covers provider overload, rate limiting and gateway failures.
	ClassTransient
)

func (c ErrorClass) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	default:
		return "fatal"
	}
}

var ErrNoChoices = errors.New("provider returned no completion choices")

// TransportError is the only error type providers and the Client return for upstream
// failures.
type TransportError struct {
	Class      ErrorClass
	Provider   string
	StatusCode int
	// RetryAfter is the suggested wait before the caller tries the whole operation again.
	RetryAfter time.Duration
	Attempts   int
	Err        error
}

func (e *TransportError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s error", e.Provider, e.Class)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Attempts > 1 {
		fmt.Fprintf(&b, " after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Retryable reports whether trying the same call again may succeed.
func (e *TransportError) Retryable() bool {
	return e.Class == ClassTransient
}

// ShouldRetry is the retry decision. It depends only on the error's class tag.
func ShouldRetry(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Class == ClassTransient
}

// ClassifyStatus maps an HTTP status code to an error class.
func ClassifyStatus(code int) ErrorClass {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
		529: // Anthropic-style "overloaded"
		return ClassTransient
	}
	return ClassFatal
}

var (
	statusInMessage = regexp.MustCompile(`(?i)(?:status(?:\s*code)?|error\s*code|http)\D{0,4}(\d{3})\b`)

	transientPhrases = []string{
		"overloaded",
		"rate limit",
		"too many requests",
		"temporarily unavailable",
		"service unavailable",
		"server is busy",
		"try again later",
		"connection reset",
	}
	quotaPhrases = []string{
		"insufficient_quota",
		"quota exceeded",
		"exceeded your current quota",
		"billing",
	}
)

// ClassifyMessage classifies an error by its text, for providers whose SDKs do not
// expose typed errors.
func ClassifyMessage(msg string) (ErrorClass, int) {
	if isQuotaMessage(msg) {
		return ClassFatal, 0
	}
	lower := strings.ToLower(msg)
	status := 0
	if m := statusInMessage.FindStringSubmatch(msg); m != nil {
		status, _ = strconv.Atoi(m[1])
		if ClassifyStatus(status) == ClassTransient {
			return ClassTransient, status
		}
	}
	for _, p := range transientPhrases {
		if strings.Contains(lower, p) {
			return ClassTransient, status
		}
	}
	return ClassFatal, status
}

// classify builds a TransportError for err. status is the HTTP status the SDK reported,
// or 0 when unknown.
func classify(provider string, status int, err error) *TransportError {
	var te *TransportError
	if errors.As(err, &te) {
		return te
	}
	out := &TransportError{Provider: provider, StatusCode: status, Err: err}

	switch {
	case errors.Is(err, context.Canceled):
		out.Class = ClassFatal
	case status != 0:
		out.Class = ClassifyStatus(status)
		// 429 is also how quota exhaustion is reported.
		if status == http.StatusTooManyRequests && isQuotaMessage(err.Error()) {
			out.Class = ClassFatal
		}
	case errors.Is(err, context.DeadlineExceeded), isNetTimeout(err):
		out.Class = ClassTransient
	default:
		out.Class, out.StatusCode = ClassifyMessage(err.Error())
	}
	return out
}

func isQuotaMessage(msg string) bool {
	lower := strings.ToLower(msg)
	for _, p := range quotaPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func isNetTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
