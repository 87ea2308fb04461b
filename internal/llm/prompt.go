package llm

import (
	"encoding/base64"
	"strings"
)

type SegmentKind int

const (
	SegmentText SegmentKind = iota
	SegmentImage
)

// Image is an inline screenshot payload.
type Image struct {
	MIMEType string
	Data     []byte
}

// Base64 returns the standard base64 encoding of the image bytes.
func (i Image) Base64() string {
	return base64.StdEncoding.EncodeToString(i.Data)
}

// DataURL returns the image as a data: URL, the form OpenAI-compatible APIs accept.
func (i Image) DataURL() string {
	return "data:" + i.MIMEType + ";base64," + i.Base64()
}

// Format returns the image subtype, e.g. "png" for image/png.
func (i Image) Format() string {
	if idx := strings.IndexByte(i.MIMEType, '/'); idx >= 0 {
		return i.MIMEType[idx+1:]
	}
	return i.MIMEType
}

// Segment is one element of the ordered user content: a text marker or an image.
type Segment struct {
	Kind  SegmentKind
	Text  string
	Image *Image
}

func TextSegment(text string) Segment {
	return Segment{Kind: SegmentText, Text: text}
}

func ImageSegment(img Image) Segment {
	return Segment{Kind: SegmentImage, Image: &img}
}

// Prompt is the provider-agnostic instruction payload. Instructions precede Segments in
// the user turn; providers must keep Segments in order.
type Prompt struct {
	System       string
	Instructions string
	Segments     []Segment
}

// ImageCount returns how many image segments the prompt carries.
func (p Prompt) ImageCount() int {
	n := 0
	for _, s := range p.Segments {
		if s.Kind == SegmentImage && s.Image != nil {
			n++
		}
	}
	return n
}

// CompletionRequest is one upstream call.
type CompletionRequest struct {
	Model       string
	Prompt      Prompt
	Temperature float32
	MaxTokens   int
	// JSONMode asks the provider for a JSON-only response where it supports that.
	JSONMode bool
}
