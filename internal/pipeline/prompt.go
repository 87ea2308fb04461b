package pipeline

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"screentest-backend/internal/llm"
	"screentest-backend/internal/model"
)

const systemPrompt = "You are a senior QA engineer. You write precise, executable test cases for web and mobile applications from screenshots of their user interface. You always answer with a single JSON object and nothing else."

// PromptBuilder assembles the provider-agnostic instruction payload.
type PromptBuilder struct {
	MinTestCases int
}

func NewPromptBuilder(minTestCases int) *PromptBuilder {
	if minTestCases <= 0 {
		minTestCases = 10
	}
	return &PromptBuilder{MinTestCases: minTestCases}
}

// Build returns the prompt for pages in sequence order. Pages must have their images
// loaded; a page with neither image nor OCR text contributes only its marker.
func (b *PromptBuilder) Build(pages []model.PageInput, corrections []model.ElementCorrection) llm.Prompt {
	var sb strings.Builder

	sb.WriteString("Analyze the following application screens and generate comprehensive test cases.\n\n")

	sb.WriteString("USER WORKFLOW (the screens below appear in exactly this order; treat it as the ground-truth user journey, not an unordered set of screens):\n")
	for i, p := range pages {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, displayName(p, i))
	}
	sb.WriteString("\n")

	if section := correctionSection(pages, corrections); section != "" {
		sb.WriteString(section)
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "Generate at least %d test cases covering the workflow end to end, each individual screen, input validation, negative paths and edge cases.\n\n", b.MinTestCases)

	sb.WriteString(`Every test case MUST be an object with exactly these string fields:
- "type": one of functional, endToEnd, integration, ui, security, edge, negative, performance, accessibility, usability
- "title": a short, specific title
- "preconditions": bullet list of preconditions, one per line starting with "• "
- "testSteps": numbered steps, one per line ("1. ...", "2. ...")
- "testData": bullet list of concrete input values, one per line starting with "• "
- "expectedResults": bullet list of observable outcomes, one per line starting with "• "

Respond with ONE JSON object and nothing else: no markdown fences, no commentary before or after it. The object has this shape:
{"testCases": [{"type": "...", "title": "...", "preconditions": "...", "testSteps": "...", "testData": "...", "expectedResults": "..."}]}
`)

	prompt := llm.Prompt{
		System:       systemPrompt,
		Instructions: sb.String(),
	}

	for i, p := range pages {
		prompt.Segments = append(prompt.Segments, llm.TextSegment(fmt.Sprintf("Page %d: %s", i+1, displayName(p, i))))
		if len(p.Image) > 0 {
			prompt.Segments = append(prompt.Segments, llm.ImageSegment(llm.Image{
				MIMEType: imageMIMEType(p),
				Data:     p.Image,
			}))
		}
		if text := strings.TrimSpace(p.OCRText); text != "" {
			prompt.Segments = append(prompt.Segments, llm.TextSegment(fmt.Sprintf("Extracted text from page %d:\n%s", i+1, text)))
		}
	}

	return prompt
}

// correctionSection lists user labels grouped by page in sequence order. Corrections for
// the same page keep their input order, so equal input always renders the same text.
func correctionSection(pages []model.PageInput, corrections []model.ElementCorrection) string {
	if len(corrections) == 0 {
		return ""
	}

	position := make(map[int]int, len(pages))
	for i, p := range pages {
		position[p.Index] = i
	}

	sorted := make([]model.ElementCorrection, len(corrections))
	copy(sorted, corrections)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].PageIndex < sorted[j].PageIndex
	})

	var sb strings.Builder
	sb.WriteString("USER-PROVIDED LABELS (the user corrected these UI elements; always use the corrected label instead of the detected OCR text when referring to them):\n")
	for _, c := range sorted {
		page := fmt.Sprintf("page index %d", c.PageIndex)
		if pos, ok := position[c.PageIndex]; ok {
			page = fmt.Sprintf("Page %d (%s)", pos+1, displayName(pages[pos], pos))
		}
		elementType := c.ElementType
		if elementType == "" {
			elementType = "element"
		}
		fmt.Fprintf(&sb, "- %s: %s detected as %q is labelled %q\n", page, elementType, c.DetectedText, c.Label)
	}
	return sb.String()
}

func displayName(p model.PageInput, i int) string {
	switch {
	case strings.TrimSpace(p.Name) != "":
		return strings.TrimSpace(p.Name)
	case p.Filename != "":
		return p.Filename
	default:
		return fmt.Sprintf("Screen %d", i+1)
	}
}

func imageMIMEType(p model.PageInput) string {
	if strings.HasPrefix(p.MIMEType, "image/") {
		return p.MIMEType
	}
	if detected := http.DetectContentType(p.Image); strings.HasPrefix(detected, "image/") {
		return detected
	}
	return "image/png"
}
