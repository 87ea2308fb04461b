package pipeline

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"screentest-backend/internal/model"
)

const (
	BulletMarker = "• "

	DefaultType          = "functional"
	DefaultPreconditions = "None"
	DefaultTestData      = "Standard test data"
	NotSpecified         = "Not specified"
)

// Report collects the field repairs applied during normalization. Repairs are expected
// and never fail the batch.
type Report struct {
	Warnings []string
	Dropped  int
}

func (r *Report) warnf(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// caseArrayKeys are the top-level keys searched for the test-case array, in priority order.
var caseArrayKeys = []string{"testCases", "test_cases", "testcases", "allTestCases", "tests", "cases"}

// fieldAliases maps each canonical field to the keys accepted for it, in priority order.
var fieldAliases = map[string][]string{
	"type":            {"type", "category", "testType", "test_type"},
	"title":           {"title", "name", "testCase", "test_case", "summary"},
	"preconditions":   {"preconditions", "precondition", "pre_conditions", "preConditions"},
	"testSteps":       {"testSteps", "steps", "test_steps"},
	"testData":        {"testData", "data", "test_data", "inputs"},
	"expectedResults": {"expectedResults", "expectedResult", "expected_results", "expected_result", "expected"},
}

var (
	fencedBlock    = regexp.MustCompile("(?s)```[A-Za-z0-9_+-]*[ \t]*\r?\n?(.*?)```")
	embeddedNumber = regexp.MustCompile(`(?:^|\s)(\d{1,2})[.)]\s+`)
	stepMarker     = regexp.MustCompile(`(?i)^\s*(?:step\s*\d+\s*[:.)-]?|\d{1,2}[.)](?:\s|$)|[•·]|[-*](?:\s|$))\s*`)
	bulletPrefix   = regexp.MustCompile(`^\s*(?:[•·]|[-*](?:\s|$))\s*`)

	refusalPhrases = []string{
		"i'm sorry",
		"i am sorry",
		"i cannot fulfill",
		"i cannot answer",
		"i cannot provide",
		"i can't help",
		"i am unable to",
		"i'm unable to",
	}
)

// Normalize converts raw model output into a GenerationResult. It fails with *ParseError
// only when no JSON object or no test-case array can be found; everything else is repaired
// per element and recorded in the report.
func Normalize(raw string) (*model.GenerationResult, *Report, error) {
	report := &Report{}

	root, err := parseResponse(raw)
	if err != nil {
		return nil, report, err
	}

	sources, ok := findTestCases(root)
	if !ok {
		return nil, report, newParseError(ErrNoTestCaseArray, raw)
	}

	cases := make([]model.TestCase, 0, len(sources))
	for i, src := range sources {
		tc, ok := repairTestCase(src.value, src.defaultType, len(cases)+1, report)
		if !ok {
			report.Dropped++
			report.warnf("element %d dropped: not a usable test case", i+1)
			continue
		}
		cases = append(cases, tc)
	}

	return &model.GenerationResult{
		AllTestCases: cases,
		Categorized:  Categorize(cases),
	}, report, nil
}

// parseResponse runs the extraction stages: trim, fenced blocks, brace slicing and a
// strict parse. The result is always an object.
func parseResponse(raw string) (Value, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return Value{}, newParseError(ErrEmptyResponse, raw)
	}

	if strings.Contains(text, "```") {
		var blocks []string
		for _, m := range fencedBlock.FindAllStringSubmatch(text, -1) {
			if b := strings.TrimSpace(m[1]); strings.ContainsAny(b, "{[") {
				blocks = append(blocks, b)
			}
		}
		switch {
		case len(blocks) > 1:
			return mergeFragments(blocks, raw)
		case len(blocks) == 1:
			text = blocks[0]
		}
	}

	// a bare array is a single fragment; a bracketed lead-in falls through to slicing
	if strings.HasPrefix(text, "[") {
		if end := strings.LastIndex(text, "]"); end > 0 {
			if v, err := ParseValue(text[:end+1]); err == nil && v.Kind == KindArray {
				return mergeFragments([]string{text[:end+1]}, raw)
			}
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		if isRefusal(text) {
			return Value{}, newParseError(ErrModelDeclined, raw)
		}
		return Value{}, newParseError(ErrNoJSONObject, raw)
	}

	root, err := ParseValue(text[start : end+1])
	if err != nil {
		return Value{}, newParseError(fmt.Errorf("%w: %v", ErrInvalidJSON, err), raw)
	}
	return root, nil
}

// mergeFragments wraps several fenced blocks into one {"testCases": [...]} object. Array
// blocks contribute their elements, object blocks their own test-case array when they
// have one and themselves otherwise.
func mergeFragments(blocks []string, raw string) (Value, error) {
	var items []Value
	for _, b := range blocks {
		v, err := ParseValue(b)
		if err != nil {
			return Value{}, newParseError(fmt.Errorf("%w: %v", ErrInvalidJSON, err), raw)
		}
		switch v.Kind {
		case KindArray:
			items = append(items, v.Items...)
		case KindObject:
			if arr, ok := caseArray(v); ok {
				items = append(items, arr.Items...)
			} else {
				items = append(items, v)
			}
		default:
			return Value{}, newParseError(ErrNoJSONObject, raw)
		}
	}
	if items == nil {
		items = []Value{}
	}
	return ObjectValue(Member{Key: "testCases", Value: ArrayValue(items)}), nil
}

type caseSource struct {
	value       Value
	defaultType string
}

func caseArray(root Value) (Value, bool) {
	for _, key := range caseArrayKeys {
		if v, ok := root.GetFold(key); ok && v.Kind == KindArray {
			return v, true
		}
	}
	return Value{}, false
}

// findTestCases locates the test-case array. Besides the flat shapes it accepts the
// categorized shape {"functional": [...], "ui": [...]}, optionally nested under one of the
// array keys, where the bucket name becomes the default type.
func findTestCases(root Value) ([]caseSource, bool) {
	if arr, ok := caseArray(root); ok {
		return sourcesOf(arr.Items, ""), true
	}
	for _, key := range caseArrayKeys {
		if v, ok := root.GetFold(key); ok && v.Kind == KindObject {
			if sources, ok := categorizedSources(v); ok {
				return sources, true
			}
		}
	}
	return categorizedSources(root)
}

func categorizedSources(obj Value) ([]caseSource, bool) {
	var sources []caseSource
	found := false
	for _, m := range obj.Members {
		if m.Value.Kind != KindArray || !containsObject(m.Value.Items) {
			continue
		}
		found = true
		sources = append(sources, sourcesOf(m.Value.Items, m.Key)...)
	}
	return sources, found
}

func sourcesOf(items []Value, defaultType string) []caseSource {
	out := make([]caseSource, len(items))
	for i, item := range items {
		out[i] = caseSource{value: item, defaultType: defaultType}
	}
	return out
}

func containsObject(items []Value) bool {
	for _, item := range items {
		if item.Kind == KindObject {
			return true
		}
	}
	return false
}

func lookupField(obj Value, field string) (Value, bool) {
	for _, key := range fieldAliases[field] {
		if v, ok := obj.GetFold(key); ok {
			return v, true
		}
	}
	return Value{}, false
}

// repairTestCase applies the per-field repairs to one element. n is the 1-based position
// the case will take, used for generated titles.
func repairTestCase(v Value, defaultType string, n int, report *Report) (model.TestCase, bool) {
	if v.Kind != KindObject {
		return model.TestCase{}, false
	}

	title := strings.TrimSpace(scalarField(v, "title", report))
	stepsValue, _ := lookupField(v, "testSteps")
	steps := formatNumbered(stepsValue)
	if title == "" && steps == "" {
		return model.TestCase{}, false
	}
	if title == "" {
		title = "Untitled test case " + strconv.Itoa(n)
		report.warnf("test case %d: missing title", n)
	}

	tcType := strings.TrimSpace(scalarField(v, "type", report))
	if tcType == "" {
		tcType = defaultType
	}
	if tcType == "" {
		tcType = DefaultType
	}

	return model.TestCase{
		Type:            tcType,
		Title:           title,
		Preconditions:   bulletField(v, "preconditions", DefaultPreconditions, n, report),
		TestSteps:       stepsOrPlaceholder(steps),
		TestData:        bulletField(v, "testData", DefaultTestData, n, report),
		ExpectedResults: bulletField(v, "expectedResults", NotSpecified, n, report),
	}, true
}

func scalarField(obj Value, field string, report *Report) string {
	v, ok := lookupField(obj, field)
	if !ok {
		return ""
	}
	if v.Kind != KindString && v.Kind != KindNull {
		report.warnf("field %s: coerced %s to string", field, kindName(v.Kind))
	}
	return coerceToDisplayString(v)
}

func stepsOrPlaceholder(steps string) string {
	if steps == "" {
		return "1. " + NotSpecified
	}
	return steps
}

// bulletField renders a list-like field. Missing and null values take the placeholder,
// bulleted like any other value; objects keep their "key: value" lines.
func bulletField(obj Value, field, placeholder string, n int, report *Report) string {
	v, ok := lookupField(obj, field)
	if !ok || v.Kind == KindNull {
		return formatBullets([]string{placeholder})
	}
	switch v.Kind {
	case KindString:
		return formatBullets(splitItems(v.Text))
	case KindArray:
		report.warnf("test case %d: %s coerced from array", n, field)
		return formatBullets(arrayItems(v))
	case KindObject:
		report.warnf("test case %d: %s coerced from object", n, field)
		return coerceToDisplayString(v)
	default:
		report.warnf("test case %d: %s coerced from %s", n, field, kindName(v.Kind))
		return coerceToDisplayString(v)
	}
}

// formatNumbered renders steps as "1. a\n2. b". Existing numbering is replaced.
func formatNumbered(v Value) string {
	var steps []string
	switch v.Kind {
	case KindNull:
		return ""
	case KindArray:
		steps = arrayItems(v)
	case KindString:
		steps = splitSteps(v.Text)
	default:
		steps = splitSteps(coerceToDisplayString(v))
	}

	var sb strings.Builder
	i := 0
	for _, s := range steps {
		s = strings.TrimSpace(stepMarker.ReplaceAllString(s, ""))
		if s == "" {
			continue
		}
		i++
		if i > 1 {
			sb.WriteByte('\n')
		}
		sb.WriteString(strconv.Itoa(i))
		sb.WriteString(". ")
		sb.WriteString(s)
	}
	return sb.String()
}

func formatBullets(items []string) string {
	lines := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(bulletPrefix.ReplaceAllString(item, ""))
		if item != "" {
			lines = append(lines, BulletMarker+item)
		}
	}
	return strings.Join(lines, "\n")
}

func arrayItems(v Value) []string {
	items := make([]string, 0, len(v.Items))
	for _, item := range v.Items {
		if item.Kind == KindObject {
			parts := make([]string, 0, len(item.Members))
			for _, m := range item.Members {
				parts = append(parts, m.Key+": "+inlineString(m.Value))
			}
			items = append(items, strings.Join(parts, ", "))
			continue
		}
		items = append(items, coerceToDisplayString(item))
	}
	return items
}

// splitSteps splits free text on embedded numbering, then newlines, then semicolons,
// then commas, taking the first separator that yields more than one step.
func splitSteps(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if cuts := sequentialNumbering(s); len(cuts) > 1 {
		parts := make([]string, 0, len(cuts)+1)
		prev := 0
		for _, cut := range cuts {
			parts = append(parts, s[prev:cut])
			prev = cut
		}
		return append(parts, s[prev:])
	}
	return splitItems(s)
}

// sequentialNumbering returns the offsets of the "1." "2." "3." ... markers in s. Numbers
// that do not continue the sequence are part of the step text.
func sequentialNumbering(s string) []int {
	var cuts []int
	next := 1
	for _, m := range embeddedNumber.FindAllStringSubmatchIndex(s, -1) {
		n, err := strconv.Atoi(s[m[2]:m[3]])
		if err != nil || n != next {
			continue
		}
		cuts = append(cuts, m[0])
		next++
	}
	return cuts
}

// splitItems splits list text on newlines, then semicolons, then commas.
func splitItems(s string) []string {
	for _, sep := range []string{"\n", ";", ","} {
		if parts := nonEmpty(strings.Split(s, sep)); len(parts) > 1 {
			return parts
		}
	}
	return nonEmpty([]string{s})
}

func nonEmpty(parts []string) []string {
	out := parts[:0:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isRefusal(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range refusalPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func kindName(k Kind) string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	}
	return "unknown"
}
