package pipeline

import (
	"testing"

	"screentest-backend/internal/model"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeMarkdownWrapped(t *testing.T) {
	raw := "```json\n{\"testCases\":[{\"type\":\"Functional\",\"title\":\"T1\",\"testSteps\":\"Click X\",\"testData\":\"\",\"expectedResults\":\"\"}]}\n```"

	result, report, err := Normalize(raw)
	require.NoError(t, err)
	require.Len(t, result.AllTestCases, 1)

	want := model.TestCase{
		Type:            "Functional",
		Title:           "T1",
		Preconditions:   "• None",
		TestSteps:       "1. Click X",
		TestData:        "",
		ExpectedResults: "",
	}
	if diff := cmp.Diff(want, result.AllTestCases[0]); diff != "" {
		t.Errorf("test case mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{"T1: 1. Click X"}, result.Categorized["functional"])
	assert.Zero(t, report.Dropped)
}

func TestNormalizeMultipleBlocks(t *testing.T) {
	raw := "Here are the first cases:\n```json\n[{\"title\":\"A\"}]\n```\nand the rest:\n```json\n[{\"title\":\"B\"}]\n```"

	result, _, err := Normalize(raw)
	require.NoError(t, err)
	require.Len(t, result.AllTestCases, 2)
	assert.Equal(t, "A", result.AllTestCases[0].Title)
	assert.Equal(t, "B", result.AllTestCases[1].Title)
}

func TestNormalizeMultipleBlocksMixedShapes(t *testing.T) {
	raw := "```json\n{\"testCases\":[{\"title\":\"A\",\"testSteps\":\"a\"}]}\n```\n```\n{\"title\":\"B\",\"testSteps\":\"b\"}\n```\n```text\nno json here\n```"

	result, _, err := Normalize(raw)
	require.NoError(t, err)
	require.Len(t, result.AllTestCases, 2)
	assert.Equal(t, "A", result.AllTestCases[0].Title)
	assert.Equal(t, "B", result.AllTestCases[1].Title)
}

func TestNormalizeObjectFieldCoercion(t *testing.T) {
	raw := `{"testCases":[{"title":"Login","testSteps":"Open app","testData":{"user":"john","pass":"123"}}]}`

	result, report, err := Normalize(raw)
	require.NoError(t, err)
	require.Len(t, result.AllTestCases, 1)
	assert.Equal(t, "user: john\npass: 123", result.AllTestCases[0].TestData)
	assert.NotEmpty(t, report.Warnings)
}

func TestNormalizeProseIsParseError(t *testing.T) {
	result, _, err := Normalize("I looked at the screenshots and they seem to show a login page.")
	require.Error(t, err)
	assert.Nil(t, result)

	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.ErrorIs(t, err, ErrNoJSONObject)
}

func TestNormalizeParseErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"empty", "   \n", ErrEmptyResponse},
		{"refusal", "I'm sorry, but I cannot provide test cases for these images.", ErrModelDeclined},
		{"trailing comma", `{"testCases": [{"title": "A",}]}`, ErrInvalidJSON},
		{"unbalanced", `Result: {"testCases": [{"title": "A"}] and }`, ErrInvalidJSON},
		{"no array", `{"result": "ok"}`, ErrNoTestCaseArray},
		{"array is a string", `{"testCases": "none"}`, ErrNoTestCaseArray},
		{"broken fragment", "```json\n[{\"title\":\"A\"}]\n```\n```json\n[{\"title\":\n```", ErrInvalidJSON},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Normalize(tt.raw)
			require.Error(t, err)
			var pe *ParseError
			require.ErrorAs(t, err, &pe)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestNormalizeProseAroundObject(t *testing.T) {
	raw := "Sure! Here you go:\n{\"testCases\":[{\"title\":\"A\",\"testSteps\":\"x\"}]}\nLet me know if you need more."

	result, _, err := Normalize(raw)
	require.NoError(t, err)
	require.Len(t, result.AllTestCases, 1)
	assert.Equal(t, "A", result.AllTestCases[0].Title)
}

func TestNormalizeBareArray(t *testing.T) {
	result, _, err := Normalize(`[{"title":"A","testSteps":"x"},{"title":"B","testSteps":"y"}]`)
	require.NoError(t, err)
	assert.Len(t, result.AllTestCases, 2)

	result, _, err = Normalize("[{\"title\":\"A\",\"testSteps\":\"x\"}]\nHope this helps.")
	require.NoError(t, err)
	assert.Len(t, result.AllTestCases, 1)
}

func TestNormalizeBracketedLeadIn(t *testing.T) {
	raw := "[Generated test cases]\n{\"testCases\":[{\"title\":\"T1\",\"testSteps\":\"Click X\"}]}"

	result, _, err := Normalize(raw)
	require.NoError(t, err)
	require.Len(t, result.AllTestCases, 1)
	assert.Equal(t, "T1", result.AllTestCases[0].Title)
	assert.Equal(t, "1. Click X", result.AllTestCases[0].TestSteps)
}

func TestNormalizeTestSteps(t *testing.T) {
	tests := []struct {
		name  string
		steps string
		want  string
	}{
		{"single", `"Click X"`, "1. Click X"},
		{"commas", `"Open app, enter username, press login"`, "1. Open app\n2. enter username\n3. press login"},
		{"semicolons win over commas", `"Open the app, enter credentials; click login"`, "1. Open the app, enter credentials\n2. click login"},
		{"embedded numbering", `"1. Open app 2. Enter user 3) Submit"`, "1. Open app\n2. Enter user\n3. Submit"},
		{"renumbered lines", `"3. Open app\n7. Submit"`, "1. Open app\n2. Submit"},
		{"newlines", `"Open app\n\n- Submit form\n"`, "1. Open app\n2. Submit form"},
		{"array", `["Open app", "Step 2: Click login", ""]`, "1. Open app\n2. Click login"},
		{"decimal kept", `"Enter 10.5 kg"`, "1. Enter 10.5 kg"},
		{"number", `7`, "1. 7"},
		{"inline numbers are not steps", `"Open version 2. Then open version 3. Compare"`, "1. Open version 2. Then open version 3. Compare"},
		{"out-of-sequence numbers kept", `"1. Enter 5. items 2. Submit"`, "1. Enter 5. items\n2. Submit"},
		{"null", `null`, "1. Not specified"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := `{"testCases":[{"title":"T","testSteps":` + tt.steps + `}]}`
			result, _, err := Normalize(raw)
			require.NoError(t, err)
			require.Len(t, result.AllTestCases, 1)
			assert.Equal(t, tt.want, result.AllTestCases[0].TestSteps)
		})
	}
}

func TestNormalizeBulletFields(t *testing.T) {
	raw := `{"testCases":[{
		"title": "Checkout",
		"testSteps": "Pay",
		"preconditions": ["User is logged in", "- Cart has items"],
		"testData": "card: 4111; expiry: 12/30",
		"expectedResults": "• Order placed\n• Receipt emailed"
	}]}`

	result, _, err := Normalize(raw)
	require.NoError(t, err)
	tc := result.AllTestCases[0]
	assert.Equal(t, "• User is logged in\n• Cart has items", tc.Preconditions)
	assert.Equal(t, "• card: 4111\n• expiry: 12/30", tc.TestData)
	assert.Equal(t, "• Order placed\n• Receipt emailed", tc.ExpectedResults)
}

func TestNormalizeDefaultsAndScalars(t *testing.T) {
	raw := `{"testCases":[{"title": 42, "testSteps": "Go", "preconditions": null, "testData": null, "expectedResults": true}]}`

	result, report, err := Normalize(raw)
	require.NoError(t, err)
	want := model.TestCase{
		Type:            DefaultType,
		Title:           "42",
		Preconditions:   "• None",
		TestSteps:       "1. Go",
		TestData:        "• Standard test data",
		ExpectedResults: "true",
	}
	if diff := cmp.Diff(want, result.AllTestCases[0]); diff != "" {
		t.Errorf("test case mismatch (-want +got):\n%s", diff)
	}
	assert.NotEmpty(t, report.Warnings)
}

func TestNormalizeMissingFields(t *testing.T) {
	result, _, err := Normalize(`{"testCases":[{"title":"Only a title"}]}`)
	require.NoError(t, err)
	want := model.TestCase{
		Type:            DefaultType,
		Title:           "Only a title",
		Preconditions:   "• None",
		TestSteps:       "1. Not specified",
		TestData:        "• Standard test data",
		ExpectedResults: "• Not specified",
	}
	if diff := cmp.Diff(want, result.AllTestCases[0]); diff != "" {
		t.Errorf("test case mismatch (-want +got):\n%s", diff)
	}
}

func TestNormalizePlaceholdersMatchExplicitValues(t *testing.T) {
	raw := `{"testCases":[
		{"title": "A", "testSteps": "x"},
		{"title": "B", "testSteps": "x", "preconditions": "None", "testData": "Standard test data", "expectedResults": "Not specified"}
	]}`

	result, _, err := Normalize(raw)
	require.NoError(t, err)
	require.Len(t, result.AllTestCases, 2)
	missing, explicit := result.AllTestCases[0], result.AllTestCases[1]
	assert.Equal(t, explicit.Preconditions, missing.Preconditions)
	assert.Equal(t, explicit.TestData, missing.TestData)
	assert.Equal(t, explicit.ExpectedResults, missing.ExpectedResults)
}

func TestNormalizeFieldAliases(t *testing.T) {
	raw := `{"test_cases":[{"name":"Login","category":"Security","steps":["a","b"],"expected":"ok","data":"x","precondition":"p"}]}`

	result, _, err := Normalize(raw)
	require.NoError(t, err)
	want := model.TestCase{
		Type:            "Security",
		Title:           "Login",
		Preconditions:   "• p",
		TestSteps:       "1. a\n2. b",
		TestData:        "• x",
		ExpectedResults: "• ok",
	}
	if diff := cmp.Diff(want, result.AllTestCases[0]); diff != "" {
		t.Errorf("test case mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{"Login: 1. a\n2. b"}, result.Categorized["security"])
}

func TestNormalizeCategorizedShape(t *testing.T) {
	raw := `{
		"functional": [{"title": "A", "testSteps": "x"}],
		"ui": [{"title": "B", "testSteps": "y"}],
		"summary": "two cases"
	}`

	result, _, err := Normalize(raw)
	require.NoError(t, err)
	require.Len(t, result.AllTestCases, 2)
	assert.Equal(t, "functional", result.AllTestCases[0].Type)
	assert.Equal(t, "ui", result.AllTestCases[1].Type)
	assert.Equal(t, []string{"B: 1. y"}, result.Categorized["ui"])
}

func TestNormalizeNestedCategorizedShape(t *testing.T) {
	raw := `{"testCases": {"negative": [{"title": "Bad password", "testSteps": "x"}]}}`

	result, _, err := Normalize(raw)
	require.NoError(t, err)
	require.Len(t, result.AllTestCases, 1)
	assert.Equal(t, "negative", result.AllTestCases[0].Type)
}

func TestNormalizeDropsUnusableElements(t *testing.T) {
	raw := `{"testCases":[{"title":"A"}, "junk", 3, {"foo": 1}, {"testSteps": "do it"}]}`

	result, report, err := Normalize(raw)
	require.NoError(t, err)
	require.Len(t, result.AllTestCases, 2)
	assert.Equal(t, "A", result.AllTestCases[0].Title)
	assert.Equal(t, "Untitled test case 2", result.AllTestCases[1].Title)
	assert.Equal(t, 3, report.Dropped)
}

func TestNormalizeEmptyArray(t *testing.T) {
	result, _, err := Normalize(`{"testCases": []}`)
	require.NoError(t, err)
	assert.Empty(t, result.AllTestCases)
	assert.Len(t, result.Categorized, len(Buckets))
}

func TestNormalizeFieldTotality(t *testing.T) {
	raw := `{"testCases":[
		{"type": null, "title": "A", "preconditions": 1, "testSteps": {"first": "open"}, "testData": [null, {"k": "v"}], "expectedResults": null},
		{"type": ["ui"], "title": {"en": "B"}, "preconditions": false, "testSteps": [1, 2], "testData": 0, "expectedResults": [[]]}
	]}`

	result, _, err := Normalize(raw)
	require.NoError(t, err)
	require.Len(t, result.AllTestCases, 2)
	for _, tc := range result.AllTestCases {
		assert.NotEmpty(t, tc.Type)
		assert.NotEmpty(t, tc.Title)
		assert.NotEmpty(t, tc.TestSteps)
	}
	assert.Equal(t, "en: B", result.AllTestCases[1].Title)
	assert.Equal(t, "• k: v", result.AllTestCases[0].TestData)
	assert.Equal(t, "1. first: open", result.AllTestCases[0].TestSteps)
}

func TestNormalizeCategorizationCoverage(t *testing.T) {
	raw := `{"testCases":[
		{"type":"e2e","title":"A","testSteps":"a"},
		{"type":"End-To-End","title":"B","testSteps":"b"},
		{"type":"Edge Case","title":"C","testSteps":"c"},
		{"type":"smoke","title":"D","testSteps":"d"},
		{"title":"E","testSteps":"e"}
	]}`

	result, _, err := Normalize(raw)
	require.NoError(t, err)

	total := 0
	for _, entries := range result.Categorized {
		total += len(entries)
	}
	assert.Equal(t, len(result.AllTestCases), total)
	assert.Len(t, result.Categorized["endToEnd"], 2)
	assert.Len(t, result.Categorized["edge"], 1)
	assert.Len(t, result.Categorized["functional"], 2)
}
