package pipeline

import (
	"strings"
	"unicode"

	"screentest-backend/internal/model"
)

// Buckets are the categories of the legacy grouped view, in display order.
var Buckets = []string{
	"functional",
	"endToEnd",
	"integration",
	"ui",
	"security",
	"edge",
	"negative",
	"performance",
	"accessibility",
	"usability",
}

// bucketAliases maps a normalized type name to its bucket.
var bucketAliases = map[string]string{
	"functional":    "functional",
	"function":      "functional",
	"endtoend":      "endToEnd",
	"e2e":           "endToEnd",
	"integration":   "integration",
	"ui":            "ui",
	"uiux":          "ui",
	"userinterface": "ui",
	"visual":        "ui",
	"security":      "security",
	"edge":          "edge",
	"edgecase":      "edge",
	"edgecases":     "edge",
	"boundary":      "edge",
	"negative":      "negative",
	"performance":   "performance",
	"accessibility": "accessibility",
	"a11y":          "accessibility",
	"usability":     "usability",
}

// BucketFor returns the bucket a declared type files under: the type is lower-cased and
// stripped of hyphens, underscores and whitespace, and unknown types fall back to
// functional.
func BucketFor(declared string) string {
	key := strings.Map(func(r rune) rune {
		if r == '-' || r == '_' || unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToLower(r)
	}, declared)
	if bucket, ok := bucketAliases[key]; ok {
		return bucket
	}
	return "functional"
}

// Categorize builds the grouped "title: testSteps" view. Every known bucket is present,
// possibly empty, and every case appears in exactly one bucket.
func Categorize(cases []model.TestCase) map[string][]string {
	out := make(map[string][]string, len(Buckets))
	for _, b := range Buckets {
		out[b] = []string{}
	}
	for _, tc := range cases {
		bucket := BucketFor(tc.Type)
		out[bucket] = append(out[bucket], tc.Title+": "+tc.TestSteps)
	}
	return out
}
