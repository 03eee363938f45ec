package fuzzy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "quarterly report", Normalize("  Quarterly   REPORT "))
	assert.Equal(t, "bao cao tai chinh", Normalize("Báo cáo Tài chính"))
	assert.Equal(t, "", Normalize("   "))
}

func TestLevenshteinDistance(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"", "abc", 3},
		{"abc", "", 3},
		{"kitten", "sitting", 3},
		{"invoice", "invoice", 0},
		{"invoce", "invoice", 1},
		{"héllo", "hallo", 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LevenshteinDistance(tt.a, tt.b), "%q vs %q", tt.a, tt.b)
	}
}

func TestTolerance(t *testing.T) {
	assert.Equal(t, 0, Tolerance("abc"))
	assert.Equal(t, 1, Tolerance("abcde"))
	assert.Equal(t, 2, Tolerance("abcdefg"))
	assert.Equal(t, 3, Tolerance("abcdefghij"))
}

func TestMatch(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		candidate string
		want      bool
	}{
		{name: "substring", query: "report", candidate: "Quarterly Report 2024", want: true},
		{name: "typo in word", query: "invoce", candidate: "unpaid invoice march", want: true},
		{name: "typo in prefix", query: "meetng", candidate: "meeting notes", want: true},
		{name: "accent folded", query: "bao cao", candidate: "Báo cáo tuần", want: true},
		{name: "short query needs exact", query: "abx", candidate: "abc", want: false},
		{name: "unrelated", query: "holiday", candidate: "invoice", want: false},
		{name: "empty query", query: "  ", candidate: "anything", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Match(tt.query, tt.candidate))
		})
	}
}
