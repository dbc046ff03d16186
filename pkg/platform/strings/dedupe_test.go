package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeAndTrim(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{"nil slice", nil, nil},
		{"empty slice", []string{}, []string{}},
		{"trims whitespace", []string{"  water  ", "food  "}, []string{"water", "food"}},
		{"removes duplicates preserving order", []string{"water", "food", "water"}, []string{"water", "food"}},
		{"removes empty strings", []string{"water", "", "  ", "food"}, []string{"water", "food"}},
		{"preserves case", []string{"Water", "water"}, []string{"Water", "water"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DedupeAndTrim(tt.input))
		})
	}
}

func TestDedupeAndTrimUpper(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{"nil slice", nil, nil},
		{"uppercases and dedupes", []string{"pending", "PENDING", " Pending "}, []string{"PENDING"}},
		{"keeps first-seen order", []string{"partial", "pending", "partial"}, []string{"PARTIAL", "PENDING"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DedupeAndTrimUpper(tt.input))
		})
	}
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, SplitList(""))
	assert.Nil(t, SplitList("   "))
	assert.Equal(t, []string{"PENDING", "PARTIAL"}, SplitList("pending, partial,,PENDING"))
	assert.Empty(t, SplitList(" , "))
}
