package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		ref      string
		expected string
	}{
		{
			name:     "simple name and reference",
			input:    "Patient Monitor",
			ref:      "PM-2000",
			expected: "patient-monitor-pm-2000",
		},
		{
			name:     "accents and symbols collapse to single hyphens",
			input:    "Moniteur  (multiparamétrique)!!",
			ref:      "MX/550",
			expected: "moniteur-multiparam-trique-mx-550",
		},
		{
			name:     "leading and trailing separators trimmed",
			input:    "  ---ECG Cart---  ",
			ref:      "--X1--",
			expected: "ecg-cart-x1",
		},
		{
			name:     "empty name still yields reference slug",
			input:    "",
			ref:      "REF9",
			expected: "ref9",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Slugify(tt.input, tt.ref))
		})
	}
}

func TestSlugifyCapsLength(t *testing.T) {
	slug := Slugify(strings.Repeat("surgical light ", 20), "SL-1")
	assert.LessOrEqual(t, len(slug), 80)
	assert.False(t, strings.HasSuffix(slug, "-"))
}

func TestSafeFilenamePart(t *testing.T) {
	assert.Equal(t, "PM-2000", SafeFilenamePart(" pm-2000 "))
	assert.Equal(t, "A-B_C", SafeFilenamePart("a/b_c"))
	assert.Equal(t, "X", SafeFilenamePart("../../x"))
}
