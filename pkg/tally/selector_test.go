package tally

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSelector(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want []int
	}{
		{"3", 5, []int{2}},
		{"2-3", 5, []int{1, 2}},
		{"1,3,4", 5, []int{0, 2, 3}},
		{"1, 3-5", 5, []int{0, 2, 3, 4}},
		{"2,2,2", 5, []int{1}},
		{"all", 3, []int{0, 1, 2}},
		{"*", 2, []int{0, 1}},
		{"ALL", 2, []int{0, 1}},
	}

	for _, tt := range tests {
		got, err := ParseSelector(tt.in, tt.n)
		require.NoError(t, err, "selector %q", tt.in)
		assert.Equal(t, tt.want, got, "selector %q", tt.in)
	}
}

func TestParseSelectorErrors(t *testing.T) {
	syntax := []string{"", "abc", "1-2-3", "one", "1;2", "-3"}
	for _, in := range syntax {
		_, err := ParseSelector(in, 5)
		assert.ErrorIs(t, err, ErrBadSelector, "selector %q", in)
	}

	outOfRange := []string{"0", "6", "4-9", "1,6", "3-2"}
	for _, in := range outOfRange {
		_, err := ParseSelector(in, 5)
		assert.ErrorIs(t, err, ErrSelectorOutOfRange, "selector %q", in)
	}
}
