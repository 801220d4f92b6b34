package tally

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

var (
	// ErrBadSelector is returned for selector text that matches no known form.
	ErrBadSelector = errors.New(`invalid selector, use "3", "2-5", "1,3,4" or "all"`)
	// ErrSelectorOutOfRange is returned when a selector names a position
	// outside the pending list.
	ErrSelectorOutOfRange = errors.New("selector out of range")
)

// ParseSelector resolves a clear-selector against a list of n items and
// returns the chosen zero-based indexes, sorted and deduplicated. Supported
// forms: a single 1-based index, an inclusive range "a-b", a comma-separated
// set (items may themselves be ranges) and the "all"/"*" wildcard.
func ParseSelector(text string, n int) ([]int, error) {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return nil, ErrBadSelector
	}

	if text == "all" || text == "*" {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = i
		}
		return idx, nil
	}

	picked := map[int]bool{}
	for _, part := range strings.Split(text, ",") {
		part = strings.TrimSpace(part)

		from, to, ok := parsePart(part)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrBadSelector, part)
		}
		if from < 1 || to > n || from > to {
			return nil, fmt.Errorf("%w: %q with %d pending records", ErrSelectorOutOfRange, part, n)
		}

		for i := from; i <= to; i++ {
			picked[i-1] = true
		}
	}

	idx := make([]int, 0, len(picked))
	for i := range picked {
		idx = append(idx, i)
	}
	sort.Ints(idx)

	return idx, nil
}

func parsePart(part string) (from, to int, ok bool) {
	if a, b, found := strings.Cut(part, "-"); found {
		from, err1 := strconv.Atoi(strings.TrimSpace(a))
		to, err2 := strconv.Atoi(strings.TrimSpace(b))
		if err1 != nil || err2 != nil {
			return 0, 0, false
		}
		return from, to, true
	}

	i, err := strconv.Atoi(part)
	if err != nil {
		return 0, 0, false
	}

	return i, i, true
}
