package dataset

import (
	"path/filepath"
	"sort"
	"strings"
)

// naturalKey splits a name into alternating text and number chunks. The
// first chunk is always text, possibly empty, so chunks at the same index
// of two keys are always of the same kind.
type naturalKey []string

func newNaturalKey(name string) naturalKey {
	var key naturalKey
	var chunk strings.Builder
	inNumber := false
	for _, r := range name {
		if isDigit := r >= '0' && r <= '9'; isDigit != inNumber {
			key = append(key, chunk.String())
			chunk.Reset()
			inNumber = isDigit
		}
		chunk.WriteRune(r)
	}
	return append(key, chunk.String())
}

// compare returns -1, 0 or 1. Text chunks compare case-insensitively, and
// number chunks compare by value.
func (key naturalKey) compare(other naturalKey) int {
	for i := 0; i < len(key) && i < len(other); i++ {
		var c int
		if i%2 == 0 {
			c = strings.Compare(strings.ToLower(key[i]), strings.ToLower(other[i]))
		} else {
			c = compareNumbers(key[i], other[i])
		}
		if c != 0 {
			return c
		}
	}

	switch {
	case len(key) < len(other):
		return -1
	case len(key) > len(other):
		return 1
	}
	return 0
}

// compareNumbers compares two strings of digits by value, without
// overflowing on long runs.
func compareNumbers(a, b string) int {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}

// naturalLess orders names naturally. Names with equal keys, such as
// `FD1.dat` and `fd1.dat`, fall back to byte order so that the result
// doesn't depend on the input order.
func naturalLess(a, b string) bool {
	if c := newNaturalKey(a).compare(newNaturalKey(b)); c != 0 {
		return c < 0
	}
	return a < b
}

// sortFiles sorts names naturally, then groups them by extension. The
// second sort is stable, so names stay in natural order within a group.
func sortFiles(names []string) {
	sort.Slice(names, func(i, j int) bool {
		return naturalLess(names[i], names[j])
	})
	sort.SliceStable(names, func(i, j int) bool {
		return filepath.Ext(names[i]) < filepath.Ext(names[j])
	})
}

// groupByExtension maps each extension, including the dot, to the names
// with that extension in the order they appear in `names`.
func groupByExtension(names []string) map[string][]string {
	groups := map[string][]string{}
	for _, name := range names {
		ext := filepath.Ext(name)
		groups[ext] = append(groups[ext], name)
	}
	return groups
}
