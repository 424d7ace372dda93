package fragments

import (
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"git.home.luguber.info/inful/i3configger/internal/config"
)

// OrderKey derives the sort key for a fragment file name.
func OrderKey(name string) string {
	return norm.NFC.String(name)
}

// Sort orders fragments by OrderKey using mode, breaking ties by the raw file name.
func Sort(frags []Fragment, mode config.OrderMode) {
	cmp := compareLexical
	if mode == config.OrderNatural {
		cmp = compareNatural
	}
	sort.SliceStable(frags, func(i, j int) bool {
		if c := cmp(frags[i].OrderKey, frags[j].OrderKey); c != 0 {
			return c < 0
		}
		return frags[i].Name < frags[j].Name
	})
}

func compareLexical(a, b string) int {
	return strings.Compare(a, b)
}

// compareNatural compares digit runs by numeric value and everything else bytewise,
// so "2-x" sorts before "10-x". Equal numeric runs with different zero padding fall
// back to a bytewise comparison of the whole key.
func compareNatural(a, b string) int {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		ca, cb := a[i], b[j]
		if isDigit(ca) && isDigit(cb) {
			si := i
			for i < len(a) && isDigit(a[i]) {
				i++
			}
			sj := j
			for j < len(b) && isDigit(b[j]) {
				j++
			}
			if c := compareNumeric(a[si:i], b[sj:j]); c != 0 {
				return c
			}
			continue
		}
		if ca != cb {
			if ca < cb {
				return -1
			}
			return 1
		}
		i++
		j++
	}
	switch {
	case len(a)-i < len(b)-j:
		return -1
	case len(a)-i > len(b)-j:
		return 1
	}
	return strings.Compare(a, b)
}

func compareNumeric(a, b string) int {
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

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
