package pipeline

import (
	"slices"
	"strings"
)

func sortSpans(spans []span) {
	slices.SortFunc(spans, func(a, b span) int { return a.start - b.start })
}

// applySpans rebuilds doc replacing each span whose replacement is known.
// Text outside spans is copied unchanged. spans must be sorted and
// non-overlapping.
func applySpans(doc string, spans []span, replace func(span) (string, bool)) string {
	var b strings.Builder
	b.Grow(len(doc))
	last := 0
	for _, s := range spans {
		repl, ok := replace(s)
		if !ok {
			continue
		}
		b.WriteString(doc[last:s.start])
		b.WriteString(repl)
		last = s.end
	}
	b.WriteString(doc[last:])
	return b.String()
}
