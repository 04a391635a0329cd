package pipeline

import (
	"context"
	"regexp"
	"strings"
)

var (
	cssImportRx = regexp.MustCompile(`@import\s+(?:url\()?['"]?([^'")]+)['"]?\)?;`)
	// Go regexps have no backreferences: the closing quote is captured
	// separately and compared to the opening one.
	cssURLRx = regexp.MustCompile(`url\((['"]?)([^'")]+)(['"]?)\)`)
)

// span is a matched construct to be replaced in a document.
type span struct {
	start, end int
	ref        string
	render     func(rel string) string
}

// RewriteCSS rewrites @import and url() references in css. Imports are
// matched first; url() matches inside an import are left to it. Each
// resolved reference becomes a quoted path relative to folder, where the
// stylesheet itself is stored. File names never contain quotes or
// backslashes, so the quoted form is always valid.
func (r *Resolver) RewriteCSS(ctx context.Context, css, base, folder string, depth int) string {
	spans := cssSpans(css)
	if len(spans) == 0 {
		return css
	}

	refs := make([]string, len(spans))
	for i, s := range spans {
		refs[i] = s.ref
	}
	paths := r.resolveAll(ctx, unique(refs), base, folder, depth)

	return applySpans(css, spans, func(s span) (string, bool) {
		p, ok := paths[s.ref]
		if !ok {
			return "", false
		}
		return s.render(RelativeRef(folder, p)), true
	})
}

func cssSpans(css string) []span {
	var spans []span
	for _, m := range cssImportRx.FindAllStringSubmatchIndex(css, -1) {
		ref := strings.TrimSpace(css[m[2]:m[3]])
		if ref == "" || strings.HasPrefix(ref, "data:") {
			continue
		}
		spans = append(spans, span{
			start:  m[0],
			end:    m[1],
			ref:    ref,
			render: func(rel string) string { return `@import url("` + rel + `");` },
		})
	}
	imports := len(spans)

	for _, m := range cssURLRx.FindAllStringSubmatchIndex(css, -1) {
		if css[m[2]:m[3]] != css[m[6]:m[7]] {
			continue
		}
		if overlaps(spans[:imports], m[0], m[1]) {
			continue
		}
		ref := strings.TrimSpace(css[m[4]:m[5]])
		if ref == "" || strings.HasPrefix(ref, "data:") {
			continue
		}
		spans = append(spans, span{
			start:  m[0],
			end:    m[1],
			ref:    ref,
			render: func(rel string) string { return `url("` + rel + `")` },
		})
	}

	sortSpans(spans)
	return spans
}

func overlaps(spans []span, start, end int) bool {
	for _, s := range spans {
		if start < s.end && end > s.start {
			return true
		}
	}
	return false
}
