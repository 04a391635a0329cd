package pipeline

import (
	"context"
	"regexp"
)

// jsURLRx matches quoted absolute URLs ending in a known asset extension.
// The extension list is part of the archive's observable behavior.
var jsURLRx = regexp.MustCompile(`(['"])(https?://[^'"]+\.(?:png|jpe?g|gif|svg|woff2?|ttf|eot|js|css))(['"])`)

// RewriteJS rewrites string literals holding absolute asset URLs. Scripts
// resolve such URLs against the document, so the replacement is relative to
// the archive root. URLs built at run time are never touched.
func (r *Resolver) RewriteJS(ctx context.Context, js, base, folder string, depth int) string {
	var spans []span
	for _, m := range jsURLRx.FindAllStringSubmatchIndex(js, -1) {
		quote := js[m[2]:m[3]]
		if quote != js[m[6]:m[7]] {
			continue
		}
		spans = append(spans, span{
			start:  m[0],
			end:    m[1],
			ref:    js[m[4]:m[5]],
			render: func(rel string) string { return quote + rel + quote },
		})
	}
	if len(spans) == 0 {
		return js
	}

	refs := make([]string, len(spans))
	for i, s := range spans {
		refs[i] = s.ref
	}
	paths := r.resolveAll(ctx, unique(refs), base, folder, depth)

	return applySpans(js, spans, func(s span) (string, bool) {
		p, ok := paths[s.ref]
		if !ok {
			return "", false
		}
		return s.render(RelativeRef("", p)), true
	})
}
