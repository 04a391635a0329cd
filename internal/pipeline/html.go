package pipeline

import (
	"context"
	"html"
	"regexp"
	"strings"
)

var htmlResourceRx = regexp.MustCompile(`(href|src)=["']([^"']+)["']`)

type htmlMatch struct {
	text string // the exact matched attribute text
	attr string
	ref  string
}

// ExtractHTML archives every href/src reference of a rendered page and
// returns the document with resolved references pointing into the archive.
// Rewriting is keyed by the exact matched text, so identical attributes
// anywhere in the document are rewritten together. The only error returned
// is the context's, when it ends before extraction completes.
func (r *Resolver) ExtractHTML(ctx context.Context, doc, pageURL string) (string, error) {
	var matches []htmlMatch
	var refs []string
	for _, m := range htmlResourceRx.FindAllStringSubmatch(doc, -1) {
		ref := html.UnescapeString(m[2])
		if Skippable(ref) {
			r.skip()
			continue
		}
		matches = append(matches, htmlMatch{text: m[0], attr: m[1], ref: ref})
		refs = append(refs, ref)
	}

	r.logf("Found %d resource references\n", len(matches))
	paths := r.resolveAll(ctx, unique(refs), pageURL, r.opts.Folder, 0)
	if err := ctx.Err(); err != nil {
		return "", err
	}

	done := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		if _, ok := done[m.text]; ok {
			continue
		}
		p, ok := paths[m.ref]
		if !ok {
			continue
		}
		done[m.text] = struct{}{}
		doc = strings.ReplaceAll(doc, m.text, m.attr+`="`+RelativeRef("", html.EscapeString(p))+`"`)
	}
	return doc, nil
}
