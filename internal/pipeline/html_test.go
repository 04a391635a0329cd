package pipeline

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"
)

const testPage = `<html><head>
<link href="style.css" rel="stylesheet">
<script src="https://cdn.example.net/app.js"></script>
</head><body>
<img src="logo.png"><img src='logo.png'><img data-src="logo.png">
<a href="#top">top</a>
<img src="data:image/png;base64,AAAA">
<a href="javascript:void(0)">noop</a>
<img src="missing.png"><img src="missing.png">
<a href="page?a=1&amp;b=2">next</a>
</body></html>`

func TestExtractHTML(t *testing.T) {
	assert := require.New(t)
	r, mt, sink := newTestResolver(t, Options{})

	serve(mt, "https://example.com/style.css", "text/css", "body{background:url(bg.jpg)}")
	serve(mt, "https://example.com/bg.jpg", "image/jpeg", "jpeg")
	serve(mt, "https://example.com/logo.png", "image/png", "logo")
	serve(mt, "https://cdn.example.net/app.js", "text/plain", `var i="https://cdn.example.net/i.png";`)
	serve(mt, "https://cdn.example.net/i.png", "image/png", "i")
	serve(mt, "https://example.com/page?a=1&b=2", "text/html", "<html></html>")
	mt.RegisterResponder(http.MethodGet, "https://example.com/missing.png",
		httpmock.NewStringResponder(http.StatusNotFound, ""))

	out, err := r.ExtractHTML(context.Background(), testPage, "https://example.com/index.html")
	assert.NoError(err)

	assert.Contains(out, `<link href="./assets/style.css" rel="stylesheet">`)
	assert.Contains(out, `<script src="./assets/app.js"></script>`)
	assert.Contains(out, `<img src="./assets/logo.png"><img src="./assets/logo.png"><img data-src="./assets/logo.png">`)
	assert.Contains(out, `<a href="./assets/page.bin">next</a>`)

	// skip set and failures are byte-for-byte preserved
	assert.Contains(out, `<a href="#top">top</a>`)
	assert.Contains(out, `<img src="data:image/png;base64,AAAA">`)
	assert.Contains(out, `<a href="javascript:void(0)">noop</a>`)
	assert.Contains(out, `<img src="missing.png"><img src="missing.png">`)

	assert.Equal(1, calls(mt, "https://example.com/logo.png"))
	assert.Equal(1, calls(mt, "https://example.com/missing.png"))

	css, _ := sink.get("assets/style.css")
	assert.Equal("body{background:url(\"../assets/bg.jpg\")}", css)
	js, _ := sink.get("assets/app.js")
	assert.Equal(`var i="./assets/i.png";`, js)

	stats := r.Stats()
	assert.Equal(int64(6), stats.Resolved)
	assert.Equal(int64(1), stats.Failed)
}

func TestExtractHTMLFetchesSharedAssetsOnce(t *testing.T) {
	assert := require.New(t)
	r, mt, sink := newTestResolver(t, Options{})

	serve(mt, "https://example.com/a.css", "text/css", "@font-face{src:url(font.woff2)}")
	serve(mt, "https://example.com/b.css", "text/css", "@font-face{src:url('/font.woff2')}")
	serve(mt, "https://example.com/c.css", "text/css", "@font-face{src:url(\"https://example.com/font.woff2\")}")
	mt.RegisterResponder(http.MethodGet, "https://example.com/font.woff2",
		func(req *http.Request) (*http.Response, error) {
			time.Sleep(20 * time.Millisecond)
			return httpmock.NewStringResponse(http.StatusOK, "woff"), nil
		})

	page := `<link href="a.css"><link href="b.css"><link href="c.css"><link href="/a.css">`
	out, err := r.ExtractHTML(context.Background(), page, "https://example.com/")
	assert.NoError(err)
	assert.Equal(`<link href="./assets/a.css"><link href="./assets/b.css"><link href="./assets/c.css"><link href="./assets/a.css">`, out)

	assert.Equal(1, calls(mt, "https://example.com/font.woff2"))
	assert.Equal(1, calls(mt, "https://example.com/a.css"))
	for _, name := range []string{"assets/a.css", "assets/b.css", "assets/c.css"} {
		css, ok := sink.get(name)
		assert.True(ok)
		assert.True(strings.Contains(css, "url(\"../assets/font.woff2\")"), css)
	}
}

func TestExtractHTMLCancelled(t *testing.T) {
	r, _, _ := newTestResolver(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.ExtractHTML(ctx, `<img src="a.png">`, "https://example.com/")
	require.ErrorIs(t, err, context.Canceled)
}

func TestExtractHTMLCollisionsFollowDocumentOrder(t *testing.T) {
	assert := require.New(t)
	r, mt, _ := newTestResolver(t, Options{UniqueNames: true})

	mt.RegisterResponder(http.MethodGet, "https://a.com/logo.png",
		func(req *http.Request) (*http.Response, error) {
			time.Sleep(50 * time.Millisecond)
			return httpmock.NewStringResponse(http.StatusOK, "a"), nil
		})
	serve(mt, "https://b.com/logo.png", "image/png", "b")

	out, err := r.ExtractHTML(context.Background(),
		`<img src="https://a.com/logo.png"><img src="https://b.com/logo.png">`, "https://example.com/")
	assert.NoError(err)
	assert.Regexp(`^<img src="\./assets/logo\.png"><img src="\./assets/logo-[0-9a-f]{8}\.png">$`, out)
}

func TestExtractHTMLSharedAssetReferencedByStylesheetFirst(t *testing.T) {
	assert := require.New(t)
	r, mt, sink := newTestResolver(t, Options{})

	serve(mt, "https://example.com/style.css", "text/css", "body{background:url(bg.png)}")
	serve(mt, "https://example.com/bg.png", "image/png", "png")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := r.ExtractHTML(ctx, `<link href="style.css"><img src="bg.png">`, "https://example.com/")
	assert.NoError(err)
	assert.Equal(`<link href="./assets/style.css"><img src="./assets/bg.png">`, out)
	assert.Equal(1, calls(mt, "https://example.com/bg.png"))

	css, _ := sink.get("assets/style.css")
	assert.Equal(`body{background:url("../assets/bg.png")}`, css)
	assert.Equal(int64(0), r.Stats().Skipped)
}

func TestExtractHTMLCountsSkippedReferences(t *testing.T) {
	r, _, _ := newTestResolver(t, Options{})
	_, err := r.ExtractHTML(context.Background(),
		`<a href="#top"></a><img src="data:image/gif;base64,R0"><a href="javascript:void(0)"></a>`, "https://example.com/")
	require.NoError(t, err)
	require.Equal(t, int64(3), r.Stats().Skipped)
}
