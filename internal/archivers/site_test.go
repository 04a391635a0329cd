package archivers

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sitegrab/internal/pipeline"
	"sitegrab/internal/proxy"
	"sitegrab/internal/storage"
)

type fakeRenderer struct {
	html  string
	err   error
	calls atomic.Int32
	sess  *proxy.Session
}

func (f *fakeRenderer) Engine() string { return "fake" }

func (f *fakeRenderer) Render(ctx context.Context, pageURL string, sess *proxy.Session, logWriter io.Writer) (string, error) {
	f.calls.Add(1)
	f.sess = sess
	return f.html, f.err
}

func assetServer(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/style.css", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/css")
		io.WriteString(w, `body { background: url("img/bg.png"); }`)
	})
	mux.HandleFunc("/img/bg.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte{0x89, 'P', 'N', 'G'})
	})
	mux.HandleFunc("/app.js", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/javascript")
		io.WriteString(w, `load("http://`+r.Host+`/img/bg.png");`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func readZip(t *testing.T, st *storage.MemoryStorage, key string) map[string]string {
	t.Helper()
	r, err := st.Reader(key)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	files := map[string]string{}
	for _, f := range zr.File {
		require.Equal(t, zip.Deflate, f.Method)
		rc, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		files[f.Name] = string(b)
	}
	return files
}

func TestParseSite(t *testing.T) {
	assert := require.New(t)
	srv := assetServer(t)

	r := &fakeRenderer{html: `<html><head><link href="/style.css" rel="stylesheet"></head>` +
		`<body><img src="/missing.png"><script src="/app.js"></script><a href="#top">top</a></body></html>`}
	a := NewSiteArchiver(r, Options{Resolve: pipeline.Options{UniqueNames: true}}, nil)

	st := storage.NewMemoryStorage()
	var logs bytes.Buffer
	res, err := a.ParseSite(context.Background(), Request{URL: srv.URL + "/"}, st, "site_1.zip", &logs)
	assert.NoError(err)
	assert.Equal("site_1.zip", res.Key)
	assert.EqualValues(3, res.Stats.Resolved)
	assert.EqualValues(1, res.Stats.Failed)
	assert.Equal(4, res.Files)
	assert.False(r.sess.Enabled())

	files := readZip(t, st, "site_1.zip")
	index := files["index.html"]
	assert.Contains(index, `href="./assets/style.css"`)
	assert.Contains(index, `src="./assets/app.js"`)
	assert.Contains(index, `src="/missing.png"`)
	assert.Contains(index, `href="#top"`)
	assert.Equal(`body { background: url("../assets/bg.png"); }`, files["assets/style.css"])
	assert.Equal(`load("./assets/bg.png");`, files["assets/app.js"])
	assert.Equal("\x89PNG", files["assets/bg.png"])
	assert.Contains(logs.String(), "Archive complete")
}

func TestParseSitePublicOnlyKeepsPrivateAssetsOut(t *testing.T) {
	assert := require.New(t)
	srv := assetServer(t)

	ref := srv.URL + "/img/bg.png"
	r := &fakeRenderer{html: `<img src="` + ref + `">`}
	a := NewSiteArchiver(r, Options{PublicOnly: true}, nil)

	st := storage.NewMemoryStorage()
	res, err := a.ParseSite(context.Background(), Request{URL: "https://public.example/"}, st, "k.zip", nil)
	assert.NoError(err)
	assert.EqualValues(0, res.Stats.Resolved)
	assert.EqualValues(1, res.Stats.Failed)

	files := readZip(t, st, "k.zip")
	assert.Len(files, 1)
	assert.Equal(`<img src="`+ref+`">`, files["index.html"])
}

func TestParseSiteRenderFailure(t *testing.T) {
	assert := require.New(t)

	r := &fakeRenderer{err: errors.New("navigation failed")}
	a := NewSiteArchiver(r, Options{}, nil)
	st := storage.NewMemoryStorage()

	_, err := a.ParseSite(context.Background(), Request{URL: "http://example.test/"}, st, "k.zip", nil)
	assert.ErrorContains(err, "navigation failed")
	assert.Empty(st.Keys())
}

func TestParseSiteRejectsProxyType(t *testing.T) {
	assert := require.New(t)

	r := &fakeRenderer{}
	a := NewSiteArchiver(r, Options{}, nil)
	_, err := a.ParseSite(context.Background(), Request{
		URL:   "http://example.test/",
		Proxy: proxy.Options{Type: "ftp", Host: "h", Port: "1"},
	}, storage.NewMemoryStorage(), "k.zip", nil)
	assert.ErrorIs(err, proxy.ErrUnsupportedType)
	assert.Zero(r.calls.Load())
}

func TestTempArtifactKey(t *testing.T) {
	a := TempArtifactKey(time.UnixMilli(1700000000123))
	b := TempArtifactKey(time.UnixMilli(1700000000123))
	require.Regexp(t, `^site_1700000000123_[0-9a-f-]{36}\.zip$`, a)
	require.NotEqual(t, a, b)
}

func TestNewRenderer(t *testing.T) {
	assert := require.New(t)

	r, err := NewRenderer("", RenderOptions{})
	assert.NoError(err)
	assert.Equal(EnginePlaywright, r.Engine())

	r, err = NewRenderer("ROD", RenderOptions{})
	assert.NoError(err)
	assert.Equal(EngineRod, r.Engine())

	_, err = NewRenderer("webkit", RenderOptions{})
	assert.Error(err)
}

func TestRenderOptionsDefaults(t *testing.T) {
	assert := require.New(t)

	o := RenderOptions{}
	o.normalize()
	assert.True(strings.Contains(o.UserAgent, "Chrome/136.0.0.0"))
	assert.Equal("1", o.headers()["Upgrade-Insecure-Requests"])
	assert.Equal(DefaultAcceptLanguage, o.headers()["Accept-Language"])
}

func TestGraceWaitCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, graceWait(ctx, time.Hour), context.Canceled)
}
