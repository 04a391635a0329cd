package pipeline

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFileName(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	tests := []struct {
		url      string
		expected string
	}{
		{"https://example.com/static/app.css?v=3", "app.css"},
		{"https://example.com/fonts/My%20Font.woff2", "My Font.woff2"},
		{"https://example.com/img/logo", "logo.bin"},
		{"https://example.com/", "file_1700000000123.bin"},
		{"https://example.com", "file_1700000000123.bin"},
		{"https://example.com/a%2Fb.png", "a_b.png"},
		{"https://example.com/100%25.png", "100_.png"},
		{"https://example.com/q%3Fx.js", "q_x.js"},
	}

	for _, test := range tests {
		t.Run(test.url, func(t *testing.T) {
			u, err := url.Parse(test.url)
			require.NoError(t, err)
			require.Equal(t, test.expected, FileName(u, now))
		})
	}
}

func TestLogical(t *testing.T) {
	base := "https://example.com/blog/post.html"
	tests := []struct {
		ref      string
		key      string
		fragment string
	}{
		{"img/a.png", "https://example.com/blog/img/a.png", ""},
		{"/css/site.css", "https://example.com/css/site.css", ""},
		{"//cdn.example.net/lib.js", "https://cdn.example.net/lib.js", ""},
		{"../up.png?x=1", "https://example.com/up.png?x=1", ""},
		{"sprite.svg#icon", "https://example.com/blog/sprite.svg", "#icon"},
		{" spaced.png ", "https://example.com/blog/spaced.png", ""},
	}

	for _, test := range tests {
		t.Run(test.ref, func(t *testing.T) {
			assert := require.New(t)
			u, fragment, err := Logical(test.ref, base)
			assert.NoError(err)
			assert.Equal(test.key, u.String())
			assert.Equal(test.fragment, fragment)
		})
	}

	t.Run("unsupported scheme", func(t *testing.T) {
		_, _, err := Logical("mailto:someone@example.com", base)
		require.ErrorIs(t, err, ErrUnsupportedScheme)
	})
}

func TestSkippable(t *testing.T) {
	assert := require.New(t)
	assert.True(Skippable("data:image/png;base64,AAAA"))
	assert.True(Skippable("javascript:void(0)"))
	assert.True(Skippable("#top"))
	assert.False(Skippable("style.css"))
	assert.False(Skippable("https://example.com/#top"))
}

func TestRelativeRef(t *testing.T) {
	assert := require.New(t)
	assert.Equal("./assets/a.png", RelativeRef("", "assets/a.png"))
	assert.Equal("../assets/a.png", RelativeRef("assets", "assets/a.png"))
	assert.Equal("../../assets/a.png", RelativeRef("assets/css", "assets/a.png"))
}

func TestClassify(t *testing.T) {
	assert := require.New(t)
	assert.Equal(KindCSS, Classify("text/css; charset=utf-8", "a.bin"))
	assert.Equal(KindJS, Classify("application/javascript", "a.bin"))
	assert.Equal(KindJS, Classify("text/javascript", "a.bin"))
	assert.Equal(KindJS, Classify("", "bundle.js"))
	assert.Equal(KindBinary, Classify("", "style.css"))
	assert.Equal(KindBinary, Classify("image/png", "a.png"))
}
