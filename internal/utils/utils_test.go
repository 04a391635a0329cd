package utils

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"sitegrab/internal/models"
)

type fakeResolver map[string][]string

func (f fakeResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	ips, ok := f[host]
	if !ok {
		return nil, errors.New("no such host")
	}
	var out []net.IPAddr
	for _, ip := range ips {
		out = append(out, net.IPAddr{IP: net.ParseIP(ip)})
	}
	return out, nil
}

func TestParseRequestValidate(t *testing.T) {
	for name, tc := range map[string]struct {
		req ParseRequest
		err string
	}{
		"missing url":   {ParseRequest{}, "url is required"},
		"plain":         {ParseRequest{URL: "https://example.com"}, ""},
		"socks proxy":   {ParseRequest{URL: "https://example.com", ProxyType: "SOCKS5", ProxyHost: "proxy.example.com", ProxyPort: "1080"}, ""},
		"bad type":      {ParseRequest{URL: "https://example.com", ProxyType: "socks4"}, "ProxyType"},
		"bad port":      {ParseRequest{URL: "https://example.com", ProxyPort: "70000"}, "ProxyPort"},
		"port not int":  {ParseRequest{URL: "https://example.com", ProxyPort: "http"}, "ProxyPort"},
		"bad host":      {ParseRequest{URL: "https://example.com", ProxyHost: "bad host!"}, "ProxyHost"},
		"ip proxy host": {ParseRequest{URL: "https://example.com", ProxyHost: "10.1.2.3", ProxyPort: "3128"}, ""},
	} {
		t.Run(name, func(t *testing.T) {
			req := tc.req
			req.Normalize()
			err := req.Validate()
			if tc.err == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tc.err)
		})
	}
}

func TestParseRequestMissingURLSentinel(t *testing.T) {
	req := ParseRequest{URL: "   "}
	req.Normalize()
	require.ErrorIs(t, req.Validate(), ErrURLRequired)
}

func TestTargetGuard(t *testing.T) {
	g := &TargetGuard{Resolver: fakeResolver{
		"example.com":   {"93.184.215.14"},
		"internal.corp": {"10.0.0.7"},
		"mixed.example": {"93.184.215.14", "fd00::1"},
	}}
	ctx := context.Background()

	u, err := g.Check(ctx, "example.com/page")
	require.NoError(t, err)
	require.Equal(t, "https://example.com/page", u.String())

	for _, target := range []string{
		"http://localhost:8080/",
		"http://127.0.0.1/",
		"http://[::1]/",
		"http://169.254.169.254/latest/meta-data",
		"http://internal.corp/",
		"http://mixed.example/",
		"http://0.0.0.0/",
	} {
		_, err := g.Check(ctx, target)
		require.ErrorIs(t, err, ErrForbiddenTarget, target)
	}

	for _, target := range []string{"ftp://example.com/", "http:///nohost", "http://unknown.example/"} {
		_, err := g.Check(ctx, target)
		require.ErrorIs(t, err, ErrInvalidURL, target)
	}

	g.AllowPrivate = true
	_, err = g.Check(ctx, "http://127.0.0.1:3000/")
	require.NoError(t, err)
}

func TestNewLogger(t *testing.T) {
	assert := require.New(t)

	var buf bytes.Buffer
	l, err := NewLogger(&buf, "json", "debug")
	assert.NoError(err)
	l.Debug("hello", "k", "v")
	assert.Contains(buf.String(), `"msg":"hello"`)

	buf.Reset()
	l, err = NewLogger(&buf, "console", "warn")
	assert.NoError(err)
	l.Info("hidden")
	l.Warn("shown")
	assert.NotContains(buf.String(), "hidden")
	assert.Contains(buf.String(), "shown")

	_, err = NewLogger(&buf, "xml", "info")
	assert.Error(err)
	_, err = NewLogger(&buf, "text", "loud")
	assert.Error(err)
}

func TestDBLogWriter(t *testing.T) {
	assert := require.New(t)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	assert.NoError(err)
	sqlDB, err := db.DB()
	assert.NoError(err)
	sqlDB.SetMaxOpenConns(1)
	assert.NoError(models.Migrate(db))

	c := models.Capture{URL: "https://example.com", Status: models.StatusProcessing}
	assert.NoError(db.Create(&c).Error)
	assert.NotEqual(uuid.Nil, c.ID)

	w := NewDBLogWriter(db, c.ID)
	w.Write([]byte("line one\n"))
	w.Write([]byte("line two\n"))

	var got models.Capture
	assert.NoError(db.First(&got, "id = ?", c.ID).Error)
	assert.Equal("line one\nline two\n", got.Logs)
	assert.Equal(got.Logs, w.String())
}
