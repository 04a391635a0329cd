package pipeline

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"
)

func TestFetcherTimeout(t *testing.T) {
	mt := httpmock.NewMockTransport()
	mt.RegisterResponder(http.MethodGet, "https://example.com/slow.png",
		func(req *http.Request) (*http.Response, error) {
			select {
			case <-req.Context().Done():
				return nil, req.Context().Err()
			case <-time.After(time.Second):
				return httpmock.NewStringResponse(http.StatusOK, "late"), nil
			}
		})

	f := NewFetcher(&http.Client{Transport: mt}, FetcherOptions{Timeout: 20 * time.Millisecond})
	_, err := f.Fetch(context.Background(), "https://example.com/slow.png")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFetcherHeadersAndStatus(t *testing.T) {
	assert := require.New(t)
	mt := httpmock.NewMockTransport()
	mt.RegisterResponder(http.MethodGet, "https://example.com/a.css",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal("ua", req.Header.Get("User-Agent"))
			assert.Equal("en", req.Header.Get("Accept-Language"))
			resp := httpmock.NewStringResponse(http.StatusOK, "body{}")
			resp.Header.Set("Content-Type", "text/css")
			return resp, nil
		})
	mt.RegisterResponder(http.MethodGet, "https://example.com/gone.png",
		httpmock.NewStringResponder(http.StatusGone, ""))

	f := NewFetcher(&http.Client{Transport: mt}, FetcherOptions{UserAgent: "ua", AcceptLanguage: "en"})
	res, err := f.Fetch(context.Background(), "https://example.com/a.css")
	assert.NoError(err)
	assert.Equal("text/css", res.ContentType)
	assert.Equal(KindCSS, Classify(res.ContentType, "a.css"))

	_, err = f.Fetch(context.Background(), "https://example.com/gone.png")
	var se *StatusError
	assert.ErrorAs(err, &se)
	assert.Equal(http.StatusGone, se.Code)
}
