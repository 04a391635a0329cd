package pipeline

import (
	"net/http"
	"sync"
	"testing"

	"github.com/jarcoal/httpmock"
)

type memSink struct {
	mu    sync.Mutex
	files map[string][]byte
}

func (s *memSink) Add(name string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[name] = data
}

func (s *memSink) get(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[name]
	return string(data), ok
}

func newTestResolver(t *testing.T, opts Options) (*Resolver, *httpmock.MockTransport, *memSink) {
	t.Helper()
	mt := httpmock.NewMockTransport()
	client := &http.Client{Transport: mt}
	sink := &memSink{files: map[string][]byte{}}
	r := NewResolver(NewFetcher(client, FetcherOptions{UserAgent: "sitegrab-test"}), sink, opts)
	return r, mt, sink
}

func serve(mt *httpmock.MockTransport, url, contentType, body string) {
	mt.RegisterResponder(http.MethodGet, url,
		httpmock.NewStringResponder(http.StatusOK, body).HeaderSet(http.Header{
			"Content-Type": {contentType},
		}))
}

func calls(mt *httpmock.MockTransport, url string) int {
	return mt.GetCallCountInfo()["GET "+url]
}
