package transport

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeResponse struct {
	status int
	body   string
	err    error
}

type recordedRequest struct {
	Method string
	URL    string
	Header http.Header
	Body   string
}

// fakeTransport returns scripted responses in order and records every request and body close.
type fakeTransport struct {
	t         *testing.T
	mu        sync.Mutex
	responses []fakeResponse
	requests  []recordedRequest
	events    []string
}

func newFakeTransport(t *testing.T, responses ...fakeResponse) *fakeTransport {
	return &fakeTransport{
		t:         t,
		responses: responses,
	}
}

func (f *fakeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	rec := recordedRequest{
		Method: req.Method,
		URL:    req.URL.String(),
		Header: req.Header,
	}
	if req.Body != nil {
		body, err := ioutil.ReadAll(req.Body)
		require.NoError(f.t, err)
		rec.Body = string(body)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.requests)
	f.requests = append(f.requests, rec)
	f.events = append(f.events, fmt.Sprintf("dispatch %d", n))
	require.True(f.t, n < len(f.responses), "unexpected request %d: %s %s", n, req.Method, rec.URL)

	r := f.responses[n]
	if r.err != nil {
		return nil, r.err
	}
	return &http.Response{
		Status:     fmt.Sprintf("%d %s", r.status, http.StatusText(r.status)),
		StatusCode: r.status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body: &trackingBody{
			Reader: bytes.NewReader([]byte(r.body)),
			onClose: func() {
				f.mu.Lock()
				defer f.mu.Unlock()
				f.events = append(f.events, fmt.Sprintf("close %d", n))
			},
		},
		Request: req,
	}, nil
}

func (f *fakeTransport) Requests() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedRequest(nil), f.requests...)
}

func (f *fakeTransport) Events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

type trackingBody struct {
	*bytes.Reader
	onClose func()
}

func (b *trackingBody) Close() error {
	b.onClose()
	return nil
}
