package rewrite

import (
	"bytes"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"strings"

	"github.com/atlassian/apicompat/pkg/coordinate"
	"github.com/pkg/errors"
)

const (
	contentTypeJSON     = "application/json"
	contentTypeProtobuf = "protobuf"
)

// ReadBody buffers the request body and attaches a fresh reader over the buffer to req.
// Returns nil if the request has no body.
func ReadBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	body, err := ioutil.ReadAll(req.Body)
	closeErr := req.Body.Close()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read request body")
	}
	if closeErr != nil {
		return nil, errors.Wrap(closeErr, "failed to close request body")
	}
	SetBody(req, body)
	return body, nil
}

// SetBody makes body the replayable body of req.
func SetBody(req *http.Request, body []byte) {
	req.Body = ioutil.NopCloser(bytes.NewReader(body))
	req.ContentLength = int64(len(body))
	req.GetBody = func() (io.ReadCloser, error) {
		return ioutil.NopCloser(bytes.NewReader(body)), nil
	}
}

// Request returns a copy of orig sent to newURL.
// body is the buffered body of orig, nil if it has none. Unless orig is a PATCH, a body that is a
// structured resource document gets its "apiVersion" set to the one of target.
// PATCH bodies are never touched, patch semantics are tied to the schema version they were built for.
func Request(orig *http.Request, body []byte, newURL string, target coordinate.Coordinate) (*http.Request, error) {
	u, err := url.Parse(newURL)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid rewritten URL %q", newURL)
	}
	req := orig.Clone(orig.Context())
	req.URL = u
	if body == nil {
		return req, nil
	}
	if !strings.EqualFold(orig.Method, http.MethodPatch) && !isProtobuf(orig.Header) {
		doc := ParseDocument(body)
		if doc.Kind == RewritableDocument {
			body, err = doc.WithAPIVersion(target.APIVersion())
			if err != nil {
				return nil, err
			}
			req.Header.Set("Content-Type", contentTypeJSON)
		}
	}
	SetBody(req, body)
	return req, nil
}

func isProtobuf(h http.Header) bool {
	return strings.Contains(h.Get("Content-Type"), contentTypeProtobuf)
}
