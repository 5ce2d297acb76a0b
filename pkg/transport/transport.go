package transport

import (
	"io"
	"io/ioutil"
	"net/http"
	"strings"

	"github.com/atlassian/apicompat/pkg/compat"
	"github.com/atlassian/apicompat/pkg/coordinate"
	"github.com/atlassian/apicompat/pkg/rewrite"
	"github.com/atlassian/apicompat/pkg/util/logz"
	"go.uber.org/zap"
	client_transport "k8s.io/client-go/transport"
)

const (
	FlowVersioned = "versioned"
	FlowLegacy    = "legacy"

	// maxDrainSize is the maximum number of bytes of a discarded response we are willing to read
	// to make the connection reusable.
	maxDrainSize = 64 * 1024
)

// RoundTripper retries requests rejected because of an API group/version the server does not serve.
// At most one retry is made per request and its response is returned as is.
type RoundTripper struct {
	Logger   *zap.Logger
	Resolver *compat.Resolver
	// Metrics may be nil.
	Metrics *Metrics
	Next    http.RoundTripper
}

// New returns a RoundTripper. nil logger and resolver are replaced with a no-op logger and the default resolver.
func New(next http.RoundTripper, resolver *compat.Resolver, logger *zap.Logger, metrics *Metrics) *RoundTripper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if resolver == nil {
		resolver = compat.DefaultResolver()
	}
	if next == nil {
		next = http.DefaultTransport
	}
	return &RoundTripper{
		Logger:   logger,
		Resolver: resolver,
		Metrics:  metrics,
		Next:     next,
	}
}

// Wrapper returns a function to be installed with rest.Config.Wrap().
func Wrapper(resolver *compat.Resolver, logger *zap.Logger, metrics *Metrics) client_transport.WrapperFunc {
	return func(rt http.RoundTripper) http.RoundTripper {
		return New(rt, resolver, logger, metrics)
	}
}

func (rt *RoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	// Work on a copy, the caller's request must not be modified.
	first := req.Clone(req.Context())
	body, err := rewrite.ReadBody(first)
	if err != nil {
		return nil, err
	}
	resp, err := rt.Next.RoundTrip(first)
	if err != nil {
		return nil, err
	}
	url := first.URL.String()
	// Legacy URLs would also match the versioned group patterns, so they are checked first.
	if rewrite.IsOpenShiftGroup(url) || rewrite.IsLegacy(url) {
		return rt.handleLegacy(first, body, resp)
	}
	return rt.handleVersioned(first, body, resp)
}

func (rt *RoundTripper) handleVersioned(req *http.Request, body []byte, resp *http.Response) (*http.Response, error) {
	if isSuccessful(resp) || !rt.Resolver.Handles(resp.StatusCode) {
		return resp, nil
	}
	url := req.URL.String()
	m, ok := coordinate.Extract(url)
	if !ok {
		return resp, nil
	}
	target, ok := rt.Resolver.Resolve(resp.StatusCode, m.Key)
	if !ok {
		rt.Logger.Debug("No compatible coordinate", logz.Method(req.Method), logz.URL(url), logz.StatusCode(resp.StatusCode), logz.Coordinate(m.Key))
		return resp, nil
	}
	return rt.retry(FlowVersioned, req, body, resp, rewrite.VersionedURL(url, m, target), target)
}

func (rt *RoundTripper) handleLegacy(req *http.Request, body []byte, resp *http.Response) (*http.Response, error) {
	if resp.StatusCode != http.StatusNotFound {
		return resp, nil
	}
	target, ok := rt.resolveLegacy(req)
	if !ok {
		return resp, nil
	}
	url := req.URL.String()
	var newURL string
	if rewrite.IsOpenShiftGroup(url) {
		newURL = rewrite.ModernToLegacy(url, target)
	} else {
		newURL = rewrite.LegacyToModern(url, target)
	}
	if newURL == url {
		return resp, nil
	}
	return rt.retry(FlowLegacy, req, body, resp, newURL, target)
}

// resolveLegacy looks up the resource segment of the request path.
// POST URLs end with the collection, others usually with the object name.
func (rt *RoundTripper) resolveLegacy(req *http.Request) (coordinate.Coordinate, bool) {
	parts := strings.Split(strings.Trim(req.URL.Path, "/"), "/")
	last := len(parts) - 1
	var candidates []string
	if strings.EqualFold(req.Method, http.MethodPost) {
		candidates = []string{parts[last]}
	} else if last > 0 {
		// Collection requests (list, deletecollection) end with the resource too
		candidates = []string{parts[last-1], parts[last]}
	} else {
		candidates = []string{parts[last]}
	}
	for _, c := range candidates {
		if target, ok := rt.Resolver.ResolveLegacy(c); ok {
			return target, true
		}
	}
	return coordinate.Coordinate{}, false
}

func (rt *RoundTripper) retry(flow string, req *http.Request, body []byte, resp *http.Response, newURL string, target coordinate.Coordinate) (*http.Response, error) {
	url := req.URL.String()
	logger := rt.Logger.With(logz.Flow(flow), logz.Method(req.Method), logz.URL(url), logz.StatusCode(resp.StatusCode))

	newReq, err := rewrite.Request(req, body, newURL, target)
	if err != nil {
		logger.Warn("Failed to build rewritten request", zap.Error(err))
		return resp, nil
	}
	// resp is neither reused nor returned from here on. Release it so the connection is not leaked.
	closeResponse(resp)

	logger.Info("Retrying with compatible coordinate", logz.Target(target), logz.RetryURL(newURL))
	retryResp, err := rt.Next.RoundTrip(newReq)
	if err != nil {
		rt.Metrics.observe(flow, resp.StatusCode, 0)
		return nil, err
	}
	rt.Metrics.observe(flow, resp.StatusCode, retryResp.StatusCode)
	return retryResp, nil
}

func isSuccessful(resp *http.Response) bool {
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// closeResponse consumes a bounded amount of the body to enable connection reuse.
func closeResponse(resp *http.Response) {
	if resp.Body == nil {
		return
	}
	_, _ = io.Copy(ioutil.Discard, io.LimitReader(resp.Body, maxDrainSize))
	_ = resp.Body.Close()
}
