package transport

import (
	"bytes"
	"errors"
	"io/ioutil"
	"net/http"
	"strings"
	"testing"

	"github.com/atlassian/apicompat/pkg/compat"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	host = "https://api.example.com:6443"

	deploymentBody = `{"apiVersion":"apps/v1","kind":"Deployment","metadata":{"name":"web","namespace":"ns1"},"spec":{"replicas":2}}`
	routeBody      = `{"apiVersion":"route.openshift.io/v1","kind":"Route","metadata":{"name":"r1"},"spec":{"host":"r1.example.com"}}`
)

func newRoundTripper(t *testing.T, next http.RoundTripper) *RoundTripper {
	return New(next, compat.DefaultResolver(), zaptest.NewLogger(t), nil)
}

func doRequest(t *testing.T, rt http.RoundTripper, method, url, body string) *http.Response {
	var req *http.Request
	var err error
	if body == "" {
		req, err = http.NewRequest(method, url, nil)
	} else {
		req, err = http.NewRequest(method, url, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	require.NoError(t, err)
	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	data, err := ioutil.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	return string(data)
}

func TestUnmatchedURLPassesThrough(t *testing.T) {
	t.Parallel()

	urls := []string{
		host + "/api/v1/namespaces/ns1/pods/p1",
		host + "/apis/apps/v1",
		host + "/version",
	}
	for _, url := range urls {
		fake := newFakeTransport(t, fakeResponse{status: http.StatusNotFound, body: "nope"})
		resp := doRequest(t, newRoundTripper(t, fake), http.MethodGet, url, "")

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "nope", readBody(t, resp))
		assert.Len(t, fake.Requests(), 1, url)
	}
}

func TestUnclassifiedStatusPassesThrough(t *testing.T) {
	t.Parallel()

	for _, status := range []int{http.StatusOK, http.StatusCreated, http.StatusForbidden, http.StatusConflict, http.StatusInternalServerError} {
		fake := newFakeTransport(t, fakeResponse{status: status, body: "original"})
		resp := doRequest(t, newRoundTripper(t, fake), http.MethodGet, host+"/apis/apps/v1/namespaces/ns1/deployments/web", "")

		assert.Equal(t, status, resp.StatusCode)
		assert.Equal(t, "original", readBody(t, resp))
		assert.Len(t, fake.Requests(), 1)
		assert.Equal(t, []string{"dispatch 0", "close 0"}, fake.Events())
	}
}

func TestClassifiedStatusWithoutEntryPassesThrough(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		status int
		url    string
	}{
		"unknown resource":       {status: http.StatusNotFound, url: host + "/apis/example.com/v1/namespaces/ns1/widgets/w"},
		"entry of other status":  {status: http.StatusBadRequest, url: host + "/apis/apps/v1/namespaces/ns1/deployments/web"},
		"already legacy version": {status: http.StatusNotFound, url: host + "/apis/extensions/v1beta1/namespaces/ns1/deployments/web"},
	}
	for name, tc := range cases {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			fake := newFakeTransport(t, fakeResponse{status: tc.status, body: "original"})
			resp := doRequest(t, newRoundTripper(t, fake), http.MethodGet, tc.url, "")

			assert.Equal(t, tc.status, resp.StatusCode)
			assert.Equal(t, "original", readBody(t, resp))
			assert.Len(t, fake.Requests(), 1)
		})
	}
}

func TestNotFoundDeploymentRetried(t *testing.T) {
	t.Parallel()

	fake := newFakeTransport(t,
		fakeResponse{status: http.StatusNotFound, body: `{"kind":"Status","code":404}`},
		fakeResponse{status: http.StatusOK, body: "retried"},
	)
	resp := doRequest(t, newRoundTripper(t, fake), http.MethodGet, host+"/apis/apps/v1/namespaces/ns1/deployments/web?resourceVersion=0", "")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "retried", readBody(t, resp))

	requests := fake.Requests()
	require.Len(t, requests, 2)
	assert.Equal(t, host+"/apis/apps/v1/namespaces/ns1/deployments/web?resourceVersion=0", requests[0].URL)
	assert.Equal(t, host+"/apis/extensions/v1beta1/namespaces/ns1/deployments/web?resourceVersion=0", requests[1].URL)
	assert.Equal(t, http.MethodGet, requests[1].Method)
}

func TestBadRequestDeploymentRetried(t *testing.T) {
	t.Parallel()

	fake := newFakeTransport(t,
		fakeResponse{status: http.StatusBadRequest},
		fakeResponse{status: http.StatusOK},
	)
	resp := doRequest(t, newRoundTripper(t, fake), http.MethodGet, host+"/apis/apps/v1beta1/namespaces/ns1/deployments", "")
	readBody(t, resp)

	requests := fake.Requests()
	require.Len(t, requests, 2)
	assert.Equal(t, host+"/apis/extensions/v1beta1/namespaces/ns1/deployments", requests[1].URL)
}

func TestRewriteKeepsNamespaceAndResourceSegments(t *testing.T) {
	t.Parallel()

	fake := newFakeTransport(t,
		fakeResponse{status: http.StatusNotFound},
		fakeResponse{status: http.StatusOK},
	)
	url := host + "/apis/rbac.authorization.k8s.io/v1/namespaces/rbac-v1/rolebindings/v1"
	readBody(t, doRequest(t, newRoundTripper(t, fake), http.MethodDelete, url, ""))

	requests := fake.Requests()
	require.Len(t, requests, 2)
	assert.Equal(t, host+"/apis/rbac.authorization.k8s.io/v1beta1/namespaces/rbac-v1/rolebindings/v1", requests[1].URL)
	assert.Equal(t, http.MethodDelete, requests[1].Method)
}

func TestClusterScopedRewrite(t *testing.T) {
	t.Parallel()

	fake := newFakeTransport(t,
		fakeResponse{status: http.StatusNotFound},
		fakeResponse{status: http.StatusOK},
	)
	readBody(t, doRequest(t, newRoundTripper(t, fake), http.MethodGet, host+"/apis/storage.k8s.io/v1/storageclasses/standard", ""))

	requests := fake.Requests()
	require.Len(t, requests, 2)
	assert.Equal(t, host+"/apis/extensions/v1beta1/storageclasses/standard", requests[1].URL)
}

func TestPostBodyAPIVersionRewritten(t *testing.T) {
	t.Parallel()

	fake := newFakeTransport(t,
		fakeResponse{status: http.StatusNotFound},
		fakeResponse{status: http.StatusCreated, body: "created"},
	)
	resp := doRequest(t, newRoundTripper(t, fake), http.MethodPost, host+"/apis/apps/v1/namespaces/ns1/deployments", deploymentBody)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "created", readBody(t, resp))

	requests := fake.Requests()
	require.Len(t, requests, 2)
	assert.Equal(t, deploymentBody, requests[0].Body)
	assert.Equal(t, http.MethodPost, requests[1].Method)
	assert.Equal(t, host+"/apis/extensions/v1beta1/namespaces/ns1/deployments", requests[1].URL)
	assert.Equal(t, strings.Replace(deploymentBody, `"apps/v1"`, `"extensions/v1beta1"`, 1), requests[1].Body)
}

func TestRetriedBodyKeepsOtherBytes(t *testing.T) {
	t.Parallel()

	body := `{"apiVersion": "apps/v1", "kind": "Deployment", "metadata": {"name": "web", "annotations": {"q": "a<b && c>d", "r": "x"}}, "spec": {"replicas": 2, "progressDeadlineSeconds": 1.50}}`
	fake := newFakeTransport(t,
		fakeResponse{status: http.StatusNotFound},
		fakeResponse{status: http.StatusCreated},
	)
	readBody(t, doRequest(t, newRoundTripper(t, fake), http.MethodPost, host+"/apis/apps/v1/namespaces/ns1/deployments", body))

	requests := fake.Requests()
	require.Len(t, requests, 2)
	retried := requests[1].Body
	assert.Equal(t, strings.Replace(body, `"apps/v1"`, `"extensions/v1beta1"`, 1), retried)
	assert.Contains(t, retried, `"q": "a<b && c>d"`)
	assert.Contains(t, retried, `"progressDeadlineSeconds": 1.50`)
}

func TestPatchBodyNotRewritten(t *testing.T) {
	t.Parallel()

	patch := `{"apiVersion":"apps/v1","spec":{"replicas":5}}`
	fake := newFakeTransport(t,
		fakeResponse{status: http.StatusNotFound},
		fakeResponse{status: http.StatusOK},
	)
	readBody(t, doRequest(t, newRoundTripper(t, fake), http.MethodPatch, host+"/apis/apps/v1/namespaces/ns1/deployments/web", patch))

	requests := fake.Requests()
	require.Len(t, requests, 2)
	assert.Equal(t, http.MethodPatch, requests[1].Method)
	assert.Equal(t, host+"/apis/extensions/v1beta1/namespaces/ns1/deployments/web", requests[1].URL)
	assert.Equal(t, patch, requests[1].Body)
}

func TestOpaqueBodyNotRewritten(t *testing.T) {
	t.Parallel()

	body := "this is not a resource"
	fake := newFakeTransport(t,
		fakeResponse{status: http.StatusNotFound},
		fakeResponse{status: http.StatusOK},
	)
	readBody(t, doRequest(t, newRoundTripper(t, fake), http.MethodPut, host+"/apis/apps/v1/namespaces/ns1/deployments/web", body))

	requests := fake.Requests()
	require.Len(t, requests, 2)
	assert.Equal(t, body, requests[1].Body)
}

func TestAtMostOneRetry(t *testing.T) {
	t.Parallel()

	for _, status := range []int{http.StatusNotFound, http.StatusBadRequest, http.StatusInternalServerError} {
		fake := newFakeTransport(t,
			fakeResponse{status: http.StatusNotFound, body: "first"},
			fakeResponse{status: status, body: "second"},
		)
		resp := doRequest(t, newRoundTripper(t, fake), http.MethodGet, host+"/apis/apps/v1/namespaces/ns1/deployments/web", "")

		assert.Equal(t, status, resp.StatusCode)
		assert.Equal(t, "second", readBody(t, resp))
		assert.Len(t, fake.Requests(), 2)
	}
}

func TestOriginalResponseClosedBeforeRetry(t *testing.T) {
	t.Parallel()

	fake := newFakeTransport(t,
		fakeResponse{status: http.StatusNotFound, body: "first"},
		fakeResponse{status: http.StatusOK, body: "second"},
	)
	resp := doRequest(t, newRoundTripper(t, fake), http.MethodGet, host+"/apis/batch/v1/namespaces/ns1/jobs/j", "")

	// Final response is open and owned by the caller
	assert.Equal(t, []string{"dispatch 0", "close 0", "dispatch 1"}, fake.Events())
	assert.Equal(t, "second", readBody(t, resp))
	assert.Equal(t, []string{"dispatch 0", "close 0", "dispatch 1", "close 1"}, fake.Events())
}

func TestTransportErrorPropagated(t *testing.T) {
	t.Parallel()

	expected := errors.New("connection refused")
	fake := newFakeTransport(t, fakeResponse{err: expected})
	req, err := http.NewRequest(http.MethodGet, host+"/apis/apps/v1/namespaces/ns1/deployments/web", nil)
	require.NoError(t, err)

	_, err = newRoundTripper(t, fake).RoundTrip(req)
	assert.Equal(t, expected, err)
	assert.Len(t, fake.Requests(), 1)
}

func TestRetryTransportErrorPropagated(t *testing.T) {
	t.Parallel()

	expected := errors.New("connection reset")
	fake := newFakeTransport(t,
		fakeResponse{status: http.StatusNotFound},
		fakeResponse{err: expected},
	)
	req, err := http.NewRequest(http.MethodGet, host+"/apis/apps/v1/namespaces/ns1/deployments/web", nil)
	require.NoError(t, err)

	_, err = newRoundTripper(t, fake).RoundTrip(req)
	assert.Equal(t, expected, err)
	assert.Equal(t, []string{"dispatch 0", "close 0", "dispatch 1"}, fake.Events())
}

func TestCallerRequestNotModified(t *testing.T) {
	t.Parallel()

	fake := newFakeTransport(t,
		fakeResponse{status: http.StatusNotFound},
		fakeResponse{status: http.StatusOK},
	)
	req, err := http.NewRequest(http.MethodPost, host+"/apis/apps/v1/namespaces/ns1/deployments", bytes.NewBufferString(deploymentBody))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/yaml")

	resp, err := newRoundTripper(t, fake).RoundTrip(req)
	require.NoError(t, err)
	readBody(t, resp)

	assert.Equal(t, host+"/apis/apps/v1/namespaces/ns1/deployments", req.URL.String())
	assert.Equal(t, "application/yaml", req.Header.Get("Content-Type"))
}

func TestLegacyToModernOnNotFound(t *testing.T) {
	t.Parallel()

	cases := []struct {
		method   string
		url      string
		body     string
		expected string
	}{
		{
			method:   http.MethodGet,
			url:      host + "/oapi/v1/namespaces/ns1/routes/r1",
			expected: host + "/apis/route.openshift.io/v1/namespaces/ns1/routes/r1",
		},
		{
			method:   http.MethodGet,
			url:      host + "/oapi/v1/namespaces/ns1/deploymentconfigs",
			expected: host + "/apis/apps.openshift.io/v1/namespaces/ns1/deploymentconfigs",
		},
		{
			method:   http.MethodPost,
			url:      host + "/oapi/v1/namespaces/ns1/routes",
			body:     strings.Replace(routeBody, "route.openshift.io/v1", "v1", 1),
			expected: host + "/apis/route.openshift.io/v1/namespaces/ns1/routes",
		},
		{
			method:   http.MethodDelete,
			url:      host + "/oapi/v1/securitycontextconstraints/restricted",
			expected: host + "/apis/security.openshift.io/v1/securitycontextconstraints/restricted",
		},
	}
	for _, tc := range cases {
		fake := newFakeTransport(t,
			fakeResponse{status: http.StatusNotFound},
			fakeResponse{status: http.StatusOK, body: "ok"},
		)
		resp := doRequest(t, newRoundTripper(t, fake), tc.method, tc.url, tc.body)
		assert.Equal(t, "ok", readBody(t, resp))

		requests := fake.Requests()
		require.Len(t, requests, 2, tc.url)
		assert.Equal(t, tc.expected, requests[1].URL)
		assert.Equal(t, tc.method, requests[1].Method)
		if tc.body != "" {
			assert.Equal(t, routeBody, requests[1].Body)
		}
		assert.Equal(t, []string{"dispatch 0", "close 0", "dispatch 1", "close 1"}, fake.Events())
	}
}

func TestModernToLegacyOnNotFound(t *testing.T) {
	t.Parallel()

	fake := newFakeTransport(t,
		fakeResponse{status: http.StatusNotFound},
		fakeResponse{status: http.StatusCreated},
	)
	resp := doRequest(t, newRoundTripper(t, fake), http.MethodPost, host+"/apis/route.openshift.io/v1/namespaces/ns1/routes", routeBody)
	readBody(t, resp)

	requests := fake.Requests()
	require.Len(t, requests, 2)
	assert.Equal(t, host+"/oapi/v1/namespaces/ns1/routes", requests[1].URL)
	// apiVersion is set to the one of the per-resource group
	assert.Equal(t, routeBody, requests[1].Body)

	fake = newFakeTransport(t,
		fakeResponse{status: http.StatusNotFound},
		fakeResponse{status: http.StatusOK},
	)
	readBody(t, doRequest(t, newRoundTripper(t, fake), http.MethodGet, host+"/apis/image.openshift.io/v1/namespaces/ns1/imagestreams/is1", ""))
	requests = fake.Requests()
	require.Len(t, requests, 2)
	assert.Equal(t, host+"/oapi/v1/namespaces/ns1/imagestreams/is1", requests[1].URL)
}

func TestLegacyFlowIgnoresOtherStatuses(t *testing.T) {
	t.Parallel()

	for _, status := range []int{http.StatusOK, http.StatusBadRequest, http.StatusForbidden} {
		fake := newFakeTransport(t, fakeResponse{status: status})
		readBody(t, doRequest(t, newRoundTripper(t, fake), http.MethodGet, host+"/oapi/v1/namespaces/ns1/routes/r1", ""))
		assert.Len(t, fake.Requests(), 1)
	}
}

func TestLegacyFlowUnknownResource(t *testing.T) {
	t.Parallel()

	fake := newFakeTransport(t, fakeResponse{status: http.StatusNotFound})
	readBody(t, doRequest(t, newRoundTripper(t, fake), http.MethodGet, host+"/apis/quota.openshift.io/v1/clusterresourcequotas/q", ""))
	assert.Len(t, fake.Requests(), 1)
}

func TestLegacyFlowTakesPrecedence(t *testing.T) {
	t.Parallel()

	// Matches the versioned group pattern too, but is handled by the legacy flow only
	fake := newFakeTransport(t, fakeResponse{status: http.StatusBadRequest})
	readBody(t, doRequest(t, newRoundTripper(t, fake), http.MethodGet, host+"/apis/template.openshift.io/v1/namespaces/ns1/templates/t", ""))
	assert.Len(t, fake.Requests(), 1)
}

func TestLegacyDetectionMatchesWholeURL(t *testing.T) {
	t.Parallel()

	// The "oapi" marker appears inside the namespace name, so only the legacy flow runs and
	// the versioned fallback for deployments is not tried.
	fake := newFakeTransport(t, fakeResponse{status: http.StatusNotFound})
	resp := doRequest(t, newRoundTripper(t, fake), http.MethodGet, host+"/apis/apps/v1/namespaces/kaoapi/deployments/web", "")
	readBody(t, resp)

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Len(t, fake.Requests(), 1)

	// Same request without the marker gets the versioned retry
	fake = newFakeTransport(t, fakeResponse{status: http.StatusNotFound}, fakeResponse{status: http.StatusOK})
	readBody(t, doRequest(t, newRoundTripper(t, fake), http.MethodGet, host+"/apis/apps/v1/namespaces/kaapi/deployments/web", ""))
	assert.Len(t, fake.Requests(), 2)
}

func TestMetrics(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics("test")
	registry := prometheus.NewPedanticRegistry()
	require.NoError(t, metrics.Register(registry))

	fake := newFakeTransport(t,
		fakeResponse{status: http.StatusNotFound},
		fakeResponse{status: http.StatusOK},
	)
	rt := New(fake, nil, zaptest.NewLogger(t), metrics)
	readBody(t, doRequest(t, rt, http.MethodGet, host+"/apis/apps/v1/namespaces/ns1/deployments/web", ""))

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Rewrites.WithLabelValues(FlowVersioned, "404", "200")))
	assert.Equal(t, 1, testutil.CollectAndCount(metrics.Rewrites))
}

func TestWrapper(t *testing.T) {
	t.Parallel()

	fake := newFakeTransport(t, fakeResponse{status: http.StatusOK})
	rt := Wrapper(nil, nil, nil)(fake)

	require.IsType(t, &RoundTripper{}, rt)
	readBody(t, doRequest(t, rt, http.MethodGet, host+"/apis/apps/v1/namespaces/ns1/deployments/web", ""))
	assert.Len(t, fake.Requests(), 1)
}
