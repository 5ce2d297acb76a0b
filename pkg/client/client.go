package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/atlassian/apicompat"
	"github.com/atlassian/apicompat/pkg/util"
	"github.com/atlassian/apicompat/pkg/util/logz"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/api/meta"
	meta_v1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/rest"
	client_transport "k8s.io/client-go/transport"
)

const (
	// maxResponseSize is the maximum response size we are willing to read.
	maxResponseSize = 1 * 1024 * 1024
	// maxStatusResponseSize is the maximum status response size we are willing to read.
	maxStatusResponseSize = 10 * 1024
)

type StreamHandler func(io.Reader) error

type ResponseHandler func(*http.Response) error

// ResourceClient is a minimal REST client for Kubernetes style APIs.
// Requests go through Client's transport so a compatibility wrapper installed there applies to every call.
type ResourceClient struct {
	Scheme   string
	HostPort string
	Agent    string
	Logger   *zap.Logger
	Client   http.Client
}

// rawBody is a request body sent as is.
type rawBody struct {
	contentType string
	data        []byte
}

type StatusError struct {
	msg    string
	status meta_v1.Status
}

func (se *StatusError) Error() string {
	return se.msg
}

func (se *StatusError) Status() meta_v1.Status {
	return se.status
}

// NewForConfig creates a client that talks to the server described by config.
// wrap may be nil.
func NewForConfig(config *rest.Config, wrap client_transport.WrapperFunc, logger *zap.Logger) (*ResourceClient, error) {
	cfg := WithCompat(config, wrap)
	hostURL, _, err := rest.DefaultServerURL(cfg.Host, cfg.APIPath, schema.GroupVersion{}, rest.IsConfigTransportTLS(*cfg))
	if err != nil {
		return nil, errors.Wrap(err, "invalid server address")
	}
	rt, err := rest.TransportFor(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create transport")
	}
	agent := cfg.UserAgent
	if agent == "" {
		agent = apicompat.AppName
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResourceClient{
		Scheme:   hostURL.Scheme,
		HostPort: hostURL.Host,
		Agent:    agent,
		Logger:   logger,
		Client: http.Client{
			Transport: rt,
			Timeout:   cfg.Timeout,
		},
	}, nil
}

func (c *ResourceClient) Get(ctx context.Context, groupVersion, namespace, resource, name string, args url.Values, into interface{}) error {
	return c.Do(ctx, http.MethodGet, groupVersion, namespace, resource, name, "", args, http.StatusOK, nil, into)
}

func (c *ResourceClient) List(ctx context.Context, groupVersion, namespace, resource string, args url.Values, into interface{}) error {
	return c.Do(ctx, http.MethodGet, groupVersion, namespace, resource, "", "", args, http.StatusOK, nil, into)
}

func (c *ResourceClient) Create(ctx context.Context, groupVersion, namespace, resource string, request interface{}, response interface{}) error {
	return c.Do(ctx, http.MethodPost, groupVersion, namespace, resource, "", "", nil, http.StatusCreated, request, response)
}

// CreateObject creates obj in the API group/version and namespace it declares.
// obj may be typed or unstructured but must have GVK set. The resource is derived from the object's kind.
func (c *ResourceClient) CreateObject(ctx context.Context, obj runtime.Object, response interface{}) error {
	u, err := util.RuntimeToUnstructured(obj)
	if err != nil {
		return err
	}
	return c.Create(ctx, u.GetAPIVersion(), u.GetNamespace(), KindToResource(u.GetKind()), u.Object, response)
}

// KindToResource guesses the plural resource name of kind.
func KindToResource(kind string) string {
	plural, _ := meta.UnsafeGuessKindToResource(schema.GroupVersionKind{Kind: kind})
	return plural.Resource
}

func (c *ResourceClient) Update(ctx context.Context, groupVersion, namespace, resource, name string, request interface{}, response interface{}) error {
	return c.Do(ctx, http.MethodPut, groupVersion, namespace, resource, name, "", nil, http.StatusOK, request, response)
}

// Patch sends patch verbatim with the content type of patchType.
func (c *ResourceClient) Patch(ctx context.Context, groupVersion, namespace, resource, name string, patchType types.PatchType, patch []byte, response interface{}) error {
	return c.Do(ctx, http.MethodPatch, groupVersion, namespace, resource, name, "", nil, http.StatusOK, rawBody{
		contentType: string(patchType),
		data:        patch,
	}, response)
}

func (c *ResourceClient) Delete(ctx context.Context, groupVersion, namespace, resource, name string) error {
	return c.Do(ctx, http.MethodDelete, groupVersion, namespace, resource, name, "", nil, http.StatusOK, nil, nil)
}

func (c *ResourceClient) UpdateStatus(ctx context.Context, groupVersion, namespace, resource, name string, request interface{}, response interface{}) error {
	return c.Do(ctx, http.MethodPut, groupVersion, namespace, resource, name, "status", nil, http.StatusOK, request, response)
}

func (c *ResourceClient) Do(ctx context.Context, verb, groupVersion, namespace, resource, name, suffix string, args url.Values, expectedStatus int, request interface{}, response interface{}) error {
	return c.DoCheckResponse(ctx, verb, groupVersion, namespace, resource, name, suffix, args, expectedStatus, request, func(r io.Reader) error {
		// Consume body even if "response" is nil to enable connection reuse
		b, err := ioutil.ReadAll(io.LimitReader(r, maxResponseSize))
		if err != nil {
			return errors.WithStack(err)
		}
		c.logger().Debug("Server response", logz.Method(verb), logz.URL(c.formatUrl(groupVersion, namespace, resource, name, suffix, args)), zap.ByteString("body", b))
		if response == nil {
			return nil
		}
		return errors.WithStack(json.Unmarshal(b, response))
	})
}

func (c *ResourceClient) DoCheckResponse(ctx context.Context, verb, groupVersion, namespace, resource, name, suffix string, args url.Values, expectedStatus int, request interface{}, f StreamHandler) error {
	return c.DoRequest(ctx, verb, groupVersion, namespace, resource, name, suffix, args, request, func(resp *http.Response) error {
		if resp.StatusCode != expectedStatus {
			msg := fmt.Sprintf("received bad status code %d", resp.StatusCode)
			b, err := ioutil.ReadAll(io.LimitReader(resp.Body, maxStatusResponseSize))
			if err != nil {
				return errors.New(msg)
			}
			se := StatusError{
				msg: msg,
			}
			c.logger().Info("Unexpected server response",
				logz.Method(verb),
				logz.URL(c.formatUrl(groupVersion, namespace, resource, name, suffix, args)),
				logz.StatusCode(resp.StatusCode),
				zap.ByteString("body", b))
			if json.Unmarshal(b, &se.status) != nil || se.status.Kind != "Status" {
				return errors.New(msg)
			}
			return &se
		}
		return f(resp.Body)
	})
}

func (c *ResourceClient) DoRequest(ctx context.Context, verb, groupVersion, namespace, resource, name, suffix string, args url.Values, request interface{}, f ResponseHandler) error {
	var body []byte
	var contentType string
	switch r := request.(type) {
	case nil:
	case rawBody:
		body = r.data
		contentType = r.contentType
	default:
		var err error
		body, err = json.Marshal(request)
		if err != nil {
			return errors.WithStack(err)
		}
		contentType = "application/json"
	}
	reqUrl := c.formatUrl(groupVersion, namespace, resource, name, suffix, args)
	req, err := http.NewRequest(verb, reqUrl, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "unable to create http.Request")
	}
	req = req.WithContext(ctx)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.Agent)
	resp, err := c.Client.Do(req)
	if err != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return errors.Wrapf(err, "request to %s failed", reqUrl)
		}
	}
	defer resp.Body.Close() // nolint: errcheck
	return f(resp)
}

func (c *ResourceClient) formatUrl(groupVersion, namespace, resource, name, suffix string, args url.Values) string {
	var prefix string
	if strings.ContainsRune(groupVersion, '/') {
		prefix = apicompat.DefaultAPIPath
	} else {
		prefix = apicompat.LegacyAPIPath
	}
	p := []string{prefix, groupVersion}
	if namespace != "" {
		p = append(p, "namespaces", namespace)
	}
	p = append(p, resource, name, suffix)
	u := url.URL{
		Scheme:   c.Scheme,
		Host:     c.HostPort,
		Path:     path.Join(p...),
		RawQuery: args.Encode(),
	}
	return u.String()
}

func (c *ResourceClient) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}
