package smart

import (
	"github.com/atlassian/apicompat/pkg/client"
	"github.com/atlassian/apicompat/pkg/coordinate"
	"github.com/pkg/errors"
	meta_v1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/rest"
	client_transport "k8s.io/client-go/transport"
)

// DynamicClient hands out dynamic clients that fall back to compatible API coordinates
// when the wrapper installed by NewClient does.
type DynamicClient struct {
	Dynamic dynamic.Interface
}

// NewClient creates a DynamicClient. config is not modified. wrap may be nil.
func NewClient(config *rest.Config, wrap client_transport.WrapperFunc) (*DynamicClient, error) {
	d, err := dynamic.NewForConfig(client.WithCompat(config, wrap))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create dynamic client")
	}
	return &DynamicClient{
		Dynamic: d,
	}, nil
}

// ForGVR returns a client for the resource. Cluster scoped resources use meta_v1.NamespaceNone.
func (c *DynamicClient) ForGVR(gvr schema.GroupVersionResource, namespace string) dynamic.ResourceInterface {
	res := c.Dynamic.Resource(gvr)
	if namespace == meta_v1.NamespaceNone {
		return res
	}
	return res.Namespace(namespace)
}

// ForCoordinate returns a client for the resource identified by the coordinate.
func (c *DynamicClient) ForCoordinate(coord coordinate.Coordinate, namespace string) dynamic.ResourceInterface {
	return c.ForGVR(coord.GroupVersionResource(), namespace)
}
