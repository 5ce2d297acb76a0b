package coordinate

import (
	"fmt"

	"k8s.io/apimachinery/pkg/runtime/schema"
)

// Key identifies where a resource is addressed. It is comparable and is used as a lookup key.
// Kind is deliberately not part of it, see Coordinate.
type Key struct {
	// Resource is the URL path segment, e.g. "deployments".
	Resource string
	// Group may be empty. Empty group is a valid and distinct key.
	Group   string
	Version string
}

func KeyFromGVR(gvr schema.GroupVersionResource) Key {
	return Key{
		Resource: gvr.Resource,
		Group:    gvr.Group,
		Version:  gvr.Version,
	}
}

func (k Key) GroupVersionResource() schema.GroupVersionResource {
	return schema.GroupVersionResource{
		Group:    k.Group,
		Version:  k.Version,
		Resource: k.Resource,
	}
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s, Resource=%s", k.Group, k.Version, k.Resource)
}

// Coordinate is a Key plus the Kind served at it.
// Kind is informational and is never derived from a URL.
type Coordinate struct {
	Key
	Kind string
}

func New(kind, resource, group, version string) Coordinate {
	return Coordinate{
		Key: Key{
			Resource: resource,
			Group:    group,
			Version:  version,
		},
		Kind: kind,
	}
}

// APIVersion returns the value for the "apiVersion" field of objects served at this coordinate.
// Core group coordinates yield just the version, as the API server expects.
func (c Coordinate) APIVersion() string {
	return schema.GroupVersion{Group: c.Group, Version: c.Version}.String()
}

func (c Coordinate) GroupVersionKind() schema.GroupVersionKind {
	return schema.GroupVersionKind{
		Group:   c.Group,
		Version: c.Version,
		Kind:    c.Kind,
	}
}
