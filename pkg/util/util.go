package util

import (
	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
)

// RuntimeToUnstructured can be used to convert any typed or unstructured object into
// an unstructured object. The obj must have GVK set.
func RuntimeToUnstructured(obj runtime.Object) (*unstructured.Unstructured, error) {
	gvk := obj.GetObjectKind().GroupVersionKind()
	if gvk.Kind == "" || gvk.Version == "" { // Group can be empty
		return nil, errors.Errorf("cannot convert %T to Unstructured: object Kind and/or object Version is empty", obj)
	}
	if u, ok := obj.(*unstructured.Unstructured); ok {
		return u.DeepCopy(), nil
	}
	u, err := runtime.DefaultUnstructuredConverter.ToUnstructured(obj.DeepCopyObject())
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &unstructured.Unstructured{
		Object: u,
	}, nil
}
