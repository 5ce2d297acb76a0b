package compat

import (
	"net/http"

	"github.com/atlassian/apicompat/pkg/coordinate"
)

// Table maps a coordinate the server rejected to one known to work on it.
type Table map[coordinate.Key]coordinate.Coordinate

// LegacyTable maps a bare resource path segment to its per-resource OpenShift API group coordinate.
type LegacyTable map[string]coordinate.Coordinate

func (t Table) add(from, to coordinate.Coordinate) {
	t[from.Key] = to
}

// NotFoundTable returns mappings applied when the server responds with 404.
// Modern coordinates are mapped to the ones older servers served.
func NotFoundTable() Table {
	t := Table{}
	t.add(coordinate.New("Deployment", "deployments", "apps", "v1"), coordinate.New("Deployment", "deployments", "extensions", "v1beta1"))
	t.add(coordinate.New("StatefulSet", "statefulsets", "apps", "v1"), coordinate.New("StatefulSet", "statefulsets", "apps", "v1beta1"))
	t.add(coordinate.New("DaemonSet", "daemonsets", "apps", "v1"), coordinate.New("DaemonSet", "daemonsets", "extensions", "v1beta1"))
	t.add(coordinate.New("ReplicaSet", "replicasets", "apps", "v1"), coordinate.New("ReplicaSet", "replicasets", "extensions", "v1beta1"))
	t.add(coordinate.New("NetworkPolicy", "networkpolicies", "networking.k8s.io", "v1"), coordinate.New("NetworkPolicy", "networkpolicies", "extensions", "v1beta1"))
	t.add(coordinate.New("StorageClass", "storageclasses", "storage.k8s.io", "v1"), coordinate.New("StorageClass", "storageclasses", "extensions", "v1beta1"))
	t.add(coordinate.New("Job", "jobs", "batch", "v1"), coordinate.New("Job", "jobs", "extensions", "v1beta1"))
	t.add(coordinate.New("RoleBinding", "rolebindings", "rbac.authorization.k8s.io", "v1"), coordinate.New("RoleBinding", "rolebindings", "rbac.authorization.k8s.io", "v1beta1"))
	t.add(coordinate.New("Role", "roles", "rbac.authorization.k8s.io", "v1"), coordinate.New("Role", "roles", "rbac.authorization.k8s.io", "v1beta1"))
	t.add(coordinate.New("ClusterRoleBinding", "clusterrolebindings", "rbac.authorization.k8s.io", "v1"), coordinate.New("ClusterRoleBinding", "clusterrolebindings", "rbac.authorization.k8s.io", "v1beta1"))
	t.add(coordinate.New("ClusterRole", "clusterroles", "rbac.authorization.k8s.io", "v1"), coordinate.New("ClusterRole", "clusterroles", "rbac.authorization.k8s.io", "v1beta1"))
	t.add(coordinate.New("CronJob", "cronjobs", "batch", "v1beta1"), coordinate.New("CronJob", "cronjob", "batch", "v2alpha1"))
	// Empty group is kept as is, it is a distinct key.
	t.add(coordinate.New("Template", "template", "", "v1"), coordinate.New("Template", "template", "template.openshift.io", "v1"))
	return t
}

// BadRequestTable returns mappings applied when the server responds with 400.
func BadRequestTable() Table {
	t := Table{}
	t.add(coordinate.New("Deployment", "deployments", "apps", "v1beta1"), coordinate.New("Deployment", "deployments", "extensions", "v1beta1"))
	return t
}

// OAPITable returns OpenShift resources that were served under /oapi/v1 before OpenShift 3.10.
// OpenShift 4 serves them only under their /apis/{group} endpoints.
func OAPITable() LegacyTable {
	return LegacyTable{
		"routes":                     coordinate.New("Route", "routes", "route.openshift.io", "v1"),
		"templates":                  coordinate.New("Template", "templates", "template.openshift.io", "v1"),
		"buildconfigs":               coordinate.New("BuildConfig", "buildconfigs", "build.openshift.io", "v1"),
		"deploymentconfigs":          coordinate.New("DeploymentConfig", "deploymentconfigs", "apps.openshift.io", "v1"),
		"imagestreams":               coordinate.New("ImageStream", "imagestreams", "image.openshift.io", "v1"),
		"imagestreamtags":            coordinate.New("ImageStream", "imagestreamtags", "image.openshift.io", "v1"),
		"securitycontextconstraints": coordinate.New("SecurityContextConstraints", "securitycontextconstraints", "security.openshift.io", "v1"),
	}
}

// DefaultTables returns the built-in status code to table mapping.
func DefaultTables() map[int]Table {
	return map[int]Table{
		http.StatusBadRequest: BadRequestTable(),
		http.StatusNotFound:   NotFoundTable(),
	}
}
