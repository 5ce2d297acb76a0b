package apicompat

const (
	Domain = "apicompat.atlassian.com"

	// AppName is used as the metrics namespace and the default User-Agent.
	AppName = "apicompat"

	DefaultAPIPath = "/apis"
	LegacyAPIPath  = "/api"

	// OAPIPath is the single-version API prefix served by OpenShift before 3.10.
	// Removed in OpenShift 4.
	OAPIPath    = "/oapi"
	OAPIVersion = "v1"
	// OAPIToken is the lexical marker of a legacy single-prefix request URL.
	OAPIToken = "oapi"

	// OpenShiftGroupSuffix is the domain suffix shared by all per-resource OpenShift API groups.
	OpenShiftGroupSuffix = ".openshift.io"

	APIVersionField = "apiVersion"
)
