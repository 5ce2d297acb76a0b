package rewrite

import (
	"sort"
	"strings"

	"github.com/atlassian/apicompat"
	"github.com/atlassian/apicompat/pkg/coordinate"
)

// Span replaces s[Start:End] with Replacement.
type Span struct {
	Start, End  int
	Replacement string
}

// ApplySpans applies non-overlapping spans to s. Offsets refer to the original s.
// Spans are applied right to left so earlier replacements never shift offsets of later ones.
func ApplySpans(s string, spans ...Span) string {
	sorted := make([]Span, len(spans))
	copy(sorted, spans)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Start > sorted[j].Start
	})
	for _, sp := range sorted {
		s = s[:sp.Start] + sp.Replacement + s[sp.End:]
	}
	return s
}

// VersionedURL replaces the group and version found by m with the target ones.
// Everything else, including the resource segment, is left intact.
func VersionedURL(url string, m coordinate.Match, target coordinate.Coordinate) string {
	return ApplySpans(url,
		Span{Start: m.VersionStart, End: m.VersionEnd, Replacement: target.Version},
		Span{Start: m.GroupStart, End: m.GroupEnd, Replacement: target.Group},
	)
}

// LegacyToModern converts an /oapi/v1 URL to the per-resource group URL of the target.
func LegacyToModern(url string, target coordinate.Coordinate) string {
	return replaceInPath(url,
		apicompat.OAPIPath+"/"+apicompat.OAPIVersion,
		apicompat.DefaultAPIPath+"/"+target.Group+"/"+target.Version)
}

// ModernToLegacy converts a per-resource group URL of the target to an /oapi/v1 URL.
func ModernToLegacy(url string, target coordinate.Coordinate) string {
	return replaceInPath(url,
		apicompat.DefaultAPIPath+"/"+target.Group+"/"+target.Version,
		apicompat.OAPIPath+"/"+apicompat.OAPIVersion)
}

// IsLegacy reports whether the URL addresses the single-prefix OpenShift API.
func IsLegacy(url string) bool {
	return strings.Contains(url, apicompat.OAPIToken)
}

// IsOpenShiftGroup reports whether the URL addresses a per-resource OpenShift API group.
func IsOpenShiftGroup(url string) bool {
	return strings.Contains(url, apicompat.OpenShiftGroupSuffix)
}

// replaceInPath replaces the first occurrence of old that starts at a path segment boundary.
// The scheme and authority are never touched.
func replaceInPath(url, old, new string) string {
	start := pathStart(url)
	for offset := start; offset < len(url); {
		i := strings.Index(url[offset:], old)
		if i < 0 {
			break
		}
		i += offset
		end := i + len(old)
		if end == len(url) || strings.IndexByte("/?#", url[end]) >= 0 {
			return ApplySpans(url, Span{Start: i, End: end, Replacement: new})
		}
		offset = i + 1
	}
	return url
}

func pathStart(url string) int {
	i := strings.Index(url, "://")
	if i < 0 {
		return 0
	}
	authority := i + len("://")
	j := strings.IndexByte(url[authority:], '/')
	if j < 0 {
		return len(url)
	}
	return authority + j
}
