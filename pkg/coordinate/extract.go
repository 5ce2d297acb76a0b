package coordinate

import (
	"regexp"
)

const nameRegex = `[a-z0-9\-\.]+`

var (
	// Namespaced pattern must be tried first, the cluster-scoped one would capture "namespaces" as the resource.
	namespacedURLPattern = regexp.MustCompile(`^[^ ]+/apis/(` + nameRegex + `)/(` + nameRegex + `)/namespaces/` + nameRegex + `/(` + nameRegex + `)[^ ]*$`)
	urlPattern           = regexp.MustCompile(`^[^ ]+/apis/(` + nameRegex + `)/(` + nameRegex + `)/(` + nameRegex + `)[^ ]*$`)
)

// Capture group indexes in both patterns.
const (
	groupIdx    = 1
	versionIdx  = 2
	resourceIdx = 3
)

// Match is a Key extracted from a URL together with the positions it was found at.
type Match struct {
	Key

	// Byte offsets into the original URL, [start, end).
	GroupStart, GroupEnd     int
	VersionStart, VersionEnd int
}

// Extract parses a request URL into a Match.
// Returns false if the URL is not a versioned group URL.
func Extract(url string) (Match, bool) {
	for _, p := range []*regexp.Regexp{namespacedURLPattern, urlPattern} {
		loc := p.FindStringSubmatchIndex(url)
		if loc == nil {
			continue
		}
		return Match{
			Key: Key{
				Resource: url[loc[2*resourceIdx]:loc[2*resourceIdx+1]],
				Group:    url[loc[2*groupIdx]:loc[2*groupIdx+1]],
				Version:  url[loc[2*versionIdx]:loc[2*versionIdx+1]],
			},
			GroupStart:   loc[2*groupIdx],
			GroupEnd:     loc[2*groupIdx+1],
			VersionStart: loc[2*versionIdx],
			VersionEnd:   loc[2*versionIdx+1],
		}, true
	}
	return Match{}, false
}
