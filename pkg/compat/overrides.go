package compat

import (
	"bytes"
	"io/ioutil"

	"github.com/atlassian/apicompat/pkg/coordinate"
	"github.com/pkg/errors"
	"sigs.k8s.io/yaml"
)

// Overrides are extra table entries loaded from a file. They take precedence over the built-in ones.
//
//	rules:
//	- status: 404
//	  from: {resource: deployments, group: apps, version: v1}
//	  to: {kind: Deployment, resource: deployments, group: extensions, version: v1beta1}
//	legacy:
//	- resource: routes
//	  to: {kind: Route, resource: routes, group: route.openshift.io, version: v1}
type Overrides struct {
	Rules  []Rule       `json:"rules,omitempty"`
	Legacy []LegacyRule `json:"legacy,omitempty"`
}

type Rule struct {
	Status int            `json:"status"`
	From   CoordinateSpec `json:"from"`
	To     CoordinateSpec `json:"to"`
}

type LegacyRule struct {
	Resource string         `json:"resource"`
	To       CoordinateSpec `json:"to"`
}

type CoordinateSpec struct {
	Kind     string `json:"kind,omitempty"`
	Resource string `json:"resource"`
	Group    string `json:"group,omitempty"`
	Version  string `json:"version"`
}

func (s CoordinateSpec) coordinate() coordinate.Coordinate {
	return coordinate.New(s.Kind, s.Resource, s.Group, s.Version)
}

// ParseOverrides decodes and validates overrides in YAML or JSON. Empty input yields no overrides.
func ParseOverrides(data []byte) (*Overrides, error) {
	var o Overrides
	if len(bytes.TrimSpace(data)) == 0 {
		return &o, nil
	}
	jsonData, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode compatibility overrides")
	}
	if err = validateOverrides(jsonData); err != nil {
		return nil, err
	}
	if err = yaml.UnmarshalStrict(jsonData, &o); err != nil {
		return nil, errors.Wrap(err, "failed to decode compatibility overrides")
	}
	return &o, nil
}

// Apply merges overrides into the tables.
func (o *Overrides) Apply(byStatus map[int]Table, legacy LegacyTable) {
	for _, r := range o.Rules {
		t, ok := byStatus[r.Status]
		if !ok {
			t = Table{}
			byStatus[r.Status] = t
		}
		t[r.From.coordinate().Key] = r.To.coordinate()
	}
	for _, r := range o.Legacy {
		legacy[r.Resource] = r.To.coordinate()
	}
}

// ResolverFromFile returns a Resolver with the built-in tables and overrides from fileName applied.
// An empty fileName yields the default Resolver.
func ResolverFromFile(fileName string) (*Resolver, error) {
	if fileName == "" {
		return DefaultResolver(), nil
	}
	data, err := ioutil.ReadFile(fileName)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read compatibility overrides from %q", fileName)
	}
	o, err := ParseOverrides(data)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid compatibility overrides in %q", fileName)
	}
	byStatus, legacy := DefaultTables(), OAPITable()
	o.Apply(byStatus, legacy)
	return NewResolver(byStatus, legacy), nil
}
