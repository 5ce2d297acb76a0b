package compat

import (
	"github.com/atlassian/apicompat/pkg/coordinate"
)

// Resolver looks up alternate coordinates for rejected requests.
// It owns private copies of its tables, so it is safe for concurrent use.
type Resolver struct {
	byStatus map[int]Table
	legacy   LegacyTable
}

// NewResolver copies the tables. Mutating the arguments afterwards does not affect the Resolver.
func NewResolver(byStatus map[int]Table, legacy LegacyTable) *Resolver {
	r := &Resolver{
		byStatus: make(map[int]Table, len(byStatus)),
		legacy:   make(LegacyTable, len(legacy)),
	}
	for status, table := range byStatus {
		t := make(Table, len(table))
		for k, v := range table {
			t[k] = v
		}
		r.byStatus[status] = t
	}
	for k, v := range legacy {
		r.legacy[k] = v
	}
	return r
}

// DefaultResolver returns a Resolver with the built-in tables.
func DefaultResolver() *Resolver {
	return NewResolver(DefaultTables(), OAPITable())
}

// Handles reports whether responses with the status code are eligible for a rewrite.
func (r *Resolver) Handles(status int) bool {
	_, ok := r.byStatus[status]
	return ok
}

// Resolve returns the coordinate to retry with.
func (r *Resolver) Resolve(status int, key coordinate.Key) (coordinate.Coordinate, bool) {
	table, ok := r.byStatus[status]
	if !ok {
		return coordinate.Coordinate{}, false
	}
	target, ok := table[key]
	return target, ok
}

// ResolveLegacy returns the per-resource group coordinate for a resource that was served under /oapi.
func (r *Resolver) ResolveLegacy(resource string) (coordinate.Coordinate, bool) {
	target, ok := r.legacy[resource]
	return target, ok
}
