// Package storage provides database-backed stores for the classifier: labeled
// email samples feeding training and fitted models serialized for reuse.
// Both stores work on top of the engine package and support sqlite and
// postgres backends.
package storage

import "fmt"

// Origin represents where a sample came from
type Origin string

// enum of sample origins
const (
	OriginPreset Origin = "preset" // loaded from the corpus directory
	OriginUser   Origin = "user"   // added at runtime via the api
	OriginAny    Origin = "any"    // read filter matching any origin
)

// Validate checks if the origin is one of the known values
func (o Origin) Validate() error {
	switch o {
	case OriginPreset, OriginUser, OriginAny:
		return nil
	}
	return fmt.Errorf("invalid sample origin %q", o)
}
