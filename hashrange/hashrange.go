// Package hashrange implements the polymorphic ordered hash key used by
// consistent-hash data distributions: a begin/end sentinel range with
// increment, equality, and JSON round-trip, plus the Jenkins-based byte
// string hash clusterlib uses to place keys within it.
package hashrange

import "encoding/json"

// HashRange is an abstract, totally ordered hash key. Concrete types (the
// default being Uint64HashRange) implement ordering, begin/end sentinels,
// Next() to the next representable value, and JSON round-trip.
type HashRange interface {
	// Begin returns the minimum representable value of this concrete type.
	Begin() HashRange
	// End returns the maximum representable value of this concrete type.
	End() HashRange
	// Next returns the next representable value. Does not wrap at the
	// maximum; calling Next() on End() returns End() unchanged.
	Next() HashRange
	// Compare returns <0, 0, >0 as this range is less than, equal to, or
	// greater than other. Comparing across concrete types panics.
	Compare(other HashRange) int
	// IsEnd reports whether this value is the terminal (maximum) value of
	// its concrete type. A range covering [k, End()] is MAX-inclusive.
	IsEnd() bool
	// TypeName identifies the concrete type for JSON round-trip by readers
	// that don't know the concrete type.
	TypeName() string

	json.Marshaler
	json.Unmarshaler
}

// Factory constructs empty instances of a concrete HashRange type, keyed by
// TypeName, so unknown types still round-trip their JSON payload opaquely.
type Factory interface {
	New() HashRange
}

var factories = map[string]Factory{}

// Register adds a concrete HashRange type's factory to the process-wide
// registry, keyed by its TypeName.
func Register(typeName string, f Factory) {
	factories[typeName] = f
}

// Empty returns a new, empty instance of the named type, or an
// *UnknownHashRange shim if the type was never registered.
func Empty(typeName string) HashRange {
	if f, ok := factories[typeName]; ok {
		return f.New()
	}
	return &UnknownHashRange{Type: typeName}
}

func init() {
	Register(uint64TypeName, uint64Factory{})
}
