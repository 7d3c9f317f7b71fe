package notifyable

import (
	"strings"

	"github.com/clusterlib/clusterlib/common/clerr"
	"github.com/clusterlib/clusterlib/eventbus"
	"github.com/clusterlib/clusterlib/store"
)

// Type is the registered-type descriptor for one concrete notifyable kind.
// NewRegistry constructs one Type per Kind for each Registry it builds;
// a Registry's set of types does not change after NewRegistry returns.
type Type struct {
	Kind     Kind
	ChildDir string // e.g. "applications"; empty for Root, which has none

	// GenerateKey produces the child directory's full repository path.
	GenerateKey func(parentKey, name string) string

	// GenerateRepositoryList produces the ordered set of paths that must
	// exist for an instance of this type, identified by key, to be live.
	// Create walks this list in order; Load verifies every entry exists.
	GenerateRepositoryList func(key string) []string

	// CreateNotifyable builds the in-memory handle for key/name, with its
	// cached attributes pre-wired to their backing paths. It does not
	// touch the store.
	CreateNotifyable func(b Base) Notifyable

	// IsValidKey reports whether components (the key split on "/") is a
	// syntactically valid key for this type, given their count.
	IsValidKey func(components []string) bool

	// GetObjectFromComponents is an optional override hook for resolving
	// an instance of this type from key components. No built-in type sets
	// it, and Resolve does not consult it: every kind, Queue included,
	// resolves through the standard child-dir walk.
	GetObjectFromComponents func(r *Registry, components []string) (Notifyable, error)

	intern *Map[Notifyable]
}

// Registry is the table of registered types for one store and bus, built
// by NewRegistry (factory.New builds one per Factory) and not changed
// thereafter.
type Registry struct {
	Store store.Store
	Bus   *eventbus.Bus

	types map[Kind]*Type
}

// NewRegistry builds a Registry with every built-in type registered.
func NewRegistry(st store.Store, bus *eventbus.Bus) *Registry {
	r := &Registry{Store: st, Bus: bus, types: make(map[Kind]*Type)}
	for _, t := range []*Type{
		rootType(), applicationType(), groupType(), nodeType(),
		processSlotType(), propertyListType(), dataDistributionType(),
		queueType(),
	} {
		t.intern = NewMap[Notifyable]()
		r.types[t.Kind] = t
	}
	return r
}

// TypeOf returns the registered descriptor for kind.
func (r *Registry) TypeOf(kind Kind) *Type {
	return r.types[kind]
}

// Base is the shared construction parameter passed to every
// Type.CreateNotifyable implementation.
type Base struct {
	Registry *Registry
	Key      string
	Name     string
	Parent   Notifyable
}

// intern returns the already-interned handle for key under kind, or builds
// one via the type's CreateNotifyable and interns it.
func (r *Registry) intern(kind Kind, key, name string, parent Notifyable) Notifyable {
	t := r.types[kind]
	return t.intern.GetOrInsert(key, func() Notifyable {
		return t.CreateNotifyable(Base{Registry: r, Key: key, Name: name, Parent: parent})
	})
}

func (r *Registry) forget(kind Kind, key string) {
	r.types[kind].intern.Remove(key)
}

func validateName(name string) error {
	if name == "" {
		return clerr.New(clerr.KindInvalidArguments, "name must not be empty")
	}
	if strings.Contains(name, "/") {
		return clerr.New(clerr.KindInvalidArguments, "name must not contain '/'")
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return clerr.New(clerr.KindInvalidArguments, "name must be printable")
		}
	}
	return nil
}
