package notifyable

import "github.com/clusterlib/clusterlib/common/clerr"

// State is a notifyable's lifecycle state. READY notifyables satisfy every
// accessor. On a REMOVED notifyable, Remove and Group.TryToBecomeLeader fail
// with clerr.KindObjectRemoved; other accessors, including cached-attribute
// reads and publishes and child lookups, do not check the state.
type State int

const (
	StateReady State = iota
	StateRemoved
)

func (s State) String() string {
	if s == StateRemoved {
		return "REMOVED"
	}
	return "READY"
}

// Kind identifies a notifyable's registered type.
type Kind string

const (
	KindRoot             Kind = "root"
	KindApplication      Kind = "application"
	KindGroup            Kind = "group"
	KindNode             Kind = "node"
	KindProcessSlot      Kind = "processSlot"
	KindPropertyList     Kind = "propertyList"
	KindDataDistribution Kind = "dataDistribution"
	KindQueue            Kind = "queue"
)

// Access controls how a child-lookup behaves when the child is not already
// interned.
type Access int

const (
	// CachedOnly returns only an already-interned handle, never touching
	// the store.
	CachedOnly Access = iota
	// LoadFromRepository interns and returns a handle if the child is
	// live in the store, or a not-found result if it isn't.
	LoadFromRepository
	// CreateIfNotFound creates the child's repository structure if it is
	// not already live, then interns and returns its handle.
	CreateIfNotFound
)

// Notifyable is the common contract satisfied by every entity in the typed
// hierarchy. Concrete kinds compose this with capability interfaces for
// the child types they accept.
type Notifyable interface {
	Name() string
	Key() string
	Kind() Kind
	Parent() Notifyable
	State() State
}

// errRemoved is returned by mutating accessors on a REMOVED notifyable.
func errRemoved(key string) error {
	return clerr.New(clerr.KindObjectRemoved, "notifyable removed: "+key)
}
