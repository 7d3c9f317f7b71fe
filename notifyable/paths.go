// Package notifyable implements the typed hierarchy (Root, Application,
// Group, Node, ProcessSlot, PropertyList, DataDistribution, Queue) that
// turns coordination-store paths into live, cached, watched handles.
package notifyable

// Child directory names, fixed across every notifyable kind that accepts
// the given child type. A notifyable's key is always
// parent.Key() + "/" + one of these + "/" + name.
const (
	DirApplications  = "applications"
	DirGroups        = "groups"
	DirNodes         = "nodes"
	DirProcessSlots  = "processSlots"
	DirDistributions = "distributions"
	DirPropertyLists = "propertyLists"
	DirQueues        = "queues"
	DirLocks         = "locks"
	DirLeaders       = "leaders"
)

// Attribute path segments hanging directly off a notifyable's own key.
const (
	AttrCurrentState     = "currentState"
	AttrDesiredState     = "desiredState"
	AttrKeyValues        = "keyValues"
	AttrShards           = "shards"
	AttrProcessInfo      = "processInfo"
	AttrProcessSlotInfo  = "processSlotInfo"
	AttrClientState      = "clientState"
	AttrMasterState      = "masterState"
	AttrConnectionEphem  = "connection"
	AttrHealth           = "health"
	AttrQueueElementsDir = "elements"
)

// rootKey is the repository path of the well-known singleton Root.
const rootKey = "/root"
