package notifyable

import "context"

// Capability interfaces let a concrete kind compose exactly the child-type
// accessors its entity-table row allows, standing in for the deep
// inheritance chain (Notifyable -> Group -> Application -> ...) of a
// single-dispatch origin. Registered-type descriptors, not virtual
// dispatch, drive what each concrete struct actually does.

type HasApplications interface {
	ApplicationNames(ctx context.Context) ([]string, error)
	Application(ctx context.Context, name string, access Access) (*Application, bool, error)
}

type HasGroups interface {
	GroupNames(ctx context.Context) ([]string, error)
	Group(ctx context.Context, name string, access Access) (*Group, bool, error)
}

type HasNodes interface {
	NodeNames(ctx context.Context) ([]string, error)
	Node(ctx context.Context, name string, access Access) (*Node, bool, error)
}

type HasProcessSlots interface {
	ProcessSlotNames(ctx context.Context) ([]string, error)
	ProcessSlot(ctx context.Context, name string, access Access) (*ProcessSlot, bool, error)
}

type HasDistributions interface {
	DistributionNames(ctx context.Context) ([]string, error)
	Distribution(ctx context.Context, name string, access Access) (*DataDistribution, bool, error)
}

type HasPropertyLists interface {
	PropertyListNames(ctx context.Context) ([]string, error)
	PropertyList(ctx context.Context, name string, access Access) (*PropertyList, bool, error)
}

type HasQueues interface {
	QueueNames(ctx context.Context) ([]string, error)
	Queue(ctx context.Context, name string, access Access) (*Queue, bool, error)
}
