package notifyable

import "context"

// Queue is the structural notifyable backing a durable FIFO work queue.
// It owns no cached attribute itself; the queue package reads and writes
// directly under ElementsKey using sequence nodes, and posts
// EventQueueChildChange against Key() on every Put/Take.
type Queue struct {
	Handle
}

func queueType() *Type {
	return &Type{
		Kind:     KindQueue,
		ChildDir: DirQueues,
		GenerateKey: func(parentKey, name string) string {
			return parentKey + "/" + DirQueues + "/" + name
		},
		GenerateRepositoryList: func(key string) []string {
			return []string{
				key,
				key + "/" + AttrQueueElementsDir,
				key + "/" + DirLocks,
			}
		},
		CreateNotifyable: func(b Base) Notifyable {
			return &Queue{Handle: newHandle(b.Registry, KindQueue, b.Key, b.Name, b.Parent)}
		},
		IsValidKey: func(components []string) bool { return len(components) >= 3 },
	}
}

// ElementsKey is the repository directory the queue package enqueues
// sequence nodes under.
func (q *Queue) ElementsKey() string { return q.key + "/" + AttrQueueElementsDir }

func (q *Queue) Remove(ctx context.Context, recursive bool) error {
	t := q.registry.types[KindQueue]
	return removeNotifyable(ctx, q.registry, &q.Handle, t.GenerateRepositoryList(q.key), recursive, nil)
}

var _ Notifyable = (*Queue)(nil)
