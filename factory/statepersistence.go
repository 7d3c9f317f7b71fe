package factory

import (
	"context"
	"encoding/json"

	"github.com/clusterlib/clusterlib/notifyable"
)

// PropertyListPersistence backs an rpc.StatePersistence with a
// PropertyList's key-values, so RPC method state durably survives a
// server restart.
type PropertyListPersistence struct {
	list *notifyable.PropertyList
}

// NewPropertyListPersistence wraps list as an rpc.StatePersistence.
func NewPropertyListPersistence(list *notifyable.PropertyList) *PropertyListPersistence {
	return &PropertyListPersistence{list: list}
}

func (p *PropertyListPersistence) Get(ctx context.Context, name string) (json.RawMessage, bool, error) {
	value, _, found, err := p.list.KeyValues().Get(ctx, name, false)
	return value, found, err
}

func (p *PropertyListPersistence) Set(ctx context.Context, name string, value json.RawMessage) error {
	if err := p.list.KeyValues().Set(name, value); err != nil {
		return err
	}
	return p.list.KeyValues().Publish(ctx, false)
}

func (p *PropertyListPersistence) Erase(ctx context.Context, name string) error {
	if _, err := p.list.KeyValues().Erase(name); err != nil {
		return err
	}
	return p.list.KeyValues().Publish(ctx, false)
}
