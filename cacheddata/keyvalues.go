package cacheddata

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/clusterlib/clusterlib/common/clerr"
	"github.com/clusterlib/clusterlib/eventbus"
	"github.com/clusterlib/clusterlib/store"
)

// KeyValues is the cached JSON-object attribute backing a PropertyList.
type KeyValues struct {
	Base

	data map[string]json.RawMessage

	// ListName identifies this property list by name for searchParent
	// resolution. ParentLookup, if set, returns the nearest enclosing
	// KeyValues of the same ListName, or nil if there is none.
	ListName     string
	ParentLookup func() *KeyValues
}

// NewKeyValues constructs a KeyValues bound to path and registers it with
// the bus for watch-driven reload.
func NewKeyValues(st store.Store, bus *eventbus.Bus, notifyableKey, path, listName string) *KeyValues {
	kv := &KeyValues{
		data:     map[string]json.RawMessage{},
		ListName: listName,
	}
	kv.Base = Base{
		Store:         st,
		Bus:           bus,
		Path:          path,
		NotifyableKey: notifyableKey,
		EventType:     eventbus.EventPropertyListValuesChange,
		AttrName:      "key_values",
	}
	kv.Base.Init(kv)
	return kv
}

// MarshalState and UnmarshalState assume the caller (Base.Publish or
// Base.Reset) already holds the attribute lock.
func (kv *KeyValues) MarshalState() ([]byte, error) {
	return json.Marshal(kv.data)
}

func (kv *KeyValues) UnmarshalState(b []byte) error {
	if len(b) == 0 {
		kv.data = map[string]json.RawMessage{}
		return nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	kv.data = m
	return nil
}

// Get returns the raw JSON value for key. If not present locally and
// searchParent is true, it walks up to the nearest enclosing property list
// of the same name and retries there, reporting which list produced the
// hit via fromListName.
func (kv *KeyValues) Get(ctx context.Context, key string, searchParent bool) (value json.RawMessage, fromListName string, found bool, err error) {
	if err := kv.EnsureLoaded(ctx); err != nil {
		return nil, "", false, err
	}
	kv.Lock()
	v, ok := kv.data[key]
	kv.Unlock()
	if ok {
		return v, kv.ListName, true, nil
	}
	if !searchParent || kv.ParentLookup == nil {
		return nil, "", false, nil
	}
	parent := kv.ParentLookup()
	if parent == nil {
		return nil, "", false, nil
	}
	return parent.Get(ctx, key, searchParent)
}

// Set stages a key/value pair for the next Publish.
func (kv *KeyValues) Set(key string, value json.RawMessage) error {
	if err := validateKey(key); err != nil {
		return err
	}
	kv.Lock()
	defer kv.Unlock()
	kv.data[key] = value
	return nil
}

// Erase removes key from the staged content, reporting whether it was
// present.
func (kv *KeyValues) Erase(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	kv.Lock()
	defer kv.Unlock()
	_, ok := kv.data[key]
	delete(kv.data, key)
	return ok, nil
}

// Clear removes every staged key.
func (kv *KeyValues) Clear() {
	kv.Lock()
	defer kv.Unlock()
	kv.data = map[string]json.RawMessage{}
}

// GetKeys returns the staged keys in sorted order.
func (kv *KeyValues) GetKeys() []string {
	kv.Lock()
	defer kv.Unlock()
	keys := make([]string, 0, len(kv.data))
	for k := range kv.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var _ Codec = (*KeyValues)(nil)

// validateKey rejects an empty key with clerr.KindInvalidArguments, the
// invalid-arguments boundary rule shared by every cached-data type; Set
// and Erase call it.
func validateKey(key string) error {
	if key == "" {
		return clerr.New(clerr.KindInvalidArguments, "key must not be empty")
	}
	return nil
}
