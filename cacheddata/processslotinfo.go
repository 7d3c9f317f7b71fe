package cacheddata

import (
	"encoding/json"

	"github.com/clusterlib/clusterlib/eventbus"
	"github.com/clusterlib/clusterlib/store"
)

// ProcessSlotInfo is the cached [enable, maxSlots] attribute backing a
// Node's process-slot capacity record.
type ProcessSlotInfo struct {
	Base

	enable   bool
	maxSlots int32
}

// NewProcessSlotInfo constructs a ProcessSlotInfo bound to path.
func NewProcessSlotInfo(st store.Store, bus *eventbus.Bus, notifyableKey, path string) *ProcessSlotInfo {
	p := &ProcessSlotInfo{}
	p.Base = Base{
		Store:         st,
		Bus:           bus,
		Path:          path,
		NotifyableKey: notifyableKey,
		EventType:     eventbus.EventMasterStateChange,
		AttrName:      "process_slot_info",
	}
	p.Base.Init(p)
	return p
}

// MarshalState and UnmarshalState assume the caller already holds the
// attribute lock.
func (p *ProcessSlotInfo) MarshalState() ([]byte, error) {
	return json.Marshal([2]interface{}{p.enable, p.maxSlots})
}

func (p *ProcessSlotInfo) UnmarshalState(b []byte) error {
	if len(b) == 0 {
		p.enable, p.maxSlots = false, 0
		return nil
	}
	var tuple [2]json.RawMessage
	if err := json.Unmarshal(b, &tuple); err != nil {
		return err
	}
	var enable bool
	var maxSlots int32
	if err := json.Unmarshal(tuple[0], &enable); err != nil {
		return err
	}
	if err := json.Unmarshal(tuple[1], &maxSlots); err != nil {
		return err
	}
	p.enable, p.maxSlots = enable, maxSlots
	return nil
}

// Set stages the enable flag and maximum slot count for the next Publish.
func (p *ProcessSlotInfo) Set(enable bool, maxSlots int32) {
	p.Lock()
	defer p.Unlock()
	p.enable, p.maxSlots = enable, maxSlots
}

// Get returns the staged enable flag and maximum slot count.
func (p *ProcessSlotInfo) Get() (enable bool, maxSlots int32) {
	p.Lock()
	defer p.Unlock()
	return p.enable, p.maxSlots
}

var _ Codec = (*ProcessSlotInfo)(nil)
