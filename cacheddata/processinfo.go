package cacheddata

import (
	"encoding/json"

	"github.com/clusterlib/clusterlib/eventbus"
	"github.com/clusterlib/clusterlib/store"
)

// ProcessInfo is the cached two-tuple [hostnames[], ports[]] attribute
// backing a ProcessSlot's running-process record.
type ProcessInfo struct {
	Base

	hostnames []string
	ports     []int32
}

// NewProcessInfo constructs a ProcessInfo bound to path.
func NewProcessInfo(st store.Store, bus *eventbus.Bus, notifyableKey, path string) *ProcessInfo {
	p := &ProcessInfo{}
	p.Base = Base{
		Store:         st,
		Bus:           bus,
		Path:          path,
		NotifyableKey: notifyableKey,
		EventType:     eventbus.EventProcessSlotInfoChange,
		AttrName:      "process_info",
	}
	p.Base.Init(p)
	return p
}

// MarshalState and UnmarshalState assume the caller already holds the
// attribute lock.
func (p *ProcessInfo) MarshalState() ([]byte, error) {
	return json.Marshal([2]interface{}{p.hostnames, p.ports})
}

func (p *ProcessInfo) UnmarshalState(b []byte) error {
	if len(b) == 0 {
		p.hostnames, p.ports = nil, nil
		return nil
	}
	var tuple [2]json.RawMessage
	if err := json.Unmarshal(b, &tuple); err != nil {
		return err
	}
	var hostnames []string
	var ports []int32
	if err := json.Unmarshal(tuple[0], &hostnames); err != nil {
		return err
	}
	if err := json.Unmarshal(tuple[1], &ports); err != nil {
		return err
	}
	p.hostnames, p.ports = hostnames, ports
	return nil
}

// Set stages the full hostnames/ports pair for the next Publish.
func (p *ProcessInfo) Set(hostnames []string, ports []int32) {
	p.Lock()
	defer p.Unlock()
	p.hostnames = append([]string(nil), hostnames...)
	p.ports = append([]int32(nil), ports...)
}

// Get returns the staged hostnames/ports pair.
func (p *ProcessInfo) Get() (hostnames []string, ports []int32) {
	p.Lock()
	defer p.Unlock()
	return append([]string(nil), p.hostnames...), append([]int32(nil), p.ports...)
}

var _ Codec = (*ProcessInfo)(nil)
