package cacheddata

import (
	"context"
	"encoding/json"
	"time"

	"github.com/clusterlib/clusterlib/eventbus"
	"github.com/clusterlib/clusterlib/store"
)

// Reserved keys written into every state history entry alongside the
// caller's own keys.
const (
	StateSetMsecsKey  = "_setMsecs"
	StateSetDateKey   = "_setDate"
	defaultMaxHistory = 5
)

// State is the cached JSON-array attribute backing a notifyable's current
// or desired state: a bounded history of JSON objects, newest last, plus a
// staging object that Publish appends as the newest entry.
type State struct {
	Base

	history        []map[string]json.RawMessage
	staged         map[string]json.RawMessage
	maxHistorySize int
}

// NewState constructs a State bound to path, posting eventType on change.
func NewState(st store.Store, bus *eventbus.Bus, notifyableKey, path string, eventType eventbus.EventType, attrName string) *State {
	s := &State{
		staged:         map[string]json.RawMessage{},
		maxHistorySize: defaultMaxHistory,
	}
	s.Base = Base{
		Store:         st,
		Bus:           bus,
		Path:          path,
		NotifyableKey: notifyableKey,
		EventType:     eventType,
		AttrName:      attrName,
	}
	s.Base.Init(s)
	return s
}

// MarshalState and UnmarshalState assume the caller already holds the
// attribute lock.
func (s *State) MarshalState() ([]byte, error) {
	return json.Marshal(s.history)
}

func (s *State) UnmarshalState(b []byte) error {
	if len(b) == 0 {
		s.history = nil
		return nil
	}
	var h []map[string]json.RawMessage
	if err := json.Unmarshal(b, &h); err != nil {
		return err
	}
	s.history = h
	return nil
}

// SetMaxHistorySize bounds how many entries Publish retains.
func (s *State) SetMaxHistorySize(n int) {
	s.Lock()
	defer s.Unlock()
	if n < 1 {
		n = 1
	}
	s.maxHistorySize = n
}

// MaxHistorySize returns the currently configured bound.
func (s *State) MaxHistorySize() int {
	s.Lock()
	defer s.Unlock()
	return s.maxHistorySize
}

// HistorySize returns the number of entries currently held in memory.
func (s *State) HistorySize() int {
	s.Lock()
	defer s.Unlock()
	return len(s.history)
}

// Stage sets a key in the next entry Publish will append.
func (s *State) Stage(key string, value json.RawMessage) {
	s.Lock()
	defer s.Unlock()
	s.staged[key] = value
}

// GetHistory indexes into the history from newest (0) backwards.
func (s *State) GetHistory(historyIndex int, key string) (json.RawMessage, bool) {
	s.Lock()
	defer s.Unlock()
	n := len(s.history)
	if historyIndex < 0 || historyIndex >= n {
		return nil, false
	}
	entry := s.history[n-1-historyIndex]
	v, ok := entry[key]
	return v, ok
}

// Get is shorthand for GetHistory(0, key): the newest entry.
func (s *State) Get(key string) (json.RawMessage, bool) {
	return s.GetHistory(0, key)
}

// HistoryKeys returns the keys present in the entry at historyIndex.
func (s *State) HistoryKeys(historyIndex int) []string {
	s.Lock()
	defer s.Unlock()
	n := len(s.history)
	if historyIndex < 0 || historyIndex >= n {
		return nil
	}
	entry := s.history[n-1-historyIndex]
	keys := make([]string, 0, len(entry))
	for k := range entry {
		keys = append(keys, k)
	}
	return keys
}

// PublishState appends the staged entry to the history (stamping the
// reserved time keys), trims to maxHistorySize, clears staging, and writes
// through Base.Publish.
func (s *State) PublishState(ctx context.Context, unconditional bool) error {
	now := time.Now()
	s.Lock()
	entry := make(map[string]json.RawMessage, len(s.staged)+2)
	for k, v := range s.staged {
		entry[k] = v
	}
	msecs, _ := json.Marshal(now.UnixMilli())
	dateStr, _ := json.Marshal(now.UTC().Format(time.RFC3339))
	entry[StateSetMsecsKey] = msecs
	entry[StateSetDateKey] = dateStr

	s.history = append(s.history, entry)
	if len(s.history) > s.maxHistorySize {
		s.history = s.history[len(s.history)-s.maxHistorySize:]
	}
	s.staged = map[string]json.RawMessage{}
	s.Unlock()

	return s.Base.Publish(ctx, unconditional)
}

var _ Codec = (*State)(nil)
