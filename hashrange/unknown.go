package hashrange

import "encoding/json"

// UnknownHashRange preserves the JSON payload of a HashRange whose concrete
// type this process has not registered, so data round-trips without loss
// even when the reader doesn't know how to interpret it.
type UnknownHashRange struct {
	Type string
	Raw  json.RawMessage
}

func (u *UnknownHashRange) Begin() HashRange { return u }
func (u *UnknownHashRange) End() HashRange   { return u }
func (u *UnknownHashRange) Next() HashRange  { return u }

func (u *UnknownHashRange) Compare(other HashRange) int {
	o, ok := other.(*UnknownHashRange)
	if !ok || o.Type != u.Type {
		panic("hashrange: cannot compare unknown hash range types")
	}
	return 0
}

func (u *UnknownHashRange) IsEnd() bool { return false }

func (u *UnknownHashRange) TypeName() string { return u.Type }

func (u *UnknownHashRange) MarshalJSON() ([]byte, error) {
	if u.Raw == nil {
		return []byte("null"), nil
	}
	return u.Raw, nil
}

func (u *UnknownHashRange) UnmarshalJSON(b []byte) error {
	u.Raw = append(json.RawMessage(nil), b...)
	return nil
}
