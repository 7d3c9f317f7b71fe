package hashrange

import (
	"encoding/json"
	"fmt"
	"math"
)

const uint64TypeName = "uint64"

// Uint64HashRange is the default concrete HashRange: an unsigned 64-bit
// value ordered numerically, with [0, math.MaxUint64] as its domain.
//
// Uint64HashRange.Next does not wrap at MaxUint64; IsEnd is true only at
// MaxUint64 — a range covering [k, MaxUint64] is therefore MAX-inclusive,
// matching the original implementation's non-wrapping increment.
type Uint64HashRange uint64

type uint64Factory struct{}

func (uint64Factory) New() HashRange {
	var v Uint64HashRange
	return &v
}

func (v *Uint64HashRange) Begin() HashRange {
	var b Uint64HashRange
	return &b
}

func (v *Uint64HashRange) End() HashRange {
	e := Uint64HashRange(math.MaxUint64)
	return &e
}

func (v *Uint64HashRange) Next() HashRange {
	if uint64(*v) == math.MaxUint64 {
		e := *v
		return &e
	}
	n := *v + 1
	return &n
}

func (v *Uint64HashRange) Compare(other HashRange) int {
	o, ok := other.(*Uint64HashRange)
	if !ok {
		panic(fmt.Sprintf("hashrange: cannot compare %s to %s", v.TypeName(), other.TypeName()))
	}
	switch {
	case uint64(*v) < uint64(*o):
		return -1
	case uint64(*v) > uint64(*o):
		return 1
	default:
		return 0
	}
}

func (v *Uint64HashRange) IsEnd() bool {
	return uint64(*v) == math.MaxUint64
}

func (v *Uint64HashRange) TypeName() string {
	return uint64TypeName
}

func (v *Uint64HashRange) MarshalJSON() ([]byte, error) {
	return json.Marshal(uint64(*v))
}

func (v *Uint64HashRange) UnmarshalJSON(b []byte) error {
	var n uint64
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*v = Uint64HashRange(n)
	return nil
}

// NewUint64HashRange wraps a literal value as a Uint64HashRange.
func NewUint64HashRange(v uint64) *Uint64HashRange {
	r := Uint64HashRange(v)
	return &r
}
