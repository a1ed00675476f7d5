package reading

import (
	"math"
	"strconv"
)

// Value is a single channel sample that may be missing.
type Value struct {
	V  float64
	OK bool
}

// Some returns a valid value. NaN and infinities are treated as missing.
func Some(v float64) Value {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Value{}
	}

	return Value{V: v, OK: true}
}

// Missing returns a value marking a failed or disconnected read.
func Missing() Value {
	return Value{}
}

// Float returns the value, or NaN when it is missing.
func (v Value) Float() float64 {
	if !v.OK {
		return math.NaN()
	}

	return v.V
}

func (v Value) String() string {
	if !v.OK {
		return "nan"
	}

	return strconv.FormatFloat(v.V, 'f', 2, 64)
}
