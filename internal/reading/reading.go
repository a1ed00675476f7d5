package reading

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Reading is one reading set: a value per named channel taken at Timestamp.
// A channel absent from Values is missing.
type Reading struct {
	Values    map[string]Value
	Timestamp time.Time
}

func New(ts time.Time) Reading {
	return Reading{
		Values:    make(map[string]Value),
		Timestamp: ts,
	}
}

// Get returns the channel value, missing when the channel is absent.
func (r Reading) Get(channel string) Value {
	return r.Values[channel]
}

func (r Reading) Set(channel string, v Value) {
	r.Values[channel] = v
}

// Clone returns a deep copy safe to hand to another goroutine.
func (r Reading) Clone() Reading {
	c := New(r.Timestamp)
	for k, v := range r.Values {
		c.Values[k] = v
	}

	return c
}

func (r Reading) String() string {
	keys := make([]string, 0, len(r.Values))
	for k := range r.Values {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	var b strings.Builder

	for i, k := range keys {
		if i > 0 {
			b.WriteByte(' ')
		}

		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(r.Values[k].String())
	}

	return b.String()
}

// Floats returns the reading as channel -> float with missing values as nil,
// suitable for JSON encoding.
func (r Reading) Floats() map[string]*float64 {
	out := make(map[string]*float64, len(r.Values))

	for k, v := range r.Values {
		if !v.OK {
			out[k] = nil

			continue
		}

		f := v.V
		out[k] = &f
	}

	return out
}

type SafeReading struct {
	data Reading
	mu   sync.Mutex
}

func NewSafeReading() *SafeReading {
	return &SafeReading{
		data: New(time.Time{}),
	}
}

func (sr *SafeReading) Set(data Reading) {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	sr.data = data.Clone()
}

func (sr *SafeReading) Get() Reading {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	return sr.data.Clone()
}
