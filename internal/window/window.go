package window

import (
	"agro-logger/internal/reading"
)

// Window is a fixed-capacity circular buffer holding one slot per sampling
// tick for every channel. Storage is allocated once and reused in place; the
// period count tracks how many leading slots belong to the current period.
type Window struct {
	channels []string
	index    map[string]int
	slots    [][]reading.Value
	cursor   int
	count    int
}

func New(channels []string, capacity int) *Window {
	if capacity <= 0 {
		capacity = 1
	}

	w := &Window{
		channels: append([]string(nil), channels...),
		index:    make(map[string]int, len(channels)),
		slots:    make([][]reading.Value, len(channels)),
	}

	for i, ch := range w.channels {
		w.index[ch] = i
		w.slots[i] = make([]reading.Value, capacity)
	}

	return w
}

func (w *Window) Channels() []string {
	return w.channels
}

func (w *Window) Capacity() int {
	if len(w.slots) == 0 {
		return 0
	}

	return len(w.slots[0])
}

func (w *Window) Cursor() int {
	return w.cursor
}

// Count is the number of samples taken this period, saturated at capacity.
func (w *Window) Count() int {
	return w.count
}

// Record writes one slot for every channel at the cursor. Channels missing
// from r are stored as missing so slot positions stay aligned with ticks.
func (w *Window) Record(r reading.Reading) int {
	slot := w.cursor

	for i, ch := range w.channels {
		w.slots[i][slot] = r.Get(ch)
	}

	capacity := w.Capacity()
	if capacity > 0 {
		w.cursor = (w.cursor + 1) % capacity
	}

	if w.count < capacity {
		w.count++
	}

	return slot
}

// Samples returns the backing slots of a channel, including stale ones past
// Count. Callers must not modify the slice.
func (w *Window) Samples(channel string) []reading.Value {
	i, ok := w.index[channel]
	if !ok {
		return nil
	}

	return w.slots[i]
}

// Averages returns the mean of every channel over the current period, in
// channel order.
func (w *Window) Averages() []reading.Value {
	out := make([]reading.Value, len(w.channels))

	for i := range w.channels {
		out[i] = Mean(w.slots[i], w.count)
	}

	return out
}

// Reset marks every slot missing and starts a new period.
func (w *Window) Reset() {
	for i := range w.slots {
		for j := range w.slots[i] {
			w.slots[i][j] = reading.Missing()
		}
	}

	w.cursor = 0
	w.count = 0
}
