package live

import (
	"sync"
	"time"

	"agro-logger/internal/reading"
)

type eventEmitter interface {
	Emit(r reading.Reading)
}

type observer interface {
	Live(r reading.Reading)
}

// Tracker keeps the last-known-good value of every channel for dashboards.
// A missing read leaves the previous value in place, unlike the averaging
// window which records it as missing.
type Tracker struct {
	mu       sync.RWMutex
	current  reading.Reading
	channels []string
	emitter  eventEmitter
	observer observer
}

func NewTracker(channels []string, emitter eventEmitter, obs observer) *Tracker {
	current := reading.New(time.Time{})
	for _, ch := range channels {
		current.Set(ch, reading.Missing())
	}

	return &Tracker{
		current:  current,
		channels: channels,
		emitter:  emitter,
		observer: obs,
	}
}

// Update merges r and publishes the resulting snapshot.
func (t *Tracker) Update(r reading.Reading) reading.Reading {
	t.mu.Lock()

	for _, ch := range t.channels {
		if v := r.Get(ch); v.OK {
			t.current.Set(ch, v)
		}
	}

	t.current.Timestamp = r.Timestamp
	snapshot := t.current.Clone()

	t.mu.Unlock()

	if t.observer != nil {
		t.observer.Live(snapshot)
	}

	if t.emitter != nil {
		t.emitter.Emit(snapshot)
	}

	return snapshot
}

func (t *Tracker) Current() reading.Reading {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.current.Clone()
}
