package reading

import "sync"

type EventEmitter struct {
	subscribers map[chan Reading]struct{}
	mu          sync.Mutex
}

func NewEventEmitter() *EventEmitter {
	return &EventEmitter{
		subscribers: make(map[chan Reading]struct{}),
	}
}

// Subscribe returns a channel holding at most one pending reading. Slow
// subscribers miss intermediate updates rather than block Emit.
func (e *EventEmitter) Subscribe() chan Reading {
	e.mu.Lock()
	defer e.mu.Unlock()

	ch := make(chan Reading, 1)

	if e.subscribers == nil {
		close(ch)

		return ch
	}

	e.subscribers[ch] = struct{}{}

	return ch
}

func (e *EventEmitter) Unsubscribe(ch chan Reading) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.subscribers[ch]; !ok {
		return
	}

	delete(e.subscribers, ch)
	close(ch)
}

func (e *EventEmitter) Emit(data Reading) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for ch := range e.subscribers {
		select {
		case ch <- data.Clone():
		default:
		}
	}
}

func (e *EventEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for ch := range e.subscribers {
		close(ch)
	}

	e.subscribers = nil
}

func (e *EventEmitter) Size() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return len(e.subscribers)
}
