package maplibre

import "sync"

// Change describes a mutation of a MemoryMap.
type Change struct {
	Kind   string `json:"kind"`   // "source", "layer", "style", "view"
	Action string `json:"action"` // "added", "updated", "removed"
	ID     string `json:"id,omitempty"`
}

// changeBus is a fan-out pub/sub for map changes.
type changeBus struct {
	mu   sync.RWMutex
	subs map[chan Change]struct{}
}

func newChangeBus() *changeBus {
	return &changeBus{subs: make(map[chan Change]struct{})}
}

// publish sends a change to all subscribers without blocking.
func (b *changeBus) publish(c Change) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- c:
		default:
			// subscriber too slow, skip
		}
	}
}

func (b *changeBus) subscribe() chan Change {
	ch := make(chan Change, 16)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *changeBus) unsubscribe(ch chan Change) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}
