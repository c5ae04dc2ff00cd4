// Package bridge implements the event-to-condition debounce bridge (spec
// §3 "Bucket flag", §4.1 step 2, §4.5, §5 "event bridge debounces: at most
// one firing per event per tick"). Listeners post into the bridge from
// their own workers; the scheduler drains it once per tick. Grounded on
// catrate's per-category atomic bucket state
// (_teacher/catrate/limiter.go), simplified here to a plain debounce flag
// since there is no rate window to slide, only a single coalesced pending
// bit per event.
package bridge

import "sync"

// Bridge coalesces concurrent event notifications into a set of event
// names pending delivery at the next tick.
type Bridge struct {
	mu      sync.Mutex
	pending map[string]struct{}
}

func New() *Bridge {
	return &Bridge{pending: make(map[string]struct{})}
}

// Post records that eventName fired. Multiple posts for the same event
// within a tick collapse into a single pending entry.
func (b *Bridge) Post(eventName string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending[eventName] = struct{}{}
}

// Drain returns every event name posted since the last Drain and clears
// the pending set. Called once per tick by the scheduler (spec §4.1 step
// 2: "drain the event bridge").
func (b *Bridge) Drain() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) == 0 {
		return nil
	}
	out := make([]string, 0, len(b.pending))
	for name := range b.pending {
		out = append(out, name)
	}
	b.pending = make(map[string]struct{})
	return out
}
