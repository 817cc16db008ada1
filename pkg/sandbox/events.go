// Loomgate - personal AI agent gateway
//
// Copyright (c) 2026 Loomgate contributors

package sandbox

import "sync"

// LifecycleEventKind tags a LifecycleEvent's variant, mirroring §4.4.5's
// Provisioning | Provisioned | ProvisionFailed sum.
type LifecycleEventKind string

const (
	LifecycleProvisioning    LifecycleEventKind = "provisioning"
	LifecycleProvisioned     LifecycleEventKind = "provisioned"
	LifecycleProvisionFailed LifecycleEventKind = "provision_failed"
)

// LifecycleEvent is published on the router's lifecycle broadcast as a
// scoped container comes up, succeeds, or fails.
type LifecycleEvent struct {
	Kind      LifecycleEventKind
	Container string
	Packages  []string
	Error     string
}

// lifecycleBroadcastBuffer bounds how far a slow subscriber can lag; once
// its buffer is full, new events are dropped for it. The broadcast is lossy
// for slow subscribers by design (§5), not a delivery guarantee.
const lifecycleBroadcastBuffer = 32

// LifecycleBroadcaster fans LifecycleEvents out to any number of
// subscribers. Publishing never blocks: a subscriber whose channel is full
// simply misses the event.
type LifecycleBroadcaster struct {
	mu   sync.Mutex
	subs map[chan LifecycleEvent]struct{}
}

// NewLifecycleBroadcaster builds an empty broadcaster.
func NewLifecycleBroadcaster() *LifecycleBroadcaster {
	return &LifecycleBroadcaster{subs: make(map[chan LifecycleEvent]struct{})}
}

// Subscribe registers a new listener and returns its channel plus an
// unsubscribe function the caller must call when done listening.
func (b *LifecycleBroadcaster) Subscribe() (<-chan LifecycleEvent, func()) {
	ch := make(chan LifecycleEvent, lifecycleBroadcastBuffer)
	if b == nil {
		return ch, func() {}
	}
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, unsubscribe
}

// Publish fans out ev to every current subscriber, dropping it for any
// subscriber whose buffer is currently full.
func (b *LifecycleBroadcaster) Publish(ev LifecycleEvent) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
