// Package presence maps identities to their live delivery channels.
// Bindings are process-lifetime only and never persisted.
package presence

import "sync"

// Channel is a live delivery target for server-initiated pushes. The
// registry holds channels but never closes them; channel lifecycle belongs
// to the transport layer.
type Channel interface {
	Deliver(payload []byte) error
}

// Registry indexes bindings both forward (identity to channel) and backward
// (channel to identity) so unbinding on disconnect is O(1) instead of a
// scan over all entries.
type Registry struct {
	mu         sync.RWMutex
	byIdentity map[string]Channel
	byChannel  map[Channel]string
}

func NewRegistry() *Registry {
	return &Registry{
		byIdentity: make(map[string]Channel),
		byChannel:  make(map[Channel]string),
	}
}

// Bind makes ch the current delivery target for identity. A later binding
// for the same identity silently supersedes an earlier one; the superseded
// channel is left open. A channel that was bound to a different identity
// first releases it, so a channel carries at most one identity and an
// identity at most one channel.
func (r *Registry) Bind(identity string, ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byChannel[ch]; ok && prev != identity {
		delete(r.byIdentity, prev)
	}
	if old, ok := r.byIdentity[identity]; ok && old != ch {
		delete(r.byChannel, old)
	}
	r.byIdentity[identity] = ch
	r.byChannel[ch] = identity
}

// Unbind removes whichever identity is currently bound to exactly this
// channel. Safe to call for a channel with no binding.
func (r *Registry) Unbind(ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	identity, ok := r.byChannel[ch]
	if !ok {
		return
	}
	delete(r.byChannel, ch)
	// A rebinding may have already pointed the identity at a newer channel.
	if r.byIdentity[identity] == ch {
		delete(r.byIdentity, identity)
	}
}

// Lookup returns the channel currently bound to identity, if any.
func (r *Registry) Lookup(identity string) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.byIdentity[identity]
	return ch, ok
}

// Len reports the number of active bindings.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byIdentity)
}
