// Package broadcast implements the subscription token fan-out fabric:
// a cat subscription binds a session to a resource via a deterministic
// integer key; a driver publish walks the session table and writes to
// every session whose key matches.
package broadcast

import (
	"github.com/bob-dpi/pcdaemon/internal/pcconst"
)

// Key deterministically encodes (slot, resourceIndex) so that zero
// remains a unique "no subscribers" sentinel.
func Key(slot, resourceIndex int) int {
	return slot*pcconst.MaxResourcesPerSlot + resourceIndex + 1
}

// Session is the minimal view of a UI session the fabric needs: its
// connection index, current broadcast binding, and a way to deliver
// bytes or discover the session is gone.
type Session interface {
	ConnIndex() int
	BroadcastKey() int
	SetBroadcastKey(key int)
	Write(payload []byte) error
	// Close tears the session down; implementations are expected to
	// clear the session's own broadcast key as part of teardown.
	Close() error
}

// Fabric owns no state of its own beyond what each resource and
// session already carry; it is the pure fan-out/subscribe logic,
// shaped after a non-blocking best-effort delivery loop, simplified
// from a topic trie down to flat integer-key equality since there are
// no wildcards or retained messages in this model.
type Fabric struct {
	sessions func() []Session
}

// New returns a Fabric that enumerates live sessions via list.
func New(list func() []Session) *Fabric {
	return &Fabric{sessions: list}
}

// Subscribe binds session to (slot, resourceIndex), setting the
// resource's broadcast key if this is its first subscriber.
func (f *Fabric) Subscribe(session Session, resourceKeySlot *int, slot, resourceIndex int) {
	k := Key(slot, resourceIndex)
	session.SetBroadcastKey(k)
	if *resourceKeySlot == pcconst.NoKey {
		*resourceKeySlot = k
	}
}

// Unsubscribe clears a session's own binding unconditionally on
// disconnect; the resource-side key is left to be cleared lazily by
// the next empty Publish.
func (f *Fabric) Unsubscribe(session Session) {
	session.SetBroadcastKey(pcconst.NoKey)
}

// Publish formats nothing itself: callers are expected to skip
// formatting entirely when *resourceKeySlot == 0 before ever calling
// Publish, to avoid wasted work when nobody is subscribed. It walks
// all sessions, writes payload to every one whose key matches, tears
// down any session whose write fails, and clears *resourceKeySlot back
// to 0 if no session matched.
func (f *Fabric) Publish(resourceKeySlot *int, payload []byte) {
	key := *resourceKeySlot
	if key == pcconst.NoKey {
		return
	}
	matched := 0
	for _, s := range f.sessions() {
		if s.BroadcastKey() != key {
			continue
		}
		matched++
		if err := s.Write(payload); err != nil {
			_ = s.Close()
		}
	}
	if matched == 0 {
		*resourceKeySlot = pcconst.NoKey
	}
}
