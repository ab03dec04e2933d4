// Package resource implements the named get/set/broadcast handles a
// driver exposes on its slot.
package resource

import (
	"bytes"

	"github.com/bob-dpi/pcdaemon/internal/pcconst"
)

// AccessFlag marks what a resource supports.
type AccessFlag int

const (
	Readable AccessFlag = 1 << iota
	Writable
	Broadcastable
)

// Op is the operation a Callback is asked to perform.
type Op int

const (
	OpGet Op = iota
	OpSet
)

// Lock identifies the session owed a deferred reply, by both its pool
// index and the generation stamped on it at accept time. The index
// alone can be recycled to a brand new connection before a deferred
// hardware read completes; carrying the generation lets the caller
// detect that the "same" index now names someone else and discard the
// stale reply instead of misrouting it.
type Lock struct {
	Session    int
	Generation int64
}

// NoLock is the distinguished Lock value meaning no session is
// waiting.
var NoLock = Lock{Session: pcconst.NoSession}

// Held reports whether l names a real pending caller.
func (l Lock) Held() bool { return l.Session != pcconst.NoSession }

// Callback implements a resource's get/set behaviour. arg is the raw
// remainder of the command line for a set, empty for a get. caller
// identifies the issuing session. resp accumulates the text response;
// leaving it empty on a get defers the reply (the driver will route it
// later via its UI lock).
type Callback func(op Op, arg string, caller Lock, resp *bytes.Buffer) error

// Resource is a named handle inside a slot. Its set of fields is
// complete after driver init and does not change for the driver's
// lifetime.
type Resource struct {
	Name     string
	Flags    AccessFlag
	Callback Callback

	// UILock is the caller with a pending hardware read on this
	// resource, or NoLock. A second get issued while the lock is
	// already held overwrites the prior holder (last-caller-wins)
	// rather than queuing or rejecting.
	UILock Lock

	// BroadcastKey is 0 when no session is subscribed, otherwise the
	// token shared with every subscribed session.
	BroadcastKey int
}

func (r Resource) CanRead() bool      { return r.Flags&Readable != 0 }
func (r Resource) CanWrite() bool     { return r.Flags&Writable != 0 }
func (r Resource) CanBroadcast() bool { return r.Flags&Broadcastable != 0 }

// Table is the fixed-size resource array a slot owns.
type Table [pcconst.MaxResourcesPerSlot]Resource

// IndexOf returns the index of the named resource, or -1.
func (t *Table) IndexOf(name string) int {
	for i := range t {
		if t[i].Name == name {
			return i
		}
	}
	return -1
}
