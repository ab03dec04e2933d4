// Package reactor implements the daemon's single-threaded, cooperative
// event loop: a bounded timer pool plus an epoll-driven readiness
// multiplex over a bounded set of file handles.
package reactor

import "time"

// Interest is the readiness kind a registered handle is watched for.
type Interest int

const (
	Readable Interest = 1 << iota
	Writable
)

// TimerKind distinguishes a free pool slot from a live one-shot or
// periodic timer. The zero value is Unused so a zeroed pool starts
// entirely free: free state is a sentinel, not deallocation.
type TimerKind int

const (
	TimerUnused TimerKind = iota
	TimerOneShot
	TimerPeriodic
)

// TimerHandle indexes a slot in the Reactor's timer pool. NoTimer is
// the sentinel "no timer" value.
type TimerHandle int

const NoTimer TimerHandle = -1

// FDHandle indexes a slot in the Reactor's file-handle pool. NoFD is
// the sentinel "no handle" value.
type FDHandle int

const NoFD FDHandle = -1

// TimerCallback fires when a timer's deadline elapses. h identifies
// the timer (useful for a periodic timer's own rearm bookkeeping from
// inside the callback); ctx is the opaque value supplied at AddTimer.
type TimerCallback func(h TimerHandle, ctx any)

// FDCallback fires when a registered handle becomes ready. interest
// reports which of the requested conditions were observed.
type FDCallback func(h FDHandle, interest Interest, ctx any)

// Clock abstracts time so tests can inject a fake monotonic source.
// Real use always takes the zero value, which calls time.Now/time.Since.
type Clock struct {
	NowFunc func() time.Time
}

func (c Clock) Now() time.Time {
	if c.NowFunc != nil {
		return c.NowFunc()
	}
	return time.Now()
}
