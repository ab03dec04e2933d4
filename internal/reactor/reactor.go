//go:build linux

package reactor

import (
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sys/unix"
)

type fdSlot struct {
	inUse    bool
	fd       int
	interest Interest
	cb       FDCallback
	ctx      any
}

// Reactor is the daemon's single-threaded cooperative event loop: a
// bounded timer pool plus an epoll readiness multiplex over a bounded
// handle pool. Every exported method is expected to be called only
// from the same goroutine that calls Run: no locking is used, on
// purpose.
type Reactor struct {
	log   hclog.Logger
	clock Clock

	epfd    int
	events  []unix.EpollEvent
	timers  []timerSlot
	handles []fdSlot
	byFD    map[int]FDHandle
}

// New creates a Reactor with bounded timer and handle pools of the
// given capacities.
func New(log hclog.Logger, maxTimers, maxHandles int) (*Reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &Reactor{
		log:     log.Named("reactor"),
		epfd:    epfd,
		events:  make([]unix.EpollEvent, maxHandles),
		timers:  make([]timerSlot, maxTimers),
		handles: make([]fdSlot, maxHandles),
		byFD:    make(map[int]FDHandle, maxHandles),
	}, nil
}

// WithClock overrides the reactor's time source; used by tests.
func (r *Reactor) WithClock(c Clock) *Reactor {
	r.clock = c
	return r
}

// Close releases the underlying epoll descriptor.
func (r *Reactor) Close() error {
	return unix.Close(r.epfd)
}

func toEpollEvents(i Interest) uint32 {
	var e uint32
	if i&Readable != 0 {
		e |= unix.EPOLLIN
	}
	if i&Writable != 0 {
		e |= unix.EPOLLOUT
	}
	return e
}

// AddFD registers fd for the given readiness interest. cb runs on the
// Reactor's goroutine whenever fd becomes ready.
func (r *Reactor) AddFD(fd int, interest Interest, cb FDCallback, ctx any) (FDHandle, error) {
	if _, exists := r.byFD[fd]; exists {
		return NoFD, errFDAlreadyWatched
	}
	idx := -1
	for i := range r.handles {
		if !r.handles[i].inUse {
			idx = i
			break
		}
	}
	if idx < 0 {
		return NoFD, errOutOfHandles
	}
	ev := unix.EpollEvent{Events: toEpollEvents(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return NoFD, err
	}
	r.handles[idx] = fdSlot{inUse: true, fd: fd, interest: interest, cb: cb, ctx: ctx}
	r.byFD[fd] = FDHandle(idx)
	return FDHandle(idx), nil
}

// ModifyFD updates the readiness interest for a registered handle.
func (r *Reactor) ModifyFD(h FDHandle, interest Interest) error {
	if h < 0 || int(h) >= len(r.handles) || !r.handles[h].inUse {
		return errUnknownHandle
	}
	slot := &r.handles[h]
	ev := unix.EpollEvent{Events: toEpollEvents(interest), Fd: int32(slot.fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, slot.fd, &ev); err != nil {
		return err
	}
	slot.interest = interest
	return nil
}

// DelFD unregisters a handle. Closing fd without calling DelFD first
// is the caller's bug to avoid: a recycled fd number could otherwise
// be delivered to the stale callback.
func (r *Reactor) DelFD(h FDHandle) error {
	if h < 0 || int(h) >= len(r.handles) || !r.handles[h].inUse {
		return errUnknownHandle
	}
	fd := r.handles[h].fd
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return err
	}
	delete(r.byFD, fd)
	r.handles[h] = fdSlot{}
	return nil
}

// Run blocks, driving the reactor loop, until stop is closed or a
// fatal poll error occurs.
func (r *Reactor) Run(stop <-chan struct{}) error {
	for {
		select {
		case <-stop:
			return nil
		default:
		}

		timeout := r.pollTimeout()
		n, err := unix.EpollWait(r.epfd, r.events, timeout)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}

		now := r.clock.Now()
		r.fireExpired(now)

		for i := 0; i < n; i++ {
			fd := int(r.events[i].Fd)
			h, ok := r.byFD[fd]
			if !ok {
				continue
			}
			slot := r.handles[h]
			if slot.cb == nil {
				continue
			}
			var interest Interest
			if r.events[i].Events&unix.EPOLLIN != 0 {
				interest |= Readable
			}
			if r.events[i].Events&unix.EPOLLOUT != 0 {
				interest |= Writable
			}
			if r.events[i].Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
				interest |= slot.interest
			}
			slot.cb(h, interest, slot.ctx)
		}
	}
}

// pollTimeout computes the millisecond wait for EpollWait: the time
// until the soonest timer deadline, or -1 (block indefinitely) when no
// timer is armed. A reactor with neither handles nor timers degrades
// to an indefinite block rather than busy-waiting; it is the caller's
// responsibility to treat that start-up state as nominally fatal if it
// wishes to.
func (r *Reactor) pollTimeout() int {
	deadline, ok := r.nextDeadline()
	if !ok {
		return -1
	}
	d := deadline.Sub(r.clock.Now())
	if d <= 0 {
		return 0
	}
	ms := d / time.Millisecond
	if ms > 1<<30 {
		ms = 1 << 30
	}
	return int(ms)
}
