package reactor

import "time"

type timerSlot struct {
	kind     TimerKind
	deadline time.Time
	interval time.Duration
	cb       TimerCallback
	ctx      any
}

// AddTimer allocates a timer from the bounded pool. kind must be
// TimerOneShot or TimerPeriodic. Returns errOutOfTimers when the pool
// is exhausted.
func (r *Reactor) AddTimer(kind TimerKind, after time.Duration, cb TimerCallback, ctx any) (TimerHandle, error) {
	if kind == TimerUnused {
		return NoTimer, errInvalidTimerKind
	}
	for i := range r.timers {
		if r.timers[i].kind == TimerUnused {
			r.timers[i] = timerSlot{
				kind:     kind,
				deadline: r.clock.Now().Add(after),
				interval: after,
				cb:       cb,
				ctx:      ctx,
			}
			return TimerHandle(i), nil
		}
	}
	return NoTimer, errOutOfTimers
}

// DelTimer frees a timer slot. Deleting an already-free or
// out-of-range handle is a no-op, tolerating a cancel racing a
// just-fired one-shot.
func (r *Reactor) DelTimer(h TimerHandle) {
	if h < 0 || int(h) >= len(r.timers) {
		return
	}
	r.timers[h] = timerSlot{}
}

// nextDeadline scans the pool for the soonest future firing time.
// ok is false when no timer is armed.
func (r *Reactor) nextDeadline() (deadline time.Time, ok bool) {
	for i := range r.timers {
		if r.timers[i].kind == TimerUnused {
			continue
		}
		if !ok || r.timers[i].deadline.Before(deadline) {
			deadline = r.timers[i].deadline
			ok = true
		}
	}
	return deadline, ok
}

// fireExpired runs every timer whose deadline has elapsed. One-shots
// are marked unused before their callback runs (so a callback that
// re-adds a timer cannot observe its own stale slot); periodics rearm
// by adding their interval to the previous deadline, catching up by a
// single fire rather than bursting.
func (r *Reactor) fireExpired(now time.Time) {
	for i := range r.timers {
		t := &r.timers[i]
		if t.kind == TimerUnused || t.deadline.After(now) {
			continue
		}
		cb, ctx := t.cb, t.ctx
		switch t.kind {
		case TimerOneShot:
			*t = timerSlot{}
		case TimerPeriodic:
			t.deadline = t.deadline.Add(t.interval)
			if t.deadline.Before(now) {
				t.deadline = now.Add(t.interval)
			}
		}
		if cb != nil {
			cb(TimerHandle(i), ctx)
		}
	}
}
