// Package flash implements a flash-programmer driver as an explicit
// enum-tagged state machine: idle -> erasing -> writing -> verifying,
// advanced only by packet and timer callbacks, no goroutines or
// generators. Shaped after the same Initialize/Services wiring as
// dcmotor and quad, with the "set" resource driving the sequence
// instead of a single register write.
package flash

import (
	"bytes"
	"fmt"
	"time"

	"github.com/bob-dpi/pcdaemon/errcode"
	"github.com/bob-dpi/pcdaemon/internal/host"
	"github.com/bob-dpi/pcdaemon/internal/link"
	"github.com/bob-dpi/pcdaemon/internal/reactor"
	"github.com/bob-dpi/pcdaemon/internal/resource"
	"github.com/bob-dpi/pcdaemon/internal/wire"
)

// DriverID is the static registry key.
const DriverID = "flash0"

// state is the program's current phase.
type state int

const (
	stateIdle state = iota
	stateErasing
	stateWriting
	stateVerifying
)

func (s state) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateErasing:
		return "erasing"
	case stateWriting:
		return "writing"
	case stateVerifying:
		return "verifying"
	default:
		return "unknown"
	}
}

const (
	regErase  = 0x00
	regWrite  = 0x01
	regVerify = 0x02

	ackTimeout = 200 * time.Millisecond
)

func init() {
	host.Register(DriverID, func() host.Driver { return &Driver{} })
}

// Driver implements host.Driver.
type Driver struct {
	slot  *host.Slot
	svc   host.Services
	state state
	timer reactor.TimerHandle
}

func (d *Driver) Initialize(slot *host.Slot, svc host.Services) error {
	d.slot = slot
	d.svc = svc
	d.state = stateIdle
	d.timer = reactor.NoTimer

	slot.Name = "flash0"
	slot.Description = "flash programming sequencer"
	slot.Resources[0] = resource.Resource{
		Name:     "program",
		Flags:    resource.Readable | resource.Writable,
		Callback: d.onResource,
	}
	slot.OnPacket = d.onPacket
	return nil
}

// onResource: "set program <anything>" kicks the sequence off from
// idle; "get program" reports the current phase name.
func (d *Driver) onResource(op resource.Op, arg string, caller resource.Lock, resp *bytes.Buffer) error {
	switch op {
	case resource.OpGet:
		fmt.Fprintln(resp, d.state)
		return nil
	case resource.OpSet:
		if d.state != stateIdle {
			return fmt.Errorf("program already in progress (%s)", d.state)
		}
		return d.advance(stateErasing)
	default:
		return fmt.Errorf("unsupported op")
	}
}

// advance issues the write for the next phase and arms the ack
// watchdog; the transition to the phase after it only happens once
// onPacket sees the matching ack (or the timer fires and resets to
// idle). This is the entirety of the "coroutine": a transition table
// plus two callbacks, no suspended goroutine anywhere.
func (d *Driver) advance(next state) error {
	var reg byte
	switch next {
	case stateErasing:
		reg = regErase
	case stateWriting:
		reg = regWrite
	case stateVerifying:
		reg = regVerify
	default:
		return fmt.Errorf("flash: invalid transition to %s", next)
	}
	cmd := wire.BuildCmd(false, wire.OpWrite, false)
	result, err := d.svc.Send(byte(d.slot.Core), cmd, reg, nil)
	if err != nil {
		return err
	}
	if result != link.Sent {
		return fmt.Errorf("%s", errcode.ErrLinkWrite.Line(fmt.Sprintf("%s write overloaded", next)))
	}
	d.state = next
	d.rearmTimer()
	return nil
}

func (d *Driver) rearmTimer() {
	if d.timer != reactor.NoTimer {
		d.svc.DelTimer(d.timer)
	}
	h, err := d.svc.AddTimer(reactor.TimerOneShot, ackTimeout, d.onTimeout, nil)
	if err == nil {
		d.timer = h
	}
}

func (d *Driver) onTimeout(reactor.TimerHandle, any) {
	d.svc.Log.Warn(errcode.ErrMissingAck.Line("flash sequence ack missing, resetting to idle"), "slot", d.slot.Index, "state", d.state)
	d.timer = reactor.NoTimer
	d.state = stateIdle
}

func (d *Driver) onPacket(pkt host.DriverPacket) {
	if pkt.Cmd&wire.CmdAutoSend == 0 {
		return
	}
	if d.timer != reactor.NoTimer {
		d.svc.DelTimer(d.timer)
		d.timer = reactor.NoTimer
	}
	switch d.state {
	case stateErasing:
		_ = d.advance(stateWriting)
	case stateWriting:
		_ = d.advance(stateVerifying)
	case stateVerifying:
		d.state = stateIdle
	}
}
