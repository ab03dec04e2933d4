// Package dcmotor implements a PWM-style DC output driver: a single
// writable/readable "outval" resource, a single-byte register write on
// set, and an ack watchdog, exercising a round-trip set end to end.
// Shaped after a small adaptor with a private struct and
// Initialize/Capabilities-style methods, translated to the Driver
// interface's Initialize/Services contract.
package dcmotor

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/bob-dpi/pcdaemon/errcode"
	"github.com/bob-dpi/pcdaemon/internal/host"
	"github.com/bob-dpi/pcdaemon/internal/link"
	"github.com/bob-dpi/pcdaemon/internal/pcconst"
	"github.com/bob-dpi/pcdaemon/internal/reactor"
	"github.com/bob-dpi/pcdaemon/internal/resource"
	"github.com/bob-dpi/pcdaemon/internal/wire"
)

// DriverID is the key this driver is registered under in host's static
// registry; host.LoadStatic and host.ResolveDriverID look it up by
// this string.
const DriverID = "out4"

const regOutval = 0x00

// ackOpcode marks an unsolicited frame from the FPGA as the write
// acknowledgment this driver's watchdog waits for (cmd high nibble
// stripped, auto-send bit set, op nop).
const ackOpcode = wire.CmdAutoSend

func init() {
	host.Register(DriverID, func() host.Driver { return &Driver{} })
}

// Driver implements host.Driver.
type Driver struct {
	slot     *host.Slot
	svc      host.Services
	value    byte
	watchdog reactor.TimerHandle
}

func (d *Driver) Initialize(slot *host.Slot, svc host.Services) error {
	d.slot = slot
	d.svc = svc
	d.watchdog = reactor.NoTimer

	slot.Name = "out4"
	slot.Description = "single PWM-style digital output"
	slot.Help = "outval: 8-bit hex PWM duty cycle (get/set)\n"
	slot.Resources[0] = resource.Resource{
		Name:     "outval",
		Flags:    resource.Readable | resource.Writable,
		Callback: d.onResource,
	}
	slot.OnPacket = d.onPacket
	return nil
}

func (d *Driver) onResource(op resource.Op, arg string, caller resource.Lock, resp *bytes.Buffer) error {
	switch op {
	case resource.OpGet:
		fmt.Fprintf(resp, "%02x\n", d.value)
		return nil
	case resource.OpSet:
		v, err := strconv.ParseUint(arg, 16, 8)
		if err != nil {
			return fmt.Errorf("invalid value %q: %w", arg, err)
		}
		cmd := wire.BuildCmd(false, wire.OpWrite, false)
		result, err := d.svc.Send(byte(d.slot.Core), cmd, regOutval, []byte{byte(v)})
		if err != nil {
			return err
		}
		if result != link.Sent {
			return fmt.Errorf("%s", errcode.ErrLinkWrite.Line("outval write overloaded"))
		}
		d.value = byte(v)
		d.armWatchdog()
		return nil
	default:
		return fmt.Errorf("unsupported op")
	}
}

func (d *Driver) armWatchdog() {
	if d.watchdog != reactor.NoTimer {
		d.svc.DelTimer(d.watchdog)
	}
	h, err := d.svc.AddTimer(reactor.TimerOneShot, pcconst.WatchdogMillis*time.Millisecond, d.onWatchdogExpired, nil)
	if err == nil {
		d.watchdog = h
	}
}

func (d *Driver) onWatchdogExpired(reactor.TimerHandle, any) {
	d.watchdog = reactor.NoTimer
	d.svc.Log.Warn(errcode.ErrMissingAck.Line("outval write unacknowledged"), "slot", d.slot.Index)
}

func (d *Driver) onPacket(pkt host.DriverPacket) {
	if pkt.Cmd&ackOpcode == 0 {
		return
	}
	if d.watchdog != reactor.NoTimer {
		d.svc.DelTimer(d.watchdog)
		d.watchdog = reactor.NoTimer
	}
}
