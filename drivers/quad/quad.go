// Package quad implements a button/switch input driver exposing a
// broadcast-only "buttons" resource and an async-get "switches"
// resource, exercising a broadcast fan-out and an async get end to
// end. Shaped after the same adaptor-with-private-state pattern as
// dcmotor, generalized to two resources instead of one.
package quad

import (
	"bytes"
	"fmt"

	"github.com/bob-dpi/pcdaemon/internal/host"
	"github.com/bob-dpi/pcdaemon/internal/pcconst"
	"github.com/bob-dpi/pcdaemon/internal/resource"
	"github.com/bob-dpi/pcdaemon/internal/wire"
)

// DriverID is the static registry key.
const DriverID = "bb4io"

const (
	idxButtons = 0
	idxSwitches = 1

	regSwitches = 0x01
)

func init() {
	host.Register(DriverID, func() host.Driver { return &Driver{} })
}

// Driver implements host.Driver.
type Driver struct {
	slot *host.Slot
	svc  host.Services
}

func (d *Driver) Initialize(slot *host.Slot, svc host.Services) error {
	d.slot = slot
	d.svc = svc

	slot.Name = "bb4io"
	slot.Description = "button and switch input"
	slot.Resources[idxButtons] = resource.Resource{
		Name:  "buttons",
		Flags: resource.Broadcastable,
		Callback: func(op resource.Op, arg string, caller resource.Lock, resp *bytes.Buffer) error {
			return fmt.Errorf("buttons is broadcast-only")
		},
		UILock: resource.NoLock,
	}
	slot.Resources[idxSwitches] = resource.Resource{
		Name:     "switches",
		Flags:    resource.Readable,
		Callback: d.onSwitchesGet,
		UILock:   resource.NoLock,
	}
	slot.OnPacket = d.onPacket
	return nil
}

// onSwitchesGet issues a write-then-read for the three switch bytes and
// defers the reply: it stores the issuing session into the resource's
// UI lock and returns an empty response so the control-plane parser
// withholds the prompt until the hardware reply arrives.
func (d *Driver) onSwitchesGet(op resource.Op, arg string, caller resource.Lock, resp *bytes.Buffer) error {
	if op != resource.OpGet {
		return fmt.Errorf("switches is read-only")
	}
	cmd := wire.BuildCmd(false, wire.OpWriteThenRead, false)
	if _, err := d.svc.Send(byte(d.slot.Core), cmd, regSwitches, nil); err != nil {
		return err
	}
	d.slot.Resources[idxSwitches].UILock = caller
	return nil
}

// onPacket handles both the unsolicited button-state broadcasts
// (auto-send frames on the buttons register) and the switches
// read-response this driver itself requested.
func (d *Driver) onPacket(pkt host.DriverPacket) {
	switch pkt.Reg {
	case 0x00:
		d.broadcastButtons(pkt.Data)
	case regSwitches:
		d.replySwitches(pkt.Data)
	}
}

func (d *Driver) broadcastButtons(data []byte) {
	key := &d.slot.Resources[idxButtons].BroadcastKey
	if *key == pcconst.NoKey {
		return
	}
	line := fmt.Sprintf("%02x\n", firstByte(data))
	d.svc.BroadcastUI(key, []byte(line))
}

func (d *Driver) replySwitches(data []byte) {
	res := &d.slot.Resources[idxSwitches]
	lock := res.UILock
	if !lock.Held() {
		return
	}
	res.UILock = resource.NoLock
	line := formatSwitches(data)
	d.svc.SendUI(lock, []byte(line))
	d.svc.Prompt(lock)
}

// formatSwitches renders each byte as two hex digits separated by a
// space.
func formatSwitches(data []byte) string {
	var b bytes.Buffer
	for i, v := range data {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%02x", v)
	}
	b.WriteByte('\n')
	return b.String()
}

func firstByte(data []byte) byte {
	if len(data) == 0 {
		return 0
	}
	return data[0]
}
