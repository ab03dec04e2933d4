// Package host implements the driver host: the slot table, driver
// loading (static registry or plugin.Open), and the capability
// services struct handed to each driver at init.
package host

import (
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/bob-dpi/pcdaemon/internal/link"
	"github.com/bob-dpi/pcdaemon/internal/reactor"
	"github.com/bob-dpi/pcdaemon/internal/resource"
)

// Driver is the capability interface every peripheral plugs into,
// replacing a raw Initialize(slot*) function-pointer ABI with a
// value the host can hold directly.
type Driver interface {
	Initialize(slot *Slot, svc Services) error
}

// PacketFunc handles an inbound frame already routed to this driver's
// core, as a decoded packet with the CRC trailer removed.
type PacketFunc func(pkt DriverPacket)

// DriverPacket is the payload handed to a driver's packet callback.
type DriverPacket struct {
	Cmd, Core, Reg, Count byte
	Data                  []byte
}

// Services is the capability struct a driver receives at Initialize,
// standing in for a raw ABI's function pointers (send_packet,
// add_timer, add_fd, send_ui, broadcast_ui, prompt, log).
type Services struct {
	Send func(core, cmd, reg byte, data []byte) (link.Result, error)

	AddTimer func(kind reactor.TimerKind, after time.Duration, cb reactor.TimerCallback, ctx any) (reactor.TimerHandle, error)
	DelTimer func(h reactor.TimerHandle)

	AddFD func(fd int, interest reactor.Interest, cb reactor.FDCallback, ctx any) (reactor.FDHandle, error)
	DelFD func(h reactor.FDHandle) error

	SendUI      func(caller resource.Lock, payload []byte)
	BroadcastUI func(resourceKeySlot *int, payload []byte)
	Prompt      func(caller resource.Lock)

	Log hclog.Logger
}

// Slot is a numbered container hosting one driver instance.
type Slot struct {
	Index       int
	DriverID    string
	Filename    string
	Name        string
	Description string
	Help        string

	Private any
	driver  Driver

	Resources resource.Table

	// Core is the owning core index, or -1 if this slot is not
	// FPGA-backed.
	Core int

	OnPacket PacketFunc
}

// InUse reports whether a driver is loaded into this slot.
func (s *Slot) InUse() bool { return s.driver != nil }

// reset returns the slot to its free state, with every resource's UI
// lock defaulted to NoLock rather than the zero value (which would
// otherwise alias connection index 0).
func (s *Slot) reset(index int) {
	*s = Slot{Index: index, Core: -1}
	for i := range s.Resources {
		s.Resources[i].UILock = resource.NoLock
	}
}
