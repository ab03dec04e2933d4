// Package enumerator implements the start-up bootstrap that queries the
// FPGA for its driver-ID table and loads the corresponding drivers into
// slots: iterate declared entries, look up a builder by type, build it,
// wire its resources in — the same shape a config-driven loader would
// use, driven by driver-ID-from-hardware instead of
// driver-type-from-JSON.
package enumerator

import (
	"fmt"

	"github.com/hashicorp/go-hclog"

	"github.com/bob-dpi/pcdaemon/internal/link"
	"github.com/bob-dpi/pcdaemon/internal/pcconst"
	"github.com/bob-dpi/pcdaemon/internal/wire"
)

// tableCore is the core that always advertises the driver-ID table.
// Binding it does not occupy a slot; no slot is reserved for it.
const tableCore = 0

// Loader is the subset of daemon-level capability the enumerator needs:
// resolve a driver ID into a freshly-loaded slot, assign that slot to
// the core the table named it on, and talk to core 0 directly to fetch
// the table itself. It is satisfied by the Daemon type; the enumerator
// never imports host or router directly, since the slot<->core
// assignment and the router wiring it implies are the daemon's job.
type Loader interface {
	ResolveDriverIDNextFree(driverID string) (int, error)
	BindSlotToCore(slotIndex, core int) error
	Send(core, cmd, reg byte, data []byte) (link.Result, error)
	BindCore(core int, cb func(pkt wire.Packet)) bool
}

// Enumerator drives the one-shot table-read-and-populate sequence.
type Enumerator struct {
	log    hclog.Logger
	loader Loader
	done   chan struct{}
}

// New returns an Enumerator bound to loader. log is expected to already
// be named by the caller.
func New(log hclog.Logger, loader Loader) *Enumerator {
	return &Enumerator{log: log.Named("enumerator"), loader: loader, done: make(chan struct{})}
}

// Start issues the driver-ID table request on core 0 and returns
// immediately; the table is processed asynchronously when the response
// frame arrives via BindCore. Call once at daemon boot.
func (e *Enumerator) Start() error {
	if !e.loader.BindCore(tableCore, e.onTable) {
		return fmt.Errorf("enumerator: core %d already owned", tableCore)
	}
	cmd := wire.BuildCmd(false, wire.OpWriteThenRead, false)
	if _, err := e.loader.Send(tableCore, cmd, 0, nil); err != nil {
		return fmt.Errorf("enumerator: driver-ID table request failed: %w", err)
	}
	return nil
}

// Done is closed once the table response has been fully processed.
func (e *Enumerator) Done() <-chan struct{} { return e.done }

// onTable is the core-0 packet callback. Packet.Data's Nth byte is the
// driver ID advertised by core N, 0 meaning unpopulated. This layout is
// not specified by the wire protocol itself; it is this implementation's
// own convention for the driver-ID table response.
func (e *Enumerator) onTable(pkt wire.Packet) {
	defer close(e.done)
	for core, id := range pkt.Data {
		if core >= pcconst.NumCores || core == tableCore {
			continue
		}
		if id == 0 {
			continue
		}
		driverID := fmt.Sprintf("driver-%02x", id)
		slot, err := e.loader.ResolveDriverIDNextFree(driverID)
		if err != nil {
			e.log.Warn("driver-ID table entry could not be resolved", "core", core, "driver_id", driverID, "err", err)
			continue
		}
		if err := e.loader.BindSlotToCore(slot, core); err != nil {
			e.log.Warn("slot could not be bound to its core", "slot", slot, "core", core, "err", err)
			continue
		}
		e.log.Info("enumerated driver", "core", core, "driver_id", driverID, "slot", slot)
	}
}
