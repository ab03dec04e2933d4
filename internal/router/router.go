// Package router implements the packet router: dispatch of decoded
// inbound frames to the slot that owns the addressed core, with
// sanity/CRC/count checks and a discard-not-fatal rule for frames
// addressed to a core nothing has claimed yet.
package router

import (
	"github.com/hashicorp/go-hclog"

	"github.com/bob-dpi/pcdaemon/internal/pcconst"
	"github.com/bob-dpi/pcdaemon/internal/wire"
)

// PacketFunc is a core's packet-arrival callback: ownedSlot is the
// slot that owns this core, or -1 when the core was bound with a
// callback but no owning slot (as the enumerator's core 0 is).
type PacketFunc func(ownedSlot int, pkt wire.Packet)

type coreEntry struct {
	owningSlot int
	callback   PacketFunc
}

// Router owns the core table: the FPGA-side addressing space,
// independent of slot numbering.
type Router struct {
	log   hclog.Logger
	cores [pcconst.NumCores]coreEntry
}

// New returns a Router with every core unowned.
func New(log hclog.Logger) *Router {
	r := &Router{log: log.Named("router")}
	for i := range r.cores {
		r.cores[i].owningSlot = -1
	}
	return r
}

// Bind registers slot as the owner of core with the given callback.
func (r *Router) Bind(core, slot int, cb PacketFunc) bool {
	if core < 0 || core >= len(r.cores) {
		return false
	}
	r.cores[core] = coreEntry{owningSlot: slot, callback: cb}
	return true
}

// Unbind clears a core's callback, e.g. when its owning driver is torn
// down.
func (r *Router) Unbind(core int) {
	if core < 0 || core >= len(r.cores) {
		return
	}
	r.cores[core] = coreEntry{owningSlot: -1}
}

// Dispatch decodes frame and routes it to the owning core's callback.
// Any decode failure (bad CRC, runt frame, bad count) is logged and
// the frame discarded; a well-formed frame addressed to a core with no
// registered callback is logged at low severity and discarded, since
// unsolicited frames routinely arrive before every driver is up — this
// path is never fatal.
func (r *Router) Dispatch(sourcePort string, frame []byte) {
	pkt, err := wire.Decode(frame)
	if err != nil {
		r.log.Warn("discarding malformed frame", "port", sourcePort, "err", err)
		return
	}
	if int(pkt.Core) >= len(r.cores) {
		r.log.Warn("discarding frame for out-of-range core", "port", sourcePort, "core", pkt.Core)
		return
	}
	entry := r.cores[pkt.Core]
	if entry.callback == nil {
		r.log.Debug("no driver registered for core yet", "core", pkt.Core)
		return
	}
	entry.callback(entry.owningSlot, pkt)
}
