package host

import (
	"fmt"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/exp/slices"

	"github.com/bob-dpi/pcdaemon/internal/pcconst"
)

// DriverHost owns the fixed-size slot table and the three loading
// paths a driver can enter through: the start-up slotID:filename
// overload, the enumerator's driver-ID-to-slot mapping, and the
// loadso control command.
type DriverHost struct {
	log        hclog.Logger
	installDir string
	slots      [pcconst.MaxSlots]Slot
	svcFactory func(slotIndex int) Services
}

// New returns a DriverHost with every slot free. svcFactory builds the
// capability struct for a given slot index; installDir is the fixed
// directory loadso and driver-ID resolution search.
func New(log hclog.Logger, installDir string, svcFactory func(int) Services) *DriverHost {
	h := &DriverHost{log: log.Named("host"), installDir: installDir, svcFactory: svcFactory}
	for i := range h.slots {
		h.slots[i].reset(i)
	}
	return h
}

// Slot returns the slot at index, or nil if out of range.
func (h *DriverHost) Slot(index int) *Slot {
	if index < 0 || index >= len(h.slots) {
		return nil
	}
	return &h.slots[index]
}

// LookupByName returns the first occupied slot (ascending index) whose
// display name matches, per the §3/§4.5 name-lookup invariant.
func (h *DriverHost) LookupByName(name string) (*Slot, int, bool) {
	for i := range h.slots {
		if h.slots[i].InUse() && h.slots[i].Name == name {
			return &h.slots[i], i, true
		}
	}
	return nil, -1, false
}

// OccupiedSlots returns the indices of every slot currently in use, in
// ascending order.
func (h *DriverHost) OccupiedSlots() []int {
	var out []int
	for i := range h.slots {
		if h.slots[i].InUse() {
			out = append(out, i)
		}
	}
	return slices.Clip(out)
}

func (h *DriverHost) nextFreeSlot() (int, bool) {
	for i := range h.slots {
		if !h.slots[i].InUse() {
			return i, true
		}
	}
	return -1, false
}

// LoadStatic installs a statically-registered driver into slotIndex.
// ResolveDriverID tries this path before falling back to a shared
// object.
func (h *DriverHost) LoadStatic(driverID string, slotIndex int) error {
	f, ok := lookup(driverID)
	if !ok {
		return fmt.Errorf("host: no static driver registered for %q", driverID)
	}
	return h.initSlot(slotIndex, driverID, "", f())
}

// LoadSharedObject dlopen-loads filename into slotIndex.
func (h *DriverHost) LoadSharedObject(filename string, slotIndex int) error {
	drv, err := loadPluginDriver(filename)
	if err != nil {
		h.log.Error("driver load failed", "file", filename, "err", err)
		return err
	}
	return h.initSlot(slotIndex, "", filename, drv)
}

// LoadSO implements the loadso control command: pick the next free
// slot and load filename into it. Returns the chosen slot index.
func (h *DriverHost) LoadSO(filename string) (int, error) {
	idx, ok := h.nextFreeSlot()
	if !ok {
		return -1, fmt.Errorf("host: no free slots")
	}
	if err := h.LoadSharedObject(filename, idx); err != nil {
		return -1, err
	}
	return idx, nil
}

// ResolveDriverID loads driverID into slotIndex, preferring the
// in-process static registry and falling back to a by-convention
// shared object in the install directory.
func (h *DriverHost) ResolveDriverID(driverID string, slotIndex int) error {
	if err := h.LoadStatic(driverID, slotIndex); err == nil {
		return nil
	}
	return h.LoadSharedObject(h.installDir+"/"+driverID+".so", slotIndex)
}

// ResolveDriverIDNextFree resolves driverID into the next free slot,
// the path the enumerator uses for each populated entry in the FPGA's
// driver-ID table. Returns the slot chosen.
func (h *DriverHost) ResolveDriverIDNextFree(driverID string) (int, error) {
	idx, ok := h.nextFreeSlot()
	if !ok {
		return -1, fmt.Errorf("host: no free slots")
	}
	if err := h.ResolveDriverID(driverID, idx); err != nil {
		return -1, err
	}
	return idx, nil
}

func (h *DriverHost) initSlot(slotIndex int, driverID, filename string, drv Driver) error {
	if slotIndex < 0 || slotIndex >= len(h.slots) {
		return fmt.Errorf("host: slot %d out of range", slotIndex)
	}
	slot := &h.slots[slotIndex]
	if slot.InUse() {
		return fmt.Errorf("host: slot %d already occupied by %q", slotIndex, slot.Name)
	}
	slot.reset(slotIndex)
	slot.DriverID = driverID
	slot.Filename = filename

	svc := h.svcFactory(slotIndex)
	if err := drv.Initialize(slot, svc); err != nil {
		slot.reset(slotIndex)
		h.log.Error("driver init failed", "slot", slotIndex, "driver", driverID, "err", err)
		return err
	}
	slot.driver = drv
	h.log.Info("driver loaded", "slot", slotIndex, "name", slot.Name)
	return nil
}
