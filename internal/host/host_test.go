package host

import (
	"errors"
	"testing"

	"github.com/hashicorp/go-hclog"

	"github.com/bob-dpi/pcdaemon/internal/resource"
)

type stubDriver struct {
	name string
	fail bool
}

func (d stubDriver) Initialize(slot *Slot, svc Services) error {
	if d.fail {
		return errors.New("boom")
	}
	slot.Name = d.name
	slot.Resources[0].Name = "value"
	return nil
}

func newTestHost(t *testing.T) *DriverHost {
	t.Helper()
	return New(hclog.NewNullLogger(), "/tmp", func(int) Services { return Services{} })
}

func TestLoadStaticOccupiesSlot(t *testing.T) {
	Register("teststub-"+t.Name(), func() Driver { return stubDriver{name: "quad0"} })
	h := newTestHost(t)
	if err := h.LoadStatic("teststub-"+t.Name(), 0); err != nil {
		t.Fatal(err)
	}
	if !h.Slot(0).InUse() {
		t.Fatal("slot should be in use")
	}
	if h.Slot(0).Name != "quad0" {
		t.Fatalf("unexpected name: %q", h.Slot(0).Name)
	}
	if h.Slot(0).Resources[0].UILock != resource.NoLock {
		t.Fatalf("resource UI lock should default to NoLock")
	}
}

func TestFailedInitFreesSlot(t *testing.T) {
	Register("failing-"+t.Name(), func() Driver { return stubDriver{fail: true} })
	h := newTestHost(t)
	if err := h.LoadStatic("failing-"+t.Name(), 1); err == nil {
		t.Fatal("expected init failure")
	}
	if h.Slot(1).InUse() {
		t.Fatal("slot should have been freed after failed init")
	}
}

func TestLookupByNameReturnsFirstAscending(t *testing.T) {
	Register("dup-a-"+t.Name(), func() Driver { return stubDriver{name: "shared"} })
	Register("dup-b-"+t.Name(), func() Driver { return stubDriver{name: "shared"} })
	h := newTestHost(t)
	if err := h.LoadStatic("dup-a-"+t.Name(), 3); err != nil {
		t.Fatal(err)
	}
	if err := h.LoadStatic("dup-b-"+t.Name(), 1); err != nil {
		t.Fatal(err)
	}
	_, idx, ok := h.LookupByName("shared")
	if !ok || idx != 1 {
		t.Fatalf("want slot 1 first, got idx=%d ok=%v", idx, ok)
	}
}

func TestOccupiedSlotsAscending(t *testing.T) {
	Register("occ-"+t.Name(), func() Driver { return stubDriver{name: "x"} })
	h := newTestHost(t)
	h.LoadStatic("occ-"+t.Name(), 5)
	h.LoadStatic("occ-"+t.Name(), 2)
	got := h.OccupiedSlots()
	if len(got) != 2 || got[0] != 2 || got[1] != 5 {
		t.Fatalf("want [2 5], got %v", got)
	}
}
