// Package daemon assembles the reactor, link, router, driver host,
// broadcast fabric, and control listener into the single Daemon value
// threaded through every callback, replacing the process-scope globals
// a more direct translation would have used.
package daemon

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/bob-dpi/pcdaemon/internal/broadcast"
	"github.com/bob-dpi/pcdaemon/internal/control"
	"github.com/bob-dpi/pcdaemon/internal/enumerator"
	"github.com/bob-dpi/pcdaemon/internal/host"
	"github.com/bob-dpi/pcdaemon/internal/link"
	"github.com/bob-dpi/pcdaemon/internal/pcconst"
	"github.com/bob-dpi/pcdaemon/internal/reactor"
	"github.com/bob-dpi/pcdaemon/internal/resource"
	"github.com/bob-dpi/pcdaemon/internal/router"
	"github.com/bob-dpi/pcdaemon/internal/wire"
)

// Config is the set of tunables a Daemon needs at construction. Values
// come from config.Config; daemon itself stays decoupled from how they
// were loaded.
type Config struct {
	BindAddr      string
	Port          int
	SerialDevice  string
	BaudRate      int
	InstallDir    string
	CommandPrefix string
}

// Daemon owns every long-lived subsystem and is the sole receiver for
// the capability closures (host.Services, control.Handler,
// enumerator.Loader) handed out to drivers, sessions, and the
// enumerator — a single value in place of process-scope
// slot/core/timer/handle/session tables.
type Daemon struct {
	log hclog.Logger
	cfg Config

	reactor *reactor.Reactor
	link    *link.Link
	router  *router.Router
	host    *host.DriverHost
	fabric  *broadcast.Fabric
	ctrl    *control.Listener
	enum    *enumerator.Enumerator
}

// New wires every subsystem together but does not yet open the serial
// link or TCP listener; call Start for that.
func New(log hclog.Logger, cfg Config) (*Daemon, error) {
	return newWithLinkOpener(log, cfg, func(r *reactor.Reactor, log hclog.Logger, onFrame link.FrameFunc, onFatal link.FatalFunc, onViolation link.ViolationFunc) (*link.Link, error) {
		return link.Open(r, log, cfg.SerialDevice, cfg.BaudRate, onFrame, onFatal, onViolation)
	})
}

// linkOpener abstracts how the serial link gets established, so tests
// can substitute an os.Pipe (via link.OpenFD) for a real device without
// the daemon itself needing to know the difference.
type linkOpener func(r *reactor.Reactor, log hclog.Logger, onFrame link.FrameFunc, onFatal link.FatalFunc, onViolation link.ViolationFunc) (*link.Link, error)

func newWithLinkOpener(log hclog.Logger, cfg Config, openLink linkOpener) (*Daemon, error) {
	r, err := reactor.New(log.Named("reactor"), pcconst.MaxTimers, pcconst.MaxHandles)
	if err != nil {
		return nil, fmt.Errorf("daemon: reactor init: %w", err)
	}

	d := &Daemon{log: log, cfg: cfg, reactor: r}
	d.router = router.New(log.Named("router"))
	d.host = host.New(log.Named("host"), cfg.InstallDir, d.servicesFor)
	d.fabric = broadcast.New(func() []broadcast.Session { return d.ctrl.Sessions() })
	d.enum = enumerator.New(log, d)

	lnk, err := openLink(r, log.Named("link"), d.onFrame, d.onLinkFatal, d.onLinkViolation)
	if err != nil {
		return nil, fmt.Errorf("daemon: link open: %w", err)
	}
	d.link = lnk

	ctrl, err := control.New(r, log.Named("control"), cfg.BindAddr, cfg.Port, cfg.CommandPrefix, d)
	if err != nil {
		return nil, fmt.Errorf("daemon: control listen: %w", err)
	}
	d.ctrl = ctrl

	return d, nil
}

// Start binds core 0 to the enumerator and issues the driver-ID table
// request. Call once, after New. The enumerator does not occupy a
// slot: slot 0 stays free until a driver is loaded into it, and the
// first enumerated driver can land there.
func (d *Daemon) Start() error {
	return d.enum.Start()
}

// Run blocks, driving the reactor's single-threaded event loop until
// stop is closed.
func (d *Daemon) Run(stop <-chan struct{}) error {
	return d.reactor.Run(stop)
}

// Close releases the link, listener, and reactor.
func (d *Daemon) Close() {
	_ = d.link.Close()
	_ = d.ctrl.Close()
	_ = d.reactor.Close()
}

func (d *Daemon) onFrame(frame []byte) {
	d.router.Dispatch(d.cfg.SerialDevice, frame)
}

func (d *Daemon) onLinkFatal(err error) {
	d.log.Error("link fatal, daemon will not recover without a restart", "err", err)
}

func (d *Daemon) onLinkViolation(reason string) {
	d.log.Warn("link protocol violation", "reason", reason)
}

// servicesFor builds the capability struct a driver in slotIndex
// receives at Initialize: log/send_packet/add_timer/add_fd/send_ui/
// broadcast_ui/prompt, translated from raw function pointers to a
// struct of closures.
func (d *Daemon) servicesFor(slotIndex int) host.Services {
	return host.Services{
		Send: func(core, cmd, reg byte, data []byte) (link.Result, error) {
			return d.link.Send(cmd, core, reg, data)
		},
		AddTimer: func(kind reactor.TimerKind, after time.Duration, cb reactor.TimerCallback, ctx any) (reactor.TimerHandle, error) {
			return d.reactor.AddTimer(kind, after, cb, ctx)
		},
		DelTimer: d.reactor.DelTimer,
		AddFD: func(fd int, interest reactor.Interest, cb reactor.FDCallback, ctx any) (reactor.FDHandle, error) {
			return d.reactor.AddFD(fd, interest, cb, ctx)
		},
		DelFD: d.reactor.DelFD,
		SendUI: func(caller resource.Lock, payload []byte) {
			if s := d.ctrl.SessionByIndex(caller.Session); s != nil && s.Generation() == caller.Generation {
				_ = s.Write(payload)
			}
		},
		BroadcastUI: d.fabric.Publish,
		Prompt: func(caller resource.Lock) {
			if s := d.ctrl.SessionByIndex(caller.Session); s != nil && s.Generation() == caller.Generation {
				s.Prompt()
			}
		},
		Log: d.log.Named(fmt.Sprintf("slot%d", slotIndex)),
	}
}

// --- enumerator.Loader ---

func (d *Daemon) ResolveDriverIDNextFree(driverID string) (int, error) {
	return d.host.ResolveDriverIDNextFree(driverID)
}

func (d *Daemon) Send(core, cmd, reg byte, data []byte) (link.Result, error) {
	return d.link.Send(cmd, core, reg, data)
}

func (d *Daemon) BindCore(core int, cb func(pkt wire.Packet)) bool {
	if cb == nil {
		d.router.Unbind(core)
		return true
	}
	return d.router.Bind(core, -1, func(_ int, pkt wire.Packet) { cb(pkt) })
}

// BindSlotToCore assigns the slot<->core mapping the enumerator
// discovers (the mapping need not be identity; the enumerator assigns
// it) and wires the router to the slot's own packet callback, once the
// driver has set one.
func (d *Daemon) BindSlotToCore(slotIndex, core int) error {
	slot := d.host.Slot(slotIndex)
	if slot == nil {
		return fmt.Errorf("daemon: slot %d out of range", slotIndex)
	}
	slot.Core = core
	if !d.router.Bind(core, slotIndex, func(owningSlot int, pkt wire.Packet) {
		if slot.OnPacket != nil {
			slot.OnPacket(host.DriverPacket{Cmd: pkt.Cmd, Core: pkt.Core, Reg: pkt.Reg, Count: pkt.Count, Data: pkt.Data})
		}
	}) {
		return fmt.Errorf("daemon: core %d out of range", core)
	}
	return nil
}

// --- control.Handler ---

func (d *Daemon) resolveSlot(selector string) (*host.Slot, int, error) {
	if idx, err := strconv.Atoi(selector); err == nil {
		slot := d.host.Slot(idx)
		if slot == nil || !slot.InUse() {
			return nil, -1, fmt.Errorf("unknown slot %q", selector)
		}
		return slot, idx, nil
	}
	slot, idx, ok := d.host.LookupByName(selector)
	if !ok {
		return nil, -1, fmt.Errorf("unknown slot %q", selector)
	}
	return slot, idx, nil
}

func (d *Daemon) Set(s *control.Session, selector, resourceName, value string) (string, error) {
	slot, _, err := d.resolveSlot(selector)
	if err != nil {
		return "", err
	}
	ri := slot.Resources.IndexOf(resourceName)
	if ri < 0 || !slot.Resources[ri].CanWrite() {
		return "", fmt.Errorf("resource %q is not writable", resourceName)
	}
	var resp bytes.Buffer
	caller := resource.Lock{Session: s.ConnIndex(), Generation: s.Generation()}
	if err := slot.Resources[ri].Callback(resource.OpSet, value, caller, &resp); err != nil {
		return "", err
	}
	return resp.String(), nil
}

func (d *Daemon) Get(s *control.Session, selector, resourceName string) (string, bool, error) {
	slot, _, err := d.resolveSlot(selector)
	if err != nil {
		return "", false, err
	}
	ri := slot.Resources.IndexOf(resourceName)
	if ri < 0 || !slot.Resources[ri].CanRead() {
		return "", false, fmt.Errorf("resource %q is not readable", resourceName)
	}
	var resp bytes.Buffer
	caller := resource.Lock{Session: s.ConnIndex(), Generation: s.Generation()}
	if err := slot.Resources[ri].Callback(resource.OpGet, "", caller, &resp); err != nil {
		return "", false, err
	}
	if resp.Len() == 0 {
		// the driver issued a hardware read and stored the UI lock;
		// the reply will arrive later via SendUI/Prompt.
		return "", true, nil
	}
	return resp.String(), false, nil
}

func (d *Daemon) Cat(s *control.Session, selector, resourceName string) error {
	slot, idx, err := d.resolveSlot(selector)
	if err != nil {
		return err
	}
	ri := slot.Resources.IndexOf(resourceName)
	if ri < 0 || !slot.Resources[ri].CanBroadcast() {
		return fmt.Errorf("resource %q is not a broadcast resource", resourceName)
	}
	d.fabric.Subscribe(s, &slot.Resources[ri].BroadcastKey, idx, ri)
	return nil
}

func (d *Daemon) List(s *control.Session, selector string) (string, error) {
	if selector != "" {
		slot, _, err := d.resolveSlot(selector)
		if err != nil {
			return "", err
		}
		return slot.Help, nil
	}
	var b strings.Builder
	for _, idx := range d.host.OccupiedSlots() {
		slot := d.host.Slot(idx)
		fmt.Fprintf(&b, "%d %s %s\n", idx, slot.Name, slot.Description)
	}
	return b.String(), nil
}

// LoadOverload implements the explicit slotID:filename start-up
// overload. Unlike the enumerator's path, the driver is expected to
// set its own Slot.Core during Initialize if it knows which core it
// owns; LoadOverload wires the router from whatever it finds there
// afterwards.
func (d *Daemon) LoadOverload(slotIndex int, filename string) error {
	if err := d.host.LoadSharedObject(filename, slotIndex); err != nil {
		return err
	}
	slot := d.host.Slot(slotIndex)
	if slot != nil && slot.Core >= 0 {
		d.router.Bind(slot.Core, slotIndex, func(_ int, pkt wire.Packet) {
			if slot.OnPacket != nil {
				slot.OnPacket(host.DriverPacket{Cmd: pkt.Cmd, Core: pkt.Core, Reg: pkt.Reg, Count: pkt.Count, Data: pkt.Data})
			}
		})
	}
	return nil
}

func (d *Daemon) LoadSO(s *control.Session, filename string) (string, error) {
	idx, err := d.host.LoadSO(filename)
	if err != nil {
		return "", err
	}
	return strconv.Itoa(idx), nil
}
