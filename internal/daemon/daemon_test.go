package daemon

import (
	"bufio"
	"bytes"
	"net"
	"os"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sys/unix"

	"github.com/bob-dpi/pcdaemon/internal/host"
	"github.com/bob-dpi/pcdaemon/internal/link"
	"github.com/bob-dpi/pcdaemon/internal/reactor"
	"github.com/bob-dpi/pcdaemon/internal/resource"
)

// stubDriver registers a single writable/readable "outval" resource,
// mirroring dcmotor closely enough to exercise the daemon's own wiring
// (Services closures, router dispatch, control-plane reply) without
// importing the drivers package and its own registry side effects.
type stubDriver struct {
	slot *host.Slot
}

func (s *stubDriver) Initialize(slot *host.Slot, svc host.Services) error {
	s.slot = slot
	slot.Name = "stub"
	slot.Help = "outval: hex byte (get/set)\n"
	slot.Resources[0] = resource.Resource{
		Name:  "outval",
		Flags: resource.Readable | resource.Writable,
		Callback: func(op resource.Op, arg string, caller resource.Lock, resp *bytes.Buffer) error {
			return nil
		},
	}
	return nil
}

func newTestDaemon(t *testing.T, port int) (*Daemon, *os.File) {
	t.Helper()
	pr, pw, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	if err := unix.SetNonblock(int(pr.Fd()), true); err != nil {
		t.Fatal(err)
	}

	cfg := Config{BindAddr: "127.0.0.1", Port: port, InstallDir: t.TempDir(), CommandPrefix: "pc"}
	d, err := newWithLinkOpener(hclog.NewNullLogger(), cfg, func(r *reactor.Reactor, log hclog.Logger, onFrame link.FrameFunc, onFatal link.FatalFunc, onViolation link.ViolationFunc) (*link.Link, error) {
		return link.OpenFD(r, log, int(pr.Fd()), pr, onFrame, onFatal, onViolation)
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(d.Close)

	stop := make(chan struct{})
	go d.Run(stop)
	t.Cleanup(func() { close(stop) })

	return d, pw
}

func TestRoundTripSetProducesPromptByte(t *testing.T) {
	d, linkWrite := newTestDaemon(t, 19101)
	defer linkWrite.Close()

	host.Register("daemon-test-stub-"+t.Name(), func() host.Driver { return &stubDriver{} })
	if err := d.host.LoadStatic("daemon-test-stub-"+t.Name(), 1); err != nil {
		t.Fatal(err)
	}
	if err := d.BindSlotToCore(1, 3); err != nil {
		t.Fatal(err)
	}

	conn, err := net.DialTimeout("tcp", "127.0.0.1:19101", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("pcset 1 outval f\n")); err != nil {
		t.Fatal(err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	b, err := bufio.NewReader(conn).ReadByte()
	if err != nil {
		t.Fatal(err)
	}
	if b != '\\' {
		t.Fatalf("want prompt byte, got %q", b)
	}
}

func TestListCommandReportsOccupiedSlots(t *testing.T) {
	d, linkWrite := newTestDaemon(t, 19102)
	defer linkWrite.Close()

	host.Register("daemon-test-list-"+t.Name(), func() host.Driver { return &stubDriver{} })
	if err := d.host.LoadStatic("daemon-test-list-"+t.Name(), 2); err != nil {
		t.Fatal(err)
	}

	conn, err := net.DialTimeout("tcp", "127.0.0.1:19102", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	conn.Write([]byte("pclist\n"))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 256)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(buf[:n], []byte("stub")) {
		t.Fatalf("want slot name listed, got %q", buf[:n])
	}
}

func TestListWithSelectorReturnsSlotHelp(t *testing.T) {
	d, linkWrite := newTestDaemon(t, 19103)
	defer linkWrite.Close()

	host.Register("daemon-test-help-"+t.Name(), func() host.Driver { return &stubDriver{} })
	if err := d.host.LoadStatic("daemon-test-help-"+t.Name(), 4); err != nil {
		t.Fatal(err)
	}

	conn, err := net.DialTimeout("tcp", "127.0.0.1:19103", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	conn.Write([]byte("pclist 4\n"))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 256)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(buf[:n], []byte("outval: hex byte")) {
		t.Fatalf("want slot help text, got %q", buf[:n])
	}
}
