package link

import (
	"os"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sys/unix"

	"github.com/bob-dpi/pcdaemon/internal/reactor"
	"github.com/bob-dpi/pcdaemon/internal/wire"
)

func newTestLink(t *testing.T, onFrame FrameFunc) (*Link, *reactor.Reactor, *os.File) {
	t.Helper()
	r, err := reactor.New(hclog.NewNullLogger(), 4, 4)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { r.Close() })

	pr, pw, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { pr.Close() })
	if err := unix.SetNonblock(int(pr.Fd()), true); err != nil {
		t.Fatal(err)
	}

	l, err := newFromFD(r, hclog.NewNullLogger(), int(pr.Fd()), pr, onFrame, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	return l, r, pw
}

func TestLinkDeliversFramedPacket(t *testing.T) {
	var got []byte
	done := make(chan struct{})
	_, r, pw := newTestLink(t, func(frame []byte) {
		got = append([]byte{}, frame...)
		close(done)
	})
	defer pw.Close()

	cmd := wire.BuildCmd(false, wire.OpWrite, false)
	frame, err := wire.Encode(cmd, 0x02, 0x05, []byte{0xAA, 0xBB})
	if err != nil {
		t.Fatal(err)
	}

	stop := make(chan struct{})
	runDone := make(chan error, 1)
	go func() { runDone <- r.Run(stop) }()

	if _, err := pw.Write(frame); err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("frame never delivered")
	}
	close(stop)
	<-runDone

	pkt, err := wire.Decode(got)
	if err != nil {
		t.Fatal(err)
	}
	if pkt.Core != 0x02 || pkt.Reg != 0x05 || len(pkt.Data) != 2 {
		t.Fatalf("unexpected packet: %+v", pkt)
	}
}

func TestLinkFatalOnEOF(t *testing.T) {
	fatal := make(chan error, 1)
	r, err := reactor.New(hclog.NewNullLogger(), 4, 4)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	pr, pw, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer pr.Close()
	if err := unix.SetNonblock(int(pr.Fd()), true); err != nil {
		t.Fatal(err)
	}

	stop := make(chan struct{})
	_, err = newFromFD(r, hclog.NewNullLogger(), int(pr.Fd()), pr, nil, func(err error) {
		fatal <- err
		close(stop)
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	runDone := make(chan error, 1)
	go func() { runDone <- r.Run(stop) }()
	pw.Close()

	select {
	case <-fatal:
	case <-time.After(time.Second):
		t.Fatal("EOF never reported as fatal")
	}
	<-runDone
}
