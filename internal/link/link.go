// Package link implements the framed binary link layer between the
// daemon's reactor and the FPGA's serial port: byte-stuffed framing,
// CRC-16/XMODEM, partial-read reassembly, and the transmit contract
// that distinguishes "busy, retry" from "closed".
package link

import (
	"errors"
	"io"

	"github.com/daedaluz/goserial"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/sys/unix"

	"github.com/bob-dpi/pcdaemon/internal/reactor"
	"github.com/bob-dpi/pcdaemon/internal/wire"
)

// Result is the outcome of a transmit attempt.
type Result int

const (
	Sent Result = iota
	Busy
	Closed
)

// FrameFunc is invoked once per delivered, CRC-trailered inbound frame.
// The byte slice is only valid for the duration of the call.
type FrameFunc func(frame []byte)

// FatalFunc is invoked exactly once, when the serial port is lost
// (EOF or a non-retryable read/write error); the daemon has nothing
// left to multiplex against and is expected to exit.
type FatalFunc func(err error)

// ViolationFunc logs a non-fatal framing protocol violation.
type ViolationFunc func(reason string)

const defaultRxCapacity = 4096

// Link owns the serial port file descriptor, the raw-byte staging
// ring, and the decoder driving the receive state machine. It
// registers exactly one handle with the Reactor and never blocks.
type Link struct {
	log    hclog.Logger
	closer io.Closer
	fd     int

	ring    *rxRing
	decoder *wire.Decoder

	onFrame     FrameFunc
	onFatal     FatalFunc
	onViolation ViolationFunc

	closed bool
}

// Open opens and configures the serial device at path, then registers
// it with r for read readiness. onFrame is called for each delivered
// frame; onFatal exactly once, when the link is lost.
func Open(r *reactor.Reactor, log hclog.Logger, path string, baud int, onFrame FrameFunc, onFatal FatalFunc, onViolation ViolationFunc) (*Link, error) {
	port, err := goserial.Open(path, goserial.NewOptions())
	if err != nil {
		return nil, err
	}
	if err := port.MakeRaw(); err != nil {
		port.Close()
		return nil, err
	}
	if attr, err := port.GetAttr(); err == nil {
		attr.SetSpeed(baudToCFlag(baud))
		_ = port.SetAttr(goserial.TCSANOW, attr)
	}
	return newFromFD(r, log, port.Fd(), port, onFrame, onFatal, onViolation)
}

// OpenFD wires a Link directly onto an already-open, non-blocking file
// descriptor, bypassing goserial entirely. Production code can use this
// when handed a pre-opened descriptor (e.g. systemd socket activation
// or a Unix-domain stand-in for hardware in a test rig); the package's
// own tests use it to drive the link layer over an os.Pipe.
func OpenFD(r *reactor.Reactor, log hclog.Logger, fd int, closer io.Closer, onFrame FrameFunc, onFatal FatalFunc, onViolation ViolationFunc) (*Link, error) {
	return newFromFD(r, log, fd, closer, onFrame, onFatal, onViolation)
}

func newFromFD(r *reactor.Reactor, log hclog.Logger, fd int, closer io.Closer, onFrame FrameFunc, onFatal FatalFunc, onViolation ViolationFunc) (*Link, error) {
	l := &Link{
		log:         log.Named("link"),
		closer:      closer,
		fd:          fd,
		ring:        newRxRing(defaultRxCapacity),
		decoder:     wire.NewDecoder(),
		onFrame:     onFrame,
		onFatal:     onFatal,
		onViolation: onViolation,
	}
	if _, err := r.AddFD(l.fd, reactor.Readable, l.onReadable, nil); err != nil {
		closer.Close()
		return nil, err
	}
	return l, nil
}

func (l *Link) onReadable(_ reactor.FDHandle, _ reactor.Interest, _ any) {
	if l.closed {
		return
	}
	span := l.ring.writeSpan()
	if len(span) == 0 {
		l.log.Warn("receive ring full, dropping pending bytes")
		l.ring.head, l.ring.tail = 0, 0
		span = l.ring.writeSpan()
	}
	n, err := unix.Read(l.fd, span)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
			return
		}
		l.fail(err)
		return
	}
	if n == 0 {
		l.fail(io.EOF)
		return
	}
	l.ring.commit(n)

	consumed := 0
	for _, b := range l.ring.readSpan() {
		consumed++
		frame, ok := l.decoder.Feed(b, l.violation)
		if ok && l.onFrame != nil {
			l.onFrame(frame)
		}
	}
	l.ring.release(consumed)
}

func (l *Link) violation(reason string) {
	if l.onViolation != nil {
		l.onViolation(reason)
	}
}

func (l *Link) fail(err error) {
	if l.closed {
		return
	}
	l.closed = true
	if l.onFatal != nil {
		l.onFatal(err)
	}
}

// Send builds and transmits a framed packet. It never buffers: on
// Busy the caller is expected to arm a timer and retry.
func (l *Link) Send(cmd, core, reg byte, data []byte) (Result, error) {
	if l.closed {
		return Closed, errors.New("link: closed")
	}
	frame, err := wire.Encode(cmd, core, reg, data)
	if err != nil {
		return Closed, err
	}
	n, err := unix.Write(l.fd, frame)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return Busy, nil
		}
		l.fail(err)
		return Closed, err
	}
	if n < len(frame) {
		// a partial write on a non-blocking fd is "busy" in spirit:
		// the remainder was not accepted and the core does not buffer.
		return Busy, nil
	}
	return Sent, nil
}

// Close releases the underlying serial port.
func (l *Link) Close() error {
	l.closed = true
	return l.closer.Close()
}
