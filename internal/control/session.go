package control

import (
	"golang.org/x/sys/unix"

	"github.com/bob-dpi/pcdaemon/internal/pcconst"
	"github.com/bob-dpi/pcdaemon/internal/reactor"
)

// Session is one accepted TCP connection: a stable connection index,
// the raw fd, a line accumulator with write cursor, the peer address,
// and an optional broadcast binding.
type Session struct {
	index        int
	generation   int64
	fd           int
	peer         string
	buf          []byte
	broadcastKey int
	catMode      bool
	closed       bool
	discarding   bool // dropping the rest of an overlong line

	handle reactor.FDHandle
	onData func(s *Session, line string)
	onGone func(s *Session)
}

// newSession builds a Session for a freshly accepted connection.
// generation is a counter the Listener bumps on every accept, so a
// pool index recycled to a new connection never matches a lock stamped
// by the connection that previously held it.
func newSession(index int, generation int64, fd int, peer string) *Session {
	return &Session{
		index:        index,
		generation:   generation,
		fd:           fd,
		peer:         peer,
		buf:          make([]byte, 0, pcconst.MaxCommandLine),
		broadcastKey: pcconst.NoKey,
	}
}

// ConnIndex, BroadcastKey, SetBroadcastKey, Write, Close implement
// broadcast.Session.
func (s *Session) ConnIndex() int    { return s.index }
func (s *Session) Generation() int64 { return s.generation }
func (s *Session) BroadcastKey() int { return s.broadcastKey }
func (s *Session) SetBroadcastKey(k int) {
	s.broadcastKey = k
}

func (s *Session) Write(payload []byte) error {
	if s.closed {
		return errClosed
	}
	_, err := unix.Write(s.fd, payload)
	if err != nil && err != unix.EAGAIN {
		return err
	}
	return nil
}

// Prompt emits the single-byte command-boundary marker.
func (s *Session) Prompt() {
	_ = s.Write([]byte{'\\'})
}

func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.broadcastKey = pcconst.NoKey
	if s.onGone != nil {
		s.onGone(s)
	}
	return unix.Close(s.fd)
}

// feed appends newly read bytes, peeling off and dispatching every
// complete newline-terminated line; any trailing partial input is
// retained for the next read. Lines longer than the maximum command
// length are dropped with the buffer reset, rather than grown
// unbounded.
func (s *Session) feed(chunk []byte) {
	for _, b := range chunk {
		if b == '\n' {
			if s.discarding {
				s.discarding = false
				continue
			}
			line := string(s.buf)
			s.buf = s.buf[:0]
			if s.onData != nil {
				s.onData(s, line)
			}
			continue
		}
		if s.discarding {
			continue
		}
		if len(s.buf) >= pcconst.MaxCommandLine {
			s.buf = s.buf[:0]
			s.discarding = true
			continue
		}
		s.buf = append(s.buf, b)
	}
}
