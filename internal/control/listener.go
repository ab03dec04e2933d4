// Package control implements the control-plane TCP listener: line
// buffered ASCII command parsing and session lifecycle, shaped after
// an accumulate-then-parse-one-unit framed reader/writer pair, adapted
// from length-prefixed binary framing to newline-terminated ASCII.
package control

import (
	"github.com/hashicorp/go-hclog"
	"golang.org/x/sys/unix"

	"github.com/bob-dpi/pcdaemon/internal/broadcast"
	"github.com/bob-dpi/pcdaemon/internal/pcconst"
	"github.com/bob-dpi/pcdaemon/internal/reactor"
)

// Handler executes the five control-plane verbs. Get's deferred return
// is true when the resource answered asynchronously (a hardware read
// was issued and the UI lock set); the listener then withholds the
// prompt until the driver later calls SendUI/Prompt directly on the
// locked session.
type Handler interface {
	Set(s *Session, selector, resourceName, value string) (resp string, err error)
	Get(s *Session, selector, resourceName string) (resp string, deferred bool, err error)
	Cat(s *Session, selector, resourceName string) error
	List(s *Session, selector string) (resp string, err error)
	LoadSO(s *Session, filename string) (resp string, err error)
}

// Listener owns the accepting socket and the fixed-size session pool.
type Listener struct {
	log      hclog.Logger
	r        *reactor.Reactor
	fd       int
	prefix   string
	handler  Handler
	sessions [pcconst.MaxSessions]*Session
	nextGen  int64
}

// New opens a listening socket on bindAddr:port and registers it with
// r. prefix is the configured verb prefix (e.g. "pc").
func New(r *reactor.Reactor, log hclog.Logger, bindAddr string, port int, prefix string, handler Handler) (*Listener, error) {
	fd, err := listenTCP(bindAddr, port)
	if err != nil {
		return nil, err
	}
	l := &Listener{log: log.Named("control"), r: r, fd: fd, prefix: prefix, handler: handler}
	if _, err := r.AddFD(fd, reactor.Readable, l.onAcceptReady, nil); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return l, nil
}

func (l *Listener) onAcceptReady(reactor.FDHandle, reactor.Interest, any) {
	for {
		fd, peer, err := acceptTCP(l.fd)
		if err != nil {
			if err != unix.EAGAIN && err != unix.EWOULDBLOCK {
				l.log.Warn("accept failed", "err", err)
			}
			return
		}
		idx, ok := l.nextFreeSlot()
		if !ok {
			l.log.Warn("session pool full, rejecting connection", "peer", peer)
			unix.Close(fd)
			continue
		}
		l.nextGen++
		s := newSession(idx, l.nextGen, fd, peer)
		s.onData = l.handleLine
		s.onGone = func(gone *Session) {
			_ = l.r.DelFD(gone.handle)
			l.sessions[gone.index] = nil
		}
		h, err := l.r.AddFD(fd, reactor.Readable, l.onSessionReadable, s)
		if err != nil {
			unix.Close(fd)
			continue
		}
		s.handle = h
		l.sessions[idx] = s
		l.log.Debug("session accepted", "index", idx, "peer", peer)
	}
}

func (l *Listener) nextFreeSlot() (int, bool) {
	for i := range l.sessions {
		if l.sessions[i] == nil {
			return i, true
		}
	}
	return -1, false
}

func (l *Listener) onSessionReadable(_ reactor.FDHandle, _ reactor.Interest, ctx any) {
	s := ctx.(*Session)
	var buf [1024]byte
	n, err := unix.Read(s.fd, buf[:])
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return
		}
		l.teardown(s)
		return
	}
	if n == 0 {
		l.teardown(s)
		return
	}
	s.feed(buf[:n])
}

func (l *Listener) teardown(s *Session) {
	_ = l.r.DelFD(s.handle)
	_ = s.Close()
}

func (l *Listener) handleLine(s *Session, line string) {
	if s.catMode {
		return // dedicated to its broadcast stream; further input ignored
	}
	cmd, err := parseLine(l.prefix, line)
	if err != nil {
		_ = s.Write([]byte(err.Error() + "\n"))
		s.Prompt()
		return
	}
	switch cmd.Verb {
	case VerbSet:
		resp, err := l.handler.Set(s, cmd.Selector, cmd.Resource, cmd.Arg)
		l.reply(s, resp, err)
	case VerbGet:
		resp, deferred, err := l.handler.Get(s, cmd.Selector, cmd.Resource)
		if deferred && err == nil {
			return
		}
		l.reply(s, resp, err)
	case VerbCat:
		if err := l.handler.Cat(s, cmd.Selector, cmd.Resource); err != nil {
			l.reply(s, "", err)
			return
		}
		s.catMode = true
	case VerbList:
		resp, err := l.handler.List(s, cmd.Selector)
		l.reply(s, resp, err)
	case VerbLoadSO:
		resp, err := l.handler.LoadSO(s, cmd.Arg)
		l.reply(s, resp, err)
	}
}

func (l *Listener) reply(s *Session, resp string, err error) {
	if err != nil {
		_ = s.Write([]byte(err.Error() + "\n"))
	} else if resp != "" {
		_ = s.Write([]byte(resp))
	}
	s.Prompt()
}

// SessionByIndex returns the live session at idx, or nil. Drivers
// resolve a UI lock back to a session through this, via the Services
// SendUI/Prompt closures built on top of it.
func (l *Listener) SessionByIndex(idx int) *Session {
	if idx < 0 || idx >= len(l.sessions) {
		return nil
	}
	return l.sessions[idx]
}

// Sessions returns every live session as a broadcast.Session, for the
// fabric's fan-out walk.
func (l *Listener) Sessions() []broadcast.Session {
	out := make([]broadcast.Session, 0, len(l.sessions))
	for _, s := range l.sessions {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// Close releases the listening socket. Existing sessions are left to
// the reactor's own fd teardown path.
func (l *Listener) Close() error {
	return unix.Close(l.fd)
}
