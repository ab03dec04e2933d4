package control

import (
	"os"
	"testing"
)

func TestSessionFeedSplitsLinesAndRetainsPartial(t *testing.T) {
	s := newSession(0, 0, -1, "test")
	var lines []string
	s.onData = func(_ *Session, line string) { lines = append(lines, line) }

	s.feed([]byte("pcget a b\npcset c"))
	if len(lines) != 1 || lines[0] != "pcget a b" {
		t.Fatalf("unexpected lines: %v", lines)
	}
	if string(s.buf) != "pcset c" {
		t.Fatalf("partial input not retained: %q", s.buf)
	}

	s.feed([]byte(" d\n"))
	if len(lines) != 2 || lines[1] != "pcset c d" {
		t.Fatalf("unexpected lines after continuation: %v", lines)
	}
}

func TestSessionFeedDropsOverlongLine(t *testing.T) {
	s := newSession(0, 0, -1, "test")
	called := false
	s.onData = func(_ *Session, line string) { called = true }

	long := make([]byte, 200)
	for i := range long {
		long[i] = 'a'
	}
	s.feed(long)
	s.feed([]byte("\n"))
	if called {
		t.Fatal("overlong line should have been dropped, not dispatched")
	}
}

func TestSessionWriteAndClose(t *testing.T) {
	pr, pw, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer pr.Close()

	s := newSession(0, 0, int(pw.Fd()), "test")
	goneCalled := false
	s.onGone = func(*Session) { goneCalled = true }

	if err := s.Write([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 5)
	if _, err := pr.Read(buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "hello" {
		t.Fatalf("got %q", buf)
	}

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if !goneCalled {
		t.Fatal("onGone callback not invoked on Close")
	}
	if s.BroadcastKey() != 0 {
		t.Fatal("broadcast key should clear on close")
	}
}
