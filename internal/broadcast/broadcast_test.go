package broadcast

import "testing"

type fakeSession struct {
	id     int
	key    int
	writes [][]byte
	closed bool
	failAt int // write fails once writes reaches this count; 0 = never
}

func (f *fakeSession) ConnIndex() int        { return f.id }
func (f *fakeSession) BroadcastKey() int     { return f.key }
func (f *fakeSession) SetBroadcastKey(k int) { f.key = k }
func (f *fakeSession) Close() error {
	f.closed = true
	f.key = 0
	return nil
}
func (f *fakeSession) Write(p []byte) error {
	if f.failAt != 0 && len(f.writes)+1 == f.failAt {
		return errWriteFailed
	}
	f.writes = append(f.writes, append([]byte{}, p...))
	return nil
}

var errWriteFailed = &testErr{"write failed"}

type testErr struct{ s string }

func (e *testErr) Error() string { return e.s }

func TestTwoSubscribersBothReceive(t *testing.T) {
	a := &fakeSession{id: 1}
	b := &fakeSession{id: 2}
	sessions := []Session{a, b}
	f := New(func() []Session { return sessions })

	var key int
	f.Subscribe(a, &key, 4, 2)
	f.Subscribe(b, &key, 4, 2)
	if key == 0 {
		t.Fatal("key should be nonzero after first subscribe")
	}

	f.Publish(&key, []byte("03\n"))
	if len(a.writes) != 1 || string(a.writes[0]) != "03\n" {
		t.Fatalf("a did not receive broadcast: %v", a.writes)
	}
	if len(b.writes) != 1 || string(b.writes[0]) != "03\n" {
		t.Fatalf("b did not receive broadcast: %v", b.writes)
	}
}

func TestDroppingLastSubscriberClearsKey(t *testing.T) {
	a := &fakeSession{id: 1}
	sessions := []Session{a}
	f := New(func() []Session { return sessions })

	var key int
	f.Subscribe(a, &key, 1, 0)
	f.Unsubscribe(a)

	f.Publish(&key, []byte("x"))
	if key != 0 {
		t.Fatalf("key should clear once no session matches, got %d", key)
	}
}

func TestPublishSkippedWhenNoSubscribers(t *testing.T) {
	f := New(func() []Session { return nil })
	key := 0
	f.Publish(&key, []byte("x")) // must not panic on empty session list
	if key != 0 {
		t.Fatalf("key should remain 0")
	}
}

func TestWriteFailureTearsDownSession(t *testing.T) {
	a := &fakeSession{id: 1, failAt: 1}
	sessions := []Session{a}
	f := New(func() []Session { return sessions })

	var key int
	f.Subscribe(a, &key, 2, 1)
	f.Publish(&key, []byte("x"))

	if !a.closed {
		t.Fatal("session with a failed write should be torn down")
	}
}

func TestKeyIsDeterministicAndNeverZeroForValidInputs(t *testing.T) {
	if Key(0, 0) == 0 {
		t.Fatal("slot 0, resource 0 must not encode to the sentinel")
	}
	if Key(0, 0) == Key(1, 0) {
		t.Fatal("different slots must not collide")
	}
}
