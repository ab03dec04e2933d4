package reactor

import (
	"os"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
)

func newTestReactor(t *testing.T) *Reactor {
	t.Helper()
	r, err := New(hclog.NewNullLogger(), 8, 8)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestOneShotTimerFiresOnce(t *testing.T) {
	r := newTestReactor(t)
	fired := 0
	stop := make(chan struct{})
	if _, err := r.AddTimer(TimerOneShot, time.Millisecond, func(TimerHandle, any) {
		fired++
		close(stop)
	}, nil); err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() { done <- r.Run(stop) }()
	select {
	case <-stop:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
	<-done
	if fired != 1 {
		t.Fatalf("fired %d times, want 1", fired)
	}
}

func TestPeriodicTimerRearms(t *testing.T) {
	r := newTestReactor(t)
	var fired int
	stop := make(chan struct{})
	var h TimerHandle
	var err error
	h, err = r.AddTimer(TimerPeriodic, time.Millisecond, func(TimerHandle, any) {
		fired++
		if fired == 3 {
			r.DelTimer(h)
			close(stop)
		}
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() { done <- r.Run(stop) }()
	select {
	case <-stop:
	case <-time.After(time.Second):
		t.Fatal("periodic timer did not fire three times")
	}
	<-done
	if fired != 3 {
		t.Fatalf("fired %d times, want 3", fired)
	}
}

func TestTimerPoolExhaustion(t *testing.T) {
	r, err := New(hclog.NewNullLogger(), 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if _, err := r.AddTimer(TimerOneShot, time.Hour, func(TimerHandle, any) {}, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := r.AddTimer(TimerOneShot, time.Hour, func(TimerHandle, any) {}, nil); err == nil {
		t.Fatal("expected out-of-pool error")
	}
}

func TestFDReadinessDispatch(t *testing.T) {
	r := newTestReactor(t)
	pr, pw, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer pr.Close()
	defer pw.Close()

	stop := make(chan struct{})
	var gotInterest Interest
	if _, err := r.AddFD(int(pr.Fd()), Readable, func(h FDHandle, interest Interest, ctx any) {
		gotInterest = interest
		close(stop)
	}, nil); err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() { done <- r.Run(stop) }()
	if _, err := pw.Write([]byte("x")); err != nil {
		t.Fatal(err)
	}
	select {
	case <-stop:
	case <-time.After(time.Second):
		t.Fatal("fd readiness never dispatched")
	}
	<-done
	if gotInterest&Readable == 0 {
		t.Fatalf("want Readable interest, got %v", gotInterest)
	}
}
