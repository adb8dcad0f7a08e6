package timer

import (
	"errors"
	"testing"
	"time"
)

func TestTimerNotActive(t *testing.T) {
	t.Parallel()

	tm := New(10 * time.Millisecond)
	if tm.IsUp() {
		t.Fatal("new timer should not be active")
	}

	if _, err := tm.IsExpired(); !errors.Is(err, ErrNotActive) {
		t.Fatalf("IsExpired() error = %v, want ErrNotActive", err)
	}
}

func TestTimerStartImmediate(t *testing.T) {
	t.Parallel()

	tm := New(time.Hour)
	tm.StartImmediate()

	if !tm.IsUp() {
		t.Fatal("timer should be active after StartImmediate")
	}

	expired, err := tm.IsExpired()
	if err != nil {
		t.Fatalf("IsExpired() error = %v", err)
	}
	if !expired {
		t.Fatal("timer started immediately should report expired")
	}
}

func TestTimerExpiry(t *testing.T) {
	t.Parallel()

	tm := New(10 * time.Millisecond)
	tm.Start()

	expired, err := tm.IsExpired()
	if err != nil {
		t.Fatalf("IsExpired() error = %v", err)
	}
	if expired {
		t.Fatal("freshly started timer should not be expired")
	}

	time.Sleep(20 * time.Millisecond)

	expired, err = tm.IsExpired()
	if err != nil {
		t.Fatalf("IsExpired() error = %v", err)
	}
	if !expired {
		t.Fatal("timer should be expired after sleeping past its interval")
	}
}

func TestTimerStop(t *testing.T) {
	t.Parallel()

	tm := New(time.Millisecond)
	tm.Start()
	tm.Stop()

	if tm.IsUp() {
		t.Fatal("timer should not be active after Stop")
	}
}
