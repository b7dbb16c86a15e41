package reaper

import (
	"os/exec"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestMonitorIsIdempotent(t *testing.T) {
	r := New(zerolog.Nop())
	r.Monitor(4242)
	r.Monitor(4242)

	if len(r.monitored) != 1 {
		t.Fatalf("monitored set = %d entries, want 1", len(r.monitored))
	}
}

func TestChildExitNotifiesExactlyOnce(t *testing.T) {
	cmd := exec.Command("sleep", "0.05")
	if err := cmd.Start(); err != nil {
		t.Skipf("cannot start child process: %v", err)
	}
	pid := cmd.Process.Pid

	r := New(zerolog.Nop())

	var mu sync.Mutex
	var notifications []ExitStatus
	var count int32
	r.AddListener(func(es ExitStatus) {
		atomic.AddInt32(&count, 1)
		mu.Lock()
		notifications = append(notifications, es)
		mu.Unlock()
	})

	r.Monitor(pid)
	r.Start()
	defer r.Stop()

	deadline := time.After(3 * time.Second)
	for atomic.LoadInt32(&count) == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for exit notification")
		case <-time.After(10 * time.Millisecond):
		}
	}

	// give a couple more ticks to make sure a duplicate doesn't show up
	time.Sleep(3 * ScanInterval / 2)

	if got := atomic.LoadInt32(&count); got != 1 {
		t.Fatalf("got %d notifications, want exactly 1", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if !notifications[0].Known {
		t.Fatalf("expected a known exit status for a direct child")
	}

	_ = cmd.Wait() // reap via os/exec's own accounting is fine; the reaper already consumed the wait4
}

func TestUnmonitoredPidIsIgnored(t *testing.T) {
	r := New(zerolog.Nop())
	fired := false
	r.AddListener(func(ExitStatus) { fired = true })

	r.reapChildren()
	r.scanNonChildren()

	if fired {
		t.Fatal("listener fired with nothing monitored")
	}
}
