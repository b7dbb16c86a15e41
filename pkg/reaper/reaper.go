// Package reaper observes termination of arbitrary process IDs,
// including PIDs that are not children of this process (an executor
// may be reparented away from the agent by a container runtime). It
// fires exactly one notification per monitored PID.
package reaper

import (
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// ScanInterval is the polling period, short enough that a dead
// executor is noticed within about a second.
const ScanInterval = 1 * time.Second

// ExitStatus describes how a monitored PID was observed to terminate.
// Status is -1 and Known is false when the PID was a non-child and the
// reaper could only observe its disappearance, not its exit code.
type ExitStatus struct {
	PID    int
	Status int
	Known  bool
}

// Listener receives exit notifications. Implementations must not block.
type Listener func(ExitStatus)

// Reaper polls a set of monitored PIDs on a periodic tick and notifies
// listeners exactly once per PID when it disappears.
type Reaper struct {
	log zerolog.Logger

	mu        sync.Mutex
	monitored map[int]struct{}
	listeners []Listener

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a Reaper. Call Start to begin polling.
func New(log zerolog.Logger) *Reaper {
	return &Reaper{
		log:       log.With().Str("component", "reaper").Logger(),
		monitored: make(map[int]struct{}),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start begins the poll loop in its own goroutine. The reaper is a
// single-threaded actor: all state mutation happens on this goroutine
// or is synchronized through the mutex guarding the monitored set.
func (r *Reaper) Start() {
	go r.run()
}

// Stop ends the poll loop and waits for it to exit.
func (r *Reaper) Stop() {
	close(r.stopCh)
	<-r.doneCh
}

// Monitor registers interest in pid. monitor(pid) followed by a second
// monitor(pid) is idempotent: only one notification is ever delivered
// per PID.
func (r *Reaper) Monitor(pid int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.monitored[pid] = struct{}{}
}

// AddListener subscribes a callback to every future exit notification.
func (r *Reaper) AddListener(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

func (r *Reaper) run() {
	defer close(r.doneCh)

	ticker := time.NewTicker(ScanInterval)
	defer ticker.Stop()

	// Non-blocking reap of direct children every tick; this never
	// conflicts with the liveness probe below, since a PID that is
	// both a child and successfully wait4'd is removed before the
	// probe would run for it.
	for {
		select {
		case <-ticker.C:
			r.reapChildren()
			r.scanNonChildren()
		case <-r.stopCh:
			return
		}
	}
}

// reapChildren drains already-exited direct children with a
// non-blocking wait4, notifying listeners with the real exit status.
func (r *Reaper) reapChildren() {
	for {
		var ws syscall.WaitStatus
		pid, err := syscall.Wait4(-1, &ws, syscall.WNOHANG, nil)
		if err != nil || pid <= 0 {
			return
		}

		r.mu.Lock()
		_, isMonitored := r.monitored[pid]
		if isMonitored {
			delete(r.monitored, pid)
		}
		r.mu.Unlock()

		if !isMonitored {
			continue
		}

		status := ws.ExitStatus()
		r.notify(ExitStatus{PID: pid, Status: status, Known: true})
	}
}

// scanNonChildren probes every remaining monitored PID with a zero
// signal; a PID that no longer accepts signals has exited, but since it
// may not be our child the exit status is unknowable and reported as
// such: callers must not infer task success or failure from the reaper
// alone for these non-child PIDs.
func (r *Reaper) scanNonChildren() {
	r.mu.Lock()
	pids := make([]int, 0, len(r.monitored))
	for pid := range r.monitored {
		pids = append(pids, pid)
	}
	r.mu.Unlock()

	for _, pid := range pids {
		if processAlive(pid) {
			continue
		}

		r.mu.Lock()
		_, stillMonitored := r.monitored[pid]
		if stillMonitored {
			delete(r.monitored, pid)
		}
		r.mu.Unlock()

		if stillMonitored {
			r.notify(ExitStatus{PID: pid, Status: -1, Known: false})
		}
	}
}

func (r *Reaper) notify(status ExitStatus) {
	r.mu.Lock()
	listeners := make([]Listener, len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.Unlock()

	r.log.Debug().Int("pid", status.PID).Bool("known", status.Known).Msg("process exited")
	for _, l := range listeners {
		l(status)
	}
}

// processAlive sends the zero signal to pid: delivery succeeds iff the
// process still exists and is visible to us, per kill(2)'s documented
// behavior for signal 0.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return err == syscall.EPERM
}
