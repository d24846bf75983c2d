// SPDX-License-Identifier: MIT

package capture

import (
	"context"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/klangwald/aircap/internal/log"
	"github.com/klangwald/aircap/internal/metrics"
	"github.com/klangwald/aircap/internal/session"
)

// Status describes a capture handle's process state.
type Status string

const (
	StatusRunning Status = "RUNNING"
	StatusStopped Status = "STOPPED"
	StatusCrashed Status = "CRASHED"
)

// Result describes a successfully finished capture.
type Result struct {
	Path         string
	StartedAt    time.Time
	EndedAt      time.Time
	LimitReached bool
}

// Handle is the running capture of exactly one session. The agent never
// associates a second process with the same handle.
type Handle struct {
	sessionID string
	path      string
	proc      Process
	grace     time.Duration
	startedAt time.Time

	done chan struct{}

	mu        sync.Mutex
	status    Status
	stopCause string // "", "stop", "limit"
	result    Result
	err       error
}

// Path returns the raw capture path, unique to the session.
func (h *Handle) Path() string { return h.path }

// Status reports the current process state.
func (h *Handle) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// monitor waits for process exit and classifies the outcome. A requested
// stop and a watchdog expiry are successful ends of capture; anything else
// before the limit is a retryable connection failure.
func (h *Handle) monitor() {
	waitErr := h.proc.Wait()
	ended := time.Now()

	h.mu.Lock()
	defer h.mu.Unlock()
	defer close(h.done)

	cause := h.stopCause
	switch {
	case cause == "limit":
		h.status = StatusStopped
		h.result = Result{Path: h.path, StartedAt: h.startedAt, EndedAt: ended, LimitReached: true}
		metrics.IncCaptureExit("limit")
	case cause == "stop":
		h.status = StatusStopped
		h.result = Result{Path: h.path, StartedAt: h.startedAt, EndedAt: ended}
		metrics.IncCaptureExit("cancelled")
	case waitErr == nil:
		// Stream ended cleanly on its own.
		h.status = StatusStopped
		h.result = Result{Path: h.path, StartedAt: h.startedAt, EndedAt: ended}
		metrics.IncCaptureExit("clean")
	default:
		h.status = StatusCrashed
		code := h.proc.ExitCode()
		detail := strings.Join(h.proc.Stderr(5), "; ")
		if detail == "" {
			detail = waitErr.Error()
		}
		h.err = &session.ConnectionError{Detail: detail, ExitCode: code, Err: waitErr}
		metrics.IncCaptureExit("error")
		log.WithSession("capture", h.sessionID).Warn().
			Int(log.FieldExitCode, code).
			Strs("stderr", h.proc.Stderr(10)).
			Msg("capture process exited unexpectedly")
	}
}

// watchdog stops the process at the duration limit. It runs independently of
// the monitor goroutine so the limit fires even if health reporting stalls.
func (h *Handle) watchdog(limit time.Duration) {
	timer := time.NewTimer(limit)
	defer timer.Stop()
	select {
	case <-h.done:
	case <-timer.C:
		h.terminate("limit")
	}
}

// Stop terminates the capture process group: SIGTERM, grace, then SIGKILL.
// The resulting exit is reported as a successful end of capture.
func (h *Handle) Stop() {
	h.terminate("stop")
}

func (h *Handle) terminate(cause string) {
	h.mu.Lock()
	select {
	case <-h.done:
		h.mu.Unlock()
		return
	default:
	}
	if h.stopCause == "" {
		h.stopCause = cause
	}
	h.mu.Unlock()

	_ = h.proc.Signal(syscall.SIGTERM)

	grace := h.grace
	if grace <= 0 {
		grace = 5 * time.Second
	}
	select {
	case <-h.done:
	case <-time.After(grace):
		log.WithSession("capture", h.sessionID).Warn().
			Msg("capture did not exit within grace period, sending SIGKILL to process group")
		_ = h.proc.Signal(syscall.SIGKILL)
	}
}

// Wait blocks until the capture ends or ctx is cancelled. Cancellation
// interrupts the wait, terminates the process group and returns ctx.Err().
func (h *Handle) Wait(ctx context.Context) (Result, error) {
	select {
	case <-h.done:
	case <-ctx.Done():
		h.terminate("stop")
		<-h.done
		return Result{}, ctx.Err()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return Result{}, h.err
	}
	return h.result, nil
}
