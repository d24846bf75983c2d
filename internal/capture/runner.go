// SPDX-License-Identifier: MIT

package capture

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/klangwald/aircap/internal/procgroup"
)

// Spec describes one capture process to launch.
type Spec struct {
	URL     string
	OutPath string
	// Limit is passed to the recorder as a belt-and-braces bound; the
	// watchdog in the handle enforces it independently.
	Limit time.Duration
}

// Process is one running capture subprocess. The real implementation wraps
// an ffmpeg child in its own process group; tests substitute a double that
// simulates success, crash and hang without spawning anything.
type Process interface {
	// Wait blocks until the process exits.
	Wait() error
	// Signal delivers sig to the whole process group.
	Signal(sig syscall.Signal) error
	// ExitCode is valid once Wait returned.
	ExitCode() int
	// Stderr returns the last n lines of diagnostic output.
	Stderr(n int) []string
}

// Runner launches capture processes.
type Runner interface {
	Start(ctx context.Context, spec Spec) (Process, error)
}

// FFmpegRunner records streams with an external ffmpeg binary, one child
// process per session.
type FFmpegRunner struct {
	Bin string
}

func (r *FFmpegRunner) Start(ctx context.Context, spec Spec) (Process, error) {
	bin := r.Bin
	if bin == "" {
		bin = "ffmpeg"
	}

	args := []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", spec.URL,
		"-acodec", "libmp3lame",
		"-ab", "128k",
		"-f", "mp3",
	}
	if spec.Limit > 0 {
		args = append(args, "-t", strconv.Itoa(int(spec.Limit.Seconds())))
	}
	args = append(args, spec.OutPath)

	cmd := exec.Command(bin, args...) // #nosec G204 -- binary path from config
	procgroup.Set(cmd)

	ring := newLineRing(256)
	cmd.Stderr = ring

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", bin, err)
	}
	return &ffmpegProcess{cmd: cmd, ring: ring}, nil
}

type ffmpegProcess struct {
	cmd  *exec.Cmd
	ring *lineRing
	code int
}

func (p *ffmpegProcess) Wait() error {
	err := p.cmd.Wait()
	p.code = 0
	if err != nil {
		p.code = 1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			p.code = exitErr.ExitCode()
		}
	}
	return err
}

func (p *ffmpegProcess) Signal(sig syscall.Signal) error {
	return procgroup.Signal(p.cmd, sig)
}

func (p *ffmpegProcess) ExitCode() int { return p.code }

func (p *ffmpegProcess) Stderr(n int) []string { return p.ring.LastN(n) }
