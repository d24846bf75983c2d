// SPDX-License-Identifier: MIT

// Package capture owns the external stream-recording subprocess of a
// session: exactly one child per session, in its own process group, writing
// to a path scoped to the session id.
package capture

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/klangwald/aircap/internal/fsutil"
	"github.com/klangwald/aircap/internal/log"
	"github.com/klangwald/aircap/internal/session"
)

// Agent starts and supervises capture processes.
type Agent struct {
	WorkDir   string
	Protocols []string
	Grace     time.Duration
	Runner    Runner

	// FFprobePath is used by Probe for non-HTTP schemes.
	FFprobePath string
}

// rawFileName is the per-session raw capture file inside the session dir.
const rawFileName = "raw.mp3"

// ValidateScheme checks the source URL scheme against the allow-list.
// Rejection happens before any process is spawned.
func (a *Agent) ValidateScheme(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return &session.ProtocolError{Scheme: rawURL}
	}
	scheme := strings.ToLower(u.Scheme)
	for _, p := range a.Protocols {
		if scheme == p {
			return nil
		}
	}
	return &session.ProtocolError{Scheme: scheme}
}

// Start validates the source and spawns the capture process for sessionID.
// The returned handle owns the process; limit zero means unlimited.
func (a *Agent) Start(ctx context.Context, sessionID string, cfg session.StreamConfig, limit time.Duration) (*Handle, error) {
	if err := a.ValidateScheme(cfg.StreamURL); err != nil {
		return nil, err
	}

	dir, err := fsutil.SessionDir(a.WorkDir, sessionID)
	if err != nil {
		return nil, err
	}
	rawPath := filepath.Join(dir, rawFileName)

	runner := a.Runner
	if runner == nil {
		runner = &FFmpegRunner{}
	}

	proc, err := runner.Start(ctx, Spec{URL: cfg.StreamURL, OutPath: rawPath, Limit: limit})
	if err != nil {
		return nil, &session.ConnectionError{Detail: err.Error(), ExitCode: -1, Err: err}
	}

	h := &Handle{
		sessionID: sessionID,
		path:      rawPath,
		proc:      proc,
		grace:     a.Grace,
		startedAt: time.Now(),
		done:      make(chan struct{}),
		status:    StatusRunning,
	}
	go h.monitor()
	if limit > 0 {
		go h.watchdog(limit)
	}

	log.WithSession("capture", sessionID).Info().
		Str(log.FieldStream, cfg.Name).
		Str(log.FieldPath, rawPath).
		Dur("limit", limit).
		Msg("capture started")
	return h, nil
}

// Probe tests stream connectivity without recording: an HTTP HEAD request
// for http(s) sources, an ffprobe run for everything else. Used by the API's
// test-connection endpoint, never on the capture path.
func (a *Agent) Probe(ctx context.Context, rawURL string) error {
	if err := a.ValidateScheme(rawURL); err != nil {
		return err
	}
	u, _ := url.Parse(rawURL)
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return a.probeHTTP(ctx, rawURL)
	default:
		return a.probeFFprobe(ctx, rawURL)
	}
}

func (a *Agent) probeHTTP(ctx context.Context, rawURL string) error {
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, rawURL, nil)
	if err != nil {
		return &session.ConnectionError{Detail: err.Error(), ExitCode: -1, Err: err}
	}
	req.Header.Set("User-Agent", "aircap/1.0")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return &session.ConnectionError{Detail: fmt.Sprintf("connection test failed: %v", err), ExitCode: -1, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return &session.ConnectionError{Detail: fmt.Sprintf("HTTP error: %d", resp.StatusCode), ExitCode: -1}
	}
	return nil
}

func (a *Agent) probeFFprobe(ctx context.Context, rawURL string) error {
	bin := a.FFprobePath
	if bin == "" {
		bin = "ffprobe"
	}
	probeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	cmd := exec.CommandContext(probeCtx, bin, // #nosec G204 -- binary path from config
		"-v", "quiet",
		"-show_streams",
		"-analyzeduration", "5000000",
		"-probesize", "5000000",
		rawURL,
	)
	if err := cmd.Run(); err != nil {
		return &session.ConnectionError{Detail: fmt.Sprintf("stream probe failed: %v", err), ExitCode: -1, Err: err}
	}
	return nil
}
