// SPDX-License-Identifier: MIT

package transfer

import (
	"context"
	"fmt"
	"io"
	"os"
	gpath "path"
	"path/filepath"
	"strings"
	"time"

	"github.com/klangwald/aircap/internal/log"
	"github.com/klangwald/aircap/internal/metrics"
	"github.com/klangwald/aircap/internal/session"
)

// Ack records a verified delivery.
type Ack struct {
	RemotePath string
	Bytes      int64
	Duration   time.Duration
}

// Agent uploads artifacts. One Transfer call is one attempt; the caller owns
// the retry loop.
type Agent struct {
	Dialer Dialer

	// DefaultKeyPath is used when the stream config does not set its own key.
	DefaultKeyPath string

	// Timeout bounds a single attempt end to end.
	Timeout time.Duration
}

// Transfer uploads artifactPath to the destination in cfg. The upload lands
// under a temporary remote name, the size is verified against the local file,
// and only then is it renamed into place. The local artifact is never removed.
func (a *Agent) Transfer(ctx context.Context, artifactPath string, cfg session.StreamConfig) (Ack, error) {
	start := time.Now()

	dest, err := ParseDestination(cfg.Destination)
	if err != nil {
		return Ack{}, &session.TransferError{Detail: err.Error(), Terminal: true, Err: err}
	}

	keyPath := cfg.KeyPath
	if keyPath == "" {
		keyPath = a.DefaultKeyPath
	}
	signer, err := LoadSigner(keyPath)
	if err != nil {
		// A missing or malformed key cannot heal between attempts.
		return Ack{}, &session.TransferError{Detail: err.Error(), Terminal: true, Err: err}
	}

	localSize, err := localFileSize(artifactPath)
	if err != nil {
		return Ack{}, &session.TransferError{Detail: err.Error(), Terminal: true, Err: err}
	}

	if a.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Timeout)
		defer cancel()
	}

	client, err := a.Dialer.Dial(ctx, dest, signer)
	if err != nil {
		// A rejected key will not heal between attempts; network faults can.
		return Ack{}, &session.TransferError{Detail: err.Error(), Terminal: isAuthFailure(err), Err: err}
	}
	defer func() { _ = client.Close() }()

	name := filepath.Base(artifactPath)
	finalPath := gpath.Join(dest.Path, name)
	partPath := finalPath + ".part"

	n, err := a.upload(ctx, client, artifactPath, partPath)
	if err != nil {
		_ = client.Remove(partPath)
		return Ack{}, &session.TransferError{Detail: err.Error(), Err: err}
	}

	remoteSize, err := client.Size(partPath)
	if err != nil {
		_ = client.Remove(partPath)
		return Ack{}, &session.TransferError{Detail: fmt.Sprintf("stat uploaded file: %v", err), Err: err}
	}
	if remoteSize != localSize {
		_ = client.Remove(partPath)
		return Ack{}, &session.TransferError{
			Detail: fmt.Sprintf("size mismatch after upload: remote %d local %d", remoteSize, localSize),
		}
	}

	if err := client.Rename(partPath, finalPath); err != nil {
		_ = client.Remove(partPath)
		return Ack{}, &session.TransferError{Detail: fmt.Sprintf("rename into place: %v", err), Err: err}
	}

	metrics.AddTransferBytes(n)
	log.WithComponent("transfer").Info().
		Str(log.FieldDestination, dest.String()).
		Str(log.FieldPath, finalPath).
		Int64("bytes", n).
		Dur("elapsed", time.Since(start)).
		Msg("artifact delivered")

	return Ack{RemotePath: finalPath, Bytes: n, Duration: time.Since(start)}, nil
}

func (a *Agent) upload(ctx context.Context, client Client, localPath, remotePath string) (int64, error) {
	if err := client.MkdirAll(gpath.Dir(remotePath)); err != nil {
		return 0, fmt.Errorf("create remote directory: %w", err)
	}
	in, err := os.Open(localPath) // #nosec G304 -- path produced by the processing stage
	if err != nil {
		return 0, fmt.Errorf("open artifact: %w", err)
	}
	defer func() { _ = in.Close() }()

	out, err := client.Create(remotePath)
	if err != nil {
		return 0, fmt.Errorf("create remote file: %w", err)
	}
	n, err := io.Copy(out, contextReader{ctx: ctx, r: in})
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("upload: %w", err)
	}
	return n, nil
}

// isAuthFailure reports whether a dial error means the server rejected our
// credentials. The ssh package surfaces this as a handshake error, so it is
// only distinguishable from transport faults by its message.
func isAuthFailure(err error) bool {
	return err != nil && strings.Contains(err.Error(), "unable to authenticate")
}

func localFileSize(path string) (int64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat artifact: %w", err)
	}
	if fi.Size() == 0 {
		return 0, fmt.Errorf("artifact %s is empty", path)
	}
	return fi.Size(), nil
}

// contextReader aborts an in-flight copy when the attempt context ends.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
