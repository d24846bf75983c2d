// SPDX-License-Identifier: MIT

// Package audio converts a raw capture into the finished, tagged artifact.
// Failures never touch the raw file; retries always restart from it.
package audio

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"

	"github.com/klangwald/aircap/internal/fsutil"
	"github.com/klangwald/aircap/internal/log"
	"github.com/klangwald/aircap/internal/session"
)

// artworkMaxDim bounds the longest side after downscaling oversized artwork.
const artworkMaxDim = 800

// Processor turns a raw capture into a tagged MP3 artifact.
type Processor struct {
	Tool            Toolchain
	OutDir          string
	MaxArtworkBytes int64
	Timeout         time.Duration
}

// Process converts rawPath, embeds metadata derived from cfg and the capture
// start timestamp, validates the result and promotes it atomically into the
// output directory. On any error the raw file is left untouched.
func (p *Processor) Process(ctx context.Context, rawPath string, cfg session.StreamConfig, recordingDate time.Time) (string, error) {
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	fi, err := os.Stat(rawPath)
	if err != nil {
		return "", &session.ProcessingError{Detail: fmt.Sprintf("raw capture missing: %v", err), Terminal: true, Err: err}
	}
	if fi.Size() == 0 {
		return "", &session.ProcessingError{Detail: "raw capture is empty", Terminal: true}
	}

	info, err := p.Tool.Probe(ctx, rawPath)
	if err != nil {
		// Undecodable input is structurally invalid; retrying cannot help.
		return "", &session.ProcessingError{Detail: fmt.Sprintf("raw capture not decodable: %v", err), Terminal: true, Err: err}
	}

	workDir := filepath.Dir(rawPath)
	workPath := filepath.Join(workDir, "work.mp3")
	taggedPath := filepath.Join(workDir, "tagged.mp3")
	cleanup := func() {
		_ = os.Remove(workPath)
		_ = os.Remove(taggedPath)
	}

	if isMP3(info.FormatName) {
		// Already the target format: a validated byte-for-byte copy.
		if err := copyFile(rawPath, workPath); err != nil {
			cleanup()
			return "", &session.ProcessingError{Detail: fmt.Sprintf("copy raw capture: %v", err), Err: err}
		}
	} else {
		if err := p.Tool.Convert(ctx, rawPath, workPath); err != nil {
			cleanup()
			return "", &session.ProcessingError{Detail: err.Error(), Err: err}
		}
	}

	artworkPath, artworkCleanup, err := p.prepareArtwork(ctx, cfg.ArtworkPath)
	if err != nil {
		cleanup()
		return "", err
	}
	defer artworkCleanup()

	tags := Tags(cfg, recordingDate)
	if err := p.Tool.Embed(ctx, workPath, taggedPath, tags, artworkPath); err != nil {
		cleanup()
		return "", &session.ProcessingError{Detail: err.Error(), Err: err}
	}

	if err := p.validate(ctx, taggedPath, tags); err != nil {
		cleanup()
		return "", err
	}

	finalPath := filepath.Join(p.OutDir, OutputName(cfg, recordingDate))
	if err := p.promote(taggedPath, finalPath); err != nil {
		cleanup()
		return "", &session.ProcessingError{Detail: fmt.Sprintf("promote artifact: %v", err), Err: err}
	}
	cleanup()

	log.WithComponent("audio").Info().
		Str(log.FieldPath, finalPath).
		Str("title", tags["title"]).
		Str("track", tags["track"]).
		Msg("artifact processed")
	return finalPath, nil
}

// prepareArtwork resolves the artwork to embed: nothing configured means no
// artwork, an oversized file is downscaled rather than rejected.
func (p *Processor) prepareArtwork(ctx context.Context, artworkPath string) (string, func(), error) {
	noop := func() {}
	if artworkPath == "" {
		return "", noop, nil
	}
	fi, err := os.Stat(artworkPath)
	if err != nil {
		log.WithComponent("audio").Warn().
			Str(log.FieldPath, artworkPath).
			Msg("configured artwork missing, embedding without it")
		return "", noop, nil
	}
	if p.MaxArtworkBytes <= 0 || fi.Size() <= p.MaxArtworkBytes {
		return artworkPath, noop, nil
	}

	scaled := artworkPath + ".scaled.jpg"
	if err := p.Tool.ScaleArtwork(ctx, artworkPath, scaled, artworkMaxDim); err != nil {
		return "", noop, &session.ProcessingError{Detail: fmt.Sprintf("downscale artwork: %v", err), Err: err}
	}
	return scaled, func() { _ = os.Remove(scaled) }, nil
}

// validate checks the finished artifact: non-zero size, decodable, and the
// required tags read back.
func (p *Processor) validate(ctx context.Context, path string, want map[string]string) error {
	fi, err := os.Stat(path)
	if err != nil || fi.Size() == 0 {
		return &session.ProcessingError{Detail: "artifact missing or empty after tagging", Err: err}
	}
	if _, err := p.Tool.Probe(ctx, path); err != nil {
		return &session.ProcessingError{Detail: fmt.Sprintf("artifact not decodable: %v", err), Err: err}
	}
	got, err := p.Tool.ReadTags(ctx, path)
	if err != nil {
		return &session.ProcessingError{Detail: fmt.Sprintf("read tags back: %v", err), Err: err}
	}
	for _, k := range requiredTags {
		if got[k] != want[k] {
			return &session.ProcessingError{
				Detail: fmt.Sprintf("tag %q mismatch after embedding: got %q want %q", k, got[k], want[k]),
			}
		}
	}
	return nil
}

// promote moves the validated artifact into the output directory atomically.
func (p *Processor) promote(src, dst string) error {
	if err := fsutil.EnsureDir(filepath.Dir(dst)); err != nil {
		return err
	}
	in, err := os.Open(src) // #nosec G304 -- path built from session workdir
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	t, err := renameio.TempFile(filepath.Dir(dst), dst)
	if err != nil {
		return err
	}
	defer func() { _ = t.Cleanup() }()

	if _, err := io.Copy(t, in); err != nil {
		return err
	}
	return t.CloseAtomicallyReplace()
}

func isMP3(formatName string) bool {
	for _, f := range strings.Split(formatName, ",") {
		if strings.TrimSpace(f) == "mp3" {
			return true
		}
	}
	return false
}

func copyFile(src, dst string) error {
	in, err := os.Open(src) // #nosec G304 -- path built from session workdir
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst) // #nosec G304 -- path built from session workdir
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
