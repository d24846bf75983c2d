// SPDX-License-Identifier: MIT

package audio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
)

// Info is what a probe learns about a media file.
type Info struct {
	FormatName string
	SizeBytes  int64
	Duration   float64
}

// Toolchain abstracts the external audio tooling (ffmpeg/ffprobe) so the
// processor can be driven by a test double that never spawns a process.
type Toolchain interface {
	// Probe inspects a media file; an error means the file is not decodable.
	Probe(ctx context.Context, path string) (Info, error)
	// Convert transcodes in to MP3 at out.
	Convert(ctx context.Context, in, out string) error
	// Embed writes tags (and optional artwork) into a copy of in at out
	// without re-encoding the audio stream.
	Embed(ctx context.Context, in, out string, tags map[string]string, artworkPath string) error
	// ReadTags returns the tag set of a media file.
	ReadTags(ctx context.Context, path string) (map[string]string, error)
	// ScaleArtwork downscales an image to fit maxDim on its longest side.
	ScaleArtwork(ctx context.Context, in, out string, maxDim int) error
}

// FFmpegToolchain shells out to ffmpeg and ffprobe.
type FFmpegToolchain struct {
	FFmpegPath  string
	FFprobePath string
}

func (t *FFmpegToolchain) ffmpeg() string {
	if t.FFmpegPath == "" {
		return "ffmpeg"
	}
	return t.FFmpegPath
}

func (t *FFmpegToolchain) ffprobe() string {
	if t.FFprobePath == "" {
		return "ffprobe"
	}
	return t.FFprobePath
}

type probeOutput struct {
	Format struct {
		FormatName string            `json:"format_name"`
		Size       string            `json:"size"`
		Duration   string            `json:"duration"`
		Tags       map[string]string `json:"tags"`
	} `json:"format"`
}

func (t *FFmpegToolchain) probeRaw(ctx context.Context, path string) (probeOutput, error) {
	cmd := exec.CommandContext(ctx, t.ffprobe(), // #nosec G204 -- binary path from config
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		path,
	)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return probeOutput{}, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	var out probeOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return probeOutput{}, fmt.Errorf("parse ffprobe output: %w", err)
	}
	return out, nil
}

func (t *FFmpegToolchain) Probe(ctx context.Context, path string) (Info, error) {
	raw, err := t.probeRaw(ctx, path)
	if err != nil {
		return Info{}, err
	}
	size, _ := strconv.ParseInt(raw.Format.Size, 10, 64)
	dur, _ := strconv.ParseFloat(raw.Format.Duration, 64)
	return Info{FormatName: raw.Format.FormatName, SizeBytes: size, Duration: dur}, nil
}

func (t *FFmpegToolchain) Convert(ctx context.Context, in, out string) error {
	cmd := exec.CommandContext(ctx, t.ffmpeg(), // #nosec G204 -- binary path from config
		"-hide_banner",
		"-y",
		"-i", in,
		"-codec:a", "libmp3lame",
		"-b:a", "192k",
		"-ar", "44100",
		"-ac", "2",
		"-f", "mp3",
		out,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg convert: %w: %s", err, lastLine(stderr.String()))
	}
	return nil
}

func (t *FFmpegToolchain) Embed(ctx context.Context, in, out string, tags map[string]string, artworkPath string) error {
	args := []string{
		"-hide_banner",
		"-y",
		"-i", in,
	}
	if artworkPath != "" {
		args = append(args,
			"-i", artworkPath,
			"-map", "0:a",
			"-map", "1:v",
			"-c:v", "mjpeg",
			"-disposition:v", "attached_pic",
		)
	} else {
		args = append(args, "-map", "0:a")
	}
	args = append(args, "-c:a", "copy", "-id3v2_version", "3")

	// Stable order keeps the command deterministic for identical inputs.
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "-metadata", k+"="+tags[k])
	}
	args = append(args, "-f", "mp3", out)

	cmd := exec.CommandContext(ctx, t.ffmpeg(), args...) // #nosec G204 -- binary path from config
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg embed: %w: %s", err, lastLine(stderr.String()))
	}
	return nil
}

func (t *FFmpegToolchain) ReadTags(ctx context.Context, path string) (map[string]string, error) {
	raw, err := t.probeRaw(ctx, path)
	if err != nil {
		return nil, err
	}
	tags := make(map[string]string, len(raw.Format.Tags))
	for k, v := range raw.Format.Tags {
		tags[strings.ToLower(k)] = v
	}
	return tags, nil
}

func (t *FFmpegToolchain) ScaleArtwork(ctx context.Context, in, out string, maxDim int) error {
	filter := fmt.Sprintf("scale='min(%d,iw)':'min(%d,ih)':force_original_aspect_ratio=decrease", maxDim, maxDim)
	cmd := exec.CommandContext(ctx, t.ffmpeg(), // #nosec G204 -- binary path from config
		"-hide_banner",
		"-y",
		"-i", in,
		"-vf", filter,
		"-q:v", "4",
		out,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg scale artwork: %w: %s", err, lastLine(stderr.String()))
	}
	return nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) == 0 {
		return ""
	}
	return lines[len(lines)-1]
}

var _ Toolchain = (*FFmpegToolchain)(nil)
