// SPDX-License-Identifier: MIT

// Package config resolves the daemon configuration from environment
// variables with an optional YAML overlay. The resolved Config is an
// immutable snapshot: the orchestrator copies what it needs at session
// admission and never re-reads configuration mid-session.
package config

import (
	"fmt"
	"path/filepath"
	"time"
)

// Config is the resolved daemon configuration.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`

	DataDir       string `yaml:"data_dir"`
	RecordingsDir string `yaml:"recordings_dir"`
	ArtworkDir    string `yaml:"artwork_dir"`

	FFmpegPath  string `yaml:"ffmpeg_path"`
	FFprobePath string `yaml:"ffprobe_path"`
	SSHKeyPath  string `yaml:"ssh_key_path"`

	// Protocols is the source URL scheme allow-list.
	Protocols []string `yaml:"protocols"`

	// MaxConcurrent bounds simultaneously active sessions.
	MaxConcurrent int `yaml:"max_concurrent"`

	// Per-stage retry attempt ceilings (including the first attempt).
	CaptureAttempts  int `yaml:"capture_attempts"`
	ProcessAttempts  int `yaml:"process_attempts"`
	TransferAttempts int `yaml:"transfer_attempts"`

	BackoffBase       time.Duration `yaml:"backoff_base"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	BackoffCap        time.Duration `yaml:"backoff_cap"`

	// CaptureGrace is the SIGTERM grace before SIGKILL on the process group.
	CaptureGrace time.Duration `yaml:"capture_grace"`
	// ProcessTimeout bounds a single conversion run.
	ProcessTimeout time.Duration `yaml:"process_timeout"`
	// TransferTimeout bounds a single transfer attempt.
	TransferTimeout time.Duration `yaml:"transfer_timeout"`

	CleanupAfterTransfer bool  `yaml:"cleanup_after_transfer"`
	MaxArtworkBytes      int64 `yaml:"max_artwork_bytes"`
}

// FromEnv builds a Config from environment variables with defaults matching
// a single-host deployment.
func FromEnv() Config {
	dataDir := ParseString("AIRCAP_DATA_DIR", "data")
	return Config{
		ListenAddr: ParseString("AIRCAP_LISTEN", ":8666"),
		LogLevel:   ParseString("AIRCAP_LOG_LEVEL", "info"),

		DataDir:       dataDir,
		RecordingsDir: ParseString("AIRCAP_RECORDINGS_DIR", "recordings"),
		ArtworkDir:    ParseString("AIRCAP_ARTWORK_DIR", "artwork"),

		FFmpegPath:  ParseString("AIRCAP_FFMPEG_PATH", "ffmpeg"),
		FFprobePath: ParseString("AIRCAP_FFPROBE_PATH", "ffprobe"),
		SSHKeyPath:  ParseString("AIRCAP_SSH_KEY_PATH", filepath.Join(dataDir, "id_ed25519")),

		Protocols: []string{"http", "https", "rtmp", "rtmps"},

		MaxConcurrent: ParseInt("AIRCAP_MAX_CONCURRENT_RECORDINGS", 3),

		CaptureAttempts:  ParseInt("AIRCAP_CAPTURE_ATTEMPTS", 3),
		ProcessAttempts:  ParseInt("AIRCAP_PROCESS_ATTEMPTS", 3),
		TransferAttempts: ParseInt("AIRCAP_TRANSFER_ATTEMPTS", 3),

		BackoffBase:       ParseDuration("AIRCAP_BACKOFF_BASE", 60*time.Second),
		BackoffMultiplier: ParseFloat("AIRCAP_BACKOFF_MULTIPLIER", 2.0),
		BackoffCap:        ParseDuration("AIRCAP_BACKOFF_CAP", 10*time.Minute),

		CaptureGrace:    ParseDuration("AIRCAP_CAPTURE_GRACE", 5*time.Second),
		ProcessTimeout:  ParseDuration("AIRCAP_PROCESS_TIMEOUT", 5*time.Minute),
		TransferTimeout: ParseDuration("AIRCAP_TRANSFER_TIMEOUT", 30*time.Second),

		CleanupAfterTransfer: ParseBool("AIRCAP_CLEANUP_AFTER_TRANSFER", true),
		MaxArtworkBytes:      int64(ParseInt("AIRCAP_MAX_ARTWORK_MB", 10)) * 1024 * 1024,
	}
}

// DBPath returns the location of the sqlite session store.
func (c Config) DBPath() string {
	return filepath.Join(c.DataDir, "aircap.db")
}

// Validate rejects configurations the daemon cannot run with.
func (c Config) Validate() error {
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", c.MaxConcurrent)
	}
	if c.CaptureAttempts < 1 || c.ProcessAttempts < 1 || c.TransferAttempts < 1 {
		return fmt.Errorf("stage attempt ceilings must be at least 1")
	}
	if c.BackoffMultiplier < 1 {
		return fmt.Errorf("backoff_multiplier must be >= 1, got %g", c.BackoffMultiplier)
	}
	if c.MaxArtworkBytes < 1 {
		return fmt.Errorf("max_artwork_bytes must be positive, got %d", c.MaxArtworkBytes)
	}
	if len(c.Protocols) == 0 {
		return fmt.Errorf("protocol allow-list must not be empty")
	}
	if c.RecordingsDir == "" || c.DataDir == "" {
		return fmt.Errorf("data_dir and recordings_dir must be set")
	}
	return nil
}
