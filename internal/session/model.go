// SPDX-License-Identifier: MIT

// Package session defines the data model shared by the capture, processing,
// transfer and orchestration components: the immutable stream configuration
// snapshot, the recording session record and its stage lifecycle, and the
// classified error taxonomy the orchestrator bases retry decisions on.
package session

import "time"

// Stage is the client-visible lifecycle of a recording session.
type Stage string

const (
	StageScheduled    Stage = "SCHEDULED"
	StageCapturing    Stage = "CAPTURING"
	StageProcessing   Stage = "PROCESSING"
	StageTransferring Stage = "TRANSFERRING"
	StageCompleted    Stage = "COMPLETED"
	StageFailed       Stage = "FAILED"
	StageCancelled    Stage = "CANCELLED"
)

// IsTerminal returns true if the stage is a final stage.
func (s Stage) IsTerminal() bool {
	switch s {
	case StageCompleted, StageFailed, StageCancelled:
		return true
	}
	return false
}

// edges is the set of legal stage transitions. Retry loops re-enter the
// failed stage; they are not transitions and never go through this table.
var edges = map[Stage][]Stage{
	StageScheduled:    {StageCapturing, StageFailed, StageCancelled},
	StageCapturing:    {StageProcessing, StageFailed, StageCancelled},
	StageProcessing:   {StageTransferring, StageFailed, StageCancelled},
	StageTransferring: {StageCompleted, StageFailed, StageCancelled},
}

// ValidTransition reports whether from -> to is a legal edge.
func ValidTransition(from, to Stage) bool {
	for _, next := range edges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// StreamConfig is the immutable per-session snapshot of a stream definition.
// A concurrent edit to the live configuration must not affect in-flight
// sessions, so the orchestrator copies it once at admission.
type StreamConfig struct {
	Name          string `json:"name" yaml:"name"`
	StreamURL     string `json:"streamUrl" yaml:"stream_url"`
	Artist        string `json:"artist" yaml:"artist"`
	Album         string `json:"album" yaml:"album"`
	AlbumArtist   string `json:"albumArtist" yaml:"album_artist"`
	ArtworkPath   string `json:"artworkPath,omitempty" yaml:"artwork_path"`
	OutputPattern string `json:"outputPattern,omitempty" yaml:"output_pattern"`
	Destination   string `json:"destination" yaml:"destination"`
	KeyPath       string `json:"keyPath,omitempty" yaml:"key_path"`
}

// DefaultOutputPattern names the finished artifact when no pattern is set.
// Placeholders: {date} (recording date, YYYY-MM-DD) and {name} (stream name).
const DefaultOutputPattern = "{date}_{name}.mp3"

// Record is one end-to-end recording attempt. It is owned exclusively by the
// orchestrator while active; every other component receives it read-only.
type Record struct {
	ID     string       `json:"id"`
	Config StreamConfig `json:"config"`
	Stage  Stage        `json:"stage"`

	StartedAt time.Time  `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`

	// DurationLimit bounds the capture stage; zero means unlimited.
	DurationLimit time.Duration `json:"durationLimit,omitempty"`

	// Attempts holds the 1-based attempt number reached per stage, so a
	// fault-free stage reads 1 and retries show as values above that.
	Attempts map[Stage]int `json:"attempts,omitempty"`

	// RawPath is the unprocessed capture; ArtifactPath the finished file.
	RawPath      string `json:"rawPath,omitempty"`
	ArtifactPath string `json:"artifactPath,omitempty"`

	// LastError is the most recent failure reason, cleared on stage success.
	LastError string `json:"lastError,omitempty"`

	// TransferConfirmed is true only after the remote end acknowledged receipt.
	TransferConfirmed bool `json:"transferConfirmed"`
}

// Clone returns a deep copy safe to hand to readers.
func (r *Record) Clone() Record {
	out := *r
	if r.Attempts != nil {
		out.Attempts = make(map[Stage]int, len(r.Attempts))
		for k, v := range r.Attempts {
			out.Attempts[k] = v
		}
	}
	if r.EndedAt != nil {
		t := *r.EndedAt
		out.EndedAt = &t
	}
	return out
}

// StageEvent is emitted on every stage transition for persistence and
// monitoring. The store subscribes; the core never reads it back mid-session.
type StageEvent struct {
	SessionID string    `json:"sessionId"`
	Stream    string    `json:"stream"`
	Stage     Stage     `json:"stage"`
	Timestamp time.Time `json:"timestamp"`
	Attempt   int       `json:"attempt,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// TopicStageEvents is the bus topic stage events are published on.
const TopicStageEvents = "sessions.stage"
