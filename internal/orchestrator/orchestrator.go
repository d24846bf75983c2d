// SPDX-License-Identifier: MIT

// Package orchestrator drives recording sessions through their stage
// lifecycle. It is the only writer of session state and the only component
// that decides on retries; capture, processing and transfer just classify
// their failures.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/klangwald/aircap/internal/bus"
	"github.com/klangwald/aircap/internal/capture"
	"github.com/klangwald/aircap/internal/config"
	"github.com/klangwald/aircap/internal/log"
	"github.com/klangwald/aircap/internal/metrics"
	"github.com/klangwald/aircap/internal/retry"
	"github.com/klangwald/aircap/internal/session"
	"github.com/klangwald/aircap/internal/store"
	"github.com/klangwald/aircap/internal/transfer"
)

// ErrUnknownSession is returned when no session with the given id is active
// or stored.
var ErrUnknownSession = errors.New("unknown session")

// ErrSessionFinished is returned when cancelling a session that already
// reached a terminal stage.
var ErrSessionFinished = errors.New("session already finished")

// CaptureHandle is the running capture the orchestrator supervises.
type CaptureHandle interface {
	Wait(ctx context.Context) (capture.Result, error)
	Stop()
	Path() string
}

// Capturer starts capture processes.
type Capturer interface {
	Start(ctx context.Context, sessionID string, cfg session.StreamConfig, limit time.Duration) (CaptureHandle, error)
}

// Processor turns a raw capture into the finished artifact.
type Processor interface {
	Process(ctx context.Context, rawPath string, cfg session.StreamConfig, recordingDate time.Time) (string, error)
}

// Transferrer delivers one artifact; one call is one attempt.
type Transferrer interface {
	Transfer(ctx context.Context, artifactPath string, cfg session.StreamConfig) (transfer.Ack, error)
}

// captureAdapter narrows *capture.Agent to the Capturer interface.
type captureAdapter struct{ agent *capture.Agent }

func (a captureAdapter) Start(ctx context.Context, sessionID string, cfg session.StreamConfig, limit time.Duration) (CaptureHandle, error) {
	return a.agent.Start(ctx, sessionID, cfg, limit)
}

// NewCapturer wraps a capture agent for use by the orchestrator.
func NewCapturer(agent *capture.Agent) Capturer { return captureAdapter{agent: agent} }

// ConfigSource yields the daemon configuration a session is admitted with.
// *config.Holder satisfies it; a reload changes what future sessions see,
// in-flight sessions keep the snapshot taken at admission.
type ConfigSource interface {
	Get() config.Config
}

type activeSession struct {
	mu     sync.Mutex
	rec    *session.Record
	cancel context.CancelFunc

	// dcfg is the daemon config snapshot taken at admission. Immutable.
	dcfg config.Config
}

func (a *activeSession) snapshot() session.Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rec.Clone()
}

// Orchestrator owns session admission and the per-session lifecycle
// goroutines.
type Orchestrator struct {
	cfgSrc ConfigSource

	// maxConcurrent sizes the admission semaphore once at startup; a config
	// reload cannot resize it.
	maxConcurrent int

	capturer    Capturer
	processor   Processor
	transferrer Transferrer
	store       store.Store
	bus         bus.Bus

	sem *semaphore.Weighted

	mu     sync.RWMutex
	active map[string]*activeSession

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// New builds an orchestrator. Session goroutines derive from an internal
// context so an API request ending never tears down a running session.
func New(src ConfigSource, capt Capturer, proc Processor, tr Transferrer, st store.Store, b bus.Bus) *Orchestrator {
	initial := src.Get()
	baseCtx, stop := context.WithCancel(context.Background())
	return &Orchestrator{
		cfgSrc:        src,
		maxConcurrent: initial.MaxConcurrent,
		capturer:      capt,
		processor:     proc,
		transferrer:   tr,
		store:         st,
		bus:           b,
		sem:           semaphore.NewWeighted(int64(initial.MaxConcurrent)),
		active:        make(map[string]*activeSession),
		baseCtx:       baseCtx,
		stop:          stop,
	}
}

// StartSession admits a new session. Admission is fail-fast: when all slots
// are taken it returns session.ErrResourceExhausted immediately, it never
// queues. The returned id identifies the session from the first moment on.
func (o *Orchestrator) StartSession(ctx context.Context, cfg session.StreamConfig, limit time.Duration) (string, error) {
	if err := validateStreamConfig(cfg); err != nil {
		return "", err
	}
	if cfg.OutputPattern == "" {
		cfg.OutputPattern = session.DefaultOutputPattern
	}

	if !o.sem.TryAcquire(1) {
		metrics.IncAdmissionReject()
		log.WithComponent("orchestrator").Warn().
			Str(log.FieldStream, cfg.Name).
			Int("max_concurrent", o.maxConcurrent).
			Msg("session rejected, concurrency limit reached")
		return "", session.ErrResourceExhausted
	}

	id := uuid.NewString()
	rec := &session.Record{
		ID:            id,
		Config:        cfg,
		Stage:         session.StageScheduled,
		StartedAt:     time.Now(),
		DurationLimit: limit,
		Attempts:      make(map[session.Stage]int),
	}

	sessCtx, cancel := context.WithCancel(o.baseCtx)
	as := &activeSession{rec: rec, cancel: cancel, dcfg: o.cfgSrc.Get()}

	o.mu.Lock()
	o.active[id] = as
	metrics.SetActiveSessions(len(o.active))
	o.mu.Unlock()

	o.persist(rec)
	o.publishEvent(rec, 0, "")

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cancel()
		o.run(sessCtx, as)
	}()

	log.WithSession("orchestrator", id).Info().
		Str(log.FieldStream, cfg.Name).
		Dur("limit", limit).
		Msg("session admitted")
	return id, nil
}

// CancelSession requests cooperative cancellation of an active session. The
// call returns immediately; the session reaches CANCELLED asynchronously.
func (o *Orchestrator) CancelSession(id string) error {
	o.mu.RLock()
	as, ok := o.active[id]
	o.mu.RUnlock()
	if ok {
		log.WithSession("orchestrator", id).Info().Msg("cancellation requested")
		as.cancel()
		return nil
	}

	rec, err := o.store.GetSession(context.Background(), id)
	if err != nil {
		return ErrUnknownSession
	}
	if rec.Stage.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrSessionFinished, rec.Stage)
	}
	return ErrUnknownSession
}

// GetSession returns a point-in-time snapshot of a session, active or stored.
func (o *Orchestrator) GetSession(ctx context.Context, id string) (session.Record, error) {
	o.mu.RLock()
	as, ok := o.active[id]
	o.mu.RUnlock()
	if ok {
		return as.snapshot(), nil
	}
	rec, err := o.store.GetSession(ctx, id)
	if err != nil {
		return session.Record{}, ErrUnknownSession
	}
	return *rec, nil
}

// ListActive returns snapshots of all currently active sessions.
func (o *Orchestrator) ListActive() []session.Record {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]session.Record, 0, len(o.active))
	for _, as := range o.active {
		out = append(out, as.snapshot())
	}
	return out
}

// Shutdown cancels all active sessions and waits for their goroutines to
// drain, bounded by ctx.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.stop()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RecoverInterrupted marks sessions left non-terminal by a previous daemon
// run as FAILED. Their on-disk files are retained for operator inspection.
func (o *Orchestrator) RecoverInterrupted(ctx context.Context) error {
	recs, err := o.store.ListSessions(ctx, false)
	if err != nil {
		return fmt.Errorf("list stored sessions: %w", err)
	}
	for _, rec := range recs {
		if rec.Stage.IsTerminal() {
			continue
		}
		now := time.Now()
		rec.Stage = session.StageFailed
		rec.EndedAt = &now
		rec.LastError = "interrupted by daemon restart"
		if err := o.store.UpsertSession(ctx, rec); err != nil {
			return fmt.Errorf("mark session %s failed: %w", rec.ID, err)
		}
		log.WithSession("orchestrator", rec.ID).Warn().
			Str(log.FieldStream, rec.Config.Name).
			Msg("session interrupted by restart, marked failed")
	}
	return nil
}

func validateStreamConfig(cfg session.StreamConfig) error {
	if cfg.Name == "" {
		return errors.New("stream config: name is required")
	}
	if cfg.StreamURL == "" {
		return errors.New("stream config: stream URL is required")
	}
	if cfg.Destination == "" {
		return errors.New("stream config: destination is required")
	}
	if cfg.Artist == "" || cfg.Album == "" {
		return errors.New("stream config: artist and album are required")
	}
	if _, err := transfer.ParseDestination(cfg.Destination); err != nil {
		return fmt.Errorf("stream config: %w", err)
	}
	return nil
}

func policyFor(dc config.Config, stage session.Stage) retry.Policy {
	p := retry.Policy{
		Base:       dc.BackoffBase,
		Multiplier: dc.BackoffMultiplier,
		Cap:        dc.BackoffCap,
	}
	switch stage {
	case session.StageCapturing:
		p.MaxAttempts = dc.CaptureAttempts
	case session.StageProcessing:
		p.MaxAttempts = dc.ProcessAttempts
	case session.StageTransferring:
		p.MaxAttempts = dc.TransferAttempts
	default:
		p.MaxAttempts = 1
	}
	return p
}
