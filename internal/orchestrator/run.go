// SPDX-License-Identifier: MIT

package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/klangwald/aircap/internal/log"
	"github.com/klangwald/aircap/internal/metrics"
	"github.com/klangwald/aircap/internal/retry"
	"github.com/klangwald/aircap/internal/session"
)

// run drives one session from SCHEDULED to a terminal stage. It is the only
// writer of the session record; readers get clones via snapshot.
func (o *Orchestrator) run(ctx context.Context, as *activeSession) {
	id := as.rec.ID
	cfg := as.rec.Config
	limit := as.rec.DurationLimit

	defer func() {
		// Free the slot before retiring the session so that a caller who
		// observed the session gone can admit a new one without racing.
		o.sem.Release(1)
		o.mu.Lock()
		delete(o.active, id)
		metrics.SetActiveSessions(len(o.active))
		o.mu.Unlock()
	}()

	// Capture.
	o.transition(as, session.StageCapturing)
	capRes, err := o.runCapture(ctx, as, id, cfg, limit)
	if err != nil {
		o.finish(as, err)
		return
	}

	// Processing. The recording date is when audio actually started flowing,
	// not when the session was admitted.
	o.transition(as, session.StageProcessing)
	artifact, err := o.runProcessing(ctx, as, capRes.Path, cfg, capRes.StartedAt)
	if err != nil {
		o.finish(as, err)
		return
	}
	// The raw capture is only removed once a validated artifact exists.
	o.removeWorkDir(id, capRes.Path)

	// Transfer.
	o.transition(as, session.StageTransferring)
	if err := o.runTransfer(ctx, as, artifact, cfg); err != nil {
		o.finish(as, err)
		return
	}

	as.mu.Lock()
	as.rec.TransferConfirmed = true
	as.mu.Unlock()

	if as.dcfg.CleanupAfterTransfer {
		if err := os.Remove(artifact); err != nil {
			logger := log.WithSession("orchestrator", id)
			logger.Warn().Err(err).
				Str(log.FieldPath, artifact).
				Msg("cleanup of delivered artifact failed")
		}
	}

	o.finish(as, nil)
}

func (o *Orchestrator) runCapture(ctx context.Context, as *activeSession, id string, cfg session.StreamConfig, limit time.Duration) (res captureResult, err error) {
	err = retry.Do(ctx, policyFor(as.dcfg, session.StageCapturing), session.Retryable, func(attempt int) error {
		o.noteAttempt(as, session.StageCapturing, attempt)
		h, err := o.capturer.Start(ctx, id, cfg, limit)
		if err != nil {
			o.noteError(as, err)
			return err
		}
		as.mu.Lock()
		as.rec.RawPath = h.Path()
		as.mu.Unlock()

		r, err := h.Wait(ctx)
		if err != nil {
			o.noteError(as, err)
			return err
		}
		res = captureResult{Path: r.Path, StartedAt: r.StartedAt, LimitReached: r.LimitReached}
		return nil
	})
	if err != nil {
		return captureResult{}, err
	}
	as.mu.Lock()
	as.rec.LastError = ""
	as.mu.Unlock()
	return res, nil
}

// captureResult is the subset of the capture outcome the lifecycle needs.
type captureResult struct {
	Path         string
	StartedAt    time.Time
	LimitReached bool
}

func (o *Orchestrator) runProcessing(ctx context.Context, as *activeSession, rawPath string, cfg session.StreamConfig, recordingDate time.Time) (string, error) {
	var artifact string
	err := retry.Do(ctx, policyFor(as.dcfg, session.StageProcessing), session.Retryable, func(attempt int) error {
		o.noteAttempt(as, session.StageProcessing, attempt)
		p, err := o.processor.Process(ctx, rawPath, cfg, recordingDate)
		if err != nil {
			o.noteError(as, err)
			return err
		}
		artifact = p
		return nil
	})
	if err != nil {
		return "", err
	}
	as.mu.Lock()
	as.rec.ArtifactPath = artifact
	as.rec.LastError = ""
	as.mu.Unlock()
	return artifact, nil
}

func (o *Orchestrator) runTransfer(ctx context.Context, as *activeSession, artifact string, cfg session.StreamConfig) error {
	err := retry.Do(ctx, policyFor(as.dcfg, session.StageTransferring), session.Retryable, func(attempt int) error {
		o.noteAttempt(as, session.StageTransferring, attempt)
		if _, err := o.transferrer.Transfer(ctx, artifact, cfg); err != nil {
			o.noteError(as, err)
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	as.mu.Lock()
	as.rec.LastError = ""
	as.mu.Unlock()
	return nil
}

// transition moves the session onto a new stage, persists the snapshot and
// publishes the stage event.
func (o *Orchestrator) transition(as *activeSession, to session.Stage) {
	as.mu.Lock()
	from := as.rec.Stage
	if !session.ValidTransition(from, to) {
		// Indicates a lifecycle bug; refuse the write rather than corrupt state.
		as.mu.Unlock()
		logger := log.WithSession("orchestrator", as.rec.ID)
		logger.Error().
			Str(log.FieldOldStage, string(from)).
			Str(log.FieldNewStage, string(to)).
			Msg("illegal stage transition refused")
		return
	}
	as.rec.Stage = to
	snap := as.rec.Clone()
	as.mu.Unlock()

	metrics.IncStageTransition(string(from), string(to))
	logger := log.WithSession("orchestrator", snap.ID)
	logger.Info().
		Str(log.FieldStream, snap.Config.Name).
		Str(log.FieldOldStage, string(from)).
		Str(log.FieldNewStage, string(to)).
		Msg("stage transition")

	o.persist(&snap)
	o.publishEvent(&snap, snap.Attempts[to], snap.LastError)
}

// finish moves the session onto its terminal stage based on err: nil means
// COMPLETED, context cancellation means CANCELLED, anything else FAILED.
func (o *Orchestrator) finish(as *activeSession, err error) {
	to := session.StageCompleted
	outcome := "completed"
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		to = session.StageCancelled
		outcome = "cancelled"
	default:
		to = session.StageFailed
		outcome = "failed"
	}

	as.mu.Lock()
	from := as.rec.Stage
	now := time.Now()
	as.rec.Stage = to
	as.rec.EndedAt = &now
	if err != nil && !errors.Is(err, context.Canceled) {
		as.rec.LastError = err.Error()
	}
	snap := as.rec.Clone()
	as.mu.Unlock()

	metrics.IncStageTransition(string(from), string(to))
	metrics.IncSessionOutcome(outcome)

	logger := log.WithSession("orchestrator", snap.ID)
	ev := logger.Info()
	if to == session.StageFailed {
		ev = logger.Error()
	}
	ev.Str(log.FieldStream, snap.Config.Name).
		Str(log.FieldOldStage, string(from)).
		Str(log.FieldNewStage, string(to)).
		Str("last_error", snap.LastError).
		Msg("session finished")

	o.persist(&snap)
	o.publishEvent(&snap, 0, snap.LastError)
}

// noteAttempt records the per-stage attempt counter and counts retries.
func (o *Orchestrator) noteAttempt(as *activeSession, stage session.Stage, attempt int) {
	as.mu.Lock()
	as.rec.Attempts[stage] = attempt
	snap := as.rec.Clone()
	as.mu.Unlock()

	if attempt > 1 {
		metrics.IncStageRetry(string(stage))
		log.WithSession("orchestrator", snap.ID).Warn().
			Str(log.FieldStage, string(stage)).
			Int(log.FieldAttempt, attempt).
			Str("last_error", snap.LastError).
			Msg("stage retry")
		o.persist(&snap)
		o.publishEvent(&snap, attempt, snap.LastError)
	}
}

func (o *Orchestrator) noteError(as *activeSession, err error) {
	as.mu.Lock()
	as.rec.LastError = err.Error()
	as.mu.Unlock()
}

// removeWorkDir drops the per-session capture directory after processing
// promoted the artifact. Failure and cancellation paths never call this.
func (o *Orchestrator) removeWorkDir(id, rawPath string) {
	dir := filepath.Dir(rawPath)
	if err := os.RemoveAll(dir); err != nil {
		log.WithSession("orchestrator", id).Warn().Err(err).
			Str(log.FieldPath, dir).
			Msg("session work dir cleanup failed")
	}
}

func (o *Orchestrator) persist(rec *session.Record) {
	// Persistence failures must not interrupt the lifecycle.
	if err := o.store.UpsertSession(context.Background(), rec); err != nil {
		log.WithSession("orchestrator", rec.ID).Error().Err(err).
			Msg("persist session snapshot failed")
	}
}

func (o *Orchestrator) publishEvent(rec *session.Record, attempt int, errStr string) {
	ev := session.StageEvent{
		SessionID: rec.ID,
		Stream:    rec.Config.Name,
		Stage:     rec.Stage,
		Timestamp: time.Now(),
		Attempt:   attempt,
		Error:     errStr,
	}
	// Bounded publish: a stalled consumer must not wedge the lifecycle.
	pubCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.bus.Publish(pubCtx, session.TopicStageEvents, ev); err != nil {
		log.WithSession("orchestrator", rec.ID).Warn().Err(err).
			Msg("publish stage event failed")
	}
}
