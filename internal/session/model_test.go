// SPDX-License-Identifier: MIT

package session

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidTransition(t *testing.T) {
	valid := [][2]Stage{
		{StageScheduled, StageCapturing},
		{StageCapturing, StageProcessing},
		{StageProcessing, StageTransferring},
		{StageTransferring, StageCompleted},
		{StageScheduled, StageCancelled},
		{StageCapturing, StageFailed},
		{StageProcessing, StageCancelled},
		{StageTransferring, StageFailed},
	}
	for _, tc := range valid {
		assert.True(t, ValidTransition(tc[0], tc[1]), "%s -> %s should be legal", tc[0], tc[1])
	}

	invalid := [][2]Stage{
		{StageScheduled, StageProcessing},
		{StageCapturing, StageCompleted},
		{StageCompleted, StageCapturing},
		{StageFailed, StageScheduled},
		{StageCancelled, StageCancelled},
		{StageTransferring, StageCapturing},
	}
	for _, tc := range invalid {
		assert.False(t, ValidTransition(tc[0], tc[1]), "%s -> %s should be illegal", tc[0], tc[1])
	}
}

func TestStageIsTerminal(t *testing.T) {
	assert.True(t, StageCompleted.IsTerminal())
	assert.True(t, StageFailed.IsTerminal())
	assert.True(t, StageCancelled.IsTerminal())
	assert.False(t, StageScheduled.IsTerminal())
	assert.False(t, StageCapturing.IsTerminal())
	assert.False(t, StageProcessing.IsTerminal())
	assert.False(t, StageTransferring.IsTerminal())
}

func TestRecordCloneIsDeep(t *testing.T) {
	ended := time.Now()
	rec := &Record{
		ID:       "abc",
		Stage:    StageCapturing,
		EndedAt:  &ended,
		Attempts: map[Stage]int{StageCapturing: 2},
	}

	clone := rec.Clone()
	clone.Attempts[StageCapturing] = 9
	*clone.EndedAt = ended.Add(time.Hour)

	assert.Equal(t, 2, rec.Attempts[StageCapturing])
	assert.True(t, rec.EndedAt.Equal(ended))
}

func TestRetryableClassification(t *testing.T) {
	assert.False(t, Retryable(nil))
	assert.False(t, Retryable(&ProtocolError{Scheme: "ftp"}))
	assert.True(t, Retryable(&ConnectionError{Detail: "reset", ExitCode: 1}))
	assert.True(t, Retryable(&ProcessingError{Detail: "ffmpeg exit 1"}))
	assert.False(t, Retryable(&ProcessingError{Detail: "empty capture", Terminal: true}))
	assert.True(t, Retryable(&TransferError{Detail: "dial timeout"}))
	assert.False(t, Retryable(&TransferError{Detail: "bad key", Terminal: true}))
	assert.False(t, Retryable(errors.New("unclassified")))
}

func TestRetryableUnwrapsWrappedErrors(t *testing.T) {
	inner := &ConnectionError{Detail: "refused", ExitCode: -1}
	wrapped := errors.Join(errors.New("capture attempt"), inner)
	require.True(t, Retryable(wrapped))
}
