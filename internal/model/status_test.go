package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatus_Transitions(t *testing.T) {
	// forward paths
	assert.True(t, StatusInitiated.CanTransition(StatusEscrowDebited))
	assert.True(t, StatusInitiated.CanTransition(StatusCasinoDebited))
	assert.True(t, StatusInitiated.CanTransition(StatusFailed))
	assert.True(t, StatusEscrowDebited.CanTransition(StatusCasinoDebited))
	assert.True(t, StatusEscrowDebited.CanTransition(StatusRefundPending))
	assert.True(t, StatusCasinoDebited.CanTransition(StatusCompleted))
	assert.True(t, StatusCasinoDebited.CanTransition(StatusPayoutPending))
	assert.True(t, StatusPayoutPending.CanTransition(StatusCompleted))
	assert.True(t, StatusPayoutPending.CanTransition(StatusRedepositPending))
	assert.True(t, StatusRefundPending.CanTransition(StatusFailed))
	assert.True(t, StatusRedepositPending.CanTransition(StatusManualRequired))

	// no skipping ahead or moving backwards
	assert.False(t, StatusInitiated.CanTransition(StatusCompleted))
	assert.False(t, StatusEscrowDebited.CanTransition(StatusInitiated))
	assert.False(t, StatusCompleted.CanTransition(StatusFailed))
	assert.False(t, StatusFailed.CanTransition(StatusInitiated))
	assert.False(t, StatusRefundPending.CanTransition(StatusCompleted))

	// manual_required exits only to terminal states
	assert.True(t, StatusManualRequired.CanTransition(StatusCompleted))
	assert.True(t, StatusManualRequired.CanTransition(StatusFailed))
	assert.False(t, StatusManualRequired.CanTransition(StatusRefundPending))
}

func TestStatus_Terminal(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	for _, s := range []Status{
		StatusInitiated, StatusEscrowDebited, StatusCasinoDebited,
		StatusPayoutPending, StatusRefundPending, StatusRedepositPending,
		StatusManualRequired,
	} {
		assert.False(t, s.Terminal(), string(s))
	}
}

func TestStatus_Valid(t *testing.T) {
	assert.True(t, StatusInitiated.Valid())
	assert.False(t, Status("exploded").Valid())
}
