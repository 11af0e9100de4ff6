package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorMatchesKindSentinel(t *testing.T) {
	err := InvalidState("escrow is %s", "released")

	require.ErrorIs(t, err, ErrInvalidState)
	require.NotErrorIs(t, err, ErrUnauthorized)
	require.Equal(t, "escrow is released", err.Error())
}

func TestWrappedErrorKeepsKind(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("escalate: %w", Wrap(KindEscalationFailed, cause, "compliance service unavailable"))

	require.ErrorIs(t, err, ErrEscalationFailed)
	require.ErrorIs(t, err, cause)
	require.Equal(t, KindEscalationFailed, KindOf(err))

	var e *Error
	require.True(t, errors.As(err, &e))
	require.True(t, e.Retryable())
}

func TestKindOfForeignError(t *testing.T) {
	require.Equal(t, KindInternal, KindOf(errors.New("boom")))
	require.Equal(t, KindNotFound, KindOf(ErrNotFound))
}
