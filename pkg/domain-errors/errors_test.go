package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasCode_WrappedChain(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(cause, CodeTransient, "ledger endpoint unreachable")

	assert.True(t, HasCode(err, CodeTransient))
	assert.False(t, HasCode(err, CodeLedgerExecution))
	assert.True(t, errors.Is(err, cause))
}

func TestHasCode_StdlibWrapped(t *testing.T) {
	err := fmt.Errorf("stage failed: %w", New(CodeNoCandidate, "index returned no candidates"))
	assert.True(t, HasCode(err, CodeNoCandidate))
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeInvalidInput, CodeOf(New(CodeInvalidInput, "empty identifier")))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("uncoded")))
}

func TestIs_MatchesCodeAndMessage(t *testing.T) {
	err := New(CodeUnauthorized, "invalid token")
	require.ErrorIs(t, err, New(CodeUnauthorized, "invalid token"))
	assert.NotErrorIs(t, err, New(CodeUnauthorized, "token has expired"))
}
