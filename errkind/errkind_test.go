package errkind

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromErrorPreservesExistingClassification(t *testing.T) {
	original := New(Validation, "cyclic dependency")
	wrapped := FromError(original)
	require.Same(t, original, wrapped)
}

func TestFromErrorDefaultsToFatal(t *testing.T) {
	e := FromError(errors.New("boom"))
	require.Equal(t, Fatal, e.Kind)
}

func TestRetryable(t *testing.T) {
	require.True(t, New(Transient, "timeout").Retryable())
	require.True(t, New(Validation, "bad plan").Retryable())
	require.False(t, New(Policy, "max depth").Retryable())
	require.False(t, New(Fatal, "misconfigured").Retryable())
	require.False(t, (*Error)(nil).Retryable())
}

func TestWrapSupportsErrorsAs(t *testing.T) {
	root := errors.New("root cause")
	wrapped := Wrap(Transient, "rate limited", root)
	require.ErrorContains(t, wrapped, "rate limited")
	var asErr *Error
	require.True(t, errors.As(wrapped, &asErr))
}
