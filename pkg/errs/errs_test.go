package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewAndError(t *testing.T) {
	e := New(NotFound, "resource missing")
	require.Equal(t, "NotFound: resource missing", e.Error())
	require.Equal(t, NotFound, Of(e))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	e := Wrap(BackendUnavailable, cause, "redis unreachable")
	require.ErrorIs(t, e, cause)
	require.Equal(t, BackendUnavailable, Of(e))
}

func TestIsHelper(t *testing.T) {
	e := New(PreconditionFailed, "etag mismatch")
	require.True(t, Is(e, PreconditionFailed))
	require.False(t, Is(e, NotFound))

	wrapped := fmt.Errorf("mutation failed: %w", e)
	require.True(t, Is(wrapped, PreconditionFailed))
}

func TestOfDefaultsToInternal(t *testing.T) {
	require.Equal(t, Internal, Of(errors.New("plain error")))
}

func TestDetails(t *testing.T) {
	e := New(ValidationFailed, "2 issues", Detail{Field: "name", Message: "too long", Code: "MAX_LENGTH"})
	require.Len(t, e.Details, 1)
	require.Equal(t, "name", e.Details[0].Field)
}
