package berrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrnoMapping(t *testing.T) {
	cases := []struct {
		kind  Kind
		errno int
	}{
		{NotFound, -2},
		{OutOfRange, -7},
		{Unsupported, -95},
		{Protocol, -71},
		{IOError, -5},
		{Corrupt, -84},
		{OutOfMemory, -12},
		{InvalidConfig, -22},
	}
	for _, c := range cases {
		require.Equal(t, c.errno, Errno(New(c.kind, "x")), "kind %s", c.kind)
	}
}

func TestErrnoNilIsZero(t *testing.T) {
	require.Equal(t, 0, Errno(nil))
}

func TestErrnoNonBackendErrorFallsBackToEIO(t *testing.T) {
	require.Equal(t, -5, Errno(errors.New("boom")))
}

func TestWithContextAndWithCause(t *testing.T) {
	cause := errors.New("disk full")
	err := New(IOError, "write failed").WithCause(cause).WithContext("path", "/data/0")

	require.Equal(t, cause, err.Unwrap())
	require.Equal(t, "/data/0", err.Context["path"])
	require.Contains(t, err.Error(), "disk full")
}

func TestWithCauseNilIsNoop(t *testing.T) {
	err := New(IOError, "x").WithCause(nil)
	require.Nil(t, err.Cause)
}

func TestIs(t *testing.T) {
	err := New(NotFound, "missing")
	require.True(t, Is(err, NotFound))
	require.False(t, Is(err, IOError))
	require.False(t, Is(errors.New("plain"), NotFound))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("eof")
	err := Wrap(IOError, "short read", cause)
	require.Equal(t, cause, err.Unwrap())
	require.Equal(t, IOError, err.Kind)
}
