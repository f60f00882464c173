package bfterr

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(WAL, "append failed", cause)
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "boom")
	require.Contains(t, err.Error(), "append failed")
}

func TestErrorWithoutCause(t *testing.T) {
	err := New(Obsolete, "too old")
	require.Equal(t, "obsolete: too old", err.Error())
	require.Nil(t, err.Unwrap())
}

func TestHandleLevelsByKind(t *testing.T) {
	cases := []struct {
		kind    Kind
		level   string
		logsMsg bool
	}{
		{Obsolete, "DEBUG", true},
		{Duplicate, "DEBUG", true},
		{Signature, "WARN", true},
		{ShouldNotHappen, "ERROR", true},
		{ObsoleteTimer, "", false},
	}

	for _, tc := range cases {
		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
		Handle(logger, New(tc.kind, "message"))
		if !tc.logsMsg {
			require.Empty(t, buf.String(), "%s must not log", tc.kind)
			continue
		}
		require.Contains(t, buf.String(), "level="+tc.level, "%s must log at %s", tc.kind, tc.level)
	}
}

func TestHandleNilIsNoop(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	Handle(logger, nil)
	require.Empty(t, buf.String())
}

func TestHandleUnclassifiedError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	Handle(logger, errors.New("plain error"))
	require.Contains(t, buf.String(), "unclassified engine error")
}
