package ctxlog

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromContext_FallsBackToDefault(t *testing.T) {
	logger := FromContext(context.Background())
	require.NotNil(t, logger)
	assert.Equal(t, slog.Default(), logger)
}

func TestWith_AddsAttributes(t *testing.T) {
	buf := &bytes.Buffer{}
	base := slog.New(slog.NewTextHandler(buf, nil))

	ctx := WithLogger(context.Background(), base)
	ctx = With(ctx, "session", "abc")
	FromContext(ctx).Info("Connection accepted.")

	assert.Contains(t, buf.String(), "session=abc")
	assert.Contains(t, buf.String(), "Connection accepted.")
}
