package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultLoggerDiscards(t *testing.T) {
	require.False(t, Logger().Enabled(context.Background(), slog.LevelError))
}

func TestSetLogger(t *testing.T) {
	t.Cleanup(func() { SetLogger(nil) })

	var buf bytes.Buffer
	SetLogger(slog.New(slog.NewTextHandler(&buf, nil)))
	Logger().Info("swapchain recreated", "width", 800)

	require.Contains(t, buf.String(), "swapchain recreated")
	require.Contains(t, buf.String(), "width=800")

	SetLogger(nil)
	require.False(t, Logger().Enabled(context.Background(), slog.LevelError))
}
