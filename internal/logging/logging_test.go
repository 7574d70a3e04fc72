package logging

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warn"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestRequestIDFromContext(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(newHandler(&buf, Config{Level: "info"})).With("component", "test")

	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-42")
	log.InfoContext(ctx, "hello")
	assert.Contains(t, buf.String(), `"request_id":"req-42"`)
	assert.Contains(t, buf.String(), `"component":"test"`)

	buf.Reset()
	log.Debug("hidden")
	assert.Empty(t, buf.String())
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "exchange.log")
	log, closer, err := New(Config{Output: "file", FilePath: path, Format: "text", MaxSize: 1})
	require.NoError(t, err)

	log.Info("written")
	require.NoError(t, closer.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "msg=written")

	_, _, err = New(Config{Output: "file"})
	assert.Error(t, err)
}
