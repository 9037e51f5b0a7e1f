package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("")
	require.NoError(t, err)
	require.Equal(t, zapcore.InfoLevel, lvl)

	lvl, err = ParseLevel("DEBUG")
	require.NoError(t, err)
	require.Equal(t, zapcore.DebugLevel, lvl)

	_, err = ParseLevel("loud")
	require.Error(t, err)
}

func TestNewWritesConsoleAndFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "app.log")
	l, err := New(Options{Level: "info", File: path, Console: &buf, JSON: true})
	require.NoError(t, err)

	Component(l, "ingest").Info("paper ingested", zap.Int("vectors", 3))
	_ = l.Sync()

	require.Contains(t, buf.String(), `"component":"ingest"`)
	require.Contains(t, buf.String(), `"level":"INFO"`)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(b), "paper ingested"))
	require.Contains(t, string(b), `"timestamp"`)
}

func TestComponentNilLogger(t *testing.T) {
	require.NotNil(t, Component(nil, "x"))
}
