package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRotatingWriter_RotatesAndCapsBackups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "memeforge.log")
	writer, err := newRotatingWriter(path, 10, 2)
	require.NoError(t, err)
	t.Cleanup(func() { _ = writer.Close() })

	for _, line := range []string{"first-01\n", "second-2\n", "third-03\n", "fourth-4\n"} {
		_, err := writer.Write([]byte(line))
		require.NoError(t, err)
	}

	current, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "fourth-4\n", string(current))
	backup1, err := os.ReadFile(path + ".1")
	require.NoError(t, err)
	assert.Equal(t, "third-03\n", string(backup1))
	backup2, err := os.ReadFile(path + ".2")
	require.NoError(t, err)
	assert.Equal(t, "second-2\n", string(backup2))
	_, err = os.Stat(path + ".3")
	assert.True(t, os.IsNotExist(err))
}

func TestRotatingWriter_NoBackupsTruncates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memeforge.log")
	writer, err := newRotatingWriter(path, 8, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = writer.Close() })

	_, err = writer.Write([]byte("aaaaaa\n"))
	require.NoError(t, err)
	_, err = writer.Write([]byte("bbbbbb\n"))
	require.NoError(t, err)

	current, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "bbbbbb\n", string(current))
}

func TestInit_WritesServiceAttr(t *testing.T) {
	previous := slog.Default()
	t.Cleanup(func() { slog.SetDefault(previous) })

	var buf bytes.Buffer
	rotating, err := Init(Config{Service: "memeforge", Level: "warn", Console: &buf})
	require.NoError(t, err)
	assert.Nil(t, rotating)

	slog.Info("hidden")
	slog.Warn("transaction status check failed", "tx_hash", "0xab")
	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "service=memeforge")
	assert.Contains(t, out, "tx_hash=0xab")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel(" error "))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
}
