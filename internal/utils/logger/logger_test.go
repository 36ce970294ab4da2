package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesRotatedFile(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "trader.log")

	log, err := New(&Config{LogFile: logFile, Level: "debug", MaxSize: 1, MaxBackups: 1, MaxAge: 1})
	require.NoError(t, err)

	log.WithComponent("ledger").Info("balance seeded")
	done := log.TrackPerformance("bootstrap")
	done()
	_ = log.Sync()

	content, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(content), "balance seeded")
	assert.Contains(t, string(content), `"component":"ledger"`)
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(&Config{Level: "loud"})
	assert.Error(t, err)
}

func TestNewWithoutFile(t *testing.T) {
	log, err := New(&Config{Level: "warn"})
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(-1))
}
