package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSinkReceivesEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.log")
	log := New(Config{Filepath: path, Level: "debug", MaxSize: 1})

	log.With("entity", "Lander Hab").Warnf("oxygen flow at %.0f%%", 40.0)
	log.Event("FAULT_TRIGGERED", "Lander Hab", "Air Leak")
	_ = log.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "oxygen flow at 40%")
	assert.Contains(t, string(data), "FAULT_TRIGGERED")
	assert.Contains(t, string(data), serviceName)
}

func TestUnknownLevelFallsBackToInfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.log")
	log := New(Config{Filepath: path, Level: "chatty"})
	log.Debug("hidden")
	log.Info("shown")
	_ = log.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), "shown")
}

func TestNopDiscards(t *testing.T) {
	log := NewNop()
	log.Error("nothing")
	log.Errorf("nothing %d", 1)
}
