package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsMatchSpec(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 500*time.Millisecond, cfg.Ack.Timeout())
	assert.Equal(t, time.Millisecond, cfg.DynAck.MinTimeout())
	assert.Equal(t, time.Second, cfg.DynAck.MaxTimeout())
	assert.Equal(t, 2.0, cfg.DynAck.Multiplier)
	assert.Equal(t, 50*time.Millisecond, cfg.Stream.Timeout())
	assert.Equal(t, uint32(50), cfg.Stream.ReceiveBufferSize)
	assert.Equal(t, time.Millisecond, cfg.DynStream.MinTimeout())
	assert.Equal(t, 500*time.Millisecond, cfg.DynStream.MaxTimeout())
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Ack.TimeoutMS = 750
	cfg.Stream.ReceiveBufferSize = 128

	path := filepath.Join(t.TempDir(), "pipeline.json")
	require.NoError(t, cfg.Save(path))

	loaded, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 750, loaded.Ack.TimeoutMS)
	assert.Equal(t, uint32(128), loaded.Stream.ReceiveBufferSize)
}

func TestLoadFileMissingReturnsWrappedError(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read")
}
