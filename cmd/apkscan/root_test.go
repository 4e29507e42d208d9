package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apkscan/apkscan/pkg/executor"
)

func TestExpandInputs_PlainPathsPassThrough(t *testing.T) {
	inputs, err := expandInputs([]string{"/tmp/app.apk", "lib.jar"})
	require.NoError(t, err)
	assert.Equal(t, []string{"/tmp/app.apk", "lib.jar"}, inputs)
}

func TestExpandInputs_GlobExpansion(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.apk", "b.apk", "c.jar"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}

	inputs, err := expandInputs([]string{filepath.Join(dir, "*.apk")})
	require.NoError(t, err)
	assert.Len(t, inputs, 2)
}

func TestExpandInputs_InvalidGlob(t *testing.T) {
	_, err := expandInputs([]string{"[invalid"})
	assert.Error(t, err)
}

func TestStageConfig(t *testing.T) {
	cfg, err := stageConfig("processed", "submitted", 4, 2, 30)
	require.NoError(t, err)
	assert.Equal(t, executor.ModeProcessed, cfg.Mode)
	assert.Equal(t, executor.OrderSubmitted, cfg.Order)
	assert.Equal(t, 4, cfg.MaxWorkers)
	assert.Equal(t, 2, cfg.ChunkSize)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
}

func TestStageConfig_InvalidMode(t *testing.T) {
	_, err := stageConfig("fibers", "completed", 0, 0, 0)
	assert.Error(t, err)

	_, err = stageConfig("serial", "shuffled", 0, 0, 0)
	assert.Error(t, err)
}

func TestDecompilerFlagsRegistered(t *testing.T) {
	for _, name := range []string{"jadx", "apktool", "cfr", "procyon", "krakatau", "fernflower"} {
		flag := rootCmd.Flags().Lookup(name)
		require.NotNil(t, flag, "missing flag --%s", name)
		assert.Equal(t, name, flag.NoOptDefVal)
	}
}
