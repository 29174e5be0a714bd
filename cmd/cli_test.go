// SPDX-License-Identifier: MIT
package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"circlights/internal/config"
)

// isolate keeps the developer's own config.yaml out of the tests.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Chdir(dir)
	return dir
}

func TestParseArgsDefaults(t *testing.T) {
	isolate(t)

	opts, err := ParseArgs(nil)
	require.NoError(t, err)
	assert.True(t, opts.Run)
	assert.Empty(t, opts.Command)
	assert.False(t, opts.Monitor)
	assert.Empty(t, opts.ConfigPath)
	require.NotNil(t, opts.Config)
	assert.Equal(t, config.Default().LED.Count, opts.Config.LED.Count)
	assert.Equal(t, config.SourceDevice, opts.Config.Audio.Source)
}

func TestParseArgsFlagsOverrideFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "lights.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
led:
  count: 120
  device_address: 10.0.0.1
web:
  listen: ":9000"
`), 0o644))

	opts, err := ParseArgs([]string{
		"--config", path,
		"--wled", "10.0.0.2",
		"--device", "3",
		"--monitor",
		"--log-level", "debug",
	})
	require.NoError(t, err)
	assert.Equal(t, path, opts.ConfigPath)
	assert.True(t, opts.Monitor)

	cfg := opts.Config
	assert.Equal(t, 120, cfg.LED.Count, "unset flags must not mask the file")
	assert.Equal(t, "10.0.0.2", cfg.LED.DeviceAddress)
	assert.Equal(t, ":9000", cfg.Web.Listen)
	assert.Equal(t, 3, cfg.Audio.InputDevice)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestParseArgsFileImpliesFileSource(t *testing.T) {
	isolate(t)

	opts, err := ParseArgs([]string{"--file", "song.mp3", "--loop", "--led-count", "30"})
	require.NoError(t, err)
	assert.Equal(t, config.SourceFile, opts.Config.Audio.Source)
	assert.Equal(t, "song.mp3", opts.Config.Audio.File)
	assert.True(t, opts.Config.Audio.Loop)
	assert.Equal(t, 30, opts.Config.LED.Count)
}

func TestParseArgsInvalidConfig(t *testing.T) {
	isolate(t)

	_, err := ParseArgs([]string{"--led-count=-5"})
	assert.Error(t, err)
}

func TestParseArgsList(t *testing.T) {
	isolate(t)

	opts, err := ParseArgs([]string{"list"})
	require.NoError(t, err)
	assert.Equal(t, CommandList, opts.Command)
	assert.False(t, opts.Run)
	assert.Nil(t, opts.Config)
}

func TestParseArgsProbe(t *testing.T) {
	isolate(t)

	opts, err := ParseArgs([]string{"probe", "wled.local"})
	require.NoError(t, err)
	assert.Equal(t, CommandProbe, opts.Command)
	require.NotNil(t, opts.Config)
	assert.Equal(t, "wled.local", opts.Config.LED.DeviceAddress)

	opts, err = ParseArgs([]string{"probe", "--wled", "10.0.0.7"})
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.7", opts.Config.LED.DeviceAddress)

	_, err = ParseArgs([]string{"probe"})
	assert.Error(t, err, "probe needs an address")
}

func TestParseArgsVersionDoesNotRun(t *testing.T) {
	isolate(t)

	opts, err := ParseArgs([]string{"--version"})
	require.NoError(t, err)
	assert.False(t, opts.Run)
	assert.Empty(t, opts.Command)
}

func TestParseArgsRejectsExtraArgs(t *testing.T) {
	isolate(t)

	_, err := ParseArgs([]string{"unexpected"})
	assert.Error(t, err)
}
