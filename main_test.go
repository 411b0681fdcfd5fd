package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pulse.klederson.com/internal/config"
	"pulse.klederson.com/internal/settings"
)

func runCLI(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute())
	return out.String()
}

func TestSettingsCommands(t *testing.T) {
	t.Setenv("PULSE_REDIS_ADDR", "")
	path := filepath.Join(t.TempDir(), "settings.yaml")

	out := runCLI(t, "settings", "show", "--settings", path, "--log-level", "error")
	require.Contains(t, out, "display_mode: standard")
	require.Contains(t, out, "globally_enabled: true")

	out = runCLI(t, "settings", "set", "display_mode", "graph", "--settings", path, "--log-level", "error")
	require.Contains(t, out, "display_mode: graph")

	out = runCLI(t, "settings", "override", "news.site", "off", "--settings", path, "--log-level", "error")
	require.Contains(t, out, "news.site: false")

	out = runCLI(t, "settings", "show", "--settings", path, "--log-level", "error")
	require.Contains(t, out, "display_mode: graph")
	require.Contains(t, out, "news.site: false")

	out = runCLI(t, "settings", "reset", "--settings", path, "--log-level", "error")
	require.Contains(t, out, "display_mode: standard")
	require.NotContains(t, out, "news.site")
}

func TestSettingsSetRejectsUnknownKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"settings", "set", "colour", "red", "--settings", path, "--log-level", "error"})
	require.Error(t, cmd.Execute())
}

func TestSettingsSetInvalidValueWritesNothing(t *testing.T) {
	t.Setenv("PULSE_REDIS_ADDR", "")
	path := filepath.Join(t.TempDir(), "settings.yaml")
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"settings", "set", "display_mode", "huge", "--settings", path, "--log-level", "error"})
	require.Error(t, cmd.Execute())
	require.NoFileExists(t, path)
}

func TestLoadInitial_MalformedFileFallsBackToDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("display_mode: [graph\n"), 0o644))

	store := settings.NewFileStore(path, zap.NewNop())
	_, err := store.Load(context.Background())
	require.Error(t, err)

	require.Equal(t, settings.Default(), loadInitial(context.Background(), store, zap.NewNop()))
}

func TestResolveBridge(t *testing.T) {
	t.Setenv(config.EnvLogLevel, "")
	cmd, _, err := newRootCmd().Find([]string{"bridge"})
	require.NoError(t, err)
	require.NoError(t, cmd.ParseFlags([]string{"--port", "9000", "-n", "polar"}))

	cfg := config.Default()
	b := config.DefaultBridge()
	b.Server.Host = "0.0.0.0"
	b.Server.Port = 7000
	b.Server.LogLevel = "DEBUG"
	b.Device.Address = "AA:BB"
	resolveBridge(cmd, &cfg, &b)

	require.Equal(t, "0.0.0.0", b.Server.Host)
	require.Equal(t, 9000, b.Server.Port)
	require.Equal(t, "polar", b.Device.NameFilter)
	require.Equal(t, "AA:BB", b.Device.Address)
	require.Equal(t, "debug", cfg.LogLevel)
}

func TestResolveBridge_LogLevelFlagWins(t *testing.T) {
	t.Setenv(config.EnvLogLevel, "")
	cmd, _, err := newRootCmd().Find([]string{"bridge"})
	require.NoError(t, err)
	require.NoError(t, cmd.ParseFlags([]string{"--log-level", "warn"}))

	cfg := loadConfig(cmd)
	b := config.DefaultBridge()
	b.Server.LogLevel = "debug"
	resolveBridge(cmd, &cfg, &b)
	require.Equal(t, "warn", cfg.LogLevel)
}
