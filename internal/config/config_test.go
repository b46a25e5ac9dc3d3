package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/imgcast/internal/domain/transfer"
)

// TestValidate checks defaults and format validations for Config.
func TestValidate(t *testing.T) {
	t.Parallel()

	require.Error(t, Validate(nil))

	// Defaults.
	settings := new(Config)
	require.NoError(t, Validate(settings))
	require.Equal(t, DefaultPortBase, settings.PortBase)
	require.Equal(t, DefaultBandwidth, settings.Bandwidth)
	require.Equal(t, DefaultConnectTimeout, settings.ConnectTimeout)
	require.Equal(t, DefaultQuorum, settings.Quorum)
	require.Equal(t, BackendOpenSSH, settings.SSH.Backend)

	cases := map[string]*Config{
		"privileged port":    {PortBase: 80},
		"bad bandwidth":      {Bandwidth: "fast"},
		"negative quorum":    {Quorum: -1},
		"negative parallel":  {Parallelism: -2},
		"unknown codec":      {Compression: "brotli"},
		"unknown backend":    {SSH: SSHConfig{Backend: "telnet"}},
		"bad status address": {StatusAddress: "bad:address"},
	}
	for name, cfg := range cases {
		require.Error(t, Validate(cfg), name)
	}

	// Okay with explicit values.
	settings = &Config{
		PortBase:      20000,
		Bandwidth:     "1g",
		Compression:   "zstd",
		StatusAddress: "127.0.0.1:0",
		SSH:           SSHConfig{Backend: BackendNative},
	}
	require.NoError(t, Validate(settings))
	require.Equal(t, transfer.CompressionZstd, settings.CompressionCodec())
}

// TestSaveLoadRoundtrip ensures settings are persisted and loaded back correctly.
func TestSaveLoadRoundtrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")

	settings := &Config{
		Inventory:      "inventory.ini",
		Group:          "classroom",
		PortBase:       9100,
		ConnectTimeout: 3 * time.Second,
		SSH: SSHConfig{
			User:    "deploy",
			Options: []string{"StrictHostKeyChecking=accept-new"},
		},
		DryRun: true,
	}

	require.NoError(t, Save(path, settings))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, settings.Inventory, loaded.Inventory)
	require.Equal(t, settings.Group, loaded.Group)
	require.Equal(t, settings.PortBase, loaded.PortBase)
	require.Equal(t, settings.ConnectTimeout, loaded.ConnectTimeout)
	require.Equal(t, settings.SSH.Options, loaded.SSH.Options)

	// Dry run is a runtime switch only.
	require.False(t, loaded.DryRun)

	// File exists.
	_, err = os.Stat(path)
	require.NoError(t, err)
}

// TestLoadMissing verifies that only an explicitly named file is required.
func TestLoadMissing(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

// TestLoadReadsDurations ensures human-readable durations are accepted in YAML.
func TestLoadReadsDurations(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "settings.yaml")
	contents := []byte("group: lab\nconnect_timeout: 7s\ntransfer_timeout: 2h\n")
	require.NoError(t, os.WriteFile(path, contents, DefaultFilePermissions))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "lab", cfg.Group)
	require.Equal(t, 7*time.Second, cfg.ConnectTimeout)
	require.Equal(t, 2*time.Hour, cfg.TransferTimeout)
}
