package distribute

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/imgcast/internal/config"
	"github.com/oshokin/imgcast/internal/domain/transfer"
)

const testInventory = `[classroom]
pc[01:03] ansible_user=student

[classroom:vars]
ansible_become=true
`

// writeFixtures creates an inventory, a settings file and two images.
func writeFixtures(t *testing.T) (string, string, string) {
	t.Helper()

	dir := t.TempDir()

	inventoryPath := filepath.Join(dir, "hosts")
	require.NoError(t, os.WriteFile(inventoryPath, []byte(testInventory), 0o600))

	settingsPath := filepath.Join(dir, config.DefaultConfigFilename)
	require.NoError(t, config.Save(settingsPath, &config.Config{Inventory: inventoryPath}))

	images := filepath.Join(dir, "images")
	require.NoError(t, os.Mkdir(images, 0o750))

	for _, name := range []string{"win11.img", "ubuntu.img"} {
		require.NoError(t, os.WriteFile(filepath.Join(images, name), []byte("image"), 0o600))
	}

	return settingsPath, images, dir
}

func TestApplyOverrides(t *testing.T) {
	t.Parallel()

	cfg := config.Default()

	err := applyOverrides(cfg, &Options{
		Group:          "classroom",
		PortBase:       9100,
		Bandwidth:      "500m",
		Compression:    "zstd",
		ConnectTimeout: 3 * time.Second,
		Quorum:         2,
		DryRun:         true,
	})
	require.NoError(t, err)

	require.Equal(t, "classroom", cfg.Group)
	require.Equal(t, 9100, cfg.PortBase)
	require.Equal(t, "500m", cfg.Bandwidth)
	require.Equal(t, transfer.CompressionZstd, cfg.CompressionCodec())
	require.Equal(t, 3*time.Second, cfg.ConnectTimeout)
	require.Equal(t, 2, cfg.Quorum)
	require.True(t, cfg.DryRun)
	require.Equal(t, config.DefaultInventory, cfg.Inventory)

	err = applyOverrides(config.Default(), &Options{Bandwidth: "fast"})
	require.Error(t, err)

	cfg = config.Default()
	cfg.Compression = "gzip"
	require.NoError(t, applyOverrides(cfg, &Options{Compression: "none"}))
	require.Equal(t, transfer.CompressionNone, cfg.CompressionCodec())
}

// TestRun_DryRun runs a whole session without touching any host.
//
//nolint:paralleltest // Run replaces the global logger.
func TestRun_DryRun(t *testing.T) {
	settingsPath, images, dir := writeFixtures(t)
	logDir := filepath.Join(dir, "logs")

	err := Run(context.Background(), &Options{
		ConfigPath: settingsPath,
		Source:     images,
		Group:      "classroom",
		LogDir:     logDir,
		DryRun:     true,
	})
	require.NoError(t, err)

	reports, err := filepath.Glob(filepath.Join(logDir, "session-*.yaml"))
	require.NoError(t, err)
	require.Len(t, reports, 1)

	logs, err := filepath.Glob(filepath.Join(logDir, "imgcast-*.log"))
	require.NoError(t, err)
	require.Len(t, logs, 1)
}

// TestRun_UnknownGroup checks that resolution failures abort before any job.
//
//nolint:paralleltest // Run replaces the global logger.
func TestRun_UnknownGroup(t *testing.T) {
	settingsPath, images, _ := writeFixtures(t)

	err := Run(context.Background(), &Options{
		ConfigPath: settingsPath,
		Source:     images,
		Group:      "lab",
		DryRun:     true,
	})
	require.ErrorIs(t, err, transfer.ErrResolution)
}

// TestRun_MissingSource checks that a missing image is reported.
//
//nolint:paralleltest // Run replaces the global logger.
func TestRun_MissingSource(t *testing.T) {
	settingsPath, images, _ := writeFixtures(t)

	err := Run(context.Background(), &Options{
		ConfigPath: settingsPath,
		Source:     filepath.Join(images, "missing.img"),
		Group:      "classroom",
		DryRun:     true,
	})
	require.ErrorIs(t, err, os.ErrNotExist)
}
