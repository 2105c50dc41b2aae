package sandbox

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArgs_RequiresCommand(t *testing.T) {
	var stderr bytes.Buffer
	_, err := ParseArgs([]string{"--rootfs", "/rfs"}, UnprivilegedContainer, 1000, 1000, &stderr)
	assert.Error(t, err)
}

func TestParseArgs_RequiresRootfsOutsideInitMode(t *testing.T) {
	var stderr bytes.Buffer
	_, err := ParseArgs([]string{"/bin/true"}, UnprivilegedContainer, 1000, 1000, &stderr)
	assert.Error(t, err)
}

func TestParseArgs_RootfsNotRequiredInInitMode(t *testing.T) {
	var stderr bytes.Buffer
	cfg, err := ParseArgs([]string{"/bin/true"}, Init, 0, 0, &stderr)
	require.NoError(t, err)
	assert.Equal(t, []string{"/bin/true"}, cfg.Argv)
}

func TestParseArgs_StripsTrailingSlashFromRootfs(t *testing.T) {
	var stderr bytes.Buffer
	cfg, err := ParseArgs([]string{"--rootfs", "/rfs/", "/bin/true"}, UnprivilegedContainer, 1000, 1000, &stderr)
	require.NoError(t, err)
	assert.Equal(t, "/rfs", cfg.RootDir)
}

func TestParseArgs_CollectsRepeatedMapAndWorkspaceFlags(t *testing.T) {
	var stderr bytes.Buffer
	cfg, err := ParseArgs([]string{
		"--rootfs", "/rfs",
		"--map", "/host/a:/a",
		"--map", "/host/b:/b",
		"--workspace", "/host/ws:/ws",
		"/bin/true",
	}, UnprivilegedContainer, 1000, 1000, &stderr)
	require.NoError(t, err)

	require.Len(t, cfg.Shards, 2)
	assert.Equal(t, "/host/a", cfg.Shards[0].Outside)
	assert.Equal(t, "/a", cfg.Shards[0].Inside)
	assert.Equal(t, "/host/b", cfg.Shards[1].Outside)

	require.Len(t, cfg.Workspaces, 1)
	assert.Equal(t, "/host/ws", cfg.Workspaces[0].Outside)
}

func TestParseArgs_DropsMalformedMapFlagWithWarning(t *testing.T) {
	var stderr bytes.Buffer
	cfg, err := ParseArgs([]string{
		"--rootfs", "/rfs",
		"--map", "no-colon-here",
		"/bin/true",
	}, UnprivilegedContainer, 1000, 1000, &stderr)
	require.NoError(t, err)
	assert.Empty(t, cfg.Shards)
	assert.Contains(t, stderr.String(), "warning")
}

func TestParseArgs_DropsInvalidMappingOutsideWithWarning(t *testing.T) {
	var stderr bytes.Buffer
	cfg, err := ParseArgs([]string{
		"--rootfs", "/rfs",
		"--map", "relative_path:/x",
		"/bin/true",
	}, UnprivilegedContainer, 1000, 1000, &stderr)
	require.NoError(t, err)
	assert.Empty(t, cfg.Shards)
	assert.Contains(t, stderr.String(), "warning")
}

func TestParseArgs_PassesThroughCommandAndArgs(t *testing.T) {
	var stderr bytes.Buffer
	cfg, err := ParseArgs([]string{"--rootfs", "/rfs", "/bin/sh", "-c", "echo hi"}, UnprivilegedContainer, 1000, 1000, &stderr)
	require.NoError(t, err)
	assert.Equal(t, []string{"/bin/sh", "-c", "echo hi"}, cfg.Argv)
}

func TestParseArgs_DefaultOverlaySizeIsOneGigabyte(t *testing.T) {
	var stderr bytes.Buffer
	cfg, err := ParseArgs([]string{"--rootfs", "/rfs", "/bin/true"}, UnprivilegedContainer, 1000, 1000, &stderr)
	require.NoError(t, err)
	assert.Equal(t, DefaultOverlaySize, cfg.OverlaySize)
}

func TestParseArgs_RejectsInvalidOverlaySize(t *testing.T) {
	var stderr bytes.Buffer
	_, err := ParseArgs([]string{"--rootfs", "/rfs", "--overlay-size", "not-a-size", "/bin/true"}, UnprivilegedContainer, 1000, 1000, &stderr)
	assert.Error(t, err)
}

func TestParseArgs_CdIsRelativeToChroot(t *testing.T) {
	var stderr bytes.Buffer
	cfg, err := ParseArgs([]string{"--rootfs", "/rfs", "--cd", "/workspace", "/bin/true"}, UnprivilegedContainer, 1000, 1000, &stderr)
	require.NoError(t, err)
	assert.Equal(t, "/workspace", cfg.WorkCwd)
}
