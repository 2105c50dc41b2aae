package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsReexecChild(t *testing.T) {
	assert.True(t, IsReexecChild([]string{"/sandbox", reexecChildArg}))
	assert.False(t, IsReexecChild([]string{"/sandbox"}))
	assert.False(t, IsReexecChild([]string{"/sandbox", "--rootfs", "/rfs"}))
}

func TestEncodeDecodeConfig_RoundTrip(t *testing.T) {
	cfg := &SessionConfig{
		RootDir: "/rfs",
		WorkCwd: "/workspace",
		UID:     1000,
		GID:     1000,
		Shards:  []Mapping{{Outside: "/host/a", Inside: "/a", Kind: LocalDir}},
		Argv:    []string{"/bin/sh", "-c", "echo hi"},
		Env:     []string{"PATH=/bin"},
		Verbose: true,
		Mode:    UnprivilegedContainer,
		RunID:   "abc-123",
	}

	encoded, err := encodeConfig(cfg)
	require.NoError(t, err)

	decoded, err := decodeConfig(encoded)
	require.NoError(t, err)

	assert.Equal(t, cfg.RootDir, decoded.RootDir)
	assert.Equal(t, cfg.Argv, decoded.Argv)
	assert.Equal(t, cfg.Shards, decoded.Shards)
	assert.Equal(t, cfg.Mode, decoded.Mode)
	assert.Equal(t, cfg.RunID, decoded.RunID)
}

func TestDecodeConfig_RejectsEmptyInput(t *testing.T) {
	_, err := decodeConfig("")
	assert.Error(t, err)
}

func TestDecodeConfig_RejectsInvalidBase64(t *testing.T) {
	_, err := decodeConfig("not-valid-base64!!!")
	assert.Error(t, err)
}
