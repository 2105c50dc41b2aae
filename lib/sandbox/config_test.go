package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectMode_PID1IsInit(t *testing.T) {
	assert.Equal(t, Init, DetectMode(1, 0))
	assert.Equal(t, Init, DetectMode(1, 1000))
}

func TestDetectMode_RootIsPrivilegedContainer(t *testing.T) {
	assert.Equal(t, PrivilegedContainer, DetectMode(42, 0))
}

func TestDetectMode_OrdinaryUserIsUnprivilegedContainer(t *testing.T) {
	assert.Equal(t, UnprivilegedContainer, DetectMode(42, 1000))
}

func TestMode_String(t *testing.T) {
	assert.Equal(t, "init", Init.String())
	assert.Equal(t, "privileged container", PrivilegedContainer.String())
	assert.Equal(t, "unprivileged container", UnprivilegedContainer.String())
}

func TestResolveIdentity_PrefersSudoEnvOverLiveIDs(t *testing.T) {
	env := map[string]string{"SUDO_UID": "1000", "SUDO_GID": "1000"}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }

	uid, gid := ResolveIdentity(lookup, 0, 0)

	assert.Equal(t, 1000, uid)
	assert.Equal(t, 1000, gid)
}

func TestResolveIdentity_FallsBackToLiveIDsWhenSudoEnvAbsent(t *testing.T) {
	lookup := func(string) (string, bool) { return "", false }

	uid, gid := ResolveIdentity(lookup, 501, 20)

	assert.Equal(t, 501, uid)
	assert.Equal(t, 20, gid)
}

func TestResolveIdentity_IgnoresEmptySudoEnv(t *testing.T) {
	env := map[string]string{"SUDO_UID": "", "SUDO_GID": ""}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }

	uid, gid := ResolveIdentity(lookup, 501, 20)

	assert.Equal(t, 501, uid)
	assert.Equal(t, 20, gid)
}

func TestResolveIdentity_IgnoresMalformedSudoEnv(t *testing.T) {
	env := map[string]string{"SUDO_UID": "not-a-number"}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }

	uid, _ := ResolveIdentity(lookup, 501, 20)

	assert.Equal(t, 501, uid)
}

func TestNewMapping_ClassifiesBlockDevice(t *testing.T) {
	m, err := NewMapping("/dev/vdb", "x")
	require.NoError(t, err)
	assert.Equal(t, BlockSquashfs, m.Kind)
	assert.Equal(t, "/dev/vdb", m.Outside)
}

func TestNewMapping_ClassifiesNinePShare(t *testing.T) {
	m, err := NewMapping("9p/myshare", "x")
	require.NoError(t, err)
	assert.Equal(t, NinePShare, m.Kind)
	assert.Equal(t, "myshare", m.NineTag)
}

func TestNewMapping_ClassifiesLocalDir(t *testing.T) {
	m, err := NewMapping("/srv/shard", "x")
	require.NoError(t, err)
	assert.Equal(t, LocalDir, m.Kind)
}

func TestNewMapping_RejectsRelativePath(t *testing.T) {
	_, err := NewMapping("relative/path", "x")
	assert.Error(t, err)
}

func TestNewMapping_RejectsEmptyOutside(t *testing.T) {
	_, err := NewMapping("", "x")
	assert.Error(t, err)
}

func TestNewRunID_ReturnsDistinctValues(t *testing.T) {
	a := NewRunID()
	b := NewRunID()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}
