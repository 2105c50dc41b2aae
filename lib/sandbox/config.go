// Package sandbox implements the process isolator: it assembles an
// ephemeral, writable filesystem view out of a base rootfs plus any number
// of read-only shards and read-write workspaces, then hands control to a
// user-specified program inside a chroot with PID, mount, and (in the
// usual case) user namespaces applied.
package sandbox

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/c2h5oh/datasize"
	"github.com/google/uuid"
)

// Mode is one of the three execution modes the sandbox can run in,
// selected from process identity alone.
type Mode int

const (
	// UnprivilegedContainer is the default mode: an ordinary user relies
	// entirely on a user namespace to acquire the privilege needed to
	// mount and chroot.
	UnprivilegedContainer Mode = iota
	// PrivilegedContainer runs as a real root user on the host; mounts
	// happen before the namespace clone because the kernel may not
	// allow certain mounts from within a fresh user namespace.
	PrivilegedContainer
	// Init runs as PID 1, typically inside a freshly booted VM. Argv and
	// env arrive over a paravirtual transport instead of the OS argv.
	Init
)

func (m Mode) String() string {
	switch m {
	case Init:
		return "init"
	case PrivilegedContainer:
		return "privileged container"
	case UnprivilegedContainer:
		return "unprivileged container"
	default:
		return "unknown"
	}
}

// MappingKind classifies a Mapping's outside path, derived once at parse
// time so the mount composer can switch on it instead of re-parsing
// string prefixes everywhere it needs to know what it's mounting.
type MappingKind int

const (
	// LocalDir is an ordinary host directory, bind-mounted in.
	LocalDir MappingKind = iota
	// BlockSquashfs is a block device (outside starts with "/dev/"),
	// mounted as a squashfs image.
	BlockSquashfs
	// NinePShare is a paravirtual 9p share; outside is "9p/<tag>".
	NinePShare
)

// Mapping binds a host (or virtio) location to a path inside the
// sandbox. Shards are read-only from the program's perspective (an
// overlay discards writes); workspaces are read-write and persist to the
// host.
type Mapping struct {
	Outside string
	Inside  string
	Kind    MappingKind
	// NineTag is the 9p mount tag (Outside with the "9p/" prefix
	// stripped); only meaningful when Kind == NinePShare.
	NineTag string
}

// NewMapping classifies outside and builds a Mapping for it. It returns
// an error for any outside value that is neither an absolute path nor a
// "9p/<tag>" share — the caller is expected to log and drop such entries
// rather than treat them as fatal (spec: "Mapping validation").
func NewMapping(outside, inside string) (Mapping, error) {
	switch {
	case strings.HasPrefix(outside, "/dev/"):
		return Mapping{Outside: outside, Inside: inside, Kind: BlockSquashfs}, nil
	case strings.HasPrefix(outside, "9p/"):
		return Mapping{Outside: outside, Inside: inside, Kind: NinePShare, NineTag: strings.TrimPrefix(outside, "9p/")}, nil
	case strings.HasPrefix(outside, "/"):
		return Mapping{Outside: outside, Inside: inside, Kind: LocalDir}, nil
	default:
		return Mapping{}, fmt.Errorf("outside path %q must be absolute or start with \"9p/\"", outside)
	}
}

// SessionConfig is the fully-parsed, immutable configuration for one
// sandbox invocation. Once built by ParseArgs (or, in Init mode, by the
// transport reader) it is never mutated.
type SessionConfig struct {
	RootDir string
	WorkCwd string

	UID int
	GID int

	Shards     []Mapping
	Workspaces []Mapping

	Argv []string
	Env  []string

	Verbose bool
	Mode    Mode

	// OverlaySize bounds the tmpfs backing the overlay workdir holding
	// every upper/work directory for the session. Defaults to 1 GiB,
	// the size the original sandbox hardcoded.
	OverlaySize datasize.ByteSize

	// RunID correlates this invocation's log lines.
	RunID string
}

// DefaultOverlaySize is the tmpfs size backing the overlay workdir when
// none is configured via --overlay-size, matching the 1 GiB the
// original sandbox.c hardcodes.
const DefaultOverlaySize = 1 * datasize.GB

// NewRunID returns a fresh correlation id for a session.
func NewRunID() string {
	return uuid.NewString()
}

// DetectMode picks a Mode from process identity: PID 1 means Init
// (typically a freshly booted VM); otherwise an effective UID of 0 means
// PrivilegedContainer; anything else is UnprivilegedContainer.
func DetectMode(pid, euid int) Mode {
	switch {
	case pid == 1:
		return Init
	case euid == 0:
		return PrivilegedContainer
	default:
		return UnprivilegedContainer
	}
}

// ResolveIdentity picks the UID/GID to map to 0:0 inside the sandbox's
// user namespace. It prefers SUDO_UID/SUDO_GID (set by escalation tools
// like sudo) over the live UID/GID, because when launched via such a
// tool the live IDs are already 0:0 and only the originating user's IDs
// are useful to map.
func ResolveIdentity(lookupEnv func(string) (string, bool), liveUID, liveGID int) (uid, gid int) {
	uid = liveUID
	gid = liveGID
	if v, ok := lookupEnv("SUDO_UID"); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			uid = n
		}
	}
	if v, ok := lookupEnv("SUDO_GID"); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			gid = n
		}
	}
	return uid, gid
}

// OSLookupEnv adapts os.LookupEnv to the lookupEnv signature ResolveIdentity
// expects, so production callers don't have to write the adapter inline.
func OSLookupEnv(key string) (string, bool) { return os.LookupEnv(key) }
