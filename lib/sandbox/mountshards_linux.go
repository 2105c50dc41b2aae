package sandbox

import (
	"fmt"
	"os"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/samber/lo"
	"golang.org/x/sys/unix"
)

// mountRootfsAndShards overlays the session's rootfs onto dest, then
// stacks every shard on top, in reverse declaration order. Reverse order
// mirrors the original sandbox.c, which prepends each --map flag onto a
// singly-linked list as it parses argv and later walks that list
// front-to-back — net effect, the last --map on the command line ends up
// mounted (and therefore visible) first.
func mountRootfsAndShards(log *Logger, w *overlayWorkdir, cfg *SessionConfig, dest string) error {
	if err := mountOverlay(log, w, cfg.RootDir, dest, "rootfs", cfg.UID, cfg.GID); err != nil {
		return fmt.Errorf("mount rootfs: %w", err)
	}

	// lo.Reverse reverses in place, so reverse a copy and leave cfg as built.
	for _, shard := range lo.Reverse(append([]Mapping(nil), cfg.Shards...)) {
		if err := mountShard(log, w, dest, shard, cfg.UID, cfg.GID); err != nil {
			return fmt.Errorf("mount shard %s -> %s: %w", shard.Outside, shard.Inside, err)
		}
	}

	return nil
}

// mountShard mounts one shard's underlying source read-only at its
// inside path, then overlays that same path in place so writes the
// sandboxed program makes land in the session's upper dir instead of
// the shard's real backing store. Per spec.md §4.7 every mount/mkdir
// below is a hard assertion; only the inside-path resolution ahead of
// them can return an ordinary error.
func mountShard(log *Logger, w *overlayWorkdir, dest string, m Mapping, uid, gid int) error {
	target, err := securejoin.SecureJoin(dest, m.Inside)
	if err != nil {
		return fmt.Errorf("resolve %s under %s: %w", m.Inside, dest, err)
	}
	mustf(os.MkdirAll(target, 0o755), "mkdir %s", target)

	switch m.Kind {
	case BlockSquashfs:
		log.Infof("shard", "mounting squashfs %s at %s", m.Outside, target)
		mustf(unix.Mount(m.Outside, target, "squashfs", unix.MS_RDONLY, ""), "mount squashfs %s", m.Outside)
	case NinePShare:
		log.Infof("shard", "mounting 9p share %s at %s", m.NineTag, target)
		opts := "trans=virtio,version=9p2000.L"
		mustf(unix.Mount(m.NineTag, target, "9p", unix.MS_RDONLY, opts), "mount 9p %s", m.NineTag)
	default: // LocalDir
		// Deliberately not MS_REC: unlike a workspace (which may
		// legitimately contain further submounts a program wants to
		// see), a shard is always a single plain directory tree.
		log.Infof("shard", "bind-mounting %s at %s", m.Outside, target)
		mustf(unix.Mount(m.Outside, target, "", unix.MS_BIND, ""), "bind mount %s", m.Outside)
		remountFlags := uintptr(unix.MS_REMOUNT | unix.MS_BIND | unix.MS_RDONLY | unix.MS_NODEV | unix.MS_NOSUID)
		mustf(unix.Mount("", target, "", remountFlags, ""), "remount %s ro", target)
	}

	bname := sanitizeBname(m.Inside)
	return mountOverlay(log, w, target, target, bname, uid, gid)
}

// sanitizeBname turns an inside path into a flat name safe to use as an
// overlay upper/work subdirectory name.
func sanitizeBname(inside string) string {
	trimmed := strings.Trim(inside, "/")
	if trimmed == "" {
		return "root"
	}
	return strings.ReplaceAll(trimmed, "/", "_")
}
