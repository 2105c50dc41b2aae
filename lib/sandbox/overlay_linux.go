package sandbox

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/c2h5oh/datasize"
	"golang.org/x/sys/unix"
)

// overlayWorkdir is the session-local tmpfs holding every overlay
// mount's upper/work directories. Per spec.md §4.3 step 1, it is mounted
// at a path that is reused from an existing, soon-to-be-shadowed
// directory (the original sandbox reuses the outer "/proc"; see
// mountTheWorld), not a purpose-made path, because nothing needs to
// survive at that path once the chroot happens.
type overlayWorkdir struct {
	path string
}

// createOverlayWorkdir mounts a tmpfs of the given size at path and
// creates the "upper" and "work" directories every subsequent overlay
// mount will nest its own <name> subdirectory under. Per spec.md §4.7
// both the mount and the mkdirs are hard assertions: failure aborts the
// process immediately rather than bubbling up as an ordinary error.
func createOverlayWorkdir(log *Logger, path string, size datasize.ByteSize) (*overlayWorkdir, error) {
	log.Infof("overlay", "mounting workdir tmpfs at %s (size=%s)", path, size.HR())

	opts := fmt.Sprintf("size=%d", size.Bytes())
	mustf(unix.Mount("tmpfs", path, "tmpfs", 0, opts), "mount tmpfs workdir at %s", path)

	for _, sub := range []string{"upper", "work"} {
		mustf(os.MkdirAll(filepath.Join(path, sub), 0o777), "mkdir %s/%s", path, sub)
	}

	return &overlayWorkdir{path: path}, nil
}

// upperDir and workDir return this session's upper/work directories for
// the overlay mount named bname (e.g. "rootfs", or a shard's inside path
// flattened by sanitizeBname).
func (w *overlayWorkdir) upperDir(bname string) string { return filepath.Join(w.path, "upper", bname) }
func (w *overlayWorkdir) workDir(bname string) string  { return filepath.Join(w.path, "work", bname) }

// mountOverlay stacks an overlayfs at dest, using src as the (read-only,
// from the overlay's perspective) lower layer and this session's
// upper/work directories named bname. A src equal to dest is the common
// "shadow this path in place" case: writes land in the session-local
// upper dir and vanish with it, while reads still see through to src.
//
// After mounting, dest is chowned to uid:gid so its contents don't
// appear to belong to "nobody" from inside the sandbox (spec.md §4.3
// step 2). Per spec.md §4.7 the mkdirs, the mount, and the chown are all
// hard assertions.
func mountOverlay(log *Logger, w *overlayWorkdir, src, dest, bname string, uid, gid int) error {
	upper := w.upperDir(bname)
	work := w.workDir(bname)

	if src == "" {
		src = "/"
	}

	log.Infof("overlay", "mounting overlay of %s at %s (upper=%s)", src, dest, upper)

	mustf(os.MkdirAll(upper, 0o777), "mkdir upper %s", upper)
	mustf(os.MkdirAll(work, 0o777), "mkdir work %s", work)

	opts := fmt.Sprintf("lowerdir=%s,upperdir=%s,workdir=%s", src, upper, work)
	mustf(unix.Mount("overlay", dest, "overlay", 0, opts), "mount overlay at %s", dest)

	mustf(unix.Chown(dest, uid, gid), "chown %s to %d:%d", dest, uid, gid)

	return nil
}
