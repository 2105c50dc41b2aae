package sandbox

import (
	"fmt"
	"os"
	"path/filepath"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/samber/lo"
	"golang.org/x/sys/unix"
)

// devNodes are bind-mounted individually from the host's /dev into a
// container-mode sandbox. Init mode mounts a real devtmpfs instead (see
// mountDev), since it owns the whole machine's device tree.
var devNodes = []string{"null", "zero", "full", "urandom", "random", "tty"}

// mountProcfs mounts a fresh procfs at dest's "/proc". Passing an empty
// dest mounts over the outer "/proc" directly, which mountTheWorld does
// at the end to restore the host/VM's own view after the sandboxed
// dest's procfs has been set up.
func mountProcfs(log *Logger, dest string) error {
	target := "/proc"
	if dest != "" {
		target = filepath.Join(dest, "proc")
	}

	log.Infof("procfs", "mounting proc at %s", target)

	mustf(os.MkdirAll(target, 0o555), "mkdir %s", target)
	mustf(unix.Mount("proc", target, "proc", 0, ""), "mount proc at %s", target)
	return nil
}

// mountDev populates dest's "/dev". In Init mode it mounts a real
// devtmpfs plus devpts, since init owns device creation for the whole
// VM. In container modes it bind-mounts a fixed allowlist of device
// nodes from the host, which is all a sandboxed program needs and
// avoids granting it the ability to create new device nodes itself.
func mountDev(log *Logger, dest string, mode Mode) error {
	target := filepath.Join(dest, "dev")
	mustf(os.MkdirAll(target, 0o755), "mkdir %s", target)

	if mode == Init {
		log.Info("dev", "mounting devtmpfs")
		mustf(unix.Mount("devtmpfs", target, "devtmpfs", 0, ""), "mount devtmpfs")
		pts := filepath.Join(target, "pts")
		mustf(os.MkdirAll(pts, 0o755), "mkdir %s", pts)
		mustf(unix.Mount("devpts", pts, "devpts", 0, ""), "mount devpts")
		return nil
	}

	for _, name := range devNodes {
		src := filepath.Join("/dev", name)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		dst := filepath.Join(target, name)
		f, err := os.OpenFile(dst, os.O_CREATE, 0o666)
		mustf(err, "create %s", dst)
		f.Close()
		log.Infof("dev", "bind-mounting %s", src)
		mustf(unix.Mount(src, dst, "", unix.MS_BIND, ""), "bind mount %s", src)
	}
	return nil
}

// mountWorkspaces bind- (or 9p-) mounts every read-write workspace into
// dest, in reverse declaration order like the shards. Unlike shards these
// are not overlaid: writes pass straight through to the outside
// directory, or in the 9p case to whatever the host end of the share
// does with them.
func mountWorkspaces(log *Logger, dest string, workspaces []Mapping) error {
	for _, ws := range lo.Reverse(append([]Mapping(nil), workspaces...)) {
		target, err := securejoin.SecureJoin(dest, ws.Inside)
		if err != nil {
			return fmt.Errorf("resolve workspace %s under %s: %w", ws.Inside, dest, err)
		}
		mustf(os.MkdirAll(target, 0o755), "mkdir %s", target)

		if ws.Kind == NinePShare {
			log.Infof("workspace", "mounting 9p share %s at %s", ws.NineTag, target)
			mustf(unix.Mount(ws.NineTag, target, "9p", 0, "trans=virtio,version=9p2000.L"), "mount 9p workspace %s", ws.NineTag)
			continue
		}

		log.Infof("workspace", "bind-mounting %s at %s", ws.Outside, target)
		mustf(unix.Mount(ws.Outside, target, "", unix.MS_BIND|unix.MS_REC, ""), "bind mount workspace %s", ws.Outside)
	}
	return nil
}

// mountTheWorld assembles the entire filesystem view a sandboxed program
// will see, in the exact order the original sandbox.c's
// mount_the_world() uses: an overlay workdir mounted over the outer
// "/proc" first (safe because procfs is about to be remounted at the
// end anyway), then the rootfs and its shards, then a fresh procfs and
// dev inside dest, then workspaces, then finally the outer "/proc" is
// restored so the calling process's own view of the world is left
// intact.
func mountTheWorld(log *Logger, cfg *SessionConfig, dest string) error {
	w, err := createOverlayWorkdir(log, "/proc", cfg.OverlaySize)
	if err != nil {
		return fmt.Errorf("create overlay workdir: %w", err)
	}

	if err := mountRootfsAndShards(log, w, cfg, dest); err != nil {
		return err
	}
	if err := mountProcfs(log, dest); err != nil {
		return err
	}
	if err := mountDev(log, dest, cfg.Mode); err != nil {
		return err
	}
	if err := mountWorkspaces(log, dest, cfg.Workspaces); err != nil {
		return err
	}
	if err := mountProcfs(log, ""); err != nil {
		return fmt.Errorf("restore outer proc: %w", err)
	}

	return nil
}
