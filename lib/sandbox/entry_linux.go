package sandbox

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"

	"golang.org/x/sys/unix"
)

// EnterSandbox chroots into dest, optionally changes into the session's
// working directory, and hands control to sandboxMain. It is called
// from inside whatever process namespace will own the sandboxed
// program: the re-exec'd clone child in container modes, or the init
// binary itself in Init mode. Per spec.md §4.7 the chdir/chroot pair is
// a hard assertion: a failure here aborts immediately rather than
// returning an error a caller might mistake for a recoverable one.
func EnterSandbox(log *Logger, cfg *SessionConfig, dest string) (int, error) {
	mustf(unix.Chdir(dest), "chdir %s", dest)
	mustf(unix.Chroot("."), "chroot %s", dest)

	if cfg.WorkCwd != "" {
		mustf(unix.Chdir(cfg.WorkCwd), "chdir %s (post-chroot)", cfg.WorkCwd)
	} else {
		mustf(unix.Chdir("/"), "chdir /")
	}

	return sandboxMain(log, cfg)
}

// sandboxMain starts the sandboxed program and acts as its reaper: as
// PID 1 of a freshly created pid namespace (or, in Init mode, PID 1 of
// the whole machine) this process inherits every orphaned descendant
// the primary program forks and never waits on, and the kernel will not
// finish tearing down the namespace until they are all reaped.
//
// Grounded in sandbox.c's sandbox_main: fork the primary command, then
// loop blocking on SIGCHLD and draining waitpid(-1, WNOHANG) until the
// primary pid itself is among the reaped children, at which point this
// function returns its exit status.
func sandboxMain(log *Logger, cfg *SessionConfig) (int, error) {
	sigchld := make(chan os.Signal, 1)
	signal.Notify(sigchld, unix.SIGCHLD)
	defer signal.Stop(sigchld)

	cmd := exec.Command(cfg.Argv[0], cfg.Argv[1:]...)
	cmd.Env = cfg.Env
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start %s: %w", cfg.Argv[0], err)
	}
	primary := cmd.Process.Pid
	log.Infof("entry", "primary process %d started: %v", primary, cfg.Argv)

	for {
		<-sigchld
		for {
			var ws unix.WaitStatus
			pid, err := unix.Wait4(-1, &ws, unix.WNOHANG, nil)
			if err != nil || pid <= 0 {
				break
			}
			if pid != primary {
				log.Infof("entry", "reaped orphan pid %d", pid)
				continue
			}

			code := ws.ExitStatus()
			if ws.Signaled() {
				// spec: "a target signaled-death is surfaced as exit code 1."
				code = 1
			}
			log.Infof("entry", "primary process %d exited, status %d", primary, code)
			return code, nil
		}
	}
}
