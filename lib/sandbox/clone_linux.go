package sandbox

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"
)

// reexecConfigEnv carries the session configuration across the clone
// boundary as base64-encoded JSON in the re-exec'd child's environment.
// A raw clone(2) in C continues in the same process image and so needs
// no such thing; Go's os/exec-based re-exec starts a brand new process
// image, so the config has to cross in band somehow. An env var is the
// simplest channel that survives exec() and doesn't require a third
// pipe alongside the two handshake pipes the spec already defines.
const reexecConfigEnv = "SANDBOX_REEXEC_CONFIG"

// reexecChildArg is the sentinel argv[1] main() looks for to know it is
// the re-exec'd clone child rather than a fresh top-level invocation.
const reexecChildArg = "__sandbox_clone_child__"

// defaultDest is the path the mount composer assembles the sandboxed
// filesystem view under, before EnterSandbox chroots into it. Per
// spec.md §9's convergence note, every mode shares the same dest; "/tmp"
// is what the original sandbox.c hardcodes.
const defaultDest = "/tmp"

// IsReexecChild reports whether argv is this process being re-invoked
// across the clone boundary, so main() can dispatch to RunReexecChild
// instead of treating argv as a fresh sandbox invocation.
func IsReexecChild(argv []string) bool {
	return len(argv) > 1 && argv[1] == reexecChildArg
}

// RunContainerMode drives the clone harness for PrivilegedContainer and
// UnprivilegedContainer modes: it prepares whatever the current mode
// requires before the clone, spawns the re-exec'd child into new PID,
// mount, and user namespaces, and performs the parent half of the
// uid/gid-map handshake. It returns once the sandboxed program (and
// every orphan it leaves behind) has fully exited.
func RunContainerMode(log *Logger, cfg *SessionConfig) (int, error) {
	if cfg.Mode == PrivilegedContainer {
		log.Info("clone", "privileged mode: unsharing mount namespace and mounting in parent")
		mustf(unix.Unshare(unix.CLONE_NEWNS), "unshare mount namespace")
		mustf(unix.Mount("", "/", "", unix.MS_PRIVATE|unix.MS_REC, ""), "remount / private")
		if err := mountTheWorld(log, cfg, defaultDest); err != nil {
			return 0, fmt.Errorf("mount the world: %w", err)
		}
	}

	hs, err := newHandshake()
	if err != nil {
		return 0, err
	}

	selfExe, err := os.Readlink("/proc/self/exe")
	if err != nil {
		selfExe = os.Args[0]
	}

	encodedCfg, err := encodeConfig(cfg)
	if err != nil {
		return 0, fmt.Errorf("encode config for re-exec: %w", err)
	}

	// CLONE_NEWNS is requested unconditionally in both container modes:
	// the clone child always gets its own fresh mount namespace, even
	// in PrivilegedContainer mode where the parent has already unshared
	// its own mount namespace above. Matches sandbox.c:828, which ORs
	// in CLONE_NEWNS regardless of privileged/unprivileged mode.
	cloneFlags := uintptr(syscall.CLONE_NEWPID | syscall.CLONE_NEWUSER | syscall.CLONE_NEWNS)

	child := exec.Command(selfExe, reexecChildArg)
	child.Env = append(os.Environ(), reexecConfigEnv+"="+encodedCfg)
	child.Stdin = os.Stdin
	child.Stdout = os.Stdout
	child.Stderr = os.Stderr
	child.ExtraFiles = hs.childExtraFiles()
	child.SysProcAttr = &syscall.SysProcAttr{
		Cloneflags: cloneFlags,
	}

	log.Infof("clone", "spawning clone child (mode=%s, flags=%#x)", cfg.Mode, cloneFlags)
	mustf(child.Start(), "clone child (flags=%#x)", cloneFlags)
	hs.closeChildEnds()

	if err := hs.awaitChildReady(); err != nil {
		return 0, err
	}

	log.Infof("clone", "writing uid/gid maps for pid %d (uid=%d gid=%d)", child.Process.Pid, cfg.UID, cfg.GID)
	if err := writeIDMaps(child.Process.Pid, cfg.UID, cfg.GID); err != nil {
		return 0, fmt.Errorf("write id maps: %w", err)
	}

	if err := hs.releaseChild(); err != nil {
		return 0, err
	}

	err = child.Wait()
	if err == nil {
		return 0, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode(), nil
	}
	return 0, fmt.Errorf("wait for clone child: %w", err)
}

// RunReexecChild is the entry point for the re-exec'd clone child side
// of the handshake. It completes the child half described in spec.md
// §4.4, runs the mount composer when this mode requires it to run on
// this side of the clone, and hands off to EnterSandbox. Its return
// value is the process's intended exit code; the caller should os.Exit
// with it directly, since by the time this returns the process may be
// chrooted and past the point os.Exit's deferred-free cleanup matters.
func RunReexecChild() int {
	cfg, err := decodeConfig(os.Getenv(reexecConfigEnv))
	if err != nil {
		fmt.Fprintf(os.Stderr, "sandbox: decode re-exec config: %v\n", err)
		return 1
	}
	log := NewLogger(os.Stderr, cfg.Verbose, cfg.RunID)

	blockR, readyW := childHandshakeFiles()

	// PR_SET_DUMPABLE is cleared by the uid/gid change clone(CLONE_NEWUSER)
	// implies; re-enabling it is what makes /proc/<pid>/{uid_map,gid_map,
	// setgroups} owned by this process readable/writable to the parent.
	if err := unix.Prctl(unix.PR_SET_DUMPABLE, 1, 0, 0, 0); err != nil {
		fmt.Fprintf(os.Stderr, "sandbox: prctl(PR_SET_DUMPABLE): %v\n", err)
		return 1
	}

	// PID 1 of a freshly created namespace ignores signals by kernel
	// default, including SIGINT; since this process is briefly PID 1 of
	// its new pid namespace even before forking the sandboxed program,
	// re-arm SIGINT to actually terminate so Ctrl-C works as expected.
	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, unix.SIGINT)
	go func() {
		<-sigint
		os.Exit(130)
	}()

	if err := signalReady(readyW); err != nil {
		fmt.Fprintf(os.Stderr, "sandbox: signal ready: %v\n", err)
		return 1
	}
	if err := waitForRelease(blockR); err != nil {
		fmt.Fprintf(os.Stderr, "sandbox: wait for release: %v\n", err)
		return 1
	}

	// The uid/gid maps are now in place; adopt 0:0, the identity they
	// map to, inside this namespace.
	if err := unix.Setgid(0); err != nil {
		fmt.Fprintf(os.Stderr, "sandbox: setgid(0): %v\n", err)
		return 1
	}
	if err := unix.Setuid(0); err != nil {
		fmt.Fprintf(os.Stderr, "sandbox: setuid(0): %v\n", err)
		return 1
	}

	if cfg.Mode == UnprivilegedContainer {
		log.Info("clone", "unprivileged mode: mounting inside clone child")
		if err := mountTheWorld(log, cfg, defaultDest); err != nil {
			fmt.Fprintf(os.Stderr, "sandbox: mount the world: %v\n", err)
			return 1
		}
	}

	code, err := EnterSandbox(log, cfg, defaultDest)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sandbox: enter sandbox: %v\n", err)
		return 1
	}
	return code
}

func encodeConfig(cfg *SessionConfig) (string, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func decodeConfig(encoded string) (*SessionConfig, error) {
	if encoded == "" {
		return nil, fmt.Errorf("missing %s", reexecConfigEnv)
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("base64 decode: %w", err)
	}
	var cfg SessionConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("json decode: %w", err)
	}
	return &cfg, nil
}
