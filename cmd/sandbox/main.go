// Command sandbox is a self-contained Linux process isolator: it
// assembles an ephemeral, writable filesystem view by overlaying a base
// root filesystem and any number of read-only shards with throwaway
// upper layers, then hands control to a user-specified program inside a
// chroot with PID, mount, and (in the usual case) user namespaces
// applied. See --help for the command-line surface.
package main

import (
	"fmt"
	"os"

	"github.com/reprobuild/sandbox/lib/sandbox"
	"golang.org/x/sys/unix"
)

func main() {
	os.Exit(run())
}

func run() int {
	// The clone harness re-execs this same binary into new namespaces;
	// recognize that re-invocation before doing anything else, since it
	// never goes through argument parsing or mode detection again (its
	// SessionConfig already crossed the clone boundary as an env var).
	if sandbox.IsReexecChild(os.Args) {
		return sandbox.RunReexecChild()
	}

	mode := sandbox.DetectMode(os.Getpid(), os.Geteuid())
	uid, gid := sandbox.ResolveIdentity(sandbox.OSLookupEnv, os.Getuid(), os.Getgid())

	if mode == sandbox.Init {
		return runInit(uid, gid)
	}
	return runContainer(mode, uid, gid)
}

// runContainer handles PrivilegedContainer and UnprivilegedContainer:
// argv comes from the OS, and the clone harness orchestrates the
// PID/mount/user namespace handshake described in spec.md §4.4.
func runContainer(mode sandbox.Mode, uid, gid int) int {
	cfg, err := sandbox.ParseArgs(os.Args[1:], mode, uid, gid, os.Stderr)
	if err != nil {
		return 1
	}

	log := sandbox.NewLogger(os.Stderr, cfg.Verbose, cfg.RunID)
	log.Infof("main", "running in %s mode (uid=%d gid=%d)", cfg.Mode, cfg.UID, cfg.GID)

	term := sandbox.SaveTerminalPgrp()
	defer sandbox.RestoreTerminalPgrp(term)

	code, err := sandbox.RunContainerMode(log, cfg)
	if err != nil {
		log.Error("main", "sandbox run failed", err)
		return 1
	}
	return code
}

// runInit handles Init mode: this process is PID 1, typically freshly
// booted inside a VM. Argv/env arrive over the paravirtual transport
// channel instead of the OS argv, the mount composer and sandbox entry
// run directly in this process (there is no clone harness: PID 1 of the
// machine already has every namespace it needs), and the process powers
// the machine off on exit instead of returning an exit code to a shell.
func runInit(uid, gid int) int {
	// Take over the controlling terminal before anything else touches
	// it, matching sandbox.c's init-mode startup.
	if _, err := unix.Setsid(); err != nil {
		fmt.Fprintf(os.Stderr, "sandbox: setsid: %v\n", err)
	}

	log := sandbox.NewConsoleLogger(true, sandbox.NewRunID())

	argv, env, verbose := sandbox.ReadTransportConfig(log)
	if len(argv) == 0 {
		log.Error("main", "transport yielded empty argv", nil)
		return 1
	}

	cfg := &sandbox.SessionConfig{
		RootDir:     "",
		UID:         uid,
		GID:         gid,
		Argv:        argv,
		Env:         env,
		Verbose:     verbose,
		Mode:        sandbox.Init,
		OverlaySize: sandbox.DefaultOverlaySize,
		RunID:       sandbox.NewRunID(),
	}
	log = sandbox.NewConsoleLogger(cfg.Verbose, cfg.RunID)

	if err := sandbox.TakeoverConsole(); err != nil {
		log.Error("main", "take over console", err)
	}

	code, err := sandbox.RunInitMode(log, cfg)
	if err != nil {
		log.Error("main", "init mode run failed", err)
	}
	_ = code // init mode's exit path is PowerOff, not a returned status

	if err := sandbox.PowerOff(); err != nil {
		log.Error("main", "power off", err)
		return 1
	}
	return 0
}
