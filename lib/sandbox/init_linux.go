package sandbox

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// TakeoverConsole makes fd 0 the controlling terminal of this process,
// the "take over the terminal" step sandbox.c performs early in init
// mode so shell job control and signal delivery on the console behave
// normally for whatever runs after it. setsid() must have already
// detached this process from any prior controlling terminal (main()
// calls it before opening the console logger) for TIOCSCTTY to succeed.
func TakeoverConsole() error {
	if err := unix.IoctlSetInt(0, unix.TIOCSCTTY, 1); err != nil {
		return fmt.Errorf("ioctl TIOCSCTTY: %w", err)
	}
	return nil
}

// RunInitMode assembles the mount view and runs the sandboxed program
// directly in this process. Unlike the container modes, Init mode never
// clones: this process is already PID 1 of the whole machine with every
// namespace privilege it could ever be given, so there is nothing for a
// clone harness to set up.
func RunInitMode(log *Logger, cfg *SessionConfig) (int, error) {
	if err := mountTheWorld(log, cfg, defaultDest); err != nil {
		return 0, fmt.Errorf("mount the world: %w", err)
	}
	return EnterSandbox(log, cfg, defaultDest)
}
