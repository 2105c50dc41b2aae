package sandbox

import (
	"os/signal"

	"golang.org/x/sys/unix"
)

// terminalState is what SaveTerminalPgrp captures before the sandbox
// takes over the controlling terminal, so it can be handed back
// unchanged once the sandboxed program exits.
type terminalState struct {
	pgrp int
	ok   bool
}

// SaveTerminalPgrp records the foreground process group of fd 0, if
// any. Container modes call this before cloning so the original shell's
// job control keeps working once the sandbox exits.
func SaveTerminalPgrp() terminalState {
	pgrp, err := unix.IoctlGetInt(0, unix.TIOCGPGRP)
	if err != nil {
		return terminalState{}
	}
	return terminalState{pgrp: pgrp, ok: true}
}

// RestoreTerminalPgrp hands the terminal's foreground process group
// back. SIGTTOU is ignored first, and stays ignored afterwards, because
// the calling process is not itself in that group, which would otherwise
// stop it when it tries to reassign the terminal (the same reason
// sandbox.c does signal(SIGTTOU, SIG_IGN) immediately beforehand).
func RestoreTerminalPgrp(ts terminalState) {
	if !ts.ok {
		return
	}
	signal.Ignore(unix.SIGTTOU)
	_ = unix.IoctlSetPointerInt(0, unix.TIOCSPGRP, ts.pgrp)
}

// PowerOff syncs pending writes and powers the machine off. Only valid
// in Init mode, once sandboxMain has returned control to main(): there
// is nothing left running inside the VM worth preserving.
func PowerOff() error {
	unix.Sync()
	return unix.Reboot(unix.RB_POWER_OFF)
}
