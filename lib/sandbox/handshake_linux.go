package sandbox

import (
	"fmt"
	"os"
)

// handshake is the pair of pipes the parent and the re-exec'd child use
// to serialize user-namespace setup around the clone boundary: the
// child cannot become uid 0 inside its own namespace until the parent
// has written its uid_map/gid_map, and the parent cannot write those
// maps until it knows the child's pid, which only exists once the
// child process has started. Two one-way pipes turn that dependency
// into a pair of blocking reads, the same discipline sandbox.c uses
// (named there child_block and parent_block).
type handshake struct {
	childBlockR, childBlockW   *os.File
	parentBlockR, parentBlockW *os.File
}

// newHandshake creates the two pipes backing the handshake. Per
// spec.md §4.7, pipe creation is a hard assertion: failure aborts
// immediately rather than returning an error a caller might treat as
// recoverable.
func newHandshake() (*handshake, error) {
	childR, childW, err := os.Pipe()
	must("create child_block pipe", err)
	parentR, parentW, err := os.Pipe()
	must("create parent_block pipe", err)
	return &handshake{
		childBlockR:  childR,
		childBlockW:  childW,
		parentBlockR: parentR,
		parentBlockW: parentW,
	}, nil
}

// childExtraFiles returns the two file descriptors the child needs,
// in the fixed order the child-side re-exec looks for them at fd 3 and
// fd 4 (see ExtraFiles in exec.Cmd and childHandshakeFiles below).
func (h *handshake) childExtraFiles() []*os.File {
	return []*os.File{h.childBlockR, h.parentBlockW}
}

// closeChildEnds closes the parent's copies of the file descriptors
// that were duplicated into the child, which is required for EOF-based
// signaling to work: as long as any writer copy of parentBlockW stays
// open, the parent's read of parentBlockR never sees EOF.
func (h *handshake) closeChildEnds() {
	h.childBlockR.Close()
	h.parentBlockW.Close()
}

// awaitChildReady blocks until the child has closed its parentBlockW,
// which it does as soon as it has applied PR_SET_DUMPABLE and
// re-armed SIGINT and is ready for its uid/gid maps to be written. The
// expected EOF signal is not an error; any other failure reading the
// handshake byte is a hard assertion per spec.md §4.7.
func (h *handshake) awaitChildReady() error {
	buf := make([]byte, 1)
	_, err := h.parentBlockR.Read(buf)
	if err != nil && err.Error() != "EOF" {
		mustf(err, "wait for child ready")
	}
	return nil
}

// releaseChild closes the parent's childBlockW, which the child is
// blocked reading; the ensuing EOF is the signal to proceed past user
// namespace setup.
func (h *handshake) releaseChild() error {
	return h.childBlockW.Close()
}

// childHandshakeFiles reconstructs the handshake's two child-side ends
// from their known fd numbers inside the re-exec'd child process.
func childHandshakeFiles() (blockR, readyW *os.File) {
	return os.NewFile(3, "child_block_r"), os.NewFile(4, "parent_block_w")
}

// signalReady closes readyW, telling the parent this process has
// finished the setup it must do before user namespace identity maps
// are written (dumpability, signal disposition).
func signalReady(readyW *os.File) error {
	return readyW.Close()
}

// waitForRelease blocks until the parent closes its end of blockR,
// i.e. until the parent has finished writing this process's uid_map
// and gid_map. The expected EOF signal is not an error; any other
// failure reading the handshake byte is a hard assertion per
// spec.md §4.7.
func waitForRelease(blockR *os.File) error {
	buf := make([]byte, 1)
	_, err := blockR.Read(buf)
	if err != nil && err.Error() != "EOF" {
		mustf(err, "wait for parent release")
	}
	return nil
}

// writeIDMaps writes the uid_map/setgroups/gid_map triad for pid,
// mapping container uid/gid 0 to the host's uid/gid. setgroups must be
// disabled before gid_map can be written by an unprivileged process;
// the kernel rejects the write otherwise. Grounded in sandbox.c's
// configure_user_namespace, which writes the identical three files in
// the identical order. Per spec.md §4.7 each write is a hard assertion.
func writeIDMaps(pid, uid, gid int) error {
	writeProcFile(pid, "uid_map", fmt.Sprintf("0 %d 1\n", uid))
	writeProcFile(pid, "setgroups", "deny\n")
	writeProcFile(pid, "gid_map", fmt.Sprintf("0 %d 1\n", gid))
	return nil
}

func writeProcFile(pid int, name, content string) {
	path := fmt.Sprintf("/proc/%d/%s", pid, name)
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	mustf(err, "open %s", path)
	defer f.Close()
	_, err = f.WriteString(content)
	mustf(err, "write %s", path)
}
