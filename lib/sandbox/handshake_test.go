package sandbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestHandshake_ChildThenParentOrdering exercises the EOF-on-close
// discipline described in spec.md §4.4 without a real clone(2): it plays
// both roles in-process, in the exact order the real parent and
// re-exec'd child use it in.
func TestHandshake_ChildThenParentOrdering(t *testing.T) {
	hs, err := newHandshake()
	require.NoError(t, err)

	blockR, readyW := hs.childBlockR, hs.parentBlockW

	done := make(chan struct{})
	released := make(chan struct{})

	// Simulate the child: signal ready, then block until released.
	go func() {
		require.NoError(t, signalReady(readyW))
		require.NoError(t, waitForRelease(blockR))
		close(done)
	}()

	// Parent: wait for child readiness, then release it.
	require.NoError(t, hs.awaitChildReady())
	go func() {
		require.NoError(t, hs.releaseChild())
		close(released)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("child never unblocked after release")
	}
	<-released
}

func TestHandshake_CloseChildEndsDoesNotPanic(t *testing.T) {
	hs, err := newHandshake()
	require.NoError(t, err)
	hs.closeChildEnds()
}
