package sandbox

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFatalError_ErrorIncludesCallSiteAndErrno(t *testing.T) {
	fe := &FatalError{File: "overlay_linux.go", Line: 42, Op: "mount", Err: errors.New("permission denied")}

	msg := fe.Error()

	assert.Contains(t, msg, "overlay_linux.go:42")
	assert.Contains(t, msg, "mount")
	assert.Contains(t, msg, "permission denied")
}

func TestFatalError_Unwrap(t *testing.T) {
	inner := errors.New("boom")
	fe := &FatalError{Err: inner}

	assert.ErrorIs(t, fe, inner)
}
