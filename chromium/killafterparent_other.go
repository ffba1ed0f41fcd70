//go:build !linux

package chromium

import "os/exec"

// killAfterParent is a no-op, the browser is killed from the process
// register on forced shutdowns.
func killAfterParent(*exec.Cmd) {}
