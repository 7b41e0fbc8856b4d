//go:build linux

package server

import (
	"os/exec"
	"syscall"
)

// setPlatformProcessAttrs starts the client in its own process group. Its
// output is left nil, which exec connects to the null device.
func setPlatformProcessAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}
