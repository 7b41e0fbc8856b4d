//go:build !linux && !windows

package server

import "os/exec"

func setPlatformProcessAttrs(cmd *exec.Cmd) {}
