//go:build linux

package server

import (
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlatformAttrsLeaveOutputToExec(t *testing.T) {
	cmd := exec.Command("SC2_x64")
	setPlatformProcessAttrs(cmd)

	require.NotNil(t, cmd.SysProcAttr)
	assert.True(t, cmd.SysProcAttr.Setpgid)
	assert.Nil(t, cmd.Stdout)
	assert.Nil(t, cmd.Stderr)
}
