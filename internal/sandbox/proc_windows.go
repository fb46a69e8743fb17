//go:build windows

package sandbox

import (
	"os/exec"
	"syscall"
)

// configureProcessGroup starts the child in a new process group. Windows
// has no group kill, so only the direct child is killed on timeout.
func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}
