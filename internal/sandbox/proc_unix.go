//go:build unix

package sandbox

import (
	"os/exec"
	"syscall"
)

// configureProcessGroup starts the child in its own process group so a
// timeout kills everything it spawned, not just the direct child.
func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
