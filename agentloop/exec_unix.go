//go:build !windows

package agentloop

import (
	"os/exec"
	"syscall"
	"time"
)

// configureProcess puts the command in its own process group so that
// cancellation kills everything it spawned.
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 2 * time.Second
}

// shellCommand returns the argv that runs command through the user's shell.
func shellCommand(command string) (string, []string) {
	if _, err := exec.LookPath("bash"); err == nil {
		return "bash", []string{"-c", command}
	}
	return "sh", []string{"-c", command}
}
