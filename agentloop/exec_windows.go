//go:build windows

package agentloop

import (
	"os/exec"
	"time"
)

func configureProcess(cmd *exec.Cmd) {
	cmd.WaitDelay = 2 * time.Second
}

func shellCommand(command string) (string, []string) {
	return "cmd.exe", []string{"/c", command}
}
