//go:build unix

package process

import (
	"os/exec"
	"syscall"
)

// ownProcessGroup starts the tool in a new process group so a terminal
// interrupt aimed at the converter does not reach it.
func ownProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
