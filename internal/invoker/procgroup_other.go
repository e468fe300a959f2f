//go:build !unix

package invoker

import "os/exec"

func setProcessGroup(cmd *exec.Cmd) {}

// Without process groups only the direct child can be killed.
func killProcessGroup(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}
