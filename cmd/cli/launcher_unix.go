//go:build !windows

package main

import (
	"os/exec"
	"syscall"
)

// detachServer puts the server in its own session so it outlives the CLI
func detachServer(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
