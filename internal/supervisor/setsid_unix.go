//go:build !windows

package supervisor

import "syscall"

// sessionAttr places the child in a new process group with itself as
// leader, so a group-wide signal reaches everything it spawned without
// also reaching the multiplexer itself.
func sessionAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}
