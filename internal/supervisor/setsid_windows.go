//go:build windows

package supervisor

import "syscall"

// sessionAttr is a no-op on Windows: process groups in the POSIX sense do
// not exist, so termination falls back to killing the process directly.
func sessionAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{}
}
