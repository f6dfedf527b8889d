//go:build !windows

package supervisor

import (
	"golang.org/x/sys/unix"
)

// signalGroup sends sig to the child's entire process group. The negative
// pid convention is POSIX kill(2) semantics for "this process group".
func signalGroup(pgid int, sig unixSignal) error {
	return unix.Kill(-pgid, unix.Signal(sig))
}

func getpgid(pid int) (int, error) {
	return unix.Getpgid(pid)
}
