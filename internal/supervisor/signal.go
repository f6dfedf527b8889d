package supervisor

import "syscall"

// unixSignal aliases syscall.Signal; it exists as its own name so the
// windows build (which lacks process groups and ignores intermediate
// escalation steps) can share Terminate's escalation table in supervisor.go
// unmodified.
type unixSignal = syscall.Signal

const (
	sigINT  = syscall.SIGINT
	sigTERM = syscall.SIGTERM
	sigKILL = syscall.SIGKILL
)
