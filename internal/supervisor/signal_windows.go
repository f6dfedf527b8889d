//go:build windows

package supervisor

import "os"

// signalGroup on Windows has no process-group kill primitive available
// through os.Process; termination falls back to killing the child process
// directly regardless of which escalation step requested it.
func signalGroup(pgid int, sig unixSignal) error {
	p, err := os.FindProcess(pgid)
	if err != nil {
		return err
	}
	return p.Kill()
}

func getpgid(pid int) (int, error) {
	return pid, nil
}
