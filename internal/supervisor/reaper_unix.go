//go:build !windows

package supervisor

import (
	"os/exec"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// ReapAction describes one orphan found and signaled during a final scan.
type ReapAction struct {
	PID    int
	Signal string
}

// Reaper performs a best-effort final scan for descendants of a supervised
// child that were re-parented to init after their original parent (the
// child, or something it forked) exited. It shells out to ps since Go has
// no portable /proc-free way to enumerate a process tree; on any failure it
// logs nothing itself and returns an empty result, leaving it to the caller
// to log and move on.
type Reaper struct {
	// OriginalPGIDs are the process-group IDs of channels this run spawned.
	OriginalPGIDs []int
}

// Run sends SIGKILL to every process whose PGID matches one of
// OriginalPGIDs. It does not check whether a matching process is still
// reachable from a live tracked child.
func (r *Reaper) Run() []ReapAction {
	if len(r.OriginalPGIDs) == 0 {
		return nil
	}
	out, err := exec.Command("ps", "-axo", "pid,pgid").Output()
	if err != nil {
		return nil
	}

	want := make(map[int]bool, len(r.OriginalPGIDs))
	for _, pgid := range r.OriginalPGIDs {
		want[pgid] = true
	}

	var actions []ReapAction
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		pid, errPID := strconv.Atoi(fields[0])
		pgid, errPGID := strconv.Atoi(fields[1])
		if errPID != nil || errPGID != nil || !want[pgid] {
			continue
		}
		if err := unix.Kill(pid, unix.SIGKILL); err == nil {
			actions = append(actions, ReapAction{PID: pid, Signal: "SIGKILL"})
		}
	}
	return actions
}
