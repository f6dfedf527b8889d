// Package supervisor owns one channel's child process: spawning it into its
// own process group, pumping its stdout/stderr line by line, waiting for
// exit, and carrying out the escalating termination protocol on shutdown.
package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/oskarlin/multiplex/internal/colorspec"
	"github.com/oskarlin/multiplex/internal/emitter"
	"github.com/oskarlin/multiplex/internal/eventbus"
	"github.com/oskarlin/multiplex/internal/formula"
)

// DefaultGracePeriod is the wait between each termination escalation step
// when New is not given an explicit override.
const DefaultGracePeriod = 5 * time.Second

// Supervisor runs one channel's process from spawn to exit.
type Supervisor struct {
	Name  string
	Color colorspec.Spec
	f     formula.Formula

	bus   *eventbus.Bus
	em    *emitter.Emitter
	grace time.Duration

	mu      sync.Mutex
	pgid    int
	spawned bool
	done    bool
}

// New creates a Supervisor for channel name, bound to the shared bus and
// emitter. grace is the wait between termination-escalation steps; zero
// selects DefaultGracePeriod.
func New(name string, f formula.Formula, bus *eventbus.Bus, em *emitter.Emitter, grace time.Duration) *Supervisor {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	return &Supervisor{Name: name, Color: f.Color, f: f, bus: bus, em: em, grace: grace}
}

// Run spawns the child, pumps its output, waits for it to exit, and fires
// the corresponding bus signals and emitter records. It returns once the
// child has fully exited (or failed to spawn). endAction reports whether
// the channel carries the `end` action, so the caller knows to request
// shutdown.
func (s *Supervisor) Run(ctx context.Context) (exitCode int, endAction bool) {
	endAction = s.f.HasAction(formula.ActionEnd)

	cmd := exec.Command(s.f.Argv[0], s.f.Argv[1:]...)
	cmd.Env = os.Environ()
	cmd.SysProcAttr = sessionAttr()

	devNull, err := os.Open(os.DevNull)
	if err != nil {
		s.em.Supervisor(fmt.Sprintf("%s: failed to open %s: %v", s.Name, os.DevNull, err))
		s.bus.FireEnded(s.Name, -1)
		return -1, endAction
	}
	defer devNull.Close()
	cmd.Stdin = devNull

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.em.Supervisor(fmt.Sprintf("%s: stdout pipe: %v", s.Name, err))
		s.bus.FireEnded(s.Name, -1)
		return -1, endAction
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		s.em.Supervisor(fmt.Sprintf("%s: stderr pipe: %v", s.Name, err))
		s.bus.FireEnded(s.Name, -1)
		return -1, endAction
	}

	if err := cmd.Start(); err != nil {
		s.em.Supervisor(fmt.Sprintf("%s: spawn failed: %v", s.Name, err))
		s.bus.FireEnded(s.Name, -1)
		return -1, endAction
	}

	s.mu.Lock()
	s.spawned = true
	if pgid, err := getpgid(cmd.Process.Pid); err == nil {
		s.pgid = pgid
	} else {
		s.pgid = cmd.Process.Pid
	}
	s.mu.Unlock()

	s.bus.FireStarted(s.Name)
	s.em.Spawn(s.Name, s.Color, s.f.Argv)

	var wg sync.WaitGroup
	if !s.f.SuppressOut() {
		wg.Add(1)
		go func() { defer wg.Done(); s.pump(stdout, s.em.Stdout) }()
	} else {
		wg.Add(1)
		go func() { defer wg.Done(); drain(stdout) }()
	}
	if !s.f.SuppressErr() {
		wg.Add(1)
		go func() { defer wg.Done(); s.pump(stderr, s.em.Stderr) }()
	} else {
		wg.Add(1)
		go func() { defer wg.Done(); drain(stderr) }()
	}
	wg.Wait()

	waitErr := cmd.Wait()
	code := exitCodeOf(waitErr)

	s.mu.Lock()
	s.done = true
	s.mu.Unlock()

	s.em.Exit(s.Name, s.Color, code)
	s.bus.FireEnded(s.Name, code)

	return code, endAction
}

// pump reads line, line from r and hands each complete line to sink,
// tagged with this channel's name and color. A final partial line is
// flushed on EOF. Non-UTF-8 bytes pass through unchanged; bufio.Scanner
// does not validate encoding, so they never crash the pump.
func (s *Supervisor) pump(r io.Reader, sink func(name string, c colorspec.Spec, line string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		sink(s.Name, s.Color, scanner.Text())
	}
}

func drain(r io.Reader) {
	_, _ = io.Copy(io.Discard, r)
}

// Terminate runs the escalating termination protocol: SIGINT, wait up to
// the configured grace period, SIGTERM, wait again, SIGKILL. It returns as
// soon as the child is observed to have exited, or right after SIGKILL is
// sent; if the child never spawned there is nothing to terminate and it
// returns at once. Safe to call even if Run has already returned (no-op).
func (s *Supervisor) Terminate(ctx context.Context) {
	s.mu.Lock()
	pgid, spawned := s.pgid, s.spawned
	s.mu.Unlock()
	if !spawned {
		return
	}

	for _, sig := range []unixSignal{sigINT, sigTERM, sigKILL} {
		if s.isDone() {
			return
		}
		if err := signalGroup(pgid, sig); err != nil {
			s.em.Supervisor(fmt.Sprintf("%s: signal delivery failed: %v", s.Name, err))
		}
		if sig == sigKILL {
			return
		}
		if s.waitDone(s.grace) {
			return
		}
	}
}

// PGID returns the process group ID of the spawned child and whether one
// was ever spawned. Safe to call concurrently with Run and Terminate.
func (s *Supervisor) PGID() (pgid int, spawned bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pgid, s.spawned
}

func (s *Supervisor) isDone() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// waitDone polls until Run observes the child's exit or the grace period
// elapses, returning true if it exited within the window.
func (s *Supervisor) waitDone(grace time.Duration) bool {
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if s.isDone() {
			return true
		}
		time.Sleep(25 * time.Millisecond)
	}
	return s.isDone()
}
