// Package runctl implements the run controller: the component that carries
// a set of command expressions through parse, launch, run, and shutdown
// phases for N concurrently supervised channels.
package runctl

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/oskarlin/multiplex/internal/colorspec"
	"github.com/oskarlin/multiplex/internal/depgraph"
	"github.com/oskarlin/multiplex/internal/emitter"
	"github.com/oskarlin/multiplex/internal/eventbus"
	"github.com/oskarlin/multiplex/internal/formula"
	"github.com/oskarlin/multiplex/internal/scheduler"
	"github.com/oskarlin/multiplex/internal/supervisor"
)

// Exit codes returned by Run.
const (
	ExitOK        = 0
	ExitChildFail = 1
	ExitParseErr  = 2
	ExitTimeout   = 124
	ExitSIGINT    = 130
)

// Options configures one run.
type Options struct {
	Timeout  time.Duration // 0 means no timeout
	Grace    time.Duration // 0 selects supervisor.DefaultGracePeriod
	TimeMode emitter.TimeMode
	NoColor  bool
	Stdout   *os.File
	RunID    string // if non-empty, emitted as a "*" startup record before launch
}

// channel is the controller's bookkeeping for one parsed Formula.
type channel struct {
	name string
	f    formula.Formula
	sup  *supervisor.Supervisor

	mu      sync.Mutex
	started bool
	ended   bool
	code    int
	endedAt time.Time
}

// ChannelSnapshot is a point-in-time, read-only view of one channel's
// progress, used by callers (the --record manifest writer) that need a
// summary after Run returns.
type ChannelSnapshot struct {
	Name    string
	Argv    []string
	Started bool
	Ended   bool
	Code    int
	EndedAt time.Time
}

// Snapshot reports the current state of every channel. Safe to call once
// Run has returned.
func (c *Controller) Snapshot() []ChannelSnapshot {
	out := make([]ChannelSnapshot, len(c.channels))
	for i, ch := range c.channels {
		ch.mu.Lock()
		out[i] = ChannelSnapshot{
			Name:    ch.name,
			Argv:    ch.f.Argv,
			Started: ch.started,
			Ended:   ch.ended,
			Code:    ch.code,
			EndedAt: ch.endedAt,
		}
		ch.mu.Unlock()
	}
	return out
}

// Controller runs a batch of command expressions to completion.
type Controller struct {
	opts  Options
	bus   *eventbus.Bus
	em    *emitter.Emitter
	start time.Time

	mu       sync.Mutex
	channels []*channel

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
	reason       string // "sigint", "timeout", or ""
}

// New builds a Controller. It does not start anything.
func New(opts Options) *Controller {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	start := time.Now()
	table := colorspec.NewTable(opts.Stdout, opts.NoColor)
	return &Controller{
		opts:       opts,
		bus:        eventbus.New(),
		em:         emitter.New(opts.Stdout, opts.TimeMode, start, table),
		start:      start,
		shutdownCh: make(chan struct{}),
	}
}

// ParseAll runs the parse phase: parse every argument, auto-assign names,
// validate dep targets, and reject END-cycles. On any failure it emits a
// single "*" line identifying the offending argument and returns a non-nil
// error; the caller should exit with ExitParseErr.
func (c *Controller) ParseAll(args []string) error {
	formulas := make([]formula.Formula, len(args))
	for i, arg := range args {
		f, err := formula.Parse(arg)
		if err != nil {
			c.em.Supervisor(fmt.Sprintf("parse error in argument %d: %v", i+1, err))
			return err
		}
		formulas[i] = f
	}

	taken := make(map[string]bool)
	for _, f := range formulas {
		if f.Name != "" {
			if taken[f.Name] {
				err := fmt.Errorf("duplicate channel name %q", f.Name)
				c.em.Supervisor(err.Error())
				return err
			}
			taken[f.Name] = true
		}
	}
	for i := range formulas {
		if formulas[i].Name == "" {
			formulas[i].Name = nextAutoName(taken)
			taken[formulas[i].Name] = true
		}
	}

	graph := depgraph.New()
	for _, f := range formulas {
		graph.AddNode(f.Name)
	}
	names := make(map[string]bool, len(formulas))
	for _, f := range formulas {
		names[f.Name] = true
	}
	for _, f := range formulas {
		for _, dep := range f.Deps {
			if dep.Target == "" {
				continue
			}
			if !names[dep.Target] {
				err := fmt.Errorf("channel %q depends on unknown channel %q", f.Name, dep.Target)
				c.em.Supervisor(err.Error())
				return err
			}
			if dep.On == formula.End {
				if err := graph.AddEndEdge(f.Name, dep.Target); err != nil {
					c.em.Supervisor(fmt.Sprintf("dependency cycle: %v", err))
					return err
				}
			}
		}
	}

	c.channels = make([]*channel, len(formulas))
	for i, f := range formulas {
		ch := &channel{name: f.Name, f: f}
		ch.sup = supervisor.New(f.Name, f, c.bus, c.em, c.opts.Grace)
		c.channels[i] = ch
	}
	return nil
}

// nextAutoName returns the next unused single-letter-or-longer name in the
// sequence A, B, …, Z, AA, AB, …, skipping anything already taken.
func nextAutoName(taken map[string]bool) string {
	for n := 0; ; n++ {
		name := letterName(n)
		if !taken[name] {
			return name
		}
	}
}

func letterName(n int) string {
	var b []byte
	n++
	for n > 0 {
		n--
		b = append([]byte{byte('A' + n%26)}, b...)
		n /= 26
	}
	return string(b)
}

// Run executes the launch, run, and shutdown phases, returning the process
// exit code.
func (c *Controller) Run(ctx context.Context) int {
	if c.opts.RunID != "" {
		c.em.Supervisor("run " + c.opts.RunID)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if c.opts.Timeout > 0 {
		timer := time.AfterFunc(c.opts.Timeout, func() {
			c.requestShutdown("timeout")
			cancel()
		})
		defer timer.Stop()
	}

	go func() {
		<-c.shutdownCh
		cancel()
	}()

	endedCh := make(chan endResult, len(c.channels))
	p := pool.New()
	for _, ch := range c.channels {
		ch := ch
		p.Go(func() {
			c.runChannel(runCtx, ch, endedCh)
		})
	}

	go func() {
		p.Wait()
		close(endedCh)
	}()

	endCount := 0
	var firstEndAction *endResult
	total := len(c.channels)
loop:
	for {
		select {
		case res, ok := <-endedCh:
			if !ok {
				break loop
			}
			endCount++
			if res.endAction && firstEndAction == nil {
				r := res
				firstEndAction = &r
				c.requestShutdown("")
			}
			if endCount == total {
				c.requestShutdown("")
			}
		case <-c.shutdownCh:
			break loop
		}
	}

	c.shutdown(runCtx)

	// Drain any remaining end results so runChannel goroutines don't block
	// forever trying to send.
	go func() {
		for range endedCh {
		}
	}()
	p.Wait()

	return c.exitCode(firstEndAction)
}

type endResult struct {
	name      string
	code      int
	endAction bool
}

// runChannel drives one channel from scheduling through supervision.
func (c *Controller) runChannel(ctx context.Context, ch *channel, out chan<- endResult) {
	if err := scheduler.Await(ctx, c.bus, ch.f); err != nil {
		return // shutdown requested before spawn; channel stays PENDING
	}

	ch.mu.Lock()
	ch.started = true
	ch.mu.Unlock()

	code, endAction := ch.sup.Run(ctx)

	ch.mu.Lock()
	ch.ended = true
	ch.code = code
	ch.endedAt = time.Now()
	ch.mu.Unlock()

	out <- endResult{name: ch.name, code: code, endAction: endAction}
}

// requestShutdown idempotently begins the shutdown phase. reason, if
// non-empty, records why (for exit-code purposes); the first caller's
// reason wins.
func (c *Controller) requestShutdown(reason string) {
	c.shutdownOnce.Do(func() {
		c.mu.Lock()
		c.reason = reason
		c.mu.Unlock()
		close(c.shutdownCh)
	})
}

// RequestShutdown is the external hook used by signal handling.
func (c *Controller) RequestShutdown(reason string) { c.requestShutdown(reason) }

// shutdown invokes the supervisor termination protocol for every channel
// still running, concurrently, and waits for them all to finish.
func (c *Controller) shutdown(ctx context.Context) {
	p := pool.New()
	for _, ch := range c.channels {
		ch.mu.Lock()
		running := ch.started && !ch.ended
		ch.mu.Unlock()
		if !running {
			continue
		}
		ch := ch
		p.Go(func() {
			ch.sup.Terminate(context.Background())
		})
	}
	p.Wait()

	for _, ch := range c.channels {
		ch.mu.Lock()
		started, ended := ch.started, ch.ended
		ch.mu.Unlock()
		if !started {
			c.em.Supervisor(fmt.Sprintf("%s: not started", ch.name))
		} else if !ended {
			c.em.Supervisor(fmt.Sprintf("%s: did not reach ENDED by shutdown", ch.name))
		}
	}

	c.reapOrphans()
}

// reapOrphans runs a best-effort final scan for descendants re-parented
// away from their original channel process group, and logs anything found.
func (c *Controller) reapOrphans() {
	var pgids []int
	for _, ch := range c.channels {
		if pgid, spawned := ch.sup.PGID(); spawned {
			pgids = append(pgids, pgid)
		}
	}
	if len(pgids) == 0 {
		return
	}

	reaper := &supervisor.Reaper{OriginalPGIDs: pgids}
	for _, action := range reaper.Run() {
		c.em.Supervisor(fmt.Sprintf("reaped orphan pid %d with %s", action.PID, action.Signal))
	}
}

// exitCode decides the overall process exit code: an interrupt or timeout
// takes priority, then the "end" channel's own exit code if one fired,
// otherwise 0 if every channel exited zero and 1 if any did not.
func (c *Controller) exitCode(firstEndAction *endResult) int {
	c.mu.Lock()
	reason := c.reason
	c.mu.Unlock()

	switch reason {
	case "sigint":
		return ExitSIGINT
	case "timeout":
		return ExitTimeout
	}

	if firstEndAction != nil {
		return firstEndAction.code
	}

	allZero := true
	for _, ch := range c.channels {
		ch.mu.Lock()
		code, ended := ch.code, ch.ended
		ch.mu.Unlock()
		if ended && code != 0 {
			allZero = false
		}
	}
	if allZero {
		return ExitOK
	}
	return ExitChildFail
}
