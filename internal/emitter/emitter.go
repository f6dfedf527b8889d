// Package emitter renders lifecycle and I/O records to the structured
// output stream: "[TS|]KIND│NAME│PAYLOAD", one record per line, writes
// serialized so records from concurrent channels never interleave mid-line.
package emitter

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oskarlin/multiplex/internal/colorspec"
)

// Kind is the single-character record discriminator.
type Kind byte

// Record kinds: spawn, stdout line, stderr line, exit, and supervisor message.
const (
	KindSpawn      Kind = '$'
	KindStdout     Kind = '<'
	KindStderr     Kind = '!'
	KindExit       Kind = '='
	KindSupervisor Kind = '*'
)

// TimeMode selects how the optional timestamp field is rendered.
type TimeMode int

const (
	// TimeOff omits the timestamp field entirely.
	TimeOff TimeMode = iota
	// TimeAbsolute prefixes each record with the local wall-clock time.
	TimeAbsolute
	// TimeRelative prefixes each record with the time elapsed since start.
	TimeRelative
)

// Emitter serializes writes to a sink so that concurrent supervisors never
// interleave partial records.
type Emitter struct {
	mu    sync.Mutex
	w     io.Writer
	mode  TimeMode
	start time.Time
	table *colorspec.Table
}

// New builds an Emitter writing to w. start is the program's start time,
// used to compute TimeRelative timestamps.
func New(w io.Writer, mode TimeMode, start time.Time, table *colorspec.Table) *Emitter {
	return &Emitter{w: w, mode: mode, start: start, table: table}
}

// Emit writes one record. name is colorized (if color is enabled and color
// is non-zero) but the rest of the line is not.
func (e *Emitter) Emit(kind Kind, name string, color colorspec.Spec, payload string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	label := name
	if e.table != nil {
		label = e.table.Render(name, color)
	}

	var b []byte
	if ts := e.timestamp(); ts != "" {
		b = append(b, ts...)
		b = append(b, '|')
	}
	b = append(b, byte(kind))
	b = append(b, fieldSep...)
	b = append(b, label...)
	b = append(b, fieldSep...)
	b = append(b, payload...)
	b = append(b, '\n')

	_, _ = e.w.Write(b)
}

// Spawn emits a "$" record with argv joined by spaces.
func (e *Emitter) Spawn(name string, color colorspec.Spec, argv []string) {
	e.Emit(KindSpawn, name, color, joinArgv(argv))
}

// Stdout emits a "<" record for one complete output line. If the sink is
// not colorized (no TTY, NO_COLOR, or --no-color), any ANSI escapes the
// child itself wrote into the line are stripped first, since a downstream
// tool consuming this stream cannot be expected to interpret them.
func (e *Emitter) Stdout(name string, color colorspec.Spec, line string) {
	e.Emit(KindStdout, name, color, e.sanitize(line))
}

// Stderr emits a "!" record for one complete error-output line, subject to
// the same ANSI-stripping rule as Stdout.
func (e *Emitter) Stderr(name string, color colorspec.Spec, line string) {
	e.Emit(KindStderr, name, color, e.sanitize(line))
}

func (e *Emitter) sanitize(line string) string {
	if e.table != nil && e.table.Enabled() {
		return line
	}
	return colorspec.StripANSI(line)
}

// Exit emits an "=" record with the child's decimal exit code.
func (e *Emitter) Exit(name string, color colorspec.Spec, code int) {
	e.Emit(KindExit, name, color, fmt.Sprintf("%d", code))
}

// Supervisor emits a "*" record: a free-text supervisor-level message, not
// attributed to any single channel.
func (e *Emitter) Supervisor(message string) {
	e.Emit(KindSupervisor, "*", colorspec.Spec{}, message)
}

const fieldSep = "│" // │

func (e *Emitter) timestamp() string {
	switch e.mode {
	case TimeAbsolute:
		return time.Now().Format("15:04:05")
	case TimeRelative:
		return formatElapsed(time.Since(e.start))
	default:
		return ""
	}
}

func formatElapsed(d time.Duration) string {
	total := int(d.Seconds())
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func joinArgv(argv []string) string {
	out := ""
	for i, a := range argv {
		if i > 0 {
			out += " "
		}
		out += a
	}
	return out
}
