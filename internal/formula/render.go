package formula

import (
	"strconv"
	"strings"
	"time"
)

// String renders f back to its canonical prefix=command form. Re-parsing the
// result yields an equal Formula; the textual form need not match what the
// user originally wrote (e.g. delay literals are normalized to seconds).
func (f Formula) String() string {
	var b strings.Builder
	b.WriteString(f.Name)

	if f.HasColor {
		b.WriteByte('#')
		b.WriteString(f.Color.String())
	}

	for _, d := range f.StartDelays {
		b.WriteByte('+')
		b.WriteString(renderDuration(d))
	}

	for _, dep := range f.Deps {
		b.WriteByte(':')
		b.WriteString(dep.Target)
		if dep.On == Start {
			b.WriteByte('&')
		}
		for _, d := range dep.After {
			b.WriteByte('+')
			b.WriteString(renderDuration(d))
		}
	}

	for _, a := range []Action{ActionEnd, ActionSilent, ActionNoOut, ActionNoErr} {
		if f.Actions[a] {
			b.WriteByte('|')
			b.WriteString(string(a))
		}
	}

	b.WriteByte('=')
	b.WriteString(renderArgv(f.Argv))

	return b.String()
}

// renderDuration writes d as a bare second count, e.g. "1.5s", reparseable
// by timeparse.Parse.
func renderDuration(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64) + "s"
}

func renderArgv(argv []string) string {
	parts := make([]string, len(argv))
	for i, a := range argv {
		parts[i] = quoteArg(a)
	}
	return strings.Join(parts, " ")
}

// quoteArg single-quotes a only when necessary for it to round-trip through
// POSIX-shell-style splitting unchanged.
func quoteArg(a string) string {
	if a == "" {
		return "''"
	}
	if !strings.ContainsAny(a, " \t\n'\"\\$`") {
		return a
	}
	return "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
}
