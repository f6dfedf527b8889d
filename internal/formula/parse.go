package formula

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/shlex"
	"github.com/oskarlin/multiplex/internal/colorspec"
	"github.com/oskarlin/multiplex/internal/timeparse"
)

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_]+`)

// Parse decodes one positional CLI argument into a Formula:
// [KEY][#COLOR][+DELAY...][:DEP...][|ACTION...]=CMD.
func Parse(raw string) (Formula, error) {
	prefix, command, err := splitAssignment(raw)
	if err != nil {
		return Formula{}, err
	}

	f := Formula{Actions: make(map[Action]bool)}

	rest := prefix

	if m := keyPattern.FindString(rest); m != "" {
		f.Name = m
		rest = rest[len(m):]
	}

	if strings.HasPrefix(rest, "#") {
		token, tail := takeSection(rest[1:])
		if token == "" {
			return Formula{}, fmt.Errorf("formula: %q: empty color section", raw)
		}
		c, err := colorspec.Parse(token)
		if err != nil {
			return Formula{}, fmt.Errorf("formula: %q: %w", raw, err)
		}
		f.Color = c
		f.HasColor = true
		rest = tail
	}

	for strings.HasPrefix(rest, "+") {
		token, tail := takeSection(rest[1:])
		d, err := timeparse.Parse(token)
		if err != nil {
			return Formula{}, fmt.Errorf("formula: %q: bad delay %q: %w", raw, token, err)
		}
		f.StartDelays = append(f.StartDelays, d)
		rest = tail
	}

	for strings.HasPrefix(rest, ":") {
		token, tail := takeDepSection(rest[1:])
		dep, err := parseDep(token)
		if err != nil {
			return Formula{}, fmt.Errorf("formula: %q: bad dependency %q: %w", raw, token, err)
		}
		f.Deps = append(f.Deps, dep)
		rest = tail
	}

	for strings.HasPrefix(rest, "|") {
		token, tail := takeSection(rest[1:])
		a := Action(strings.ToLower(token))
		if !validActions[a] {
			return Formula{}, fmt.Errorf("formula: %q: unknown action %q", raw, token)
		}
		f.Actions[a] = true
		rest = tail
	}

	if rest != "" {
		return Formula{}, fmt.Errorf("formula: %q: unrecognized prefix section %q", raw, rest)
	}

	argv, err := shlex.Split(command)
	if err != nil {
		return Formula{}, fmt.Errorf("formula: %q: %w", raw, err)
	}
	if len(argv) == 0 {
		return Formula{}, fmt.Errorf("formula: %q: empty command", raw)
	}
	f.Argv = argv

	return f, nil
}

// splitAssignment finds the first unescaped, unquoted '=' in raw and splits
// it into prefix and command. If no such '=' exists, the whole string is the
// command and the prefix is empty.
func splitAssignment(raw string) (prefix, command string, err error) {
	var quote byte
	escaped := false
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case c == '\\' && quote != '\'':
			escaped = true
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '=':
			return raw[:i], raw[i+1:], nil
		}
	}
	if quote != 0 {
		return "", "", fmt.Errorf("formula: %q: unterminated quote", raw)
	}
	return "", raw, nil
}

// takeSection reads s up to (but not including) the next unconsumed section
// delimiter (#, +, :, |) or end of string, and returns the token and the
// untouched remainder starting at that delimiter.
func takeSection(s string) (token, rest string) {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '#', '+', ':', '|':
			return s[:i], s[i:]
		}
	}
	return s, ""
}

// takeDepSection reads s up to the next ':' or '|' (the only delimiters that
// can follow a dep clause) or end of string. Unlike takeSection, it does not
// stop at '+', since a dep's own "+DELAY" suffixes belong to its token.
func takeDepSection(s string) (token, rest string) {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case ':', '|':
			return s[:i], s[i:]
		}
	}
	return s, ""
}

// parseDep decodes one ":DEP" token's body (the text after the leading ':')
// per grammar KEY ("&")? ("+"DELAY)*.
func parseDep(s string) (Dep, error) {
	dep := Dep{On: End}

	target := keyPattern.FindString(s)
	dep.Target = target
	s = s[len(target):]

	if strings.HasPrefix(s, "&") {
		dep.On = Start
		s = s[1:]
	}

	for strings.HasPrefix(s, "+") {
		i := 1
		for i < len(s) && s[i] != '+' {
			i++
		}
		literal := s[1:i]
		d, err := timeparse.Parse(literal)
		if err != nil {
			return Dep{}, err
		}
		dep.After = append(dep.After, d)
		s = s[i:]
	}

	if s != "" {
		return Dep{}, fmt.Errorf("unrecognized dependency tail %q", s)
	}

	return dep, nil
}
