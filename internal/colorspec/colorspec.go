// Package colorspec maps the named colors and hex codes accepted by a
// command expression's "#COLOR" section to ANSI SGR escapes, and decides
// whether color should be emitted at all.
package colorspec

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// named holds the eight basic ANSI foreground colors plus their bright_
// variants, by name, as termenv/lipgloss 4-bit color indices.
var named = map[string]string{
	"black":          "0",
	"red":            "1",
	"green":          "2",
	"yellow":         "3",
	"blue":           "4",
	"magenta":        "5",
	"cyan":           "6",
	"white":          "7",
	"bright_black":   "8",
	"bright_red":     "9",
	"bright_green":   "10",
	"bright_yellow":  "11",
	"bright_blue":    "12",
	"bright_magenta": "13",
	"bright_cyan":    "14",
	"bright_white":   "15",
}

var hexPattern = regexp.MustCompile(`^[0-9A-Fa-f]{6}$`)

// Spec is a parsed #COLOR section: either a named ANSI color or a 24-bit
// hex RGB value. The zero value means "no color specified".
type Spec struct {
	raw string // original text, for canonical re-rendering
}

// Parse validates a color token (a name from the table or a 6-digit hex
// string) and returns a Spec. It does not resolve ANSI codes eagerly,
// since that depends on the active color profile (see Table.Style).
func Parse(token string) (Spec, error) {
	if token == "" {
		return Spec{}, fmt.Errorf("colorspec: empty color token")
	}
	if _, ok := named[strings.ToLower(token)]; ok {
		return Spec{raw: strings.ToLower(token)}, nil
	}
	if hexPattern.MatchString(token) {
		return Spec{raw: strings.ToUpper(token)}, nil
	}
	return Spec{}, fmt.Errorf("colorspec: %q is not a known color name or a 6-digit hex code", token)
}

// IsZero reports whether the Spec carries no color.
func (s Spec) IsZero() bool { return s.raw == "" }

// String renders the Spec back to its canonical token form.
func (s Spec) String() string { return s.raw }

// lipglossColor resolves the Spec to a lipgloss.Color: a 4-bit ANSI index
// for named colors, or "#RRGGBB" for hex.
func (s Spec) lipglossColor() lipgloss.Color {
	if idx, ok := named[s.raw]; ok {
		return lipgloss.Color(idx)
	}
	return lipgloss.Color("#" + s.raw)
}

// Table decides, for a single run, whether color is enabled and renders
// channel labels accordingly. Colorization applies only to the NAME field
// of an emitted record, never to child program output.
type Table struct {
	enabled bool
}

// NewTable builds a Table for the given output sink. Color is enabled only
// when the sink is a real terminal, NO_COLOR is unset, and forceDisable
// (the --no-color flag) was not passed.
func NewTable(sink *os.File, forceDisable bool) *Table {
	if forceDisable {
		return &Table{enabled: false}
	}
	if os.Getenv("NO_COLOR") != "" {
		return &Table{enabled: false}
	}
	profile := termenv.EnvColorProfile()
	enabled := profile != termenv.Ascii && termenv.NewOutput(sink).Profile != termenv.Ascii
	return &Table{enabled: enabled}
}

// Enabled reports whether this Table will emit ANSI escapes.
func (t *Table) Enabled() bool { return t.enabled }

// Render wraps label in the Spec's SGR escape, or returns it unchanged if
// color is disabled or the Spec carries no color.
func (t *Table) Render(label string, c Spec) string {
	if !t.enabled || c.IsZero() {
		return label
	}
	style := lipgloss.NewStyle().Foreground(c.lipglossColor())
	return style.Render(label)
}

var ansiEscape = regexp.MustCompile("\x1b\\[[0-9;]*[a-zA-Z]")

// StripANSI removes ANSI escape sequences from s. It is used when
// re-emitting child output into a context where embedded color codes from
// the child program itself must not leak through (e.g. a non-TTY sink that
// a downstream tool will parse).
func StripANSI(s string) string {
	return ansiEscape.ReplaceAllString(s, "")
}
