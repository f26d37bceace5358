// Package ui renders operator-facing terminal output: result and connection
// tables, key/value blocks and styled status words.
package ui

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/muesli/termenv"
)

const (
	envNoColor = "NO_COLOR"
	envTerm    = "TERM"
)

// Palette.
var (
	purple  = lipgloss.Color("99")
	green   = lipgloss.Color("76")
	red     = lipgloss.Color("204")
	yellow  = lipgloss.Color("214")
	cyan    = lipgloss.Color("44")
	magenta = lipgloss.Color("170")
	dim     = lipgloss.Color("243")
	faint   = lipgloss.Color("238")
)

var (
	AccentStyle  = lipgloss.NewStyle().Foreground(purple)
	SuccessStyle = lipgloss.NewStyle().Foreground(green).Bold(true)
	ErrorStyle   = lipgloss.NewStyle().Foreground(red).Bold(true)
	WarnStyle    = lipgloss.NewStyle().Foreground(yellow)
	PoolStyle    = lipgloss.NewStyle().Foreground(cyan).Bold(true)
	JobStyle     = lipgloss.NewStyle().Foreground(magenta).Bold(true)
	MutedStyle   = lipgloss.NewStyle().Foreground(dim)
	BoldStyle    = lipgloss.NewStyle().Bold(true)
	LabelStyle   = lipgloss.NewStyle().Foreground(dim)
)

// ConfigureColor selects the colour profile. Colour is off when disabled,
// when NO_COLOR is set or when TERM is "dumb".
func ConfigureColor(enabled bool) {
	if !enabled || os.Getenv(envNoColor) != "" || os.Getenv(envTerm) == "dumb" {
		lipgloss.SetColorProfile(termenv.Ascii)
		return
	}
	lipgloss.SetColorProfile(termenv.ColorProfile())
}

func Accent(s string) string  { return AccentStyle.Render(s) }
func Bold(s string) string    { return BoldStyle.Render(s) }
func Muted(s string) string   { return MutedStyle.Render(s) }
func Success(s string) string { return SuccessStyle.Render(s) }
func Error(s string) string   { return ErrorStyle.Render(s) }
func Warn(s string) string    { return WarnStyle.Render(s) }
func Pool(s string) string    { return PoolStyle.Render(s) }
func Job(s string) string     { return JobStyle.Render(s) }

// Pair holds a key-value pair for KeyValues output.
type Pair struct {
	key   string
	value string
}

// KV creates a key-value pair.
func KV(key, value string) Pair {
	return Pair{key: key, value: value}
}

// KeyValues renders aligned "key:  value" lines with a trailing newline.
func KeyValues(indent string, pairs ...Pair) string {
	maxLen := 0
	for _, p := range pairs {
		if len(p.key) > maxLen {
			maxLen = len(p.key)
		}
	}

	var sb strings.Builder
	for _, p := range pairs {
		label := fmt.Sprintf("%-*s", maxLen+1, p.key+":")
		sb.WriteString(indent + LabelStyle.Render(label) + " " + p.value + "\n")
	}
	return sb.String()
}

// Table renders a table with rounded borders.
func Table(headers []string, rows [][]string) string {
	headerStyle := lipgloss.NewStyle().
		Foreground(purple).
		Bold(true).
		Padding(0, 1)

	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	oddStyle := cellStyle.Foreground(dim)
	evenStyle := cellStyle

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(faint)).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case row%2 == 0:
				return evenStyle
			default:
				return oddStyle
			}
		}).
		Headers(headers...).
		Rows(rows...)

	return t.String()
}
