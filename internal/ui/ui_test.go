package ui

import (
	"strings"
	"testing"
)

func TestKeyValuesAligns(t *testing.T) {
	ConfigureColor(false)
	out := KeyValues("  ", KV("pool", "a.example:3333"), KV("algo", "rx/0"), KV("accepted", "12"))

	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3: %q", len(lines), out)
	}
	col := strings.Index(lines[0], "a.example")
	for i, want := range []string{"a.example:3333", "rx/0", "12"} {
		if got := strings.Index(lines[i], want); got != col {
			t.Errorf("line %d value column = %d, want %d (%q)", i, got, col, lines[i])
		}
	}
}

func TestTableContainsCells(t *testing.T) {
	ConfigureColor(false)
	out := Table([]string{"#", "diff"}, [][]string{{"1", "1200"}, {"2", "800"}})
	for _, want := range []string{"#", "diff", "1200", "800"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
}
