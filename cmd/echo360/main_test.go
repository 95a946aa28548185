package main

import (
	"strings"
	"testing"
)

func TestRootCommandTree(t *testing.T) {
	root := newRootCommand()

	want := []string{"serve", "status", "queue", "sync", "retry", "watch", "course", "lecture", "config"}
	have := map[string]bool{}
	for _, cmd := range root.Commands() {
		have[cmd.Name()] = true
	}
	for _, name := range want {
		if !have[name] {
			t.Errorf("missing %q command", name)
		}
	}
}

func TestRenderTable(t *testing.T) {
	out := renderTable(
		[]string{"ID", "Name"},
		[][]string{{"1", "COMP1000"}, {"2", "MATH2000"}},
		[]columnAlignment{alignRight, alignLeft},
	)
	if !strings.Contains(out, "COMP1000") || !strings.Contains(out, "MATH2000") {
		t.Fatalf("rows missing from table:\n%s", out)
	}
	if !strings.Contains(out, "ID") {
		t.Fatalf("header missing from table:\n%s", out)
	}
}

func TestRenderTablePadsShortRows(t *testing.T) {
	out := renderTable(
		[]string{"A", "B", "C"},
		[][]string{{"only"}},
		nil,
	)
	if !strings.Contains(out, "only") {
		t.Fatalf("short row dropped:\n%s", out)
	}
}

func TestMaskSecret(t *testing.T) {
	if got := maskSecret(""); got != "(unset)" {
		t.Fatalf("maskSecret(empty) = %q", got)
	}
	if got := maskSecret("short"); got != "****" {
		t.Fatalf("maskSecret(short) = %q", got)
	}
	got := maskSecret("sk-verylongsecretvalue")
	if !strings.HasPrefix(got, "sk-v") || !strings.HasSuffix(got, "alue") || strings.Contains(got, "longsecret") {
		t.Fatalf("maskSecret(long) = %q", got)
	}
}
