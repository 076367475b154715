package main

import (
	"strings"
	"testing"
)

func TestColorize(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = false
	got := colorize(colorGreen, "done")
	if !strings.HasPrefix(got, colorGreen) || !strings.HasSuffix(got, colorReset) {
		t.Errorf("colorize = %q", got)
	}

	noColor = true
	if got := colorize(colorGreen, "done"); got != "done" {
		t.Errorf("colorize with noColor = %q", got)
	}
}

func TestExcerpt(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short text", 20, "short text"},
		{"one  two\n\nthree", 20, "one two three"},
		{"abcdefghij", 5, "abcde..."},
		{"héllo wörld", 7, "héllo w..."},
		{"", 10, ""},
	}
	for _, tt := range tests {
		if got := excerpt(tt.in, tt.max); got != tt.want {
			t.Errorf("excerpt(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}

func TestCountLabel(t *testing.T) {
	if got := countLabel(7, 100); got != "7" {
		t.Errorf("countLabel(7, 100) = %q", got)
	}
	if got := countLabel(100, 100); got != "100+" {
		t.Errorf("countLabel(100, 100) = %q", got)
	}
	if got := countLabel(250, 100); got != "250+" {
		t.Errorf("countLabel(250, 100) = %q", got)
	}
}
