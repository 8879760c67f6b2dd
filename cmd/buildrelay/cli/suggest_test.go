// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"testing"

	"github.com/spf13/pflag"
)

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"", "abc", 3},
		{"abc", "", 3},
		{"abc", "abd", 1},
		{"abc", "ab", 1},
		{"abc", "bac", 2},
		{"kitten", "sitting", 3},
		{"history", "histroy", 2},
	}
	for _, test := range tests {
		if got := levenshtein(test.a, test.b); got != test.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", test.a, test.b, got, test.want)
		}
	}
}

func TestSuggestCommand(t *testing.T) {
	commands := []*Command{{Name: "run"}, {Name: "serve"}, {Name: "keygen"}}
	tests := []struct{ input, want string }{
		{"rn", "run"},
		{"serv", "serve"},
		{"keygne", "keygen"},
		{"deploy-everything", ""},
	}
	for _, test := range tests {
		if got := suggestCommand(test.input, commands); got != test.want {
			t.Errorf("suggestCommand(%q) = %q, want %q", test.input, got, test.want)
		}
	}
}

func TestSuggestFlag(t *testing.T) {
	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flagSet.String("config", "", "")
	flagSet.String("log-level", "", "")

	if got := suggestFlag([]string{"--confg=x"}, flagSet); got != "--config" {
		t.Errorf("suggestFlag(--confg) = %q", got)
	}
	if got := suggestFlag([]string{"--config", "x", "--unrelated-flag"}, flagSet); got != "" {
		t.Errorf("suggestFlag(--unrelated-flag) = %q, want none", got)
	}
}
