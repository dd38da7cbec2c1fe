package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrimQuotes(t *testing.T) {
	for in, want := range map[string]string{
		"":                     "",
		"maps/cave.png":        "maps/cave.png",
		`"maps/cave.png"`:      "maps/cave.png",
		`""`:                   "",
		`'robot1'`:             `'robot1'`,
		`snap"shot`:            `snap"shot`,
		`"out/with space.ppm"`: "out/with space.ppm",
	} {
		assert.Equal(t, want, TrimQuotes(in), "input %q", in)
	}
}

func TestFixEscapeQuotes(t *testing.T) {
	for in, want := range map[string]string{
		"":                    "",
		"battery low":         "battery low",
		`said ""stop""`:       `said "stop"`,
		`a""""b`:              `a""b`,
		`"already" unescaped`: `"already" unescaped`,
	} {
		assert.Equal(t, want, FixEscapeQuotes(in), "input %q", in)
	}
}

func TestSplitFields(t *testing.T) {
	tests := []struct {
		name string
		in   string
		sep  rune
		want []string
	}{
		{"empty", "", FieldSeparator, nil},
		{"bare command", "status", FieldSeparator, []string{"status"}},
		{"position command", "position.cmd|robot1|250|-30", FieldSeparator, []string{"position.cmd", "robot1", "250", "-30"}},
		{"empty field kept", "drag||1", FieldSeparator, []string{"drag", "", "1"}},
		{"trailing separator", "release|", FieldSeparator, []string{"release", ""}},
		{"quoted separator", `log|client|warn|"a|b"`, FieldSeparator, []string{"log", "client", "warn", `"a|b"`}},
		{"other separator", "1.5,2,0.25", ',', []string{"1.5", "2", "0.25"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitFields(tt.in, tt.sep))
		})
	}
}
