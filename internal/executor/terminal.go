package executor

import (
	"path/filepath"
	"strings"
)

// holdPrefixes keep the window open after the command exits so the user can
// read the package manager's output.
var holdPrefixes = map[string][]string{
	"kitty":     {"--hold"},
	"konsole":   {"--hold", "-e"},
	"alacritty": {"--hold", "-e"},
	"foot":      {"--hold"},
	"xterm":     {"-hold", "-e"},
}

// Headless reports whether terminal means "run without a terminal".
func Headless(terminal string) bool {
	t := strings.TrimSpace(terminal)
	return t == "" || t == "none"
}

// TerminalPrefix returns the argv that runs a command inside terminal.
func TerminalPrefix(terminal string) []string {
	terminal = strings.TrimSpace(terminal)
	hold, ok := holdPrefixes[filepath.Base(terminal)]
	if !ok {
		hold = []string{"-e"}
	}
	return append([]string{terminal}, hold...)
}
