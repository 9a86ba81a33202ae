package config

import (
	"os"
	"strings"
	"unicode"

	"golang.org/x/term"
)

// longest name produced by CleanFileName, in runes
const maxFileNameLen = 200

// CleanFileName turns arbitrary text (document title or id) into a file
// name: separators, reserved and control characters are dropped, runs of
// spaces collapsed, leading dots removed.
func CleanFileName(in string) string {
	drop := string(os.PathSeparator) + string(os.PathListSeparator) + "/" + reservedNameChars
	out := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsSpace(r):
			return ' '
		case strings.ContainsRune(drop, r), unicode.IsControl(r):
			return -1
		}
		return r
	}, in)
	out = strings.TrimLeft(strings.Join(strings.Fields(out), " "), ".")
	if r := []rune(out); len(r) > maxFileNameLen {
		out = strings.TrimSpace(string(r[:maxFileNameLen]))
	}
	if len(out) == 0 {
		out = "_bad_file_name_"
	}
	return out
}

// EnableColorOutput reports whether stream is a terminal able to show
// colors.
func EnableColorOutput(stream *os.File) bool {
	return term.IsTerminal(int(stream.Fd())) && enableVirtualTerminal(stream)
}
