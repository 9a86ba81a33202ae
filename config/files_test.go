package config

import (
	"os"
	"strings"
	"testing"
)

func TestCleanFileName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Chapter 1", "Chapter 1"},
		{"separators", "a/b" + string(os.PathListSeparator) + "c", "abc"},
		{"spaces", "  two\t\twords \n", "two words"},
		{"control", "bell\x07", "bell"},
		{"leading dots", "..hidden", "hidden"},
		{"empty", "//", "_bad_file_name_"},
		{"unicode", "Глава первая", "Глава первая"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanFileName(tt.in); got != tt.want {
				t.Errorf("CleanFileName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}

	long := CleanFileName(strings.Repeat("я", 300))
	if n := len([]rune(long)); n != maxFileNameLen {
		t.Errorf("long name has %d runes", n)
	}
}
