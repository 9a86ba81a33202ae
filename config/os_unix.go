//go:build !windows

package config

import "os"

// characters not allowed in file names besides path separators
const reservedNameChars = ""

func enableVirtualTerminal(*os.File) bool {
	return true
}
