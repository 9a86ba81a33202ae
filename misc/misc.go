// Package misc keeps build time information about the program.
package misc

// Set at link time with -ldflags "-X shed/misc.version=...".
var (
	appName = "shed"
	version = "dev"
	gitHash = "unknown"
)

func GetAppName() string {
	return appName
}

func GetVersion() string {
	return version
}

func GetGitHash() string {
	return gitHash
}
