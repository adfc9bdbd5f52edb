package version

// Current defines the application version.
// It defaults to "dev" and is overwritten at build time using -ldflags.
var Current = "dev"

// Commit is the source revision, injected via -ldflags.
var Commit = "none"

const AppName = "hybridcost"

// String renders the version for CLI and HTTP output.
func String() string {
	return AppName + " " + Current + " (" + Commit + ")"
}
