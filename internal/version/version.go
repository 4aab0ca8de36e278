package version

// Set via ldflags.
var (
	Version = "dev"
	Commit  = "none"
)
