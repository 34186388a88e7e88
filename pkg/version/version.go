package version

// Set at build time with -ldflags "-X github.com/charlie0129/mvnd/pkg/version.Version=...".
var (
	Version   = "UNKNOWN"
	GitCommit = "UNKNOWN"
)
