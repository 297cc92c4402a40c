// Package version carries build identification, set via -ldflags at
// release time.
package version

var (
	// Version is the station release version.
	Version = "dev"
	// GitSHA is the git commit SHA the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

// String returns the version with the short commit SHA when one is
// known.
func String() string {
	if GitSHA == "unknown" {
		return Version
	}
	sha := GitSHA
	if len(sha) > 8 {
		sha = sha[:8]
	}
	return Version + "+" + sha
}
