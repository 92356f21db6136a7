package version

// Version is the current version of Anvil.
// Set using -ldflags "-X github.com/anvilhost/anvil/pkg/version.version=v1.2.3"
var version = "unknown"

func String() string {
	return version
}
