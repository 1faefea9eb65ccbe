package version

// Set at build time with
//
//	-ldflags "-X github.com/chmdznr/orgphotos/pkg/version.Version=v1.2.0 -X ...GitCommit=$(git rev-parse --short HEAD)"
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)
