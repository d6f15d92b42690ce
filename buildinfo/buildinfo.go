package buildinfo

// Set at link time with -ldflags "-X github.com/ozontech/mempool/buildinfo.Version=...".
var (
	Version   = "v0.0.0-dev"
	BuildTime = "unknown"
)
