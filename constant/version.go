package constant

// Set via -ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

const (
	ConfigFile = AppConfigDir + "/config.yaml"
	SocketPath = RunDir + "/block-ips.sock"
	PIDFile    = RunDir + "/block-ips.pid"
	LockFile   = RunDir + "/block-ips.lock"
)
