package shim

import (
	"os"
	"strings"
)

// Environment variables read at attach time.
const (
	// EnvIntercept enables interception ("1", "true", "yes", "on").
	// Anything else leaves the client disabled and every call native.
	EnvIntercept = "BRANCHFS_INTERCEPT"

	// EnvAllow is a comma-separated allow list matched against the
	// executable. Empty or "*" allows every program.
	EnvAllow = "BRANCHFS_ALLOW"

	// EnvSocket is the daemon's unix socket path.
	EnvSocket = "BRANCHFS_SOCKET"

	// EnvLog sets the client log level (debug, info, warn, error).
	// Unset means silent.
	EnvLog = "BRANCHFS_LOG"

	// EnvFailFast makes attach failures hard errors instead of a
	// silent fall back to native operation.
	EnvFailFast = "BRANCHFS_FAILFAST"
)

// DefaultSocketPath is used when EnvSocket is unset.
const DefaultSocketPath = "/run/branchfs/branchfsd.sock"

// Config is the client configuration, read once from the environment.
type Config struct {
	Intercept  bool
	Allow      []string
	SocketPath string
	LogLevel   string
	FailFast   bool
}

// ConfigFromEnv builds a Config from the process environment.
func ConfigFromEnv() Config {
	cfg := Config{
		Intercept:  isTruthy(os.Getenv(EnvIntercept)),
		SocketPath: os.Getenv(EnvSocket),
		LogLevel:   strings.ToLower(strings.TrimSpace(os.Getenv(EnvLog))),
		FailFast:   isTruthy(os.Getenv(EnvFailFast)),
	}
	if cfg.SocketPath == "" {
		cfg.SocketPath = DefaultSocketPath
	}
	for _, entry := range strings.Split(os.Getenv(EnvAllow), ",") {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			cfg.Allow = append(cfg.Allow, entry)
		}
	}
	return cfg
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
