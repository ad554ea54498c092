package config

import (
	"os"
	"path/filepath"
	"time"
)

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags, config file parsing, and environment variable
// loading.

const (
	// DefaultHost is the account service host.
	DefaultHost = "127.0.0.1"

	// DefaultPort is the account service port.
	DefaultPort = 7000

	// DefaultSSHPort is the standard SSH port.
	DefaultSSHPort = 22

	// DefaultConnTimeout is the TCP/SSH connection timeout.
	DefaultConnTimeout = 30 * time.Second

	// DefaultRequestTimeout bounds a single request/response exchange.
	DefaultRequestTimeout = 10 * time.Second

	// DefaultLoginInterval and DefaultLoginBurst shape the client-side
	// login attempt limiter.
	DefaultLoginInterval = time.Second
	DefaultLoginBurst    = 3

	// DefaultListenAddr is where the mock server binds.
	DefaultListenAddr = "127.0.0.1:7000"

	// Bounds accepted for the mock server's bcrypt cost.
	MinBcryptCost = 4
	MaxBcryptCost = 31

	// EnvPrefix prefixes every environment variable.
	EnvPrefix = "AUTHCLIENT_"
)

// DefaultConfigPath is the config file read when --config is not given.
// It returns "" when the user config directory is unknown.
func DefaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "authclient", "config.toml")
}
