// Package config defines the runtime configuration for authclient and
// provides helpers for parsing tunnel and account specifications.
package config

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	ncerr "authclient/internal/errors"
	"authclient/util"
)

// Commands.
const (
	CmdLogin    = "login"
	CmdPasswd   = "passwd"
	CmdScenario = "scenario"
	CmdServe    = "serve"
)

// Commands lists every command in help order.
var Commands = []string{CmdLogin, CmdPasswd, CmdScenario, CmdServe}

// Config holds every tuneable for one authclient run.
type Config struct {
	Command    string
	ConfigFile string

	// ── Account service ──────────────────────────────────────────────
	Host    string
	Port    int
	Timeout time.Duration // dial timeout
	Request time.Duration // per-request deadline, 0 = none

	// ── SSH tunnel ───────────────────────────────────────────────────
	TunnelSpec     string // raw user@host[:port] from -T
	TunnelEnabled  bool
	TunnelUser     string
	TunnelHost     string
	TunnelPort     int
	SSHKeyPath     string
	SSHPassword    bool // true → prompt interactively
	UseSSHAgent    bool
	StrictHostKey  bool
	KnownHostsPath string

	// ── Account ──────────────────────────────────────────────────────
	UserID        string
	Password      string
	NewPassword   string
	LoginInterval time.Duration
	LoginBurst    int

	// ── Mock server ──────────────────────────────────────────────────
	ListenAddr string
	DBPath     string // empty → in-memory store
	BcryptCost int    // 0 → bcrypt default
	Accounts   []string

	// ── Output ───────────────────────────────────────────────────────
	Verbose int
	DryRun  bool
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		Host:          DefaultHost,
		Port:          DefaultPort,
		Timeout:       DefaultConnTimeout,
		Request:       DefaultRequestTimeout,
		TunnelPort:    DefaultSSHPort,
		LoginInterval: DefaultLoginInterval,
		LoginBurst:    DefaultLoginBurst,
		ListenAddr:    DefaultListenAddr,
	}
}

// Address is the account service's host:port.
func (c *Config) Address() string {
	return util.FormatAddr(c.Host, c.Port)
}

// ApplyTunnelSpec splits TunnelSpec into the tunnel fields and enables
// the tunnel.  An empty spec leaves the tunnel as it is.
func (c *Config) ApplyTunnelSpec() error {
	if c.TunnelSpec == "" {
		return nil
	}
	user, host, port, err := ParseTunnelSpec(c.TunnelSpec)
	if err != nil {
		return &ncerr.ConfigError{Field: "tunnel", Value: c.TunnelSpec, Message: err.Error()}
	}
	c.TunnelEnabled = true
	c.TunnelUser, c.TunnelHost, c.TunnelPort = user, host, port
	return nil
}

// ── Tunnel-spec parser ───────────────────────────────────────────────

// tunnelRe matches [user@]host[:port].
var tunnelRe = regexp.MustCompile(`^(?:([^@]+)@)?([^:]+)(?::(\d+))?$`)

// ParseTunnelSpec extracts user, host, and port from a string such as
// "admin@bastion.example.com:2222".  Port defaults to 22.
func ParseTunnelSpec(spec string) (user, host string, port int, err error) {
	m := tunnelRe.FindStringSubmatch(spec)
	if m == nil {
		return "", "", 0, fmt.Errorf("invalid tunnel spec %q – expected [user@]host[:port]", spec)
	}
	user = m[1]
	host = m[2]
	port = DefaultSSHPort
	if m[3] != "" {
		port, err = strconv.Atoi(m[3])
		if err != nil || port < 1 || port > 65535 {
			return "", "", 0, fmt.Errorf("invalid tunnel port %q", m[3])
		}
	}
	if host == "" {
		return "", "", 0, fmt.Errorf("tunnel host is required")
	}
	return user, host, port, nil
}

// ── Account specs ────────────────────────────────────────────────────

// AccountSpec is a mock server account from "id:password[:name[:role]]".
type AccountSpec struct {
	UserID   string
	Password string
	UserName string
	Role     string
}

// ParseAccountSpec parses "id:password[:name[:role]]".
func ParseAccountSpec(spec string) (AccountSpec, error) {
	parts := strings.SplitN(spec, ":", 4)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return AccountSpec{}, fmt.Errorf("invalid account %q – expected id:password[:name[:role]]", spec)
	}
	a := AccountSpec{UserID: parts[0], Password: parts[1]}
	if len(parts) > 2 {
		a.UserName = parts[2]
	}
	if len(parts) > 3 {
		a.Role = parts[3]
	}
	return a, nil
}

// AccountSpecs parses every entry of Accounts.
func (c *Config) AccountSpecs() ([]AccountSpec, error) {
	out := make([]AccountSpec, 0, len(c.Accounts))
	for _, s := range c.Accounts {
		a, err := ParseAccountSpec(s)
		if err != nil {
			return nil, &ncerr.ConfigError{Field: "account", Value: s, Message: err.Error()}
		}
		out = append(out, a)
	}
	return out, nil
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks that the configuration is internally consistent for
// its Command.  Passwords are not checked; they may still be prompted
// for.
func (c *Config) Validate() error {
	switch c.Command {
	case CmdLogin, CmdPasswd, CmdScenario:
		return c.validateClient()
	case CmdServe:
		return c.validateServe()
	case "":
		return &ncerr.ConfigError{
			Field:   "command",
			Message: "a command is required",
			Hint:    "one of: " + strings.Join(Commands, ", "),
		}
	}
	return &ncerr.ConfigError{
		Field:   "command",
		Value:   c.Command,
		Message: "unknown command",
		Hint:    "one of: " + strings.Join(Commands, ", "),
	}
}

func (c *Config) validateClient() error {
	if c.Host == "" {
		return &ncerr.ConfigError{Field: "host", Message: "account service host is required"}
	}
	if c.Port < 1 || c.Port > 65535 {
		return &ncerr.ConfigError{Field: "port", Value: c.Port, Message: "port out of range 1-65535"}
	}
	if c.UserID == "" {
		return &ncerr.ConfigError{
			Field:   "user",
			Message: "user id is required",
			Hint:    "pass --user or set AUTHCLIENT_USER",
		}
	}
	if c.Timeout < 0 {
		return &ncerr.ConfigError{Field: "timeout", Value: c.Timeout, Message: "must not be negative"}
	}
	if c.Request < 0 {
		return &ncerr.ConfigError{Field: "request-timeout", Value: c.Request, Message: "must not be negative"}
	}
	if c.LoginInterval < 0 || c.LoginBurst < 0 {
		return &ncerr.ConfigError{Field: "login-interval", Value: c.LoginInterval, Message: "login rate must not be negative"}
	}
	if c.TunnelEnabled && c.TunnelHost == "" {
		return &ncerr.ConfigError{Field: "tunnel", Message: "tunnel host is required"}
	}
	if c.Command == CmdScenario && c.NewPassword != "" && c.NewPassword == c.Password {
		return &ncerr.ConfigError{
			Field:   "new-password",
			Message: "must differ from the current password",
		}
	}
	return nil
}

func (c *Config) validateServe() error {
	if c.TunnelEnabled {
		return &ncerr.ConfigError{
			Field:   "tunnel",
			Value:   c.TunnelSpec,
			Message: "serve does not use an SSH tunnel",
		}
	}
	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return &ncerr.ConfigError{
			Field:   "listen",
			Value:   c.ListenAddr,
			Message: err.Error(),
			Hint:    "use host:port, e.g. 127.0.0.1:7000",
		}
	}
	if c.BcryptCost != 0 && (c.BcryptCost < MinBcryptCost || c.BcryptCost > MaxBcryptCost) {
		return &ncerr.ConfigError{
			Field:   "bcrypt-cost",
			Value:   c.BcryptCost,
			Message: fmt.Sprintf("must be between %d and %d", MinBcryptCost, MaxBcryptCost),
		}
	}
	if _, err := c.AccountSpecs(); err != nil {
		return err
	}
	return nil
}
