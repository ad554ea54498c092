// Package cmd wires up the CLI flags and dispatches to the client,
// scenario runner and mock server.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	flag "github.com/spf13/pflag"

	"authclient/config"
)

// version is overridable at link time:
//
//	go build -ldflags "-X authclient/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// stdout receives command results; tests replace it.
var stdout io.Writer = os.Stdout //nolint:gochecknoglobals

// Execute parses args and runs the requested command.
func Execute(ctx context.Context, args []string) error {
	// ── defaults < file < env ────────────────────────────────────
	cfg := config.New()
	if path := configFlag(args); path != "" {
		if err := config.LoadFile(cfg, path); err != nil {
			return err
		}
	} else if err := config.LoadDefaultFile(cfg); err != nil {
		return err
	}
	config.LoadFromEnv(cfg)

	// ── flags (defaults are the values loaded so far) ────────────
	fs := flag.NewFlagSet("authclient", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.ConfigFile, "config", cfg.ConfigFile, "TOML config file")

	// ── account service ──────────────────────────────────────────
	fs.StringVarP(&cfg.Host, "host", "H", cfg.Host, "Account service host")
	fs.IntVarP(&cfg.Port, "port", "p", cfg.Port, "Account service port")
	fs.DurationVarP(&cfg.Timeout, "timeout", "w", cfg.Timeout, "Connect timeout")
	fs.DurationVar(&cfg.Request, "request-timeout", cfg.Request, "Per-request timeout (0 = none)")

	// ── SSH tunnel ───────────────────────────────────────────────
	fs.StringVarP(&cfg.TunnelSpec, "tunnel", "T", cfg.TunnelSpec, "SSH tunnel via [user@]host[:port]")
	fs.StringVar(&cfg.SSHKeyPath, "ssh-key", cfg.SSHKeyPath, "SSH private key file")
	fs.BoolVar(&cfg.SSHPassword, "ssh-password", cfg.SSHPassword, "Prompt for SSH password")
	fs.BoolVar(&cfg.UseSSHAgent, "ssh-agent", cfg.UseSSHAgent, "Use SSH agent")
	fs.BoolVar(&cfg.StrictHostKey, "strict-hostkey", cfg.StrictHostKey, "Verify SSH host keys")
	fs.StringVar(&cfg.KnownHostsPath, "known-hosts", cfg.KnownHostsPath, "Custom known_hosts path")

	// ── account ──────────────────────────────────────────────────
	fs.StringVarP(&cfg.UserID, "user", "u", cfg.UserID, "User id")
	fs.StringVar(&cfg.Password, "password", cfg.Password, "Current password (prompted if empty)")
	fs.StringVar(&cfg.NewPassword, "new-password", cfg.NewPassword, "New password (prompted if empty)")
	fs.DurationVar(&cfg.LoginInterval, "login-interval", cfg.LoginInterval, "Minimum spacing of login attempts (0 = unlimited)")
	fs.IntVar(&cfg.LoginBurst, "login-burst", cfg.LoginBurst, "Login attempts allowed back to back")

	// ── mock server ──────────────────────────────────────────────
	fs.StringVarP(&cfg.ListenAddr, "listen", "l", cfg.ListenAddr, "serve: listen address")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "serve: SQLite account database (in-memory if empty)")
	fs.IntVar(&cfg.BcryptCost, "bcrypt-cost", cfg.BcryptCost, "serve: bcrypt cost (0 = default)")
	fs.StringArrayVarP(&cfg.Accounts, "account", "a", cfg.Accounts, "serve: seed account id:password[:name[:role]] (repeatable)")

	// ── output ───────────────────────────────────────────────────
	// CountVarP zeroes its target; keep the env/file level unless -v is given.
	baseVerbose := cfg.Verbose
	fs.CountVarP(&cfg.Verbose, "verbose", "v", "Increase verbosity (repeatable)")
	fs.BoolVarP(&cfg.DryRun, "dry-run", "n", false, "Validate configuration and exit")

	var showVersion, showHelp bool
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !fs.Changed("verbose") {
		cfg.Verbose = baseVerbose
	}

	if showHelp || len(args) == 0 {
		printUsage(fs)
		return nil
	}
	if showVersion {
		fmt.Fprintf(stdout, "authclient %s\n", version)
		return nil
	}

	switch rest := fs.Args(); len(rest) {
	case 0:
	case 1:
		cfg.Command = rest[0]
	default:
		return fmt.Errorf("unexpected arguments after %q: %s", rest[0], strings.Join(rest[1:], " "))
	}

	// ── tunnel spec ──────────────────────────────────────────────
	if err := cfg.ApplyTunnelSpec(); err != nil {
		return err
	}

	// ── validate ─────────────────────────────────────────────────
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.DryRun {
		fmt.Fprintf(stdout, "configuration OK: %s\n", describe(cfg))
		return nil
	}

	return run(ctx, cfg)
}

// ── helpers ──────────────────────────────────────────────────────────

// configFlag finds --config ahead of the full parse, so the file can
// sit below environment and flags in precedence.
func configFlag(args []string) string {
	pre := flag.NewFlagSet("authclient", flag.ContinueOnError)
	pre.SetOutput(io.Discard)
	pre.Usage = func() {}
	pre.ParseErrorsWhitelist.UnknownFlags = true
	var path string
	pre.StringVar(&path, "config", "", "")
	_ = pre.Parse(args) // the full parse reports errors
	return path
}

func describe(cfg *config.Config) string {
	if cfg.Command == config.CmdServe {
		store := "memory"
		if cfg.DBPath != "" {
			store = "sqlite " + cfg.DBPath
		}
		return fmt.Sprintf("serve on %s (%s store, %d seed accounts)", cfg.ListenAddr, store, len(cfg.Accounts))
	}
	via := "direct"
	if cfg.TunnelEnabled {
		via = fmt.Sprintf("via %s@%s:%d", cfg.TunnelUser, cfg.TunnelHost, cfg.TunnelPort)
	}
	return fmt.Sprintf("%s %s as %s (%s)", cfg.Command, cfg.Address(), cfg.UserID, via)
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, `authclient – account service client v%s

Connects to the account service, authenticates, and manages the session.

Usage:
  authclient [options] login      Log in and out again
  authclient [options] passwd     Change the password
  authclient [options] scenario   Run the end-to-end account check
  authclient [options] serve      Run a local mock account service

Options:
`, version)
	fs.SetOutput(os.Stderr)
	fs.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Environment:
  Every option can be set as %sNAME, e.g. %sUSER, %sPASSWORD.
  Config file: %s

Examples:
  authclient serve -a S20230001:initial-pw:Ada:student
  authclient -u S20230001 login
  authclient -u S20230001 -T ops@bastion -H accounts.internal passwd
  authclient -u S20230001 --password initial-pw --new-password changed-pw scenario
`, config.EnvPrefix, config.EnvPrefix, config.EnvPrefix, config.DefaultConfigPath())
}
