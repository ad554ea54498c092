package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	ncerr "authclient/internal/errors"
)

// fileConfig mirrors the TOML layout:
//
//	[server]  host, port, timeout, request_timeout
//	[tunnel]  spec, key, agent, password, strict_host_key, known_hosts
//	[account] user, login_interval, login_burst
//	[mock]    listen, db, bcrypt_cost, accounts
//	verbose
//
// Passwords are never read from files.
type fileConfig struct {
	Verbose int `toml:"verbose"`

	Server struct {
		Host           string        `toml:"host"`
		Port           int           `toml:"port"`
		Timeout        time.Duration `toml:"timeout"`
		RequestTimeout time.Duration `toml:"request_timeout"`
	} `toml:"server"`

	Tunnel struct {
		Spec          string `toml:"spec"`
		Key           string `toml:"key"`
		Agent         bool   `toml:"agent"`
		Password      bool   `toml:"password"`
		StrictHostKey bool   `toml:"strict_host_key"`
		KnownHosts    string `toml:"known_hosts"`
	} `toml:"tunnel"`

	Account struct {
		User          string        `toml:"user"`
		LoginInterval time.Duration `toml:"login_interval"`
		LoginBurst    int           `toml:"login_burst"`
	} `toml:"account"`

	Mock struct {
		Listen     string   `toml:"listen"`
		DB         string   `toml:"db"`
		BcryptCost int      `toml:"bcrypt_cost"`
		Accounts   []string `toml:"accounts"`
	} `toml:"mock"`
}

// LoadFile overlays the TOML file at path onto cfg.  Only keys present
// in the file override; unknown keys are an error.
func LoadFile(cfg *Config, path string) error {
	var fc fileConfig
	md, err := toml.DecodeFile(path, &fc)
	if err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return &ncerr.ConfigError{
			Field:   "config",
			Value:   path,
			Message: "unknown keys: " + strings.Join(keys, ", "),
		}
	}

	overlay(md, &cfg.Verbose, fc.Verbose, "verbose")

	overlay(md, &cfg.Host, fc.Server.Host, "server", "host")
	overlay(md, &cfg.Port, fc.Server.Port, "server", "port")
	overlay(md, &cfg.Timeout, fc.Server.Timeout, "server", "timeout")
	overlay(md, &cfg.Request, fc.Server.RequestTimeout, "server", "request_timeout")

	overlay(md, &cfg.TunnelSpec, fc.Tunnel.Spec, "tunnel", "spec")
	overlay(md, &cfg.SSHKeyPath, fc.Tunnel.Key, "tunnel", "key")
	overlay(md, &cfg.UseSSHAgent, fc.Tunnel.Agent, "tunnel", "agent")
	overlay(md, &cfg.SSHPassword, fc.Tunnel.Password, "tunnel", "password")
	overlay(md, &cfg.StrictHostKey, fc.Tunnel.StrictHostKey, "tunnel", "strict_host_key")
	overlay(md, &cfg.KnownHostsPath, fc.Tunnel.KnownHosts, "tunnel", "known_hosts")

	overlay(md, &cfg.UserID, fc.Account.User, "account", "user")
	overlay(md, &cfg.LoginInterval, fc.Account.LoginInterval, "account", "login_interval")
	overlay(md, &cfg.LoginBurst, fc.Account.LoginBurst, "account", "login_burst")

	overlay(md, &cfg.ListenAddr, fc.Mock.Listen, "mock", "listen")
	overlay(md, &cfg.DBPath, fc.Mock.DB, "mock", "db")
	overlay(md, &cfg.BcryptCost, fc.Mock.BcryptCost, "mock", "bcrypt_cost")
	overlay(md, &cfg.Accounts, fc.Mock.Accounts, "mock", "accounts")

	cfg.ConfigFile = path
	return nil
}

// overlay copies src into dst when key is present in the file.
func overlay[T any](md toml.MetaData, dst *T, src T, key ...string) {
	if md.IsDefined(key...) {
		*dst = src
	}
}

// LoadDefaultFile overlays DefaultConfigPath if that file exists.
func LoadDefaultFile(cfg *Config) error {
	path := DefaultConfigPath()
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return LoadFile(cfg, path)
}
