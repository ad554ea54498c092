package cmd

import (
	"context"
	"errors"
	"fmt"

	"authclient/config"
	"authclient/internal/client"
	"authclient/internal/metrics"
	"authclient/internal/mockserver"
	"authclient/internal/scenario"
	"authclient/internal/session"
	"authclient/internal/transport"
	"authclient/internal/tunnel"
	"authclient/util"
)

// prompt reads secrets that were not supplied; tests replace it.
var prompt util.PromptFunc = util.ReadPassword //nolint:gochecknoglobals

func run(ctx context.Context, cfg *config.Config) error {
	logger := util.NewLogger(cfg.Verbose)
	m := metrics.New()
	defer func() { logger.Verbose("metrics: %s", m.JSON()) }()

	if cfg.Command == config.CmdServe {
		return runServe(ctx, cfg, logger)
	}

	state := session.New(logger, session.WithMetrics(m))
	c := client.New(state, newDialer(cfg, logger), cfg.Address(),
		client.WithLogger(logger),
		client.WithMetrics(m),
		client.WithRequestTimeout(cfg.Request),
		client.WithLoginRate(cfg.LoginInterval, cfg.LoginBurst),
	)
	defer c.Close()

	switch cfg.Command {
	case config.CmdLogin:
		return runLogin(ctx, cfg, c, logger)
	case config.CmdPasswd:
		return runPasswd(ctx, cfg, c, logger)
	case config.CmdScenario:
		return runScenario(ctx, cfg, c, logger)
	}
	return fmt.Errorf("unknown command %q", cfg.Command)
}

func newDialer(cfg *config.Config, logger *util.Logger) transport.Dialer {
	if !cfg.TunnelEnabled {
		return &transport.TCPDialer{Timeout: cfg.Timeout}
	}
	return transport.NewSSHDialer(&tunnel.SSHConfig{
		User:          cfg.TunnelUser,
		Host:          cfg.TunnelHost,
		Port:          cfg.TunnelPort,
		KeyPath:       cfg.SSHKeyPath,
		PromptPass:    cfg.SSHPassword,
		UseAgent:      cfg.UseSSHAgent,
		StrictHostKey: cfg.StrictHostKey,
		KnownHosts:    cfg.KnownHostsPath,
		ConnTimeout:   cfg.Timeout,
		Prompt:        prompt,
	}, logger)
}

// ── client commands ──────────────────────────────────────────────────

func runLogin(ctx context.Context, cfg *config.Config, c *client.Client, logger *util.Logger) error {
	if err := fill(&cfg.Password, "Password: "); err != nil {
		return err
	}
	if err := c.Connect(ctx); err != nil {
		return err
	}
	defer logout(c, logger)

	id, err := c.Login(ctx, cfg.UserID, cfg.Password)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "logged in as %s\n", describeIdentity(id))
	return nil
}

func runPasswd(ctx context.Context, cfg *config.Config, c *client.Client, logger *util.Logger) error {
	if err := fill(&cfg.Password, "Current password: "); err != nil {
		return err
	}
	if cfg.NewPassword == "" {
		first, err := prompt("New password: ")
		if err != nil {
			return err
		}
		again, err := prompt("Retype new password: ")
		if err != nil {
			return err
		}
		if first != again {
			return errors.New("new passwords do not match")
		}
		cfg.NewPassword = first
	}

	if err := c.Connect(ctx); err != nil {
		return err
	}
	defer logout(c, logger)

	if _, err := c.Login(ctx, cfg.UserID, cfg.Password); err != nil {
		return err
	}
	if err := c.ChangePassword(ctx, cfg.Password, cfg.NewPassword); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "password changed for %s\n", cfg.UserID)
	return nil
}

func runScenario(ctx context.Context, cfg *config.Config, c *client.Client, logger *util.Logger) error {
	if err := fill(&cfg.Password, "Current password: "); err != nil {
		return err
	}
	if err := fill(&cfg.NewPassword, "Temporary new password: "); err != nil {
		return err
	}

	r := &scenario.Runner{
		Client:      c,
		UserID:      cfg.UserID,
		Password:    cfg.Password,
		NewPassword: cfg.NewPassword,
		Logger:      logger,
	}
	rep, err := r.Run(ctx)
	if rep != nil {
		fmt.Fprint(stdout, rep.String())
	}
	return err
}

// logout ends the session; close failures are reported, not returned.
func logout(c *client.Client, logger *util.Logger) {
	for _, err := range c.Logout(context.Background()) {
		logger.Warn("%v", err)
	}
}

// fill prompts for *dst when it is empty.
func fill(dst *string, msg string) error {
	if *dst != "" {
		return nil
	}
	v, err := prompt(msg)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

func describeIdentity(id session.Identity) string {
	s := id.UserID
	switch {
	case id.UserName != "" && id.UserRole != "":
		s += fmt.Sprintf(" (%s, %s)", id.UserName, id.UserRole)
	case id.UserName != "":
		s += fmt.Sprintf(" (%s)", id.UserName)
	case id.UserRole != "":
		s += fmt.Sprintf(" (%s)", id.UserRole)
	}
	return s
}

// ── serve ────────────────────────────────────────────────────────────

func runServe(ctx context.Context, cfg *config.Config, logger *util.Logger) error {
	var (
		store mockserver.Store
		err   error
	)
	if cfg.DBPath != "" {
		store, err = mockserver.OpenSQLite(cfg.DBPath, cfg.BcryptCost)
		if err != nil {
			return err
		}
	} else {
		store = mockserver.NewMemoryStore(cfg.BcryptCost)
	}
	defer store.Close()

	specs, err := cfg.AccountSpecs()
	if err != nil {
		return err
	}
	creds := make([]mockserver.Credential, len(specs))
	for i, a := range specs {
		creds[i] = mockserver.Credential{
			Account:  mockserver.Account{UserID: a.UserID, UserName: a.UserName, Role: a.Role},
			Password: a.Password,
		}
	}
	if err := mockserver.Seed(ctx, store, creds...); err != nil {
		return err
	}

	srv := mockserver.New(store, logger)
	if err := srv.Listen(cfg.ListenAddr); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "mock account service listening on %s\n", srv.Addr())
	return srv.Serve(ctx)
}
