// Package client drives a session.State through the account service
// protocol: it opens the connection the state holds, authenticates it,
// changes passwords, and logs out by clearing the state.
package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	ncerr "authclient/internal/errors"
	"authclient/internal/metrics"
	"authclient/internal/protocol"
	"authclient/internal/session"
	"authclient/internal/transport"
	"authclient/util"
)

// Default login rate: one attempt per second with a burst of three.
const (
	DefaultLoginInterval = time.Second
	DefaultLoginBurst    = 3
)

// Client is safe for concurrent use; requests are sent one at a time.
type Client struct {
	state   *session.State
	dialer  transport.Dialer
	address string
	logger  *util.Logger
	metrics *metrics.Collector
	limiter *rate.Limiter
	timeout time.Duration

	mu sync.Mutex
}

// Option configures a Client.
type Option func(*Client)

func WithLogger(l *util.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func WithMetrics(m *metrics.Collector) Option {
	return func(c *Client) { c.metrics = m }
}

// WithRequestTimeout bounds every request/response exchange.  Zero
// leaves only the caller's context.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithLoginRate allows one login attempt per interval with the given
// burst.  A zero interval disables limiting.
func WithLoginRate(interval time.Duration, burst int) Option {
	return func(c *Client) {
		if interval <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Every(interval), burst)
	}
}

// New returns a client that keeps its connection and identity in state
// and reaches address through dialer.
func New(state *session.State, dialer transport.Dialer, address string, opts ...Option) *Client {
	c := &Client{
		state:   state,
		dialer:  dialer,
		address: address,
		limiter: rate.NewLimiter(rate.Every(DefaultLoginInterval), DefaultLoginBurst),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("client")
	return c
}

// State returns the session the client drives.
func (c *Client) State() *session.State { return c.state }

// Connect dials the service and installs the connection in the
// session.  A session that already holds a live connection is left
// alone and ErrAlreadyConnected returned; stale handles are released
// first.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state.Phase() {
	case session.PhaseAnonymous, session.PhaseAuthenticated:
		return ncerr.ErrAlreadyConnected
	case session.PhaseDetached:
		c.logger.Verbose("releasing stale session before reconnecting")
		c.release()
	}

	conn, err := transport.Open(ctx, c.dialer, "tcp", c.address, c.metrics)
	if err != nil {
		c.metrics.RecordError(err.Error())
		return err
	}
	c.state.SetConnection(conn.Socket(), conn.Output(), conn.Input())
	c.metrics.ConnectionOpened()
	c.logger.Verbose("connected to %s", c.address)
	return nil
}

// Login authenticates the connected session.  Attempts are rate
// limited; when ctx cannot wait for the next slot ErrRateLimited is
// returned without contacting the service.
func (c *Client) Login(ctx context.Context, userID, password string) (session.Identity, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return session.Identity{}, fmt.Errorf("%w: %v", ncerr.ErrRateLimited, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	req := protocol.NewRequest(protocol.OpLogin)
	req.UserID, req.Password = userID, password
	resp, err := c.roundTrip(ctx, req)
	if err != nil {
		c.metrics.LoginFailed()
		return session.Identity{}, err
	}

	id := session.Identity{UserID: resp.UserID, UserName: resp.UserName, UserRole: resp.Role}
	if id.UserID == "" {
		id.UserID = userID
	}
	if err := c.state.Authenticate(id); err != nil {
		c.metrics.LoginFailed()
		return session.Identity{}, err
	}
	c.metrics.LoginSucceeded()
	c.logger.Info("logged in as %s (%s)", id.UserID, id.UserRole)
	return id, nil
}

// ChangePassword replaces the authenticated user's password.
func (c *Client) ChangePassword(ctx context.Context, oldPassword, newPassword string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Phase() != session.PhaseAuthenticated {
		return ncerr.ErrNotAuthenticated
	}

	req := protocol.NewRequest(protocol.OpChangePassword)
	req.Password, req.NewPassword = oldPassword, newPassword
	if _, err := c.roundTrip(ctx, req); err != nil {
		return err
	}
	c.metrics.PasswordChanged()
	c.logger.Info("password changed for %s", c.state.UserID())
	return nil
}

// Logout tells the service the session is ending, if it still can,
// then clears the session.  It returns the close failures reported by
// the clear.
func (c *Client) Logout(ctx context.Context) []error {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := c.state.Snapshot()
	if snap.Connected() {
		if _, err := c.roundTrip(ctx, protocol.NewRequest(protocol.OpLogout)); err != nil {
			c.logger.Warn("logout request: %v", err)
		}
	}
	failures := c.release()
	if !snap.Identity.IsZero() {
		c.logger.Info("logged out %s", snap.Identity.UserID)
	}
	return failures
}

// release clears the session and counts a held connection as closed.
// c.mu must be held.
func (c *Client) release() []error {
	held := !c.state.Connection().IsZero()
	failures := c.state.Clear()
	if held {
		c.metrics.ConnectionClosed()
	}
	return failures
}

// Close releases the dialer.  The session is not touched.
func (c *Client) Close() error {
	return c.dialer.Close()
}

type binder interface {
	Bind(ctx context.Context) (release func())
}

// roundTrip sends req on the session's connection and reads its
// response.  c.mu must be held.
func (c *Client) roundTrip(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	conn := c.state.Connection()
	if !conn.Live() {
		return protocol.Response{}, ncerr.ErrNotConnected
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	if b, ok := conn.Socket.(binder); ok {
		defer b.Bind(ctx)()
	}

	if err := protocol.Write(conn.Output, req); err != nil {
		return protocol.Response{}, c.transportError("write", err)
	}
	var resp protocol.Response
	if err := protocol.Read(conn.Input, &resp); err != nil {
		return protocol.Response{}, c.transportError("read", err)
	}
	if resp.ID != req.ID {
		err := fmt.Errorf("%s: %w: response id %q does not match request %q", req.Op, ncerr.ErrProtocol, resp.ID, req.ID)
		c.metrics.RecordError(err.Error())
		return protocol.Response{}, err
	}
	c.logger.Debug("%s %s ok=%t", req.Op, req.ID, resp.OK)
	return resp, resp.Err(req.Op)
}

func (c *Client) transportError(op string, err error) error {
	if ncerr.Is(err, ncerr.ErrProtocol) || ncerr.Is(err, ncerr.ErrMessageTooLarge) {
		c.metrics.RecordError(err.Error())
		return err
	}
	werr := ncerr.Wrap(op, c.address, err)
	c.metrics.RecordError(werr.Error())
	return werr
}
