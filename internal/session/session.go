// Package session holds the client's single active session: who is
// logged in and the live connection to the account service.
//
// A State owns the socket and its two streams exclusively.  Other
// components read the handles to talk to the server but never close
// them; only [State.Clear] does.  Identity and connection are kept in
// one immutable [Snapshot] that is replaced atomically on every
// change, so a reader never sees half of a triple.
package session

import (
	"fmt"
	"io"
	"sync/atomic"

	ncerr "authclient/internal/errors"
	"authclient/internal/metrics"
	"authclient/util"
)

// Socket is the network endpoint behind a session.  IsClosed must
// report true once Close has been called on it by anyone.
type Socket interface {
	io.Closer
	IsClosed() bool
}

// Identity is the authenticated user of a session.
type Identity struct {
	UserID   string
	UserName string
	UserRole string
}

// IsZero reports whether no identity field is set.
func (id Identity) IsZero() bool { return id == Identity{} }

// Connection is the socket plus the streams layered on top of it.
type Connection struct {
	Socket Socket
	Output io.WriteCloser
	Input  io.ReadCloser
}

// IsZero reports whether no handle is set.
func (c Connection) IsZero() bool {
	return c.Socket == nil && c.Output == nil && c.Input == nil
}

// Live reports whether all three handles are present and the socket
// is still open.
func (c Connection) Live() bool {
	return c.Socket != nil && c.Output != nil && c.Input != nil && !c.Socket.IsClosed()
}

// Phase is the coarse state of a session.
type Phase int

const (
	// PhaseEmpty holds nothing: fresh or just cleared.
	PhaseEmpty Phase = iota
	// PhaseAnonymous has a live connection but nobody logged in.
	PhaseAnonymous
	// PhaseAuthenticated has a live connection and an identity.
	PhaseAuthenticated
	// PhaseDetached holds an identity or handles without a live
	// connection.  Only Clear leaves this phase.
	PhaseDetached
)

func (p Phase) String() string {
	switch p {
	case PhaseEmpty:
		return "empty"
	case PhaseAnonymous:
		return "connected-anonymous"
	case PhaseAuthenticated:
		return "connected-authenticated"
	case PhaseDetached:
		return "detached"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Snapshot is an immutable view of a session at one instant.
type Snapshot struct {
	Identity   Identity
	Connection Connection
}

// Connected reports whether the snapshot holds a live connection.
func (s Snapshot) Connected() bool { return s.Connection.Live() }

// Phase classifies the snapshot.
func (s Snapshot) Phase() Phase {
	switch {
	case s.Connection.Live() && s.Identity.IsZero():
		return PhaseAnonymous
	case s.Connection.Live():
		return PhaseAuthenticated
	case s.Identity.IsZero() && s.Connection.IsZero():
		return PhaseEmpty
	default:
		return PhaseDetached
	}
}

// State is the mutable holder of the current session.  The zero value
// is an empty, usable State with no logger or metrics.
//
// Reads and writes are lock-free: every setter builds a new Snapshot
// from the current one and publishes it with compare-and-swap.  Callers
// that need a multi-step flow (connect, then log in) still serialize
// those flows themselves.
type State struct {
	snap    atomic.Pointer[Snapshot]
	logger  *util.Logger
	metrics *metrics.Collector
}

// Option configures a State built by [New].
type Option func(*State)

// WithMetrics records teardown outcomes on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *State) { s.metrics = c }
}

// New returns an empty State.  logger may be nil.
func New(logger *util.Logger, opts ...Option) *State {
	s := &State{logger: logger.Named("session")}
	for _, opt := range opts {
		opt(s)
	}
	s.snap.Store(&Snapshot{})
	return s
}

// Snapshot returns the current session as one consistent value.
func (s *State) Snapshot() Snapshot {
	if p := s.snap.Load(); p != nil {
		return *p
	}
	return Snapshot{}
}

// update applies fn to a copy of the current snapshot and publishes the
// copy.  fn may run more than once under contention.
func (s *State) update(fn func(*Snapshot)) Snapshot {
	for {
		old := s.snap.Load()
		var next Snapshot
		if old != nil {
			next = *old
		}
		fn(&next)
		if s.snap.CompareAndSwap(old, &next) {
			return next
		}
	}
}

// Phase returns the phase of the current snapshot.
func (s *State) Phase() Phase { return s.Snapshot().Phase() }

// IsConnected reports whether socket, output and input are all set and
// the socket is open.
func (s *State) IsConnected() bool { return s.Snapshot().Connected() }

// ── Identity ─────────────────────────────────────────────────────────

func (s *State) Identity() Identity { return s.Snapshot().Identity }
func (s *State) UserID() string     { return s.Snapshot().Identity.UserID }
func (s *State) UserName() string   { return s.Snapshot().Identity.UserName }
func (s *State) UserRole() string   { return s.Snapshot().Identity.UserRole }

// SetIdentity replaces all three identity fields at once.  It does not
// check that a connection exists; see [State.Authenticate].
func (s *State) SetIdentity(id Identity) {
	s.update(func(sn *Snapshot) { sn.Identity = id })
}

func (s *State) SetUserID(v string) {
	s.update(func(sn *Snapshot) { sn.Identity.UserID = v })
}

func (s *State) SetUserName(v string) {
	s.update(func(sn *Snapshot) { sn.Identity.UserName = v })
}

func (s *State) SetUserRole(v string) {
	s.update(func(sn *Snapshot) { sn.Identity.UserRole = v })
}

// Authenticate records id as the logged-in user of the current
// connection.  It fails with ErrNotConnected, leaving the state
// untouched, when there is no live connection to attach it to.
func (s *State) Authenticate(id Identity) error {
	var err error
	s.update(func(sn *Snapshot) {
		err = nil
		if !sn.Connection.Live() {
			err = ncerr.ErrNotConnected
			return
		}
		sn.Identity = id
	})
	if err == nil {
		s.logger.Verbose("authenticated as %s (%s)", id.UserID, id.UserRole)
	}
	return err
}

// ── Connection ───────────────────────────────────────────────────────

func (s *State) Connection() Connection { return s.Snapshot().Connection }
func (s *State) Socket() Socket         { return s.Snapshot().Connection.Socket }
func (s *State) Output() io.WriteCloser { return s.Snapshot().Connection.Output }
func (s *State) Input() io.ReadCloser   { return s.Snapshot().Connection.Input }

// SetConnection installs all three handles in one step.  Handles
// already held are not closed; call Clear first when replacing a
// connection.
func (s *State) SetConnection(socket Socket, output io.WriteCloser, input io.ReadCloser) {
	s.update(func(sn *Snapshot) {
		sn.Connection = Connection{Socket: socket, Output: output, Input: input}
	})
}

func (s *State) SetSocket(v Socket) {
	s.update(func(sn *Snapshot) { sn.Connection.Socket = v })
}

func (s *State) SetOutput(v io.WriteCloser) {
	s.update(func(sn *Snapshot) { sn.Connection.Output = v })
}

func (s *State) SetInput(v io.ReadCloser) {
	s.update(func(sn *Snapshot) { sn.Connection.Input = v })
}

// ── Teardown ─────────────────────────────────────────────────────────

// Clear logs the session out: it detaches the current snapshot, then
// closes the output stream, the input stream and the socket, in that
// order, skipping whatever is absent or already closed.  A failed close
// is logged and does not stop the remaining ones.
//
// Every failure is returned as a *errors.CloseError; the result is nil
// when everything closed cleanly or there was nothing to close.  The
// state is empty afterwards in all cases, and calling Clear again is a
// no-op.
func (s *State) Clear() []error {
	old := s.snap.Swap(&Snapshot{})
	if old == nil || (old.Identity.IsZero() && old.Connection.IsZero()) {
		return nil
	}

	conn := old.Connection
	var failures []error
	if conn.Output != nil {
		failures = s.release(failures, "output stream", conn.Output)
	}
	if conn.Input != nil {
		failures = s.release(failures, "input stream", conn.Input)
	}
	if conn.Socket != nil && !conn.Socket.IsClosed() {
		failures = s.release(failures, "socket", conn.Socket)
	}

	s.metrics.SessionCleared(len(failures))
	if len(failures) > 0 {
		s.logger.Warn("session for %q cleared with %d close failure(s)",
			old.Identity.UserID, len(failures))
	} else {
		s.logger.Verbose("session for %q cleared", old.Identity.UserID)
	}
	return failures
}

func (s *State) release(failures []error, resource string, c io.Closer) []error {
	if err := closeQuietly(c); err != nil {
		ce := ncerr.WrapClose(resource, err)
		s.logger.Warn("%v", ce)
		return append(failures, ce)
	}
	s.logger.Debug("closed %s", resource)
	return failures
}

// closeQuietly turns a panicking Close into an error.
func closeQuietly(c io.Closer) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during close: %v", r)
		}
	}()
	return c.Close()
}
