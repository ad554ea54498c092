// Package mockserver is a local stand-in for the account service.  It
// speaks the protocol package's wire format and keeps accounts in a
// Store, so the client and scenario runner can be exercised without the
// real backend.
package mockserver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	ncerr "authclient/internal/errors"
	"authclient/internal/protocol"
	"authclient/util"
)

// Credential is an account together with its initial password.
type Credential struct {
	Account
	Password string
}

// Seed adds creds to store, skipping ids that already exist.
func Seed(ctx context.Context, store Store, creds ...Credential) error {
	for _, c := range creds {
		err := store.Add(ctx, c.Account, c.Password)
		if err != nil && !errors.Is(err, ncerr.ErrDuplicateAccount) {
			return fmt.Errorf("seed %s: %w", c.UserID, err)
		}
	}
	return nil
}

// Server accepts connections and answers LOGIN, CHANGE_PASSWORD and
// LOGOUT requests.  Authentication is tracked per connection.
type Server struct {
	store  Store
	logger *util.Logger

	mu     sync.Mutex
	ln     net.Listener
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// New returns a server backed by store.
func New(store Store, logger *util.Logger) *Server {
	return &Server{
		store:  store,
		logger: logger.Named("mockserver"),
		conns:  make(map[net.Conn]struct{}),
	}
}

// Listen binds the server to addr ("127.0.0.1:0" picks a free port).
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	s.logger.Verbose("listening on %s", ln.Addr())
	return nil
}

// Addr is the bound address, or "" before Listen.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Serve accepts connections until ctx is done or Close is called, then
// waits for open connections to finish.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return errors.New("serve: Listen not called")
	}

	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			stopped := s.isClosed()
			s.Close()
			s.wg.Wait()
			if stopped {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		if !s.track(conn) {
			conn.Close()
			continue
		}
		s.logger.Verbose("connection from %s", conn.RemoteAddr())

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.serveConn(ctx, conn)
		}()
	}
}

// Close stops the listener and drops every open connection.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var err error
	if s.ln != nil {
		err = s.ln.Close()
	}
	for c := range s.conns {
		c.Close()
	}
	return err
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) track(c net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c net.Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	c.Close()
}

// connState is what the server knows about one client.
type connState struct {
	account *Account
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)
	var st connState

	for {
		var req protocol.Request
		err := protocol.Read(r, &req)
		switch {
		case err == nil:
		case errors.Is(err, ncerr.ErrProtocol):
			s.logger.Warn("%s: %v", conn.RemoteAddr(), err)
			if werr := protocol.Write(w, protocol.Fail(req, ncerr.CodeBadRequest, "malformed request")); werr != nil {
				return
			}
			continue
		default:
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.logger.Verbose("%s: %v", conn.RemoteAddr(), err)
			}
			return
		}

		resp := s.handle(ctx, &st, req)
		if err := protocol.Write(w, resp); err != nil {
			s.logger.Verbose("%s: write: %v", conn.RemoteAddr(), err)
			return
		}
	}
}

func (s *Server) handle(ctx context.Context, st *connState, req protocol.Request) protocol.Response {
	if req.ID == "" {
		return protocol.Fail(req, ncerr.CodeBadRequest, "missing request id")
	}

	switch req.Op {
	case protocol.OpLogin:
		acct, err := s.store.Verify(ctx, req.UserID, req.Password)
		if err != nil {
			s.logger.Info("login rejected for %q", req.UserID)
			return s.failure(req, err)
		}
		st.account = &acct
		s.logger.Info("login %q", acct.UserID)
		resp := protocol.Reply(req)
		resp.UserID, resp.UserName, resp.Role = acct.UserID, acct.UserName, acct.Role
		return resp

	case protocol.OpChangePassword:
		if st.account == nil {
			return protocol.Fail(req, ncerr.CodeNotAuthenticated, "login required")
		}
		if _, err := s.store.Verify(ctx, st.account.UserID, req.Password); err != nil {
			return s.failure(req, err)
		}
		if err := s.store.SetPassword(ctx, st.account.UserID, req.NewPassword); err != nil {
			return s.failure(req, err)
		}
		s.logger.Info("password changed for %q", st.account.UserID)
		return protocol.Reply(req)

	case protocol.OpLogout:
		if st.account != nil {
			s.logger.Info("logout %q", st.account.UserID)
		}
		st.account = nil
		return protocol.Reply(req)
	}
	return protocol.Fail(req, ncerr.CodeBadRequest, "unknown op %q", req.Op)
}

// failure maps a store error onto a wire code.
func (s *Server) failure(req protocol.Request, err error) protocol.Response {
	switch {
	case errors.Is(err, ncerr.ErrInvalidCredential):
		return protocol.Fail(req, ncerr.CodeBadCredentials, "invalid user id or password")
	case errors.Is(err, ncerr.ErrPasswordRejected):
		return protocol.Fail(req, ncerr.CodeWeakPassword, "%v", err)
	}
	s.logger.Error("%s: %v", req.Op, err)
	return protocol.Fail(req, ncerr.CodeBadRequest, "internal error")
}
