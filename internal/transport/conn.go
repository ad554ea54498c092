package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	ncerr "authclient/internal/errors"
	"authclient/internal/metrics"
)

// DefaultBufSize is the read and write buffer size of a Conn's streams.
const DefaultBufSize = 32 * 1024

// Conn is an established connection split into the three handles a
// session owns: the socket and a buffered stream in each direction.
type Conn struct {
	socket *Socket
	input  *Input
	output *Output
}

// Open dials address with d and wraps the result.  Byte counts are
// recorded on m, which may be nil.
func Open(ctx context.Context, d Dialer, network, address string, m *metrics.Collector) (*Conn, error) {
	c, err := d.Dial(ctx, network, address)
	if err != nil {
		return nil, ncerr.Wrap("dial", address, err)
	}
	return NewConn(c, m), nil
}

// NewConn wraps an already established net.Conn.
func NewConn(c net.Conn, m *metrics.Collector) *Conn {
	sock := &Socket{Conn: c}
	return &Conn{
		socket: sock,
		input:  &Input{r: bufio.NewReaderSize(c, DefaultBufSize), sock: sock, metrics: m},
		output: &Output{w: bufio.NewWriterSize(c, DefaultBufSize), sock: sock, metrics: m},
	}
}

func (c *Conn) Socket() *Socket { return c.socket }
func (c *Conn) Input() *Input   { return c.input }
func (c *Conn) Output() *Output { return c.output }

// ── Socket ───────────────────────────────────────────────────────────

// Socket is a net.Conn that remembers whether it has been closed.
// Close is idempotent and always returns the first result.
type Socket struct {
	net.Conn

	closed   atomic.Bool
	once     sync.Once
	closeErr error
}

// Close closes the underlying connection once.
func (s *Socket) Close() error {
	s.once.Do(func() {
		s.closed.Store(true)
		s.closeErr = s.Conn.Close()
	})
	return s.closeErr
}

// IsClosed reports whether Close has been called.
func (s *Socket) IsClosed() bool { return s.closed.Load() }

// Bind ties pending and future I/O on s to ctx: the context deadline
// becomes the socket deadline, and cancellation expires it at once.
// The returned func undoes both and must be called when the operation
// finishes.
func (s *Socket) Bind(ctx context.Context) (release func()) {
	if dl, ok := ctx.Deadline(); ok {
		_ = s.SetDeadline(dl)
	}
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		_ = s.SetDeadline(time.Unix(1, 0))
		close(fired)
	})
	var once sync.Once
	return func() {
		once.Do(func() {
			if !stop() {
				<-fired
			}
			_ = s.SetDeadline(time.Time{})
		})
	}
}

// ── Streams ──────────────────────────────────────────────────────────

type closeReader interface{ CloseRead() error }
type closeWriter interface{ CloseWrite() error }

// Input is the read side of a Conn.  Closing it shuts down the read
// half of the socket when the transport supports that; the socket
// itself stays open until it is closed separately.
type Input struct {
	r       *bufio.Reader
	sock    *Socket
	metrics *metrics.Collector
	closed  atomic.Bool
}

func (in *Input) Read(p []byte) (int, error) {
	if in.closed.Load() {
		return 0, fmt.Errorf("read: %w", net.ErrClosed)
	}
	n, err := in.r.Read(p)
	in.metrics.BytesReceived(int64(n))
	return n, err
}

// ReadSlice reads until the first occurrence of delim without copying,
// like [bufio.Reader.ReadSlice].  A line longer than DefaultBufSize
// comes back in pieces with bufio.ErrBufferFull.
func (in *Input) ReadSlice(delim byte) ([]byte, error) {
	if in.closed.Load() {
		return nil, fmt.Errorf("read: %w", net.ErrClosed)
	}
	b, err := in.r.ReadSlice(delim)
	in.metrics.BytesReceived(int64(len(b)))
	return b, err
}

// Close marks the stream closed and half-closes the socket's read side.
func (in *Input) Close() error {
	if !in.closed.CompareAndSwap(false, true) {
		return nil
	}
	if in.sock.IsClosed() {
		return nil
	}
	if cr, ok := in.sock.Conn.(closeReader); ok {
		if err := cr.CloseRead(); err != nil && !errors.Is(err, net.ErrClosed) {
			return err
		}
	}
	return nil
}

// Output is the buffered write side of a Conn.  Writes are held until
// Flush; Close flushes and then shuts down the write half of the socket
// when the transport supports that.
type Output struct {
	mu      sync.Mutex
	w       *bufio.Writer
	sock    *Socket
	metrics *metrics.Collector
	closed  bool
}

func (out *Output) Write(p []byte) (int, error) {
	out.mu.Lock()
	defer out.mu.Unlock()

	if out.closed {
		return 0, fmt.Errorf("write: %w", net.ErrClosed)
	}
	n, err := out.w.Write(p)
	out.metrics.BytesSent(int64(n))
	return n, err
}

// Flush sends any buffered bytes.
func (out *Output) Flush() error {
	out.mu.Lock()
	defer out.mu.Unlock()

	if out.closed {
		return fmt.Errorf("flush: %w", net.ErrClosed)
	}
	return out.w.Flush()
}

// Close flushes pending bytes and half-closes the socket's write side.
func (out *Output) Close() error {
	out.mu.Lock()
	defer out.mu.Unlock()

	if out.closed {
		return nil
	}
	out.closed = true
	if out.sock.IsClosed() {
		return nil
	}

	var errs []error
	if err := out.w.Flush(); err != nil {
		errs = append(errs, fmt.Errorf("flush: %w", err))
	}
	if cw, ok := out.sock.Conn.(closeWriter); ok {
		if err := cw.CloseWrite(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
