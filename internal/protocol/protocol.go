// Package protocol is the wire format between the client and the
// account service: one JSON object per line, a request answered by
// exactly one response carrying the same id.
package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"

	ncerr "authclient/internal/errors"
)

// MaxMessageSize bounds a single encoded message, newline included.
const MaxMessageSize = 64 * 1024

// Operations.
const (
	OpLogin          = "LOGIN"
	OpChangePassword = "CHANGE_PASSWORD"
	OpLogout         = "LOGOUT"
)

// Request is sent by the client.
type Request struct {
	ID          string `json:"id"`
	Op          string `json:"op"`
	UserID      string `json:"user_id,omitempty"`
	Password    string `json:"password,omitempty"`
	NewPassword string `json:"new_password,omitempty"`
}

// NewRequest returns a request for op with a fresh id.
func NewRequest(op string) Request {
	return Request{ID: uuid.NewString(), Op: op}
}

// Response answers a Request.  On failure OK is false and Code holds
// one of the errors.Code* values.
type Response struct {
	ID       string `json:"id"`
	OK       bool   `json:"ok"`
	Code     string `json:"code,omitempty"`
	Message  string `json:"message,omitempty"`
	UserID   string `json:"user_id,omitempty"`
	UserName string `json:"user_name,omitempty"`
	Role     string `json:"role,omitempty"`
}

// Reply builds a successful response to req.
func Reply(req Request) Response {
	return Response{ID: req.ID, OK: true}
}

// Fail builds an error response to req.
func Fail(req Request, code, format string, args ...interface{}) Response {
	return Response{ID: req.ID, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Err converts a failed response into a *errors.ServerError for op.
// It returns nil for a successful response.
func (r Response) Err(op string) error {
	if r.OK {
		return nil
	}
	return &ncerr.ServerError{Op: op, Code: r.Code, Message: r.Message}
}

type flusher interface{ Flush() error }

// Write encodes v as one line on w and flushes w if it buffers.
func Write(w io.Writer, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	if len(data)+1 > MaxMessageSize {
		return fmt.Errorf("encode: %w (%d bytes)", ncerr.ErrMessageTooLarge, len(data)+1)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return err
	}
	if f, ok := w.(flusher); ok {
		return f.Flush()
	}
	return nil
}

// sliceReader is satisfied by *bufio.Reader and transport.Input.
type sliceReader interface {
	ReadSlice(delim byte) ([]byte, error)
}

var errTooLarge = fmt.Errorf("decode: %w (over %d bytes)", ncerr.ErrMessageTooLarge, MaxMessageSize)

// Read decodes the next line from r into v.  At most MaxMessageSize
// bytes of a line are held; a longer line fails with
// ErrMessageTooLarge and the rest of it is left unread, so the stream
// cannot be used afterwards.  Readers without ReadSlice are consumed
// byte by byte so nothing past the newline is lost.
func Read(r io.Reader, v interface{}) error {
	var (
		line []byte
		err  error
	)
	if sr, ok := r.(sliceReader); ok {
		line, err = readSlices(sr)
	} else {
		line, err = readLine(r)
	}
	if len(line) > MaxMessageSize {
		return errTooLarge
	}
	if err != nil {
		if err == io.EOF && len(line) > 0 {
			return fmt.Errorf("decode: %w", io.ErrUnexpectedEOF)
		}
		return err
	}
	line = bytes.TrimSpace(line)
	if err := json.Unmarshal(line, v); err != nil {
		return fmt.Errorf("decode: %w: %v", ncerr.ErrProtocol, err)
	}
	return nil
}

// readSlices gathers buffer-sized chunks up to the newline and stops
// as soon as the line outgrows MaxMessageSize.
func readSlices(r sliceReader) ([]byte, error) {
	var line []byte
	for {
		chunk, err := r.ReadSlice('\n')
		if len(line)+len(chunk) > MaxMessageSize {
			return nil, errTooLarge
		}
		line = append(line, chunk...)
		if !errors.Is(err, bufio.ErrBufferFull) {
			return line, err
		}
	}
}

func readLine(r io.Reader) ([]byte, error) {
	var (
		line []byte
		b    [1]byte
	)
	for len(line) <= MaxMessageSize {
		n, err := r.Read(b[:])
		if n == 1 {
			line = append(line, b[0])
			if b[0] == '\n' {
				return line, nil
			}
		}
		if err != nil {
			return line, err
		}
	}
	return line, nil
}
