package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	ncerr "authclient/internal/errors"
)

type flushRecorder struct {
	bytes.Buffer
	flushes int
}

func (f *flushRecorder) Flush() error {
	f.flushes++
	return nil
}

func TestNewRequest_UniqueIDs(t *testing.T) {
	a := NewRequest(OpLogin)
	b := NewRequest(OpLogin)
	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("ids not unique: %q %q", a.ID, b.ID)
	}
	if a.Op != OpLogin {
		t.Errorf("Op = %q", a.Op)
	}
}

func TestWrite_OneLineAndFlush(t *testing.T) {
	var w flushRecorder
	req := Request{ID: "1", Op: OpLogin, UserID: "S20230001", Password: "secret"}
	if err := Write(&w, req); err != nil {
		t.Fatalf("Write: %v", err)
	}
	want := `{"id":"1","op":"LOGIN","user_id":"S20230001","password":"secret"}` + "\n"
	if w.String() != want {
		t.Errorf("got %q\nwant %q", w.String(), want)
	}
	if w.flushes != 1 {
		t.Errorf("flushes = %d, want 1", w.flushes)
	}
}

func TestWrite_TooLarge(t *testing.T) {
	var buf bytes.Buffer
	req := Request{ID: "1", Op: OpLogin, Password: strings.Repeat("x", MaxMessageSize)}
	if err := Write(&buf, req); !errors.Is(err, ncerr.ErrMessageTooLarge) {
		t.Fatalf("got %v, want ErrMessageTooLarge", err)
	}
	if buf.Len() != 0 {
		t.Error("nothing should be written for an oversized message")
	}
}

func TestRead_Sequence(t *testing.T) {
	in := `{"id":"1","ok":true,"user_id":"S20230001","user_name":"Ada","role":"student"}` + "\n" +
		`{"id":"2","ok":false,"code":"BAD_CREDENTIALS","message":"nope"}` + "\n"

	// Both a line reader and a plain reader must decode the same stream.
	readers := map[string]io.Reader{
		"bufio": bufio.NewReader(strings.NewReader(in)),
		"plain": struct{ io.Reader }{strings.NewReader(in)},
	}
	for name, r := range readers {
		t.Run(name, func(t *testing.T) {
			var first, second Response
			if err := Read(r, &first); err != nil {
				t.Fatalf("first: %v", err)
			}
			if err := Read(r, &second); err != nil {
				t.Fatalf("second: %v", err)
			}
			if !first.OK || first.UserName != "Ada" || first.Role != "student" {
				t.Errorf("first = %+v", first)
			}
			if second.OK || second.Code != ncerr.CodeBadCredentials {
				t.Errorf("second = %+v", second)
			}
			if err := Read(r, &first); err != io.EOF {
				t.Errorf("third: got %v, want io.EOF", err)
			}
		})
	}
}

func TestRead_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"malformed", "{not json}\n", ncerr.ErrProtocol},
		{"truncated", `{"id":"1"`, io.ErrUnexpectedEOF},
		{"oversized", strings.Repeat("a", MaxMessageSize+1) + "\n", ncerr.ErrMessageTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp Response
			err := Read(bufio.NewReader(strings.NewReader(tt.input)), &resp)
			if !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestResponse_Err(t *testing.T) {
	req := Request{ID: "7", Op: OpChangePassword}
	if err := Reply(req).Err(OpChangePassword); err != nil {
		t.Fatalf("ok response: %v", err)
	}

	resp := Fail(req, ncerr.CodeWeakPassword, "at least %d characters", 6)
	if resp.ID != "7" || resp.OK {
		t.Fatalf("Fail = %+v", resp)
	}
	err := resp.Err(OpChangePassword)
	if !errors.Is(err, ncerr.ErrPasswordRejected) {
		t.Errorf("got %v, want ErrPasswordRejected", err)
	}
	var se *ncerr.ServerError
	if !errors.As(err, &se) || se.Message != "at least 6 characters" {
		t.Errorf("ServerError = %+v", se)
	}
}

// endlessReader yields 'a' forever and counts what was taken from it.
type endlessReader struct{ n int }

func (e *endlessReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 'a'
	}
	e.n += len(p)
	return len(p), nil
}

// TestRead_BoundedConsumption verifies an oversized line is rejected
// once it passes the limit instead of being buffered to its end.
func TestRead_BoundedConsumption(t *testing.T) {
	const bufSize = 4096
	tests := []struct {
		name string
		wrap func(io.Reader) io.Reader
		max  int
	}{
		{"bufio", func(r io.Reader) io.Reader { return bufio.NewReaderSize(r, bufSize) }, MaxMessageSize + bufSize},
		{"plain", func(r io.Reader) io.Reader { return r }, MaxMessageSize + 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &endlessReader{}
			var resp Response
			err := Read(tt.wrap(src), &resp)
			if !errors.Is(err, ncerr.ErrMessageTooLarge) {
				t.Fatalf("got %v, want ErrMessageTooLarge", err)
			}
			if src.n > tt.max {
				t.Errorf("consumed %d bytes, want at most %d", src.n, tt.max)
			}
		})
	}
}

// TestRead_LineAcrossBuffers verifies a message longer than the reader's
// buffer but within the limit still decodes.
func TestRead_LineAcrossBuffers(t *testing.T) {
	msg := `{"id":"1","ok":false,"message":"` + strings.Repeat("m", 3*4096) + `"}` + "\n"
	var resp Response
	if err := Read(bufio.NewReaderSize(strings.NewReader(msg), 4096), &resp); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(resp.Message) != 3*4096 {
		t.Errorf("message length = %d", len(resp.Message))
	}
}
