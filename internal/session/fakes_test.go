package session

import (
	"io"
	"sync"
	"sync/atomic"
)

// closeLog records the order in which handles were closed.
type closeLog struct {
	mu    sync.Mutex
	order []string
}

func (l *closeLog) add(name string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.order = append(l.order, name)
	l.mu.Unlock()
}

func (l *closeLog) names() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.order...)
}

type fakeSocket struct {
	name   string
	log    *closeLog
	err    error
	closed atomic.Bool
	calls  atomic.Int32
}

func (s *fakeSocket) Close() error {
	s.calls.Add(1)
	s.closed.Store(true)
	s.log.add(s.name)
	return s.err
}

func (s *fakeSocket) IsClosed() bool { return s.closed.Load() }

type fakeStream struct {
	name  string
	log   *closeLog
	err   error
	panic bool
	calls atomic.Int32
}

func (f *fakeStream) Read(p []byte) (int, error)  { return 0, io.EOF }
func (f *fakeStream) Write(p []byte) (int, error) { return len(p), nil }

func (f *fakeStream) Close() error {
	f.calls.Add(1)
	f.log.add(f.name)
	if f.panic {
		panic("stream exploded")
	}
	return f.err
}

// triple is a fresh socket/output/input set sharing one close log.
type triple struct {
	log    *closeLog
	socket *fakeSocket
	output *fakeStream
	input  *fakeStream
}

func newTriple() *triple {
	log := &closeLog{}
	return &triple{
		log:    log,
		socket: &fakeSocket{name: "socket", log: log},
		output: &fakeStream{name: "output", log: log},
		input:  &fakeStream{name: "input", log: log},
	}
}

func (tr *triple) install(s *State) {
	s.SetConnection(tr.socket, tr.output, tr.input)
}
