package ipc

import (
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/hydrahook/hydrahook/internal/logging"
)

func decodePayload(env *Envelope, out any) error {
	return json.Unmarshal(env.Payload, out)
}

// pipeListener adapts a pair of in-memory connections to net.Listener so
// the server can be exercised without a named pipe.
type pipeListener struct {
	conns  chan net.Conn
	closed chan struct{}
	once   sync.Once
}

func newPipeListener() *pipeListener {
	return &pipeListener{conns: make(chan net.Conn), closed: make(chan struct{})}
}

func (l *pipeListener) Accept() (net.Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.closed:
		return nil, net.ErrClosed
	}
}

func (l *pipeListener) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}

func (l *pipeListener) Addr() net.Addr { return &net.UnixAddr{Name: "test", Net: "unix"} }

func (l *pipeListener) dial(t *testing.T) *Conn {
	t.Helper()
	client, server := net.Pipe()
	select {
	case l.conns <- server:
	case <-time.After(time.Second):
		t.Fatal("server never accepted")
	}
	return NewConn(client)
}

func startServer(t *testing.T, status func() Status, journal func(int) []logging.Entry) *pipeListener {
	t.Helper()
	ln := newPipeListener()
	srv := NewServer(status, journal)
	go srv.Serve(ln)
	t.Cleanup(srv.Close)
	return ln
}

func TestStatusRoundTrip(t *testing.T) {
	want := Status{
		ProtocolVersion: ProtocolVersion,
		PID:             4242,
		Process:         "game.exe",
		Engines: []EngineStatus{
			{HostModule: 0x400000, Version: "d3d11", Hooked: true, HookedObject: 0x1234},
		},
	}
	ln := startServer(t, func() Status { return want }, func(int) []logging.Entry { return nil })

	conn := ln.dial(t)
	defer conn.Close()

	if err := conn.SendTyped("req-1", TypeStatusRequest, nil); err != nil {
		t.Fatalf("send: %v", err)
	}
	env, err := conn.Recv()
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if env.Type != TypeStatus || env.ID != "req-1" {
		t.Fatalf("reply type=%q id=%q, want status/req-1", env.Type, env.ID)
	}

	var got Status
	if err := decodePayload(env, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.PID != want.PID || got.Process != want.Process {
		t.Fatalf("status = %+v, want %+v", got, want)
	}
	if len(got.Engines) != 1 || got.Engines[0].Version != "d3d11" || !got.Engines[0].Hooked {
		t.Fatalf("engines = %+v", got.Engines)
	}
}

func TestJournalRequestPassesMax(t *testing.T) {
	var gotMax int
	entries := []logging.Entry{{Level: "INFO", Component: "engine", Message: "hook installed"}}
	ln := startServer(t, func() Status { return Status{} }, func(max int) []logging.Entry {
		gotMax = max
		return entries
	})

	conn := ln.dial(t)
	defer conn.Close()

	if err := conn.SendTyped("req-1", TypeJournalRequest, JournalRequest{Max: 25}); err != nil {
		t.Fatalf("send: %v", err)
	}
	env, err := conn.Recv()
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if env.Type != TypeJournal {
		t.Fatalf("reply type = %q, want journal", env.Type)
	}
	if gotMax != 25 {
		t.Fatalf("journal provider saw max=%d, want 25", gotMax)
	}

	var got Journal
	if err := decodePayload(env, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Entries) != 1 || got.Entries[0].Message != "hook installed" {
		t.Fatalf("journal = %+v", got.Entries)
	}
}

func TestUnknownTypeGetsErrorReply(t *testing.T) {
	ln := startServer(t, func() Status { return Status{} }, func(int) []logging.Entry { return nil })

	conn := ln.dial(t)
	defer conn.Close()

	if err := conn.SendTyped("req-1", "desktop_start", nil); err != nil {
		t.Fatalf("send: %v", err)
	}
	env, err := conn.Recv()
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if env.Error == "" {
		t.Fatal("unknown type did not produce an error reply")
	}
}

func TestRecvRejectsReplayedSequence(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	cc := NewConn(client)
	sc := NewConn(server)

	go func() {
		cc.Send(&Envelope{ID: "a", Type: TypePing})
	}()
	if _, err := sc.Recv(); err != nil {
		t.Fatalf("first recv: %v", err)
	}

	// Replay the same sequence number by writing a raw envelope.
	go func() {
		env := &Envelope{ID: "b", Type: TypePing}
		cc.sendSeq.Store(0) // forces Seq back to 1
		cc.Send(env)
	}()
	if _, err := sc.Recv(); err == nil {
		t.Fatal("replayed sequence number was accepted")
	}
}
