package ipc

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"time"

	"github.com/hydrahook/hydrahook/internal/logging"
)

var log = logging.L("ipc")

// connDeadline bounds one request/response exchange. Diagnostics clients
// are local; anything slower is a wedged peer.
const connDeadline = 30 * time.Second

// Server answers status and journal queries over a listener. Providers are
// injected so the server stays decoupled from engine internals.
type Server struct {
	status  func() Status
	journal func(max int) []logging.Entry
	ln      net.Listener
	done    chan struct{}
}

// NewServer builds a server over the given providers.
func NewServer(status func() Status, journal func(max int) []logging.Entry) *Server {
	return &Server{
		status:  status,
		journal: journal,
		done:    make(chan struct{}),
	}
}

// Serve accepts connections until the listener closes. Each connection is
// handled on its own goroutine; per-connection errors are logged only.
func (s *Server) Serve(ln net.Listener) {
	s.ln = ln
	defer close(s.done)
	for {
		conn, err := ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				log.Warn("accept failed", logging.KeyError, err)
			}
			return
		}
		go s.handle(NewConn(conn))
	}
}

// Close stops accepting and waits for the accept loop to return.
func (s *Server) Close() {
	if s.ln != nil {
		s.ln.Close()
		<-s.done
	}
}

func (s *Server) handle(conn *Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(connDeadline))

	for {
		env, err := conn.Recv()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug("connection dropped", logging.KeyError, err)
			}
			return
		}
		conn.SetDeadline(time.Now().Add(connDeadline))

		switch env.Type {
		case TypePing:
			err = conn.SendTyped(env.ID, TypePong, nil)
		case TypeStatusRequest:
			err = conn.SendTyped(env.ID, TypeStatus, s.status())
		case TypeJournalRequest:
			var req JournalRequest
			if env.Payload != nil {
				if perr := json.Unmarshal(env.Payload, &req); perr != nil {
					err = conn.SendError(env.ID, TypeJournal, perr.Error())
					break
				}
			}
			err = conn.SendTyped(env.ID, TypeJournal, Journal{Entries: s.journal(req.Max)})
		default:
			err = conn.SendError(env.ID, env.Type, "unknown message type")
		}
		if err != nil {
			log.Debug("reply failed", logging.KeyError, err)
			return
		}
	}
}
