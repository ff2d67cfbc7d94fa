// Package server implements the connection acceptor (spec §2/§4.9,
// component C9): a net.Listen accept loop spawning one goroutine per
// connection, grounded on the teacher's goroutine-per-adapter-request
// fan-out idiom and on the general accept-loop shape used throughout the
// corpus for raw-socket servers (e.g. marmos91-dittofs's portmap/NFS
// per-connection servers), here adapted from framed binary RPC to the
// line-text protocol of internal/protocol.
package server

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/rivalapexmediation/auctionhouse/internal/dispatch"
	"github.com/rivalapexmediation/auctionhouse/internal/protocol"
	"github.com/rivalapexmediation/auctionhouse/internal/room"
	"github.com/rivalapexmediation/auctionhouse/internal/session"
)

// Acceptor owns the TCP listener and the per-connection worker goroutines.
type Acceptor struct {
	listener net.Listener
	disp     *dispatch.Dispatcher
	sessions *session.Registry
	rooms    *room.Engine

	shutdown     chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup
}

// New binds addr and returns an Acceptor ready to Serve.
func New(addr string, disp *dispatch.Dispatcher, sessions *session.Registry, rooms *room.Engine) (*Acceptor, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Acceptor{
		listener: ln,
		disp:     disp,
		sessions: sessions,
		rooms:    rooms,
		shutdown: make(chan struct{}),
	}, nil
}

// Addr returns the bound listener address (useful when addr was ":0" in tests).
func (a *Acceptor) Addr() net.Addr { return a.listener.Addr() }

// Serve accepts connections until ctx is cancelled or Stop is called,
// spawning one goroutine per connection. It blocks until every in-flight
// connection has been torn down.
func (a *Acceptor) Serve(ctx context.Context) {
	go func() {
		<-ctx.Done()
		a.Stop()
	}()

	log.WithFields(log.Fields{"addr": a.listener.Addr().String()}).Info("acceptor listening")
	for {
		conn, err := a.listener.Accept()
		if err != nil {
			select {
			case <-a.shutdown:
			default:
				log.WithFields(log.Fields{"error": err}).Warn("accept error")
			}
			break
		}
		a.wg.Add(1)
		go a.handle(conn)
	}
	a.wg.Wait()
}

// Stop closes the listener, unblocking Accept. Idempotent.
func (a *Acceptor) Stop() {
	a.shutdownOnce.Do(func() {
		close(a.shutdown)
		_ = a.listener.Close()
	})
}

// handle owns one connection's full lifecycle: read loop, dispatch, and
// orderly teardown (detach + room auto-leave) on EOF, read error, or a
// dispatcher-signalled close (QUIT). A force-logout closes this connection
// from the new login's goroutine, which ends the read loop with an error.
func (a *Acceptor) handle(conn net.Conn) {
	defer a.wg.Done()
	defer a.teardown(conn)

	traceID := uuid.NewString()

	// scanner.Buffer hard-caps accumulated bytes per line at MaxFrameSize: a
	// plain bufio.Reader sized to MaxFrameSize+1 (the prior approach) only
	// bounds ReadString's internal buffer, not the string it keeps appending
	// to while hunting for '\n' — a client sending an unterminated stream
	// could accumulate arbitrarily past the configured size before
	// protocol.ParseLine's own length check ever ran. Passing the same size
	// as both the initial buffer and the max forbids Scanner from growing it.
	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, protocol.MaxFrameSize), protocol.MaxFrameSize)

	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		req, perr := protocol.ParseLine(line)
		if perr != nil {
			_, _ = conn.Write([]byte(protocol.Error(perr.Error())))
			continue
		}
		outcome := a.disp.Handle(conn, req, traceID)
		if outcome.Frame != "" {
			if werr := a.write(conn, outcome.Frame); werr != nil {
				return
			}
		}
		if outcome.Close {
			return
		}
	}
	if err := sc.Err(); err != nil && errors.Is(err, bufio.ErrTooLong) {
		_, _ = conn.Write([]byte(protocol.Error(protocol.ErrFrameTooLarge.Error())))
	}
}

// write serializes through the session's write mutex when one exists (an
// authenticated connection), falling back to a direct write for
// pre-authentication frames (REGISTER/LOGIN responses, or errors).
func (a *Acceptor) write(conn net.Conn, frame string) error {
	if s := a.sessions.LookupByConn(conn); s != nil {
		return s.Write([]byte(frame))
	}
	_, err := conn.Write([]byte(frame))
	return err
}

func (a *Acceptor) teardown(conn net.Conn) {
	s := a.sessions.Detach(conn)
	_ = conn.Close()
	if s == nil {
		return
	}
	a.rooms.Leave(s)
	log.WithFields(log.Fields{"uid": s.UID, "username": s.Username}).Info("connection closed")
}
