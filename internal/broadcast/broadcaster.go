// Package broadcast implements the fan-out component (spec §4.7, C7):
// to_room, to_all, and to_session delivery, best-effort and non-blocking
// per recipient. It is grounded on the teacher's
// backend/auction/internal/bidding/engine.go runUnifiedFirstPrice shape —
// launch one goroutine per recipient, collect outcomes over a buffered
// channel — repurposed from "collect N concurrent bid responses" to "fan
// out one frame to N concurrent sockets without one slow socket blocking
// the others".
package broadcast

import (
	"net"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/rivalapexmediation/auctionhouse/internal/session"
)

// Disconnector is invoked for any recipient whose write failed, so the
// caller (the connection acceptor) can tear that connection down. Broadcast
// itself never closes a connection — per spec §4.7, "a write error on a
// recipient marks it for disconnection but does not abort the fan-out."
type Disconnector func(conn net.Conn)

// Broadcaster fans notifications out to sets of sessions. It holds no lock
// of its own and must never be called while the caller holds the domain
// store's lock (spec §5: "workers performing broadcasts MUST NOT hold the
// data lock across writes").
type Broadcaster struct {
	registry     *session.Registry
	onWriteError Disconnector
}

// New creates a Broadcaster over the given session registry.
func New(registry *session.Registry, onWriteError Disconnector) *Broadcaster {
	return &Broadcaster{registry: registry, onWriteError: onWriteError}
}

// ToRoom delivers frame to every live session currently in roomID, optionally
// excluding one connection (e.g. the bidder who triggered the notification).
func (b *Broadcaster) ToRoom(roomID int64, exclude net.Conn, frame string) {
	b.fanOut(b.registry.IterateRoomMembers(roomID, exclude), frame)
}

// ToAll delivers frame to every live session, optionally excluding one
// connection.
func (b *Broadcaster) ToAll(exclude net.Conn, frame string) {
	b.fanOut(b.registry.AllSessions(exclude), frame)
}

// ToSession delivers frame to exactly one session.
func (b *Broadcaster) ToSession(s *session.Session, frame string) {
	b.fanOut([]*session.Session{s}, frame)
}

func (b *Broadcaster) fanOut(targets []*session.Session, frame string) {
	if len(targets) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, s := range targets {
		wg.Add(1)
		go func(s *session.Session) {
			defer wg.Done()
			if err := s.Write([]byte(frame)); err != nil {
				log.WithFields(log.Fields{
					"uid":   s.UID,
					"trace": s.TraceID,
					"error": err,
				}).Warn("broadcast write failed, marking recipient for disconnect")
				if b.onWriteError != nil {
					b.onWriteError(s.Conn)
				}
			}
		}(s)
	}
	wg.Wait()
}
