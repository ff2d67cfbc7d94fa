// Package room implements the room engine (spec §4.6, component C6):
// creation, join/leave, capacity, room-creator privileges, and the
// time-driven close that the source left under-specified (SPEC_FULL.md
// REDESIGN FLAGS #1: a closing room ejects every member and ends any
// still-active auctions in it). Grounded on the teacher's manager-over-a-
// shared-store shape (`backend/auction/internal/waterfall/manager.go`), with
// the store/session/broadcast wiring replacing that manager's Redis client.
package room

import (
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/rivalapexmediation/auctionhouse/internal/broadcast"
	"github.com/rivalapexmediation/auctionhouse/internal/domain"
	"github.com/rivalapexmediation/auctionhouse/internal/protocol"
	"github.com/rivalapexmediation/auctionhouse/internal/session"
)

// Engine coordinates room lifecycle over the domain store, session registry,
// and broadcaster. It holds no state of its own.
type Engine struct {
	store     *domain.Store
	sessions  *session.Registry
	broadcast *broadcast.Broadcaster
}

// New creates a room Engine.
func New(store *domain.Store, sessions *session.Registry, b *broadcast.Broadcaster) *Engine {
	return &Engine{store: store, sessions: sessions, broadcast: b}
}

// Create allocates a room and immediately joins the creator (atomic with
// creation per spec §4.6), then announces it to every other live session.
func (e *Engine) Create(creator *session.Session, name, description string, maxParticipants int, duration time.Duration) (*domain.Room, error) {
	r, err := e.store.AppendRoom(name, description, maxParticipants, duration, creator.UID)
	if err != nil {
		return nil, err
	}
	if _, err := e.store.JoinRoom(r.RoomID); err != nil {
		return nil, err
	}
	e.sessions.SetCurrentRoom(creator.UID, r.RoomID)

	e.broadcast.ToAll(creator.Conn, notifyNewRoom(r, creator.Username))
	log.WithFields(log.Fields{"room_id": r.RoomID, "name": r.Name, "creator": creator.Username}).Info("room created")
	return r, nil
}

// Join admits uid into roomID, rejecting per spec §4.4/§4.6: room missing,
// ended, full, or the caller already holding another room (checked by the
// dispatcher against session.CurrentRoomID before calling Join).
func (e *Engine) Join(s *session.Session, roomID int64) (*domain.Room, error) {
	r, err := e.store.JoinRoom(roomID)
	if err != nil {
		return nil, err
	}
	e.sessions.SetCurrentRoom(s.UID, roomID)
	e.broadcast.ToRoom(roomID, s.Conn, notifyUserJoined(s.Username, roomID))
	log.WithFields(log.Fields{"room_id": roomID, "username": s.Username}).Info("user joined room")
	return r, nil
}

// Leave removes s from its current room, if any. A no-op returning nil if
// the session is not currently in a room.
//
// Leave reads s.CurrentRoomID without taking the session registry's lock.
// This is safe only because every caller invokes Leave with the Session
// already returned by a successful session.Registry.Detach: Detach and
// SetCurrentRoom share the registry's mutex, so Detach returning happens
// after any prior SetCurrentRoom write to this field, and Detach having
// removed s from the uid index means no future SetCurrentRoom call can
// reach this particular Session again. Detach is itself idempotent (a
// second Detach of the same conn returns nil), so concurrent teardown paths
// (e.g. the acceptor's own close vs. a broadcaster write-failure callback)
// can never both reach Leave for the same session.
func (e *Engine) Leave(s *session.Session) *domain.Room {
	roomID := s.CurrentRoomID
	if roomID == 0 {
		return nil
	}
	r := e.store.LeaveRoom(roomID)
	e.sessions.SetCurrentRoom(s.UID, 0)
	e.broadcast.ToRoom(roomID, s.Conn, notifyUserLeft(s.Username, roomID))
	log.WithFields(log.Fields{"room_id": roomID, "username": s.Username}).Info("user left room")
	return r
}

// Close ends roomID (idempotent), ejecting every current member's room
// pointer to 0 and broadcasting a room-ended notification before membership
// is cleared, per SPEC_FULL.md's redesigned time-driven close. Close itself
// has no notion of auctions: it is lifecycle.Driver.Tick's job to force-close
// every still-active auction in roomID (via auction.Engine.CloseNow) before
// calling Close, so clients always observe AUCTION_ENDED before ROOM_ENDED
// for any auction that would otherwise outlive its room.
func (e *Engine) Close(roomID int64) {
	r := e.store.EndRoom(roomID)
	if r == nil {
		return
	}

	members := e.sessions.IterateRoomMembers(roomID, nil)
	e.broadcast.ToRoom(roomID, nil, notifyRoomEnded(r))
	for _, m := range members {
		e.sessions.SetCurrentRoom(m.UID, 0)
	}
	log.WithFields(log.Fields{"room_id": roomID, "name": r.Name, "members_ejected": len(members)}).Info("room closed, members ejected")
}

func notifyNewRoom(r *domain.Room, creatorUsername string) string {
	return protocol.Notification("NEW_ROOM", strconv.FormatInt(r.RoomID, 10), r.Name, creatorUsername, strconv.Itoa(r.MaxParticipants))
}

func notifyUserJoined(username string, roomID int64) string {
	return protocol.Notification("USER_JOINED", username, strconv.FormatInt(roomID, 10))
}

func notifyUserLeft(username string, roomID int64) string {
	return protocol.Notification("USER_LEFT", username, strconv.FormatInt(roomID, 10))
}

func notifyRoomEnded(r *domain.Room) string {
	return protocol.Notification("ROOM_ENDED", strconv.FormatInt(r.RoomID, 10), r.Name)
}
