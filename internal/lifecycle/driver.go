// Package lifecycle implements the timer/lifecycle driver (spec §4.8,
// component C8): a periodic tick that sweeps every active auction for
// warning/close transitions and ends rooms whose time has expired. Grounded
// on the teacher's state-transition-guard shape in `timeout/manager.go` (a
// status field read and set under the same lock that performs the action),
// repurposed from a circuit-breaker's open/half-open/closed states to an
// auction's active/ended state and a room's waiting/active/ended state.
package lifecycle

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/rivalapexmediation/auctionhouse/internal/auction"
	"github.com/rivalapexmediation/auctionhouse/internal/domain"
	"github.com/rivalapexmediation/auctionhouse/internal/room"
)

// DefaultInterval is the spec §4.8 tick period.
const DefaultInterval = 5 * time.Second

// Driver ticks the store for expired auctions and rooms.
type Driver struct {
	store    *domain.Store
	auctions *auction.Engine
	rooms    *room.Engine
	interval time.Duration
}

// New creates a Driver. interval <= 0 falls back to DefaultInterval.
func New(store *domain.Store, auctions *auction.Engine, rooms *room.Engine, interval time.Duration) *Driver {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Driver{store: store, auctions: auctions, rooms: rooms, interval: interval}
}

// Run ticks until ctx is cancelled. Intended to be launched in its own
// goroutine by cmd/server's composition root.
func (d *Driver) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	log.WithFields(log.Fields{"interval": d.interval}).Info("lifecycle driver started")
	for {
		select {
		case <-ctx.Done():
			log.Info("lifecycle driver stopped")
			return
		case <-ticker.C:
			d.Tick(time.Now())
		}
	}
}

// Tick performs one sweep pass: every active auction is evaluated for
// warning/close, then every non-ended room whose end_time has passed is
// closed. Auctions are swept before rooms so that, per SPEC_FULL.md's
// REDESIGN FLAGS #1, any auction still active in an expiring room emits
// AUCTION_ENDED before the room's ROOM_ENDED reaches the same clients.
//
// A room's own end_time is independent of any auction running inside it —
// CREATE_AUCTION's duration isn't bounded by the room's remaining time, and
// anti-snipe can push an auction's end_time out further still — so the
// ordinary per-auction sweep above can easily leave an auction active past
// its room's close. Closing the room around such an auction would strand
// it: members are ejected and can never rejoin, so it can never receive
// another bid, and its eventual AUCTION_ENDED would broadcast to an empty
// room. Before closing a room here, every auction still active in it is
// force-closed first via CloseNow, regardless of its own end_time.
func (d *Driver) Tick(now time.Time) {
	for _, a := range d.store.ActiveAuctions() {
		d.auctions.Sweep(a, now)
	}

	for _, r := range d.store.AllRooms() {
		if r.Status == domain.RoomEnded {
			continue
		}
		if now.After(r.EndTime) || now.Equal(r.EndTime) {
			for _, a := range d.store.AuctionsInRoom(r.RoomID) {
				if a.Status == domain.AuctionActive {
					d.auctions.CloseNow(a)
				}
			}
			d.rooms.Close(r.RoomID)
		}
	}
}
