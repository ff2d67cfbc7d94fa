// Package auction implements the auction engine (spec §4.5, component C5):
// auction creation, bid validation and acceptance, anti-snipe extension, and
// buy-now settlement, using the reservation ledger from SPEC_FULL.md §3 to
// resolve the spec's debit-timing Open Question. Grounded on the teacher's
// `backend/auction/internal/bidding/engine.go` — its struct-plus-mutex shape
// and `log.WithFields(...).Info("Auction completed")` completion logging —
// adapted from a one-shot multi-adapter winner-selection auction (request
// in, winner out, discarded) to a long-lived ascending-price auction record
// that accepts repeated bids over its lifetime.
package auction

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/rivalapexmediation/auctionhouse/internal/broadcast"
	"github.com/rivalapexmediation/auctionhouse/internal/domain"
	"github.com/rivalapexmediation/auctionhouse/internal/ledger"
	"github.com/rivalapexmediation/auctionhouse/internal/protocol"
	"github.com/rivalapexmediation/auctionhouse/internal/session"
)

// antiSnipeWindow is the spec §4.5 extension trigger: a bid accepted with
// less than this much time left pushes end_time to now+antiSnipeWindow.
const antiSnipeWindow = 30 * time.Second

// warningLow/warningHigh bound the spec §4.8 "(25,30]" warning window.
const (
	warningLow  = 25 * time.Second
	warningHigh = 30 * time.Second
)

// Tracer optionally wraps bid acceptance and auction-close in a tracing
// span. A nil Tracer disables tracing entirely; internal/telemetry supplies
// the OTel-backed implementation wired in cmd/server, grounded on
// `backend/auction/internal/bidders/otel_tracer.go`.
type Tracer interface {
	StartSpan(name string) func(err error)
}

// Engine coordinates bid/buy-now/close logic over the domain store, session
// registry, reservation ledger, and broadcaster. It holds no state of its
// own beyond its collaborators.
type Engine struct {
	store       *domain.Store
	sessions    *session.Registry
	ledger      *ledger.Ledger
	broadcast   *broadcast.Broadcaster
	tracer      Tracer
	snipeWindow time.Duration
}

// New creates an auction Engine. tracer may be nil. snipeWindow <= 0 falls
// back to the spec's antiSnipeWindow default; internal/config surfaces this
// as ANTI_SNIPE_WINDOW_SECONDS for operators who need to tune it.
func New(store *domain.Store, sessions *session.Registry, l *ledger.Ledger, b *broadcast.Broadcaster, tracer Tracer, snipeWindow time.Duration) *Engine {
	if snipeWindow <= 0 {
		snipeWindow = antiSnipeWindow
	}
	return &Engine{store: store, sessions: sessions, ledger: l, broadcast: b, tracer: tracer, snipeWindow: snipeWindow}
}

func (e *Engine) span(name string) func(err error) {
	if e.tracer == nil {
		return func(error) {}
	}
	return e.tracer.StartSpan(name)
}

// Create allocates a new active auction in room, owned by sellerUID, copying
// start_price into current_price (spec §4.5). Preconditions — caller is the
// room creator and currently in that room — are the dispatcher's
// responsibility (spec §4.4's precondition table).
func (e *Engine) Create(room *domain.Room, sellerUID int64, title, description string, startPrice, buyNowPrice, minIncrement decimal.Decimal, duration time.Duration) (*domain.Auction, error) {
	now := time.Now()
	a := &domain.Auction{
		SellerUID:       sellerUID,
		RoomID:          room.RoomID,
		Title:           title,
		Description:     description,
		StartPrice:      startPrice,
		CurrentPrice:    startPrice,
		BuyNowPrice:     buyNowPrice,
		MinBidIncrement: minIncrement,
		StartTime:       now,
		EndTime:         now.Add(duration),
		Status:          domain.AuctionActive,
	}
	if err := e.store.AppendAuction(a); err != nil {
		return nil, err
	}

	e.broadcast.ToRoom(room.RoomID, nil, notifyNewAuction(a, now))
	log.WithFields(log.Fields{"auction_id": a.AuctionID, "room_id": room.RoomID, "seller_uid": sellerUID}).Info("auction created")
	return a, nil
}

// PlaceBid accepts (auction_id, bidder, amount) per the six rules in spec
// §4.5, reserving the bidder's funds and releasing the previous high
// bidder's reservation inside the same store-lock critical section that
// appends the bid, so event ordering matches acceptance order (spec §5).
func (e *Engine) PlaceBid(bidder *session.Session, auctionID int64, amount decimal.Decimal) (*domain.Auction, error) {
	end := e.span("auction.place_bid")

	var (
		a        *domain.Auction
		extended bool
	)

	e.store.Lock()
	a = e.store.FindAuctionLocked(auctionID)
	now := time.Now()

	switch {
	case a == nil:
		e.store.Unlock()
		end(domain.ErrAuctionNotFound)
		return nil, domain.ErrAuctionNotFound
	case a.Status != domain.AuctionActive || now.After(a.EndTime):
		e.store.Unlock()
		end(domain.ErrAuctionNotActive)
		return nil, domain.ErrAuctionNotActive
	case bidder.UID == a.SellerUID:
		e.store.Unlock()
		end(domain.ErrSelfBid)
		return nil, domain.ErrSelfBid
	case bidder.CurrentRoomID != a.RoomID:
		e.store.Unlock()
		end(domain.ErrWrongRoom)
		return nil, domain.ErrWrongRoom
	}

	floor := a.CurrentPrice.Add(a.MinBidIncrement)
	if amount.LessThan(floor) {
		e.store.Unlock()
		end(domain.ErrBidTooLow)
		return nil, domain.ErrBidTooLow
	}

	bidderUser := e.store.FindUserByUIDLocked(bidder.UID)
	if bidderUser == nil {
		e.store.Unlock()
		end(domain.ErrUserNotFound)
		return nil, domain.ErrUserNotFound
	}

	var prevWinner *domain.User
	prevAmount := a.CurrentPrice
	if a.WinnerUID != 0 {
		prevWinner = e.store.FindUserByUIDLocked(a.WinnerUID)
	}

	// Pre-check funds before mutating anything: account for the case where
	// the bidder is out-bidding their own previous high bid, whose
	// reservation is about to be released back to them.
	available := bidderUser.Available()
	if prevWinner == bidderUser {
		available = available.Add(prevAmount)
	}
	if available.LessThan(amount) {
		e.store.Unlock()
		end(domain.ErrInsufficientFunds)
		return nil, domain.ErrInsufficientFunds
	}

	// Append the bid row first: it is the only step that can still fail
	// (storage at capacity), and failing here leaves no other state to
	// unwind.
	if err := e.store.AppendBidLocked(&domain.Bid{AuctionID: auctionID, BidderUID: bidder.UID, Amount: amount, Timestamp: now}); err != nil {
		e.store.Unlock()
		end(err)
		return nil, err
	}

	if prevWinner != nil {
		e.ledger.Release(prevWinner, prevAmount)
	}
	if err := e.ledger.Reserve(bidderUser, amount); err != nil {
		// Unreachable given the pre-check above; logged defensively.
		log.WithFields(log.Fields{"auction_id": auctionID, "bidder_uid": bidder.UID, "error": err}).Error("reserve failed after funds pre-check passed")
	}

	a.CurrentPrice = amount
	a.WinnerUID = bidder.UID
	a.TotalBids++

	if remaining := a.EndTime.Sub(now); remaining < e.snipeWindow && remaining > 0 {
		a.EndTime = now.Add(e.snipeWindow)
		extended = true
	}

	frame := notifyNewBid(a, bidder.Username, amount, now, extended)
	e.store.Unlock()

	e.broadcast.ToRoom(a.RoomID, bidder.Conn, frame)
	log.WithFields(log.Fields{"auction_id": auctionID, "bidder_uid": bidder.UID, "amount": amount, "extended": extended}).Info("bid accepted")
	end(nil)
	return a, nil
}

// BuyNow executes the immediate-purchase path (spec §4.5): atomically debits
// the buyer, credits the seller, and ends the auction in the buyer's favor.
func (e *Engine) BuyNow(buyer *session.Session, auctionID int64) (*domain.Auction, error) {
	end := e.span("auction.buy_now")

	e.store.Lock()
	a := e.store.FindAuctionLocked(auctionID)
	now := time.Now()

	switch {
	case a == nil:
		e.store.Unlock()
		end(domain.ErrAuctionNotFound)
		return nil, domain.ErrAuctionNotFound
	case a.Status != domain.AuctionActive || now.After(a.EndTime):
		e.store.Unlock()
		end(domain.ErrAuctionNotActive)
		return nil, domain.ErrAuctionNotActive
	case a.BuyNowPrice.IsZero():
		e.store.Unlock()
		end(domain.ErrNoBuyNow)
		return nil, domain.ErrNoBuyNow
	case buyer.UID == a.SellerUID:
		e.store.Unlock()
		end(domain.ErrSelfBid)
		return nil, domain.ErrSelfBid
	case buyer.CurrentRoomID != a.RoomID:
		e.store.Unlock()
		end(domain.ErrWrongRoom)
		return nil, domain.ErrWrongRoom
	}

	buyerUser := e.store.FindUserByUIDLocked(buyer.UID)
	seller := e.store.FindUserByUIDLocked(a.SellerUID)
	if buyerUser == nil || seller == nil {
		e.store.Unlock()
		end(domain.ErrUserNotFound)
		return nil, domain.ErrUserNotFound
	}

	// A buyer who is also the current high bidder gets that reservation back
	// before paying; it is restored if the transfer fails.
	var buyerHeld decimal.Decimal
	if a.WinnerUID == buyer.UID {
		buyerHeld = a.CurrentPrice
		e.ledger.Release(buyerUser, buyerHeld)
	}
	if err := e.ledger.DebitCredit(buyerUser, seller, a.BuyNowPrice); err != nil {
		if buyerHeld.IsPositive() {
			_ = e.ledger.Reserve(buyerUser, buyerHeld)
		}
		e.store.Unlock()
		end(err)
		return nil, err
	}
	if a.WinnerUID != 0 && a.WinnerUID != buyer.UID {
		if prevWinner := e.store.FindUserByUIDLocked(a.WinnerUID); prevWinner != nil {
			e.ledger.Release(prevWinner, a.CurrentPrice)
		}
	}

	a.CurrentPrice = a.BuyNowPrice
	a.WinnerUID = buyer.UID
	a.Status = domain.AuctionEnded
	a.SettledMethod = "buy_now"

	frame := notifyAuctionEnded(a, buyer.Username)
	e.store.Unlock()

	e.broadcast.ToRoom(a.RoomID, nil, frame)
	log.WithFields(log.Fields{"auction_id": auctionID, "buyer_uid": buyer.UID, "price": a.BuyNowPrice}).Info("auction closed via buy-now")
	end(nil)
	return a, nil
}

// Sweep evaluates one active auction against now, performing the
// close-or-warn transition from spec §4.8. Idempotent: a closed auction is
// left untouched, and a warning fires at most once per auction via
// Auction.WarningSent. Called by the lifecycle driver (C8) for every active
// auction on each tick.
func (e *Engine) Sweep(a *domain.Auction, now time.Time) {
	e.store.Lock()
	if a.Status != domain.AuctionActive {
		e.store.Unlock()
		return
	}

	remaining := a.EndTime.Sub(now)
	switch {
	case remaining <= 0:
		e.closeExpiredLocked(a)
		winnerName := e.winnerUsernameLocked(a)
		e.store.Unlock()
		e.broadcast.ToRoom(a.RoomID, nil, notifyAuctionEnded(a, winnerName))
		log.WithFields(log.Fields{"auction_id": a.AuctionID, "winner_uid": a.WinnerUID, "final_price": a.CurrentPrice}).Info("auction closed on timer")
	case remaining <= warningHigh && remaining > warningLow && !a.WarningSent:
		a.WarningSent = true
		e.store.Unlock()
		e.broadcast.ToRoom(a.RoomID, nil, notifyAuctionWarning(a, now))
	default:
		e.store.Unlock()
	}
}

// CloseNow force-closes a still-active auction regardless of its own
// EndTime, settling whatever winner currently holds it exactly as a timed
// close would. Idempotent: a no-op if a is already ended. Used by the
// lifecycle driver (C8) to end every auction still active in a room whose
// own end_time has arrived, so a room never closes out from under an
// auction that would otherwise outlive it (SPEC_FULL.md REDESIGN FLAGS #1).
func (e *Engine) CloseNow(a *domain.Auction) {
	e.store.Lock()
	if a.Status != domain.AuctionActive {
		e.store.Unlock()
		return
	}
	e.closeExpiredLocked(a)
	winnerName := e.winnerUsernameLocked(a)
	e.store.Unlock()

	e.broadcast.ToRoom(a.RoomID, nil, notifyAuctionEnded(a, winnerName))
	log.WithFields(log.Fields{"auction_id": a.AuctionID, "winner_uid": a.WinnerUID, "final_price": a.CurrentPrice}).Info("auction force-closed on room end")
}

// closeExpiredLocked assumes the store lock is held. It settles the winner's
// reservation (if any) into a real debit/credit pair.
func (e *Engine) closeExpiredLocked(a *domain.Auction) {
	a.Status = domain.AuctionEnded
	if a.WinnerUID == 0 {
		a.SettledMethod = "no_bids"
		return
	}
	winner := e.store.FindUserByUIDLocked(a.WinnerUID)
	seller := e.store.FindUserByUIDLocked(a.SellerUID)
	if winner != nil && seller != nil {
		if err := e.ledger.Settle(winner, seller, a.CurrentPrice); err != nil {
			log.WithFields(log.Fields{"auction_id": a.AuctionID, "error": err}).Error("settle failed at timed close")
		}
	}
	a.SettledMethod = "bid"
}

func (e *Engine) winnerUsernameLocked(a *domain.Auction) string {
	if a.WinnerUID == 0 {
		return "No bids"
	}
	if u := e.store.FindUserByUIDLocked(a.WinnerUID); u != nil {
		return u.Username
	}
	return "No bids"
}

func notifyNewAuction(a *domain.Auction, now time.Time) string {
	return protocol.Notification("NEW_AUCTION",
		itoa(a.AuctionID), a.Title, domain.FormatMoney(a.StartPrice), domain.FormatMoney(a.BuyNowPrice),
		domain.FormatMoney(a.MinBidIncrement), itoa(a.TimeLeft(now)))
}

func notifyNewBid(a *domain.Auction, bidderUsername string, amount decimal.Decimal, now time.Time, extended bool) string {
	if extended {
		return protocol.Notification("NEW_BID_WARNING",
			itoa(a.AuctionID), bidderUsername, domain.FormatMoney(amount), itoa(int64(a.TotalBids)), itoa(a.TimeLeft(now)))
	}
	return protocol.Notification("NEW_BID", itoa(a.AuctionID), bidderUsername, domain.FormatMoney(amount), itoa(int64(a.TotalBids)))
}

func notifyAuctionWarning(a *domain.Auction, now time.Time) string {
	return protocol.Notification("AUCTION_WARNING", itoa(a.AuctionID), a.Title, domain.FormatMoney(a.CurrentPrice), itoa(a.TimeLeft(now)))
}

func notifyAuctionEnded(a *domain.Auction, winnerUsername string) string {
	if winnerUsername == "" {
		winnerUsername = "No bids"
	}
	return protocol.Notification("AUCTION_ENDED", itoa(a.AuctionID), a.Title, winnerUsername, domain.FormatMoney(a.CurrentPrice), itoa(int64(a.TotalBids)))
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }
