// Package domain owns the in-memory auction-house entities (users, rooms,
// auctions, bids) and their invariants. It is the sole writer of this state;
// every other package reaches it through Store's locked methods.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// UserStatus is the lifecycle state of a registered user.
type UserStatus string

const (
	UserActive   UserStatus = "active"
	UserDisabled UserStatus = "disabled"
)

// User is a registered account.
type User struct {
	UID       int64
	Username  string
	Verifier  CredentialVerifier
	Balance   decimal.Decimal
	Reserved  decimal.Decimal
	Status    UserStatus
	CreatedAt time.Time
}

// Available is the balance not currently held against an outstanding high bid.
func (u *User) Available() decimal.Decimal {
	return u.Balance.Sub(u.Reserved)
}

// CredentialVerifier checks a plaintext password against an opaque stored
// verifier. The domain store never hashes or salts — that hygiene is an
// external collaborator's job per spec §1.
type CredentialVerifier interface {
	Verify(password string) bool
}

// PlainVerifier is the simplest possible verifier: exact string match. A
// production deployment supplies a real CredentialVerifier (bcrypt, etc.);
// this implementation exists so the core is runnable standalone.
type PlainVerifier string

func (p PlainVerifier) Verify(password string) bool { return string(p) == password }

// RoomStatus is the lifecycle state of a room.
type RoomStatus string

const (
	RoomWaiting RoomStatus = "waiting"
	RoomActive  RoomStatus = "active"
	RoomEnded   RoomStatus = "ended"
)

// Room is a time-bounded container scoping auction visibility and broadcast.
type Room struct {
	RoomID               int64
	Name                 string
	Description          string
	MaxParticipants       int
	CurrentParticipants   int
	Status                RoomStatus
	StartTime             time.Time
	EndTime               time.Time
	CreatorUID            int64
	TotalAuctions         int
}

// TimeLeft returns the whole seconds remaining until EndTime, floored at 0.
func (r *Room) TimeLeft(now time.Time) int64 {
	return secondsLeft(r.EndTime, now)
}

// AuctionStatus is the lifecycle state of an auction.
type AuctionStatus string

const (
	AuctionActive AuctionStatus = "active"
	AuctionEnded  AuctionStatus = "ended"
)

// Auction is a single ascending-bid listing inside a room.
type Auction struct {
	AuctionID       int64
	SellerUID       int64
	RoomID          int64
	Title           string
	Description     string
	StartPrice      decimal.Decimal
	CurrentPrice    decimal.Decimal
	BuyNowPrice     decimal.Decimal // zero means disabled
	MinBidIncrement decimal.Decimal
	StartTime       time.Time
	EndTime         time.Time
	Status          AuctionStatus
	WinnerUID       int64 // 0 = none
	TotalBids       int
	WarningSent     bool
	SettledMethod   string // "buy_now", "bid", "no_bids" — set at close
}

// TimeLeft returns the whole seconds remaining until EndTime, floored at 0.
func (a *Auction) TimeLeft(now time.Time) int64 {
	return secondsLeft(a.EndTime, now)
}

func secondsLeft(end, now time.Time) int64 {
	d := end.Sub(now)
	if d <= 0 {
		return 0
	}
	return int64(d / time.Second)
}

// Bid is an append-only record of one accepted offer on an auction.
type Bid struct {
	BidID     int64
	AuctionID int64
	BidderUID int64
	Amount    decimal.Decimal
	Timestamp time.Time
}
