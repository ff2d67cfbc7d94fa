package domain

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
)

// snapshotDoc is the durable, point-in-time serialization of the four
// collections (spec §6's "persisted layout"). This implementation uses one
// self-describing JSON document rather than four fixed-size-record flat
// files — spec §6 explicitly permits this ("MAY use a length-prefixed
// self-describing format provided it documents migration"); there is no
// prior on-disk format here to migrate from.
type snapshotDoc struct {
	Users    []snapshotUser    `json:"users"`
	Rooms    []snapshotRoom    `json:"rooms"`
	Auctions []snapshotAuction `json:"auctions"`
	Bids     []snapshotBid     `json:"bids"`
}

type snapshotUser struct {
	UID       int64           `json:"uid"`
	Username  string          `json:"username"`
	Password  string          `json:"password"` // opaque verifier text; see PlainVerifier
	Balance   decimal.Decimal `json:"balance"`
	Reserved  decimal.Decimal `json:"reserved"`
	Status    UserStatus      `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
}

type snapshotRoom struct {
	RoomID              int64      `json:"room_id"`
	Name                string     `json:"name"`
	Description         string     `json:"description"`
	MaxParticipants     int        `json:"max_participants"`
	CurrentParticipants int        `json:"current_participants"`
	Status              RoomStatus `json:"status"`
	StartTime           time.Time  `json:"start_time"`
	EndTime             time.Time  `json:"end_time"`
	CreatorUID          int64      `json:"creator_uid"`
	TotalAuctions       int        `json:"total_auctions"`
}

type snapshotAuction struct {
	AuctionID       int64           `json:"auction_id"`
	SellerUID       int64           `json:"seller_uid"`
	RoomID          int64           `json:"room_id"`
	Title           string          `json:"title"`
	Description     string          `json:"description"`
	StartPrice      decimal.Decimal `json:"start_price"`
	CurrentPrice    decimal.Decimal `json:"current_price"`
	BuyNowPrice     decimal.Decimal `json:"buy_now_price"`
	MinBidIncrement decimal.Decimal `json:"min_bid_increment"`
	StartTime       time.Time       `json:"start_time"`
	EndTime         time.Time       `json:"end_time"`
	Status          AuctionStatus   `json:"status"`
	WinnerUID       int64           `json:"winner_uid"`
	TotalBids       int             `json:"total_bids"`
	WarningSent     bool            `json:"warning_sent"`
	SettledMethod   string          `json:"settled_method"`
}

type snapshotBid struct {
	BidID     int64           `json:"bid_id"`
	AuctionID int64           `json:"auction_id"`
	BidderUID int64           `json:"bidder_uid"`
	Amount    decimal.Decimal `json:"amount"`
	Timestamp time.Time       `json:"timestamp"`
}

// Snapshot writes a point-in-time copy of all four collections to path,
// atomically: the document is written to a sibling temp file and then
// renamed into place, so a reader of path sees either the pre- or post-op
// state, never a partial write (spec §4.1).
func (s *Store) Snapshot(path string) error {
	s.mu.RLock()
	doc := s.buildSnapshotLocked()
	s.mu.RUnlock()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename snapshot into place: %w", err)
	}
	return nil
}

func (s *Store) buildSnapshotLocked() snapshotDoc {
	doc := snapshotDoc{}
	for _, u := range s.users {
		verifier := ""
		if pv, ok := u.Verifier.(PlainVerifier); ok {
			verifier = string(pv)
		}
		doc.Users = append(doc.Users, snapshotUser{
			UID: u.UID, Username: u.Username, Password: verifier,
			Balance: u.Balance, Reserved: u.Reserved, Status: u.Status, CreatedAt: u.CreatedAt,
		})
	}
	for _, r := range s.rooms {
		doc.Rooms = append(doc.Rooms, snapshotRoom{
			RoomID: r.RoomID, Name: r.Name, Description: r.Description,
			MaxParticipants: r.MaxParticipants, CurrentParticipants: r.CurrentParticipants,
			Status: r.Status, StartTime: r.StartTime, EndTime: r.EndTime,
			CreatorUID: r.CreatorUID, TotalAuctions: r.TotalAuctions,
		})
	}
	for _, a := range s.auctions {
		doc.Auctions = append(doc.Auctions, snapshotAuction{
			AuctionID: a.AuctionID, SellerUID: a.SellerUID, RoomID: a.RoomID,
			Title: a.Title, Description: a.Description,
			StartPrice: a.StartPrice, CurrentPrice: a.CurrentPrice,
			BuyNowPrice: a.BuyNowPrice, MinBidIncrement: a.MinBidIncrement,
			StartTime: a.StartTime, EndTime: a.EndTime, Status: a.Status,
			WinnerUID: a.WinnerUID, TotalBids: a.TotalBids,
			WarningSent: a.WarningSent, SettledMethod: a.SettledMethod,
		})
	}
	for _, b := range s.bids {
		doc.Bids = append(doc.Bids, snapshotBid{
			BidID: b.BidID, AuctionID: b.AuctionID, BidderUID: b.BidderUID,
			Amount: b.Amount, Timestamp: b.Timestamp,
		})
	}
	return doc
}

// Load replaces the store's contents with the snapshot at path. If path does
// not exist, Load is a no-op success (fresh start).
func (s *Store) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read snapshot: %w", err)
	}

	var doc snapshotDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("unmarshal snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.users = s.users[:0]
	s.usersByName = make(map[string]*User, len(doc.Users))
	for _, su := range doc.Users {
		u := &User{
			UID: su.UID, Username: su.Username, Verifier: PlainVerifier(su.Password),
			Balance: su.Balance, Reserved: su.Reserved, Status: su.Status, CreatedAt: su.CreatedAt,
		}
		s.users = append(s.users, u)
		s.usersByName[u.Username] = u
	}

	s.rooms = s.rooms[:0]
	for _, sr := range doc.Rooms {
		s.rooms = append(s.rooms, &Room{
			RoomID: sr.RoomID, Name: sr.Name, Description: sr.Description,
			MaxParticipants: sr.MaxParticipants, CurrentParticipants: sr.CurrentParticipants,
			Status: sr.Status, StartTime: sr.StartTime, EndTime: sr.EndTime,
			CreatorUID: sr.CreatorUID, TotalAuctions: sr.TotalAuctions,
		})
	}

	s.auctions = s.auctions[:0]
	for _, sa := range doc.Auctions {
		s.auctions = append(s.auctions, &Auction{
			AuctionID: sa.AuctionID, SellerUID: sa.SellerUID, RoomID: sa.RoomID,
			Title: sa.Title, Description: sa.Description,
			StartPrice: sa.StartPrice, CurrentPrice: sa.CurrentPrice,
			BuyNowPrice: sa.BuyNowPrice, MinBidIncrement: sa.MinBidIncrement,
			StartTime: sa.StartTime, EndTime: sa.EndTime, Status: sa.Status,
			WinnerUID: sa.WinnerUID, TotalBids: sa.TotalBids,
			WarningSent: sa.WarningSent, SettledMethod: sa.SettledMethod,
		})
	}

	s.bids = s.bids[:0]
	for _, sb := range doc.Bids {
		s.bids = append(s.bids, &Bid{
			BidID: sb.BidID, AuctionID: sb.AuctionID, BidderUID: sb.BidderUID,
			Amount: sb.Amount, Timestamp: sb.Timestamp,
		})
	}

	return nil
}
