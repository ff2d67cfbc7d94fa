package domain

import (
	"sync"
	"time"
)

// Limits bounds the four collections (spec §4.1). An implementation MAY
// raise these; it MUST reject at the boundary with ErrDatabaseFull.
type Limits struct {
	MaxUsers    int
	MaxRooms    int
	MaxAuctions int
	MaxBids     int
}

// DefaultLimits matches the capacities named in the original C source.
func DefaultLimits() Limits {
	return Limits{MaxUsers: 1000, MaxRooms: 100, MaxAuctions: 1000, MaxBids: 5000}
}

// InitialBalanceCents is credited to every newly registered user.
var InitialBalanceCents = int64(100000000) // 1,000,000.00 in hundredths

// Store owns the four collections and the single "data" lock guarding them,
// per spec §5 ("data" then "sessions" lock order — Store never takes any
// other lock itself).
type Store struct {
	mu     sync.RWMutex
	limits Limits

	users    []*User
	rooms    []*Room
	auctions []*Auction
	bids     []*Bid

	usersByName map[string]*User
}

// New creates an empty store with the given capacity limits.
func New(limits Limits) *Store {
	return &Store{
		limits:      limits,
		usersByName: make(map[string]*User),
	}
}

// Lock/Unlock expose the data lock to callers (engines) that must perform a
// multi-step read-modify-write atomically, e.g. "check balance, then debit".
// Plain lookups should prefer the locked accessor methods below instead.
func (s *Store) Lock()    { s.mu.Lock() }
func (s *Store) Unlock()  { s.mu.Unlock() }
func (s *Store) RLock()   { s.mu.RLock() }
func (s *Store) RUnlock() { s.mu.RUnlock() }

// --- Users ---

// FindUserByUID returns the user with the given id, or nil.
func (s *Store) FindUserByUID(uid int64) *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findUserByUIDLocked(uid)
}

func (s *Store) findUserByUIDLocked(uid int64) *User {
	for _, u := range s.users {
		if u.UID == uid {
			return u
		}
	}
	return nil
}

// FindUserByUsername returns the user with the given username, or nil.
func (s *Store) FindUserByUsername(username string) *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.usersByName[username]
}

// AppendUser assigns the next uid and inserts the user. Caller supplies
// everything but UID/CreatedAt.
func (s *Store) AppendUser(username string, verifier CredentialVerifier, balanceCents int64) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.users) >= s.limits.MaxUsers {
		return nil, ErrDatabaseFull
	}
	if _, exists := s.usersByName[username]; exists {
		return nil, ErrDuplicateUsername
	}

	u := &User{
		UID:       int64(len(s.users) + 1),
		Username:  username,
		Verifier:  verifier,
		Balance:   centsToDecimal(balanceCents),
		Status:    UserActive,
		CreatedAt: time.Now(),
	}
	s.users = append(s.users, u)
	s.usersByName[username] = u
	return u, nil
}

// --- Rooms ---

// FindRoom returns the room with the given id, or nil.
func (s *Store) FindRoom(roomID int64) *Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findRoomLocked(roomID)
}

func (s *Store) findRoomLocked(roomID int64) *Room {
	for _, r := range s.rooms {
		if r.RoomID == roomID {
			return r
		}
	}
	return nil
}

// AllRooms returns a shallow copy of the room list (admin/list views).
func (s *Store) AllRooms() []*Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Room, len(s.rooms))
	copy(out, s.rooms)
	return out
}

// AppendRoom inserts a new room, rejecting a duplicate name among non-ended
// rooms (spec §3).
func (s *Store) AppendRoom(name, description string, maxParticipants int, duration time.Duration, creatorUID int64) (*Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.rooms) >= s.limits.MaxRooms {
		return nil, ErrDatabaseFull
	}
	for _, r := range s.rooms {
		if r.Name == name && r.Status != RoomEnded {
			return nil, ErrDuplicateRoomName
		}
	}

	now := time.Now()
	r := &Room{
		RoomID:          int64(len(s.rooms) + 1),
		Name:            name,
		Description:     description,
		MaxParticipants: maxParticipants,
		Status:          RoomWaiting,
		StartTime:       now,
		EndTime:         now.Add(duration),
		CreatorUID:      creatorUID,
	}
	s.rooms = append(s.rooms, r)
	return r, nil
}

// JoinRoom validates and atomically increments participants for roomID,
// transitioning waiting→active on the first join (spec §3/§4.6).
func (s *Store) JoinRoom(roomID int64) (*Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.findRoomLocked(roomID)
	if r == nil {
		return nil, ErrRoomNotFound
	}
	if r.Status == RoomEnded {
		return nil, ErrRoomEnded
	}
	if r.CurrentParticipants >= r.MaxParticipants {
		return nil, ErrRoomFull
	}
	r.CurrentParticipants++
	if r.Status == RoomWaiting {
		r.Status = RoomActive
	}
	return r, nil
}

// LeaveRoom decrements participants for roomID, floored at 0. A no-op
// returning nil if no room has that id; ended rooms are kept, so they are
// still found and decremented.
func (s *Store) LeaveRoom(roomID int64) *Room {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.findRoomLocked(roomID)
	if r == nil {
		return nil
	}
	if r.CurrentParticipants > 0 {
		r.CurrentParticipants--
	}
	return r
}

// EndRoom transitions roomID to ended, idempotently. Returns nil if the room
// is missing or already ended (so the caller knows not to re-broadcast).
func (s *Store) EndRoom(roomID int64) *Room {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.findRoomLocked(roomID)
	if r == nil || r.Status == RoomEnded {
		return nil
	}
	r.Status = RoomEnded
	return r
}

// UserCount returns the number of registered users. Admin surfaces get a
// count rather than AllUsers to avoid ever serializing balances/verifiers.
func (s *Store) UserCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

// --- Auctions ---

// FindAuction returns the auction with the given id, or nil.
func (s *Store) FindAuction(auctionID int64) *Auction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findAuctionLocked(auctionID)
}

func (s *Store) findAuctionLocked(auctionID int64) *Auction {
	for _, a := range s.auctions {
		if a.AuctionID == auctionID {
			return a
		}
	}
	return nil
}

// AuctionsInRoom returns every auction belonging to the given room.
func (s *Store) AuctionsInRoom(roomID int64) []*Auction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Auction
	for _, a := range s.auctions {
		if a.RoomID == roomID {
			out = append(out, a)
		}
	}
	return out
}

// AuctionsBySeller returns every auction the given user created.
func (s *Store) AuctionsBySeller(sellerUID int64) []*Auction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Auction
	for _, a := range s.auctions {
		if a.SellerUID == sellerUID {
			out = append(out, a)
		}
	}
	return out
}

// ActiveAuctions returns every auction still in AuctionActive status, for
// the lifecycle sweep.
func (s *Store) ActiveAuctions() []*Auction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Auction
	for _, a := range s.auctions {
		if a.Status == AuctionActive {
			out = append(out, a)
		}
	}
	return out
}

// AllAuctions returns every auction regardless of room, seller, or status,
// for admin read surfaces that need the full set (mirrors AllRooms).
func (s *Store) AllAuctions() []*Auction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Auction, len(s.auctions))
	copy(out, s.auctions)
	return out
}

// AppendAuction inserts a new active auction.
func (s *Store) AppendAuction(a *Auction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.auctions) >= s.limits.MaxAuctions {
		return ErrDatabaseFull
	}
	a.AuctionID = int64(len(s.auctions) + 1)
	s.auctions = append(s.auctions, a)

	for _, r := range s.rooms {
		if r.RoomID == a.RoomID {
			r.TotalAuctions++
			break
		}
	}
	return nil
}

// FindAuctionLocked is FindAuction for a caller that already holds the
// store's lock (via Lock()) as part of a multi-step check-then-mutate
// sequence — e.g. the auction engine validating and accepting a bid in one
// critical section.
func (s *Store) FindAuctionLocked(auctionID int64) *Auction { return s.findAuctionLocked(auctionID) }

// FindRoomLocked is FindRoom for a caller that already holds the store's lock.
func (s *Store) FindRoomLocked(roomID int64) *Room { return s.findRoomLocked(roomID) }

// FindUserByUIDLocked is FindUserByUID for a caller that already holds the
// store's lock.
func (s *Store) FindUserByUIDLocked(uid int64) *User { return s.findUserByUIDLocked(uid) }

// --- Bids ---

// BidsForAuction returns the bids for an auction, newest first.
func (s *Store) BidsForAuction(auctionID int64) []*Bid {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Bid
	for i := len(s.bids) - 1; i >= 0; i-- {
		if s.bids[i].AuctionID == auctionID {
			out = append(out, s.bids[i])
		}
	}
	return out
}

// AppendBid appends a bid, assigning the next bid id. Callers must already
// hold the lock that protects the auction mutation this bid accompanies —
// use AppendBidLocked from inside such a section; this exported wrapper is
// for tests and standalone use only.
func (s *Store) AppendBid(b *Bid) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.AppendBidLocked(b)
}

// AppendBidLocked assumes the caller already holds s.mu (via Lock/Unlock).
func (s *Store) AppendBidLocked(b *Bid) error {
	if len(s.bids) >= s.limits.MaxBids {
		return ErrDatabaseFull
	}
	b.BidID = int64(len(s.bids) + 1)
	s.bids = append(s.bids, b)
	return nil
}

