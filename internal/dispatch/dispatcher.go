// Package dispatch implements the command dispatcher (spec §4.4, component
// C4): it routes a parsed protocol.Request to the right engine, enforcing
// the precondition table from spec §4.4 and — per the spec's required
// correction — always deriving uid from the session rather than the
// request's own embedded uid field, rejecting any request whose embedded
// uid disagrees with ErrUIDMismatch. Grounded on the teacher's
// `internal/api/handler.go` shape (one method per route: decode, validate,
// call domain, respond), adapted from HTTP method+path routing to TCP
// command-name routing.
package dispatch

import (
	"net"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/rivalapexmediation/auctionhouse/internal/auction"
	"github.com/rivalapexmediation/auctionhouse/internal/broadcast"
	"github.com/rivalapexmediation/auctionhouse/internal/domain"
	"github.com/rivalapexmediation/auctionhouse/internal/protocol"
	"github.com/rivalapexmediation/auctionhouse/internal/room"
	"github.com/rivalapexmediation/auctionhouse/internal/session"
)

// BidHistoryLimit is the "last 20 bids" cap named in spec §6.
const BidHistoryLimit = 20

// Killswitch reports whether bidding (PLACE_BID and BUY_NOW) is currently
// paused fleet-wide; other commands, CREATE_AUCTION included, do not consult
// it. internal/killswitch supplies
// the Redis-backed implementation; a nil Killswitch is always-open.
type Killswitch interface {
	Paused() bool
}

// Dispatcher routes parsed requests to the domain engines. It is safe for
// concurrent use by many connection goroutines.
type Dispatcher struct {
	store      *domain.Store
	sessions   *session.Registry
	rooms      *room.Engine
	auctions   *auction.Engine
	broadcast  *broadcast.Broadcaster
	killswitch Killswitch
}

// New creates a Dispatcher. killswitch may be nil.
func New(store *domain.Store, sessions *session.Registry, rooms *room.Engine, auctions *auction.Engine, b *broadcast.Broadcaster, killswitch Killswitch) *Dispatcher {
	return &Dispatcher{store: store, sessions: sessions, rooms: rooms, auctions: auctions, broadcast: b, killswitch: killswitch}
}

// Outcome is the result of handling one request: the frame(s) to write back
// (already newline-terminated), and whether the connection must be closed
// after writing (set only for QUIT; parse failures never reach Handle).
type Outcome struct {
	Frame string
	Close bool
}

// Handle processes one parsed request arriving on conn and returns the
// response to write. conn identifies the caller's session, if any — uid is
// always resolved from the session registry, never trusted from the
// request payload (spec §4.4's required correction, restated as decided in
// SPEC_FULL.md §9). traceID is the acceptor's per-connection correlation id
// (spec.md's own source has no such field; SPEC_FULL.md's logging section
// adds it), stamped onto the session on a successful LOGIN.
func (d *Dispatcher) Handle(conn net.Conn, req *protocol.Request, traceID string) Outcome {
	s := d.sessions.LookupByConn(conn)

	switch req.Command {
	case "REGISTER":
		return Outcome{Frame: d.handleRegister(req.Args)}
	case "LOGIN":
		return Outcome{Frame: d.handleLogin(conn, req.Args, traceID)}
	case "QUIT":
		return Outcome{Close: true}
	}

	if s == nil {
		return Outcome{Frame: fail(req.Command, domain.ErrNotLoggedIn)}
	}

	switch req.Command {
	case "CREATE_ROOM":
		return Outcome{Frame: d.handleCreateRoom(s, req.Args)}
	case "LIST_ROOMS":
		return Outcome{Frame: d.handleListRooms()}
	case "JOIN_ROOM":
		return Outcome{Frame: d.handleJoinRoom(s, req.Args)}
	case "LEAVE_ROOM":
		return Outcome{Frame: d.handleLeaveRoom(s, req.Args)}
	case "ROOM_DETAIL":
		return Outcome{Frame: d.handleRoomDetail(req.Args)}
	case "MY_ROOM":
		return Outcome{Frame: d.handleMyRoom(s, req.Args)}
	case "LIST_AUCTIONS":
		return Outcome{Frame: d.handleListAuctions(s, req.Args)}
	case "MY_AUCTIONS":
		return Outcome{Frame: d.handleMyAuctions(s, req.Args)}
	case "AUCTION_DETAIL":
		return Outcome{Frame: d.handleAuctionDetail(s, req.Args)}
	case "CREATE_AUCTION":
		return Outcome{Frame: d.handleCreateAuction(s, req.Args)}
	case "PLACE_BID":
		return Outcome{Frame: d.handlePlaceBid(s, req.Args)}
	case "BUY_NOW":
		return Outcome{Frame: d.handleBuyNow(s, req.Args)}
	case "BID_HISTORY":
		return Outcome{Frame: d.handleBidHistory(s, req.Args)}
	case "AUCTION_HISTORY":
		return Outcome{Frame: d.handleAuctionHistory(s, req.Args)}
	default:
		return Outcome{Frame: protocol.Error(domain.ErrUnknownCommand.Reason())}
	}
}

func (d *Dispatcher) paused() bool { return d.killswitch != nil && d.killswitch.Paused() }

// --- REGISTER / LOGIN ---

func (d *Dispatcher) handleRegister(args []string) string {
	if len(args) < 2 {
		return fail("REGISTER", domain.ErrBadField)
	}
	username, password := args[0], args[1]
	u, err := d.store.AppendUser(username, domain.PlainVerifier(password), domain.InitialBalanceCents)
	if err != nil {
		return fail("REGISTER", err)
	}
	log.WithFields(log.Fields{"uid": u.UID, "username": username}).Info("user registered")
	return protocol.Response("REGISTER_SUCCESS", strconv.FormatInt(u.UID, 10), u.Username)
}

func (d *Dispatcher) handleLogin(conn net.Conn, args []string, traceID string) string {
	if len(args) < 2 {
		return fail("LOGIN", domain.ErrBadField)
	}
	username, password := args[0], args[1]

	u := d.store.FindUserByUsername(username)
	if u == nil {
		return fail("LOGIN", domain.ErrUserNotFound)
	}
	if !u.Verifier.Verify(password) {
		return fail("LOGIN", domain.ErrWrongPassword)
	}

	if prior := d.sessions.PriorSession(u.UID); prior != nil {
		d.broadcast.ToSession(prior, protocol.Notification("FORCE_LOGOUT", "Another login detected"))
		_ = prior.Conn.Close()
	}
	d.sessions.Attach(conn, u.UID, u.Username, traceID)

	log.WithFields(log.Fields{"uid": u.UID, "username": username}).Info("user logged in")
	return protocol.Response("LOGIN_SUCCESS", strconv.FormatInt(u.UID, 10), u.Username, domain.FormatMoney(u.Balance))
}

// --- Rooms ---

func (d *Dispatcher) handleCreateRoom(s *session.Session, args []string) string {
	if len(args) < 5 {
		return fail("CREATE_ROOM", domain.ErrBadField)
	}
	if err := checkUID(s, args[0]); err != nil {
		return fail("CREATE_ROOM", err)
	}
	maxPart, err := strconv.Atoi(args[3])
	if err != nil || maxPart <= 0 {
		return fail("CREATE_ROOM", domain.ErrBadNumber)
	}
	durationMin, err := strconv.Atoi(args[4])
	if err != nil || durationMin <= 0 {
		return fail("CREATE_ROOM", domain.ErrBadNumber)
	}

	r, err := d.rooms.Create(s, args[1], args[2], maxPart, time.Duration(durationMin)*time.Minute)
	if err != nil {
		return fail("CREATE_ROOM", err)
	}
	return protocol.Response("CREATE_ROOM_SUCCESS", strconv.FormatInt(r.RoomID, 10), r.Name)
}

func (d *Dispatcher) handleListRooms() string {
	rooms := d.store.AllRooms()
	records := make([]string, 0, len(rooms))
	for _, r := range rooms {
		records = append(records, protocol.Record(
			strconv.FormatInt(r.RoomID, 10), r.Name, r.Description,
			strconv.Itoa(r.CurrentParticipants), strconv.Itoa(r.MaxParticipants),
			string(r.Status), strconv.FormatInt(r.TimeLeft(time.Now()), 10), strconv.Itoa(r.TotalAuctions),
		))
	}
	return protocol.List("ROOM_LIST", records)
}

func (d *Dispatcher) handleJoinRoom(s *session.Session, args []string) string {
	if len(args) < 2 {
		return fail("JOIN_ROOM", domain.ErrBadField)
	}
	if err := checkUID(s, args[0]); err != nil {
		return fail("JOIN_ROOM", err)
	}
	roomID, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fail("JOIN_ROOM", domain.ErrBadNumber)
	}
	if s.CurrentRoomID != 0 {
		return fail("JOIN_ROOM", domain.ErrAlreadyInRoom)
	}
	r, err := d.rooms.Join(s, roomID)
	if err != nil {
		return fail("JOIN_ROOM", err)
	}
	return protocol.Response("JOIN_ROOM_SUCCESS", strconv.FormatInt(r.RoomID, 10), r.Name)
}

func (d *Dispatcher) handleLeaveRoom(s *session.Session, args []string) string {
	if len(args) < 1 {
		return fail("LEAVE_ROOM", domain.ErrBadField)
	}
	if err := checkUID(s, args[0]); err != nil {
		return fail("LEAVE_ROOM", err)
	}
	if s.CurrentRoomID == 0 {
		return fail("LEAVE_ROOM", domain.ErrNotInRoom)
	}
	d.rooms.Leave(s)
	return protocol.Response("LEAVE_ROOM_SUCCESS")
}

func (d *Dispatcher) handleRoomDetail(args []string) string {
	if len(args) < 1 {
		return fail("ROOM_DETAIL", domain.ErrBadField)
	}
	roomID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fail("ROOM_DETAIL", domain.ErrBadNumber)
	}
	r := d.store.FindRoom(roomID)
	if r == nil {
		return fail("ROOM_DETAIL", domain.ErrRoomNotFound)
	}
	creator := d.creatorName(r.CreatorUID)
	return protocol.Response("ROOM_DETAIL",
		strconv.FormatInt(r.RoomID, 10), r.Name, r.Description, creator,
		strconv.Itoa(r.CurrentParticipants), strconv.Itoa(r.MaxParticipants),
		string(r.Status), strconv.FormatInt(r.TimeLeft(time.Now()), 10), strconv.Itoa(r.TotalAuctions))
}

func (d *Dispatcher) handleMyRoom(s *session.Session, args []string) string {
	if len(args) < 1 {
		return fail("MY_ROOM", domain.ErrBadField)
	}
	if err := checkUID(s, args[0]); err != nil {
		return fail("MY_ROOM", err)
	}
	if s.CurrentRoomID == 0 {
		return protocol.Response("MY_ROOM", "0", "Not in any room", "0", "0")
	}
	r := d.store.FindRoom(s.CurrentRoomID)
	if r == nil {
		return protocol.Response("MY_ROOM", "0", "Not in any room", "0", "0")
	}
	return protocol.Response("MY_ROOM", strconv.FormatInt(r.RoomID, 10), r.Name, strconv.Itoa(r.CurrentParticipants), strconv.Itoa(r.TotalAuctions))
}

func (d *Dispatcher) creatorName(uid int64) string {
	if u := d.store.FindUserByUID(uid); u != nil {
		return u.Username
	}
	return strconv.FormatInt(uid, 10)
}

// --- Auctions ---

func (d *Dispatcher) handleListAuctions(s *session.Session, args []string) string {
	if len(args) < 1 {
		return fail("LIST_AUCTIONS", domain.ErrBadField)
	}
	if err := checkUID(s, args[0]); err != nil {
		return fail("LIST_AUCTIONS", err)
	}
	if s.CurrentRoomID == 0 {
		return fail("LIST_AUCTIONS", domain.ErrNotInRoom)
	}
	now := time.Now()
	auctions := d.store.AuctionsInRoom(s.CurrentRoomID)
	records := make([]string, 0, len(auctions))
	for _, a := range auctions {
		records = append(records, protocol.Record(
			strconv.FormatInt(a.AuctionID, 10), a.Title, domain.FormatMoney(a.CurrentPrice),
			domain.FormatMoney(a.BuyNowPrice), strconv.FormatInt(a.TimeLeft(now), 10), strconv.Itoa(a.TotalBids),
		))
	}
	return protocol.List("AUCTION_LIST", records)
}

func (d *Dispatcher) handleMyAuctions(s *session.Session, args []string) string {
	if len(args) < 1 {
		return fail("MY_AUCTIONS", domain.ErrBadField)
	}
	if err := checkUID(s, args[0]); err != nil {
		return fail("MY_AUCTIONS", err)
	}
	now := time.Now()
	auctions := d.store.AuctionsBySeller(s.UID)
	sort.Slice(auctions, func(i, j int) bool { return auctions[i].AuctionID < auctions[j].AuctionID })
	records := make([]string, 0, len(auctions))
	for _, a := range auctions {
		records = append(records, protocol.Record(
			strconv.FormatInt(a.AuctionID, 10), a.Title, domain.FormatMoney(a.CurrentPrice),
			domain.FormatMoney(a.BuyNowPrice), strconv.FormatInt(a.TimeLeft(now), 10), string(a.Status), strconv.Itoa(a.TotalBids),
		))
	}
	return protocol.List("MY_AUCTIONS", records)
}

func (d *Dispatcher) handleAuctionDetail(s *session.Session, args []string) string {
	if len(args) < 2 {
		return fail("AUCTION_DETAIL", domain.ErrBadField)
	}
	auctionID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fail("AUCTION_DETAIL", domain.ErrBadNumber)
	}
	if err := checkUID(s, args[1]); err != nil {
		return fail("AUCTION_DETAIL", err)
	}
	a := d.store.FindAuction(auctionID)
	if a == nil {
		return fail("AUCTION_DETAIL", domain.ErrAuctionNotFound)
	}
	if s.CurrentRoomID != a.RoomID {
		return fail("AUCTION_DETAIL", domain.ErrWrongRoom)
	}
	seller := d.creatorName(a.SellerUID)
	now := time.Now()
	return protocol.Response("AUCTION_DETAIL",
		strconv.FormatInt(a.AuctionID, 10), a.Title, a.Description, seller,
		domain.FormatMoney(a.StartPrice), domain.FormatMoney(a.CurrentPrice), domain.FormatMoney(a.BuyNowPrice),
		domain.FormatMoney(a.MinBidIncrement), strconv.FormatInt(a.TimeLeft(now), 10), string(a.Status), strconv.Itoa(a.TotalBids))
}

func (d *Dispatcher) handleCreateAuction(s *session.Session, args []string) string {
	if len(args) < 7 {
		return fail("CREATE_AUCTION", domain.ErrBadField)
	}
	if err := checkUID(s, args[0]); err != nil {
		return fail("CREATE_AUCTION", err)
	}
	roomID, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fail("CREATE_AUCTION", domain.ErrBadNumber)
	}
	title, description := args[2], args[3]
	start, err := decimal.NewFromString(args[4])
	if err != nil {
		return fail("CREATE_AUCTION", domain.ErrBadNumber)
	}
	buyNow, err := decimal.NewFromString(args[5])
	if err != nil {
		return fail("CREATE_AUCTION", domain.ErrBadNumber)
	}
	incr, err := decimal.NewFromString(args[6])
	if err != nil {
		return fail("CREATE_AUCTION", domain.ErrBadNumber)
	}
	durationMin := 60
	if len(args) >= 8 {
		v, err := strconv.Atoi(args[7])
		if err != nil || v <= 0 {
			return fail("CREATE_AUCTION", domain.ErrBadNumber)
		}
		durationMin = v
	}

	r := d.store.FindRoom(roomID)
	if r == nil {
		return fail("CREATE_AUCTION", domain.ErrRoomNotFound)
	}
	if r.Status == domain.RoomEnded {
		return fail("CREATE_AUCTION", domain.ErrRoomEnded)
	}
	if s.CurrentRoomID != roomID || r.CreatorUID != s.UID {
		return fail("CREATE_AUCTION", domain.ErrNotRoomCreator)
	}

	a, err := d.auctions.Create(r, s.UID, title, description, start, buyNow, incr, time.Duration(durationMin)*time.Minute)
	if err != nil {
		return fail("CREATE_AUCTION", err)
	}
	return protocol.Response("CREATE_AUCTION_SUCCESS", strconv.FormatInt(a.AuctionID, 10), a.Title)
}

func (d *Dispatcher) handlePlaceBid(s *session.Session, args []string) string {
	if len(args) < 3 {
		return fail("BID", domain.ErrBadField)
	}
	auctionID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fail("BID", domain.ErrBadNumber)
	}
	if err := checkUID(s, args[1]); err != nil {
		return fail("BID", err)
	}
	amount, err := decimal.NewFromString(args[2])
	if err != nil {
		return fail("BID", domain.ErrBadNumber)
	}
	if d.paused() {
		return fail("BID", domain.ErrPaused)
	}

	a, err := d.auctions.PlaceBid(s, auctionID, amount)
	if err != nil {
		return fail("BID", err)
	}
	return protocol.Response("BID_SUCCESS", strconv.FormatInt(a.AuctionID, 10), domain.FormatMoney(a.CurrentPrice),
		strconv.Itoa(a.TotalBids), strconv.FormatInt(a.TimeLeft(time.Now()), 10))
}

func (d *Dispatcher) handleBuyNow(s *session.Session, args []string) string {
	if len(args) < 2 {
		return fail("BUY_NOW", domain.ErrBadField)
	}
	auctionID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fail("BUY_NOW", domain.ErrBadNumber)
	}
	if err := checkUID(s, args[1]); err != nil {
		return fail("BUY_NOW", err)
	}
	if d.paused() {
		return fail("BUY_NOW", domain.ErrPaused)
	}

	a, err := d.auctions.BuyNow(s, auctionID)
	if err != nil {
		return fail("BUY_NOW", err)
	}
	return protocol.Response("BUY_NOW_SUCCESS", strconv.FormatInt(a.AuctionID, 10))
}

func (d *Dispatcher) handleBidHistory(s *session.Session, args []string) string {
	if len(args) < 2 {
		return fail("BID_HISTORY", domain.ErrBadField)
	}
	auctionID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fail("BID_HISTORY", domain.ErrBadNumber)
	}
	if err := checkUID(s, args[1]); err != nil {
		return fail("BID_HISTORY", err)
	}
	a := d.store.FindAuction(auctionID)
	if a == nil {
		return fail("BID_HISTORY", domain.ErrAuctionNotFound)
	}
	if s.CurrentRoomID != a.RoomID {
		return fail("BID_HISTORY", domain.ErrWrongRoom)
	}

	bids := d.store.BidsForAuction(auctionID)
	if len(bids) > BidHistoryLimit {
		bids = bids[:BidHistoryLimit]
	}
	records := make([]string, 0, len(bids))
	for _, b := range bids {
		records = append(records, protocol.Record(d.creatorName(b.BidderUID), domain.FormatMoney(b.Amount), b.Timestamp.Format(time.RFC3339)))
	}
	return protocol.List("BID_HISTORY", records)
}

func (d *Dispatcher) handleAuctionHistory(s *session.Session, args []string) string {
	if len(args) < 1 {
		return fail("AUCTION_HISTORY", domain.ErrBadField)
	}
	if err := checkUID(s, args[0]); err != nil {
		return fail("AUCTION_HISTORY", err)
	}
	auctions := d.store.AuctionsBySeller(s.UID)
	records := make([]string, 0, len(auctions))
	for _, a := range auctions {
		if a.Status != domain.AuctionEnded {
			continue
		}
		winner := "No bids"
		if a.WinnerUID != 0 {
			winner = d.creatorName(a.WinnerUID)
		}
		method := a.SettledMethod
		if method == "" {
			method = "no_bids"
		}
		records = append(records, protocol.Record(strconv.FormatInt(a.AuctionID, 10), a.Title, domain.FormatMoney(a.CurrentPrice), winner, method))
	}
	return protocol.List("AUCTION_HISTORY", records)
}

// checkUID validates that embeddedUID, as carried in the request payload,
// agrees with the caller's session uid. Per spec §4.4's required
// correction, the session's uid is authoritative; a disagreement is
// rejected rather than trusted.
func checkUID(s *session.Session, embeddedUID string) error {
	v, err := strconv.ParseInt(embeddedUID, 10, 64)
	if err != nil {
		return domain.ErrBadNumber
	}
	if v != s.UID {
		return domain.ErrUIDMismatch
	}
	return nil
}

func fail(cmd string, err error) string {
	type reasoner interface{ Reason() string }
	if r, ok := err.(reasoner); ok {
		return protocol.Fail(cmd, r.Reason())
	}
	return protocol.Fail(cmd, err.Error())
}
