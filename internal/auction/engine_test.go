package auction

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rivalapexmediation/auctionhouse/internal/broadcast"
	"github.com/rivalapexmediation/auctionhouse/internal/domain"
	"github.com/rivalapexmediation/auctionhouse/internal/ledger"
	"github.com/rivalapexmediation/auctionhouse/internal/session"
)

type fixture struct {
	store    *domain.Store
	sessions *session.Registry
	ledger   *ledger.Ledger
	engine   *Engine
}

func newFixture() *fixture {
	store := domain.New(domain.DefaultLimits())
	sessions := session.New()
	b := broadcast.New(sessions, nil)
	l := ledger.New()
	return &fixture{store: store, sessions: sessions, ledger: l, engine: New(store, sessions, l, b, nil, 0)}
}

func attachInRoom(f *fixture, uid int64, username string, roomID int64) (*session.Session, net.Conn) {
	server, client := net.Pipe()
	f.sessions.Attach(server, uid, username, "trace")
	f.sessions.SetCurrentRoom(uid, roomID)
	go func() {
		r := bufio.NewReader(client)
		for {
			if _, err := r.ReadString('\n'); err != nil {
				return
			}
		}
	}()
	return f.sessions.LookupByConn(server), client
}

func mustUser(t *testing.T, f *fixture, username string) *domain.User {
	t.Helper()
	u, err := f.store.AppendUser(username, domain.PlainVerifier("pw"), domain.InitialBalanceCents)
	if err != nil {
		t.Fatalf("append user %s: %v", username, err)
	}
	return u
}

func mustRoom(t *testing.T, f *fixture, creatorUID int64) *domain.Room {
	t.Helper()
	r, err := f.store.AppendRoom("Vintage", "desc", 5, time.Hour, creatorUID)
	if err != nil {
		t.Fatalf("append room: %v", err)
	}
	if _, err := f.store.JoinRoom(r.RoomID); err != nil {
		t.Fatalf("join room: %v", err)
	}
	return r
}

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestPlaceBid_RejectsBelowFloor(t *testing.T) {
	f := newFixture()
	alice := mustUser(t, f, "alice")
	bob := mustUser(t, f, "bob")
	room := mustRoom(t, f, alice.UID)
	auc, err := f.engine.Create(room, alice.UID, "Vase", "desc", d("100"), decimal.Zero, d("10"), time.Minute)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	bobSession, bobConn := attachInRoom(f, bob.UID, "bob", room.RoomID)
	defer bobConn.Close()

	if _, err := f.engine.PlaceBid(bobSession, auc.AuctionID, d("105")); err != domain.ErrBidTooLow {
		t.Fatalf("expected ErrBidTooLow, got %v", err)
	}
}

func TestPlaceBid_AcceptsAtFloorAndReserves(t *testing.T) {
	f := newFixture()
	alice := mustUser(t, f, "alice")
	bob := mustUser(t, f, "bob")
	room := mustRoom(t, f, alice.UID)
	auc, _ := f.engine.Create(room, alice.UID, "Vase", "desc", d("100"), decimal.Zero, d("10"), time.Minute)

	bobSession, bobConn := attachInRoom(f, bob.UID, "bob", room.RoomID)
	defer bobConn.Close()

	got, err := f.engine.PlaceBid(bobSession, auc.AuctionID, d("110"))
	if err != nil {
		t.Fatalf("place bid: %v", err)
	}
	if !got.CurrentPrice.Equal(d("110")) || got.WinnerUID != bob.UID || got.TotalBids != 1 {
		t.Fatalf("unexpected auction state: %+v", got)
	}
	if !bob.Reserved.Equal(d("110")) {
		t.Fatalf("expected bob's reservation to be 110, got %s", bob.Reserved)
	}
}

func TestPlaceBid_RejectsSelfBid(t *testing.T) {
	f := newFixture()
	alice := mustUser(t, f, "alice")
	room := mustRoom(t, f, alice.UID)
	auc, _ := f.engine.Create(room, alice.UID, "Vase", "desc", d("100"), decimal.Zero, d("10"), time.Minute)

	aliceSession, aliceConn := attachInRoom(f, alice.UID, "alice", room.RoomID)
	defer aliceConn.Close()

	if _, err := f.engine.PlaceBid(aliceSession, auc.AuctionID, d("110")); err != domain.ErrSelfBid {
		t.Fatalf("expected ErrSelfBid, got %v", err)
	}
}

func TestPlaceBid_OutbidReleasesPreviousReservation(t *testing.T) {
	f := newFixture()
	alice := mustUser(t, f, "alice")
	bob := mustUser(t, f, "bob")
	carol := mustUser(t, f, "carol")
	room := mustRoom(t, f, alice.UID)
	auc, _ := f.engine.Create(room, alice.UID, "Vase", "desc", d("100"), decimal.Zero, d("10"), time.Minute)

	bobSession, bobConn := attachInRoom(f, bob.UID, "bob", room.RoomID)
	carolSession, carolConn := attachInRoom(f, carol.UID, "carol", room.RoomID)
	defer bobConn.Close()
	defer carolConn.Close()

	if _, err := f.engine.PlaceBid(bobSession, auc.AuctionID, d("110")); err != nil {
		t.Fatalf("bob bid: %v", err)
	}
	if _, err := f.engine.PlaceBid(carolSession, auc.AuctionID, d("120")); err != nil {
		t.Fatalf("carol bid: %v", err)
	}

	if !bob.Reserved.IsZero() {
		t.Fatalf("expected bob's reservation released, got %s", bob.Reserved)
	}
	if !carol.Reserved.Equal(d("120")) {
		t.Fatalf("expected carol reserved 120, got %s", carol.Reserved)
	}
}

func TestPlaceBid_AntiSnipeExtendsEndTime(t *testing.T) {
	f := newFixture()
	alice := mustUser(t, f, "alice")
	bob := mustUser(t, f, "bob")
	room := mustRoom(t, f, alice.UID)
	auc, _ := f.engine.Create(room, alice.UID, "Vase", "desc", d("100"), decimal.Zero, d("10"), time.Minute)
	auc.EndTime = time.Now().Add(5 * time.Second)

	bobSession, bobConn := attachInRoom(f, bob.UID, "bob", room.RoomID)
	defer bobConn.Close()

	before := time.Now()
	got, err := f.engine.PlaceBid(bobSession, auc.AuctionID, d("110"))
	if err != nil {
		t.Fatalf("place bid: %v", err)
	}
	if got.EndTime.Before(before.Add(29 * time.Second)) {
		t.Fatalf("expected anti-snipe extension to ~30s, got end_time %s (before %s)", got.EndTime, before)
	}
}

func TestBuyNow_ClosesAuctionAndSettles(t *testing.T) {
	f := newFixture()
	alice := mustUser(t, f, "alice")
	bob := mustUser(t, f, "bob")
	room := mustRoom(t, f, alice.UID)
	auc, _ := f.engine.Create(room, alice.UID, "Vase", "desc", d("100"), d("500"), d("10"), time.Minute)

	bobSession, bobConn := attachInRoom(f, bob.UID, "bob", room.RoomID)
	defer bobConn.Close()

	got, err := f.engine.BuyNow(bobSession, auc.AuctionID)
	if err != nil {
		t.Fatalf("buy now: %v", err)
	}
	if got.Status != domain.AuctionEnded || got.WinnerUID != bob.UID || got.SettledMethod != "buy_now" {
		t.Fatalf("unexpected auction state: %+v", got)
	}
	wantAliceBalance := decimal.New(domain.InitialBalanceCents, -2).Add(d("500"))
	if !alice.Balance.Equal(wantAliceBalance) {
		t.Fatalf("expected seller credited 500, got balance %s", alice.Balance)
	}

	if _, err := f.engine.PlaceBid(bobSession, auc.AuctionID, d("600")); err != domain.ErrAuctionNotActive {
		t.Fatalf("expected ErrAuctionNotActive after buy-now, got %v", err)
	}
}

func TestSweep_ClosesExpiredAuctionAndSettlesWinner(t *testing.T) {
	f := newFixture()
	alice := mustUser(t, f, "alice")
	bob := mustUser(t, f, "bob")
	room := mustRoom(t, f, alice.UID)
	auc, _ := f.engine.Create(room, alice.UID, "Vase", "desc", d("100"), decimal.Zero, d("10"), time.Minute)

	bobSession, bobConn := attachInRoom(f, bob.UID, "bob", room.RoomID)
	defer bobConn.Close()

	if _, err := f.engine.PlaceBid(bobSession, auc.AuctionID, d("110")); err != nil {
		t.Fatalf("place bid: %v", err)
	}

	f.engine.Sweep(auc, auc.EndTime.Add(time.Second))

	if auc.Status != domain.AuctionEnded || auc.SettledMethod != "bid" {
		t.Fatalf("expected auction closed via bid settlement, got %+v", auc)
	}
	if !bob.Reserved.IsZero() {
		t.Fatalf("expected bob's reservation converted to a debit, got reserved=%s", bob.Reserved)
	}
	wantAliceBalance := decimal.New(domain.InitialBalanceCents, -2).Add(d("110"))
	if !alice.Balance.Equal(wantAliceBalance) {
		t.Fatalf("expected seller credited 110, got %s", alice.Balance)
	}
}

func TestSweep_WarningFiresOnceWithin25To30Seconds(t *testing.T) {
	f := newFixture()
	alice := mustUser(t, f, "alice")
	room := mustRoom(t, f, alice.UID)
	auc, _ := f.engine.Create(room, alice.UID, "Vase", "desc", d("100"), decimal.Zero, d("10"), time.Minute)

	now := auc.EndTime.Add(-28 * time.Second)
	f.engine.Sweep(auc, now)
	if !auc.WarningSent {
		t.Fatalf("expected warning_sent set within the 25-30s window")
	}

	// A second sweep inside the same window must not panic or double-fire;
	// WarningSent stays true and the auction remains active.
	f.engine.Sweep(auc, now.Add(time.Second))
	if auc.Status != domain.AuctionActive {
		t.Fatalf("expected auction still active after warning, got %s", auc.Status)
	}
}
