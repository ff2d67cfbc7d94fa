package dispatch

import (
	"bufio"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rivalapexmediation/auctionhouse/internal/auction"
	"github.com/rivalapexmediation/auctionhouse/internal/broadcast"
	"github.com/rivalapexmediation/auctionhouse/internal/domain"
	"github.com/rivalapexmediation/auctionhouse/internal/ledger"
	"github.com/rivalapexmediation/auctionhouse/internal/protocol"
	"github.com/rivalapexmediation/auctionhouse/internal/room"
	"github.com/rivalapexmediation/auctionhouse/internal/session"
)

type fixture struct {
	store *domain.Store
	sess  *session.Registry
	disp  *Dispatcher
}

// pipeConn wires a net.Pipe whose client half is drained into a channel so
// a test can read exactly the frames the dispatcher pushes or responds
// with, without blocking the writer.
type pipeConn struct {
	server net.Conn
	client net.Conn
	lines  chan string
}

func newPipe() *pipeConn {
	server, client := net.Pipe()
	p := &pipeConn{server: server, client: client, lines: make(chan string, 16)}
	go func() {
		r := bufio.NewReader(client)
		for {
			line, err := r.ReadString('\n')
			if line != "" {
				p.lines <- line
			}
			if err != nil {
				close(p.lines)
				return
			}
		}
	}()
	return p
}

func (p *pipeConn) next(t *testing.T) string {
	t.Helper()
	select {
	case line, ok := <-p.lines:
		if !ok {
			t.Fatalf("connection closed before a frame arrived")
		}
		return line
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for a frame")
		return ""
	}
}

func newFixture() (*fixture, *pipeConn) {
	store := domain.New(domain.DefaultLimits())
	sess := session.New()
	b := broadcast.New(sess, nil)
	rooms := room.New(store, sess, b)
	l := ledger.New()
	auctions := auction.New(store, sess, l, b, nil, 0)
	disp := New(store, sess, rooms, auctions, b, nil)
	return &fixture{store: store, sess: sess, disp: disp}, newPipe()
}

func (f *fixture) send(conn net.Conn, cmd string, args ...string) string {
	req := &protocol.Request{Command: cmd, Args: args}
	return f.disp.Handle(conn, req, "trace").Frame
}

func TestRegisterThenDuplicateUsername(t *testing.T) {
	f, p := newFixture()
	defer p.client.Close()

	got := f.send(p.server, "REGISTER", "alice", "pw", "a@x")
	if got != "REGISTER_SUCCESS|1|alice\n" {
		t.Fatalf("unexpected response: %q", got)
	}

	got = f.send(p.server, "REGISTER", "alice", "pw2", "b@x")
	if got != "REGISTER_FAIL|Username already exists\n" {
		t.Fatalf("unexpected duplicate response: %q", got)
	}
}

func TestLoginForcesLogoutOfPriorSession(t *testing.T) {
	f, _ := newFixture()
	f.store.AppendUser("alice", domain.PlainVerifier("pw"), domain.InitialBalanceCents)

	pa := newPipe()
	defer pa.client.Close()
	got := f.send(pa.server, "LOGIN", "alice", "pw")
	if !strings.HasPrefix(got, "LOGIN_SUCCESS|1|alice|") {
		t.Fatalf("unexpected first login response: %q", got)
	}

	pb := newPipe()
	defer pb.client.Close()
	got = f.send(pb.server, "LOGIN", "alice", "pw")
	if !strings.HasPrefix(got, "LOGIN_SUCCESS|1|alice|") {
		t.Fatalf("unexpected second login response: %q", got)
	}

	if line := pa.next(t); line != "!FORCE_LOGOUT|Another login detected\n" {
		t.Fatalf("expected conn A to receive FORCE_LOGOUT, got %q", line)
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	f, p := newFixture()
	defer p.client.Close()
	f.store.AppendUser("alice", domain.PlainVerifier("pw"), domain.InitialBalanceCents)

	got := f.send(p.server, "LOGIN", "alice", "wrong")
	if got != "LOGIN_FAIL|Wrong password\n" {
		t.Fatalf("unexpected response: %q", got)
	}
}

func loginAs(t *testing.T, f *fixture, username string) (*pipeConn, *session.Session) {
	t.Helper()
	u, err := f.store.AppendUser(username, domain.PlainVerifier("pw"), domain.InitialBalanceCents)
	if err != nil {
		t.Fatalf("append user: %v", err)
	}
	p := newPipe()
	got := f.send(p.server, "LOGIN", username, "pw")
	if !strings.HasPrefix(got, "LOGIN_SUCCESS") {
		t.Fatalf("login failed: %q", got)
	}
	return p, f.sess.LookupByUID(u.UID)
}

func TestCreateRoomRejectsUIDMismatch(t *testing.T) {
	f, _ := newFixture()
	p, s := loginAs(t, f, "alice")
	defer p.client.Close()

	wrongUID := s.UID + 1
	got := f.send(p.server, "CREATE_ROOM", itoa(wrongUID), "Vintage", "Old stuff", "5", "60")
	if got != "CREATE_ROOM_FAIL|Session user mismatch\n" {
		t.Fatalf("unexpected response: %q", got)
	}
}

func TestCreateRoomThenJoinRoom(t *testing.T) {
	f, _ := newFixture()
	alicePipe, alice := loginAs(t, f, "alice")
	bobPipe, bob := loginAs(t, f, "bob")
	defer alicePipe.client.Close()
	defer bobPipe.client.Close()

	got := f.send(alicePipe.server, "CREATE_ROOM", itoa(alice.UID), "Vintage", "Old stuff", "5", "60")
	if got != "CREATE_ROOM_SUCCESS|1|Vintage\n" {
		t.Fatalf("unexpected create response: %q", got)
	}
	if alice.CurrentRoomID != 1 {
		t.Fatalf("expected alice auto-joined room 1, got %d", alice.CurrentRoomID)
	}

	got = f.send(bobPipe.server, "JOIN_ROOM", itoa(bob.UID), "1")
	if got != "JOIN_ROOM_SUCCESS|1|Vintage\n" {
		t.Fatalf("unexpected join response: %q", got)
	}

	if line := alicePipe.next(t); line != "!USER_JOINED|bob|1\n" {
		t.Fatalf("expected alice to observe USER_JOINED, got %q", line)
	}
}

func TestCreateAuctionRejectsNonCreator(t *testing.T) {
	f, _ := newFixture()
	alicePipe, alice := loginAs(t, f, "alice")
	bobPipe, bob := loginAs(t, f, "bob")
	defer alicePipe.client.Close()
	defer bobPipe.client.Close()

	f.send(alicePipe.server, "CREATE_ROOM", itoa(alice.UID), "Vintage", "Old stuff", "5", "60")
	f.send(bobPipe.server, "JOIN_ROOM", itoa(bob.UID), "1")
	alicePipe.next(t) // drain USER_JOINED

	got := f.send(bobPipe.server, "CREATE_AUCTION", itoa(bob.UID), "1", "Vase", "desc", "100", "0", "10", "1")
	if got != "CREATE_AUCTION_FAIL|Not room creator\n" {
		t.Fatalf("unexpected response: %q", got)
	}
}

func TestBidFloorThenSuccess(t *testing.T) {
	f, _ := newFixture()
	alicePipe, alice := loginAs(t, f, "alice")
	bobPipe, bob := loginAs(t, f, "bob")
	defer alicePipe.client.Close()
	defer bobPipe.client.Close()

	f.send(alicePipe.server, "CREATE_ROOM", itoa(alice.UID), "Vintage", "Old stuff", "5", "60")
	bobPipe.next(t) // drain NEW_ROOM (bob is logged in, not yet a member, so ToAll reaches him)
	f.send(bobPipe.server, "JOIN_ROOM", itoa(bob.UID), "1")
	alicePipe.next(t) // drain USER_JOINED

	got := f.send(alicePipe.server, "CREATE_AUCTION", itoa(alice.UID), "1", "Vase", "desc", "100", "0", "10", "1")
	if got != "CREATE_AUCTION_SUCCESS|1|Vase\n" {
		t.Fatalf("unexpected create_auction response: %q", got)
	}
	alicePipe.next(t) // drain NEW_AUCTION (creator is a room member too)
	bobPipe.next(t)   // drain NEW_AUCTION

	got = f.send(bobPipe.server, "PLACE_BID", "1", itoa(bob.UID), "105")
	if got != "BID_FAIL|Bid too low\n" {
		t.Fatalf("unexpected low-bid response: %q", got)
	}

	got = f.send(bobPipe.server, "PLACE_BID", "1", itoa(bob.UID), "110")
	if !strings.HasPrefix(got, "BID_SUCCESS|1|110.00|1|") {
		t.Fatalf("unexpected bid response: %q", got)
	}
	if line := alicePipe.next(t); line != "!NEW_BID|1|bob|110.00|1\n" {
		t.Fatalf("expected alice to observe NEW_BID, got %q", line)
	}
}

func TestBuyNowThenSubsequentBidRejected(t *testing.T) {
	f, _ := newFixture()
	alicePipe, alice := loginAs(t, f, "alice")
	bobPipe, bob := loginAs(t, f, "bob")
	defer alicePipe.client.Close()
	defer bobPipe.client.Close()

	f.send(alicePipe.server, "CREATE_ROOM", itoa(alice.UID), "Vintage", "Old stuff", "5", "60")
	bobPipe.next(t) // drain NEW_ROOM
	f.send(bobPipe.server, "JOIN_ROOM", itoa(bob.UID), "1")
	alicePipe.next(t) // drain USER_JOINED

	f.send(alicePipe.server, "CREATE_AUCTION", itoa(alice.UID), "1", "Vase", "desc", "100", "500", "10", "1")
	alicePipe.next(t) // drain NEW_AUCTION (creator is a room member too)
	bobPipe.next(t)   // drain NEW_AUCTION

	got := f.send(bobPipe.server, "BUY_NOW", "1", itoa(bob.UID))
	if got != "BUY_NOW_SUCCESS|1\n" {
		t.Fatalf("unexpected buy_now response: %q", got)
	}
	if line := alicePipe.next(t); !strings.HasPrefix(line, "!AUCTION_ENDED|1|Vase|bob|500.00|") {
		t.Fatalf("expected alice to observe AUCTION_ENDED, got %q", line)
	}

	got = f.send(bobPipe.server, "PLACE_BID", "1", itoa(bob.UID), "600")
	if got != "BID_FAIL|Auction not active\n" {
		t.Fatalf("unexpected post-close bid response: %q", got)
	}
}

func TestQuitSignalsClose(t *testing.T) {
	f, p := newFixture()
	defer p.client.Close()

	outcome := f.disp.Handle(p.server, &protocol.Request{Command: "QUIT"}, "trace")
	if !outcome.Close {
		t.Fatalf("expected QUIT to signal connection close")
	}
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
