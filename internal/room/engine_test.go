package room

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/rivalapexmediation/auctionhouse/internal/broadcast"
	"github.com/rivalapexmediation/auctionhouse/internal/domain"
	"github.com/rivalapexmediation/auctionhouse/internal/session"
)

type fixture struct {
	store    *domain.Store
	sessions *session.Registry
	engine   *Engine
}

func newFixture() *fixture {
	store := domain.New(domain.DefaultLimits())
	sessions := session.New()
	b := broadcast.New(sessions, nil)
	return &fixture{store: store, sessions: sessions, engine: New(store, sessions, b)}
}

// attach wires a session to a net.Pipe whose client half is drained in the
// background so broadcast fan-out never blocks on an unread pipe.
func attach(f *fixture, uid int64, username string) (*session.Session, net.Conn) {
	server, client := net.Pipe()
	f.sessions.Attach(server, uid, username, "trace")
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

func TestCreate_AutoJoinsCreator(t *testing.T) {
	f := newFixture()
	alice, clientA := attach(f, 1, "alice")
	defer clientA.Close()

	r, err := f.engine.Create(alice, "Vintage", "Old stuff", 5, 60*time.Second)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if r.CurrentParticipants != 1 {
		t.Fatalf("expected creator auto-joined, got %d participants", r.CurrentParticipants)
	}
	if got := f.sessions.LookupByUID(1).CurrentRoomID; got != r.RoomID {
		t.Fatalf("expected session room set to %d, got %d", r.RoomID, got)
	}
}

func TestJoin_RejectsWhenFull(t *testing.T) {
	f := newFixture()
	alice, clientA := attach(f, 1, "alice")
	bob, clientB := attach(f, 2, "bob")
	carol, clientC := attach(f, 3, "carol")
	defer clientA.Close()
	defer clientB.Close()
	defer clientC.Close()

	r, err := f.engine.Create(alice, "Small", "desc", 1, time.Minute)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := f.engine.Join(bob, r.RoomID); err != domain.ErrRoomFull {
		t.Fatalf("expected ErrRoomFull, got %v", err)
	}
	_ = carol
}

func TestJoin_TransitionsWaitingToActive(t *testing.T) {
	f := newFixture()
	alice, clientA := attach(f, 1, "alice")
	bob, clientB := attach(f, 2, "bob")
	defer clientA.Close()
	defer clientB.Close()

	r, _ := f.engine.Create(alice, "Vintage", "desc", 5, time.Minute)
	if r.Status != domain.RoomActive {
		t.Fatalf("expected room active after creator auto-join, got %s", r.Status)
	}

	if _, err := f.engine.Join(bob, r.RoomID); err != nil {
		t.Fatalf("join: %v", err)
	}
	if r.CurrentParticipants != 2 {
		t.Fatalf("expected 2 participants, got %d", r.CurrentParticipants)
	}
}

func TestLeave_DecrementsAndClearsSessionRoom(t *testing.T) {
	f := newFixture()
	alice, clientA := attach(f, 1, "alice")
	bob, clientB := attach(f, 2, "bob")
	defer clientA.Close()
	defer clientB.Close()

	r, _ := f.engine.Create(alice, "Vintage", "desc", 5, time.Minute)
	f.engine.Join(bob, r.RoomID)

	f.engine.Leave(bob)

	if bob.CurrentRoomID != 0 {
		t.Fatalf("expected bob's room cleared, got %d", bob.CurrentRoomID)
	}
	if r.CurrentParticipants != 1 {
		t.Fatalf("expected 1 participant left, got %d", r.CurrentParticipants)
	}
}

func TestClose_EjectsMembersAndIsIdempotent(t *testing.T) {
	f := newFixture()
	alice, clientA := attach(f, 1, "alice")
	bob, clientB := attach(f, 2, "bob")
	defer clientA.Close()
	defer clientB.Close()

	r, _ := f.engine.Create(alice, "Vintage", "desc", 5, time.Minute)
	f.engine.Join(bob, r.RoomID)

	f.engine.Close(r.RoomID)

	if r.Status != domain.RoomEnded {
		t.Fatalf("expected room ended, got %s", r.Status)
	}
	if alice.CurrentRoomID != 0 || bob.CurrentRoomID != 0 {
		t.Fatalf("expected both members ejected, got alice=%d bob=%d", alice.CurrentRoomID, bob.CurrentRoomID)
	}

	// Closing again must not panic or re-eject (no members left to eject, and
	// EndRoom itself is a no-op on an already-ended room).
	f.engine.Close(r.RoomID)
}
