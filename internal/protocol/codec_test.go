package protocol

import (
	"strings"
	"testing"
)

func TestParseLine_SpaceSeparatedRegister(t *testing.T) {
	req, err := ParseLine("REGISTER|alice pw a@x.com")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if req.Command != "REGISTER" {
		t.Fatalf("expected REGISTER, got %s", req.Command)
	}
	if len(req.Args) != 3 || req.Args[0] != "alice" || req.Args[1] != "pw" || req.Args[2] != "a@x.com" {
		t.Fatalf("unexpected args: %#v", req.Args)
	}
}

func TestParseLine_PipeSeparatedPlaceBid(t *testing.T) {
	req, err := ParseLine("PLACE_BID|1|2|110.00")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if req.Command != "PLACE_BID" {
		t.Fatalf("expected PLACE_BID, got %s", req.Command)
	}
	if len(req.Args) != 3 || req.Args[2] != "110.00" {
		t.Fatalf("unexpected args: %#v", req.Args)
	}
}

func TestParseLine_TrailingNewlineTolerated(t *testing.T) {
	req, err := ParseLine("QUIT|\n")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if req.Command != "QUIT" {
		t.Fatalf("expected QUIT, got %s", req.Command)
	}
}

func TestParseLine_BareCommandNoArgs(t *testing.T) {
	req, err := ParseLine("LIST_ROOMS|")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if req.Command != "LIST_ROOMS" || len(req.Args) != 0 {
		t.Fatalf("unexpected request: %#v", req)
	}
}

func TestParseLine_OversizeFrameRejected(t *testing.T) {
	huge := strings.Repeat("a", MaxFrameSize+1)
	if _, err := ParseLine(huge); err != ErrFrameTooLarge {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestParseLine_EmptyFrameRejected(t *testing.T) {
	if _, err := ParseLine(""); err != ErrEmptyFrame {
		t.Fatalf("expected ErrEmptyFrame, got %v", err)
	}
}

func TestResponseAndFailFormatting(t *testing.T) {
	if got := Response("LOGIN_SUCCESS", "1", "alice", "1000000.00"); got != "LOGIN_SUCCESS|1|alice|1000000.00\n" {
		t.Fatalf("unexpected: %q", got)
	}
	if got := Fail("BID", "Bid too low"); got != "BID_FAIL|Bid too low\n" {
		t.Fatalf("unexpected: %q", got)
	}
}

func TestNotification_HasMarkerPrefix(t *testing.T) {
	got := Notification("USER_JOINED", "bob", "1")
	if !strings.HasPrefix(got, "!USER_JOINED|") {
		t.Fatalf("unexpected: %q", got)
	}
}

func TestList_JoinsRecordsWithPipe(t *testing.T) {
	records := []string{Record("1", "Vintage", "5"), Record("2", "Modern", "3")}
	got := List("ROOM_LIST", records)
	if got != "ROOM_LIST|1;Vintage;5|2;Modern;3\n" {
		t.Fatalf("unexpected: %q", got)
	}
}
