// Package protocol implements the line-framed wire codec (spec §6,
// component C3): request parsing, response formatting, and notification
// framing. The teacher has no comparable line-oriented text protocol (its
// wire format is JSON-over-HTTP), so this codec's shape follows the grammar
// in spec.md §6 directly; its package layout and doc-comment density follow
// the teacher's internal/api convention of one small, heavily-commented
// file per concern.
package protocol

import (
	"fmt"
	"strings"
)

// MaxFrameSize is the hard cap on one request frame, including its trailing
// newline (spec §3, §6).
const MaxFrameSize = 4096

// spaceSeparated is the set of commands whose argument blob is split on
// whitespace rather than '|' (spec §3).
var spaceSeparated = map[string]bool{
	"REGISTER": true,
	"LOGIN":    true,
}

// Request is one parsed client frame.
type Request struct {
	Command string
	Args    []string
}

// ParseLine parses a single request line. A trailing "\r" or "\n" is
// stripped and whitespace around the command name is ignored; pipe-separated
// argument fields are kept exactly as sent, surrounding whitespace included
// (spec's own client never quotes fields, so no escaping is defined).
func ParseLine(line string) (*Request, error) {
	if len(line) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}

	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return nil, ErrEmptyFrame
	}

	cmd, rest, hasPipe := strings.Cut(line, "|")
	cmd = strings.TrimSpace(cmd)
	if cmd == "" {
		return nil, ErrUnknownCommand
	}
	if !hasPipe {
		// Bare command with no '|' at all, e.g. "QUIT" without trailing pipe.
		return &Request{Command: cmd}, nil
	}

	var args []string
	if spaceSeparated[cmd] {
		args = strings.Fields(rest)
	} else if rest != "" {
		args = strings.Split(rest, "|")
	}

	return &Request{Command: cmd, Args: args}, nil
}

// ErrFrameTooLarge / ErrEmptyFrame / ErrUnknownCommand are codec-local
// parse failures; the connection acceptor writes each back as a generic
// "ERROR|<error text>" response (spec §3/§7).
var (
	ErrFrameTooLarge  = fmt.Errorf("frame exceeds %d bytes", MaxFrameSize)
	ErrEmptyFrame     = fmt.Errorf("empty frame")
	ErrUnknownCommand = fmt.Errorf("unknown command")
)

// Response formats a "<CMD>|<f1>|<f2>|..." success frame.
func Response(cmd string, fields ...string) string {
	if len(fields) == 0 {
		return cmd + "|\n"
	}
	return cmd + "|" + strings.Join(fields, "|") + "\n"
}

// Fail formats a "<CMD>_FAIL|<reason>" frame (spec §6/§7).
func Fail(cmd, reason string) string {
	return cmd + "_FAIL|" + reason + "\n"
}

// Error formats the transport-level generic "ERROR|<reason>" frame.
func Error(reason string) string {
	return "ERROR|" + reason + "\n"
}

// Record joins one list record's fields with ';' (spec §6: "`;` between
// fields within a record").
func Record(fields ...string) string {
	return strings.Join(fields, ";")
}

// List formats a "<CMD>|<rec>|<rec>|..." frame from pre-built records
// (spec §6: "`|` between records").
func List(cmd string, records []string) string {
	return cmd + "|" + strings.Join(records, "|") + "\n"
}

// Notification formats a server-pushed frame. Per SPEC_FULL.md's REDESIGN
// FLAGS #2, every push frame carries a leading '!' marker so a client can
// distinguish unsolicited pushes from command responses without substring
// matching on tokens; this is additive and does not change any token
// spelled out in spec §6 — a client that ignores unknown leading bytes
// still parses the existing command names correctly.
func Notification(cmd string, fields ...string) string {
	if len(fields) == 0 {
		return "!" + cmd + "|\n"
	}
	return "!" + cmd + "|" + strings.Join(fields, "|") + "\n"
}
