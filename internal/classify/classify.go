// Package classify selects packets by error category.
package classify

import (
	"strings"

	apperrors "github.com/jayimu/wireshark-mcp/internal/errors"
	"github.com/jayimu/wireshark-mcp/internal/packet"
)

// Type is an error category.
type Type string

const (
	All            Type = "all"
	Malformed      Type = "malformed"
	TCP            Type = "tcp"
	Retransmission Type = "retransmission"
	DuplicateAck   Type = "duplicate_ack"
	LostSegment    Type = "lost_segment"
)

// None is the error-type bucket of a record without any flag.
const None = "<none>"

// Types lists the concrete categories in precedence order.
var Types = []Type{Malformed, Retransmission, DuplicateAck, LostSegment, TCP}

// ParseType parses an error_type argument. The empty string means All.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case "":
		return All, nil
	case All, Malformed, TCP, Retransmission, DuplicateAck, LostSegment:
		return t, nil
	}
	return "", apperrors.New(apperrors.KindInvalidErrorType, "unknown error type %q", s).
		WithParam("error_type")
}

// Matches reports whether rec belongs to category t.
func (t Type) Matches(rec packet.Record) bool {
	f := rec.Flags
	switch t {
	case All:
		return f.Any()
	case Malformed:
		return f.Malformed
	case TCP:
		return f.TCPAnomaly
	case Retransmission:
		return f.Retransmission
	case DuplicateAck:
		return f.DuplicateAck
	case LostSegment:
		return f.LostSegment
	}
	return false
}

// DisplayFilter returns the tshark display filter that pre-selects
// candidate packets for t.
func (t Type) DisplayFilter() string {
	switch t {
	case Malformed:
		return "_ws.malformed"
	case TCP:
		return "tcp.analysis.flags"
	case Retransmission:
		return "tcp.analysis.retransmission"
	case DuplicateAck:
		return "tcp.analysis.duplicate_ack"
	case LostSegment:
		return "tcp.analysis.lost_segment"
	}
	return "(_ws.malformed) or (tcp.analysis.flags) or (tcp.analysis.retransmission)" +
		" or (tcp.analysis.duplicate_ack) or (tcp.analysis.lost_segment)"
}

// Primary returns the single category rec is counted under when each
// record must land in exactly one bucket, or None.
func Primary(rec packet.Record) string {
	for _, t := range Types {
		if t.Matches(rec) {
			return string(t)
		}
	}
	return None
}

// Result is the outcome of classifying a window.
type Result struct {
	Type    Type
	Matches []packet.Record // window order
	Counts  map[Type]int    // a record flagged twice counts once per type
	Total   int             // distinct matching records
}

// Classify selects the records of w matching t. For All, Counts carries
// every concrete category; otherwise only t.
func Classify(w *packet.Window, t Type) *Result {
	res := &Result{Type: t, Counts: make(map[Type]int)}
	kinds := []Type{t}
	if t == All {
		kinds = Types
	}
	for _, k := range kinds {
		res.Counts[k] = 0
	}
	for _, rec := range w.Records() {
		if !t.Matches(rec) {
			continue
		}
		res.Matches = append(res.Matches, rec)
		for _, k := range kinds {
			if k.Matches(rec) {
				res.Counts[k]++
			}
		}
	}
	res.Total = len(res.Matches)
	return res
}
