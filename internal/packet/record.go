// Package packet turns tshark's JSON packet output into bounded windows of
// normalized records.
package packet

import (
	"strconv"
	"strings"
	"time"
)

// Missing is the bucket key used for records that lack a requested field.
const Missing = "<missing>"

// Fields maps tshark field names (e.g. "ip.src") to their values. A field
// that is present without a value (protocol markers, expert flags) maps to
// the empty string; an absent field has no entry.
type Fields map[string]string

// Lookup returns the value of the named field and whether it is present.
func (f Fields) Lookup(name string) (string, bool) {
	v, ok := f[name]
	return v, ok
}

// Has reports whether the named field is present.
func (f Fields) Has(name string) bool {
	_, ok := f[name]
	return ok
}

// First returns the first non-empty value among names.
func (f Fields) First(names ...string) (string, bool) {
	for _, name := range names {
		if v, ok := f[name]; ok && v != "" {
			return v, true
		}
	}
	return "", false
}

// Flags are the analyzer-provided anomaly markers of a packet.
type Flags struct {
	Retransmission bool `json:"retransmission,omitempty"`
	DuplicateAck   bool `json:"duplicate_ack,omitempty"`
	Malformed      bool `json:"malformed,omitempty"`
	LostSegment    bool `json:"lost_segment,omitempty"`
	TCPAnomaly     bool `json:"tcp_anomaly,omitempty"`
}

// Any reports whether any flag is set.
func (f Flags) Any() bool {
	return f.Retransmission || f.DuplicateAck || f.Malformed || f.LostSegment || f.TCPAnomaly
}

// Record is one decoded packet.
type Record struct {
	Index     int       // position within the window
	Number    int       // frame.number as reported by tshark
	Timestamp time.Time // frame.time_epoch; zero if absent
	Length    int       // frame.len
	Layers    []string  // canonical layer names, outer to inner
	Fields    Fields
	Flags     Flags
}

// NewRecord builds a record from flattened tshark fields. It fails if the
// fields carry no protocol layer information.
func NewRecord(fields Fields) (Record, error) {
	protocols, ok := fields.Lookup("frame.protocols")
	if !ok {
		return Record{}, errMissingProtocols
	}
	layers := NormalizeLayers(strings.Split(protocols, ":"))
	if len(layers) == 0 {
		return Record{}, errMissingProtocols
	}
	rec := Record{
		Layers: layers,
		Fields: fields,
		Flags:  detectFlags(fields),
	}
	if v, ok := fields.Lookup("frame.number"); ok {
		rec.Number, _ = strconv.Atoi(v)
	}
	if v, ok := fields.Lookup("frame.len"); ok {
		rec.Length, _ = strconv.Atoi(v)
	}
	if v, ok := fields.Lookup("frame.time_epoch"); ok {
		rec.Timestamp = parseEpoch(v)
	}
	return rec, nil
}

// Protocol is the innermost layer, as shown in Wireshark's Protocol column.
// A trailing raw "data" layer is skipped unless it is the only layer.
func (r Record) Protocol() string {
	n := len(r.Layers)
	if n == 0 {
		return ""
	}
	if n > 1 && r.Layers[n-1] == "data" {
		return r.Layers[n-2]
	}
	return r.Layers[n-1]
}

// HasLayer reports whether the record contains the named layer.
func (r Record) HasLayer(name string) bool {
	name = strings.ToLower(name)
	for _, l := range r.Layers {
		if l == name {
			return true
		}
	}
	return false
}

// Source returns the network source address, falling back to the link layer.
func (r Record) Source() string {
	v, _ := r.Fields.First("ip.src", "ipv6.src", "eth.src")
	return v
}

// Destination returns the network destination address, falling back to the
// link layer.
func (r Record) Destination() string {
	v, _ := r.Fields.First("ip.dst", "ipv6.dst", "eth.dst")
	return v
}

// SourcePort returns the transport source port, or 0.
func (r Record) SourcePort() int {
	v, _ := r.Fields.First("tcp.srcport", "udp.srcport", "sctp.srcport")
	port, _ := strconv.Atoi(v)
	return port
}

// DestinationPort returns the transport destination port, or 0.
func (r Record) DestinationPort() int {
	v, _ := r.Fields.First("tcp.dstport", "udp.dstport", "sctp.dstport")
	port, _ := strconv.Atoi(v)
	return port
}

func detectFlags(f Fields) Flags {
	flags := Flags{
		Retransmission: f.Has("tcp.analysis.retransmission") ||
			f.Has("tcp.analysis.fast_retransmission") ||
			f.Has("tcp.analysis.spurious_retransmission"),
		DuplicateAck: f.Has("tcp.analysis.duplicate_ack") ||
			f.Has("tcp.analysis.duplicate_ack_num"),
		LostSegment: f.Has("tcp.analysis.lost_segment"),
		Malformed:   f.Has("_ws.malformed"),
	}
	flags.TCPAnomaly = f.Has("tcp.analysis.flags") ||
		flags.Retransmission || flags.DuplicateAck || flags.LostSegment
	return flags
}

// parseEpoch parses tshark's "seconds.nanoseconds" epoch representation.
func parseEpoch(s string) time.Time {
	sec, frac, _ := strings.Cut(strings.TrimSpace(s), ".")
	secs, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return time.Time{}
	}
	var nanos int64
	if frac != "" {
		if len(frac) > 9 {
			frac = frac[:9]
		}
		frac += strings.Repeat("0", 9-len(frac))
		nanos, _ = strconv.ParseInt(frac, 10, 64)
	}
	return time.Unix(secs, nanos).UTC()
}
