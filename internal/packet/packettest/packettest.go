// Package packettest builds tshark-shaped packet JSON and decoded windows
// for tests.
package packettest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jayimu/wireshark-mcp/internal/packet"
)

// Analysis flag field names as emitted by tshark.
const (
	Retransmission = "tcp.analysis.retransmission"
	DuplicateAck   = "tcp.analysis.duplicate_ack"
	LostSegment    = "tcp.analysis.lost_segment"
	ZeroWindow     = "tcp.analysis.zero_window"
	Malformed      = "_ws.malformed"
)

// Packet describes one packet to render in tshark's -T json shape.
type Packet struct {
	Number    int
	Protocols string // frame.protocols, e.g. "eth:ethertype:ip:tcp"
	Src, Dst  string
	SrcPort   int
	DstPort   int
	Length    int
	Time      float64 // epoch seconds; zero omits frame.time_epoch
	Flags     []string
	Fields    map[string]string // extra fields, placed in the layer named by their prefix
}

// TCP returns a plain IPv4/TCP packet.
func TCP(src, dst string, flags ...string) Packet {
	return Packet{Protocols: "eth:ethertype:ip:tcp", Src: src, Dst: dst, SrcPort: 40000, DstPort: 443, Length: 66, Flags: flags}
}

// UDP returns a plain IPv4/UDP packet.
func UDP(src, dst string) Packet {
	return Packet{Protocols: "eth:ethertype:ip:udp", Src: src, Dst: dst, SrcPort: 5353, DstPort: 53, Length: 80}
}

// Layers renders p as a tshark _source.layers object.
func (p Packet) Layers(number int) map[string]any {
	if p.Number != 0 {
		number = p.Number
	}
	frame := map[string]any{
		"frame.number":    strconv.Itoa(number),
		"frame.len":       strconv.Itoa(p.Length),
		"frame.protocols": p.Protocols,
	}
	if p.Time != 0 {
		frame["frame.time_epoch"] = strconv.FormatFloat(p.Time, 'f', 9, 64)
	}
	layers := map[string]any{"frame": frame}
	names := strings.Split(p.Protocols, ":")
	has := func(name string) bool {
		for _, n := range names {
			if n == name {
				return true
			}
		}
		return false
	}
	if has("ip") {
		layers["ip"] = map[string]any{"ip.src": p.Src, "ip.dst": p.Dst}
	}
	if has("ipv6") {
		layers["ipv6"] = map[string]any{"ipv6.src": p.Src, "ipv6.dst": p.Dst}
	}
	if has("tcp") {
		tcp := map[string]any{
			"tcp.srcport": strconv.Itoa(p.SrcPort),
			"tcp.dstport": strconv.Itoa(p.DstPort),
		}
		expert := map[string]any{}
		for _, f := range p.Flags {
			if strings.HasPrefix(f, "tcp.analysis.") {
				expert[f] = ""
				expert["_ws.expert.message"] = "analysis: " + f
			}
			if f == DuplicateAck {
				tcp["tcp.analysis.duplicate_ack_num"] = "1"
			}
		}
		if len(expert) > 0 {
			tcp["tcp.analysis"] = map[string]any{
				"tcp.analysis.flags": "",
				"_ws.expert":         expert,
			}
		}
		layers["tcp"] = tcp
	}
	if has("udp") {
		layers["udp"] = map[string]any{
			"udp.srcport": strconv.Itoa(p.SrcPort),
			"udp.dstport": strconv.Itoa(p.DstPort),
		}
	}
	for _, f := range p.Flags {
		if f == Malformed {
			layers[Malformed] = map[string]any{
				"_ws.expert": map[string]any{
					"_ws.malformed.expert": "",
					"_ws.expert.message":   "Malformed Packet (Exception occurred)",
				},
			}
		}
	}
	for name, value := range p.Fields {
		layer, _, _ := strings.Cut(name, ".")
		m, ok := layers[layer].(map[string]any)
		if !ok {
			m = map[string]any{}
			layers[layer] = m
		}
		m[name] = value
	}
	return layers
}

// Encode renders packets as a `tshark -T json` document.
func Encode(pkts ...Packet) []byte {
	docs := make([]map[string]any, 0, len(pkts))
	for i, p := range pkts {
		docs = append(docs, map[string]any{
			"_index": "packets-2024-01-01",
			"_type":  "doc",
			"_score": nil,
			"_source": map[string]any{
				"layers": p.Layers(i + 1),
			},
		})
	}
	out, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		panic(fmt.Sprintf("packettest: encode: %v", err))
	}
	return out
}

// Window decodes packets into a window of capacity max.
func Window(max int, pkts ...Packet) *packet.Window {
	w, err := packet.Decode(bytes.NewReader(Encode(pkts...)), max)
	if err != nil {
		panic(fmt.Sprintf("packettest: decode: %v", err))
	}
	return w
}

// Repeat returns n copies of p.
func Repeat(p Packet, n int) []Packet {
	out := make([]Packet, n)
	for i := range out {
		out[i] = p
	}
	return out
}
