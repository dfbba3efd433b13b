package packet_test

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/jayimu/wireshark-mcp/internal/errors"
	"github.com/jayimu/wireshark-mcp/internal/packet"
	"github.com/jayimu/wireshark-mcp/internal/packet/packettest"
)

func TestDecode_Cap(t *testing.T) {
	tests := []struct {
		name          string
		packets       int
		max           int
		wantLen       int
		wantTruncated bool
	}{
		{name: "under cap", packets: 5, max: 10, wantLen: 5},
		{name: "exactly cap", packets: 10, max: 10, wantLen: 10},
		{name: "over cap", packets: 50, max: 10, wantLen: 10, wantTruncated: true},
		{name: "cap of one", packets: 3, max: 1, wantLen: 1, wantTruncated: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pkts := packettest.Repeat(packettest.TCP("10.0.0.1", "10.0.0.2"), tt.packets)
			w, err := packet.Decode(bytes.NewReader(packettest.Encode(pkts...)), tt.max)
			require.NoError(t, err)
			assert.Equal(t, tt.wantLen, w.Len())
			assert.LessOrEqual(t, w.Len(), tt.max)
			assert.Equal(t, tt.wantTruncated, w.Truncated())
			for i, rec := range w.Records() {
				assert.Equal(t, i, rec.Index)
				assert.Equal(t, i+1, rec.Number)
			}
		})
	}
}

func TestDecode_Empty(t *testing.T) {
	for _, in := range []string{"", "  \n", "[]", "[\n\n]\n"} {
		w, err := packet.Decode(strings.NewReader(in), 10)
		require.NoError(t, err, "input %q", in)
		assert.Equal(t, 0, w.Len())
		assert.False(t, w.Truncated())
	}
}

func TestDecode_SkipsUnshapedRecords(t *testing.T) {
	in := `[
	  {"_source": {"layers": {"frame": {"frame.protocols": "eth:ethertype:ip:udp", "frame.number": "1"}}}},
	  {"_index": "packets", "_source": {}},
	  {"_source": {"layers": {"frame": {"frame.number": "3"}}}},
	  42,
	  {"_source": {"layers": {"frame": {"frame.protocols": "eth:ethertype:ip:tcp", "frame.number": "5"}}}}
	]`
	w, err := packet.Decode(strings.NewReader(in), 10)
	require.NoError(t, err)
	assert.Equal(t, 2, w.Len())
	assert.Equal(t, 3, w.Skipped())
	assert.Equal(t, "udp", w.Records()[0].Protocol())
	assert.Equal(t, "tcp", w.Records()[1].Protocol())
	assert.Equal(t, 1, w.Records()[1].Index)
}

func TestDecode_BrokenStreamKeepsPartialWindow(t *testing.T) {
	doc := packettest.Encode(packettest.Repeat(packettest.UDP("10.0.0.1", "10.0.0.53"), 3)...)
	// cut the document inside the third packet, as a killed process would
	cut := bytes.LastIndex(doc, []byte(`"_source"`))
	w, err := packet.Decode(bytes.NewReader(doc[:cut]), 10)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindMalformedOutput, apperrors.KindOf(err))
	assert.Equal(t, 2, w.Len())
}

func TestDecode_NotAnArray(t *testing.T) {
	_, err := packet.Decode(strings.NewReader(`{"_source": {}}`), 10)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindMalformedOutput, apperrors.KindOf(err))
}

func TestDecode_Flags(t *testing.T) {
	w := packettest.Window(10,
		packettest.TCP("10.0.0.1", "10.0.0.2"),
		packettest.TCP("10.0.0.1", "10.0.0.2", packettest.Retransmission),
		packettest.TCP("10.0.0.2", "10.0.0.1", packettest.DuplicateAck),
		packettest.TCP("10.0.0.1", "10.0.0.2", packettest.LostSegment),
		packettest.TCP("10.0.0.1", "10.0.0.2", packettest.ZeroWindow),
		packettest.Packet{Protocols: "eth:ethertype:ip:udp:dns:_ws.malformed", Src: "10.0.0.1", Dst: "10.0.0.53", Flags: []string{packettest.Malformed}},
	)
	require.Equal(t, 6, w.Len())
	recs := w.Records()

	assert.False(t, recs[0].Flags.Any())
	assert.Equal(t, packet.Flags{Retransmission: true, TCPAnomaly: true}, recs[1].Flags)
	assert.Equal(t, packet.Flags{DuplicateAck: true, TCPAnomaly: true}, recs[2].Flags)
	assert.Equal(t, packet.Flags{LostSegment: true, TCPAnomaly: true}, recs[3].Flags)
	assert.Equal(t, packet.Flags{TCPAnomaly: true}, recs[4].Flags)
	assert.Equal(t, packet.Flags{Malformed: true}, recs[5].Flags)
	assert.Equal(t, []string{"eth", "ip", "udp", "dns"}, recs[5].Layers)
}

func TestDecode_RepeatedKeys(t *testing.T) {
	// two expert items under tcp.analysis.flags and a tunnelled ip layer
	repeatedKeys := `[
	  {"_source": {"layers": {
	    "frame": {"frame.number": "1", "frame.len": "120", "frame.protocols": "eth:ethertype:ip:gre:ip:tcp"},
	    "ip": {"ip.src": "192.0.2.1", "ip.dst": "192.0.2.2"},
	    "ip": {"ip.src": "10.0.0.1", "ip.dst": "10.0.0.2"},
	    "tcp": {
	      "tcp.srcport": "40000",
	      "tcp.analysis": {
	        "tcp.analysis.flags": {
	          "_ws.expert": {"tcp.analysis.retransmission": "", "_ws.expert.message": "This frame is a (suspected) retransmission"},
	          "_ws.expert": {"tcp.analysis.lost_segment": "", "_ws.expert.message": "Previous segment(s) not captured"}
	        }
	      }
	    }
	  }}}
	]`
	// the same packet as tshark --no-duplicate-keys prints it
	mergedKeys := `[
	  {"_source": {"layers": {
	    "frame": {"frame.number": "1", "frame.len": "120", "frame.protocols": "eth:ethertype:ip:gre:ip:tcp"},
	    "ip": [{"ip.src": "192.0.2.1", "ip.dst": "192.0.2.2"}, {"ip.src": "10.0.0.1", "ip.dst": "10.0.0.2"}],
	    "tcp": {
	      "tcp.srcport": "40000",
	      "tcp.analysis": {
	        "tcp.analysis.flags": {
	          "_ws.expert": [
	            {"tcp.analysis.retransmission": "", "_ws.expert.message": "This frame is a (suspected) retransmission"},
	            {"tcp.analysis.lost_segment": "", "_ws.expert.message": "Previous segment(s) not captured"}
	          ]
	        }
	      }
	    }
	  }}}
	]`
	for name, in := range map[string]string{"repeated": repeatedKeys, "merged": mergedKeys} {
		t.Run(name, func(t *testing.T) {
			w, err := packet.Decode(strings.NewReader(in), 10)
			require.NoError(t, err)
			require.Equal(t, 1, w.Len())
			rec := w.Records()[0]
			assert.Equal(t, packet.Flags{Retransmission: true, LostSegment: true, TCPAnomaly: true}, rec.Flags)
			v, ok := rec.Fields.Lookup("ip.src")
			assert.True(t, ok)
			assert.Equal(t, "192.0.2.1,10.0.0.1", v)
			assert.Equal(t, "tcp", rec.Protocol())
		})
	}
}

func TestDecode_FieldListShape(t *testing.T) {
	in := `[
	  {"_index": "packets", "_source": {"layers": {
	    "frame.number": ["7"],
	    "frame.time_epoch": ["1700000000.250000000"],
	    "frame.protocols": ["eth:ethertype:ip:udp:dns"],
	    "dns.qry.name": ["example.com", "example.org"]
	  }}}
	]`
	w, err := packet.Decode(strings.NewReader(in), 10)
	require.NoError(t, err)
	require.Equal(t, 1, w.Len())
	rec := w.Records()[0]
	assert.Equal(t, 7, rec.Number)
	assert.Equal(t, "dns", rec.Protocol())
	assert.Equal(t, time.Unix(1700000000, 250000000).UTC(), rec.Timestamp)
	v, ok := rec.Fields.Lookup("dns.qry.name")
	assert.True(t, ok)
	assert.Equal(t, "example.com,example.org", v)
}

func TestRecord_Accessors(t *testing.T) {
	w := packettest.Window(10,
		packettest.Packet{Protocols: "eth:ethertype:ip:tcp:data", Src: "192.0.2.1", Dst: "192.0.2.2", SrcPort: 1234, DstPort: 80, Length: 1514},
		packettest.Packet{Protocols: "eth:ethertype:ipv6:udp", Src: "2001:db8::1", Dst: "2001:db8::2", SrcPort: 546, DstPort: 547},
	)
	first, second := w.Records()[0], w.Records()[1]

	assert.Equal(t, "tcp", first.Protocol())
	assert.Equal(t, "192.0.2.1", first.Source())
	assert.Equal(t, "192.0.2.2", first.Destination())
	assert.Equal(t, 1234, first.SourcePort())
	assert.Equal(t, 80, first.DestinationPort())
	assert.Equal(t, 1514, first.Length)
	assert.True(t, first.HasLayer("TCP"))

	assert.Equal(t, "2001:db8::1", second.Source())
	assert.Equal(t, 547, second.DestinationPort())
}

func TestFields_Lookup(t *testing.T) {
	f := packet.Fields{"tcp": "", "ip.src": "10.0.0.1"}

	v, ok := f.Lookup("tcp")
	assert.True(t, ok, "present-but-empty field must be found")
	assert.Empty(t, v)

	_, ok = f.Lookup("udp")
	assert.False(t, ok)

	v, ok = f.First("ipv6.src", "ip.src")
	assert.True(t, ok)
	assert.Equal(t, "10.0.0.1", v)
}

func TestNormalizeLayers(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{in: "eth:ethertype:ip:tcp", want: []string{"eth", "ip", "tcp"}},
		{in: "ETH:EtherType:IP:TCP:HTTP", want: []string{"eth", "ip", "tcp", "http"}},
		{in: "eth:ethertype:ip:tcp:http:_ws.malformed", want: []string{"eth", "ip", "tcp", "http"}},
		{in: "eth:ethertype:ip:icmp:ip:udp", want: []string{"eth", "ip", "icmp", "ip", "udp"}},
		{in: "sll:ethertype:ipv6:ipv6:udp", want: []string{"sll", "ipv6", "udp"}},
		{in: " : ", want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, packet.NormalizeLayers(strings.Split(tt.in, ":")))
		})
	}
}

func TestWindow_Add(t *testing.T) {
	w := packet.NewWindow(2)
	assert.True(t, w.Add(packet.Record{}))
	assert.True(t, w.Add(packet.Record{}))
	assert.False(t, w.Truncated())
	assert.False(t, w.Add(packet.Record{}))
	assert.True(t, w.Truncated())
	assert.Equal(t, 2, w.Len())

	assert.Equal(t, packet.DefaultMaxPackets, packet.NewWindow(0).Max())
}
