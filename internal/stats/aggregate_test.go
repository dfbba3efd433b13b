package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/jayimu/wireshark-mcp/internal/errors"
	"github.com/jayimu/wireshark-mcp/internal/packet"
	"github.com/jayimu/wireshark-mcp/internal/packet/packettest"
)

func sumCounts(bs []Bucket) int {
	var n int
	for _, b := range bs {
		n += b.Count
	}
	return n
}

func TestByProtocol_Distribution(t *testing.T) {
	pkts := append(
		packettest.Repeat(packettest.TCP("10.0.0.1", "10.0.0.2"), 60),
		packettest.Repeat(packettest.UDP("10.0.0.1", "10.0.0.53"), 40)...,
	)
	w := packettest.Window(1000, pkts...)

	res, err := ByProtocol(w, 10)
	require.NoError(t, err)
	assert.Equal(t, 100, res.WindowSize)
	assert.Equal(t, 100, res.Total)
	assert.Equal(t, 2, res.Unique)
	assert.Equal(t, []Bucket{
		{Value: "tcp", Count: 60, Percent: 60},
		{Value: "udp", Count: 40, Percent: 40},
	}, res.Top)
	assert.False(t, res.Truncated)
}

func TestAggregate_SumEqualsWindow(t *testing.T) {
	w := packettest.Window(100,
		packettest.TCP("10.0.0.1", "10.0.0.2", packettest.Retransmission, packettest.DuplicateAck),
		packettest.TCP("10.0.0.1", "10.0.0.2"),
		packettest.UDP("10.0.0.3", "10.0.0.4"),
		packettest.Packet{Protocols: "eth:ethertype:arp"},
		packettest.Packet{Protocols: "eth:ethertype:ip:udp:dns:_ws.malformed", Flags: []string{packettest.Malformed}},
	)
	for _, req := range []Request{
		{Dimension: DimProtocol, TopN: 10},
		{Dimension: DimErrorType, TopN: 10},
		{Dimension: DimField, Field: "ip.src", TopN: 10},
		{Dimension: DimField, Field: "tcp.srcport", TopN: 1},
	} {
		res, err := Aggregate(w, req)
		require.NoError(t, err)
		assert.Equal(t, w.Len(), sumCounts(res.Buckets), "dimension %s %s", req.Dimension, req.Field)
		assert.Equal(t, w.Len(), res.Total)
	}
}

func TestByErrorType_Precedence(t *testing.T) {
	w := packettest.Window(100,
		packettest.TCP("a", "b", packettest.Retransmission, packettest.DuplicateAck),
		packettest.TCP("a", "b", packettest.DuplicateAck),
		packettest.TCP("a", "b", packettest.ZeroWindow),
		packettest.TCP("a", "b"),
	)
	res, err := ByErrorType(w, 10)
	require.NoError(t, err)
	assert.Equal(t, []Bucket{
		{Value: "retransmission", Count: 1, Percent: 25},
		{Value: "duplicate_ack", Count: 1, Percent: 25},
		{Value: "tcp", Count: 1, Percent: 25},
		{Value: "<none>", Count: 1, Percent: 25},
	}, res.Buckets)
}

func TestByField_Missing(t *testing.T) {
	w := packettest.Window(100,
		packettest.Packet{Protocols: "eth:ethertype:ip:udp:dns", Fields: map[string]string{"dns.qry.name": "example.com"}},
		packettest.Packet{Protocols: "eth:ethertype:ip:udp:dns", Fields: map[string]string{"dns.qry.name": "example.com"}},
		packettest.Packet{Protocols: "eth:ethertype:ip:tcp"},
	)
	res, err := ByField(w, "dns.qry.name", 10)
	require.NoError(t, err)
	assert.Equal(t, "dns.qry.name", res.Key)
	assert.Equal(t, []Bucket{
		{Value: "example.com", Count: 2, Percent: 66.67},
		{Value: packet.Missing, Count: 1, Percent: 33.33},
	}, res.Top)
	assert.Nil(t, res.Numeric)
}

func TestByField_Numeric(t *testing.T) {
	w := packettest.Window(100,
		packettest.Packet{Protocols: "eth:ethertype:ip:tcp", Fields: map[string]string{"tcp.window_size": "100"}},
		packettest.Packet{Protocols: "eth:ethertype:ip:tcp", Fields: map[string]string{"tcp.window_size": "300"}},
		packettest.Packet{Protocols: "eth:ethertype:ip:tcp", Fields: map[string]string{"tcp.window_size": "0x0c8"}},
		packettest.Packet{Protocols: "eth:ethertype:ip:udp"},
	)
	res, err := ByField(w, "tcp.window_size", 10)
	require.NoError(t, err)
	require.NotNil(t, res.Numeric)
	assert.Equal(t, Numeric{Min: 100, Max: 300, Mean: 200, Count: 3}, *res.Numeric)
}

func TestAggregate_TopNDeterministic(t *testing.T) {
	w := packettest.Window(100,
		packettest.Packet{Protocols: "eth:ethertype:ip:udp:dns"},
		packettest.Packet{Protocols: "eth:ethertype:ip:tcp:http"},
		packettest.Packet{Protocols: "eth:ethertype:ip:udp:dns"},
		packettest.Packet{Protocols: "eth:ethertype:ip:tcp:tls"},
		packettest.Packet{Protocols: "eth:ethertype:ip:tcp:http"},
		packettest.Packet{Protocols: "eth:ethertype:arp"},
	)
	first, err := ByProtocol(w, 2)
	require.NoError(t, err)
	for range 20 {
		again, err := ByProtocol(w, 2)
		require.NoError(t, err)
		assert.Equal(t, first.Top, again.Top)
	}
	assert.Equal(t, []string{"dns", "http"}, []string{first.Top[0].Value, first.Top[1].Value})

	zero, err := ByProtocol(w, 0)
	require.NoError(t, err)
	assert.Empty(t, zero.Top)
	assert.Equal(t, 4, zero.Unique)
}

func TestAggregate_Invalid(t *testing.T) {
	w := packettest.Window(10, packettest.TCP("a", "b"))
	tests := []struct {
		name string
		req  Request
	}{
		{"negative top_n", Request{Dimension: DimProtocol, TopN: -1}},
		{"unknown dimension", Request{Dimension: "colour"}},
		{"field without name", Request{Dimension: DimField}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Aggregate(w, tt.req)
			require.Error(t, err)
			assert.Equal(t, apperrors.KindInvalidInput, apperrors.KindOf(err))
		})
	}
}

func TestAggregate_EmptyWindow(t *testing.T) {
	res, err := ByProtocol(packet.NewWindow(10), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Total)
	assert.Empty(t, res.Top)
}

func TestAggregate_CarriesTruncation(t *testing.T) {
	w := packettest.Window(10, packettest.Repeat(packettest.TCP("a", "b"), 50)...)
	res, err := ByProtocol(w, 10)
	require.NoError(t, err)
	assert.True(t, res.Truncated)
	assert.Equal(t, 10, res.WindowSize)
	assert.Equal(t, 10, res.Top[0].Count)
}

func TestConversations(t *testing.T) {
	w := packettest.Window(100,
		packettest.TCP("10.0.0.1", "10.0.0.2"),
		packettest.TCP("10.0.0.2", "10.0.0.1"),
		packettest.UDP("10.0.0.9", "10.0.0.1"),
		packettest.Packet{Protocols: "eth:ethertype:arp"},
	)
	res := Conversations(w, 10)
	assert.Equal(t, []Bucket{
		{Value: "10.0.0.1 <-> 10.0.0.2", Count: 2, Percent: 50},
		{Value: "10.0.0.1 <-> 10.0.0.9", Count: 1, Percent: 25},
		{Value: packet.Missing, Count: 1, Percent: 25},
	}, res.Top)
}

func TestHierarchy(t *testing.T) {
	w := packettest.Window(100,
		packettest.Packet{Protocols: "eth:ethertype:ip:tcp:http"},
		packettest.Packet{Protocols: "eth:ethertype:ip:udp"},
		packettest.Packet{Protocols: "eth:ethertype:ip:icmp:ip:udp"},
		packettest.Packet{Protocols: "eth:ethertype:arp"},
	)
	got := Hierarchy(w)
	want := []LayerShare{
		{Layer: "eth", Depth: 0, Count: 4, Percent: 100},
		{Layer: "ip", Depth: 1, Count: 3, Percent: 75},
		{Layer: "arp", Depth: 1, Count: 1, Percent: 25},
		{Layer: "tcp", Depth: 2, Count: 1, Percent: 25},
		{Layer: "udp", Depth: 2, Count: 2, Percent: 50},
		{Layer: "icmp", Depth: 2, Count: 1, Percent: 25},
		{Layer: "http", Depth: 3, Count: 1, Percent: 25},
	}
	assert.Equal(t, want, got)
}

func TestTraffic(t *testing.T) {
	w := packettest.Window(100,
		packettest.Packet{Protocols: "eth:ethertype:ip:udp", Length: 100, Time: 1700000000},
		packettest.Packet{Protocols: "eth:ethertype:ip:udp", Length: 300, Time: 1700000002},
		packettest.Packet{Protocols: "eth:ethertype:ip:udp", Length: 200, Time: 1700000001},
	)
	ts := Traffic(w)
	assert.Equal(t, 3, ts.Packets)
	assert.Equal(t, 600, ts.Bytes)
	assert.Equal(t, 200.0, ts.MeanLength)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), ts.First)
	assert.Equal(t, time.Unix(1700000002, 0).UTC(), ts.Last)
	assert.Equal(t, "2s", ts.Span)
	assert.Equal(t, 1.5, ts.PacketsPerSec)
}

func TestFieldPresence(t *testing.T) {
	w := packettest.Window(100,
		packettest.Packet{Protocols: "eth:ethertype:ip:udp:dns", Fields: map[string]string{"dns.qry.name": "a", "dns.flags.rcode": "0"}},
		packettest.Packet{Protocols: "eth:ethertype:ip:udp:dns", Fields: map[string]string{"dns.qry.name": "b"}},
	)
	got := FieldPresence(w, "DNS", 10)
	require.Len(t, got, 2)
	assert.Equal(t, Bucket{Value: "dns.qry.name", Count: 2, Percent: 100}, got[0])
	assert.Equal(t, Bucket{Value: "dns.flags.rcode", Count: 1, Percent: 50}, got[1])
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"42", 42, true},
		{" 1.5 ", 1.5, true},
		{"0x10", 16, true},
		{"0XfF", 255, true},
		{"-3", -3, true},
		{"NaN", 0, false},
		{"10.0.0.1", 0, false},
		{"0xzz", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseNumber(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		if tt.ok {
			assert.Equal(t, tt.want, got, tt.in)
		}
	}
}

func TestCounter_TopTies(t *testing.T) {
	c := NewCounter()
	for _, v := range []string{"c", "b", "a", "b", "c", "a"} {
		c.Add(v)
	}
	top := c.Top(-1, 6)
	assert.Equal(t, []string{"c", "b", "a"}, []string{top[0].Value, top[1].Value, top[2].Value})
	assert.Equal(t, 2, c.Count("a"))
	assert.Equal(t, 0, c.Count("z"))
}
