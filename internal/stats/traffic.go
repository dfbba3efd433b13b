package stats

import (
	"math"
	"slices"
	"strings"
	"time"

	"github.com/jayimu/wireshark-mcp/internal/packet"
)

// Conversations counts records per unordered address pair, keyed
// "a <-> b" with the lower address first.
func Conversations(w *packet.Window, topN int) *Result {
	c := NewCounter()
	for _, rec := range w.Records() {
		c.Add(conversationKey(rec.Source(), rec.Destination()))
	}
	res := newResult(w, c, topN)
	res.Dimension = "conversation"
	return res
}

func conversationKey(src, dst string) string {
	if src == "" || dst == "" {
		return packet.Missing
	}
	if dst < src {
		src, dst = dst, src
	}
	return src + " <-> " + dst
}

// LayerShare is the number of records that carry a protocol layer.
type LayerShare struct {
	Layer   string  `json:"layer"`
	Depth   int     `json:"depth"`
	Count   int     `json:"count"`
	Percent float64 `json:"percent"`
}

// Hierarchy counts, for every layer name, how many records contain it.
// Layers are listed in first-seen order; Depth is the shallowest position
// the layer was seen at. A record is counted once per distinct layer, so
// counts do not sum to the window size.
func Hierarchy(w *packet.Window) []LayerShare {
	c := NewCounter()
	depth := make(map[string]int)
	for _, rec := range w.Records() {
		seen := make(map[string]bool, len(rec.Layers))
		for i, l := range rec.Layers {
			if seen[l] {
				continue
			}
			seen[l] = true
			c.Add(l)
			if d, ok := depth[l]; !ok || i < d {
				depth[l] = i
			}
		}
	}
	out := make([]LayerShare, 0, c.Unique())
	for _, b := range c.Buckets(w.Len()) {
		out = append(out, LayerShare{Layer: b.Value, Depth: depth[b.Value], Count: b.Count, Percent: b.Percent})
	}
	slices.SortStableFunc(out, func(a, b LayerShare) int {
		return a.Depth - b.Depth
	})
	return out
}

// TrafficSummary describes the volume and timing of a window.
type TrafficSummary struct {
	Packets       int       `json:"packets"`
	Bytes         int       `json:"bytes"`
	MeanLength    float64   `json:"mean_length"`
	First         time.Time `json:"first,omitzero"`
	Last          time.Time `json:"last,omitzero"`
	Span          string    `json:"span,omitempty"`
	PacketsPerSec float64   `json:"packets_per_sec,omitempty"`
}

// Traffic summarizes w. Records without a timestamp do not move First and
// Last.
func Traffic(w *packet.Window) TrafficSummary {
	var ts TrafficSummary
	for _, rec := range w.Records() {
		ts.Packets++
		ts.Bytes += rec.Length
		if rec.Timestamp.IsZero() {
			continue
		}
		if ts.First.IsZero() || rec.Timestamp.Before(ts.First) {
			ts.First = rec.Timestamp
		}
		if rec.Timestamp.After(ts.Last) {
			ts.Last = rec.Timestamp
		}
	}
	if ts.Packets > 0 {
		ts.MeanLength = math.Round(float64(ts.Bytes)/float64(ts.Packets)*100) / 100
	}
	if span := ts.Last.Sub(ts.First); !ts.First.IsZero() && span > 0 {
		ts.Span = span.String()
		ts.PacketsPerSec = math.Round(float64(ts.Packets)/span.Seconds()*100) / 100
	}
	return ts
}

// FieldPresence ranks the fields of one protocol (names starting with
// prefix + ".") by the number of records that carry them.
func FieldPresence(w *packet.Window, prefix string, topN int) []Bucket {
	prefix = strings.ToLower(prefix) + "."
	c := NewCounter()
	for _, rec := range w.Records() {
		for _, name := range sortedFieldNames(rec.Fields) {
			if strings.HasPrefix(name, prefix) {
				c.Add(name)
			}
		}
	}
	return c.Top(topN, w.Len())
}

func sortedFieldNames(f packet.Fields) []string {
	names := make([]string, 0, len(f))
	for name := range f {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
