package analysis

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jayimu/wireshark-mcp/internal/capfile"
	"github.com/jayimu/wireshark-mcp/internal/classify"
	apperrors "github.com/jayimu/wireshark-mcp/internal/errors"
	"github.com/jayimu/wireshark-mcp/internal/packet"
	"github.com/jayimu/wireshark-mcp/internal/stats"
	"github.com/jayimu/wireshark-mcp/internal/tshark"
)

// Status tells a complete result from an empty or a partial one.
type Status string

const (
	StatusSuccess Status = "success"
	StatusNoData  Status = "no_data"
	StatusPartial Status = "partial"
)

// Warning accompanies a result that is usable but incomplete.
type Warning struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

const warnResponseBudget = "response_budget"

func warningFrom(err error) Warning {
	p := apperrors.Describe(err)
	return Warning{Kind: string(p.Error), Message: p.Message}
}

// WindowInfo states how much of the input a result is based on.
type WindowInfo struct {
	Packets    int  `json:"packets"`
	MaxPackets int  `json:"max_packets"`
	Truncated  bool `json:"truncated"`
	Skipped    int  `json:"skipped"`
}

// Envelope is shared by every windowed result.
type Envelope struct {
	RequestID string     `json:"request_id"`
	Status    Status     `json:"status"`
	Window    WindowInfo `json:"window"`
	Warnings  []Warning  `json:"warnings,omitempty"`
}

func newEnvelope(c *call, w *packet.Window, warnings []Warning) Envelope {
	env := Envelope{
		RequestID: c.id,
		Status:    StatusSuccess,
		Window: WindowInfo{
			Packets:    w.Len(),
			MaxPackets: w.Max(),
			Truncated:  w.Truncated(),
			Skipped:    w.Skipped(),
		},
		Warnings: warnings,
	}
	switch {
	case len(warnings) > 0:
		env.Status = StatusPartial
	case w.Len() == 0:
		env.Status = StatusNoData
	}
	return env
}

// PacketSummary is the compact per-packet detail.
type PacketSummary struct {
	Number   int      `json:"number"`
	Time     string   `json:"time,omitempty"`
	Protocol string   `json:"protocol"`
	Layers   string   `json:"layers"`
	Src      string   `json:"src,omitempty"`
	Dst      string   `json:"dst,omitempty"`
	SrcPort  int      `json:"src_port,omitempty"`
	DstPort  int      `json:"dst_port,omitempty"`
	Length   int      `json:"length,omitempty"`
	Flags    []string `json:"flags,omitempty"`
}

func summarize(rec packet.Record) PacketSummary {
	s := PacketSummary{
		Number:   rec.Number,
		Protocol: rec.Protocol(),
		Layers:   strings.Join(rec.Layers, ":"),
		Src:      rec.Source(),
		Dst:      rec.Destination(),
		SrcPort:  rec.SourcePort(),
		DstPort:  rec.DestinationPort(),
		Length:   rec.Length,
	}
	if !rec.Timestamp.IsZero() {
		s.Time = rec.Timestamp.Format(time.RFC3339Nano)
	}
	for _, t := range classify.Types {
		if t.Matches(rec) {
			s.Flags = append(s.Flags, string(t))
		}
	}
	return s
}

// Detail is the per-packet part of a result. It is the first thing cut
// when a result exceeds the response budget.
type Detail struct {
	Packets   []PacketSummary `json:"packets"`
	Omitted   int             `json:"omitted"`
	Truncated bool            `json:"details_truncated"`
}

func newDetail(recs []packet.Record, limit int) Detail {
	n := min(limit, len(recs))
	d := Detail{
		Packets:   make([]PacketSummary, 0, n),
		Omitted:   len(recs) - n,
		Truncated: n < len(recs),
	}
	for _, rec := range recs[:n] {
		d.Packets = append(d.Packets, summarize(rec))
	}
	return d
}

// maxBucketValue bounds a single Top-N value once a result is over budget.
const maxBucketValue = 256

// fit shrinks v until its JSON encoding fits the response budget. In order:
// the per-packet detail is halved, long bucket values are cut to
// maxBucketValue bytes, the Top-N lists are halved, and finally the lists
// are dropped. Totals and unique counts are never changed. v must hold d
// and lists by pointer.
func (a *Analyzer) fit(env *Envelope, v any, d *Detail, lists ...*[]stats.Bucket) {
	budget := a.opts.MaxResponseBytes
	over := func() bool {
		b, err := json.Marshal(v)
		return err == nil && len(b) > budget
	}
	if !over() {
		return
	}
	for d != nil && len(d.Packets) > 0 && over() {
		keep := len(d.Packets) / 2
		d.Omitted += len(d.Packets) - keep
		d.Packets = d.Packets[:keep]
		d.Truncated = true
	}
	if !over() {
		return
	}

	cut := 0
	for _, l := range lists {
		for i := range *l {
			if val, ok := truncateValue((*l)[i].Value, maxBucketValue); ok {
				(*l)[i].Value = val
				cut++
			}
		}
	}
	if cut > 0 {
		env.Warnings = append(env.Warnings, Warning{
			Kind:    warnResponseBudget,
			Message: fmt.Sprintf("%d values longer than %d bytes were cut to fit the response size limit", cut, maxBucketValue),
		})
	}

	shortened := false
	for over() {
		shrunk := false
		for _, l := range lists {
			if len(*l) > 1 {
				*l = (*l)[:len(*l)/2]
				shrunk = true
			}
		}
		if !shrunk {
			break
		}
		shortened = true
	}
	if shortened {
		env.Warnings = append(env.Warnings, Warning{
			Kind:    warnResponseBudget,
			Message: "Top-N lists were shortened to fit the response size limit",
		})
	}

	if over() {
		for _, l := range lists {
			*l = []stats.Bucket{}
		}
		env.Warnings = append(env.Warnings, Warning{
			Kind:    warnResponseBudget,
			Message: "Top-N lists were dropped to fit the response size limit; totals are complete",
		})
	}
}

// tops returns the Top-N lists of rs for fit.
func tops(rs ...*stats.Result) []*[]stats.Bucket {
	out := make([]*[]stats.Bucket, 0, len(rs))
	for _, r := range rs {
		if r != nil {
			out = append(out, &r.Top)
		}
	}
	return out
}

// truncateValue cuts s to at most n bytes on a rune boundary and appends the
// original length.
func truncateValue(s string, n int) (string, bool) {
	if len(s) <= n {
		return s, false
	}
	end := n
	for end > 0 && !utf8.RuneStart(s[end]) {
		end--
	}
	return fmt.Sprintf("%s...(%d bytes)", s[:end], len(s)), true
}

// Anomalies counts the error categories present in a window.
type Anomalies struct {
	Total  int            `json:"total"`
	ByType map[string]int `json:"by_type"`
}

func anomalies(w *packet.Window) Anomalies {
	res := classify.Classify(w, classify.All)
	out := Anomalies{Total: res.Total, ByType: make(map[string]int, len(res.Counts))}
	for t, n := range res.Counts {
		out.ByType[string(t)] = n
	}
	return out
}

// CaptureResult answers analyze_pcap and capture_live.
type CaptureResult struct {
	Envelope
	Source    string               `json:"source"`
	Filter    string               `json:"filter,omitempty"`
	File      *capfile.Info        `json:"file,omitempty"`
	Protocols *stats.Result        `json:"protocols"`
	Anomalies Anomalies            `json:"anomalies"`
	Traffic   stats.TrafficSummary `json:"traffic"`
	Detail
}

// StatisticsResult answers get_packet_statistics.
type StatisticsResult struct {
	Envelope
	File          *capfile.Info        `json:"file"`
	Filter        string               `json:"filter,omitempty"`
	Protocols     *stats.Result        `json:"protocols"`
	Hierarchy     []stats.LayerShare   `json:"hierarchy"`
	Conversations *stats.Result        `json:"conversations"`
	Traffic       stats.TrafficSummary `json:"traffic"`
}

// FieldsResult answers extract_fields with one aggregation per field, in
// request order.
type FieldsResult struct {
	Envelope
	File   *capfile.Info   `json:"file"`
	Filter string          `json:"filter,omitempty"`
	Fields []*stats.Result `json:"fields"`
}

// ProtocolResult answers analyze_protocols.
type ProtocolResult struct {
	Envelope
	File          *capfile.Info        `json:"file"`
	Protocol      string               `json:"protocol,omitempty"`
	Distribution  *stats.Result        `json:"distribution"`
	TopFields     []stats.Bucket       `json:"top_fields,omitempty"`
	Conversations *stats.Result        `json:"conversations"`
	Traffic       stats.TrafficSummary `json:"traffic"`
	Detail
}

// ErrorsResult answers analyze_errors. Counts may add up to more than
// Total since a packet can belong to several categories; Primary assigns
// each packet to exactly one.
type ErrorsResult struct {
	Envelope
	File      *capfile.Info  `json:"file"`
	ErrorType string         `json:"error_type"`
	Total     int            `json:"total"`
	Counts    map[string]int `json:"counts"`
	Primary   *stats.Result  `json:"primary"`
	Detail
}

// InterfaceList answers list_interfaces.
type InterfaceList struct {
	Interfaces []tshark.Interface `json:"interfaces"`
	Count      int                `json:"count"`
}

// ProtocolList answers get_protocols.
type ProtocolList struct {
	Match     string            `json:"match,omitempty"`
	Protocols []tshark.Protocol `json:"protocols"`
	Count     int               `json:"count"`
	Total     int               `json:"total"`
	Truncated bool              `json:"truncated"`
}
