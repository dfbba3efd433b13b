package stats

import (
	"math"
	"strconv"
	"strings"

	"github.com/jayimu/wireshark-mcp/internal/classify"
	apperrors "github.com/jayimu/wireshark-mcp/internal/errors"
	"github.com/jayimu/wireshark-mcp/internal/packet"
)

// DefaultTopN is the Top-N size used when a request does not set one.
const DefaultTopN = 10

// Dimension selects what an aggregation groups records by.
type Dimension string

const (
	DimProtocol  Dimension = "protocol"
	DimField     Dimension = "field"
	DimErrorType Dimension = "error_type"
)

// Request describes one aggregation.
type Request struct {
	Dimension Dimension
	Field     string // for DimField
	TopN      int
}

// Numeric holds summary statistics of a numeric field.
type Numeric struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
	Count int     `json:"count"`
}

// Result is a categorical aggregation over one window.
type Result struct {
	Dimension  Dimension `json:"dimension"`
	Key        string    `json:"key,omitempty"`
	WindowSize int       `json:"window_size"`
	Truncated  bool      `json:"truncated"`
	Skipped    int       `json:"skipped,omitempty"`
	Total      int       `json:"total"`
	Unique     int       `json:"unique"`
	Buckets    []Bucket  `json:"-"`
	Top        []Bucket  `json:"top"`
	Numeric    *Numeric  `json:"numeric,omitempty"`
}

// Aggregate groups every record of w along the requested dimension. The
// bucket counts always sum to w.Len().
func Aggregate(w *packet.Window, req Request) (*Result, error) {
	if req.TopN < 0 {
		return nil, apperrors.InvalidParam("top_n", "top_n must not be negative, got %d", req.TopN)
	}
	var key func(packet.Record) string
	switch req.Dimension {
	case DimProtocol:
		key = packet.Record.Protocol
	case DimErrorType:
		key = classify.Primary
	case DimField:
		if strings.TrimSpace(req.Field) == "" {
			return nil, apperrors.InvalidParam("field", "field name is required")
		}
		key = func(rec packet.Record) string {
			if v, ok := rec.Fields.Lookup(req.Field); ok {
				return v
			}
			return packet.Missing
		}
	default:
		return nil, apperrors.New(apperrors.KindInvalidInput, "unknown dimension %q", req.Dimension)
	}

	c := NewCounter()
	for _, rec := range w.Records() {
		c.Add(key(rec))
	}
	res := newResult(w, c, req.TopN)
	res.Dimension = req.Dimension
	if req.Dimension == DimField {
		res.Key = req.Field
		res.Numeric = numericStats(c)
	}
	return res, nil
}

// ByProtocol aggregates w by innermost protocol.
func ByProtocol(w *packet.Window, topN int) (*Result, error) {
	return Aggregate(w, Request{Dimension: DimProtocol, TopN: topN})
}

// ByField aggregates w by the value of a tshark field.
func ByField(w *packet.Window, field string, topN int) (*Result, error) {
	return Aggregate(w, Request{Dimension: DimField, Field: field, TopN: topN})
}

// ByErrorType aggregates w by primary error category.
func ByErrorType(w *packet.Window, topN int) (*Result, error) {
	return Aggregate(w, Request{Dimension: DimErrorType, TopN: topN})
}

func newResult(w *packet.Window, c *Counter, topN int) *Result {
	return &Result{
		WindowSize: w.Len(),
		Truncated:  w.Truncated(),
		Skipped:    w.Skipped(),
		Total:      c.Total(),
		Unique:     c.Unique(),
		Buckets:    c.Buckets(w.Len()),
		Top:        c.Top(topN, w.Len()),
	}
}

// numericStats returns min/max/mean when every present value is a number.
// Empty values (field present without a value) and the missing bucket are
// ignored.
func numericStats(c *Counter) *Numeric {
	var (
		n   Numeric
		sum float64
	)
	for _, b := range c.Buckets(0) {
		if b.Value == packet.Missing || b.Value == "" {
			continue
		}
		v, ok := ParseNumber(b.Value)
		if !ok {
			return nil
		}
		if n.Count == 0 || v < n.Min {
			n.Min = v
		}
		if n.Count == 0 || v > n.Max {
			n.Max = v
		}
		n.Count += b.Count
		sum += v * float64(b.Count)
	}
	if n.Count == 0 {
		return nil
	}
	n.Mean = math.Round(sum/float64(n.Count)*1000) / 1000
	return &n
}

// ParseNumber parses decimal, floating point and 0x-prefixed hex values
// as printed by tshark.
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if hex, ok := strings.CutPrefix(strings.ToLower(s), "0x"); ok {
		u, err := strconv.ParseUint(hex, 16, 64)
		if err != nil {
			return 0, false
		}
		return float64(u), true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
