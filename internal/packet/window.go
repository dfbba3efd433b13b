package packet

// DefaultMaxPackets is the window capacity used when none is requested.
const DefaultMaxPackets = 5000

// Window is a bounded, ordered sequence of records produced by one analysis
// request. It is not safe for concurrent use; each request owns its own.
type Window struct {
	records   []Record
	max       int
	truncated bool
	skipped   int
}

// NewWindow creates an empty window holding at most max records.
func NewWindow(max int) *Window {
	if max <= 0 {
		max = DefaultMaxPackets
	}

	// Pre-allocate with reasonable capacity
	initialCapacity := min(max, 1024)

	return &Window{
		records: make([]Record, 0, initialCapacity),
		max:     max,
	}
}

// Add appends rec to the window. It returns false, and marks the window
// truncated, if the window is already full.
func (w *Window) Add(rec Record) bool {
	if w.Full() {
		w.truncated = true
		return false
	}
	rec.Index = len(w.records)
	w.records = append(w.records, rec)
	return true
}

// Full reports whether the window reached its capacity.
func (w *Window) Full() bool {
	return len(w.records) >= w.max
}

// Len returns the number of records in the window.
func (w *Window) Len() int {
	return len(w.records)
}

// Max returns the window capacity.
func (w *Window) Max() int {
	return w.max
}

// Records returns the records in window order. The slice must not be modified.
func (w *Window) Records() []Record {
	return w.records
}

// Truncated reports whether the source held more records than the window.
func (w *Window) Truncated() bool {
	return w.truncated
}

// MarkTruncated records that input beyond the capacity was discarded.
func (w *Window) MarkTruncated() {
	w.truncated = true
}

// Skip counts one record that could not be decoded.
func (w *Window) Skip() {
	w.skipped++
}

// Skipped returns the number of undecodable records.
func (w *Window) Skipped() int {
	return w.skipped
}
