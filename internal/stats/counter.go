// Package stats computes categorical and numeric aggregates over a packet
// window.
package stats

import (
	"math"
	"slices"
)

// Bucket is one category of an aggregation.
type Bucket struct {
	Value   string  `json:"value"`
	Count   int     `json:"count"`
	Percent float64 `json:"percent"`
}

// Counter counts occurrences of string categories, remembering the order in
// which each category was first seen.
type Counter struct {
	index  map[string]int
	values []string
	counts []int
	total  int
}

// NewCounter returns an empty counter.
func NewCounter() *Counter {
	return &Counter{index: make(map[string]int)}
}

// Add counts one occurrence of value.
func (c *Counter) Add(value string) {
	c.AddN(value, 1)
}

// AddN counts n occurrences of value.
func (c *Counter) AddN(value string, n int) {
	i, ok := c.index[value]
	if !ok {
		i = len(c.values)
		c.index[value] = i
		c.values = append(c.values, value)
		c.counts = append(c.counts, 0)
	}
	c.counts[i] += n
	c.total += n
}

// Count returns the count of value.
func (c *Counter) Count(value string) int {
	if i, ok := c.index[value]; ok {
		return c.counts[i]
	}
	return 0
}

// Total returns the sum of all counts.
func (c *Counter) Total() int {
	return c.total
}

// Unique returns the number of distinct categories.
func (c *Counter) Unique() int {
	return len(c.values)
}

// Buckets returns all categories in first-seen order, with percentages
// relative to base. A base of zero yields zero percentages.
func (c *Counter) Buckets(base int) []Bucket {
	out := make([]Bucket, len(c.values))
	for i, v := range c.values {
		out[i] = Bucket{Value: v, Count: c.counts[i], Percent: percent(c.counts[i], base)}
	}
	return out
}

// Top returns the n largest categories ordered by count, descending. Ties
// keep first-seen order. n < 0 returns every category.
func (c *Counter) Top(n, base int) []Bucket {
	all := c.Buckets(base)
	// stable: equal counts stay in first-seen order
	slices.SortStableFunc(all, func(a, b Bucket) int {
		return b.Count - a.Count
	})
	if n >= 0 && n < len(all) {
		all = all[:n]
	}
	return all
}

func percent(count, base int) float64 {
	if base == 0 {
		return 0
	}
	// two decimals keep responses compact
	return math.Round(float64(count)*10000/float64(base)) / 100
}
