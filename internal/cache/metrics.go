package cache

import (
	"sync"
	"time"
)

// Metrics is a point-in-time snapshot of one cache type's counters.
// HitRate is always consistent with Hits and Misses within a snapshot.
type Metrics struct {
	Hits          int64     `json:"hits"`
	Misses        int64     `json:"misses"`
	TotalRequests int64     `json:"totalRequests"`
	HitRate       float64   `json:"hitRate"`
	LastUpdated   time.Time `json:"lastUpdated"`
}

// counterSet guards the per-type counters behind one mutex so that a
// hit or miss updates Hits/Misses, TotalRequests, HitRate and LastUpdated
// as a single step.
type counterSet struct {
	mu      sync.Mutex
	perType map[Type]*Metrics
}

func newCounterSet(types []Type) *counterSet {
	perType := make(map[Type]*Metrics, len(types))
	for _, t := range types {
		perType[t] = &Metrics{}
	}
	return &counterSet{perType: perType}
}

func (c *counterSet) recordHit(t Type) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.metric(t)
	m.Hits++
	c.finish(m)
}

func (c *counterSet) recordMiss(t Type) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.metric(t)
	m.Misses++
	c.finish(m)
}

func (c *counterSet) metric(t Type) *Metrics {
	m, ok := c.perType[t]
	if !ok {
		m = &Metrics{}
		c.perType[t] = m
	}
	return m
}

func (c *counterSet) finish(m *Metrics) {
	m.TotalRequests = m.Hits + m.Misses
	m.HitRate = float64(m.Hits) / float64(m.TotalRequests)
	m.LastUpdated = time.Now().UTC()
}

func (c *counterSet) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for t := range c.perType {
		c.perType[t] = &Metrics{}
	}
}

// snapshot returns value copies of every per-type metric plus the aggregate
// across all types.
func (c *counterSet) snapshot() (map[Type]Metrics, Metrics) {
	c.mu.Lock()
	defer c.mu.Unlock()

	perType := make(map[Type]Metrics, len(c.perType))
	var overall Metrics
	for t, m := range c.perType {
		perType[t] = *m
		overall.Hits += m.Hits
		overall.Misses += m.Misses
		if m.LastUpdated.After(overall.LastUpdated) {
			overall.LastUpdated = m.LastUpdated
		}
	}
	overall.TotalRequests = overall.Hits + overall.Misses
	if overall.TotalRequests > 0 {
		overall.HitRate = float64(overall.Hits) / float64(overall.TotalRequests)
	}
	return perType, overall
}
