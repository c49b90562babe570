package orchestrator

import (
	"sort"
	"strings"
	"sync"
)

// CounterSink accumulates pipeline metrics in-process, keyed by metric name
// plus sorted labels. It backs /status diagnostics; there is no external
// metrics pipeline in the core.
type CounterSink struct {
	mu       sync.Mutex
	counters map[string]float64
}

func NewCounterSink() *CounterSink {
	return &CounterSink{counters: map[string]float64{}}
}

func (c *CounterSink) Record(name string, value float64, labels map[string]string) {
	key := counterKey(name, labels)
	c.mu.Lock()
	c.counters[key] += value
	c.mu.Unlock()
}

// Get returns the accumulated value for a metric with the given labels.
func (c *CounterSink) Get(name string, labels map[string]string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counters[counterKey(name, labels)]
}

// Snapshot returns a copy of all counters for diagnostics.
func (c *CounterSink) Snapshot() map[string]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]float64, len(c.counters))
	for k, v := range c.counters {
		out[k] = v
	}
	return out
}

func counterKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	b.WriteByte('}')
	return b.String()
}
