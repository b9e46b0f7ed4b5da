package metrics

import "time"

// StartTimer returns a stop function that records the elapsed duration (in
// milliseconds) to the named histogram when called. Go's defer takes the
// place of PerformanceMonitor's context-manager __enter__/__exit__ pair.
func (c *Collector) StartTimer(name string, labels map[string]string) func() {
	start := time.Now()
	return func() {
		c.Record(name, float64(time.Since(start).Milliseconds()), labels)
	}
}
