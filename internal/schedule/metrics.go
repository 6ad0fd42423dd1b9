package schedule

import "sync"

// Counters accumulates scheduling activity for the whole process. It is
// injected into the engine rather than living as package state, and resets
// only through an explicit administrative call.
type Counters struct {
	mu sync.Mutex

	launchesStarted   int64
	launchesSucceeded int64
	launchesFailed    int64
	nodesScheduled    int64
	materialWarnings  int64
}

func (c *Counters) LaunchStarted() {
	c.mu.Lock()
	c.launchesStarted++
	c.mu.Unlock()
}

func (c *Counters) LaunchSucceeded(nodes, warnings int) {
	c.mu.Lock()
	c.launchesSucceeded++
	c.nodesScheduled += int64(nodes)
	c.materialWarnings += int64(warnings)
	c.mu.Unlock()
}

func (c *Counters) LaunchFailed() {
	c.mu.Lock()
	c.launchesFailed++
	c.mu.Unlock()
}

// Snapshot returns current counter values.
func (c *Counters) Snapshot() map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return map[string]int64{
		"launches_started":   c.launchesStarted,
		"launches_succeeded": c.launchesSucceeded,
		"launches_failed":    c.launchesFailed,
		"nodes_scheduled":    c.nodesScheduled,
		"material_warnings":  c.materialWarnings,
	}
}

// Reset zeroes all counters.
func (c *Counters) Reset() {
	c.mu.Lock()
	c.launchesStarted = 0
	c.launchesSucceeded = 0
	c.launchesFailed = 0
	c.nodesScheduled = 0
	c.materialWarnings = 0
	c.mu.Unlock()
}
