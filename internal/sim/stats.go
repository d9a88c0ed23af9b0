package sim

import "sync"

// Counter tallies attempt outcomes by gate reason code.
type Counter struct {
	mu       sync.Mutex
	Executed int
	Replayed int
	Denied   map[string]int
	Consents int
	Failures int
}

func NewCounter() *Counter {
	return &Counter{Denied: make(map[string]int)}
}

func (c *Counter) AddExecuted(replayed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Executed++
	if replayed {
		c.Replayed++
	}
}

func (c *Counter) AddDenied(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if reason == "" {
		reason = "UNKNOWN"
	}
	c.Denied[reason]++
}

func (c *Counter) AddConsent() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Consents++
}

func (c *Counter) AddFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Failures++
}

// Snapshot returns a copy safe to read after the workers stop.
func (c *Counter) Snapshot() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	denied := make(map[string]int, len(c.Denied))
	total := 0
	for k, v := range c.Denied {
		denied[k] = v
		total += v
	}
	return Summary{
		Executed:    c.Executed,
		Replayed:    c.Replayed,
		Denied:      denied,
		DeniedTotal: total,
		Consents:    c.Consents,
		Failures:    c.Failures,
	}
}

// Summary is an immutable view of one run's tallies.
type Summary struct {
	Executed    int
	Replayed    int
	Denied      map[string]int
	DeniedTotal int
	Consents    int
	Failures    int
}
