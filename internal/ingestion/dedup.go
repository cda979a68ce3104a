package ingestion

import "sync"

// DedupTracker is the set of payer addresses present in the ledger.
type DedupTracker struct {
	mu    sync.RWMutex
	addrs map[string]struct{}
}

// NewDedupTracker creates an empty tracker.
func NewDedupTracker() *DedupTracker {
	return &DedupTracker{addrs: make(map[string]struct{})}
}

// Contains reports whether addr is tracked.
func (d *DedupTracker) Contains(addr string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.addrs[addr]
	return ok
}

// Add tracks addr. Returns false if it was already tracked.
func (d *DedupTracker) Add(addr string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.addrs[addr]; ok {
		return false
	}
	d.addrs[addr] = struct{}{}
	return true
}

// Remove stops tracking addr.
func (d *DedupTracker) Remove(addr string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.addrs, addr)
}

// Len returns the number of tracked addresses.
func (d *DedupTracker) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.addrs)
}

// Reset replaces the tracked set with addrs.
func (d *DedupTracker) Reset(addrs []string) {
	set := make(map[string]struct{}, len(addrs))
	for _, a := range addrs {
		set[a] = struct{}{}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.addrs = set
}
