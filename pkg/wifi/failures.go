package wifi

import "sync"

// FailureCounts remembers how often switching to each SSID failed on one
// interface. It lives for the lifetime of the process and is never persisted.
type FailureCounts struct {
	mu     sync.Mutex
	counts map[string]int
}

func NewFailureCounts() *FailureCounts {
	return &FailureCounts{counts: make(map[string]int)}
}

func (f *FailureCounts) Get(ssid string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[ssid]
}

// Increment records one more failure and returns the new count.
func (f *FailureCounts) Increment(ssid string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[ssid]++
	return f.counts[ssid]
}

// Excluded reports whether ssid has reached max failures.
func (f *FailureCounts) Excluded(ssid string, max int) bool {
	return max > 0 && f.Get(ssid) >= max
}

// Snapshot returns a copy of all counts.
func (f *FailureCounts) Snapshot() map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int, len(f.counts))
	for k, v := range f.counts {
		out[k] = v
	}
	return out
}
