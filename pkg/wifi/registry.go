package wifi

import (
	"sort"
	"sync"
)

// Registry holds one WLAN per wireless interface, created on first use.
// Failure memory therefore survives across check cycles.
type Registry struct {
	mu      sync.Mutex
	wlans   map[string]*WLAN
	factory func(iface string) *WLAN
}

func NewRegistry(factory func(iface string) *WLAN) *Registry {
	return &Registry{wlans: make(map[string]*WLAN), factory: factory}
}

// Get returns the WLAN for iface, creating it if needed.
func (r *Registry) Get(iface string) *WLAN {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wlans[iface]
	if !ok {
		w = r.factory(iface)
		r.wlans[iface] = w
	}
	return w
}

// Interfaces returns the interfaces seen so far, sorted.
func (r *Registry) Interfaces() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.wlans))
	for name := range r.wlans {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Reconfigure applies new tunables to every WLAN.
func (r *Registry) Reconfigure(cfg SelectorConfig, opts ConnectOptions) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.wlans {
		w.Reconfigure(cfg, opts)
	}
}

// Failures returns the failure counts of every interface.
func (r *Registry) Failures() map[string]map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]map[string]int, len(r.wlans))
	for name, w := range r.wlans {
		out[name] = w.failures.Snapshot()
	}
	return out
}
