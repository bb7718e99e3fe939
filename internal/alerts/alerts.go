// Package alerts holds the in-process dismissal state for recurring
// operational alerts: acceptance timeouts, break overruns, and offline
// workers. Cycle-time alerts keep their own phase-scoped store in
// internal/cycletime.
package alerts

import "sync"

// Alert kinds a dispatcher can dismiss.
const (
	KindTimeout = "timeout" // keyed by request ID
	KindBreak   = "break"   // keyed by worker ID
	KindOffline = "offline" // keyed by worker ID
)

// Dismissals records which alerts a dispatcher has dismissed. A dismissal
// silences one key's alerts until the underlying condition ends; the owning
// sweep calls Retain each pass so a resolved condition drops its entry and
// a later recurrence alerts again.
type Dismissals struct {
	mu   sync.Mutex
	keys map[string]map[string]bool
}

func NewDismissals() *Dismissals {
	return &Dismissals{keys: make(map[string]map[string]bool)}
}

func (d *Dismissals) Dismiss(kind, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.keys[kind] == nil {
		d.keys[kind] = make(map[string]bool)
	}
	d.keys[kind][key] = true
}

func (d *Dismissals) Dismissed(kind, key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.keys[kind][key]
}

// Retain drops every key of one kind not in the active set.
func (d *Dismissals) Retain(kind string, active map[string]bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key := range d.keys[kind] {
		if !active[key] {
			delete(d.keys[kind], key)
		}
	}
}
