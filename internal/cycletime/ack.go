package cycletime

import "sync"

// AckStore records which (request, phase) alerts a dispatcher has dismissed.
// Keys are phase-scoped, so acknowledging a pickup alert stops suppressing
// the moment the request moves on and the next phase alerts independently.
type AckStore interface {
	Ack(requestID, phase string)
	Acked(requestID, phase string) bool
	// Retain drops every request not in the active set. The alert sweep
	// calls it each pass so completed and cancelled requests cannot pin
	// stale suppressions.
	Retain(active map[string]bool)
}

// MemoryAcks is the in-process AckStore.
type MemoryAcks struct {
	mu   sync.Mutex
	acks map[string]map[string]bool
}

func NewMemoryAcks() *MemoryAcks {
	return &MemoryAcks{acks: make(map[string]map[string]bool)}
}

func (m *MemoryAcks) Ack(requestID, phase string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.acks[requestID] == nil {
		m.acks[requestID] = make(map[string]bool)
	}
	m.acks[requestID][phase] = true
}

func (m *MemoryAcks) Acked(requestID, phase string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acks[requestID][phase]
}

func (m *MemoryAcks) Retain(active map[string]bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.acks {
		if !active[id] {
			delete(m.acks, id)
		}
	}
}
