package models

import "time"

// Worker mirrors the account system's transporter/dispatcher roster.
// Account management itself lives outside Porterline; the dispatch core
// only reads floor, role, and active state.
type Worker struct {
	ID           string `gorm:"primaryKey;size:64"`
	Name         string `gorm:"size:128"`
	PrimaryFloor string `gorm:"size:16;index"`
	Role         string `gorm:"size:16;default:transporter"` // transporter, dispatcher, admin
	Active       bool   `gorm:"index"`
	CreatedAt    time.Time
}

// WorkerPresence holds one row per worker with their current availability
// state. Job-phase statuses (assigned, accepted, en_route, with_patient)
// are mirrored here by lifecycle transitions; the rest come from worker
// self-reports or the heartbeat sweep.
type WorkerPresence struct {
	WorkerID          string `gorm:"primaryKey;size:64"`
	Status            string `gorm:"size:16;default:offline;index"`
	StatusExplanation string `gorm:"size:256"`
	OnBreakSince      *time.Time
	UpdatedAt         time.Time
}

// Heartbeat is the ephemeral liveness signal for a worker's transport
// session. Upserted on every beat, deleted on graceful disconnect.
type Heartbeat struct {
	WorkerID  string    `gorm:"primaryKey;size:64"`
	SessionID string    `gorm:"size:64"`
	LastSeen  time.Time `gorm:"index"`
}
