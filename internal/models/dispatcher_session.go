package models

import "time"

// DispatcherSession tracks one dispatcher-role occupancy. At most one
// non-ended session may hold is_primary=true at any time; every roster
// operation that changes primacy enforces that invariant.
type DispatcherSession struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	WorkerID     string `gorm:"size:64;not null;index"`
	IsPrimary    bool   `gorm:"default:false;index"`
	OnBreak      bool   `gorm:"default:false"`
	BreakStart   *time.Time
	ReliefWorker string `gorm:"size:64"`
	ReliefNote   string `gorm:"size:256"`
	StartedAt    time.Time
	EndedAt      *time.Time `gorm:"index"`
}
