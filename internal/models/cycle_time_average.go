package models

import "time"

// CycleTimeAverage is the rolling baseline for one phase on one floor.
// Floor "" is the global bucket.
type CycleTimeAverage struct {
	Phase       string `gorm:"primaryKey;size:16"`
	Floor       string `gorm:"primaryKey;size:16"`
	AvgSeconds  float64
	SampleCount int
	ComputedAt  time.Time
}

// Setting stores a runtime configuration value (alert toggles, manual
// thresholds, alert mode) that dispatchers can change without a restart.
type Setting struct {
	Key   string `gorm:"primaryKey;size:64"`
	Value string `gorm:"size:256"`
}
