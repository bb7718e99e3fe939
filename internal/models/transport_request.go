package models

import "time"

// TransportRequest is the core work item in Porterline: a single patient
// transport from a floor/room to its destination.
type TransportRequest struct {
	ID               string `gorm:"primaryKey;size:32"`
	OriginFloor      string `gorm:"size:16;not null;index"`
	RoomNumber       string `gorm:"size:16;not null"`
	Priority         string `gorm:"size:8;default:routine"`
	Status           string `gorm:"size:20;default:pending;index"`
	AssignmentMethod string `gorm:"size:8"`
	AssignedTo       string `gorm:"size:64;index"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
	AssignedAt       *time.Time
	AcceptedAt       *time.Time
	EnRouteAt        *time.Time
	WithPatientAt    *time.Time
	CompletedAt      *time.Time
	CancelledAt      *time.Time
	PctTransferredAt *time.Time

	Transitions []RequestTransition `gorm:"foreignKey:RequestID"`
}

// RequestTransition is an immutable history record of a status change.
type RequestTransition struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	RequestID  string `gorm:"size:32;not null;index"`
	FromStatus string `gorm:"size:20;not null"`
	ToStatus   string `gorm:"size:20;not null"`
	Actor      string `gorm:"size:64"`
	CreatedAt  time.Time
}
