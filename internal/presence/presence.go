// Package presence manages transporter availability state and the
// heartbeat-based liveness checks that feed it.
package presence

import (
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/porterline/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Worker presence states. The job-phase values intentionally reuse the
// request status names; lifecycle transitions mirror them here.
const (
	StatusAvailable   = "available"
	StatusAssigned    = "assigned"
	StatusAccepted    = "accepted"
	StatusEnRoute     = "en_route"
	StatusWithPatient = "with_patient"
	StatusOnBreak     = "on_break"
	StatusOther       = "other"
	StatusOffline     = "offline"
)

// ErrBusyWorker is returned when a self-report would take a worker with a
// live request out of rotation.
var ErrBusyWorker = errors.New("presence: worker has an active request")

// jobPhaseStatuses are the presence values owned by request transitions.
var jobPhaseStatuses = map[string]bool{
	StatusAssigned:    true,
	StatusAccepted:    true,
	StatusEnRoute:     true,
	StatusWithPatient: true,
}

// IsJobPhase reports whether a presence status mirrors an in-flight request.
func IsJobPhase(status string) bool { return jobPhaseStatuses[status] }

// offDutyStatuses are the self-reported values gated by the active-request
// guard.
var offDutyStatuses = map[string]bool{
	StatusOnBreak: true,
	StatusOther:   true,
	StatusOffline: true,
}

// Mirror writes a presence status on behalf of a lifecycle transition or
// sweep, bypassing the self-report guard. Break bookkeeping is reset except
// when entering on_break.
func Mirror(db *gorm.DB, workerID, status string) error {
	now := time.Now()
	row := models.WorkerPresence{
		WorkerID:  workerID,
		Status:    status,
		UpdatedAt: now,
	}
	if status == StatusOnBreak {
		row.OnBreakSince = &now
	}
	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "worker_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "status_explanation", "on_break_since", "updated_at"}),
	}).Create(&row)
	if result.Error != nil {
		return fmt.Errorf("presence: mirror %s to %s: %w", workerID, status, result.Error)
	}
	return nil
}

// SetStatus applies a worker self-report. Off-duty statuses are rejected
// while the worker holds a non-terminal request, and "other" requires an
// explanation.
func SetStatus(db *gorm.DB, workerID, status, explanation string) error {
	if status == StatusOther && explanation == "" {
		return fmt.Errorf("presence: status %q requires an explanation", StatusOther)
	}
	if IsJobPhase(status) {
		return fmt.Errorf("presence: status %q is set by request transitions, not self-report", status)
	}

	if offDutyStatuses[status] {
		var live int64
		err := db.Model(&models.TransportRequest{}).
			Where("assigned_to = ? AND status NOT IN ?", workerID, terminalRequestStatuses).
			Count(&live).Error
		if err != nil {
			return fmt.Errorf("presence: count live requests for %s: %w", workerID, err)
		}
		if live > 0 {
			return fmt.Errorf("presence: set %s to %s: %w", workerID, status, ErrBusyWorker)
		}
	}

	now := time.Now()
	row := models.WorkerPresence{
		WorkerID:          workerID,
		Status:            status,
		StatusExplanation: explanation,
		UpdatedAt:         now,
	}
	if status == StatusOnBreak {
		row.OnBreakSince = &now
	}
	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "worker_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "status_explanation", "on_break_since", "updated_at"}),
	}).Create(&row)
	if result.Error != nil {
		return fmt.Errorf("presence: set %s to %s: %w", workerID, status, result.Error)
	}
	return nil
}

// terminalRequestStatuses mirrors lifecycle's terminal set. Kept as string
// literals to avoid an import cycle; lifecycle tests pin the two in sync.
var terminalRequestStatuses = []string{"complete", "cancelled", "transferred_to_pct"}

// RecordHeartbeat upserts the liveness row for a worker's transport session.
func RecordHeartbeat(db *gorm.DB, workerID, sessionID string) error {
	row := models.Heartbeat{
		WorkerID:  workerID,
		SessionID: sessionID,
		LastSeen:  time.Now(),
	}
	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "worker_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"session_id", "last_seen"}),
	}).Create(&row)
	if result.Error != nil {
		return fmt.Errorf("presence: heartbeat %s: %w", workerID, result.Error)
	}
	return nil
}

// Disconnect removes the heartbeat row on a graceful disconnect. Only the
// session that owns the row may delete it, so a reconnect from another
// device is not clobbered by the old connection closing.
func Disconnect(db *gorm.DB, workerID, sessionID string) error {
	result := db.Where("worker_id = ? AND session_id = ?", workerID, sessionID).
		Delete(&models.Heartbeat{})
	if result.Error != nil {
		return fmt.Errorf("presence: disconnect %s: %w", workerID, result.Error)
	}
	return nil
}
