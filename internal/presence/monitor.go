package presence

import (
	"fmt"
	"log"
	"time"

	"github.com/zulandar/porterline/internal/alerts"
	"github.com/zulandar/porterline/internal/db"
	"github.com/zulandar/porterline/internal/eventbus"
	"github.com/zulandar/porterline/internal/models"
	"gorm.io/gorm"
)

// SweepHeartbeats forces workers with a stale heartbeat to offline and
// publishes worker_offline once per transition. Workers whose presence is a
// job-phase status are left alone: an unresponsive assignee surfaces through
// the acceptance-timeout and cycle-time alerts instead, so the two sweeps
// never fight over the same row. Idempotent — an already-offline worker is
// skipped. A dismissed offline alert suppresses re-publication while the
// heartbeat stays stale; a fresh beat clears the dismissal.
func SweepHeartbeats(gdb *gorm.DB, bus eventbus.Bus, timeout time.Duration, dismissed *alerts.Dismissals) error {
	if !db.SettingBool(gdb, "alerts_enabled", true) || !db.SettingBool(gdb, "alert_offline_enabled", true) {
		return nil
	}

	cutoff := time.Now().Add(-timeout)
	var stale []models.Heartbeat
	if err := gdb.Where("last_seen < ?", cutoff).Find(&stale).Error; err != nil {
		return fmt.Errorf("presence: find stale heartbeats: %w", err)
	}

	staleIDs := make(map[string]bool, len(stale))
	for _, hb := range stale {
		staleIDs[hb.WorkerID] = true
	}
	dismissed.Retain(alerts.KindOffline, staleIDs)

	for _, hb := range stale {
		var p models.WorkerPresence
		if err := gdb.Where("worker_id = ?", hb.WorkerID).First(&p).Error; err != nil {
			log.Printf("presence: heartbeat sweep: load %s: %v", hb.WorkerID, err)
			continue
		}
		if p.Status == StatusOffline || IsJobPhase(p.Status) {
			continue
		}
		if err := Mirror(gdb, hb.WorkerID, StatusOffline); err != nil {
			log.Printf("presence: heartbeat sweep: %v", err)
			continue
		}
		log.Printf("presence: %s forced offline, last heartbeat %s", hb.WorkerID, hb.LastSeen.Format(time.RFC3339))
		if dismissed.Dismissed(alerts.KindOffline, hb.WorkerID) {
			continue
		}
		bus.Publish(eventbus.WorkerOffline{WorkerID: hb.WorkerID, LastSeen: hb.LastSeen})
	}
	return nil
}

// SweepBreaks publishes a recurring break_alert for every worker on break
// past the limit. The alert repeats each sweep until the break ends or a
// dispatcher dismisses it; ending the break clears the dismissal, so the
// next overrun alerts again.
func SweepBreaks(gdb *gorm.DB, bus eventbus.Bus, limit time.Duration, dismissed *alerts.Dismissals) error {
	if !db.SettingBool(gdb, "alerts_enabled", true) || !db.SettingBool(gdb, "alert_break_enabled", true) {
		return nil
	}

	cutoff := time.Now().Add(-limit)
	var over []models.WorkerPresence
	err := gdb.Where("status = ? AND on_break_since IS NOT NULL AND on_break_since < ?", StatusOnBreak, cutoff).
		Find(&over).Error
	if err != nil {
		return fmt.Errorf("presence: find break overruns: %w", err)
	}

	overIDs := make(map[string]bool, len(over))
	for _, p := range over {
		overIDs[p.WorkerID] = true
	}
	dismissed.Retain(alerts.KindBreak, overIDs)

	for _, p := range over {
		if dismissed.Dismissed(alerts.KindBreak, p.WorkerID) {
			continue
		}
		minutes := int(time.Since(*p.OnBreakSince).Minutes())
		bus.Publish(eventbus.BreakAlert{WorkerID: p.WorkerID, MinutesOnBreak: minutes})
	}
	return nil
}
