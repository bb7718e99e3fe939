package cycletime

import (
	"fmt"
	"log"
	"time"

	"github.com/zulandar/porterline/internal/db"
	"github.com/zulandar/porterline/internal/eventbus"
	"github.com/zulandar/porterline/internal/lifecycle"
	"github.com/zulandar/porterline/internal/models"
	"gorm.io/gorm"
)

// Alert comparison modes, selected by the cycle_alert_mode setting. Exactly
// one applies per check; the mode is re-read every sweep so a change takes
// effect on the next pass.
const (
	ModeManual  = "manual"
	ModeRolling = "rolling"
)

// SweepAlerts checks every active request's current phase against its
// threshold and publishes a cycle_time_alert for each overrun. Pending
// requests are checked against the response phase. Acknowledged
// (request, phase) pairs are skipped; ack entries for requests that left the
// active set are dropped on the way through.
func SweepAlerts(gdb *gorm.DB, bus eventbus.Bus, acks AckStore, overagePct int) error {
	if !db.SettingBool(gdb, "alerts_enabled", true) || !db.SettingBool(gdb, "alert_cycle_enabled", true) {
		return nil
	}

	mode, err := db.GetSetting(gdb, "cycle_alert_mode", ModeManual)
	if err != nil {
		return err
	}

	var live []models.TransportRequest
	err = gdb.Where("status IN ?", []string{
		lifecycle.StatusPending,
		lifecycle.StatusAssigned,
		lifecycle.StatusAccepted,
		lifecycle.StatusEnRoute,
		lifecycle.StatusWithPatient,
	}).Find(&live).Error
	if err != nil {
		return fmt.Errorf("cycletime: load live requests: %w", err)
	}

	active := make(map[string]bool, len(live))
	for i := range live {
		active[live[i].ID] = true
	}
	acks.Retain(active)

	for i := range live {
		r := &live[i]
		phase := statusPhase[r.Status]
		if acks.Acked(r.ID, phase) {
			continue
		}
		start := phaseStart(r, phase)
		if start == nil {
			continue
		}
		elapsed := time.Since(*start).Seconds()

		var baseline float64
		switch mode {
		case ModeRolling:
			avg, ok, err := Average(gdb, phase, r.OriginFloor)
			if err != nil {
				log.Printf("cycletime: sweep %s: %v", r.ID, err)
				continue
			}
			if !ok {
				continue
			}
			baseline = avg * (1 + float64(overagePct)/100)
		default:
			minutes := db.SettingInt(gdb, "threshold_"+phase+"_minutes", 0)
			if minutes <= 0 {
				continue
			}
			baseline = float64(minutes) * 60
		}

		if elapsed > baseline {
			bus.Publish(eventbus.CycleTimeAlert{
				RequestID:       r.ID,
				Phase:           phase,
				ElapsedSeconds:  elapsed,
				BaselineSeconds: baseline,
				Mode:            mode,
				Floor:           r.OriginFloor,
			})
		}
	}
	return nil
}
