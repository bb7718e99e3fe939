// Package roster maintains dispatcher-role occupancy: who is primary, who
// is assisting, and how primacy hands off across breaks and departures.
// Every mutating operation leaves at most one non-ended, non-break session
// holding is_primary and publishes the full roster.
package roster

import (
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/porterline/internal/eventbus"
	"github.com/zulandar/porterline/internal/models"
	"gorm.io/gorm"
)

var (
	// ErrInvariant rejects an operation that would corrupt primacy.
	ErrInvariant = errors.New("roster: primacy invariant violated")
	// ErrNoSession means the caller has no active dispatcher session.
	ErrNoSession = errors.New("roster: no active session")
	// ErrNotEligible means the named worker cannot hold a dispatcher role.
	ErrNotEligible = errors.New("roster: worker not dispatcher-eligible")
)

// dispatcherRoles are the worker roles allowed to hold a session.
var dispatcherRoles = map[string]bool{"dispatcher": true, "admin": true}

func eligible(db *gorm.DB, workerID string) error {
	var w models.Worker
	if err := db.Where("id = ?", workerID).First(&w).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s not found", ErrNotEligible, workerID)
		}
		return fmt.Errorf("roster: load worker %s: %w", workerID, err)
	}
	if !w.Active || !dispatcherRoles[w.Role] {
		return fmt.Errorf("%w: %s", ErrNotEligible, workerID)
	}
	return nil
}

func activeSession(db *gorm.DB, workerID string) (*models.DispatcherSession, error) {
	var s models.DispatcherSession
	err := db.Where("worker_id = ? AND ended_at IS NULL", workerID).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("roster: load session for %s: %w", workerID, err)
	}
	return &s, nil
}

// BecomePrimary promotes the caller to primary, demoting any current
// primary to assistant without ending their session. A session is created
// for the caller if they have none.
func BecomePrimary(db *gorm.DB, bus eventbus.Bus, workerID string) (*models.DispatcherSession, error) {
	if err := eligible(db, workerID); err != nil {
		return nil, err
	}

	var session *models.DispatcherSession
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := demotePrimary(tx, workerID); err != nil {
			return err
		}

		s, err := activeSession(tx, workerID)
		if errors.Is(err, ErrNoSession) {
			s = &models.DispatcherSession{WorkerID: workerID, IsPrimary: true, StartedAt: time.Now()}
			if err := tx.Create(s).Error; err != nil {
				return fmt.Errorf("roster: create session for %s: %w", workerID, err)
			}
		} else if err != nil {
			return err
		} else {
			if err := tx.Model(s).Updates(map[string]interface{}{
				"is_primary": true,
			}).Error; err != nil {
				return fmt.Errorf("roster: promote %s: %w", workerID, err)
			}
			s.IsPrimary = true
		}
		session = s
		return assertSinglePrimary(tx)
	})
	if err != nil {
		return nil, err
	}

	publishRoster(db, bus)
	return session, nil
}

// RegisterAssistant opens an assistant session for the caller, or returns
// the existing active one.
func RegisterAssistant(db *gorm.DB, bus eventbus.Bus, workerID string) (*models.DispatcherSession, error) {
	if err := eligible(db, workerID); err != nil {
		return nil, err
	}

	s, err := activeSession(db, workerID)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, ErrNoSession) {
		return nil, err
	}

	s = &models.DispatcherSession{WorkerID: workerID, StartedAt: time.Now()}
	if err := db.Create(s).Error; err != nil {
		return nil, fmt.Errorf("roster: register assistant %s: %w", workerID, err)
	}
	publishRoster(db, bus)
	return s, nil
}

// TakeBreak marks the caller's session on-break without ending it. A
// primary must name either an eligible relief worker or free-text relief
// notes; primacy hands off atomically to the designee, or failing that to
// the longest-tenured non-break assistant.
func TakeBreak(db *gorm.DB, bus eventbus.Bus, workerID, reliefWorkerID, reliefNote string) error {
	s, err := activeSession(db, workerID)
	if err != nil {
		return err
	}

	if s.IsPrimary {
		if reliefWorkerID == "" && reliefNote == "" {
			return fmt.Errorf("%w: primary break requires a relief designee or relief notes", ErrInvariant)
		}
		if reliefWorkerID != "" {
			if err := eligible(db, reliefWorkerID); err != nil {
				return err
			}
		}
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		updates := map[string]interface{}{
			"on_break":      true,
			"break_start":   now,
			"relief_worker": reliefWorkerID,
			"relief_note":   reliefNote,
		}
		if s.IsPrimary {
			updates["is_primary"] = false
		}
		if err := tx.Model(&models.DispatcherSession{}).Where("id = ?", s.ID).
			Updates(updates).Error; err != nil {
			return fmt.Errorf("roster: break for %s: %w", workerID, err)
		}

		if s.IsPrimary {
			if err := promoteSuccessor(tx, reliefWorkerID, workerID); err != nil {
				return err
			}
		}
		return assertSinglePrimary(tx)
	})
	if err != nil {
		return err
	}

	publishRoster(db, bus)
	return nil
}

// ReturnFromBreak clears the caller's break state. With reclaim set, the
// caller also takes primacy back, demoting whoever holds it.
func ReturnFromBreak(db *gorm.DB, bus eventbus.Bus, workerID string, reclaim bool) error {
	s, err := activeSession(db, workerID)
	if err != nil {
		return err
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"on_break":      false,
			"break_start":   nil,
			"relief_worker": "",
			"relief_note":   "",
		}
		if reclaim {
			if err := demotePrimary(tx, workerID); err != nil {
				return err
			}
			updates["is_primary"] = true
		}
		if err := tx.Model(&models.DispatcherSession{}).Where("id = ?", s.ID).
			Updates(updates).Error; err != nil {
			return fmt.Errorf("roster: return from break for %s: %w", workerID, err)
		}
		return assertSinglePrimary(tx)
	})
	if err != nil {
		return err
	}

	publishRoster(db, bus)
	return nil
}

// EndSession closes the caller's session. A departing primary hands off to
// the longest-tenured non-break assistant when one exists.
func EndSession(db *gorm.DB, bus eventbus.Bus, workerID string) error {
	s, err := activeSession(db, workerID)
	if err != nil {
		return err
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		if err := tx.Model(&models.DispatcherSession{}).Where("id = ?", s.ID).
			Updates(map[string]interface{}{
				"is_primary": false,
				"ended_at":   now,
			}).Error; err != nil {
			return fmt.Errorf("roster: end session for %s: %w", workerID, err)
		}

		if s.IsPrimary {
			if err := promoteSuccessor(tx, "", workerID); err != nil {
				return err
			}
		}
		return assertSinglePrimary(tx)
	})
	if err != nil {
		return err
	}

	publishRoster(db, bus)
	return nil
}

// ActiveSessions returns all non-ended sessions, longest-tenured first.
func ActiveSessions(db *gorm.DB) ([]models.DispatcherSession, error) {
	var sessions []models.DispatcherSession
	if err := db.Where("ended_at IS NULL").Order("started_at ASC, id ASC").Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("roster: list sessions: %w", err)
	}
	return sessions, nil
}

// demotePrimary strips primacy from every active session except keepID's.
func demotePrimary(tx *gorm.DB, keepWorkerID string) error {
	err := tx.Model(&models.DispatcherSession{}).
		Where("is_primary = ? AND ended_at IS NULL AND worker_id != ?", true, keepWorkerID).
		Update("is_primary", false).Error
	if err != nil {
		return fmt.Errorf("roster: demote primary: %w", err)
	}
	return nil
}

// promoteSuccessor hands primacy to the designated relief when they hold an
// active non-break session (creating one if they have none), otherwise to
// the longest-tenured non-break assistant. Zero candidates leaves zero
// primaries, which the invariant permits.
func promoteSuccessor(tx *gorm.DB, reliefWorkerID, departingWorkerID string) error {
	if reliefWorkerID != "" {
		s, err := activeSession(tx, reliefWorkerID)
		if errors.Is(err, ErrNoSession) {
			s = &models.DispatcherSession{WorkerID: reliefWorkerID, IsPrimary: true, StartedAt: time.Now()}
			if err := tx.Create(s).Error; err != nil {
				return fmt.Errorf("roster: create relief session for %s: %w", reliefWorkerID, err)
			}
			return nil
		}
		if err != nil {
			return err
		}
		if !s.OnBreak {
			if err := tx.Model(s).Update("is_primary", true).Error; err != nil {
				return fmt.Errorf("roster: promote relief %s: %w", reliefWorkerID, err)
			}
			return nil
		}
		// Designee is themselves on break; fall through to seniority.
	}

	var next models.DispatcherSession
	err := tx.Where("ended_at IS NULL AND on_break = ? AND worker_id != ?", false, departingWorkerID).
		Order("started_at ASC, id ASC").
		First(&next).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return fmt.Errorf("roster: find successor: %w", err)
	}
	if err := tx.Model(&next).Update("is_primary", true).Error; err != nil {
		return fmt.Errorf("roster: promote %s: %w", next.WorkerID, err)
	}
	return nil
}

// assertSinglePrimary verifies the invariant inside a transaction before
// it commits.
func assertSinglePrimary(tx *gorm.DB) error {
	var count int64
	err := tx.Model(&models.DispatcherSession{}).
		Where("is_primary = ? AND ended_at IS NULL", true).
		Count(&count).Error
	if err != nil {
		return fmt.Errorf("roster: count primaries: %w", err)
	}
	if count > 1 {
		return fmt.Errorf("%w: %d primaries", ErrInvariant, count)
	}
	return nil
}

// publishRoster broadcasts the full roster. Best-effort: a read failure
// here must not fail the mutation that already committed.
func publishRoster(db *gorm.DB, bus eventbus.Bus) {
	sessions, err := ActiveSessions(db)
	if err != nil {
		return
	}
	entries := make([]eventbus.RosterEntry, 0, len(sessions))
	for _, s := range sessions {
		entries = append(entries, eventbus.RosterEntry{
			SessionID:  s.ID,
			WorkerID:   s.WorkerID,
			IsPrimary:  s.IsPrimary,
			OnBreak:    s.OnBreak,
			StartedAt:  s.StartedAt,
			BreakStart: s.BreakStart,
		})
	}
	bus.Publish(eventbus.RosterChanged{Sessions: entries})
}
