package assign

import (
	"fmt"
	"log"
	"time"

	"github.com/zulandar/porterline/internal/alerts"
	"github.com/zulandar/porterline/internal/db"
	"github.com/zulandar/porterline/internal/eventbus"
	"github.com/zulandar/porterline/internal/lifecycle"
	"github.com/zulandar/porterline/internal/models"
	"gorm.io/gorm"
)

// NoAvailableWorkers is the structured failure reason when the candidate
// set is empty. Reported as a result, not an error.
const NoAvailableWorkers = "no available workers"

// Result reports the outcome of an auto-assignment attempt.
type Result struct {
	RequestID string `json:"request_id"`
	WorkerID  string `json:"worker_id,omitempty"`
	Reason    string `json:"reason"`
	Assigned  bool   `json:"assigned"`
}

// AutoAssign immediately assigns a specific pending request, triggered by
// an explicit dispatcher action.
func AutoAssign(gdb *gorm.DB, bus eventbus.Bus, requestID string) (Result, error) {
	req, err := lifecycle.Get(gdb, requestID)
	if err != nil {
		return Result{}, err
	}
	if req.Status != lifecycle.StatusPending {
		return Result{}, fmt.Errorf("assign: request %s is %s, not pending", requestID, req.Status)
	}

	candidates, err := LoadCandidates(gdb)
	if err != nil {
		return Result{}, err
	}
	sel, ok := Select(req.OriginFloor, candidates)
	if !ok {
		return Result{RequestID: requestID, Reason: NoAvailableWorkers}, nil
	}

	if _, err := lifecycle.Assign(gdb, bus, requestID, sel.WorkerID, lifecycle.MethodAuto, "auto-assign"); err != nil {
		return Result{}, err
	}
	return Result{RequestID: requestID, WorkerID: sel.WorkerID, Reason: sel.Reason, Assigned: true}, nil
}

// SweepAcceptanceTimeouts finds auto-assigned requests whose assignee never
// acknowledged within timeout, frees the non-responder, and retries
// assignment excluding them. Retries are unbounded across sweeps: a request
// left pending is picked up again whenever conditions change. The reassignment
// always runs; only the timeout_alert publication is gated by the alert
// toggles and per-request dismissals. Per-request failures are logged and
// skipped so one bad row never stops the sweep.
func SweepAcceptanceTimeouts(gdb *gorm.DB, bus eventbus.Bus, timeout time.Duration, dismissed *alerts.Dismissals) error {
	cutoff := time.Now().Add(-timeout)

	var stale []models.TransportRequest
	err := gdb.Where("status = ? AND assignment_method = ? AND assigned_at < ?",
		lifecycle.StatusAssigned, lifecycle.MethodAuto, cutoff).
		Find(&stale).Error
	if err != nil {
		return fmt.Errorf("assign: find acceptance timeouts: %w", err)
	}

	// Dismissals live as long as the request can still time out: once it is
	// accepted or closed, the entry goes.
	var openIDs []string
	err = gdb.Model(&models.TransportRequest{}).
		Where("status IN ?", []string{lifecycle.StatusPending, lifecycle.StatusAssigned}).
		Pluck("id", &openIDs).Error
	if err != nil {
		return fmt.Errorf("assign: load open requests: %w", err)
	}
	open := make(map[string]bool, len(openIDs))
	for _, id := range openIDs {
		open[id] = true
	}
	dismissed.Retain(alerts.KindTimeout, open)

	for _, req := range stale {
		if err := handleTimeout(gdb, bus, req, dismissed); err != nil {
			log.Printf("assign: acceptance timeout for %s: %v", req.ID, err)
		}
	}
	return nil
}

func handleTimeout(gdb *gorm.DB, bus eventbus.Bus, req models.TransportRequest, dismissed *alerts.Dismissals) error {
	nonResponder := req.AssignedTo

	alertOn := db.SettingBool(gdb, "alerts_enabled", true) && db.SettingBool(gdb, "alert_timeout_enabled", true)
	if alertOn && !dismissed.Dismissed(alerts.KindTimeout, req.ID) {
		elapsed := time.Duration(0)
		if req.AssignedAt != nil {
			elapsed = time.Since(*req.AssignedAt)
		}
		bus.Publish(eventbus.TimeoutAlert{
			RequestID:      req.ID,
			WorkerID:       nonResponder,
			ElapsedSeconds: elapsed.Seconds(),
		})
	}

	// Revert to pending; this frees the non-responder to available and
	// clears the assignee. A conflict here means someone acted on the
	// request since the query snapshot — nothing to correct.
	if _, err := lifecycle.Transition(gdb, bus, req.ID, lifecycle.StatusPending, "acceptance-timeout"); err != nil {
		return err
	}

	candidates, err := LoadCandidates(gdb, nonResponder)
	if err != nil {
		return err
	}
	sel, ok := Select(req.OriginFloor, candidates)
	if !ok {
		bus.Publish(eventbus.AutoAssignTimeout{
			RequestID:   req.ID,
			OldWorkerID: nonResponder,
			Reason:      NoAvailableWorkers,
		})
		return nil
	}

	if _, err := lifecycle.Assign(gdb, bus, req.ID, sel.WorkerID, lifecycle.MethodAuto, "acceptance-timeout"); err != nil {
		return err
	}
	bus.Publish(eventbus.AutoAssignTimeout{
		RequestID:   req.ID,
		OldWorkerID: nonResponder,
		NewWorkerID: sel.WorkerID,
		Reason:      sel.Reason,
	})
	return nil
}
