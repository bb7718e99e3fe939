// Package lifecycle implements the transport request state machine. Every
// status change goes through the transition table, stamps its phase
// timestamp, appends an immutable history record, and mirrors the
// assignee's presence.
package lifecycle

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/zulandar/porterline/internal/eventbus"
	"github.com/zulandar/porterline/internal/models"
	"github.com/zulandar/porterline/internal/presence"
	"gorm.io/gorm"
)

// Sentinel errors for the taxonomy callers branch on.
var (
	// ErrInvalidTransition rejects a transition not in the allowed table.
	ErrInvalidTransition = errors.New("lifecycle: invalid transition")
	// ErrConflict means a conditional update lost a race: the request was
	// no longer in the expected source status when the write landed.
	ErrConflict = errors.New("lifecycle: request changed concurrently")
)

// Priorities accepted on request creation.
var validPriorities = map[string]bool{"routine": true, "stat": true}

// GenerateID creates a request ID in tr-xxxxx format (5-char hex).
func GenerateID() (string, error) {
	b := make([]byte, 3)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("lifecycle: generate ID: %w", err)
	}
	return "tr-" + hex.EncodeToString(b)[:5], nil
}

// CreateOpts holds parameters for creating a transport request.
type CreateOpts struct {
	OriginFloor string
	RoomNumber  string
	Priority    string // routine (default) or stat
	Actor       string
}

// Create inserts a new pending request and publishes job_created.
func Create(db *gorm.DB, bus eventbus.Bus, opts CreateOpts) (*models.TransportRequest, error) {
	if opts.OriginFloor == "" {
		return nil, fmt.Errorf("lifecycle: origin floor is required")
	}
	if opts.RoomNumber == "" {
		return nil, fmt.Errorf("lifecycle: room number is required")
	}
	if opts.Priority == "" {
		opts.Priority = "routine"
	}
	if !validPriorities[opts.Priority] {
		return nil, fmt.Errorf("lifecycle: invalid priority %q", opts.Priority)
	}

	id, err := GenerateID()
	if err != nil {
		return nil, err
	}

	req := models.TransportRequest{
		ID:          id,
		OriginFloor: opts.OriginFloor,
		RoomNumber:  opts.RoomNumber,
		Priority:    opts.Priority,
		Status:      StatusPending,
	}
	if err := db.Create(&req).Error; err != nil {
		return nil, fmt.Errorf("lifecycle: create request: %w", err)
	}

	bus.Publish(eventbus.JobCreated{
		RequestID:   req.ID,
		OriginFloor: req.OriginFloor,
		RoomNumber:  req.RoomNumber,
		Priority:    req.Priority,
		CreatedAt:   req.CreatedAt,
	})
	return &req, nil
}

// Get loads a request by ID.
func Get(db *gorm.DB, id string) (*models.TransportRequest, error) {
	var req models.TransportRequest
	if err := db.Where("id = ?", id).First(&req).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("lifecycle: request not found: %s", id)
		}
		return nil, fmt.Errorf("lifecycle: get %s: %w", id, err)
	}
	return &req, nil
}

// Transition moves a request to a new status through the transition table.
// The write is guarded on the source status, so two callers racing on the
// same snapshot cannot both win.
func Transition(db *gorm.DB, bus eventbus.Bus, id, to, actor string) (*models.TransportRequest, error) {
	req, err := Get(db, id)
	if err != nil {
		return nil, err
	}

	if !isValidTransition(req.Status, to) {
		return nil, fmt.Errorf("%w: %q to %q (valid: %v)", ErrInvalidTransition, req.Status, to, ValidTransitions[req.Status])
	}
	if to == StatusAssigned {
		// Assignment edges carry an assignee, which only Assign and Claim set.
		return nil, fmt.Errorf("%w: %q to %q requires Assign or Claim", ErrInvalidTransition, req.Status, to)
	}

	now := time.Now()
	updates := map[string]interface{}{
		"status":     to,
		"updated_at": now,
	}
	if col, ok := phaseColumn[to]; ok {
		updates[col] = now
	}

	assignee := req.AssignedTo
	if to == StatusPending {
		// Revert to queue: the assignee is released below.
		updates["assigned_to"] = ""
	}

	result := db.Model(&models.TransportRequest{}).
		Where("id = ? AND status = ?", id, req.Status).
		Updates(updates)
	if result.Error != nil {
		return nil, fmt.Errorf("lifecycle: transition %s to %s: %w", id, to, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: %s no longer %q", ErrConflict, id, req.Status)
	}

	recordTransition(db, id, req.Status, to, actor)

	if assignee != "" {
		if p, ok := PhasePresence[to]; ok {
			if err := presence.Mirror(db, assignee, p); err != nil {
				return nil, err
			}
		}
	}

	bus.Publish(eventbus.JobStatusChanged{RequestID: id, From: req.Status, To: to, Actor: actor})
	if to == StatusCancelled {
		bus.Publish(eventbus.JobCancelled{RequestID: id, Actor: actor})
	}

	req.Status = to
	if to == StatusPending {
		req.AssignedTo = ""
	}
	return req, nil
}

// Assign puts a request in a worker's hands. For a pending request this is
// the normal pending → assigned transition; for an in-progress request it
// is a forced reassignment that evicts the previous assignee back to
// available. Terminal requests are immutable.
func Assign(db *gorm.DB, bus eventbus.Bus, id, workerID, method, actor string) (*models.TransportRequest, error) {
	if workerID == "" {
		return nil, fmt.Errorf("lifecycle: workerID is required")
	}
	if method != MethodManual && method != MethodClaim && method != MethodAuto {
		return nil, fmt.Errorf("lifecycle: invalid assignment method %q", method)
	}

	req, err := Get(db, id)
	if err != nil {
		return nil, err
	}
	if IsTerminal(req.Status) {
		return nil, fmt.Errorf("%w: %q to %q", ErrInvalidTransition, req.Status, StatusAssigned)
	}
	if req.AssignedTo == workerID && req.Status != StatusPending {
		return nil, fmt.Errorf("lifecycle: %s already assigned to %s", id, workerID)
	}

	evicted := ""
	if req.AssignedTo != "" && req.AssignedTo != workerID {
		evicted = req.AssignedTo
	}

	now := time.Now()
	result := db.Model(&models.TransportRequest{}).
		Where("id = ? AND status = ?", id, req.Status).
		Updates(map[string]interface{}{
			"status":            StatusAssigned,
			"assigned_to":       workerID,
			"assignment_method": method,
			"assigned_at":       now,
			"updated_at":        now,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("lifecycle: assign %s to %s: %w", id, workerID, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: %s no longer %q", ErrConflict, id, req.Status)
	}

	recordTransition(db, id, req.Status, StatusAssigned, actor)

	if evicted != "" {
		if err := presence.Mirror(db, evicted, presence.StatusAvailable); err != nil {
			return nil, err
		}
	}
	if err := presence.Mirror(db, workerID, presence.StatusAssigned); err != nil {
		return nil, err
	}

	bus.Publish(eventbus.JobAssigned{RequestID: id, WorkerID: workerID, Method: method})

	req.Status = StatusAssigned
	req.AssignedTo = workerID
	req.AssignmentMethod = method
	req.AssignedAt = &now
	return req, nil
}

// Claim lets a worker take a pending request themselves. The guard on
// status and empty assignee makes concurrent claims first-write-wins.
func Claim(db *gorm.DB, bus eventbus.Bus, id, workerID string) (*models.TransportRequest, error) {
	if workerID == "" {
		return nil, fmt.Errorf("lifecycle: workerID is required")
	}

	now := time.Now()
	result := db.Model(&models.TransportRequest{}).
		Where("id = ? AND status = ? AND (assigned_to = ? OR assigned_to IS NULL)", id, StatusPending, "").
		Updates(map[string]interface{}{
			"status":            StatusAssigned,
			"assigned_to":       workerID,
			"assignment_method": MethodClaim,
			"assigned_at":       now,
			"updated_at":        now,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("lifecycle: claim %s by %s: %w", id, workerID, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: %s is not claimable", ErrConflict, id)
	}

	recordTransition(db, id, StatusPending, StatusAssigned, workerID)
	if err := presence.Mirror(db, workerID, presence.StatusAssigned); err != nil {
		return nil, err
	}
	bus.Publish(eventbus.JobAssigned{RequestID: id, WorkerID: workerID, Method: MethodClaim})

	return Get(db, id)
}

// Cancel moves a request to cancelled from any non-terminal state.
func Cancel(db *gorm.DB, bus eventbus.Bus, id, actor string) (*models.TransportRequest, error) {
	return Transition(db, bus, id, StatusCancelled, actor)
}

// Transfer hands a request off to the patient care team. The request
// auto-closes later via the pct_autoclose task.
func Transfer(db *gorm.DB, bus eventbus.Bus, id, actor string) (*models.TransportRequest, error) {
	return Transition(db, bus, id, StatusTransferred, actor)
}

// SweepPctAutoclose completes transferred_to_pct requests older than delay.
// The patient care team keeps the handoff open this long for corrections;
// after that the request closes itself. Per-request failures are logged and
// skipped.
func SweepPctAutoclose(db *gorm.DB, bus eventbus.Bus, delay time.Duration) error {
	cutoff := time.Now().Add(-delay)
	var stale []models.TransportRequest
	err := db.Where("status = ? AND pct_transferred_at < ?", StatusTransferred, cutoff).
		Find(&stale).Error
	if err != nil {
		return fmt.Errorf("lifecycle: find stale transfers: %w", err)
	}

	for _, req := range stale {
		if _, err := Transition(db, bus, req.ID, StatusComplete, "pct-autoclose"); err != nil {
			log.Printf("lifecycle: autoclose %s: %v", req.ID, err)
		}
	}
	return nil
}

// History returns the immutable transition records for a request, oldest
// first.
func History(db *gorm.DB, id string) ([]models.RequestTransition, error) {
	var rows []models.RequestTransition
	if err := db.Where("request_id = ?", id).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("lifecycle: history %s: %w", id, err)
	}
	return rows, nil
}

// recordTransition appends a history row. Best-effort: history must never
// block the state change that already happened.
func recordTransition(db *gorm.DB, id, from, to, actor string) {
	db.Create(&models.RequestTransition{
		RequestID:  id,
		FromStatus: from,
		ToStatus:   to,
		Actor:      actor,
		CreatedAt:  time.Now(),
	})
}
