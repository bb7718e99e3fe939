package assign

import (
	"testing"
	"time"

	"github.com/zulandar/porterline/internal/alerts"
	"github.com/zulandar/porterline/internal/db"
	"github.com/zulandar/porterline/internal/eventbus"
	"github.com/zulandar/porterline/internal/lifecycle"
	"github.com/zulandar/porterline/internal/models"
	"github.com/zulandar/porterline/internal/presence"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gdb
}

func addWorker(t *testing.T, gdb *gorm.DB, id, floor, status string) {
	t.Helper()
	if err := gdb.Create(&models.Worker{ID: id, Name: id, PrimaryFloor: floor, Active: true}).Error; err != nil {
		t.Fatalf("create worker %s: %v", id, err)
	}
	if err := presence.Mirror(gdb, id, status); err != nil {
		t.Fatalf("presence for %s: %v", id, err)
	}
}

func pendingRequest(t *testing.T, gdb *gorm.DB, floor string) *models.TransportRequest {
	t.Helper()
	req, err := lifecycle.Create(gdb, eventbus.Nop{}, lifecycle.CreateOpts{OriginFloor: floor, RoomNumber: "100"})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	return req
}

func TestLoadCandidates_FiltersAvailability(t *testing.T) {
	gdb := testDB(t)
	addWorker(t, gdb, "w1", "3", presence.StatusAvailable)
	addWorker(t, gdb, "w2", "3", presence.StatusOnBreak)
	addWorker(t, gdb, "w3", "2", presence.StatusAvailable)

	// Deactivated worker is excluded even when available.
	if err := gdb.Create(&models.Worker{ID: "w4", PrimaryFloor: "3", Active: false}).Error; err != nil {
		t.Fatal(err)
	}
	if err := presence.Mirror(gdb, "w4", presence.StatusAvailable); err != nil {
		t.Fatal(err)
	}

	candidates, err := LoadCandidates(gdb)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	ids := map[string]bool{}
	for _, c := range candidates {
		ids[c.WorkerID] = true
	}
	if !ids["w1"] || !ids["w3"] || len(candidates) != 2 {
		t.Errorf("candidates = %v, want exactly w1 and w3", ids)
	}

	candidates, err = LoadCandidates(gdb, "w1")
	if err != nil {
		t.Fatalf("load with exclude: %v", err)
	}
	if len(candidates) != 1 || candidates[0].WorkerID != "w3" {
		t.Errorf("excluded load = %v, want only w3", candidates)
	}
}

func TestLoadCandidates_CompletionAggregates(t *testing.T) {
	gdb := testDB(t)
	addWorker(t, gdb, "w1", "3", presence.StatusAvailable)

	today := time.Now().Add(-2 * time.Hour)
	yesterday := time.Now().AddDate(0, 0, -1)
	for i, done := range []time.Time{today, yesterday} {
		req := models.TransportRequest{
			ID: "tr-seed" + string(rune('a'+i)), OriginFloor: "3", RoomNumber: "1",
			Status: lifecycle.StatusComplete, AssignedTo: "w1", CompletedAt: &done,
		}
		if err := gdb.Create(&req).Error; err != nil {
			t.Fatal(err)
		}
	}

	candidates, err := LoadCandidates(gdb)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("got %d candidates", len(candidates))
	}
	c := candidates[0]
	if c.CompletedToday != 1 {
		t.Errorf("completed today = %d, want 1 (yesterday's run must not count)", c.CompletedToday)
	}
	if c.LastCompleted == nil || !withinSecond(*c.LastCompleted, today) {
		t.Errorf("last completed = %v, want %v", c.LastCompleted, today)
	}
}

func withinSecond(a, b time.Time) bool {
	d := a.Sub(b)
	return d > -time.Second && d < time.Second
}

func TestAutoAssign_PicksAndAssigns(t *testing.T) {
	gdb := testDB(t)
	var bus eventbus.Recorder
	addWorker(t, gdb, "w1", "3", presence.StatusAvailable)
	req := pendingRequest(t, gdb, "3")

	result, err := AutoAssign(gdb, &bus, req.ID)
	if err != nil {
		t.Fatalf("auto-assign: %v", err)
	}
	if !result.Assigned || result.WorkerID != "w1" {
		t.Fatalf("result = %+v, want w1 assigned", result)
	}

	got, _ := lifecycle.Get(gdb, req.ID)
	if got.Status != lifecycle.StatusAssigned || got.AssignmentMethod != lifecycle.MethodAuto {
		t.Errorf("request = %s/%s, want assigned/auto", got.Status, got.AssignmentMethod)
	}

	var sawAssigned bool
	for _, e := range bus.Events() {
		if _, ok := e.(eventbus.JobAssigned); ok {
			sawAssigned = true
		}
	}
	if !sawAssigned {
		t.Error("expected a JobAssigned event")
	}
}

func TestAutoAssign_NoWorkers(t *testing.T) {
	gdb := testDB(t)
	req := pendingRequest(t, gdb, "3")

	result, err := AutoAssign(gdb, eventbus.Nop{}, req.ID)
	if err != nil {
		t.Fatalf("auto-assign: %v", err)
	}
	if result.Assigned {
		t.Error("should not assign with no workers")
	}
	if result.Reason != NoAvailableWorkers {
		t.Errorf("reason = %q, want %q", result.Reason, NoAvailableWorkers)
	}

	got, _ := lifecycle.Get(gdb, req.ID)
	if got.Status != lifecycle.StatusPending {
		t.Errorf("request status = %q, want pending", got.Status)
	}
}

func TestAutoAssign_RejectsNonPending(t *testing.T) {
	gdb := testDB(t)
	addWorker(t, gdb, "w1", "3", presence.StatusAvailable)
	req := pendingRequest(t, gdb, "3")
	if _, err := AutoAssign(gdb, eventbus.Nop{}, req.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := AutoAssign(gdb, eventbus.Nop{}, req.ID); err == nil {
		t.Error("expected error auto-assigning an already-assigned request")
	}
}

func backdateAssignment(t *testing.T, gdb *gorm.DB, id string, age time.Duration) {
	t.Helper()
	past := time.Now().Add(-age)
	if err := gdb.Model(&models.TransportRequest{}).Where("id = ?", id).
		Update("assigned_at", past).Error; err != nil {
		t.Fatal(err)
	}
}

func TestSweep_ReassignsToNextWorker(t *testing.T) {
	gdb := testDB(t)
	var bus eventbus.Recorder
	addWorker(t, gdb, "w1", "3", presence.StatusAvailable)
	addWorker(t, gdb, "w2", "3", presence.StatusAvailable)
	req := pendingRequest(t, gdb, "3")

	if _, err := AutoAssign(gdb, &bus, req.ID); err != nil {
		t.Fatal(err)
	}
	assigned, _ := lifecycle.Get(gdb, req.ID)
	first := assigned.AssignedTo
	backdateAssignment(t, gdb, req.ID, 3*time.Minute)

	if err := SweepAcceptanceTimeouts(gdb, &bus, 2*time.Minute, alerts.NewDismissals()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	got, _ := lifecycle.Get(gdb, req.ID)
	if got.Status != lifecycle.StatusAssigned {
		t.Fatalf("status = %q, want assigned", got.Status)
	}
	if got.AssignedTo == first || got.AssignedTo == "" {
		t.Errorf("assignee = %q, want the other worker (first was %q)", got.AssignedTo, first)
	}
	if got.AssignmentMethod != lifecycle.MethodAuto {
		t.Errorf("method = %q, want auto", got.AssignmentMethod)
	}

	// Non-responder freed.
	var p models.WorkerPresence
	if err := gdb.Where("worker_id = ?", first).First(&p).Error; err != nil {
		t.Fatal(err)
	}
	if p.Status != presence.StatusAvailable {
		t.Errorf("non-responder presence = %q, want available", p.Status)
	}

	var timeout *eventbus.AutoAssignTimeout
	for _, e := range bus.Events() {
		if at, ok := e.(eventbus.AutoAssignTimeout); ok {
			timeout = &at
		}
	}
	if timeout == nil {
		t.Fatal("expected an AutoAssignTimeout event")
	}
	if timeout.OldWorkerID != first || timeout.NewWorkerID != got.AssignedTo {
		t.Errorf("timeout event = %+v", timeout)
	}
}

func TestSweep_NoCandidateLeavesPending(t *testing.T) {
	gdb := testDB(t)
	var bus eventbus.Recorder
	addWorker(t, gdb, "w1", "3", presence.StatusAvailable)
	req := pendingRequest(t, gdb, "3")
	if _, err := AutoAssign(gdb, &bus, req.ID); err != nil {
		t.Fatal(err)
	}
	backdateAssignment(t, gdb, req.ID, 5*time.Minute)

	if err := SweepAcceptanceTimeouts(gdb, &bus, 2*time.Minute, alerts.NewDismissals()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	got, _ := lifecycle.Get(gdb, req.ID)
	if got.Status != lifecycle.StatusPending || got.AssignedTo != "" {
		t.Errorf("request = %s/%q, want pending with no assignee", got.Status, got.AssignedTo)
	}

	var timeout *eventbus.AutoAssignTimeout
	for _, e := range bus.Events() {
		if at, ok := e.(eventbus.AutoAssignTimeout); ok {
			timeout = &at
		}
	}
	if timeout == nil {
		t.Fatal("expected an AutoAssignTimeout event")
	}
	if timeout.NewWorkerID != "" || timeout.Reason != NoAvailableWorkers {
		t.Errorf("timeout event = %+v, want no-candidate", timeout)
	}
}

func TestSweep_IgnoresFreshAndManualAssignments(t *testing.T) {
	gdb := testDB(t)
	addWorker(t, gdb, "w1", "3", presence.StatusAvailable)
	addWorker(t, gdb, "w2", "3", presence.StatusAvailable)

	fresh := pendingRequest(t, gdb, "3")
	if _, err := AutoAssign(gdb, eventbus.Nop{}, fresh.ID); err != nil {
		t.Fatal(err)
	}

	manual := pendingRequest(t, gdb, "3")
	if _, err := lifecycle.Assign(gdb, eventbus.Nop{}, manual.ID, "w2", lifecycle.MethodManual, "disp-1"); err != nil {
		t.Fatal(err)
	}
	backdateAssignment(t, gdb, manual.ID, time.Hour)

	if err := SweepAcceptanceTimeouts(gdb, eventbus.Nop{}, 2*time.Minute, alerts.NewDismissals()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	for _, id := range []string{fresh.ID, manual.ID} {
		got, _ := lifecycle.Get(gdb, id)
		if got.Status != lifecycle.StatusAssigned {
			t.Errorf("request %s = %q, want still assigned", id, got.Status)
		}
	}
}

func TestSweep_TimeoutToggleSilencesAlertOnly(t *testing.T) {
	gdb := testDB(t)
	var bus eventbus.Recorder
	addWorker(t, gdb, "w1", "3", presence.StatusAvailable)
	addWorker(t, gdb, "w2", "3", presence.StatusAvailable)
	req := pendingRequest(t, gdb, "3")
	if _, err := AutoAssign(gdb, &bus, req.ID); err != nil {
		t.Fatal(err)
	}
	backdateAssignment(t, gdb, req.ID, 3*time.Minute)

	if err := db.SetSetting(gdb, "alert_timeout_enabled", "false"); err != nil {
		t.Fatal(err)
	}
	if err := SweepAcceptanceTimeouts(gdb, &bus, 2*time.Minute, alerts.NewDismissals()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	for _, e := range bus.Events() {
		if _, ok := e.(eventbus.TimeoutAlert); ok {
			t.Error("disabled timeout alert was published anyway")
		}
	}
	// The reassignment itself is not gated.
	got, _ := lifecycle.Get(gdb, req.ID)
	if got.Status != lifecycle.StatusAssigned || got.AssignedTo == "" {
		t.Errorf("request = %s/%q, want reassigned", got.Status, got.AssignedTo)
	}
}

func TestSweep_DismissalSilencesTimeoutAlert(t *testing.T) {
	gdb := testDB(t)
	var bus eventbus.Recorder
	dismissed := alerts.NewDismissals()
	addWorker(t, gdb, "w1", "3", presence.StatusAvailable)
	addWorker(t, gdb, "w2", "3", presence.StatusAvailable)
	req := pendingRequest(t, gdb, "3")
	if _, err := AutoAssign(gdb, &bus, req.ID); err != nil {
		t.Fatal(err)
	}
	backdateAssignment(t, gdb, req.ID, 3*time.Minute)

	dismissed.Dismiss(alerts.KindTimeout, req.ID)
	if err := SweepAcceptanceTimeouts(gdb, &bus, 2*time.Minute, dismissed); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	for _, e := range bus.Events() {
		if _, ok := e.(eventbus.TimeoutAlert); ok {
			t.Error("dismissed timeout alert was published anyway")
		}
	}

	// Acceptance ends the timeout churn and drops the dismissal.
	got, _ := lifecycle.Get(gdb, req.ID)
	if _, err := lifecycle.Transition(gdb, eventbus.Nop{}, got.ID, lifecycle.StatusAccepted, got.AssignedTo); err != nil {
		t.Fatal(err)
	}
	if err := SweepAcceptanceTimeouts(gdb, &bus, 2*time.Minute, dismissed); err != nil {
		t.Fatal(err)
	}
	if dismissed.Dismissed(alerts.KindTimeout, req.ID) {
		t.Error("dismissal survived acceptance")
	}
}
